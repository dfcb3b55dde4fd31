package config

import "time"

// Supported history drivers.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// DefaultPath is where the CLI looks for its config file.
const DefaultPath = "/usr/local/etc/soilsense/config.yaml"

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Models.Directory == "" {
		cfg.Models.Directory = "/usr/local/var/soilsense/models"
	}
	if cfg.Models.Extensions == nil {
		cfg.Models.Extensions = []string{".onnx", ".json"}
	}
	if cfg.Models.LoadTimeout == 0 {
		cfg.Models.LoadTimeout = 30 * time.Second
	}
	if cfg.Models.ONNX.InputName == "" {
		cfg.Models.ONNX.InputName = "features"
	}
	if cfg.Models.ONNX.OutputName == "" {
		cfg.Models.ONNX.OutputName = "score"
	}
	if cfg.Inference.EvalTimeout == 0 {
		cfg.Inference.EvalTimeout = 10 * time.Second
	}
	if cfg.History.Driver == "" {
		cfg.History.Driver = DriverSQLite
	}
	if cfg.History.DSN == "" && cfg.History.Driver == DriverSQLite {
		cfg.History.DSN = "/usr/local/var/soilsense/data/db/readings.db"
	}
	if cfg.Output.DecimalPlaces == nil {
		d := 4
		cfg.Output.DecimalPlaces = &d
	}
}
