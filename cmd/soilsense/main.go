// Package main is the soilsense CLI entry point.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
	"unicode"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	output "github.com/hyperjump/soilsense/internal/cli"
	"github.com/hyperjump/soilsense/internal/config"
	"github.com/hyperjump/soilsense/internal/ingest"
	"github.com/hyperjump/soilsense/internal/models"
	"github.com/hyperjump/soilsense/internal/registry"
	"github.com/hyperjump/soilsense/internal/server"
	"github.com/hyperjump/soilsense/internal/storage"
	"github.com/hyperjump/soilsense/internal/watcher"
	"github.com/hyperjump/soilsense/pkg/utils"
)

var version = "dev"

// loadConfig loads config from path. When path is the default, it first looks for
// config.yaml in the current directory (for development); if that exists it is used.
// A missing default file yields the built-in defaults.
// Returns the config and the path that was actually loaded ("" for defaults).
func loadConfig(path string) (*config.Config, string, error) {
	if path == config.DefaultPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
		if _, statErr := os.Stat(path); errors.Is(statErr, os.ErrNotExist) {
			cfg := &config.Config{}
			config.ApplyDefaults(cfg)
			return cfg, "", nil
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// runtimeEnv is what every command starts from.
type runtimeEnv struct {
	cfg        *config.Config
	configPath string
	logger     *zap.Logger
	debug      bool
}

func setup(c *cli.Context) (*runtimeEnv, error) {
	cfg, resolved, err := loadConfig(c.String("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	debugMode := cfg.Debug || c.Bool("debug")
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	logger.Debug("config loaded", zap.String("config_path", resolved), zap.Bool("debug", debugMode))
	return &runtimeEnv{cfg: cfg, configPath: resolved, logger: logger, debug: debugMode}, nil
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	serverFlag := &cli.StringFlag{
		Name:    "server",
		Usage:   "soilsense server URL (empty = run locally)",
		EnvVars: []string{"SOILSENSE_SERVER"},
	}
	outputFlag := &cli.StringFlag{
		Name:    "output",
		Aliases: []string{"o"},
		Value:   "text",
		Usage:   "output format: text, compact or json",
	}
	return &cli.App{
		Name:    "soilsense",
		Usage:   "Estimate soil nutrients from NIR reflectance readings",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   config.DefaultPath,
				Usage:   "config file path",
				EnvVars: []string{"SOILSENSE_CONFIG"},
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "enable debug logging",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP API",
				Action: runServe,
			},
			{
				Name:      "predict",
				Usage:     "Estimate nutrients for readings in files or from --values",
				ArgsUsage: "[file ...]",
				Flags: []cli.Flag{
					serverFlag,
					outputFlag,
					&cli.StringFlag{
						Name:  "values",
						Usage: "one reading as comma or space separated reflectance values",
					},
					&cli.StringFlag{
						Name:  "source",
						Usage: "label stored with readings that have none",
					},
				},
				Action: runPredict,
			},
			{
				Name:  "models",
				Usage: "List model artifacts",
				Flags: []cli.Flag{
					serverFlag,
					outputFlag,
					&cli.BoolFlag{
						Name:  "load",
						Usage: "load every model to check it (local only)",
					},
					&cli.BoolFlag{
						Name:  "reload",
						Usage: "rescan the model directory on the server first",
					},
				},
				Action: runModels,
			},
			{
				Name:  "history",
				Usage: "Browse stored readings",
				Subcommands: []*cli.Command{
					{
						Name:  "list",
						Usage: "List readings, newest first",
						Flags: []cli.Flag{
							serverFlag,
							outputFlag,
							&cli.IntFlag{Name: "offset", Usage: "readings to skip"},
							&cli.IntFlag{Name: "limit", Value: 20, Usage: "maximum readings (max 100)"},
						},
						Action: runHistoryList,
					},
					{
						Name:      "show",
						Usage:     "Show one reading",
						ArgsUsage: "<id>",
						Flags:     []cli.Flag{serverFlag, outputFlag},
						Action:    runHistoryShow,
					},
					{
						Name:      "delete",
						Usage:     "Delete one reading",
						ArgsUsage: "<id>",
						Flags:     []cli.Flag{serverFlag},
						Action:    runHistoryDelete,
					},
				},
			},
			{
				Name:   "status",
				Usage:  "Show model and history status",
				Flags:  []cli.Flag{serverFlag, outputFlag},
				Action: runStatus,
			},
			{
				Name:  "init",
				Usage: "Write a default config file to the --config path",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "force", Usage: "overwrite an existing file"},
				},
				Action: runInit,
			},
			{
				Name:  "version",
				Usage: "Print the version",
				Action: func(c *cli.Context) error {
					fmt.Fprintf(c.App.Writer, "soilsense version %s\n", version)
					return nil
				},
			},
		},
	}
}

func runServe(c *cli.Context) error {
	env, err := setup(c)
	if err != nil {
		return err
	}
	logger := env.logger
	defer logger.Sync()
	cfg := env.cfg
	logger.Info("config loaded", zap.String("config_path", env.configPath), zap.Bool("debug", env.debug))

	components, err := initializeComponents(c.Context, cfg, logger)
	if err != nil {
		return err
	}
	defer components.Close()

	watchCtx, watchCancel := context.WithCancel(context.Background())
	defer watchCancel()
	if cfg.Models.Watch {
		reg := components.Registry
		watchOpts := []watcher.Option{}
		if env.debug {
			watchOpts = append(watchOpts, watcher.WithLogger(logger))
		}
		watchSvc := watcher.NewWatcher(reg.Dir(), cfg.Models.Extensions, func() {
			summary, err := reg.Reload(watchCtx)
			if err != nil {
				logger.Warn("model reload failed", zap.Error(err))
				return
			}
			if !summary.Empty() {
				logger.Info("models reloaded",
					zap.Strings("added", summary.Added),
					zap.Strings("removed", summary.Removed),
					zap.Strings("changed", summary.Changed))
			}
		}, watchOpts...)
		if err := watchSvc.Start(watchCtx); err != nil {
			return fmt.Errorf("failed to start watcher: %w", err)
		}
	}

	srv := server.NewServer(components.Engine, components.Registry, components.History, cfg, logger)
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigChan:
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	}

	logger.Info("Shutting down...")
	watchCancel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Stop(ctx)
}

// parseValues splits a reading given on the command line.
func parseValues(s string) ([]float64, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ';' || unicode.IsSpace(r)
	})
	if len(fields) == 0 {
		return nil, fmt.Errorf("no values given")
	}
	values := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, fmt.Errorf("value %d: %q is not a number", i+1, f)
		}
		values[i] = v
	}
	return values, nil
}

// collectSamples reads --values or every file argument. Labels from several files
// are prefixed with the file name.
func collectSamples(c *cli.Context) ([]ingest.Sample, error) {
	if v := c.String("values"); v != "" {
		values, err := parseValues(v)
		if err != nil {
			return nil, err
		}
		label := c.String("source")
		if label == "" {
			label = "values"
		}
		return []ingest.Sample{{Label: label, Row: 1, Reflectance: values}}, nil
	}
	if c.NArg() == 0 {
		return nil, fmt.Errorf("provide a reading file or --values")
	}
	reader := ingest.NewReader()
	var samples []ingest.Sample
	for _, path := range c.Args().Slice() {
		got, err := reader.Read(path)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		if c.NArg() > 1 {
			base := filepath.Base(path)
			for i := range got {
				got[i].Label = base + ":" + got[i].Name()
			}
		}
		samples = append(samples, got...)
	}
	return samples, nil
}

func runPredict(c *cli.Context) error {
	format, err := output.ParseOutputFormat(c.String("output"))
	if err != nil {
		return err
	}
	env, err := setup(c)
	if err != nil {
		return err
	}
	defer env.logger.Sync()
	samples, err := collectSamples(c)
	if err != nil {
		return err
	}
	ctx := c.Context
	source := c.String("source")

	preds := make([]output.Prediction, 0, len(samples))
	if serverURL := c.String("server"); serverURL != "" {
		client := newAPIClient(serverURL)
		for _, s := range samples {
			req := models.InferenceRequest{Reflectance: s.Reflectance, Source: sampleSource(s, source)}
			p := output.Prediction{Sample: s.Name()}
			var resp models.InferenceResponse
			if err := client.do(ctx, http.MethodPost, "/api/v1/inference", req, &resp); err != nil {
				p.Error = err.Error()
			} else {
				p.ReadingID = resp.ReadingID
				p.PredictionBatch = resp.PredictionBatch
			}
			preds = append(preds, p)
		}
	} else {
		components, err := initializeComponents(ctx, env.cfg, env.logger)
		if err != nil {
			return err
		}
		defer components.Close()
		for _, s := range samples {
			p := output.Prediction{Sample: s.Name()}
			batch, err := components.Engine.Predict(ctx, components.Registry, s.Reflectance)
			if err != nil {
				p.Error = err.Error()
				preds = append(preds, p)
				continue
			}
			p.PredictionBatch = batch
			if components.History != nil {
				req := &models.InferenceRequest{Reflectance: s.Reflectance, Source: sampleSource(s, source)}
				reading := models.NewReading("", req, batch)
				if err := components.History.SaveReading(ctx, reading); err != nil {
					env.logger.Warn("save reading failed", zap.String("sample", s.Name()), zap.Error(err))
				} else {
					p.ReadingID = reading.ID
				}
			}
			preds = append(preds, p)
		}
	}

	if err := output.WritePredictions(c.App.Writer, preds, format, env.cfg.Output.DecimalPlacesOrDefault()); err != nil {
		return err
	}
	failed := 0
	for _, p := range preds {
		if p.Error != "" {
			failed++
		}
	}
	if failed > 0 {
		return cli.Exit(fmt.Sprintf("%d of %d reading(s) failed", failed, len(preds)), 1)
	}
	return nil
}

func sampleSource(s ingest.Sample, fallback string) string {
	if s.Label != "" {
		return s.Label
	}
	return fallback
}

func runModels(c *cli.Context) error {
	format, err := output.ParseOutputFormat(c.String("output"))
	if err != nil {
		return err
	}
	env, err := setup(c)
	if err != nil {
		return err
	}
	defer env.logger.Sync()
	ctx := c.Context

	if serverURL := c.String("server"); serverURL != "" {
		client := newAPIClient(serverURL)
		if c.Bool("reload") {
			var summary registry.ReloadSummary
			if err := client.do(ctx, http.MethodPost, "/api/v1/models/reload", nil, &summary); err != nil {
				return err
			}
			env.logger.Info("models reloaded",
				zap.Strings("added", summary.Added),
				zap.Strings("removed", summary.Removed),
				zap.Strings("changed", summary.Changed))
		}
		var resp struct {
			Models []registry.ModelInfo `json:"models"`
		}
		if err := client.do(ctx, http.MethodGet, "/api/v1/models", nil, &resp); err != nil {
			return err
		}
		return output.WriteModels(c.App.Writer, resp.Models, format)
	}
	if c.Bool("reload") {
		return fmt.Errorf("--reload needs --server")
	}

	reg, err := registry.Load(ctx, env.cfg.Models.Directory, registryOptions(env.cfg, env.logger)...)
	if err != nil {
		return err
	}
	defer reg.Close()
	var loadErrs []*registry.LoadError
	if c.Bool("load") {
		if _, loadErrs, err = reg.AllModels(ctx); err != nil {
			return err
		}
	}
	if err := output.WriteModels(c.App.Writer, reg.Info(), format); err != nil {
		return err
	}
	if len(loadErrs) > 0 {
		return cli.Exit(fmt.Sprintf("%d model(s) failed to load", len(loadErrs)), 1)
	}
	return nil
}

// withHistory runs fn against the local history database.
func withHistory(c *cli.Context, fn func(env *runtimeEnv, store storage.Storage) error) error {
	env, err := setup(c)
	if err != nil {
		return err
	}
	defer env.logger.Sync()
	store, err := openHistory(env.cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(env, store)
}

func runHistoryList(c *cli.Context) error {
	format, err := output.ParseOutputFormat(c.String("output"))
	if err != nil {
		return err
	}
	q := models.HistoryQuery{Offset: c.Int("offset"), Limit: c.Int("limit")}
	q.Normalize()

	if serverURL := c.String("server"); serverURL != "" {
		env, err := setup(c)
		if err != nil {
			return err
		}
		var resp struct {
			Readings []*models.Reading `json:"readings"`
			Total    int64             `json:"total"`
		}
		path := fmt.Sprintf("/api/v1/readings?offset=%d&limit=%d", q.Offset, q.Limit)
		if err := newAPIClient(serverURL).do(c.Context, http.MethodGet, path, nil, &resp); err != nil {
			return err
		}
		return output.WriteReadings(c.App.Writer, resp.Readings, format, env.cfg.Output.DecimalPlacesOrDefault())
	}
	return withHistory(c, func(env *runtimeEnv, store storage.Storage) error {
		readings, err := store.ListReadings(c.Context, q)
		if err != nil {
			return err
		}
		return output.WriteReadings(c.App.Writer, readings, format, env.cfg.Output.DecimalPlacesOrDefault())
	})
}

func runHistoryShow(c *cli.Context) error {
	format, err := output.ParseOutputFormat(c.String("output"))
	if err != nil {
		return err
	}
	id := c.Args().First()
	if id == "" {
		return fmt.Errorf("usage: soilsense history show <id>")
	}
	if serverURL := c.String("server"); serverURL != "" {
		env, err := setup(c)
		if err != nil {
			return err
		}
		var reading models.Reading
		if err := newAPIClient(serverURL).do(c.Context, http.MethodGet, "/api/v1/readings/"+id, nil, &reading); err != nil {
			return err
		}
		return output.WriteReadings(c.App.Writer, []*models.Reading{&reading}, format, env.cfg.Output.DecimalPlacesOrDefault())
	}
	return withHistory(c, func(env *runtimeEnv, store storage.Storage) error {
		reading, err := store.GetReading(c.Context, id)
		if err != nil {
			return err
		}
		return output.WriteReadings(c.App.Writer, []*models.Reading{reading}, format, env.cfg.Output.DecimalPlacesOrDefault())
	})
}

func runHistoryDelete(c *cli.Context) error {
	id := c.Args().First()
	if id == "" {
		return fmt.Errorf("usage: soilsense history delete <id>")
	}
	if serverURL := c.String("server"); serverURL != "" {
		if err := newAPIClient(serverURL).do(c.Context, http.MethodDelete, "/api/v1/readings/"+id, nil, nil); err != nil {
			return err
		}
		fmt.Fprintf(c.App.Writer, "Deleted reading %s\n", id)
		return nil
	}
	return withHistory(c, func(_ *runtimeEnv, store storage.Storage) error {
		if err := store.DeleteReading(c.Context, id); err != nil {
			return err
		}
		fmt.Fprintf(c.App.Writer, "Deleted reading %s\n", id)
		return nil
	})
}

func runStatus(c *cli.Context) error {
	format, err := output.ParseOutputFormat(c.String("output"))
	if err != nil {
		return err
	}
	if serverURL := c.String("server"); serverURL != "" {
		var status models.StatusResponse
		if err := newAPIClient(serverURL).do(c.Context, http.MethodGet, "/api/v1/status", nil, &status); err != nil {
			return err
		}
		return output.WriteStatus(c.App.Writer, &status, format)
	}
	env, err := setup(c)
	if err != nil {
		return err
	}
	defer env.logger.Sync()
	components, err := initializeComponents(c.Context, env.cfg, env.logger)
	if err != nil {
		return err
	}
	defer components.Close()
	status, err := server.BuildStatus(c.Context, components.Registry, components.History, env.cfg)
	if err != nil {
		return err
	}
	return output.WriteStatus(c.App.Writer, status, format)
}

func runInit(c *cli.Context) error {
	path := c.String("config")
	if _, err := os.Stat(path); err == nil && !c.Bool("force") {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	if err := config.Save(path, cfg); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "Wrote default config to %s\n", path)
	return nil
}
