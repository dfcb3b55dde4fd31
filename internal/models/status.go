package models

// StatusResponse is returned by the status endpoint and the status command.
type StatusResponse struct {
	Models         int           `json:"models"`
	LoadedModels   int           `json:"loaded_models"`
	Readings       *int64        `json:"readings,omitempty"`
	DiskUsageBytes *int64        `json:"disk_usage_bytes,omitempty"`
	Config         *StatusConfig `json:"config,omitempty"`
}

// StatusConfig is the subset of configuration reported by status.
type StatusConfig struct {
	ModelsDirectory string `json:"models_directory"`
	WatchModels     bool   `json:"watch_models"`
	LegacyWindowing bool   `json:"legacy_windowing"`
	EvalTimeout     string `json:"eval_timeout"`
	MaxParallel     int    `json:"max_parallel"`
	HistoryEnabled  bool   `json:"history_enabled"`
	HistoryDriver   string `json:"history_driver,omitempty"`
}
