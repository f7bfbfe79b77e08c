// Package ops loads the service configuration.
package ops

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"main/internal/queue"
	"main/internal/router"
	"main/internal/store"
	"main/internal/worker"
)

const (
	defaultHTTPAddr   = ":8080"
	defaultBuildDelay = 500 * time.Millisecond
)

// FileConfig mirrors the JSON config layout.
type FileConfig struct {
	Server   ServerConfig   `json:"server"`
	Queue    QueueConfig    `json:"queue"`
	Router   RouterConfig   `json:"router"`
	Store    StoreConfig    `json:"store"`
	Profiler ProfilerConfig `json:"profiler"`
}

// ServerConfig describes the HTTP listener.
type ServerConfig struct {
	HTTPAddr string `json:"httpAddr"`
}

// QueueConfig describes dispatch limits.
type QueueConfig struct {
	Workers       int `json:"workers"`
	RatePerMinute int `json:"ratePerMinute"`
	MaxAttempts   int `json:"maxAttempts"`
	BackoffBaseMs int `json:"backoffBaseMs"`
	StepTimeoutMs int `json:"stepTimeoutMs"`
	BuildDelayMs  int `json:"buildDelayMs"`
	// Terminal job record retention; zero disables that bound.
	RetainJobs      int `json:"retainJobs"`
	RetainJobsAgeMs int `json:"retainJobsAgeMs"`
}

// RouterConfig describes the simulated liquidity sources.
type RouterConfig struct {
	Sources          []string    `json:"sources"`
	QuoteLatencyMs   WindowMs    `json:"quoteLatencyMs"`
	ExecuteLatencyMs WindowMs    `json:"executeLatencyMs"`
	VariancePct      WindowFloat `json:"variancePct"`
}

// WindowMs is a [min,max] duration window in milliseconds.
type WindowMs struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

// WindowFloat is a [min,max] float window.
type WindowFloat struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// StoreConfig selects and configures the order store.
type StoreConfig struct {
	// Driver is "memory" or "postgres". Empty defaults to memory.
	Driver   string         `json:"driver"`
	Postgres PostgresConfig `json:"postgres"`
}

// PostgresConfig describes the postgres connection.
type PostgresConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"sslMode"`
}

// ProfilerConfig captures optional pyroscope settings.
type ProfilerConfig struct {
	Enabled       bool   `json:"enabled"`
	ServerAddress string `json:"serverAddress"`
}

// Loaded is the resolved configuration ready for wiring.
type Loaded struct {
	HTTPAddr      string
	Queue         queue.Config
	Worker        worker.Config
	RetainJobs    int
	RetainJobsAge time.Duration
	Sources       []string
	Sim           router.SimConfig
	Store         StoreConfig
	Profiler      ProfilerConfig
}

var defaultSources = []string{"raydium", "orca", "meteora"}

// Load reads a JSON config file and resolves defaults. An empty path
// yields the all-defaults configuration.
func Load(path string) (Loaded, error) {
	var cfg FileConfig
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Loaded{}, err
		}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return Loaded{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	return resolve(cfg)
}

func resolve(cfg FileConfig) (Loaded, error) {
	loaded := Loaded{
		HTTPAddr: cfg.Server.HTTPAddr,
		Queue: queue.Config{
			Workers:       cfg.Queue.Workers,
			RatePerMinute: cfg.Queue.RatePerMinute,
			MaxAttempts:   cfg.Queue.MaxAttempts,
			BackoffBase:   time.Duration(cfg.Queue.BackoffBaseMs) * time.Millisecond,
		},
		Worker: worker.Config{
			BuildDelay:  time.Duration(cfg.Queue.BuildDelayMs) * time.Millisecond,
			StepTimeout: time.Duration(cfg.Queue.StepTimeoutMs) * time.Millisecond,
		},
		RetainJobs:    cfg.Queue.RetainJobs,
		RetainJobsAge: time.Duration(cfg.Queue.RetainJobsAgeMs) * time.Millisecond,
		Sources:       cfg.Router.Sources,
		Sim: router.SimConfig{
			QuoteLatencyMin:   time.Duration(cfg.Router.QuoteLatencyMs.Min) * time.Millisecond,
			QuoteLatencyMax:   time.Duration(cfg.Router.QuoteLatencyMs.Max) * time.Millisecond,
			ExecuteLatencyMin: time.Duration(cfg.Router.ExecuteLatencyMs.Min) * time.Millisecond,
			ExecuteLatencyMax: time.Duration(cfg.Router.ExecuteLatencyMs.Max) * time.Millisecond,
			VarianceMinPct:    cfg.Router.VariancePct.Min,
			VarianceMaxPct:    cfg.Router.VariancePct.Max,
		},
		Store:    cfg.Store,
		Profiler: cfg.Profiler,
	}

	if loaded.HTTPAddr == "" {
		loaded.HTTPAddr = defaultHTTPAddr
	}
	if loaded.Worker.BuildDelay <= 0 {
		loaded.Worker.BuildDelay = defaultBuildDelay
	}
	if len(loaded.Sources) == 0 {
		loaded.Sources = append([]string(nil), defaultSources...)
	}
	seen := make(map[string]struct{}, len(loaded.Sources))
	for _, name := range loaded.Sources {
		if name == "" {
			return Loaded{}, fmt.Errorf("router source name is empty")
		}
		if _, dup := seen[name]; dup {
			return Loaded{}, fmt.Errorf("duplicate router source: %s", name)
		}
		seen[name] = struct{}{}
	}

	switch loaded.Store.Driver {
	case "", "memory":
		loaded.Store.Driver = "memory"
	case "postgres":
		if loaded.Store.Postgres.Database == "" {
			return Loaded{}, fmt.Errorf("postgres store requires a database name")
		}
	default:
		return Loaded{}, fmt.Errorf("unknown store driver: %s", loaded.Store.Driver)
	}

	if loaded.Profiler.Enabled && loaded.Profiler.ServerAddress == "" {
		return Loaded{}, fmt.Errorf("profiler enabled without a server address")
	}
	return loaded, nil
}

// PostgresOption converts the config into store connection options.
func (c PostgresConfig) PostgresOption() store.PostgresOption {
	return store.PostgresOption{
		Host:     c.Host,
		Port:     c.Port,
		User:     c.User,
		Password: c.Password,
		Database: c.Database,
		SSLMode:  c.SSLMode,
	}
}
