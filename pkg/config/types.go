// Package config provides configuration types and loading for the process engine.
package config

import "time"

// RetryDefaults holds the process-wide default retry policy applied to a
// node when its own ProcessNode.Config.Retry is unset.
type RetryDefaults struct {
	Enabled           bool    `yaml:"enabled"`
	MaxAttempts       int     `yaml:"max_attempts"`
	DelaySeconds      float64 `yaml:"delay_seconds"`
	BackoffMultiplier float64 `yaml:"backoff_multiplier"`
}

// TimeoutDefaults holds the process-wide default per-node timeout policy.
type TimeoutDefaults struct {
	Enabled bool    `yaml:"enabled"`
	Seconds float64 `yaml:"seconds"`
	Action  string  `yaml:"action"` // fail | retry | skip
}

// AntiHallucinationConfig tunes the AI_TASK plausibility heuristics.
// Exposed per-org because the 10%/10-char thresholds are heuristic and
// organization-tunable.
type AntiHallucinationConfig struct {
	Enabled               bool    `yaml:"enabled"`
	NumericTolerance      float64 `yaml:"numeric_tolerance"`       // e.g. 0.10 = 10%
	MinGenericFieldLength int     `yaml:"min_generic_field_length"` // e.g. 10 chars
}

// EngineDefaults holds the process-wide defaults applied when a
// ProcessDefinition.Settings field is unset.
type EngineDefaults struct {
	MaxNodeExecutions       int                     `yaml:"max_node_executions"`
	MaxExecutionTimeSeconds int                     `yaml:"max_execution_time_seconds"`
	CheckpointEnabled       bool                    `yaml:"checkpoint_enabled"`
	CheckpointIntervalNodes int                     `yaml:"checkpoint_interval_nodes"`
	Retry                   RetryDefaults           `yaml:"retry"`
	Timeout                 TimeoutDefaults         `yaml:"timeout"`
	AntiHallucination       AntiHallucinationConfig `yaml:"anti_hallucination"`
}

// SetDefaults fills in zero-valued fields with the engine's hard-coded
// fallback defaults, mirroring ProcessSettings defaults.
func (e *EngineDefaults) SetDefaults() {
	if e.MaxNodeExecutions == 0 {
		e.MaxNodeExecutions = 1000
	}
	if e.MaxExecutionTimeSeconds == 0 {
		e.MaxExecutionTimeSeconds = 3600
	}
	if e.CheckpointIntervalNodes == 0 {
		e.CheckpointIntervalNodes = 5
	}
	if e.Retry.MaxAttempts == 0 {
		e.Retry.MaxAttempts = 1
	}
	if e.Retry.DelaySeconds == 0 {
		e.Retry.DelaySeconds = 1
	}
	if e.Retry.BackoffMultiplier == 0 {
		e.Retry.BackoffMultiplier = 2
	}
	if e.Timeout.Action == "" {
		e.Timeout.Action = "fail"
	}
	if e.AntiHallucination.NumericTolerance == 0 {
		e.AntiHallucination.NumericTolerance = 0.10
	}
	if e.AntiHallucination.MinGenericFieldLength == 0 {
		e.AntiHallucination.MinGenericFieldLength = 10
	}
}

// LoggingConfig controls the pkg/logger ambient stack.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug|info|warn|error
	Format string `yaml:"format"` // simple|colored|verbose
	Output string `yaml:"output"` // stdout|stderr|path
}

// ObservabilityConfig controls the pkg/observability otel/prometheus wiring.
type ObservabilityConfig struct {
	Enabled        bool   `yaml:"enabled"`
	ServiceName    string `yaml:"service_name"`
	TraceExporter  string `yaml:"trace_exporter"`  // stdout|otlp|none
	MetricsAddr    string `yaml:"metrics_addr"`    // prometheus /metrics listen address
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
}

// Config is the root configuration document for the process engine host.
type Config struct {
	Engine        EngineDefaults      `yaml:"engine"`
	Database      DatabaseConfig      `yaml:"database"`
	Logging       LoggingConfig       `yaml:"logging"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// SetDefaults fills in zero-valued fields across the whole document.
func (c *Config) SetDefaults() {
	c.Engine.SetDefaults()
	c.Database.SetDefaults()
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "simple"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stdout"
	}
	if c.Observability.ServiceName == "" {
		c.Observability.ServiceName = "processforge"
	}
	if c.Observability.TraceExporter == "" {
		c.Observability.TraceExporter = "none"
	}
}

// DefaultPollInterval is how often the DELAY/SCHEDULE resume sweeper runs
// when the host re-checks waiting executions whose resume_at has elapsed.
const DefaultPollInterval = 30 * time.Second
