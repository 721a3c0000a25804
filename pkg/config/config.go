package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/goran-ethernal/CanvasIndexor/internal/common"
	"github.com/goran-ethernal/CanvasIndexor/internal/logger"
	"github.com/goran-ethernal/CanvasIndexor/internal/types"
)

const (
	// DefaultCanvasResolution is the largest canvas side observed on deployed contracts.
	DefaultCanvasResolution = 1 << 20

	snapshotFileName = "canvas_snapshot.json"
	ledgerFileName   = "ledger.sqlite"
)

// Config represents the complete configuration for the CanvasIndexor.
type Config struct {
	// Chain contains the remote event source configuration
	Chain ChainConfig `yaml:"chain" json:"chain" toml:"chain"`

	// Backfill contains the historical catch-up configuration
	Backfill BackfillConfig `yaml:"backfill" json:"backfill" toml:"backfill"`

	// Retry contains the per-chunk retry policy used during backfill
	Retry RetryConfig `yaml:"retry" json:"retry" toml:"retry"`

	// Live contains the live tail configuration
	Live LiveConfig `yaml:"live" json:"live" toml:"live"`

	// Persistence contains the snapshot configuration
	Persistence PersistenceConfig `yaml:"persistence" json:"persistence" toml:"persistence"`

	// Ledger contains the skipped range ledger configuration
	Ledger LedgerConfig `yaml:"ledger" json:"ledger" toml:"ledger"`

	// API contains the HTTP read API configuration
	API *APIConfig `yaml:"api,omitempty" json:"api,omitempty" toml:"api,omitempty"`

	// Logging contains logging configuration
	Logging *LoggingConfig `yaml:"logging,omitempty" json:"logging,omitempty" toml:"logging,omitempty"`

	// Metrics contains Prometheus metrics configuration
	Metrics *MetricsConfig `yaml:"metrics,omitempty" json:"metrics,omitempty" toml:"metrics,omitempty"`
}

// ChainConfig represents the remote chain and contract configuration.
type ChainConfig struct {
	// RPCURL is the Ethereum RPC endpoint URL
	RPCURL string `yaml:"rpc_url" json:"rpc_url" toml:"rpc_url"`

	// ContractAddress is the canvas contract emitting Placed events
	ContractAddress string `yaml:"contract_address" json:"contract_address" toml:"contract_address"`

	// GenesisBlock is the block to start from when no snapshot exists.
	// Required, a pointer so that block 0 is distinguishable from "not set".
	GenesisBlock *uint64 `yaml:"genesis_block" json:"genesis_block" toml:"genesis_block"`

	// Finality specifies which head is considered current: "latest", "safe" or "finalized"
	Finality string `yaml:"finality" json:"finality" toml:"finality"`

	// Confirmations is the number of blocks to stay behind latest (only for "latest")
	Confirmations uint64 `yaml:"confirmations" json:"confirmations" toml:"confirmations"`

	// CanvasResolution bounds both coordinates, events outside are rejected
	CanvasResolution uint32 `yaml:"canvas_resolution" json:"canvas_resolution" toml:"canvas_resolution"`

	// PollInterval is how often the live subscription checks for new blocks
	PollInterval common.Duration `yaml:"poll_interval" json:"poll_interval" toml:"poll_interval"`

	// RequestsPerSecond caps outgoing RPC calls, 0 disables the limiter
	RequestsPerSecond float64 `yaml:"requests_per_second" json:"requests_per_second" toml:"requests_per_second"`
}

// ApplyDefaults sets default values for optional chain configuration fields.
func (c *ChainConfig) ApplyDefaults() {
	if c.Finality == "" {
		c.Finality = string(types.FinalityLatest)
	}
	if c.CanvasResolution == 0 {
		c.CanvasResolution = DefaultCanvasResolution
	}
	if c.PollInterval.Duration == 0 {
		c.PollInterval = common.NewDuration(2 * time.Second)
	}
}

// Validate checks if the chain configuration is valid.
func (c *ChainConfig) Validate() error {
	if c.RPCURL == "" {
		return errors.New("chain.rpc_url is required")
	}
	if c.ContractAddress == "" {
		return errors.New("chain.contract_address is required")
	}
	if !ethcommon.IsHexAddress(c.ContractAddress) {
		return fmt.Errorf("chain.contract_address: %q is not a valid address", c.ContractAddress)
	}
	if c.GenesisBlock == nil {
		return errors.New("chain.genesis_block is required")
	}
	if _, err := types.ParseBlockFinality(c.Finality); err != nil {
		return fmt.Errorf("chain.finality: %w", err)
	}
	if c.RequestsPerSecond < 0 {
		return errors.New("chain.requests_per_second must not be negative")
	}
	return nil
}

// Address returns the parsed contract address.
func (c *ChainConfig) Address() ethcommon.Address {
	return ethcommon.HexToAddress(c.ContractAddress)
}

// BackfillConfig represents the historical backfill configuration.
// All fields are required.
type BackfillConfig struct {
	// ChunkSize is the block range per eth_getLogs call
	ChunkSize uint64 `yaml:"chunk_size" json:"chunk_size" toml:"chunk_size"`

	// Parallelism is the number of chunks fetched concurrently in one batch
	Parallelism int `yaml:"parallelism" json:"parallelism" toml:"parallelism"`

	// InterBatchDelay is the pause between two batches
	InterBatchDelay *common.Duration `yaml:"inter_batch_delay" json:"inter_batch_delay" toml:"inter_batch_delay"`
}

// Validate checks if the backfill configuration is valid.
func (b *BackfillConfig) Validate() error {
	if b.ChunkSize == 0 {
		return errors.New("backfill.chunk_size is required and must be positive")
	}
	if b.Parallelism <= 0 {
		return errors.New("backfill.parallelism is required and must be positive")
	}
	if b.InterBatchDelay == nil {
		return errors.New("backfill.inter_batch_delay is required")
	}
	if b.InterBatchDelay.Duration < 0 {
		return errors.New("backfill.inter_batch_delay must not be negative")
	}
	return nil
}

// RetryConfig represents RPC retry configuration with exponential backoff.
type RetryConfig struct {
	// MaxRetries is the number of retries after the first failed attempt
	MaxRetries int `yaml:"max_retries" json:"max_retries" toml:"max_retries"`

	// InitialBackoff is the delay before the first retry
	InitialBackoff common.Duration `yaml:"initial_backoff" json:"initial_backoff" toml:"initial_backoff"`

	// MaxBackoff is the maximum backoff duration
	MaxBackoff common.Duration `yaml:"max_backoff" json:"max_backoff" toml:"max_backoff"`

	// BackoffMultiplier is the multiplier for exponential backoff
	BackoffMultiplier float64 `yaml:"backoff_multiplier" json:"backoff_multiplier" toml:"backoff_multiplier"`
}

// ApplyDefaults sets default values for retry configuration.
func (r *RetryConfig) ApplyDefaults() {
	if r.MaxRetries == 0 {
		r.MaxRetries = 5
	}
	if r.InitialBackoff.Duration == 0 {
		r.InitialBackoff = common.NewDuration(500 * time.Millisecond) //nolint:mnd
	}
	if r.MaxBackoff.Duration == 0 {
		r.MaxBackoff = common.NewDuration(30 * time.Second) //nolint:mnd
	}
	if r.BackoffMultiplier == 0 {
		r.BackoffMultiplier = 2.0
	}
}

// Validate checks if the retry configuration is valid.
func (r *RetryConfig) Validate() error {
	if r.MaxRetries < 0 {
		return errors.New("retry.max_retries must not be negative")
	}
	if r.BackoffMultiplier < 1 {
		return errors.New("retry.backoff_multiplier must be at least 1")
	}
	if r.MaxBackoff.Duration < r.InitialBackoff.Duration {
		return errors.New("retry.max_backoff must not be smaller than retry.initial_backoff")
	}
	return nil
}

// LiveConfig represents the live tail configuration.
type LiveConfig struct {
	// MaxReconnectDelay caps the delay between two subscription attempts
	MaxReconnectDelay common.Duration `yaml:"max_reconnect_delay" json:"max_reconnect_delay" toml:"max_reconnect_delay"`
}

// ApplyDefaults sets default values for the live configuration.
func (l *LiveConfig) ApplyDefaults() {
	if l.MaxReconnectDelay.Duration == 0 {
		l.MaxReconnectDelay = common.NewDuration(30 * time.Second) //nolint:mnd
	}
}

// PersistenceConfig represents the snapshot configuration.
type PersistenceConfig struct {
	// SnapshotDir is the directory holding the snapshot file. Required.
	SnapshotDir string `yaml:"snapshot_dir" json:"snapshot_dir" toml:"snapshot_dir"`

	// Debounce is the quiet period after a mutation before the snapshot is written
	Debounce common.Duration `yaml:"debounce" json:"debounce" toml:"debounce"`

	// MaxWait bounds staleness under continuous mutations
	MaxWait common.Duration `yaml:"max_wait" json:"max_wait" toml:"max_wait"`

	// SafetyInterval is the period of the unconditional dirty check
	SafetyInterval common.Duration `yaml:"safety_interval" json:"safety_interval" toml:"safety_interval"`
}

// ApplyDefaults sets default values for the persistence configuration.
func (p *PersistenceConfig) ApplyDefaults() {
	if p.Debounce.Duration == 0 {
		p.Debounce = common.NewDuration(2 * time.Second)
	}
	if p.MaxWait.Duration == 0 {
		p.MaxWait = common.NewDuration(10 * time.Second) //nolint:mnd
	}
	if p.SafetyInterval.Duration == 0 {
		p.SafetyInterval = common.NewDuration(time.Minute)
	}
}

// Validate checks if the persistence configuration is valid.
func (p *PersistenceConfig) Validate() error {
	if p.SnapshotDir == "" {
		return errors.New("persistence.snapshot_dir is required")
	}
	if p.Debounce.Duration > p.MaxWait.Duration {
		return errors.New("persistence.debounce must not exceed persistence.max_wait")
	}
	return nil
}

// SnapshotPath returns the full path of the snapshot file.
func (p *PersistenceConfig) SnapshotPath() string {
	return filepath.Join(p.SnapshotDir, snapshotFileName)
}

// LedgerConfig represents the skipped range ledger configuration.
type LedgerConfig struct {
	// DB is the sqlite database holding skipped ranges.
	// Path defaults to ledger.sqlite inside the snapshot dir.
	DB DatabaseConfig `yaml:"db" json:"db" toml:"db"`
}

// DatabaseConfig represents database configuration.
type DatabaseConfig struct {
	// Path is the file path to the SQLite database
	Path string `yaml:"path" json:"path" toml:"path"`

	// JournalMode sets the SQLite journal mode (e.g., "WAL", "DELETE")
	JournalMode string `yaml:"journal_mode" json:"journal_mode" toml:"journal_mode"`

	// Synchronous sets the synchronization level ("FULL", "NORMAL", "OFF")
	Synchronous string `yaml:"synchronous" json:"synchronous" toml:"synchronous"`

	// BusyTimeout is the time in milliseconds to wait when the database is locked
	BusyTimeout int `yaml:"busy_timeout" json:"busy_timeout" toml:"busy_timeout"`

	// MaxOpenConnections is the maximum number of open database connections
	MaxOpenConnections int `yaml:"max_open_connections" json:"max_open_connections" toml:"max_open_connections"`
}

// ApplyDefaults sets default values for optional database configuration fields.
func (d *DatabaseConfig) ApplyDefaults() {
	if d.JournalMode == "" {
		d.JournalMode = "WAL"
	}
	if d.Synchronous == "" {
		d.Synchronous = "NORMAL"
	}
	if d.BusyTimeout == 0 {
		d.BusyTimeout = 5000
	}
	if d.MaxOpenConnections == 0 {
		d.MaxOpenConnections = 1
	}
}

// LoggingConfig configures logging behavior with per-component log levels.
type LoggingConfig struct {
	// DefaultLevel is the default log level for all components
	// Options: "debug", "info", "warn", "error"
	DefaultLevel string `yaml:"default_level" json:"default_level" toml:"default_level"`

	// Development enables development mode (stack traces, console encoder)
	Development bool `yaml:"development" json:"development" toml:"development"`

	// ComponentLevels sets log levels for specific components
	// Available components:
	//   - service: engine lifecycle
	//   - chain-client: RPC access and event decoding
	//   - backfill: historical catch-up
	//   - watcher: live tail
	//   - persistence: snapshot writes
	//   - notify: observer fan-out
	//   - ledger: skipped range ledger
	//   - api: HTTP read API
	ComponentLevels map[string]string `yaml:"component_levels,omitempty" json:"component_levels,omitempty" toml:"component_levels,omitempty"` //nolint:lll

	// File optionally mirrors logs to a rolling JSON file
	File *LogFileConfig `yaml:"file,omitempty" json:"file,omitempty" toml:"file,omitempty"`
}

// LogFileConfig configures the rolling log file.
type LogFileConfig struct {
	Path       string `yaml:"path" json:"path" toml:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb" json:"max_size_mb" toml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" json:"max_backups" toml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" json:"max_age_days" toml:"max_age_days"`
	Compress   bool   `yaml:"compress" json:"compress" toml:"compress"`
}

// ApplyDefaults sets default values for optional logging configuration fields.
func (l *LoggingConfig) ApplyDefaults() {
	if l.DefaultLevel == "" {
		l.DefaultLevel = "info"
	}
	if l.ComponentLevels == nil {
		l.ComponentLevels = make(map[string]string)
	}
	if l.File != nil && l.File.MaxSizeMB == 0 {
		l.File.MaxSizeMB = 100
	}
}

// Validate checks if the logging configuration is valid.
func (l *LoggingConfig) Validate() error {
	if l.DefaultLevel != "" {
		if _, valid := logger.ValidLogLevels[common.ToLowerWithTrim(l.DefaultLevel)]; !valid {
			return fmt.Errorf("logging.default_level: must be one of: debug, info, warn, error")
		}
	}

	for component, level := range l.ComponentLevels {
		if _, validComponent := common.AllComponents[common.ToLowerWithTrim(component)]; !validComponent {
			return fmt.Errorf("logging.component_levels: unknown component '%s'", component)
		}

		if _, valid := logger.ValidLogLevels[common.ToLowerWithTrim(level)]; !valid {
			return fmt.Errorf("logging.component_levels[%s]: must be one of: debug, info, warn, error", component)
		}
	}

	if l.File != nil && l.File.Path == "" {
		return errors.New("logging.file.path is required when logging.file is set")
	}

	return nil
}

// GetComponentLevel returns the log level for a specific component.
// Falls back to DefaultLevel if no component-specific level is set.
func (l *LoggingConfig) GetComponentLevel(component string) string {
	if level, ok := l.ComponentLevels[component]; ok {
		return common.ToLowerWithTrim(level)
	}
	return common.ToLowerWithTrim(l.DefaultLevel)
}

// GetDefaultLevel returns the default log level.
func (l *LoggingConfig) GetDefaultLevel() string {
	return common.ToLowerWithTrim(l.DefaultLevel)
}

// IsDevelopment returns whether development mode is enabled.
func (l *LoggingConfig) IsDevelopment() bool {
	return l.Development
}

// IsNil reports a nil *LoggingConfig stored in a logger.LoggingConfig interface.
func (l *LoggingConfig) IsNil() bool {
	return l == nil
}

// FileOutput returns the rolling file options, nil when file logging is off.
func (l *LoggingConfig) FileOutput() *logger.FileOptions {
	if l.File == nil {
		return nil
	}
	return &logger.FileOptions{
		Path:       l.File.Path,
		MaxSizeMB:  l.File.MaxSizeMB,
		MaxBackups: l.File.MaxBackups,
		MaxAgeDays: l.File.MaxAgeDays,
		Compress:   l.File.Compress,
	}
}

// MetricsConfig configures Prometheus metrics exposition.
type MetricsConfig struct {
	// Enabled controls whether metrics collection and HTTP endpoint are active
	Enabled bool `yaml:"enabled" json:"enabled" toml:"enabled"`

	// ListenAddress is the address to bind the metrics HTTP server to
	// Format: "host:port" or ":port"
	ListenAddress string `yaml:"listen_address" json:"listen_address" toml:"listen_address"`

	// Path is the HTTP path where metrics are exposed
	Path string `yaml:"path" json:"path" toml:"path"`
}

// ApplyDefaults sets default values for optional metrics configuration fields.
func (m *MetricsConfig) ApplyDefaults() {
	if m.ListenAddress == "" {
		m.ListenAddress = ":9090"
	}
	if m.Path == "" {
		m.Path = "/metrics"
	}
}

// Validate checks if the metrics configuration is valid.
func (m *MetricsConfig) Validate() error {
	if m.Enabled {
		if m.ListenAddress == "" {
			return fmt.Errorf("listen_address is required when metrics are enabled")
		}
		if m.Path == "" {
			return fmt.Errorf("path is required when metrics are enabled")
		}
		if m.Path[0] != '/' {
			return fmt.Errorf("path must start with '/'")
		}
	}
	return nil
}

// APIConfig configures the HTTP read API.
type APIConfig struct {
	// Enabled controls whether the API server is started
	Enabled bool `yaml:"enabled" json:"enabled" toml:"enabled"`

	// ListenAddress is the address to bind the API server to
	ListenAddress string `yaml:"listen_address" json:"listen_address" toml:"listen_address"`

	// MaxRegionCells bounds region queries, larger requests are rejected
	MaxRegionCells uint64 `yaml:"max_region_cells" json:"max_region_cells" toml:"max_region_cells"`

	// MaxPageSize bounds the page size of the all-pixels listing
	MaxPageSize int `yaml:"max_page_size" json:"max_page_size" toml:"max_page_size"`

	// StreamBuffer is the per-client buffer of the live update stream
	StreamBuffer int `yaml:"stream_buffer" json:"stream_buffer" toml:"stream_buffer"`

	ReadTimeout  common.Duration `yaml:"read_timeout" json:"read_timeout" toml:"read_timeout"`
	WriteTimeout common.Duration `yaml:"write_timeout" json:"write_timeout" toml:"write_timeout"`
	IdleTimeout  common.Duration `yaml:"idle_timeout" json:"idle_timeout" toml:"idle_timeout"`

	// CORS configures cross-origin access
	CORS CORSConfig `yaml:"cors" json:"cors" toml:"cors"`
}

// CORSConfig configures cross-origin access to the API.
type CORSConfig struct {
	Enabled        bool     `yaml:"enabled" json:"enabled" toml:"enabled"`
	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins" toml:"allowed_origins"`
	// MaxAge is how long, in seconds, browsers may cache a preflight response
	MaxAge         int      `yaml:"max_age" json:"max_age" toml:"max_age"`
}

// ApplyDefaults sets default values for optional API configuration fields.
func (a *APIConfig) ApplyDefaults() {
	if a.ListenAddress == "" {
		a.ListenAddress = ":8080"
	}
	if a.MaxRegionCells == 0 {
		a.MaxRegionCells = 10_000
	}
	if a.MaxPageSize == 0 {
		a.MaxPageSize = 1000
	}
	if a.StreamBuffer == 0 {
		a.StreamBuffer = 256
	}
	if a.ReadTimeout.Duration == 0 {
		a.ReadTimeout = common.NewDuration(15 * time.Second) //nolint:mnd
	}
	if a.WriteTimeout.Duration == 0 {
		a.WriteTimeout = common.NewDuration(15 * time.Second) //nolint:mnd
	}
	if a.IdleTimeout.Duration == 0 {
		a.IdleTimeout = common.NewDuration(60 * time.Second) //nolint:mnd
	}
	if a.CORS.Enabled && len(a.CORS.AllowedOrigins) == 0 {
		a.CORS.AllowedOrigins = []string{"*"}
	}
	if a.CORS.Enabled && a.CORS.MaxAge == 0 {
		a.CORS.MaxAge = 86400
	}
}

// Validate checks if the API configuration is valid.
func (a *APIConfig) Validate() error {
	if a.Enabled && a.ListenAddress == "" {
		return errors.New("listen_address is required when the API is enabled")
	}
	if a.MaxPageSize < 0 || a.StreamBuffer < 0 {
		return errors.New("max_page_size and stream_buffer must not be negative")
	}
	return nil
}

// ApplyDefaults sets default values for optional configuration fields.
// Required fields are never defaulted.
func (c *Config) ApplyDefaults() {
	c.Chain.ApplyDefaults()
	c.Retry.ApplyDefaults()
	c.Live.ApplyDefaults()
	c.Persistence.ApplyDefaults()

	if c.Ledger.DB.Path == "" && c.Persistence.SnapshotDir != "" {
		c.Ledger.DB.Path = filepath.Join(c.Persistence.SnapshotDir, ledgerFileName)
	}
	c.Ledger.DB.ApplyDefaults()

	if c.API != nil {
		c.API.ApplyDefaults()
	}

	if c.Logging != nil {
		c.Logging.ApplyDefaults()
	}

	if c.Metrics != nil {
		c.Metrics.ApplyDefaults()
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if err := c.Chain.Validate(); err != nil {
		return err
	}

	if err := c.Backfill.Validate(); err != nil {
		return err
	}

	if err := c.Retry.Validate(); err != nil {
		return err
	}

	if err := c.Persistence.Validate(); err != nil {
		return err
	}

	if c.API != nil {
		if err := c.API.Validate(); err != nil {
			return fmt.Errorf("api: %w", err)
		}
	}

	if c.Logging != nil {
		if err := c.Logging.Validate(); err != nil {
			return err
		}
	}

	if c.Metrics != nil {
		if err := c.Metrics.Validate(); err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
	}

	return nil
}
