// Package config loads process configuration. The environment is the
// canonical surface; CLI flags override individual fields after Load.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"time"
)

// Config is the fully resolved process configuration.
type Config struct {
	// PipelineVersion partitions the extraction queue: changing it schedules
	// reprocessing of everything under the new version.
	PipelineVersion string

	Store       StoreConfig
	LLM         LLMConfig
	Breaker     BreakerConfig
	Worker      WorkerConfig
	Collector   CollectorConfig
	Catchup     CatchupConfig
	Compilation CompilationConfig
	Enrich      EnrichConfig
	Fanout      FanoutConfig
	Ops         OpsConfig

	// TaxonomyFile optionally points at a YAML file merged over the built-in
	// tutor-type and agency taxonomy.
	TaxonomyFile string
}

// StoreConfig selects the REST data plane. With URL empty the store runs
// disabled and all writes divert to the JSONL fallback file.
type StoreConfig struct {
	URL          string
	ServiceKey   string
	Timeout      time.Duration
	FallbackPath string
}

// Enabled reports whether REST credentials are present.
func (s StoreConfig) Enabled() bool {
	return s.URL != "" && s.ServiceKey != ""
}

// LLMConfig drives the chat-completions extractor.
type LLMConfig struct {
	APIURL      string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration

	// UseNormalizedText sends the normalizer's output instead of raw text.
	UseNormalizedText bool
}

// BreakerConfig tunes the circuit breaker around LLM calls.
type BreakerConfig struct {
	FailureThreshold int
	Timeout          time.Duration
}

// WorkerConfig tunes the extraction worker loop.
type WorkerConfig struct {
	WorkerCount     int
	ClaimBatchSize  int
	IdleSleep       time.Duration
	MaxAttempts     int
	BackoffBase     time.Duration
	BackoffMax      time.Duration
	StaleProcessing time.Duration

	// Oneshot exits when the queue is drained; MaxJobs bounds total processed
	// jobs. Both are for test and migration runs.
	Oneshot bool
	MaxJobs int

	HardValidateMode HardValidateMode
	HeartbeatDir     string
	TriageWebhookURL string
}

// CollectorConfig tunes the source client and ingest loops.
type CollectorConfig struct {
	APIID         int
	APIHash       string
	Phone         string
	Password      string
	SessionFile   string
	BatchSize     int
	ProgressEvery int
	FloodWaitCap  time.Duration
	RetryAttempts int
	RetryBase     time.Duration
	HeartbeatDir  string
}

// CatchupConfig tunes the recovery loop that replays missed windows.
type CatchupConfig struct {
	TargetLag         time.Duration
	Overlap           time.Duration
	ChunkHours        int
	QueueLowWatermark int
	MaxAttempts       int
	BackoffBase       time.Duration
	CheckpointPath    string
	DefaultLookback   time.Duration
}

// CompilationConfig holds the multi-post bundle detection thresholds.
type CompilationConfig struct {
	CodeHits   int
	LabelHits  int
	PostalHits int
	URLHits    int
	BlockCount int
	MinBlocks  int

	// CodePattern is the assignment-identifier grammar used by the confirm
	// step. Bare 6-digit tokens are postal codes, never identifiers.
	CodePattern string
}

// EnrichConfig switches the deterministic enrichment stages.
type EnrichConfig struct {
	DeterministicSignals bool
	DeterministicTime    bool
	PostalCodeEstimated  bool
	GeocodeAPIURL        string
}

// FanoutConfig points at the downstream collaborators.
type FanoutConfig struct {
	EnableBroadcast bool
	EnableDMs       bool
	BroadcastURL    string
	DMURL           string
	Timeout         time.Duration
}

// OpsConfig gates the operational HTTP surface. Empty Addr disables it.
type OpsConfig struct {
	Addr string
}

// Load resolves the full configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{
		PipelineVersion: envStr("PIPELINE_VERSION", "v1"),
		Store: StoreConfig{
			URL:          envStr("SUPABASE_URL", ""),
			ServiceKey:   envStr("SUPABASE_SERVICE_KEY", ""),
			Timeout:      envSeconds("STORE_TIMEOUT_SECONDS", 15),
			FallbackPath: envStr("RAW_FALLBACK_PATH", "data/raw_fallback.jsonl"),
		},
		LLM: LLMConfig{
			APIURL:            envStr("LLM_API_URL", ""),
			APIKey:            envStr("LLM_API_KEY", ""),
			Model:             envStr("LLM_MODEL", ""),
			MaxTokens:         envInt("LLM_MAX_TOKENS", 2048),
			Temperature:       envFloat("LLM_TEMPERATURE", 0),
			Timeout:           envSeconds("LLM_TIMEOUT_SECONDS", 90),
			UseNormalizedText: envBool("USE_NORMALIZED_TEXT_FOR_LLM", false),
		},
		Breaker: BreakerConfig{
			FailureThreshold: envInt("CIRCUIT_FAILURE_THRESHOLD", 5),
			Timeout:          envSeconds("CIRCUIT_TIMEOUT_SECONDS", 60),
		},
		Worker: WorkerConfig{
			WorkerCount:      envInt("WORKER_COUNT", 1),
			ClaimBatchSize:   envInt("EXTRACTION_CLAIM_BATCH_SIZE", 10),
			IdleSleep:        envSeconds("EXTRACTION_IDLE_SLEEP_SECONDS", 5),
			MaxAttempts:      envInt("EXTRACTION_MAX_ATTEMPTS", 3),
			BackoffBase:      envSeconds("EXTRACTION_BACKOFF_BASE_SECONDS", 2),
			BackoffMax:       envSeconds("EXTRACTION_BACKOFF_MAX_SECONDS", 60),
			StaleProcessing:  envSeconds("EXTRACTION_STALE_PROCESSING_SECONDS", 300),
			Oneshot:          envBool("ONESHOT", false),
			MaxJobs:          envInt("MAX_JOBS", 0),
			HardValidateMode: HardValidateMode(envStr("HARD_VALIDATE_MODE", string(HardValidateEnforce))),
			HeartbeatDir:     envStr("HEARTBEAT_DIR", "data/heartbeats"),
			TriageWebhookURL: envStr("TRIAGE_WEBHOOK_URL", ""),
		},
		Collector: CollectorConfig{
			APIID:         envInt("TELEGRAM_API_ID", 0),
			APIHash:       envStr("TELEGRAM_API_HASH", ""),
			Phone:         envStr("TELEGRAM_PHONE", ""),
			Password:      envStr("TELEGRAM_PASSWORD", ""),
			SessionFile:   envStr("TELEGRAM_SESSION_FILE", "data/telegram.session"),
			BatchSize:     clampInt(envInt("COLLECTOR_BATCH_SIZE", 200), 20, 1000),
			ProgressEvery: envInt("COLLECTOR_PROGRESS_EVERY", 50),
			FloodWaitCap:  envSeconds("COLLECTOR_FLOOD_WAIT_CAP_SECONDS", 900),
			RetryAttempts: envInt("COLLECTOR_RETRY_ATTEMPTS", 5),
			RetryBase:     envSeconds("COLLECTOR_RETRY_BASE_SECONDS", 2),
			HeartbeatDir:  envStr("HEARTBEAT_DIR", "data/heartbeats"),
		},
		Catchup: CatchupConfig{
			TargetLag:         envMinutes("CATCHUP_TARGET_LAG_MINUTES", 5),
			Overlap:           envMinutes("CATCHUP_OVERLAP_MINUTES", 10),
			ChunkHours:        envInt("CATCHUP_CHUNK_HOURS", 6),
			QueueLowWatermark: envInt("CATCHUP_QUEUE_LOW_WATERMARK", 50),
			MaxAttempts:       envInt("CATCHUP_MAX_ATTEMPTS", 3),
			BackoffBase:       envSeconds("CATCHUP_BACKOFF_BASE_SECONDS", 5),
			CheckpointPath:    envStr("CATCHUP_CHECKPOINT_PATH", "data/catchup_checkpoint.json"),
			DefaultLookback:   envMinutes("CATCHUP_DEFAULT_LOOKBACK_MINUTES", 24*60),
		},
		Compilation: CompilationConfig{
			CodeHits:    envInt("COMPILATION_CODE_HITS", 3),
			LabelHits:   envInt("COMPILATION_LABEL_HITS", 6),
			PostalHits:  envInt("COMPILATION_POSTAL_HITS", 3),
			URLHits:     envInt("COMPILATION_URL_HITS", 3),
			BlockCount:  envInt("COMPILATION_BLOCK_COUNT", 4),
			MinBlocks:   envInt("COMPILATION_MIN_BLOCKS", 3),
			CodePattern: envStr("CODE_PATTERN", DefaultCodePattern),
		},
		Enrich: EnrichConfig{
			DeterministicSignals: envBool("ENABLE_DETERMINISTIC_SIGNALS", true),
			DeterministicTime:    envBool("USE_DETERMINISTIC_TIME", true),
			PostalCodeEstimated:  envBool("ENABLE_POSTAL_CODE_ESTIMATED", true),
			GeocodeAPIURL:        envStr("GEOCODE_API_URL", ""),
		},
		Fanout: FanoutConfig{
			EnableBroadcast: envBool("ENABLE_BROADCAST", false),
			EnableDMs:       envBool("ENABLE_DMS", false),
			BroadcastURL:    envStr("BROADCAST_URL", ""),
			DMURL:           envStr("DM_URL", ""),
			Timeout:         envSeconds("FANOUT_TIMEOUT_SECONDS", 20),
		},
		Ops: OpsConfig{
			Addr: envStr("OPS_ADDR", ""),
		},
		TaxonomyFile: envStr("TAXONOMY_FILE", ""),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	log := slog.With("pipeline_version", cfg.PipelineVersion)
	if cfg.Store.Enabled() {
		if u, err := url.Parse(cfg.Store.URL); err == nil {
			log = log.With("store_host", u.Host)
		}
	} else {
		log = log.With("store", "disabled", "fallback", cfg.Store.FallbackPath)
	}
	log.Info("Configuration loaded",
		"hard_validate_mode", cfg.Worker.HardValidateMode,
		"llm_model", cfg.LLM.Model,
		"claim_batch_size", cfg.Worker.ClaimBatchSize)

	return cfg, nil
}

// DefaultCodePattern matches assignment identifiers: a short letter prefix,
// digits, optional suffix. A bare 6-digit token never matches.
const DefaultCodePattern = `[A-Za-z]{1,4}-?\d{2,6}[A-Za-z0-9-]*`

// validate checks settings every process needs. Role-specific requirements
// (LLM endpoint, source credentials) have their own methods.
func (c *Config) validate() error {
	if c.PipelineVersion == "" {
		return NewValidationError("pipeline", "PIPELINE_VERSION", ErrMissingRequired)
	}
	if !c.Worker.HardValidateMode.IsValid() {
		return NewValidationError("worker", "HARD_VALIDATE_MODE",
			fmt.Errorf("%w: %q", ErrInvalidValue, c.Worker.HardValidateMode))
	}
	if c.Worker.MaxAttempts < 1 {
		return NewValidationError("worker", "EXTRACTION_MAX_ATTEMPTS",
			fmt.Errorf("%w: must be >= 1", ErrInvalidValue))
	}
	if c.Store.URL != "" && c.Store.ServiceKey == "" {
		return NewValidationError("store", "SUPABASE_SERVICE_KEY", ErrMissingRequired)
	}
	return nil
}

// ValidateWorker checks the settings the extraction worker cannot run
// without.
func (c *Config) ValidateWorker() error {
	if c.LLM.APIURL == "" {
		return NewValidationError("llm", "LLM_API_URL", ErrMissingRequired)
	}
	if c.LLM.Model == "" {
		return NewValidationError("llm", "LLM_MODEL", ErrMissingRequired)
	}
	if c.Breaker.FailureThreshold < 1 {
		return NewValidationError("breaker", "CIRCUIT_FAILURE_THRESHOLD",
			fmt.Errorf("%w: must be >= 1", ErrInvalidValue))
	}
	return nil
}

// ValidateSource checks the settings the collector cannot run without.
func (c *Config) ValidateSource() error {
	if c.Collector.APIID == 0 {
		return NewValidationError("source", "TELEGRAM_API_ID", ErrMissingRequired)
	}
	if c.Collector.APIHash == "" {
		return NewValidationError("source", "TELEGRAM_API_HASH", ErrMissingRequired)
	}
	return nil
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
