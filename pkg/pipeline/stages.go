package pipeline

// Stage names used in error records, stage timings, and metric labels.
const (
	StageLoadRaw  = "load_raw"
	StageFilter   = "filter"
	StageLLM      = "llm"
	StageEnrich   = "enrich"
	StageValidate = "validate"
	StagePersist  = "persist"
	StageFanout   = "fanout"
)
