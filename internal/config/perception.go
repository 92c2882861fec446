package config

// PerceptionConfig configures spell correction and parsing.
type PerceptionConfig struct {
	// Maximum edit distance for a spelling replacement.
	MaxEditDistance int `yaml:"max_edit_distance"`
	// Tokens shorter than this are never corrected.
	MinTokenLength int `yaml:"min_token_length"`
	// Unclassified commands with at most this many words are not escalated.
	ShortCommandWords int `yaml:"short_command_words"`
}

// ContextConfig configures the per-session conversation context.
type ContextConfig struct {
	WindowSize   int `yaml:"window_size"`
	SummaryTurns int `yaml:"summary_turns"`
}

// ResolverConfig holds the confidence thresholds of the ambiguity resolver.
type ResolverConfig struct {
	HighThreshold float64 `yaml:"high_threshold"`
	LowThreshold  float64 `yaml:"low_threshold"`
	// Intents that wait for an explicit "yes" before running.
	ConfirmIntents []string `yaml:"confirm_intents"`
}

// ConfirmableIntents are the intent names accepted in confirm_intents.
var ConfirmableIntents = []string{"create", "delete", "modify", "query", "execute", "configure", "analyze"}

// FallbackConfig configures the AI fallback response repair.
type FallbackConfig struct {
	MaxRepairPasses int `yaml:"max_repair_passes"`
}

// PlannerConfig configures plan expansion.
type PlannerConfig struct {
	// Hard upper bound on generated steps per plan.
	SafetyCap int `yaml:"safety_cap"`
	// Base location for relative targets.
	DefaultLocation string `yaml:"default_location"`
}
