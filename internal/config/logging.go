package config

// LoggingConfig configures categorized logging.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Level      string          `yaml:"level"`  // debug, info, warn, error
	Format     string          `yaml:"format"` // json, console
	Categories map[string]bool `yaml:"categories,omitempty"`
}

// JSONFormat reports whether entries are encoded as JSON.
func (c LoggingConfig) JSONFormat() bool {
	return c.Format != "console"
}
