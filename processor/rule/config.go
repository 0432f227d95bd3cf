package rule

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/c360/assetflow/errors"
	trule "github.com/c360/assetflow/types/rule"
)

// Config holds configuration for the rule engine
type Config struct {
	// Rule sources: files or directories of .json/.yaml/.yml rule documents
	RulesFiles []string `json:"rules_files"`

	// Inline rule documents keyed by a name carrying the format extension
	InlineRules map[string]string `json:"inline_rules,omitempty"`

	// Async dispatch of replacements and commands
	DispatchWorkers   int `json:"dispatch_workers"`
	DispatchQueueSize int `json:"dispatch_queue_size"`

	// StopTimeout bounds how long Stop waits for dispatched work to drain
	StopTimeout string `json:"stop_timeout"`
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		RulesFiles:        []string{},
		DispatchWorkers:   4,
		DispatchQueueSize: 256,
		StopTimeout:       "5s",
	}
}

// Validate checks the configuration
func (c Config) Validate() error {
	if c.DispatchWorkers < 0 || c.DispatchQueueSize < 0 {
		return errors.WrapInvalid(fmt.Errorf("%w: negative dispatch sizing", errors.ErrInvalidConfig),
			"Config", "Validate", "check dispatch")
	}
	if c.StopTimeout != "" {
		if _, err := time.ParseDuration(c.StopTimeout); err != nil {
			return errors.WrapInvalid(fmt.Errorf("%w: stop_timeout: %v", errors.ErrInvalidConfig, err),
				"Config", "Validate", "parse stop timeout")
		}
	}
	for name := range c.InlineRules {
		if _, err := InlineSource(name, ""); err != nil {
			return errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err),
				"Config", "Validate", "check inline rules")
		}
	}
	return nil
}

func (c Config) stopTimeout() time.Duration {
	d, err := time.ParseDuration(c.StopTimeout)
	if err != nil || d <= 0 {
		return 5 * time.Second
	}
	return d
}

// Sources returns the provider for the configured rule files followed by
// the inline rules in name order.
func (c Config) Sources(logger *slog.Logger) trule.RuleSourceProvider {
	names := make([]string, 0, len(c.InlineRules))
	for name := range c.InlineRules {
		names = append(names, name)
	}
	sort.Strings(names)

	inline := make(StaticSourceProvider, 0, len(names))
	for _, name := range names {
		// Names were checked by Validate
		if src, err := InlineSource(name, c.InlineRules[name]); err == nil {
			inline = append(inline, src)
		}
	}
	return ChainSourceProvider{NewFileSourceProvider(c.RulesFiles, logger), inline}
}
