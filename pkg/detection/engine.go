package detection

import (
	"log/slog"

	"github.com/cylestio/cylestio-monitor/pkg/config"
)

// Engine bundles the registry, matcher, masker and policy built from one
// security configuration.
type Engine struct {
	registry *Registry
	matcher  *Matcher
	masker   *Masker
	policy   Policy
}

// New builds an Engine. The returned errors describe rules that were
// disabled while loading; the engine is usable regardless.
func New(cfg config.SecurityConfig, logger *slog.Logger) (*Engine, []error) {
	reg, errs := NewRegistry(cfg, logger)
	matcher := NewMatcher(reg, MatcherOptions{
		Budget:     cfg.RuleBudget,
		MaxMatches: cfg.MaxMatchesPerRule,
		Logger:     logger,
	})
	return &Engine{
		registry: reg,
		matcher:  matcher,
		masker:   NewMasker(matcher),
		policy:   PolicyFromConfig(cfg),
	}, errs
}

// Registry returns the engine's registry.
func (e *Engine) Registry() *Registry { return e.registry }

// Matcher returns the engine's matcher.
func (e *Engine) Matcher() *Matcher { return e.matcher }

// Masker returns the engine's masker.
func (e *Engine) Masker() *Masker { return e.masker }

// Policy returns the engine's classification policy.
func (e *Engine) Policy() Policy { return e.policy }

// Screen scans, classifies and masks one named field. Masking works on a
// copy; the classification reflects the original text.
func (e *Engine) Screen(field, text string) FieldResult {
	report := e.matcher.ScanReport(text)
	return FieldResult{
		Field:          field,
		Masked:         e.masker.Mask(text, report.Matches),
		Classification: Classify(report.Matches, e.policy),
		Skipped:        report.Skipped,
	}
}

// Redact masks every match in text.
func (e *Engine) Redact(text string) string {
	return e.masker.Redact(text)
}
