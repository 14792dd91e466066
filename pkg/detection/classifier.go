package detection

import (
	"fmt"

	"github.com/cylestio/cylestio-monitor/pkg/config"
)

// Policy controls which matches block a call.
type Policy struct {
	// BlockingCategories are categories whose high-severity matches block.
	// dangerous_commands blocks regardless of this list.
	BlockingCategories map[string]bool

	// AlertOnSuspicious are categories whose suspicious matches still raise
	// a SecurityAlert.
	AlertOnSuspicious map[string]bool
}

// PolicyFromConfig builds a Policy from the security configuration.
func PolicyFromConfig(cfg config.SecurityConfig) Policy {
	p := Policy{
		BlockingCategories: make(map[string]bool, len(cfg.BlockingCategories)),
		AlertOnSuspicious:  make(map[string]bool, len(cfg.AlertOnSuspicious)),
	}
	for _, c := range cfg.BlockingCategories {
		p.BlockingCategories[c] = true
	}
	for _, c := range cfg.AlertOnSuspicious {
		p.AlertOnSuspicious[c] = true
	}
	return p
}

// blocks reports whether a single match makes the result dangerous.
func (p Policy) blocks(m MatchResult) bool {
	if m.Category == CategoryDangerousCommands {
		return true
	}
	return m.Severity == SeverityHigh && p.BlockingCategories[m.Category]
}

// Classify reduces matches to an alert level and block decision.
//
// Any dangerous_commands match, or any high-severity match in a blocking
// category, yields dangerous with Block set. Any other match yields
// suspicious. No matches yields none. Severity never blocks on its own
// outside the blocking categories.
func Classify(matches []MatchResult, policy Policy) ClassificationResult {
	if len(matches) == 0 {
		return ClassificationResult{AlertLevel: AlertNone}
	}

	ordered := make([]MatchResult, len(matches))
	copy(ordered, matches)
	SortMatches(ordered)

	result := ClassificationResult{Matches: ordered}
	for _, m := range ordered {
		if policy.blocks(m) {
			result.AlertLevel = AlertDangerous
			result.Block = true
			result.Category = m.Category
			result.Reason = reason(m, len(ordered))
			return result
		}
	}

	top := ordered[0]
	result.AlertLevel = AlertSuspicious
	result.Category = top.Category
	result.Reason = reason(top, len(ordered))
	return result
}

// RaisesAlert reports whether a classification warrants a SecurityAlert.
func (p Policy) RaisesAlert(c ClassificationResult) bool {
	switch c.AlertLevel {
	case AlertDangerous:
		return true
	case AlertSuspicious:
		for _, m := range c.Matches {
			if p.AlertOnSuspicious[m.Category] {
				return true
			}
		}
	}
	return false
}

func reason(m MatchResult, total int) string {
	noun := "matches"
	if total == 1 {
		noun = "match"
	}
	return fmt.Sprintf("%s: %s (%s); %d %s", m.Category, m.PatternID, m.Severity, total, noun)
}
