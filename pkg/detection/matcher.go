package detection

import (
	"log/slog"
	"sort"
	"strings"
	"time"
)

// MatcherOptions configures a Matcher.
type MatcherOptions struct {
	// Budget bounds the time one rule may spend on one input. Zero disables
	// the budget.
	Budget time.Duration

	// MaxMatches caps the matches kept per rule per input. Zero means no cap.
	MaxMatches int

	Logger *slog.Logger
}

// Matcher scans text against a registry. It holds no mutable state and may
// be shared across goroutines.
type Matcher struct {
	registry   *Registry
	budget     time.Duration
	maxMatches int
	logger     *slog.Logger

	// window is the core size of one budgeted scan step.
	window int

	// now is replaced in tests to simulate slow rules.
	now func() time.Time
}

const (
	// scanWindow is how much text a rule scans between budget checks.
	scanWindow = 64 << 10
	// windowOverlap is the context added on both sides of a window so
	// matches near its edges are found whole.
	windowOverlap = 1 << 10
)

// NewMatcher creates a Matcher over reg.
func NewMatcher(reg *Registry, opts MatcherOptions) *Matcher {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Matcher{
		registry:   reg,
		budget:     opts.Budget,
		maxMatches: opts.MaxMatches,
		logger:     logger.With("component", "detection.matcher"),
		window:     scanWindow,
		now:        time.Now,
	}
}

// Scan returns the ordered matches for text.
func (m *Matcher) Scan(text string) []MatchResult {
	return m.ScanReport(text).Matches
}

// ScanReport applies every active rule to text. Matches are ordered by
// severity descending, then start offset ascending, then pattern ID, so the
// same input and registry always yield the same list.
func (m *Matcher) ScanReport(text string) ScanReport {
	start := m.now()
	report := ScanReport{}
	if text == "" {
		return report
	}

	var lowered string
	for _, ru := range m.registry.active() {
		if len(ru.def.Context) > 0 {
			if lowered == "" {
				lowered = strings.ToLower(text)
			}
			if !containsAny(lowered, ru.def.Context) {
				continue
			}
		}

		locs, elapsed, over := m.findAll(ru, text)
		if over {
			report.Skipped = append(report.Skipped, SkippedRule{
				PatternID: ru.def.ID,
				Reason:    SkipBudget,
				Elapsed:   elapsed,
			})
			m.logger.Warn("rule exceeded budget",
				"pattern", ru.def.ID,
				"elapsed", elapsed,
				"budget", m.budget,
				"text_bytes", len(text),
			)
			continue
		}
		if m.maxMatches > 0 && len(locs) > m.maxMatches {
			locs = locs[:m.maxMatches]
			report.Skipped = append(report.Skipped, SkippedRule{
				PatternID: ru.def.ID,
				Reason:    SkipMatchCap,
				Elapsed:   elapsed,
			})
			m.logger.Warn("rule hit match cap",
				"pattern", ru.def.ID,
				"max_matches", m.maxMatches,
			)
		}

		for _, loc := range locs {
			if loc[0] == loc[1] {
				continue
			}
			report.Matches = append(report.Matches, MatchResult{
				PatternID:  ru.def.ID,
				Category:   ru.def.Category,
				Severity:   ru.def.Severity,
				Start:      loc[0],
				End:        loc[1],
				Text:       text[loc[0]:loc[1]],
				MaskMethod: ru.def.MaskMethod,
				MaskTag:    ru.def.MaskTag,
			})
		}
	}

	SortMatches(report.Matches)
	report.Duration = m.now().Sub(start)
	return report
}

// findAll returns the match offsets of one rule. Text longer than one
// window is scanned window by window and the rule is abandoned as soon as
// it passes its budget. Each window keeps only matches that start in its
// core, so matches are neither lost nor duplicated at the edges; a match
// longer than windowOverlap that crosses a core edge is cut at the window
// end.
func (m *Matcher) findAll(ru *rule, text string) (locs [][]int, elapsed time.Duration, over bool) {
	limit := -1
	if m.maxMatches > 0 {
		limit = m.maxMatches + 1
	}

	start := m.now()
	if m.budget <= 0 || m.window <= 0 || len(text) <= m.window {
		locs = ru.re.FindAllStringIndex(text, limit)
		elapsed = m.now().Sub(start)
		return locs, elapsed, m.budget > 0 && elapsed > m.budget
	}

	for core := 0; core < len(text); core += m.window {
		coreEnd := min(core+m.window, len(text))
		lo := max(core-windowOverlap, 0)
		hi := min(coreEnd+windowOverlap, len(text))

		for _, loc := range ru.re.FindAllStringIndex(text[lo:hi], -1) {
			s, e := loc[0]+lo, loc[1]+lo
			if s < core || s >= coreEnd {
				continue
			}
			locs = append(locs, []int{s, e})
		}

		elapsed = m.now().Sub(start)
		if elapsed > m.budget {
			return nil, elapsed, true
		}
		if limit > 0 && len(locs) >= limit {
			break
		}
	}
	return locs, elapsed, false
}

// SortMatches orders matches by severity descending, start ascending, then
// pattern ID and end offset.
func SortMatches(matches []MatchResult) {
	sort.SliceStable(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if ra, rb := a.Severity.Rank(), b.Severity.Rank(); ra != rb {
			return ra > rb
		}
		if a.Start != b.Start {
			return a.Start < b.Start
		}
		if a.PatternID != b.PatternID {
			return a.PatternID < b.PatternID
		}
		return a.End < b.End
	})
}

func containsAny(text string, terms []string) bool {
	for _, t := range terms {
		if strings.Contains(text, t) {
			return true
		}
	}
	return false
}
