package detection

import (
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/cylestio/cylestio-monitor/pkg/config"
)

// rule is a compiled PatternDefinition.
type rule struct {
	def PatternDefinition
	re  *regexp.Regexp
}

// Registry holds every screening rule, indexed by kind. It is read-only
// after NewRegistry returns and safe for concurrent use.
type Registry struct {
	rules    []*rule
	byID     map[string]*rule
	literals map[string][]*rule
	regexes  []*rule
}

// NewRegistry builds a registry from the security configuration. Rules that
// fail to load are kept inactive and reported in the returned slice as
// *ConfigError values; a non-empty slice is never fatal.
func NewRegistry(cfg config.SecurityConfig, logger *slog.Logger) (*Registry, []error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "detection.registry")

	categories := map[string]config.CategoryConfig{}
	patterns := map[string]config.PatternConfig{}
	if cfg.IncludeDefaults {
		for name, c := range DefaultCategories() {
			categories[name] = c
		}
		for name, p := range DefaultPatterns() {
			patterns[name] = p
		}
	}
	for name, c := range cfg.Categories {
		categories[name] = c
	}
	for name, p := range cfg.Patterns {
		patterns[name] = p
	}

	defaultMask := MaskMethod(cfg.DefaultMaskMethod)
	if defaultMask == MaskNone {
		defaultMask = MaskFull
	}

	r := &Registry{
		byID:     make(map[string]*rule),
		literals: make(map[string][]*rule),
	}
	var errs []error

	for _, name := range sortedKeys(categories) {
		cat := categories[name]
		severity := Severity(cat.Severity)
		if severity == "" {
			severity = defaultSeverity(name)
		}
		mask := MaskMethod(cat.MaskMethod)
		if mask == MaskNone && name == CategorySensitiveData {
			mask = defaultMask
		}

		contexts := make(map[string][]string, len(cat.RequireContext))
		for kw, terms := range cat.RequireContext {
			contexts[NormalizeKeyword(kw)] = lowerAll(terms)
		}

		seen := make(map[string]bool)
		for _, raw := range cat.Keywords {
			kw := NormalizeKeyword(raw)
			if kw == "" || seen[kw] {
				continue
			}
			seen[kw] = true

			def := PatternDefinition{
				ID:          name + "/" + kw,
				Category:    name,
				Kind:        KindKeyword,
				Severity:    severity,
				Description: cat.Description,
				Source:      kw,
				Context:     contexts[kw],
				MaskMethod:  mask,
				MaskTag:     tagFor(kw),
				Active:      cat.IsEnabled(),
			}
			re, err := compileKeyword(kw)
			if err != nil {
				def.Active = false
				cerr := NewConfigError(def.ID, fmt.Errorf("%w: %v", ErrInvalidPattern, err))
				errs = append(errs, cerr)
				logger.Warn("keyword disabled", "pattern", def.ID, "error", err)
			}
			ru := &rule{def: def, re: re}
			r.add(ru)
			r.literals[kw] = append(r.literals[kw], ru)
		}
	}

	for _, name := range sortedKeys(patterns) {
		p := patterns[name]
		severity := Severity(p.Severity)
		if severity == "" {
			severity = defaultSeverity(p.Category)
		}
		mask := MaskMethod(p.MaskMethod)
		if mask == MaskNone && p.Category == CategorySensitiveData {
			mask = defaultMask
		}
		tag := p.MaskTag
		if tag == "" {
			tag = tagFor(name)
		}

		def := PatternDefinition{
			ID:          name,
			Category:    p.Category,
			Kind:        KindRegex,
			Severity:    severity,
			Description: p.Description,
			Source:      p.Regex,
			MaskMethod:  mask,
			MaskTag:     tag,
			Active:      p.IsEnabled(),
		}
		if _, dup := r.byID[name]; dup {
			def.Active = false
			def.ID = name + "#regex"
			errs = append(errs, NewConfigError(name, fmt.Errorf("%w: id collides with a keyword rule", ErrInvalidPattern)))
			logger.Warn("pattern disabled", "pattern", name, "error", "duplicate id")
		}

		re, err := regexp.Compile(p.Regex)
		if err != nil {
			def.Active = false
			errs = append(errs, NewConfigError(name, fmt.Errorf("%w: %v", ErrInvalidPattern, err)))
			logger.Warn("pattern disabled", "pattern", name, "error", err)
		}
		ru := &rule{def: def, re: re}
		r.add(ru)
		r.regexes = append(r.regexes, ru)
	}

	logger.Debug("registry loaded",
		"rules", len(r.rules),
		"active", r.ActiveCount(),
		"keywords", len(r.literals),
		"regexes", len(r.regexes),
		"errors", len(errs),
	)

	return r, errs
}

func (r *Registry) add(ru *rule) {
	r.rules = append(r.rules, ru)
	r.byID[ru.def.ID] = ru
}

// Definitions returns a copy of every definition, ordered by ID.
func (r *Registry) Definitions() []PatternDefinition {
	defs := make([]PatternDefinition, 0, len(r.rules))
	for _, ru := range r.rules {
		defs = append(defs, ru.def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].ID < defs[j].ID })
	return defs
}

// Definition looks up a definition by ID.
func (r *Registry) Definition(id string) (PatternDefinition, bool) {
	ru, ok := r.byID[id]
	if !ok {
		return PatternDefinition{}, false
	}
	return ru.def, true
}

// Keyword returns the rules registered for a keyword, matched after
// normalization.
func (r *Registry) Keyword(keyword string) []PatternDefinition {
	rules := r.literals[NormalizeKeyword(keyword)]
	defs := make([]PatternDefinition, 0, len(rules))
	for _, ru := range rules {
		defs = append(defs, ru.def)
	}
	return defs
}

// ActiveCount returns the number of active rules.
func (r *Registry) ActiveCount() int {
	n := 0
	for _, ru := range r.rules {
		if ru.def.Active {
			n++
		}
	}
	return n
}

// active returns the active rules in a stable order.
func (r *Registry) active() []*rule {
	out := make([]*rule, 0, len(r.rules))
	for _, ru := range r.rules {
		if ru.def.Active && ru.re != nil {
			out = append(out, ru)
		}
	}
	return out
}

// NormalizeKeyword lower-cases a keyword and collapses internal whitespace.
func NormalizeKeyword(kw string) string {
	return strings.Join(strings.Fields(strings.ToLower(kw)), " ")
}

// compileKeyword turns a normalized keyword into a case-insensitive regex.
// Whitespace inside phrases matches any run of whitespace. Single words are
// anchored on word boundaries where the keyword starts or ends with a word
// character; phrases match as substrings.
func compileKeyword(kw string) (*regexp.Regexp, error) {
	words := strings.Fields(kw)
	quoted := make([]string, len(words))
	for i, w := range words {
		quoted[i] = regexp.QuoteMeta(w)
	}
	expr := strings.Join(quoted, `\s+`)

	if len(words) == 1 {
		first, _ := utf8.DecodeRuneInString(kw)
		last, _ := utf8.DecodeLastRuneInString(kw)
		if isWordRune(first) {
			expr = `\b` + expr
		}
		if isWordRune(last) {
			expr = expr + `\b`
		}
	}
	return regexp.Compile(`(?i)` + expr)
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// tagFor derives a full-mask tag from a rule name: "credit card" -> "[CREDIT_CARD]".
func tagFor(name string) string {
	var b strings.Builder
	b.WriteByte('[')
	for _, r := range strings.ToUpper(name) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	b.WriteByte(']')
	return b.String()
}

func defaultSeverity(category string) Severity {
	if category == CategoryDangerousCommands {
		return SeverityHigh
	}
	return SeverityMedium
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
