package detection

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// placeholder matches a tag left by a previous full mask.
var placeholder = regexp.MustCompile(`\[[A-Z0-9_]+\]`)

// Masker redacts matched spans.
type Masker struct {
	matcher *Matcher
}

// NewMasker creates a Masker. The matcher is only used by Redact and may be
// nil when callers always pass their own matches to Mask.
func NewMasker(matcher *Matcher) *Masker {
	return &Masker{matcher: matcher}
}

// region is a merged span of overlapping maskable matches.
type region struct {
	start, end int
	lead       MatchResult
}

// Mask returns a copy of text with every maskable match redacted.
// Overlapping matches are merged into one region first, so no character is
// redacted twice and no sensitive value is left half-masked. The merged
// region uses the strategy of its highest-severity member. Matches that lie
// inside an existing mask tag, or whose text no longer matches the span,
// are ignored, so masking twice with the same matches is a no-op.
func (k *Masker) Mask(text string, matches []MatchResult) string {
	regions := mergeRegions(text, matches)
	if len(regions) == 0 {
		return text
	}

	var b strings.Builder
	b.Grow(len(text))
	pos := 0
	for _, rg := range regions {
		b.WriteString(text[pos:rg.start])
		b.WriteString(apply(rg.lead, text[rg.start:rg.end]))
		pos = rg.end
	}
	b.WriteString(text[pos:])
	return b.String()
}

// Redact scans text and masks the result.
func (k *Masker) Redact(text string) string {
	if k.matcher == nil || text == "" {
		return text
	}
	return k.Mask(text, k.matcher.Scan(text))
}

func mergeRegions(text string, matches []MatchResult) []region {
	var tags [][]int
	if strings.IndexByte(text, '[') >= 0 {
		tags = placeholder.FindAllStringIndex(text, -1)
	}

	maskable := make([]MatchResult, 0, len(matches))
	for _, m := range matches {
		if m.MaskMethod == MaskNone || m.Start < 0 || m.End > len(text) || m.Start >= m.End {
			continue
		}
		// A match whose text no longer sits at its offsets was found in an
		// earlier version of text, usually before it was masked.
		if m.Text != "" && text[m.Start:m.End] != m.Text {
			continue
		}
		if insideAny(m.Start, m.End, tags) {
			continue
		}
		maskable = append(maskable, m)
	}
	if len(maskable) == 0 {
		return nil
	}

	sort.Slice(maskable, func(i, j int) bool {
		if maskable[i].Start != maskable[j].Start {
			return maskable[i].Start < maskable[j].Start
		}
		return maskable[i].End > maskable[j].End
	})

	var out []region
	cur := region{start: maskable[0].Start, end: maskable[0].End, lead: maskable[0]}
	for _, m := range maskable[1:] {
		if m.Start < cur.end {
			if m.End > cur.end {
				cur.end = m.End
			}
			if outranks(m, cur.lead) {
				cur.lead = m
			}
			continue
		}
		out = append(out, cur)
		cur = region{start: m.Start, end: m.End, lead: m}
	}
	return append(out, cur)
}

// outranks reports whether a should lead a merged region over b.
func outranks(a, b MatchResult) bool {
	if ra, rb := a.Severity.Rank(), b.Severity.Rank(); ra != rb {
		return ra > rb
	}
	if a.Start != b.Start {
		return a.Start < b.Start
	}
	return a.PatternID < b.PatternID
}

func insideAny(start, end int, spans [][]int) bool {
	for _, s := range spans {
		if start >= s[0] && end <= s[1] {
			return true
		}
	}
	return false
}

func apply(lead MatchResult, value string) string {
	switch lead.MaskMethod {
	case MaskPartial:
		return maskPartial(value)
	case MaskStructural:
		return maskStructural(value)
	case MaskHash:
		sum := sha256.Sum256([]byte(value))
		return "sha256:" + hex.EncodeToString(sum[:])[:12]
	default:
		if lead.MaskTag != "" {
			return lead.MaskTag
		}
		return "[REDACTED]"
	}
}

// maskPartial keeps the first and last two characters.
func maskPartial(value string) string {
	n := utf8.RuneCountInString(value)
	if n <= 4 {
		return strings.Repeat("*", n)
	}
	runes := []rune(value)
	return string(runes[:2]) + strings.Repeat("*", n-4) + string(runes[n-2:])
}

// maskStructural replaces digits with '*' and letters with 'X', keeping
// separators such as dashes, dots and parentheses.
func maskStructural(value string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case unicode.IsDigit(r):
			return '*'
		case unicode.IsLetter(r):
			return 'X'
		default:
			return r
		}
	}, value)
}
