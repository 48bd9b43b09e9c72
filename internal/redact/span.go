package redact

import (
	"sort"
	"strings"
)

// Category is the kind of personal data a span holds. The declaration order is the final
// tie-break when two candidate spans have the same length and start.
type Category int

const (
	CategoryEmail Category = iota
	CategoryPhone
	CategoryAddress
	CategoryName
)

var placeholders = map[Category]string{
	CategoryEmail:   "[EMAIL]",
	CategoryPhone:   "[PHONE]",
	CategoryAddress: "[ADDRESS]",
	CategoryName:    "[NAME]",
}

// Placeholder returns the token that replaces spans of this category.
func (c Category) Placeholder() string {
	return placeholders[c]
}

func (c Category) String() string {
	switch c {
	case CategoryEmail:
		return "email"
	case CategoryPhone:
		return "phone"
	case CategoryAddress:
		return "address"
	case CategoryName:
		return "name"
	}
	return "unknown"
}

// Span is a half-open byte range [Start, End) of the input text.
type Span struct {
	Start    int
	End      int
	Category Category
}

func (s Span) Len() int { return s.End - s.Start }

func (s Span) overlaps(o Span) bool {
	return s.Start < o.End && o.Start < s.End
}

// Resolve picks a non-overlapping subset of candidate spans: the longest span wins, ties go to
// the earlier start, then to the lower category. The result is ordered by Start.
func Resolve(candidates []Span) []Span {
	ordered := make([]Span, 0, len(candidates))
	for _, s := range candidates {
		if s.End > s.Start {
			ordered = append(ordered, s)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if a.Len() != b.Len() {
			return a.Len() > b.Len()
		}
		if a.Start != b.Start {
			return a.Start < b.Start
		}
		return a.Category < b.Category
	})

	var kept []Span
	for _, cand := range ordered {
		clash := false
		for _, k := range kept {
			if cand.overlaps(k) {
				clash = true
				break
			}
		}
		if !clash {
			kept = append(kept, cand)
		}
	}
	sort.Slice(kept, func(i, j int) bool { return kept[i].Start < kept[j].Start })
	return kept
}

// Apply replaces each span with its placeholder. spans must be non-overlapping and ordered,
// as returned by Resolve. Text outside the spans is copied unchanged.
func Apply(text string, spans []Span) string {
	if len(spans) == 0 {
		return text
	}
	var sb strings.Builder
	sb.Grow(len(text))
	pos := 0
	for _, s := range spans {
		sb.WriteString(text[pos:s.Start])
		sb.WriteString(s.Category.Placeholder())
		pos = s.End
	}
	sb.WriteString(text[pos:])
	return sb.String()
}

// placeholderRanges locates placeholder tokens already present in text. Candidate spans overlapping
// them are discarded, which keeps redaction of already redacted text a no-op.
func placeholderRanges(text string) []Span {
	var out []Span
	for c, p := range placeholders {
		from := 0
		for {
			i := strings.Index(text[from:], p)
			if i < 0 {
				break
			}
			start := from + i
			out = append(out, Span{Start: start, End: start + len(p), Category: c})
			from = start + len(p)
		}
	}
	return out
}
