package redact

import (
	"context"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

type spanPattern struct {
	category Category
	regex    *regexp.Regexp
	// group selects the submatch that forms the span; 0 means the whole match.
	group int
	// accept rejects matches the regex alone cannot rule out.
	accept func(text string, start, end int) bool
}

var patterns = []spanPattern{
	{
		category: CategoryEmail,
		regex:    regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`),
	},
	{
		// 北美号码: 555-123-4567, (555) 123 4567, +1 555.123.4567
		category: CategoryPhone,
		regex:    regexp.MustCompile(`(?:\+1[ .-]?)?(?:\(\d{3}\)|\d{3})[ .-]?\d{3}[ .-]?\d{4}`),
		accept:   phoneBounded,
	},
	{
		// 国际号码: +44 20 7946 0958, +86-138-0013-8000
		category: CategoryPhone,
		regex:    regexp.MustCompile(`\+\d{1,3}(?:[ .-]?\(?\d{1,4}\)?){2,5}`),
		accept: func(text string, start, end int) bool {
			n := countDigits(text[start:end])
			return n >= 8 && n <= 15 && phoneBounded(text, start, end)
		},
	},
	{
		category: CategoryAddress,
		regex: regexp.MustCompile(`\b\d{1,6}[ \t]+(?:[A-Z][A-Za-z]*\.?[ \t]+){1,4}` +
			`(?:Street|St|Avenue|Ave|Road|Rd|Boulevard|Blvd|Lane|Ln|Drive|Dr|Court|Ct|Way|Place|Pl|Terrace|Parkway|Pkwy)\b\.?` +
			`(?:,?[ \t]*(?:Apt|Suite|Unit)\.?[ \t]*#?[A-Za-z0-9-]+)?`),
		accept: houseNumberStart,
	},
	{
		category: CategoryName,
		regex: regexp.MustCompile(`(?m)(?i:\b(?:full[ \t]+name|candidate[ \t]+name|name|candidate))[ \t]*:[ \t]*` +
			`(\p{Lu}[\p{L}'’-]*\.?(?:[ \t]+\p{Lu}[\p{L}'’-]*\.?){0,3})`),
		group: 1,
	},
}

var headerName = regexp.MustCompile(`^\p{Lu}[\p{L}'’.-]*(?:[ \t]+\p{Lu}[\p{L}'’.-]*){1,3}$`)

// Words that make a capitalized first line a heading rather than a person.
var headerStopWords = map[string]bool{
	"resume": true, "résumé": true, "cv": true, "curriculum": true, "vitae": true,
	"profile": true, "summary": true, "experience": true, "education": true, "skills": true,
	"engineer": true, "developer": true, "manager": true, "senior": true, "software": true,
	"contact": true, "objective": true, "professional": true,
}

// PatternDetector finds personal data with regular expressions. It never fails.
type PatternDetector struct {
	// HeaderName treats a first line of 2-4 capitalized words as the candidate's name.
	HeaderName bool
}

func (d *PatternDetector) Name() string {
	if d.HeaderName {
		return "pattern/v1+header"
	}
	return "pattern/v1"
}

func (d *PatternDetector) Detect(_ context.Context, text string) ([]Span, error) {
	var spans []Span
	for _, p := range patterns {
		for _, m := range p.regex.FindAllStringSubmatchIndex(text, -1) {
			start, end := m[2*p.group], m[2*p.group+1]
			if start < 0 || start == end {
				continue
			}
			if p.accept != nil && !p.accept(text, start, end) {
				continue
			}
			spans = append(spans, Span{Start: start, End: end, Category: p.category})
		}
	}
	if d.HeaderName {
		if s, ok := headerSpan(text); ok {
			spans = append(spans, s)
		}
	}
	return spans, nil
}

// headerSpan returns the first non-empty line when it looks like a personal name.
func headerSpan(text string) (Span, bool) {
	offset := 0
	for _, line := range strings.SplitAfter(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			offset += len(line)
			continue
		}
		if !headerName.MatchString(trimmed) {
			return Span{}, false
		}
		for _, w := range strings.Fields(trimmed) {
			if headerStopWords[strings.ToLower(strings.Trim(w, ".-'’"))] {
				return Span{}, false
			}
		}
		start := offset + strings.Index(line, trimmed)
		return Span{Start: start, End: start + len(trimmed), Category: CategoryName}, true
	}
	return Span{}, false
}

// phoneBounded rejects digit runs that continue past the match, such as long ids.
func phoneBounded(text string, start, end int) bool {
	if start > 0 {
		r, _ := utf8.DecodeLastRuneInString(text[:start])
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return false
		}
	}
	if end < len(text) {
		r, _ := utf8.DecodeRuneInString(text[end:])
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// houseNumberStart rejects house numbers that are the tail of another number, such as the last
// group of 555-123-4567.
func houseNumberStart(text string, start, _ int) bool {
	if start == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(text[:start])
	switch r {
	case '-', '.', ')', '/', '+':
		return false
	}
	return !unicode.IsDigit(r) && !unicode.IsLetter(r)
}

func countDigits(s string) int {
	n := 0
	for i := 0; i < len(s); i++ {
		if s[i] >= '0' && s[i] <= '9' {
			n++
		}
	}
	return n
}
