package service

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// skillVocabulary lists technology and skill terms recognized anywhere in a job description,
// in their display form. Matching is case-insensitive and word-bounded.
var skillVocabulary = []string{
	"Python", "Java", "JavaScript", "TypeScript", "Golang", "Rust", "C++", "C#", "Ruby", "PHP",
	"Scala", "Kotlin", "Swift", "SQL", "NoSQL", "Bash",
	"React", "Angular", "Vue", "Node.js", "Next.js", "Django", "Flask", "FastAPI", "Spring",
	"Spring Boot", "Rails", ".NET", "GraphQL",
	"Docker", "Kubernetes", "Terraform", "Ansible", "AWS", "Azure", "GCP", "Linux", "Git",
	"CI/CD", "Jenkins", "Helm",
	"PostgreSQL", "MySQL", "MongoDB", "Redis", "Elasticsearch", "Kafka", "RabbitMQ",
	"Spark", "Hadoop", "Airflow", "Pandas", "NumPy", "TensorFlow", "PyTorch",
	"Machine Learning", "Deep Learning", "NLP", "Computer Vision",
}

// bulletLine recognizes itemized lines: "- x", "* x", "• x", "1. x", "1) x".
var bulletLine = regexp.MustCompile(`^\s*(?:[-*•]|\d+[.)])\s+(.+?)\s*$`)

// maxFreeTermWords bounds how long an itemized line without known skills may be to count as a
// requirement on its own.
const maxFreeTermWords = 4

type termMatch struct {
	start, end int
	term       string
}

// ExtractRequirements derives the ordered requirement terms of a job description.
//
// An itemized line contributes the vocabulary skills it mentions, or the line itself when it is
// short and mentions none. Vocabulary skills outside itemized lines count too. Terms are
// deduplicated case-insensitively and keep their first-appearance order.
func ExtractRequirements(text string) []string {
	var terms []string
	seen := make(map[string]bool)
	add := func(term string) {
		key := normalizeForMatch(term)
		if key == "" || seen[key] {
			return
		}
		seen[key] = true
		terms = append(terms, term)
	}

	for _, line := range strings.Split(text, "\n") {
		m := bulletLine.FindStringSubmatch(line)
		if m == nil {
			for _, s := range findSkills(line) {
				add(s.term)
			}
			continue
		}

		item := m[1]
		skills := findSkills(item)
		for _, s := range skills {
			add(s.term)
		}
		if len(skills) == 0 {
			item = strings.TrimRight(item, ".,;:")
			if n := len(strings.Fields(item)); n > 0 && n <= maxFreeTermWords {
				add(strings.Join(strings.Fields(item), " "))
			}
		}
	}
	return terms
}

// findSkills returns the vocabulary terms found in line, ordered by position. Where two terms
// overlap ("Spring Boot" and "Spring") the longer one is kept.
func findSkills(line string) []termMatch {
	haystack := strings.ToLower(line)
	var found []termMatch
	for _, term := range skillVocabulary {
		needle := strings.ToLower(term)
		if start := indexWordBounded(haystack, needle); start >= 0 {
			found = append(found, termMatch{start: start, end: start + len(needle), term: term})
		}
	}
	sort.Slice(found, func(i, j int) bool {
		if found[i].start != found[j].start {
			return found[i].start < found[j].start
		}
		return found[i].end > found[j].end
	})

	var out []termMatch
	for _, f := range found {
		if len(out) > 0 && f.start < out[len(out)-1].end {
			continue
		}
		out = append(out, f)
	}
	return out
}

// MissingRequirements returns, in order, the terms with no case-insensitive, whitespace-normalized,
// word-bounded occurrence in text.
func MissingRequirements(terms []string, text string) []string {
	haystack := normalizeForMatch(text)
	missing := make([]string, 0)
	for _, term := range terms {
		needle := normalizeForMatch(term)
		if needle == "" {
			continue
		}
		if indexWordBounded(haystack, needle) < 0 {
			missing = append(missing, term)
		}
	}
	return missing
}

func normalizeForMatch(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// indexWordBounded finds needle in haystack where the characters on either side are not letters
// or digits. Terms such as "C++" or "Node.js" carry their own punctuation, so \b is not usable.
func indexWordBounded(haystack, needle string) int {
	if needle == "" {
		return -1
	}
	from := 0
	for from <= len(haystack)-len(needle) {
		i := strings.Index(haystack[from:], needle)
		if i < 0 {
			return -1
		}
		start := from + i
		end := start + len(needle)
		if boundaryBefore(haystack, start, needle) && boundaryAfter(haystack, end, needle) {
			return start
		}
		from = start + 1
	}
	return -1
}

func boundaryBefore(s string, i int, needle string) bool {
	if i == 0 || !isWordRune(firstRune(needle)) {
		return true
	}
	return !isWordRune(lastRune(s[:i]))
}

func boundaryAfter(s string, i int, needle string) bool {
	if i >= len(s) || !isWordRune(lastRune(needle)) {
		return true
	}
	return !isWordRune(firstRune(s[i:]))
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

func firstRune(s string) rune {
	r, _ := utf8.DecodeRuneInString(s)
	return r
}

func lastRune(s string) rune {
	r, _ := utf8.DecodeLastRuneInString(s)
	return r
}
