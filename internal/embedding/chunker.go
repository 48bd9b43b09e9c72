package embedding

import (
	"strings"
	"unicode/utf8"
)

// Piece is a window of the source text. Start and End are byte offsets [Start, End).
type Piece struct {
	Index int
	Start int
	End   int
	Text  string
}

// Split cuts text into windows of size runes, each starting size-overlap runes after the previous
// one, so consecutive pieces share overlap runes. The last piece ends at the end of text.
// A window holding only whitespace is folded into its neighbour, so every piece has content and
// the pieces still cover the whole text. size must be positive and overlap in [0, size).
func Split(text string, size, overlap int) []Piece {
	if strings.TrimSpace(text) == "" || size <= 0 {
		return nil
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}

	// offsets[i] 是第 i 个 rune 的字节偏移，末尾追加 len(text)
	offsets := make([]int, 0, utf8.RuneCountInString(text)+1)
	for i := range text {
		offsets = append(offsets, i)
	}
	n := len(offsets)
	offsets = append(offsets, len(text))

	step := size - overlap
	var pieces []Piece
	pending := -1 // 开头空白窗口的起点，并入下一个有内容的窗口
	for start := 0; ; start += step {
		end := start + size
		if end > n {
			end = n
		}
		p := Piece{Start: offsets[start], End: offsets[end]}
		switch {
		case strings.TrimSpace(text[p.Start:p.End]) != "":
			if pending >= 0 {
				p.Start, pending = pending, -1
			}
			pieces = append(pieces, p)
		case len(pieces) > 0:
			pieces[len(pieces)-1].End = p.End
		case pending < 0:
			pending = p.Start
		}
		if end == n {
			break
		}
	}
	for i := range pieces {
		pieces[i].Index = i
		pieces[i].Text = text[pieces[i].Start:pieces[i].End]
	}
	return pieces
}

// NormalizeText collapses whitespace runs to a single space and trims the ends. It is the form
// that is embedded and hashed.
func NormalizeText(text string) string {
	return strings.Join(strings.Fields(text), " ")
}
