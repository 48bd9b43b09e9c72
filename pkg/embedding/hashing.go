package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

const (
	defaultHashingModel = "hashing-v1"
	defaultHashingDims  = 384
)

var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true, "be": true,
	"by": true, "for": true, "from": true, "has": true, "have": true, "in": true, "is": true,
	"it": true, "its": true, "of": true, "on": true, "or": true, "that": true, "the": true,
	"this": true, "to": true, "was": true, "were": true, "will": true, "with": true,
	"who": true, "what": true, "which": true, "we": true, "you": true, "our": true,
}

// HashingClient is a local, deterministic bag-of-words model. Each lowercase token is hashed
// into one of Dimensions buckets with a hashed sign; when the signs cancel to zero the counts
// are taken unsigned instead. The vector is L2-normalized. Cosine
// similarity therefore measures weighted token overlap. It needs no network and is the default
// for offline runs and tests.
type HashingClient struct {
	model      string
	dimensions int
}

func NewHashingClient(model string, dimensions int) *HashingClient {
	if model == "" {
		model = defaultHashingModel
	}
	if dimensions <= 0 {
		dimensions = defaultHashingDims
	}
	return &HashingClient{model: model, dimensions: dimensions}
}

func (c *HashingClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = c.vector(t)
	}
	return out, nil
}

func (c *HashingClient) vector(text string) []float32 {
	v := make([]float32, c.dimensions)
	tokens := Tokenize(text)
	if len(tokens) == 0 {
		// 全是停用词或符号时退化为整体哈希，保证向量非零
		if s := strings.TrimSpace(strings.ToLower(text)); s != "" {
			tokens = []string{s}
		}
	}
	buckets := make([]int, len(tokens))
	signs := make([]float32, len(tokens))
	for i, tok := range tokens {
		h := fnv.New64a()
		_, _ = h.Write([]byte(tok))
		sum := h.Sum64()
		buckets[i] = int(sum % uint64(c.dimensions))
		signs[i] = 1
		if sum>>63 == 1 {
			signs[i] = -1
		}
		v[buckets[i]] += signs[i]
	}

	norm := sumSquares(v)
	if norm == 0 && len(tokens) > 0 {
		// 符号相反的词落入同一桶会相互抵消，此时改用无符号计数
		for _, b := range buckets {
			v[b]++
		}
		norm = sumSquares(v)
	}
	if norm == 0 {
		return v
	}
	inv := float32(1 / math.Sqrt(norm))
	for i := range v {
		v[i] *= inv
	}
	return v
}

func sumSquares(v []float32) float64 {
	var n float64
	for _, x := range v {
		n += float64(x) * float64(x)
	}
	return n
}

// Tokenize lowercases text and splits it into word tokens, dropping stopwords. '+', '#' and
// inner '.' stay part of a token so that "C++", "C#" and "Node.js" survive.
func Tokenize(text string) []string {
	var (
		tokens []string
		cur    strings.Builder
	)
	flush := func() {
		tok := strings.TrimRight(cur.String(), ".")
		cur.Reset()
		if tok != "" && !stopwords[tok] {
			tokens = append(tokens, tok)
		}
	}
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			cur.WriteRune(r)
		case (r == '+' || r == '#') && cur.Len() > 0:
			cur.WriteRune(r)
		case r == '.' && cur.Len() > 0:
			cur.WriteRune(r)
		default:
			flush()
		}
	}
	flush()
	return tokens
}

func (c *HashingClient) ModelVersion() string {
	return modelVersion("hashing", c.model, c.dimensions)
}

func (c *HashingClient) Dimensions() int {
	return c.dimensions
}

func (c *HashingClient) Close() error {
	return nil
}
