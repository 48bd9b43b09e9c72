package redact

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resumerag-go/internal/config"
)

var emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)

func TestRedact_Patterns(t *testing.T) {
	r := NewFromConfig(config.RedactionConfig{})
	ctx := context.Background()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"email", "Contact: jane.doe+cv@example.co.uk today", "Contact: [EMAIL] today"},
		{"phone nanp", "Call 555-123-4567 or (555) 987 6543.", "Call [PHONE] or [PHONE]."},
		{"phone intl", "Mobile +44 20 7946 0958", "Mobile [PHONE]"},
		{"long id is not a phone", "Order 55512345678901", "Order 55512345678901"},
		{"address", "Lives at 1234 Main Street, Apt 5B in town", "Lives at [ADDRESS] in town"},
		{"phone tail is not a house number", "Call 555-123-4567 Main Street today", "Call [PHONE] Main Street today"},
		{"dotted phone tail", "Call 555.123.4567 Ocean Drive", "Call [PHONE] Ocean Drive"},
		{"glued phone after name", "Name: John Smith5551234567", "Name: [NAME][PHONE]"},
		{"glued phone after email", "Contact: john@x.com5551234567", "Contact: [EMAIL][PHONE]"},
		{"labelled name", "Name: Jane Doe\nSkills: Go", "Name: [NAME]\nSkills: Go"},
		{"candidate label", "candidate: John Q. Public", "candidate: [NAME]"},
		{"plain text untouched", "5 years Python, Docker, AWS", "5 years Python, Docker, AWS"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Redact(ctx, tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRedact_HeaderName(t *testing.T) {
	ctx := context.Background()
	text := "\n  Jane Marie Doe  \nSenior Go Engineer\n5 years Python"

	on, err := NewFromConfig(config.RedactionConfig{HeaderName: true}).Redact(ctx, text)
	require.NoError(t, err)
	assert.Equal(t, "\n  [NAME]  \nSenior Go Engineer\n5 years Python", on)

	off, err := NewFromConfig(config.RedactionConfig{}).Redact(ctx, text)
	require.NoError(t, err)
	assert.Equal(t, text, off)

	heading, err := NewFromConfig(config.RedactionConfig{HeaderName: true}).Redact(ctx, "Curriculum Vitae\nGo")
	require.NoError(t, err)
	assert.Equal(t, "Curriculum Vitae\nGo", heading)
}

func TestRedact_NoEmailSurvives(t *testing.T) {
	r := NewFromConfig(config.RedactionConfig{HeaderName: true})
	inputs := []string{
		"a@b.cc",
		"x a@b.cc@d.ee y",
		"mail:first.last@sub.domain.org,second@x.io;third_3@y.travel",
		"[EMAIL]foo@bar.com",
		"<jane@doe.com>",
	}
	for _, in := range inputs {
		out, err := r.Redact(context.Background(), in)
		require.NoError(t, err)
		assert.False(t, emailPattern.MatchString(out), "email survived in %q -> %q", in, out)
		assert.Contains(t, out, "[EMAIL]")
	}
}

func TestRedact_Idempotent(t *testing.T) {
	r := NewFromConfig(config.RedactionConfig{HeaderName: true})
	inputs := []string{
		"Jane Doe\nEmail: jane@doe.com | Phone: +1 555 123 4567\n1234 Main Street\nName: Jane Doe",
		"Name: [NAME]\n[EMAIL] [PHONE]",
		"Name: John Smith5551234567",
		"Contact: john@x.com5551234567",
		"Call 555-123-4567 Main Street today",
		"no pii at all\r\n\twith   odd spacing ",
		"",
	}
	for _, in := range inputs {
		once, err := r.Redact(context.Background(), in)
		require.NoError(t, err)
		twice, err := r.Redact(context.Background(), once)
		require.NoError(t, err)
		assert.Equal(t, once, twice)
	}
}

func TestResolve(t *testing.T) {
	spans := Resolve([]Span{
		{Start: 0, End: 5, Category: CategoryName},
		{Start: 2, End: 10, Category: CategoryPhone},  // longest wins
		{Start: 12, End: 16, Category: CategoryName},  // tie on length, earlier start
		{Start: 14, End: 18, Category: CategoryEmail}, // loses to earlier start
		{Start: 20, End: 24, Category: CategoryName},  // same range, lower category wins
		{Start: 20, End: 24, Category: CategoryEmail},
		{Start: 30, End: 30, Category: CategoryEmail}, // empty
	})
	assert.Equal(t, []Span{
		{Start: 2, End: 10, Category: CategoryPhone},
		{Start: 12, End: 16, Category: CategoryName},
		{Start: 20, End: 24, Category: CategoryEmail},
	}, spans)
}

func TestApply_PreservesWhitespace(t *testing.T) {
	text := "a  b\n\tc"
	assert.Equal(t, "a  [NAME]\n\tc", Apply(text, []Span{{Start: 3, End: 4, Category: CategoryName}}))
	assert.Equal(t, text, Apply(text, nil))
}

type failingDetector struct{}

func (failingDetector) Name() string { return "failing" }
func (failingDetector) Detect(context.Context, string) ([]Span, error) {
	return nil, ErrDetectorUnavailable
}

func TestRedact_Degraded(t *testing.T) {
	r := New(&PatternDetector{}, failingDetector{})
	out, err := r.Redact(context.Background(), "jane@doe.com")
	assert.ErrorIs(t, err, ErrRedactionDegraded)
	assert.Empty(t, out, "unredacted text must not be returned")
}

func TestRedact_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewFromConfig(config.RedactionConfig{}).Redact(ctx, "x")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPolicy(t *testing.T) {
	a := NewFromConfig(config.RedactionConfig{})
	b := NewFromConfig(config.RedactionConfig{})
	c := NewFromConfig(config.RedactionConfig{HeaderName: true})
	assert.Equal(t, a.Policy(), b.Policy())
	assert.NotEqual(t, a.Policy(), c.Policy())
	assert.True(t, strings.HasPrefix(a.Policy(), "redact-v1-"))
}

func TestNERDetector(t *testing.T) {
	text := "Résumé of José Núñez, Go developer"
	var (
		mu   sync.Mutex
		seen []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req nerRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		mu.Lock()
		seen = append(seen, req.Text)
		mu.Unlock()
		if req.Text != text {
			_ = json.NewEncoder(w).Encode(nerResponse{})
			return
		}
		_ = json.NewEncoder(w).Encode(nerResponse{Entities: []nerEntity{
			{Start: 10, End: 20, Label: "PERSON"},
			{Start: 22, End: 24, Label: "ORG"},
		}})
	}))
	defer srv.Close()

	r := NewFromConfig(config.RedactionConfig{NERURL: srv.URL})
	out, err := r.Redact(context.Background(), text)
	require.NoError(t, err)
	assert.Equal(t, "Résumé of [NAME], Go developer", out)
	// 第二轮确认输出已稳定
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{text, out}, seen)
}

func TestNERDetector_Unavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model loading", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	r := NewFromConfig(config.RedactionConfig{NERURL: srv.URL})
	_, err := r.Redact(context.Background(), "Jane Doe")
	assert.ErrorIs(t, err, ErrRedactionDegraded)
	assert.Contains(t, err.Error(), "503")
}
