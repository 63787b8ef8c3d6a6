package scrape

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chainwatch/internal/slogutil"
)

func page(bio string) string {
	return fmt.Sprintf(`<html><head>
<meta property="og:title" content="Someone">
<meta property="og:description" content="%s">
</head></html>`, bio)
}

func TestExtractBio(t *testing.T) {
	bio, ok := ExtractBio(page("next: @bobby_b &amp; friends"))
	require.True(t, ok)
	assert.Equal(t, "next: @bobby_b & friends", bio)

	_, ok = ExtractBio("<html></html>")
	assert.False(t, ok)
}

func TestExtractMentions(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{"single", "linking @alice_1", []string{"alice_1"}},
		{"too short", "@abc is too short", nil},
		{"must start with letter", "@1alice nope", nil},
		{"dedup ignoring case", "@Alice_x and @alice_X and @bobby", []string{"Alice_x", "bobby"}},
		{"embedded", "mail me at x@example_com", []string{"example_com"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractMentions(tt.text))
		})
	}
}

func TestHTTPFetcher_Mentions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/alice":
			_, _ = fmt.Fprint(w, page("chain → @bobby_b"))
		case "/empty":
			_, _ = fmt.Fprint(w, "<html></html>")
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	f := NewHTTPFetcher(Options{BaseURL: srv.URL, Timeout: time.Second}, slogutil.NewDiscardLogger())

	got, err := f.Mentions(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"bobby_b"}, got)

	got, err = f.Mentions(context.Background(), "empty")
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = f.Mentions(context.Background(), "missing")
	assert.Error(t, err)
}

func TestHTTPFetcher_BreakerOpens(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	f := NewHTTPFetcher(Options{BaseURL: srv.URL, MaxFailures: 2, OpenTimeout: time.Hour}, slogutil.NewDiscardLogger())
	for i := 0; i < 5; i++ {
		_, err := f.Mentions(context.Background(), "someone")
		assert.Error(t, err)
	}
	assert.Equal(t, int32(2), hits.Load())
}

type stubFetcher map[string][]string

func (s stubFetcher) Mentions(_ context.Context, username string) ([]string, error) {
	m, ok := s[username]
	if !ok {
		return nil, errors.New("not found")
	}
	return m, nil
}

func TestFetchAll(t *testing.T) {
	f := stubFetcher{
		"alice": {"bobby"},
		"bobby": nil,
	}
	res, err := FetchAll(context.Background(), f, map[string]string{
		"1": "alice",
		"2": "bobby",
		"3": "ghost",
	}, 2)
	require.NoError(t, err)

	assert.Equal(t, []string{"bobby"}, res.Mentions["1"])
	assert.Contains(t, res.Mentions, "2")
	assert.Contains(t, res.Failures, "3")
	assert.NotContains(t, res.Mentions, "3")
}

func TestFetchAll_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := FetchAll(ctx, stubFetcher{}, map[string]string{"1": "alice"}, 1)
	assert.ErrorIs(t, err, context.Canceled)
}
