package rerank

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mecanio/mecanio/internal/config"
	"github.com/mecanio/mecanio/internal/log"
	"github.com/mecanio/mecanio/internal/search"
)

func testContexts() []search.Context {
	return []search.Context{
		{ID: "p0", Title: "LUBRICATION", Content: "oil pump section"},
		{ID: "p1", Title: "COOLING", Content: "coolant section"},
		{ID: "p2", Title: "BRAKES", Content: "brake section"},
	}
}

func newTestClient(url string) *Client {
	return NewClient(config.RerankerConfig{URL: url, MaxChars: 2000}, log.NewNop())
}

func TestClient_Rerank(t *testing.T) {
	var gotReq rerankRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/rerank", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		// Score the middle candidate highest.
		_ = json.NewEncoder(w).Encode([]rerankScore{
			{Index: 0, Score: 0.2},
			{Index: 1, Score: 0.9},
			{Index: 2, Score: 0.5},
		})
	}))
	defer srv.Close()

	reranked, err := newTestClient(srv.URL).Rerank(context.Background(), "coolant leak", testContexts(), 2)
	require.NoError(t, err)
	require.Len(t, reranked, 2)

	assert.Equal(t, "p1", reranked[0].ID)
	assert.Equal(t, 0.9, reranked[0].Score)
	assert.Equal(t, "p2", reranked[1].ID)

	assert.Equal(t, "coolant leak", gotReq.Query)
	require.Len(t, gotReq.Texts, 3)
	assert.Equal(t, "LUBRICATION\noil pump section", gotReq.Texts[0])
}

func TestClient_Rerank_EndpointError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model loading", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Rerank(context.Background(), "q", testContexts(), 2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestClient_Rerank_OutOfRangeIndexSkipped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode([]rerankScore{
			{Index: 7, Score: 0.9},
			{Index: 0, Score: 0.4},
		})
	}))
	defer srv.Close()

	reranked, err := newTestClient(srv.URL).Rerank(context.Background(), "q", testContexts(), 5)
	require.NoError(t, err)
	require.Len(t, reranked, 1)
	assert.Equal(t, "p0", reranked[0].ID)
}

func TestClient_Rerank_Disabled(t *testing.T) {
	c := NewClient(config.RerankerConfig{}, log.NewNop())
	assert.False(t, c.Enabled())

	_, err := c.Rerank(context.Background(), "q", testContexts(), 2)
	assert.Error(t, err)
}

func TestClient_Rerank_EmptyContexts(t *testing.T) {
	reranked, err := newTestClient("http://localhost:9").Rerank(context.Background(), "q", nil, 2)
	require.NoError(t, err)
	assert.Empty(t, reranked)
}

func TestCandidateText_ShortContentUntouched(t *testing.T) {
	cx := search.Context{Title: "T", Content: "short body"}
	assert.Equal(t, "T\nshort body", candidateText(cx, 2000))
}

func TestCandidateText_CentersOnBestChild(t *testing.T) {
	head := strings.Repeat("a", 3000)
	child := "THE MATCHING CHILD WINDOW"
	tail := strings.Repeat("z", 3000)
	cx := search.Context{
		Content: head + child + tail,
		Best:    search.Hit{Content: child},
	}

	got := candidateText(cx, 200)
	assert.Len(t, []rune(got), 200)
	assert.Contains(t, got, child, "window is centered on the matching child")
}

func TestCandidateText_ClampsAtEdges(t *testing.T) {
	child := "MATCH"
	cx := search.Context{
		Content: child + strings.Repeat("b", 1000),
		Best:    search.Hit{Content: child},
	}

	got := candidateText(cx, 100)
	assert.Len(t, []rune(got), 100)
	assert.True(t, strings.HasPrefix(got, child), "window clamps to the start of the text")
}

func TestCandidateText_RuneSafe(t *testing.T) {
	cx := search.Context{Content: strings.Repeat("ö", 500)}
	got := candidateText(cx, 100)
	assert.Len(t, []rune(got), 100)
	for _, r := range got {
		assert.Equal(t, 'ö', r)
	}
}
