// Package rerank reorders retrieval contexts with an external cross-encoder
// served over HTTP (text-embeddings-inference style /rerank endpoint).
//
// Reranking is optional: with no endpoint configured the pipeline keeps the
// fused retrieval order, and a failing endpoint degrades the same way at the
// call site.
package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/mecanio/mecanio/internal/config"
	"github.com/mecanio/mecanio/internal/log"
	"github.com/mecanio/mecanio/internal/search"
)

// requestTimeout bounds a single rerank round trip. Cross-encoders score
// dozens of pairs per call; slow is normal, hung is not.
const requestTimeout = 30 * time.Second

// Client calls the cross-encoder endpoint.
type Client struct {
	http   *http.Client
	cfg    config.RerankerConfig
	logger log.Logger
}

// NewClient creates a rerank client. The client is inert when no URL is
// configured; check Enabled before calling Rerank.
func NewClient(cfg config.RerankerConfig, logger log.Logger) *Client {
	return &Client{
		http:   &http.Client{Timeout: requestTimeout},
		cfg:    cfg,
		logger: log.NopIfNil(logger),
	}
}

// Enabled reports whether a rerank endpoint is configured.
func (c *Client) Enabled() bool { return c.cfg.URL != "" }

type rerankRequest struct {
	Query string   `json:"query"`
	Texts []string `json:"texts"`
	Model string   `json:"model,omitempty"`
}

type rerankScore struct {
	Index int     `json:"index"`
	Score float64 `json:"score"`
}

// Rerank scores every context against the query with the cross-encoder and
// returns the topK best, ordered by descending score. Context text sent to
// the encoder is truncated to the configured budget, centered on the child
// window that earned the context its retrieval rank.
func (c *Client) Rerank(ctx context.Context, query string, contexts []search.Context, topK int) ([]search.Context, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("rerank: no endpoint configured")
	}
	if len(contexts) == 0 {
		return nil, nil
	}

	texts := make([]string, len(contexts))
	for i, cx := range contexts {
		texts[i] = candidateText(cx, c.cfg.MaxChars)
	}

	body, err := json.Marshal(rerankRequest{Query: query, Texts: texts, Model: c.cfg.Model})
	if err != nil {
		return nil, fmt.Errorf("rerank: encode request: %w", err)
	}

	url := strings.TrimRight(c.cfg.URL, "/") + "/rerank"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("rerank: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rerank: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("rerank: endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	var scores []rerankScore
	if err := json.NewDecoder(resp.Body).Decode(&scores); err != nil {
		return nil, fmt.Errorf("rerank: decode response: %w", err)
	}

	reordered := make([]search.Context, 0, len(scores))
	for _, s := range sortedByScore(scores) {
		if s.Index < 0 || s.Index >= len(contexts) {
			c.logger.Warn("rerank returned out-of-range index", "index", s.Index, "candidates", len(contexts))
			continue
		}
		cx := contexts[s.Index]
		cx.Score = s.Score
		reordered = append(reordered, cx)
	}
	if len(reordered) == 0 {
		return nil, fmt.Errorf("rerank: endpoint returned no usable scores")
	}
	if len(reordered) > topK {
		reordered = reordered[:topK]
	}

	c.logger.Debug("reranked contexts", "candidates", len(contexts), "kept", len(reordered))
	return reordered, nil
}

func sortedByScore(scores []rerankScore) []rerankScore {
	out := make([]rerankScore, len(scores))
	copy(out, scores)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}
