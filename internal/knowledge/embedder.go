package knowledge

import (
	"context"
	"fmt"

	"github.com/firebase/genkit/go/ai"
)

// embedBatchSize bounds documents per embedding request. Provider APIs cap
// batch sizes around 100 inputs.
const embedBatchSize = 64

// EmbedTexts embeds a batch of texts with the given embedder, preserving
// input order. Large inputs are split into provider-safe batches.
func EmbedTexts(ctx context.Context, embedder ai.Embedder, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))

	for start := 0; start < len(texts); start += embedBatchSize {
		end := min(start+embedBatchSize, len(texts))

		docs := make([]*ai.Document, 0, end-start)
		for _, text := range texts[start:end] {
			docs = append(docs, ai.DocumentFromText(text, nil))
		}

		resp, err := embedder.Embed(ctx, &ai.EmbedRequest{Input: docs})
		if err != nil {
			return nil, fmt.Errorf("embed batch at %d: %w", start, err)
		}
		if len(resp.Embeddings) != len(docs) {
			return nil, fmt.Errorf("embed batch at %d: got %d embeddings for %d inputs",
				start, len(resp.Embeddings), len(docs))
		}
		for i, emb := range resp.Embeddings {
			if len(emb.Embedding) == 0 {
				return nil, fmt.Errorf("empty embedding for input %d", start+i)
			}
			out = append(out, emb.Embedding)
		}
	}
	return out, nil
}

// EmbedText embeds a single text.
func EmbedText(ctx context.Context, embedder ai.Embedder, text string) ([]float32, error) {
	vecs, err := EmbedTexts(ctx, embedder, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}
