package answer

import (
	"context"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
)

// GenkitStreamer streams completions through a Genkit model.
type GenkitStreamer struct {
	g           *genkit.Genkit
	model       ai.Model
	temperature float64
}

// NewGenkitStreamer creates a GenkitStreamer.
func NewGenkitStreamer(g *genkit.Genkit, model ai.Model, temperature float64) *GenkitStreamer {
	return &GenkitStreamer{g: g, model: model, temperature: temperature}
}

// Stream implements Streamer. The full reply text is returned after the
// stream completes.
func (s *GenkitStreamer) Stream(ctx context.Context, system, prompt string, cb StreamCallback) (string, error) {
	opts := []ai.GenerateOption{
		ai.WithModel(s.model),
		ai.WithPrompt(prompt),
		ai.WithConfig(map[string]any{"temperature": s.temperature}),
		ai.WithStreaming(func(ctx context.Context, chunk *ai.ModelResponseChunk) error {
			if cb == nil {
				return nil
			}
			return cb(ctx, chunk.Text())
		}),
	}
	if system != "" {
		opts = append(opts, ai.WithSystem(system))
	}

	response, err := genkit.Generate(ctx, s.g, opts...)
	if err != nil {
		return "", err
	}
	return response.Text(), nil
}
