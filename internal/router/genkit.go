package router

import (
	"context"
	"fmt"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
)

// GenkitGenerator runs single-prompt completions through a Genkit model.
// Classification wants a low temperature; creative routing is bad routing.
type GenkitGenerator struct {
	g     *genkit.Genkit
	model ai.Model
}

// NewGenkitGenerator creates a GenkitGenerator.
func NewGenkitGenerator(g *genkit.Genkit, model ai.Model) *GenkitGenerator {
	return &GenkitGenerator{g: g, model: model}
}

// Generate implements Generator.
func (gg *GenkitGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := genkit.Generate(ctx, gg.g,
		ai.WithModel(gg.model),
		ai.WithPrompt(prompt),
		ai.WithConfig(map[string]any{"temperature": 0.0}),
	)
	if err != nil {
		return "", fmt.Errorf("generate: %w", err)
	}
	return resp.Text(), nil
}
