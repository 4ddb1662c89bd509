package vision

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
)

// GenkitDescriber captions images through a Genkit multimodal model.
type GenkitDescriber struct {
	g     *genkit.Genkit
	model ai.Model
}

// NewGenkitDescriber creates a Describer backed by the given model. The
// model must accept image parts; text-only models fail at call time.
func NewGenkitDescriber(g *genkit.Genkit, model ai.Model) *GenkitDescriber {
	return &GenkitDescriber{g: g, model: model}
}

// Describe sends the image and the captioning prompt in one user message.
func (d *GenkitDescriber) Describe(ctx context.Context, mediaType string, data []byte) (string, error) {
	encoded := base64.StdEncoding.EncodeToString(data)
	userMessage := ai.NewUserMessage(
		ai.NewMediaPart(mediaType, "data:"+mediaType+";base64,"+encoded),
		ai.NewTextPart(captionPrompt),
	)

	response, err := genkit.Generate(ctx, d.g,
		ai.WithModel(d.model),
		ai.WithMessages(userMessage),
	)
	if err != nil {
		return "", fmt.Errorf("generate caption: %w", err)
	}
	return response.Text(), nil
}
