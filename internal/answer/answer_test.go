package answer

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mecanio/mecanio/internal/conversation"
	"github.com/mecanio/mecanio/internal/knowledge"
	"github.com/mecanio/mecanio/internal/log"
	"github.com/mecanio/mecanio/internal/search"
)

// fakeStreamer records the last call and streams its reply in two chunks.
type fakeStreamer struct {
	system string
	prompt string
	reply  string
	err    error
}

func (f *fakeStreamer) Stream(ctx context.Context, system, prompt string, cb StreamCallback) (string, error) {
	f.system = system
	f.prompt = prompt
	if f.err != nil {
		return "", f.err
	}
	if cb != nil {
		half := len(f.reply) / 2
		if err := cb(ctx, f.reply[:half]); err != nil {
			return "", err
		}
		if err := cb(ctx, f.reply[half:]); err != nil {
			return "", err
		}
	}
	return f.reply, nil
}

func collectChunks(chunks *[]string) StreamCallback {
	return func(_ context.Context, chunk string) error {
		*chunks = append(*chunks, chunk)
		return nil
	}
}

func TestGenerator_StreamGrounded(t *testing.T) {
	streamer := &fakeStreamer{reply: "Drain the oil, then remove the pump. [Source 1]"}
	gen := NewGenerator(streamer, log.NewNop())

	contexts := []search.Context{
		{Title: "LUBRICATION SYSTEM", Content: "oil pump removal procedure", Page: 12},
		{Kind: knowledge.KindCaption, Title: "manual.pdf p.14", Content: "oil pump exploded view", Page: 14},
	}
	history := []conversation.Message{
		{Role: conversation.RoleUser, Content: "my Logan leaks oil"},
		{Role: conversation.RoleAssistant, Content: "where from?"},
	}

	var chunks []string
	full, err := gen.StreamGrounded(context.Background(), "how do I remove the oil pump?",
		history, contexts, collectChunks(&chunks))
	require.NoError(t, err)

	assert.Equal(t, streamer.reply, full)
	assert.Equal(t, streamer.reply, strings.Join(chunks, ""), "chunks reassemble to the full reply")

	assert.Contains(t, streamer.system, "Cite the sources")
	assert.Contains(t, streamer.prompt, "[Source 1: LUBRICATION SYSTEM, p.12]")
	assert.Contains(t, streamer.prompt, "[Source 2: manual.pdf p.14, p.14 (diagram)]")
	assert.Contains(t, streamer.prompt, "oil pump removal procedure")
	assert.Contains(t, streamer.prompt, "User: my Logan leaks oil")
	assert.Contains(t, streamer.prompt, "Question: how do I remove the oil pump?")
}

func TestGenerator_StreamGrounded_Error(t *testing.T) {
	gen := NewGenerator(&fakeStreamer{err: errors.New("model overloaded")}, log.NewNop())

	_, err := gen.StreamGrounded(context.Background(), "q", nil, nil, nil)
	assert.ErrorIs(t, err, ErrGeneration)
}

func TestGenerator_StreamDirect(t *testing.T) {
	streamer := &fakeStreamer{reply: "A camshaft opens and closes the valves."}
	gen := NewGenerator(streamer, log.NewNop())

	full, err := gen.StreamDirect(context.Background(), "what is a camshaft?", nil, nil)
	require.NoError(t, err)

	assert.Equal(t, streamer.reply, full)
	assert.Contains(t, streamer.system, "general automotive knowledge")
	assert.NotContains(t, streamer.prompt, "Manual excerpts", "direct answers carry no sources")
}

func TestGenerator_StreamClarification(t *testing.T) {
	streamer := &fakeStreamer{reply: "Which model, and what is the symptom?"}
	gen := NewGenerator(streamer, log.NewNop())

	full, err := gen.StreamClarification(context.Background(), "fix it", nil)
	require.NoError(t, err)

	assert.Equal(t, streamer.reply, full)
	assert.Contains(t, streamer.prompt, `"fix it"`)
	assert.Empty(t, streamer.system)
}

func TestGenerator_StreamOutOfScope(t *testing.T) {
	gen := NewGenerator(&fakeStreamer{}, log.NewNop())

	var chunks []string
	full, err := gen.StreamOutOfScope(context.Background(), collectChunks(&chunks))
	require.NoError(t, err)

	assert.Equal(t, OutOfScopeReply, full)
	assert.Equal(t, []string{OutOfScopeReply}, chunks)
}

func TestGenerator_CallbackErrorAborts(t *testing.T) {
	streamer := &fakeStreamer{reply: "some reply text"}
	gen := NewGenerator(streamer, log.NewNop())

	boom := errors.New("client went away")
	_, err := gen.StreamGrounded(context.Background(), "q", nil, nil,
		func(context.Context, string) error { return boom })
	assert.Error(t, err)
}

func TestSourceLabel(t *testing.T) {
	assert.Equal(t, "ENGINE, p.3", sourceLabel(search.Context{Title: "ENGINE", Page: 3}))
	assert.Equal(t, "ENGINE", sourceLabel(search.Context{Title: "ENGINE"}))
	assert.Equal(t, "Untitled section", sourceLabel(search.Context{}))
	assert.Equal(t, "diagram one, p.2 (diagram)",
		sourceLabel(search.Context{Title: "diagram one", Page: 2, Kind: knowledge.KindCaption}))
}
