package router

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mecanio/mecanio/internal/log"
)

type fakeGen struct {
	reply  string
	err    error
	prompt string
}

func (f *fakeGen) Generate(_ context.Context, prompt string) (string, error) {
	f.prompt = prompt
	return f.reply, f.err
}

func TestRouter_Route(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		want  Decision
	}{
		{
			"plain json",
			`{"decision": "DIRECT_ANSWER", "reasoning": "basic concept", "reformulated_query": "what is a camshaft"}`,
			DirectAnswer,
		},
		{
			"fenced json",
			"```json\n{\"decision\": \"OUT_OF_SCOPE\", \"reasoning\": \"recipes\", \"reformulated_query\": \"\"}\n```",
			OutOfScope,
		},
		{
			"fenced without language tag",
			"```\n{\"decision\": \"CLARIFICATION_NEEDED\", \"reasoning\": \"vague\"}\n```",
			ClarificationNeeded,
		},
		{
			"rag needed",
			`{"decision": "RAG_NEEDED", "reasoning": "needs torque spec"}`,
			RAGNeeded,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New(&fakeGen{reply: tt.reply}, log.NewNop())
			route, err := r.Route(context.Background(), "some question", nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, route.Decision)
		})
	}
}

func TestRouter_Route_FailsClosedToRetrieval(t *testing.T) {
	tests := []struct {
		name string
		gen  *fakeGen
	}{
		{"not json", &fakeGen{reply: "I think this needs the manual"}},
		{"unknown decision", &fakeGen{reply: `{"decision": "MAYBE", "reasoning": "?"}`}},
		{"empty reply", &fakeGen{reply: ""}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New(tt.gen, log.NewNop())
			route, err := r.Route(context.Background(), "how do I remove the oil pump", nil)
			require.NoError(t, err)
			assert.Equal(t, RAGNeeded, route.Decision)
			assert.Equal(t, "how do I remove the oil pump", route.ReformulatedQuery,
				"fallback keeps the original query")
		})
	}
}

func TestRouter_Route_ModelUnreachable(t *testing.T) {
	r := New(&fakeGen{err: errors.New("connection refused")}, log.NewNop())
	_, err := r.Route(context.Background(), "how do I remove the oil pump", nil)
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestRouter_Route_EmptyReformulationKeepsQuery(t *testing.T) {
	r := New(&fakeGen{reply: `{"decision": "RAG_NEEDED", "reformulated_query": "  "}`}, log.NewNop())
	route, err := r.Route(context.Background(), "original", nil)
	require.NoError(t, err)
	assert.Equal(t, "original", route.ReformulatedQuery)
}

func TestRouter_Route_HistoryInPrompt(t *testing.T) {
	gen := &fakeGen{reply: `{"decision": "RAG_NEEDED"}`}
	r := New(gen, log.NewNop())

	history := []Turn{
		{Role: "user", Content: "my 2008 Logan stalls at idle"},
		{Role: "assistant", Content: "does it stall cold or warm?"},
	}
	_, err := r.Route(context.Background(), "warm only", history)
	require.NoError(t, err)

	assert.Contains(t, gen.prompt, "Recent conversation:")
	assert.Contains(t, gen.prompt, "User: my 2008 Logan stalls at idle")
	assert.Contains(t, gen.prompt, "Assistant: does it stall cold or warm?")
	assert.Contains(t, gen.prompt, `USER QUERY: "warm only"`)
}

func TestRouter_Route_HistoryWindowAndClip(t *testing.T) {
	gen := &fakeGen{reply: `{"decision": "RAG_NEEDED"}`}
	r := New(gen, log.NewNop())

	long := strings.Repeat("x", 300)
	history := []Turn{
		{Role: "user", Content: "turn-one-should-drop"},
		{Role: "assistant", Content: "a"},
		{Role: "user", Content: "b"},
		{Role: "assistant", Content: "c"},
		{Role: "user", Content: long},
	}
	_, err := r.Route(context.Background(), "q", history)
	require.NoError(t, err)

	assert.NotContains(t, gen.prompt, "turn-one-should-drop", "only the last turns are shown")
	assert.NotContains(t, gen.prompt, long, "long turns are clipped")
	assert.Contains(t, gen.prompt, strings.Repeat("x", 100))
}

func TestStripCodeFence(t *testing.T) {
	assert.Equal(t, `{"a":1}`, stripCodeFence("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripCodeFence("```\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripCodeFence(`{"a":1}`))
}

func TestParseRoute_Invalid(t *testing.T) {
	_, err := parseRoute("plainly not json")
	require.Error(t, err)
}
