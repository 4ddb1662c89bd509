package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mecanio/mecanio/internal/log"
)

func TestRateBurstFromEnv(t *testing.T) {
	logger := log.NewNop()

	tests := []struct {
		name  string
		value string
		want  int
	}{
		{name: "unset", value: "", want: 0},
		{name: "valid", value: "120", want: 120},
		{name: "invalid", value: "lots", want: 0},
		{name: "negative", value: "-5", want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("MECANIO_RATE_BURST", tt.value)
			assert.Equal(t, tt.want, rateBurstFromEnv(logger))
		})
	}
}

func TestCommandsRegistered(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"serve", "ingest", "ask", "reset", "version"} {
		assert.True(t, names[want], "command %s not registered", want)
	}
}
