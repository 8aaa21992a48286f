package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubAgent struct {
	name string
	deps []string
}

func (a *stubAgent) Name() string           { return a.name }
func (a *stubAgent) Dependencies() []string { return a.deps }
func (a *stubAgent) Run(ctx context.Context, rc *RunContext) (any, error) {
	return nil, nil
}

func TestNewDefinition(t *testing.T) {
	t.Run("orders agents topologically", func(t *testing.T) {
		def, err := NewDefinition(
			&stubAgent{name: "c", deps: []string{"b"}},
			&stubAgent{name: "a"},
			&stubAgent{name: "b", deps: []string{"a"}},
		)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b", "c"}, def.AgentNames())
	})

	t.Run("rejects duplicate names", func(t *testing.T) {
		_, err := NewDefinition(
			&stubAgent{name: "a"},
			&stubAgent{name: "a"},
		)
		assert.ErrorContains(t, err, "duplicate agent name")
	})

	t.Run("rejects unknown dependency", func(t *testing.T) {
		_, err := NewDefinition(
			&stubAgent{name: "a", deps: []string{"missing"}},
		)
		assert.ErrorContains(t, err, "unknown agent")
	})

	t.Run("rejects dependency cycle", func(t *testing.T) {
		_, err := NewDefinition(
			&stubAgent{name: "a", deps: []string{"b"}},
			&stubAgent{name: "b", deps: []string{"a"}},
		)
		assert.ErrorContains(t, err, "cycle")
	})

	t.Run("rejects empty name", func(t *testing.T) {
		_, err := NewDefinition(&stubAgent{name: ""})
		assert.Error(t, err)
	})
}

func TestDefaultPipeline(t *testing.T) {
	def := Default()

	assert.Equal(t, []string{
		AgentParameters,
		AgentForecast,
		AgentClustering,
		AgentVariance,
		AgentAllocation,
		AgentMarkdown,
	}, def.AgentNames())
	assert.Equal(t, 6, def.Len())
	assert.True(t, def.HasAgent(AgentForecast))
	assert.False(t, def.HasAgent("nope"))
}
