package synthesis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAnthropic_RequiresKey(t *testing.T) {
	_, err := NewAnthropic(AnthropicConfig{})
	assert.Error(t, err)
}

func TestNewAnthropic_Defaults(t *testing.T) {
	c, err := NewAnthropic(AnthropicConfig{APIKey: "sk-ant-test"})
	require.NoError(t, err)
	assert.Equal(t, defaultModel, c.model)

	c, err = NewAnthropic(AnthropicConfig{APIKey: "sk-ant-test", Model: "claude-sonnet-4-5"})
	require.NoError(t, err)
	assert.Equal(t, "claude-sonnet-4-5", c.model)
}
