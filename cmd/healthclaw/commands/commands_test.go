package commands

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShouldEnable(t *testing.T) {
	t.Parallel()

	assert.True(t, shouldEnable("discord", nil, true))
	assert.False(t, shouldEnable("discord", nil, false))
	assert.True(t, shouldEnable("discord", []string{"console", "discord"}, false))
	assert.False(t, shouldEnable("discord", []string{"console"}, true))
}

func TestMaskAndPresence(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "missing", presence(""))
	assert.Equal(t, "set", presence("x"))
	assert.Empty(t, mask(""))
	assert.Equal(t, "********", mask("secret"))
}
