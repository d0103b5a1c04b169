package respond

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticDefaultLine(t *testing.T) {
	got, err := Static{}.Reply(context.Background(), "what's the weather", nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultClarification, got)
}

func TestStaticCustomLine(t *testing.T) {
	got, err := Static{Line: "say a command"}.Reply(context.Background(), "hm", nil)
	require.NoError(t, err)
	assert.Equal(t, "say a command", got)
}
