package process

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseArgs(t *testing.T) {
	t.Parallel()

	got, err := ParseArgs(`--config "my conf.json" --log-level debug`)
	require.NoError(t, err)
	assert.Equal(t, []string{"--config", "my conf.json", "--log-level", "debug"}, got)
}

func TestParseArgsEmptyQuotedWord(t *testing.T) {
	t.Parallel()

	got, err := ParseArgs(`--prefix '' --name it\'s`)
	require.NoError(t, err)
	assert.Equal(t, []string{"--prefix", "", "--name", "it's"}, got)
}

func TestParseArgsUnterminatedQuote(t *testing.T) {
	t.Parallel()

	_, err := ParseArgs(`--title "dev`)
	assert.Error(t, err)
}
