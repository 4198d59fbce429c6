package cli

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/devports/procwatch/pkg/models"
)

func TestWarnShellArgs(t *testing.T) {
	t.Parallel()

	tools := []models.ToolSpec{
		{Name: "safe", Args: []string{"start", "--verbose"}},
		{Name: "legacy", Args: []string{"start", "&&", "echo", "ok"}},
	}

	var out bytes.Buffer
	warnShellArgs(tools, &out)
	s := out.String()
	assert.Contains(t, s, "legacy")
	assert.Contains(t, s, `pattern "&&"`)
	assert.NotContains(t, s, "safe")
}

func TestWarnShellArgsQuietWhenClean(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	warnShellArgs([]models.ToolSpec{{Name: "router", Args: []string{"start"}}}, &out)
	assert.Empty(t, out.String())
}
