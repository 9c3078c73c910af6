package notify

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kisanshaktiai/kisanshaktiai-tenant-dash-sub004/internal/logging"
)

func TestConsole(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(logging.New(&buf, "debug", "text"), 2)

	c.Success("Step completed", "Business Verification has been completed.")
	c.Warning("Warning", "Check your input")
	c.Error("Error", "Something went wrong. Please try again.")

	recent := c.Recent()
	require.Len(t, recent, 2)
	assert.Equal(t, LevelWarning, recent[0].Level)
	assert.Equal(t, LevelError, recent[1].Level)

	assert.Contains(t, buf.String(), "Business Verification has been completed.")
	assert.Contains(t, buf.String(), "level=ERROR")
}
