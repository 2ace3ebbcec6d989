package main

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1mcp-ai/1mcp/internal/testutil"
)

// TestServeRespondsToHealthSummary exercises the compiled 1mcp binary end
// to end: real process, real config file, real stdio outbound dial. Skipped
// unless ONEMCP_BINARY_PATH (or ONEMCP_BINARY) names a built binary, since
// the test harness that runs this suite does not invoke the Go toolchain.
func TestServeRespondsToHealthSummary(t *testing.T) {
	if os.Getenv("ONEMCP_BINARY_PATH") == "" && os.Getenv("ONEMCP_BINARY") == "" {
		t.Skip("set ONEMCP_BINARY_PATH to a built 1mcp binary to run this end-to-end test")
	}

	env := testutil.NewBinaryTestEnv(t)
	defer env.Cleanup()

	env.Start()

	summary, err := env.FetchHealthSummary()
	require.NoError(t, err)
	assert.NotEmpty(t, summary.Summary)
	assert.NotEmpty(t, summary.Servers)
}
