package transport

import (
	"context"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/1mcp-ai/1mcp/internal/config"
	"github.com/1mcp-ai/1mcp/internal/errs"
	"github.com/1mcp-ai/1mcp/internal/secureenv"
)

func TestWrapCommandInShellQuotesArgsWithSpaces(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell wrapping differs on windows")
	}
	shell, args := wrapCommandInShell("echo", []string{"hello world"})
	require.Len(t, args, 3)
	assert.Equal(t, "-c", args[1])
	assert.Contains(t, args[2], `"hello world"`)
	assert.NotEmpty(t, shell)
}

func TestJitterStaysWithinBound(t *testing.T) {
	base := 100 * time.Millisecond
	for i := 0; i < 50; i++ {
		d := Jitter(base, 0.2)
		assert.GreaterOrEqual(t, d, 80*time.Millisecond)
		assert.LessOrEqual(t, d, 120*time.Millisecond)
	}
}

func TestJitterNoOpWhenFractionZero(t *testing.T) {
	base := 50 * time.Millisecond
	assert.Equal(t, base, Jitter(base, 0))
}

func TestStartRejectsMissingCommand(t *testing.T) {
	desc := &config.OutboundServerDescriptor{Name: "broken"}
	stdio := NewRestartableStdio(desc, secureenv.NewManager(), zap.NewNop(), nil)

	_, err := stdio.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrValidation)
}

func TestStartTwiceWithoutSpawningIsRejected(t *testing.T) {
	desc := &config.OutboundServerDescriptor{Name: "noop", Command: ""}
	stdio := NewRestartableStdio(desc, secureenv.NewManager(), zap.NewNop(), nil)
	stdio.started = true

	_, err := stdio.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrInternal)
}

func TestIsRestartingAndRestartCountDefaults(t *testing.T) {
	desc := &config.OutboundServerDescriptor{Name: "noop"}
	stdio := NewRestartableStdio(desc, secureenv.NewManager(), zap.NewNop(), nil)
	assert.False(t, stdio.IsRestarting())
	assert.Equal(t, 0, stdio.RestartCount())
}
