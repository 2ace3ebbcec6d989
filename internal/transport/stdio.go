package transport

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math/rand"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	mcptransport "github.com/mark3labs/mcp-go/client/transport"
	"go.uber.org/zap"

	"github.com/1mcp-ai/1mcp/internal/config"
	"github.com/1mcp-ai/1mcp/internal/errs"
	"github.com/1mcp-ai/1mcp/internal/secureenv"
)

// RestartableStdio wraps a child-process MCP client (C2). Each (re)start
// spawns a fresh process — mcp-go's Stdio transport has no "restart in
// place" primitive, so restarting means discarding the old
// transport/client pair and building a new one with the same descriptor.
//
// The owning outbound connection (internal/outbound) supplies an ExitFunc
// that is invoked once, from a background goroutine, when the child's
// stderr pipe reaches EOF — the signal mcp-go exposes that the process has
// gone away, since the client itself does not surface a "closed"
// notification the way a long-lived socket transport would.
type RestartableStdio struct {
	descriptor *config.OutboundServerDescriptor
	envManager *secureenv.Manager
	logger     *zap.Logger
	onExit     ExitFunc

	mu               sync.Mutex
	client           *client.Client
	stderr           io.Reader
	started          bool
	intentionalClose bool
	restarting       bool
	restartCount     int
	restartTimer     *time.Timer
}

// ExitFunc is called when the child process exits unexpectedly (not via
// Close). err is nil if the exit could not be further diagnosed.
type ExitFunc func(err error)

// NewRestartableStdio builds a not-yet-started restartable stdio transport
// for descriptor.
func NewRestartableStdio(descriptor *config.OutboundServerDescriptor, envManager *secureenv.Manager, logger *zap.Logger, onExit ExitFunc) *RestartableStdio {
	return &RestartableStdio{
		descriptor: descriptor,
		envManager: envManager,
		logger:     logger.Named("stdio").With(zap.String("server", descriptor.Name)),
		onExit:     onExit,
	}
}

// Start spawns the child process and returns its MCP client. Calling Start
// twice without an intervening Close/exit is an error.
func (r *RestartableStdio) Start(ctx context.Context) (*client.Client, error) {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s: stdio transport already started", errs.ErrInternal, r.descriptor.Name)
	}
	r.mu.Unlock()

	return r.spawn(ctx)
}

func (r *RestartableStdio) spawn(ctx context.Context) (*client.Client, error) {
	desc := r.descriptor
	if desc.Command == "" {
		return nil, fmt.Errorf("%w: %s: no command specified for stdio transport", errs.ErrValidation, desc.Name)
	}

	envVars := r.envManager.BuildFilteredEnvironment(secureenv.FilterSpec{
		InheritParentEnv: desc.InheritParentEnv,
		EnvFilter:        desc.EnvFilter,
		CustomVars:       desc.Env,
	})

	command, cmdArgs := wrapCommandInShell(desc.Command, desc.Args)
	stdioTransport := mcptransport.NewStdio(command, envVars, cmdArgs...)
	mcpClient := client.NewClient(stdioTransport)

	if err := mcpClient.Start(ctx); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", errs.ErrTransportDial, desc.Name, err)
	}

	r.mu.Lock()
	r.client = mcpClient
	r.started = true
	r.intentionalClose = false
	if stderrReader := stdioTransport.Stderr(); stderrReader != nil {
		r.stderr = stderrReader
	}
	stderr := r.stderr
	r.mu.Unlock()

	if stderr != nil {
		go r.watchStderr(stderr)
	}

	return mcpClient, nil
}

// watchStderr drains the child's stderr. Depending on descriptor
// StderrMode it either discards, logs, or forwards each line, and treats
// reaching EOF as the process having exited.
func (r *RestartableStdio) watchStderr(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		switch r.descriptor.StderrMode {
		case config.StderrLog, config.StderrInherit, "":
			r.logger.Debug("stderr", zap.String("line", line))
			if r.descriptor.StderrMode == config.StderrInherit {
				fmt.Fprintln(os.Stderr, line)
			}
		case config.StderrIgnore:
		}
	}

	r.handleExit(scanner.Err())
}

func (r *RestartableStdio) handleExit(err error) {
	r.mu.Lock()
	intentional := r.intentionalClose
	r.started = false
	r.mu.Unlock()

	if intentional {
		return
	}

	r.logger.Warn("stdio child exited unexpectedly", zap.Error(err))

	if !r.descriptor.Restart.OnExit {
		if r.onExit != nil {
			r.onExit(fmt.Errorf("%w: %s: child exited, restart disabled", errs.ErrTransportExhausted, r.descriptor.Name))
		}
		return
	}

	r.mu.Lock()
	if r.descriptor.Restart.Max > 0 && r.restartCount >= r.descriptor.Restart.Max {
		r.mu.Unlock()
		if r.onExit != nil {
			r.onExit(fmt.Errorf("%w: %s: exceeded %d restarts", errs.ErrTransportExhausted, r.descriptor.Name, r.descriptor.Restart.Max))
		}
		return
	}
	r.restartCount++
	r.restarting = true
	delay := time.Duration(r.descriptor.Restart.DelayMs) * time.Millisecond
	if delay <= 0 {
		delay = time.Second
	}
	r.restartTimer = time.AfterFunc(delay, func() {
		r.mu.Lock()
		r.restarting = false
		r.mu.Unlock()
		if r.onExit != nil {
			// nil error signals "restart window elapsed, caller should redial"
			r.onExit(nil)
		}
	})
	r.mu.Unlock()
}

// Close stops the child process intentionally: no restart is scheduled.
func (r *RestartableStdio) Close() error {
	r.mu.Lock()
	r.intentionalClose = true
	if r.restartTimer != nil {
		r.restartTimer.Stop()
	}
	c := r.client
	r.started = false
	r.mu.Unlock()

	if c == nil {
		return nil
	}
	if err := c.Close(); err != nil {
		return fmt.Errorf("%w: %s: %v", errs.ErrInternal, r.descriptor.Name, err)
	}
	return nil
}

// RestartCount returns the number of restarts performed so far.
func (r *RestartableStdio) RestartCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.restartCount
}

// IsRestarting reports whether a restart timer is currently pending.
func (r *RestartableStdio) IsRestarting() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.restarting
}

// wrapCommandInShell wraps command in a login shell so stdio children see
// the same PATH a terminal session would, matching the teacher's rationale
// for GUI-launched processes that don't inherit a shell profile.
func wrapCommandInShell(command string, args []string) (shellCmd string, shellArgs []string) {
	fullCmd := command
	if len(args) > 0 {
		quotedArgs := make([]string, len(args))
		for i, arg := range args {
			if strings.Contains(arg, " ") {
				quotedArgs[i] = fmt.Sprintf("%q", arg)
			} else {
				quotedArgs[i] = arg
			}
		}
		fullCmd = fmt.Sprintf("%s %s", command, strings.Join(quotedArgs, " "))
	}

	if runtime.GOOS == "windows" {
		return "cmd.exe", []string{"/c", fullCmd}
	}

	shell := os.Getenv("SHELL")
	if shell == "" {
		shell = "/bin/sh"
	}
	return shell, []string{"-l", "-c", fullCmd}
}

// Jitter applies ±fraction random jitter to d, used by the loading
// manager's retry backoff (internal/outbound), kept here alongside the
// transport it retries since both need the same shape of randomized delay.
func Jitter(d time.Duration, fraction float64) time.Duration {
	if fraction <= 0 {
		return d
	}
	delta := float64(d) * fraction
	offset := (rand.Float64()*2 - 1) * delta
	return d + time.Duration(offset)
}
