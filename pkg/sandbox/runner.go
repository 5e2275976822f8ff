package sandbox

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/tetratelabs/wazero/sys"
)

const (
	// DefaultMemoryLimitPages caps guest memory at 64 MiB (wasm pages are 64 KiB).
	DefaultMemoryLimitPages = 1024
	// DefaultSessionTimeout bounds one full session including compilation.
	DefaultSessionTimeout = 30 * time.Second

	// maxGuestLineBytes bounds a single guest output line.
	maxGuestLineBytes = 1 << 20
)

// RejectedIntent is a guest intent that failed schema validation. The
// session continues; the rejection is recorded, never silently dropped.
type RejectedIntent struct {
	Raw    json.RawMessage
	Reason string
}

// SessionResult is everything a strategy session produced.
type SessionResult struct {
	Intents  []OrderIntent
	Rejected []RejectedIntent
	Logs     []LogLine
}

// Runner executes strategy bundles. Each session gets a fresh wazero
// runtime; nothing persists between sessions and the guest is granted
// no filesystem, no environment, no host clock, and no real randomness.
type Runner struct {
	memoryPages uint32
	timeout     time.Duration
	logger      *slog.Logger
}

// RunnerOption tunes a Runner.
type RunnerOption func(*Runner)

// WithMemoryLimitPages overrides the guest memory cap.
func WithMemoryLimitPages(pages uint32) RunnerOption {
	return func(r *Runner) { r.memoryPages = pages }
}

// WithSessionTimeout overrides the per-session deadline.
func WithSessionTimeout(d time.Duration) RunnerOption {
	return func(r *Runner) { r.timeout = d }
}

// WithLogger sets the host-side logger for guest log lines.
func WithLogger(logger *slog.Logger) RunnerOption {
	return func(r *Runner) { r.logger = logger }
}

// NewRunner builds a Runner with deny-by-default limits.
func NewRunner(opts ...RunnerOption) *Runner {
	r := &Runner{
		memoryPages: DefaultMemoryLimitPages,
		timeout:     DefaultSessionTimeout,
		logger:      slog.Default().With("component", "sandbox"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run feeds events to the bundle's strategy and returns what it emitted.
// The bundle must already have passed ReadBundle verification.
func (r *Runner) Run(ctx context.Context, bundle *Bundle, events []MarketEvent) (*SessionResult, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	rcfg := wazero.NewRuntimeConfig().
		WithMemoryLimitPages(r.memoryPages).
		WithCloseOnContextDone(true)
	rt := wazero.NewRuntimeWithConfig(ctx, rcfg)
	defer rt.Close(context.Background())

	wasi_snapshot_preview1.MustInstantiate(ctx, rt)

	compiled, err := rt.CompileModule(ctx, bundle.Wasm)
	if err != nil {
		return nil, fmt.Errorf("sandbox: compile %s: %w", bundle.Digest, err)
	}

	stdinR, stdinW := io.Pipe()
	stdoutR, stdoutW := io.Pipe()

	// No FS config, no env vars, no sys clock, no real rand source: the
	// guest sees only stdin and stdout.
	modCfg := wazero.NewModuleConfig().
		WithName(bundle.Manifest.Name).
		WithStartFunctions("_start").
		WithStdin(stdinR).
		WithStdout(stdoutW).
		WithStderr(io.Discard)

	guestDone := make(chan error, 1)
	go func() {
		mod, err := rt.InstantiateModule(ctx, compiled, modCfg)
		if mod != nil {
			_ = mod.Close(context.Background())
		}
		// Closing our ends unblocks the session pump.
		_ = stdoutW.Close()
		_ = stdinR.Close()
		guestDone <- err
	}()

	result, sessionErr := r.pump(ctx, stdinW, stdoutR, events)

	// A protocol violation cancels the guest; drain its exit either way.
	if sessionErr != nil {
		cancel()
	}
	guestErr := <-guestDone

	if sessionErr != nil {
		return nil, sessionErr
	}
	if err := guestExitError(guestErr); err != nil {
		return nil, fmt.Errorf("sandbox: strategy %s: %w", bundle.Manifest.Name, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("sandbox: session deadline: %w", err)
	}
	return result, nil
}

// pump drives one session over raw streams: write every event then a
// shutdown frame, and read guest frames until EOF. It is independent of
// the VM so the protocol can be exercised against any guest.
func (r *Runner) pump(ctx context.Context, toGuest io.WriteCloser, fromGuest io.Reader, events []MarketEvent) (*SessionResult, error) {
	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		enc := json.NewEncoder(toGuest)
		for i := range events {
			frame := hostFrame{Protocol: ProtocolV1, Type: TypeMarketEvent, Event: &events[i]}
			if err := enc.Encode(frame); err != nil {
				return // guest closed its stdin; reader side reports the cause
			}
		}
		_ = enc.Encode(hostFrame{Protocol: ProtocolV1, Type: TypeShutdown})
		_ = toGuest.Close()
	}()

	result := &SessionResult{}
	scanner := bufio.NewScanner(fromGuest)
	scanner.Buffer(make([]byte, 64*1024), maxGuestLineBytes)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		frame, err := parseGuestLine(scanner.Bytes(), lineNo)
		if err != nil {
			return nil, err
		}
		if frame == nil {
			continue
		}
		switch frame.Type {
		case TypeOrderIntent:
			intent, err := ValidateIntent(frame.Intent)
			if err != nil {
				r.logger.Warn("rejected strategy intent", "line", lineNo, "error", err)
				result.Rejected = append(result.Rejected, RejectedIntent{
					Raw:    append(json.RawMessage(nil), frame.Intent...),
					Reason: err.Error(),
				})
				continue
			}
			result.Intents = append(result.Intents, intent)
		case TypeLog:
			result.Logs = append(result.Logs, LogLine{Level: frame.Level, Message: frame.Message})
			r.logger.Info("strategy log", "level", frame.Level, "message", frame.Message)
		}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.ErrClosedPipe) {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("sandbox: session deadline: %w", ctx.Err())
		}
		return nil, fmt.Errorf("sandbox: read guest output: %w", err)
	}
	<-writeDone
	return result, nil
}

// guestExitError normalizes wazero's module exit: code 0 is success,
// anything else is a failed session.
func guestExitError(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *sys.ExitError
	if errors.As(err, &exitErr) {
		if exitErr.ExitCode() == 0 {
			return nil
		}
		return fmt.Errorf("exited with code %d", exitErr.ExitCode())
	}
	return err
}
