// Package executor is the front façade for contract compilation and
// execution: compile -> transfer_state -> execute, routed through a single
// sandbox.Session per compiled contract.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/log"
	"github.com/inetconnector/smartxchain/safety"
	"github.com/inetconnector/smartxchain/sandbox"
)

// Result mirrors ContractExecutionResult: a failure carries its message in
// Result and leaves State exactly as the caller supplied it.
type Result struct {
	Result string
	State  string
}

// ErrEmptySource is returned by Compile for empty contract source.
var ErrEmptySource = errors.New("contract source is empty")

// Executor compiles and executes contracts by driving a sandbox.Session
// through the wire protocol.
type Executor struct {
	hostBinaryPath string
	analyzer       *safety.Analyzer
}

// New returns an Executor that launches hostBinaryPath as the sandbox host
// for every compiled contract.
func New(hostBinaryPath string) *Executor {
	return &Executor{hostBinaryPath: hostBinaryPath, analyzer: safety.NewAnalyzer()}
}

// Compile validates code with the safety analyzer, launches a fresh
// sandbox session, and compiles code inside it. On any failure the session
// is disposed and the error is surfaced to the caller.
func (e *Executor) Compile(code string) (*sandbox.Session, error) {
	if code == "" {
		return nil, ErrEmptySource
	}
	if err := e.analyzer.Analyze(code); err != nil {
		return nil, err
	}

	session, err := sandbox.Launch(e.hostBinaryPath)
	if err != nil {
		return nil, fmt.Errorf("launch sandbox: %w", err)
	}
	if _, err := session.Compile(code); err != nil {
		session.Dispose()
		return nil, err
	}
	return session, nil
}

// Analyzer exposes the safety analyzer backing this Executor so other
// collaborators (the dispatcher's VerifyCode handler) can share its
// memoized verdict cache instead of keeping a second one.
func (e *Executor) Analyzer() *safety.Analyzer { return e.analyzer }

// TransferState pushes state into session and returns its sanitized form,
// falling back to the caller's original state on a protocol failure.
func (e *Executor) TransferState(session *sandbox.Session, state string) string {
	normalized, err := session.SendState(state)
	if err != nil {
		log.Warn("state transfer failed, keeping caller state", "err", err)
		return state
	}
	return normalized
}

// Execute runs inputs against state inside session, bounded by
// sandbox.ExecuteTimeout. Both a timeout and a thrown protocol error
// terminate the session and return an error result while preserving the
// caller's state.
func (e *Executor) Execute(ctx context.Context, session *sandbox.Session, inputs []string, state string) Result {
	ctx, cancel := context.WithTimeout(ctx, sandbox.ExecuteTimeout)
	defer cancel()

	result, newState, err := session.Execute(ctx, inputs, state)
	if err != nil {
		return Result{Result: fmt.Sprintf("Execution failed: %v", err), State: state}
	}
	return Result{Result: result, State: newState}
}

// Run drives the full compile -> transfer_state -> execute pipeline for a
// single contract invocation, converting a compile-stage rejection into a
// Result instead of an error so callers get one uniform response shape.
func (e *Executor) Run(ctx context.Context, code string, inputs []string, state string) Result {
	session, err := e.Compile(code)
	if err != nil {
		var rejection *safety.Rejection
		if errors.As(err, &rejection) {
			return Result{Result: "Forbidden: " + rejection.Error(), State: state}
		}
		return Result{Result: fmt.Sprintf("Execution failed: %v", err), State: state}
	}
	defer session.Dispose()

	normalized := e.TransferState(session, state)
	return e.Execute(ctx, session, inputs, normalized)
}

var (
	defaultExecutor atomic.Pointer[Executor]
	defaultOnce     sync.Once
	defaultHostPath string
)

// SetDefaultHostBinaryPath configures the host binary used when the
// process-wide default Executor is lazily created. Call it once during
// startup before Default is first used.
func SetDefaultHostBinaryPath(path string) {
	defaultHostPath = path
}

// Default returns the process-wide Executor instance, creating it on first
// use.
func Default() *Executor {
	defaultOnce.Do(func() {
		// Keep an executor already installed by SetDefault.
		defaultExecutor.CompareAndSwap(nil, New(defaultHostPath))
	})
	return defaultExecutor.Load()
}

// SetDefault replaces the process-wide Executor instance, e.g. for tests.
// It rejects a nil executor.
func SetDefault(e *Executor) error {
	if e == nil {
		return errors.New("executor: SetDefault called with nil executor")
	}
	defaultExecutor.Store(e)
	return nil
}
