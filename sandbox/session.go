package sandbox

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"
	"github.com/inetconnector/smartxchain/internal/xmetrics"
)

// MemoryCapBytes is the working-set limit a session's child process is
// allowed before the resource monitor kills it.
const MemoryCapBytes = 128 * 1024 * 1024

// MonitorInterval is how often the resource monitor polls the child's
// working-set size.
const MonitorInterval = 250 * time.Millisecond

// ExecuteTimeout bounds a single execute call.
const ExecuteTimeout = 10 * time.Second

// disposeGrace is how long Dispose waits for a clean shutdown before
// killing the process outright.
const disposeGrace = 200 * time.Millisecond

// ErrUnexpectedEOF is surfaced when a synchronous read happens after the
// child process has already exited.
var ErrUnexpectedEOF = errors.New("unexpected end of stream")

// ErrSessionDisposed is returned by any operation attempted after Dispose.
var ErrSessionDisposed = errors.New("sandbox session is disposed")

// Session owns a single child process executing exactly one compiled
// contract. At most one process is alive per Session; once the monitor
// kills it, no further I/O is attempted.
type Session struct {
	mu  sync.Mutex
	id  string
	cmd *exec.Cmd

	stdin  io.WriteCloser
	stdout *bufio.Reader

	killed   bool
	disposed bool

	monitorCancel context.CancelFunc
	monitorDone   chan struct{}
}

// Launch starts the sandbox host binary as a child process and begins
// monitoring its working-set size. It does not send the compile message;
// call Compile for that.
func Launch(hostBinaryPath string) (*Session, error) {
	cmd := exec.Command(hostBinaryPath)
	cmd.Env = append(os.Environ(), fmt.Sprintf("SMARTX_GC_HEAP_LIMIT_BYTES=%d", MemoryCapBytes))
	configureNoConsole(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("open stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("open stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start sandbox process: %w", err)
	}

	s := &Session{
		id:     uuid.NewString(),
		cmd:    cmd,
		stdin:  stdin,
		stdout: bufio.NewReader(stdout),
	}
	s.startMonitor()
	return s, nil
}

// ID is the session's opaque correlation identifier.
func (s *Session) ID() string { return s.id }

// Compile sends the compile request and returns the sandbox-assigned
// session id on success.
func (s *Session) Compile(code string) (string, error) {
	resp := compileResponse{}
	if err := s.roundTrip(MessageCompile, compilePayload{Code: code}, &resp); err != nil {
		return "", err
	}
	if !resp.Success {
		return "", errors.New(resp.Error)
	}
	return resp.SessionID, nil
}

// SendState transfers state into the sandbox and returns its sanitized
// form.
func (s *Session) SendState(state string) (string, error) {
	resp := stateResponse{}
	if err := s.roundTrip(MessageState, statePayload{State: state}, &resp); err != nil {
		return "", err
	}
	if !resp.Success {
		return "", errors.New(resp.Error)
	}
	return resp.State, nil
}

// Execute runs inputs against state, bounded by ctx. Callers should derive
// ctx with ExecuteTimeout; on expiry the child is killed.
func (s *Session) Execute(ctx context.Context, inputs []string, state string) (result, newState string, err error) {
	start := time.Now()
	defer func() { xmetrics.SandboxExecutions.Inc(1) }()

	type outcome struct {
		resp executeResponse
		err  error
	}
	done := make(chan outcome, 1)

	go func() {
		var resp executeResponse
		err := s.roundTrip(MessageExecute, executePayload{Inputs: inputs, State: state}, &resp)
		done <- outcome{resp: resp, err: err}
	}()

	select {
	case <-ctx.Done():
		xmetrics.SandboxTimeouts.Inc(1)
		s.killProcess("execution timeout")
		return "Execution timeout", state, nil
	case out := <-done:
		xmetrics.SandboxExecutionTime.UpdateSince(start)
		if out.err != nil {
			s.killProcess("protocol error during execute")
			return "", state, out.err
		}
		if !out.resp.Success {
			return out.resp.Error, state, nil
		}
		return out.resp.Result, out.resp.State, nil
	}
}

// roundTrip writes one envelope and decodes one response line.
func (s *Session) roundTrip(t MessageType, payload any, out any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.disposed {
		return ErrSessionDisposed
	}
	if s.killed {
		return ErrUnexpectedEOF
	}

	line, err := json.Marshal(request{Type: t, Payload: payload})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	if _, err := s.stdin.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write to sandbox: %w", err)
	}

	raw, err := s.readLine()
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode sandbox response: %w", err)
	}
	return nil
}

// readLine reads one LF-delimited line, stripping a trailing CR.
func (s *Session) readLine() ([]byte, error) {
	line, err := s.stdout.ReadBytes('\n')
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("read from sandbox: %w", err)
	}
	line = line[:len(line)-1]
	line = trimCR(line)
	return line, nil
}

func trimCR(line []byte) []byte {
	if n := len(line); n > 0 && line[n-1] == '\r' {
		return line[:n-1]
	}
	return line
}

// killProcess terminates the child and anything it spawned, and marks the
// session so no further I/O is attempted.
func (s *Session) killProcess(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.killed {
		return
	}
	s.killed = true
	log.Warn("killing sandbox process", "sessionId", s.id, "reason", reason)
	killProcessTree(s.cmd)
}

// Dispose sends shutdown, stops the monitor, waits briefly for a clean
// exit, then kills. After Dispose the session is unusable.
func (s *Session) Dispose() {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	s.disposed = true
	alreadyKilled := s.killed
	s.mu.Unlock()

	if !alreadyKilled {
		line, err := json.Marshal(request{Type: MessageShutdown, Payload: struct{}{}})
		if err == nil {
			_, _ = s.stdin.Write(append(line, '\n'))
		}
	}

	if s.monitorCancel != nil {
		s.monitorCancel()
		<-s.monitorDone
	}

	done := make(chan struct{})
	go func() {
		_, _ = s.cmd.Process.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(disposeGrace):
		killProcessTree(s.cmd)
	}

	_ = s.stdin.Close()
}
