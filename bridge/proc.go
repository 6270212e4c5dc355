package bridge

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/benchd/benchd/dispatch"
)

// stopTimeout is how long Stop waits for the child to exit after its
// stdin closes before killing it.
const stopTimeout = 5 * time.Second

// Proc proxies dispatch calls to an external dispatcher process over its
// stdin/stdout line protocol. The process is started once; if it dies the
// bridge stays non-functional until restarted by the operator.
type Proc struct {
	log   *zap.SugaredLogger
	cmd   *exec.Cmd
	stdin io.WriteCloser
	lines chan []byte

	// Calls are serialized: the child answers strictly in FIFO order, so
	// one write followed by one read is exact correlation. stale counts
	// responses abandoned by timed-out calls; they must be drained before
	// the next call reads, or every later call would read its
	// predecessor's response.
	mu    sync.Mutex
	stale int
}

type ProcOption func(p *Proc)

func WithProcLogger(l *zap.Logger) ProcOption {
	return func(p *Proc) {
		p.log = l.Named("bridge_proc").Sugar()
	}
}

// StartProc launches the dispatcher process and begins pumping its
// output.
func StartProc(name string, args []string, opts ...ProcOption) (*Proc, error) {
	p := &Proc{
		log:   zap.NewNop().Sugar(),
		lines: make(chan []byte),
	}
	for _, o := range opts {
		o(p)
	}

	cmd := exec.Command(name, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("opening stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("opening stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("opening stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting dispatcher process: %w", err)
	}
	p.cmd = cmd
	p.stdin = stdin

	go p.pumpLines(stdout)
	go p.pumpStderr(stderr)

	p.log.Infof("dispatcher process started: %s (pid %d)", name, cmd.Process.Pid)
	return p, nil
}

func (p *Proc) pumpLines(stdout io.Reader) {
	defer close(p.lines)
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		p.lines <- append([]byte{}, scanner.Bytes()...)
	}
	if err := scanner.Err(); err != nil {
		p.log.Errorf("reading dispatcher output: %s", err)
	}
}

func (p *Proc) pumpStderr(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		p.log.Debugf("dispatcher stderr: %s", scanner.Text())
	}
}

// Call writes one request line and reads the matching response line.
func (p *Proc) Call(ctx context.Context, method string, params dispatch.Params, id json.RawMessage) ([]byte, error) {
	line, err := json.Marshal(dispatch.Request{Method: method, Params: params, ID: id})
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// Drain responses to earlier requests whose callers gave up waiting,
	// so this call reads its own response and not a predecessor's.
	for p.stale > 0 {
		select {
		case _, ok := <-p.lines:
			if !ok {
				return nil, errors.New("dispatcher process closed its output")
			}
			p.stale--
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if _, err := p.stdin.Write(append(line, '\n')); err != nil {
		return nil, fmt.Errorf("writing to dispatcher process: %w", err)
	}

	select {
	case resp, ok := <-p.lines:
		if !ok {
			return nil, errors.New("dispatcher process closed its output")
		}
		return resp, nil
	case <-ctx.Done():
		p.stale++
		return nil, ctx.Err()
	}
}

// Stop closes the child's stdin, which ends its dispatch loop at EOF,
// and waits for it to exit.
func (p *Proc) Stop() error {
	p.stdin.Close()

	done := make(chan error, 1)
	go func() { done <- p.cmd.Wait() }()

	select {
	case err := <-done:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil
		}
		return err
	case <-time.After(stopTimeout):
		p.cmd.Process.Kill()
		<-done
		return errors.New("dispatcher process did not exit, killed")
	}
}
