// Package supervisor starts the subject process and owns its input and
// output.
//
// The subject runs in a session of its own so that it can be terminated
// together with everything it spawned. Its stdout and stderr are joined into
// a single stream that is read line by line; every byte read is also copied
// to an echo writer for live observation.
package supervisor

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"code.cloudfoundry.org/clock"
	"golang.org/x/sys/unix"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// killTimeout bounds the wait for the subject to be reaped after SIGKILL.
const killTimeout = 10 * time.Second

// Options configures Spawn.
type Options struct {
	// Echo receives a copy of all output read from the subject. Nil means
	// os.Stdout. Write errors are ignored.
	Echo io.Writer

	// Dir is the working directory of the subject. Empty means the
	// current directory.
	Dir string

	// Env is the environment of the subject. Nil means the current
	// process's environment.
	Env []string

	// Clock is used for the grace period of Stop. Nil means the real clock.
	Clock clock.Clock

	// Logger receives debug messages about signals. Nil discards them.
	Logger *slog.Logger
}

// Process is a running subject.
//
// ReadLine, InjectAfterPrompt and Inject must be called from a single
// goroutine. Terminate, Kill, Stop, Close and the status methods may be
// called from any goroutine.
type Process struct {
	cmd    *exec.Cmd
	argv   []string
	stdin  io.WriteCloser
	out    *os.File
	br     *bufio.Reader
	clk    clock.Clock
	logger *slog.Logger

	eof bool

	done     chan struct{}
	exitCode int

	closeOnce sync.Once
	closeErr  error
}

// Spawn starts argv[0] with the remaining elements as arguments.
func Spawn(argv []string, opts Options) (*Process, error) {
	if len(argv) == 0 {
		return nil, &SpawnError{Err: errors.New("empty command")}
	}

	echo := opts.Echo
	if echo == nil {
		echo = os.Stdout
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.NewClock()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, &SpawnError{Argv: argv, Err: fmt.Errorf("creating output pipe: %w", err)}
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = opts.Dir
	cmd.Env = opts.Env
	cmd.Stdout = pw
	cmd.Stderr = pw
	cmd.SysProcAttr = &unix.SysProcAttr{Setsid: true}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		pr.Close()
		pw.Close()
		return nil, &SpawnError{Argv: argv, Err: fmt.Errorf("creating input pipe: %w", err)}
	}

	if err := cmd.Start(); err != nil {
		pr.Close()
		pw.Close()
		return nil, &SpawnError{Argv: argv, Err: err}
	}
	// The subject holds the only write end now, so EOF arrives once it and
	// all its descendants are gone.
	pw.Close()

	src := io.TeeReader(pr, lenientWriter{echo})
	p := &Process{
		cmd:      cmd,
		argv:     argv,
		stdin:    stdin,
		out:      pr,
		br:       bufio.NewReader(transform.NewReader(src, unicode.UTF8.NewDecoder())),
		clk:      clk,
		logger:   logger,
		done:     make(chan struct{}),
		exitCode: -1,
	}
	go p.wait()

	logger.Debug("subject started", "pid", cmd.Process.Pid, "argv", argv)
	return p, nil
}

func (p *Process) wait() {
	// A non-zero exit is reported through ExitCode.
	_ = p.cmd.Wait()
	p.exitCode = p.cmd.ProcessState.ExitCode()
	p.logger.Debug("subject exited", "pid", p.Pid(), "state", p.cmd.ProcessState.String())
	close(p.done)
}

// Pid returns the process ID of the subject, which is also its session ID.
func (p *Process) Pid() int {
	return p.cmd.Process.Pid
}

// Done returns a channel that is closed once the subject has exited and
// been reaped.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Exited reports whether the subject has exited.
func (p *Process) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// ExitCode returns the subject's exit code, or -1 if it has not exited or
// was terminated by a signal.
func (p *Process) ExitCode() int {
	select {
	case <-p.done:
		return p.exitCode
	default:
		return -1
	}
}

// ReadLine returns the next line of output without its line terminator
// ("\n" or "\r\n"). Invalid UTF-8 is replaced by U+FFFD. A final line without
// a terminator is still returned. ok is false at end of output or once the
// process has been closed.
func (p *Process) ReadLine() (line string, ok bool) {
	if p.eof {
		return "", false
	}
	s, err := p.br.ReadString('\n')
	if err != nil {
		p.eof = true
		if s == "" {
			return "", false
		}
		return strings.TrimSuffix(s, "\r"), true
	}
	s = strings.TrimSuffix(s, "\n")
	s = strings.TrimSuffix(s, "\r")
	return s, true
}

// InjectAfterPrompt consumes output until it ends with prompt, then writes
// text to the subject's input. Output consumed while waiting is echoed but
// not returned by ReadLine. An empty prompt writes text immediately.
func (p *Process) InjectAfterPrompt(prompt, text string) error {
	if prompt == "" {
		return p.Inject(text)
	}

	window := make([]byte, 0, len(prompt))
	for {
		b, err := p.br.ReadByte()
		if err != nil {
			p.eof = true
			return &PromptNotFoundError{Prompt: prompt, Err: err}
		}
		if len(window) == len(prompt) {
			copy(window, window[1:])
			window = window[:len(window)-1]
		}
		window = append(window, b)
		if string(window) == prompt {
			p.logger.Debug("prompt found", "prompt", prompt)
			return p.Inject(text)
		}
	}
}

// Inject writes text to the subject's input.
func (p *Process) Inject(text string) error {
	if text == "" {
		return nil
	}
	if _, err := io.WriteString(p.stdin, text); err != nil {
		return fmt.Errorf("writing to subject: %w", err)
	}
	return nil
}

// Terminate sends SIGTERM to every process in the subject's session. It
// does not wait and returns nil if the subject has already exited.
func (p *Process) Terminate() error {
	return p.signal(unix.SIGTERM)
}

// Kill sends SIGKILL to every process in the subject's session. It does not
// wait and returns nil if the subject has already exited.
func (p *Process) Kill() error {
	return p.signal(unix.SIGKILL)
}

func (p *Process) signal(sig unix.Signal) error {
	// Descendants may outlive the session leader, so the session is
	// signalled even after the subject itself has exited.
	n := killSession(p.Pid(), sig)
	p.logger.Debug("signalled session", "sid", p.Pid(), "signal", sig.String(), "processes", n)

	if p.Exited() {
		return nil
	}
	if err := p.cmd.Process.Signal(sig); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("signalling subject: %w", err)
	}
	return nil
}

// Stop terminates the subject, waits up to grace for it to exit and then
// kills whatever is left of its session. It returns once the subject has
// been reaped, or with an error if it survives SIGKILL.
func (p *Process) Stop(grace time.Duration) error {
	if !p.Exited() {
		if err := p.Terminate(); err != nil {
			p.logger.Debug("terminate failed", "error", err)
		}
		if grace > 0 {
			tm := p.clk.NewTimer(grace)
			select {
			case <-p.done:
			case <-tm.C():
			}
			tm.Stop()
		}
	}

	if err := p.Kill(); err != nil {
		return err
	}

	tm := p.clk.NewTimer(killTimeout)
	defer tm.Stop()
	select {
	case <-p.done:
		return nil
	case <-tm.C():
		return fmt.Errorf("subject %d still running %v after SIGKILL", p.Pid(), killTimeout)
	}
}

// Close closes the subject's input and the read side of its output,
// unblocking a pending ReadLine. It does not signal the subject.
func (p *Process) Close() error {
	p.closeOnce.Do(func() {
		p.stdin.Close()
		p.closeErr = p.out.Close()
	})
	return p.closeErr
}

// lenientWriter drops write errors so that a failing echo never interrupts
// reading.
type lenientWriter struct {
	w io.Writer
}

func (lw lenientWriter) Write(b []byte) (int, error) {
	lw.w.Write(b)
	return len(b), nil
}
