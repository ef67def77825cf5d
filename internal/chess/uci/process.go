package uci

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/park285/jstockfish-go/internal/chess"
	"github.com/park285/jstockfish-go/internal/chess/score"
)

// ErrUnresponsive marks a process that stopped answering requests.
var ErrUnresponsive = errors.New("engine unresponsive")

const (
	defaultRequestTimeout = 4 * time.Second
	quitGracePeriod       = 2 * time.Second
	maxLineBytes          = 1 << 20
)

// ScoreSource selects how Scores obtains the twelve-component dump.
type ScoreSource string

const (
	// ScoreExtension uses the engine's private "scores" command.
	ScoreExtension ScoreSource = "extension"
	// ScoreTrace parses the classical "eval" trace table.
	ScoreTrace ScoreSource = "trace"
)

func ParseScoreSource(s string) (ScoreSource, error) {
	switch ScoreSource(strings.ToLower(strings.TrimSpace(s))) {
	case "", ScoreExtension:
		return ScoreExtension, nil
	case ScoreTrace:
		return ScoreTrace, nil
	default:
		return "", fmt.Errorf("unknown score source %q", s)
	}
}

type Config struct {
	BinaryPath     string
	Args           []string
	ScoreSource    ScoreSource
	RequestTimeout time.Duration
	Logger         *zap.Logger
}

type request struct {
	until func(string) bool
	lines []string
	done  chan struct{}
}

func (r *request) feed(line string) bool {
	r.lines = append(r.lines, line)
	if r.until(line) {
		close(r.done)
		return true
	}
	return false
}

// Process is one running engine speaking UCI over a pair of pipes.
//
// Synchronous commands are framed by a terminator line and answered in
// order. Search output ("info", "bestmove") and any line that arrives while
// no request is pending go to the output sink, on the reader goroutine.
type Process struct {
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	logger  *zap.Logger
	timeout time.Duration
	scores  ScoreSource

	writeMu sync.Mutex
	reqMu   sync.Mutex

	mu       sync.Mutex
	pending  *request
	stale    *request
	broken   error
	sink     func(string)
	options  map[string]string
	identity string
	readErr  error

	done      chan struct{}
	closeOnce sync.Once
}

// NewProcess starts the engine binary. The process is killed if ctx is
// cancelled before Close.
func NewProcess(ctx context.Context, cfg Config) (*Process, error) {
	if strings.TrimSpace(cfg.BinaryPath) == "" {
		return nil, fmt.Errorf("engine binary path required")
	}

	cmd := exec.CommandContext(ctx, cfg.BinaryPath, cfg.Args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdin pipe: %w", err)
	}
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdoutPipe.Close()
		return nil, fmt.Errorf("start engine: %w", err)
	}

	p := newProcess(stdin, cfg)
	p.cmd = cmd
	go p.readLoop(stdoutPipe)
	p.logger.Debug("engine started", zap.String("binary", cfg.BinaryPath), zap.Int("pid", cmd.Process.Pid))
	return p, nil
}

// NewProcessIO wraps an engine that is already connected through in and out.
func NewProcessIO(in io.WriteCloser, out io.Reader, cfg Config) *Process {
	p := newProcess(in, cfg)
	go p.readLoop(out)
	return p
}

func newProcess(in io.WriteCloser, cfg Config) *Process {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	source := cfg.ScoreSource
	if source == "" {
		source = ScoreExtension
	}
	return &Process{
		stdin:   in,
		logger:  logger,
		timeout: timeout,
		scores:  source,
		options: make(map[string]string),
		done:    make(chan struct{}),
	}
}

// SetOutput installs the sink for unsolicited engine output. A nil sink
// discards it.
func (p *Process) SetOutput(sink func(line string)) {
	p.mu.Lock()
	p.sink = sink
	p.mu.Unlock()
}

// Handshake sends "uci" once and caches the identity/options text up to and
// including "uciok".
func (p *Process) Handshake(ctx context.Context) (string, error) {
	p.mu.Lock()
	identity := p.identity
	p.mu.Unlock()
	if identity != "" {
		return identity, nil
	}

	lines, err := p.exchange(ctx, "uci", tokenLine("uciok"), "uci")
	if err != nil {
		return "", err
	}
	options := make(map[string]string)
	for _, line := range lines {
		if name, ok := parseOptionName(line); ok {
			options[strings.ToLower(name)] = name
		}
	}
	identity = strings.Join(lines, "\n")

	p.mu.Lock()
	p.identity = identity
	p.options = options
	p.mu.Unlock()
	return identity, nil
}

// Options lists the option names advertised during the handshake.
func (p *Process) Options() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.options))
	for _, name := range p.options {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (p *Process) HasOption(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.options[strings.ToLower(strings.TrimSpace(name))]
	return ok
}

// SetOption reports false without sending anything when the engine did not
// advertise name.
func (p *Process) SetOption(ctx context.Context, name, value string) (bool, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.ContainsAny(name+value, "\r\n") {
		return false, chess.InvalidArgument("setoption", fmt.Errorf("malformed option %q", name))
	}
	if !p.HasOption(name) {
		return false, nil
	}
	cmd := "setoption name " + name
	if v := strings.TrimSpace(value); v != "" {
		cmd += " value " + v
	}
	if _, err := p.exchange(ctx, "setoption", tokenLine("readyok"), cmd, "isready"); err != nil {
		return false, err
	}
	return true, nil
}

func (p *Process) IsReady(ctx context.Context) error {
	_, err := p.exchange(ctx, "isready", tokenLine("readyok"), "isready")
	return err
}

func (p *Process) NewGame(ctx context.Context) error {
	_, err := p.exchange(ctx, "ucinewgame", tokenLine("readyok"), "ucinewgame", "isready")
	return err
}

// SetPosition sends "position <spec>"; spec must already be validated.
func (p *Process) SetPosition(ctx context.Context, spec string) error {
	spec = strings.TrimSpace(spec)
	if spec == "" || strings.ContainsAny(spec, "\r\n") {
		return chess.InvalidArgument("position", fmt.Errorf("malformed position %q", spec))
	}
	_, err := p.exchange(ctx, "position", tokenLine("readyok"), "position "+spec, "isready")
	return err
}

// Go starts a search and returns without waiting for any output.
func (p *Process) Go(args string) error {
	if strings.ContainsAny(args, "\r\n") {
		return chess.InvalidArgument("go", fmt.Errorf("malformed go arguments"))
	}
	cmd := strings.TrimSpace("go " + strings.TrimSpace(args))
	if err := p.send(cmd); err != nil {
		return chess.Fault("go", err)
	}
	return nil
}

func (p *Process) Stop() error {
	if err := p.send("stop"); err != nil {
		return chess.Fault("stop", err)
	}
	return nil
}

func (p *Process) PonderHit() error {
	if err := p.send("ponderhit"); err != nil {
		return chess.Fault("ponderhit", err)
	}
	return nil
}

// Display returns the "d" board dump.
func (p *Process) Display(ctx context.Context) (string, error) {
	lines, err := p.exchange(ctx, "d", tokenLine("readyok"), "d", "isready")
	if err != nil {
		return "", err
	}
	return strings.Join(dropTerminator(lines), "\n"), nil
}

// FEN extracts the "Fen:" line of the board dump.
func (p *Process) FEN(ctx context.Context) (string, error) {
	text, err := p.Display(ctx)
	if err != nil {
		return "", err
	}
	for _, line := range strings.Split(text, "\n") {
		if rest, ok := strings.CutPrefix(strings.TrimSpace(line), "Fen:"); ok {
			return strings.TrimSpace(rest), nil
		}
	}
	return "", chess.Fault("fen", fmt.Errorf("no Fen line in board dump"))
}

// LegalMoves lists the moves of "go perft 1" for the loaded position.
func (p *Process) LegalMoves(ctx context.Context) ([]string, error) {
	lines, err := p.exchange(ctx, "perft", prefixLine("Nodes searched"), "go perft 1")
	if err != nil {
		return nil, err
	}
	moves := make([]string, 0, len(lines))
	for _, line := range lines {
		mv, _, ok := strings.Cut(strings.TrimSpace(line), ":")
		if !ok || !IsMoveSyntax(mv) {
			continue
		}
		moves = append(moves, mv)
	}
	return moves, nil
}

func (p *Process) EvalTrace(ctx context.Context) (string, error) {
	lines, err := p.exchange(ctx, "eval", tokenLine("readyok"), "eval", "isready")
	if err != nil {
		return "", err
	}
	return strings.Join(dropTerminator(lines), "\n"), nil
}

// Scores returns the twelve-component evaluation of the loaded position.
func (p *Process) Scores(ctx context.Context) (score.Vector, error) {
	if p.scores == ScoreTrace {
		text, err := p.EvalTrace(ctx)
		if err != nil {
			return score.Vector{}, err
		}
		return score.ParseTrace(text)
	}

	lines, err := p.exchange(ctx, "scores", replyLine(score.DumpPrefix), score.DumpPrefix)
	if err != nil {
		return score.Vector{}, err
	}
	return score.Parse(lines[len(lines)-1])
}

// StateOrdinal returns the engine-assigned game state ordinal.
func (p *Process) StateOrdinal(ctx context.Context) (int, error) {
	lines, err := p.exchange(ctx, "state", replyLine("state"), "state")
	if err != nil {
		return 0, err
	}
	last := lines[len(lines)-1]
	fields := strings.Fields(last)
	if len(fields) != 2 || fields[0] != "state" {
		return 0, chess.Fault("state", fmt.Errorf("unexpected reply %q", last))
	}
	n, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0, chess.Fault("state", fmt.Errorf("ordinal %q: %w", fields[1], err))
	}
	return n, nil
}

// Err reports why the output stream ended, or nil while it is open.
func (p *Process) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.readErr
}

func (p *Process) Close() error {
	var err error
	p.closeOnce.Do(func() {
		_ = p.send("quit")
		p.stdin.Close()

		if p.cmd == nil {
			return
		}
		waitCh := make(chan error, 1)
		go func() { waitCh <- p.cmd.Wait() }()
		select {
		case err = <-waitCh:
		case <-time.After(quitGracePeriod):
			if p.cmd.Process != nil {
				_ = p.cmd.Process.Kill()
			}
			err = <-waitCh
		}
		p.logger.Debug("engine exited", zap.Error(err))
	})
	return err
}

func (p *Process) exchange(ctx context.Context, op string, until func(string) bool, cmds ...string) ([]string, error) {
	p.reqMu.Lock()
	defer p.reqMu.Unlock()

	if err := p.awaitStale(ctx, op); err != nil {
		return nil, err
	}

	req := &request{until: until, done: make(chan struct{})}
	p.mu.Lock()
	if err := p.unusable(); err != nil {
		p.mu.Unlock()
		return nil, chess.Fault(op, err)
	}
	p.pending = req
	p.mu.Unlock()

	if err := p.send(cmds...); err != nil {
		p.clearPending(req)
		return nil, chess.Fault(op, err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	select {
	case <-req.done:
		return p.checkReply(op, req.lines)
	case <-p.done:
		select {
		case <-req.done:
			return p.checkReply(op, req.lines)
		default:
		}
		p.clearPending(req)
		return nil, chess.Fault(op, p.Err())
	case <-reqCtx.Done():
		// The reply may still arrive. The request stays installed so its
		// lines are swallowed instead of answering the next one.
		p.mu.Lock()
		if p.pending == req {
			p.stale = req
		}
		p.mu.Unlock()
		p.logger.Warn("engine request abandoned", zap.String("op", op), zap.Error(reqCtx.Err()))
		return nil, chess.Fault(op, reqCtx.Err())
	}
}

// awaitStale waits for the reply of an abandoned request to drain. An engine
// that never finishes it is marked broken.
func (p *Process) awaitStale(ctx context.Context, op string) error {
	p.mu.Lock()
	stale, broken := p.stale, p.broken
	p.mu.Unlock()
	if broken != nil {
		return chess.Fault(op, broken)
	}
	if stale == nil {
		return nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	select {
	case <-stale.done:
		return nil
	case <-p.done:
		return chess.Fault(op, p.Err())
	case <-waitCtx.Done():
		if ctx.Err() != nil {
			return chess.Fault(op, ctx.Err())
		}
		p.mu.Lock()
		if p.broken == nil {
			p.broken = fmt.Errorf("%w: engine did not answer an abandoned request", ErrUnresponsive)
		}
		err := p.broken
		p.mu.Unlock()
		p.logger.Error("engine unresponsive", zap.String("op", op))
		return chess.Fault(op, err)
	}
}

// unusable reports why no request can be sent. Callers hold p.mu.
func (p *Process) unusable() error {
	if p.readErr != nil {
		return p.readErr
	}
	return p.broken
}

func (p *Process) checkReply(op string, lines []string) ([]string, error) {
	for _, line := range lines {
		if strings.HasPrefix(line, "Unknown command") {
			return nil, chess.Fault(op, errors.New(line))
		}
	}
	return lines, nil
}

func (p *Process) clearPending(req *request) {
	p.mu.Lock()
	if p.pending == req {
		p.pending = nil
	}
	if p.stale == req {
		p.stale = nil
	}
	p.mu.Unlock()
}

func (p *Process) send(cmds ...string) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	for _, cmd := range cmds {
		p.logger.Debug("engine <", zap.String("cmd", cmd))
		if _, err := io.WriteString(p.stdin, cmd+"\n"); err != nil {
			return err
		}
	}
	return nil
}

func (p *Process) readLoop(r io.Reader) {
	defer close(p.done)

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for sc.Scan() {
		p.route(strings.TrimRight(sc.Text(), "\r"))
	}
	err := sc.Err()
	if err == nil {
		err = io.EOF
	}
	p.mu.Lock()
	p.readErr = err
	p.mu.Unlock()
	p.logger.Debug("engine output closed", zap.Error(err))
}

func (p *Process) route(line string) {
	p.mu.Lock()
	req := p.pending
	sink := p.sink
	p.mu.Unlock()

	if req != nil && !IsSearchOutput(line) {
		if req.feed(line) {
			p.clearPending(req)
		}
		return
	}
	if sink != nil {
		sink(line)
	}
}

// IsSearchOutput reports whether line belongs to a running search.
func IsSearchOutput(line string) bool {
	return strings.HasPrefix(line, "info") || strings.HasPrefix(line, "bestmove")
}

func tokenLine(token string) func(string) bool {
	return func(line string) bool { return strings.TrimSpace(line) == token }
}

func prefixLine(prefix string) func(string) bool {
	return func(line string) bool { return strings.HasPrefix(strings.TrimSpace(line), prefix) }
}

// replyLine matches a one-line extension reply or the engine's refusal.
func replyLine(keyword string) func(string) bool {
	return func(line string) bool {
		line = strings.TrimSpace(line)
		return strings.HasPrefix(line, keyword+" ") || line == keyword || strings.HasPrefix(line, "Unknown command")
	}
}

func dropTerminator(lines []string) []string {
	if len(lines) == 0 {
		return lines
	}
	return lines[:len(lines)-1]
}

func parseOptionName(line string) (string, bool) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(line), "option name ")
	if !ok {
		return "", false
	}
	name, _, found := strings.Cut(rest, " type ")
	if !found {
		return "", false
	}
	name = strings.TrimSpace(name)
	return name, name != ""
}
