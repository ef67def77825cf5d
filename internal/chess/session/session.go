package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/park285/jstockfish-go/internal/chess"
	"github.com/park285/jstockfish-go/internal/chess/output"
	"github.com/park285/jstockfish-go/internal/chess/position"
	"github.com/park285/jstockfish-go/internal/chess/render"
	"github.com/park285/jstockfish-go/internal/chess/score"
	"github.com/park285/jstockfish-go/internal/chess/uci"
)

type Phase int

const (
	Uninitialized Phase = iota
	Ready
	PositionLoaded
	Searching
)

func (p Phase) String() string {
	switch p {
	case Uninitialized:
		return "uninitialized"
	case Ready:
		return "ready"
	case PositionLoaded:
		return "position_loaded"
	case Searching:
		return "searching"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

func (p Phase) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// Option is an engine option applied right after the handshake.
type Option struct {
	Name  string
	Value string
}

type Config struct {
	Process *uci.Process
	Query   *position.Query
	// Dispatcher receives search output. Nil creates one writing to stderr.
	Dispatcher *output.Dispatcher
	Options    []Option
	Logger     *zap.Logger
}

// Session drives one engine through one game at a time.
//
// Callers must serialize calls. Listener callbacks run on the engine reader
// goroutine and must not call back into synchronous Session methods.
type Session struct {
	proc     *uci.Process
	query    *position.Query
	out      *output.Dispatcher
	defaults []Option
	logger   *zap.Logger

	// mu guards the fields below against the engine reader goroutine.
	mu         sync.Mutex
	phase      Phase
	identity   string
	descriptor position.Descriptor
	chess960   bool
	flipped    bool
	search     *run
	last       *run
}

type run struct {
	id         string
	opts       uci.GoOptions
	ponder     bool
	started    time.Time
	done       chan struct{}
	bestMove   string
	ponderMove string
}

func New(cfg Config) (*Session, error) {
	if cfg.Process == nil {
		return nil, fmt.Errorf("engine process required")
	}
	if cfg.Query == nil {
		return nil, fmt.Errorf("position query required")
	}
	out := cfg.Dispatcher
	if out == nil {
		out = output.NewDispatcher(nil)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Session{
		proc:     cfg.Process,
		query:    cfg.Query,
		out:      out,
		defaults: append([]Option(nil), cfg.Options...),
		logger:   logger,
	}
	cfg.Process.SetOutput(s.onOutput)
	return s, nil
}

// Handshake identifies the engine and applies the configured options. Later
// calls return the same text without talking to the engine.
func (s *Session) Handshake(ctx context.Context) (string, error) {
	s.mu.Lock()
	if s.phase != Uninitialized {
		id := s.identity
		s.mu.Unlock()
		return id, nil
	}
	s.mu.Unlock()

	id, err := s.proc.Handshake(ctx)
	if err != nil {
		return "", err
	}
	for _, opt := range s.defaults {
		ok, err := s.proc.SetOption(ctx, opt.Name, opt.Value)
		if err != nil {
			return "", err
		}
		if !ok {
			s.logger.Warn("engine does not support option", zap.String("option", opt.Name))
			continue
		}
		if isChess960(opt.Name) {
			s.mu.Lock()
			s.chess960 = parseBool(opt.Value)
			s.mu.Unlock()
		}
	}
	if err := s.proc.IsReady(ctx); err != nil {
		return "", err
	}

	s.mu.Lock()
	s.identity = id
	s.phase = Ready
	s.mu.Unlock()
	s.logger.Info("engine ready", zap.String("engine", engineName(id)))
	return id, nil
}

// SetOption reports false when the engine does not know name.
func (s *Session) SetOption(ctx context.Context, name, value string) (bool, error) {
	if err := s.admit("setoption", false); err != nil {
		return false, err
	}
	ok, err := s.proc.SetOption(ctx, name, value)
	if err != nil || !ok {
		return ok, err
	}
	if isChess960(name) {
		s.mu.Lock()
		s.chess960 = parseBool(value)
		s.mu.Unlock()
	}
	return true, nil
}

// NewGame forgets the loaded position and the engine's search history.
func (s *Session) NewGame(ctx context.Context) error {
	if err := s.admit("ucinewgame", false); err != nil {
		return err
	}
	if err := s.proc.NewGame(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	s.phase = Ready
	s.descriptor = position.Descriptor{}
	s.mu.Unlock()
	return nil
}

// LoadPosition makes text the current position. It reports false, leaving
// the session unchanged, when text does not resolve to a legal position.
func (s *Session) LoadPosition(ctx context.Context, text string) (bool, error) {
	if err := s.admit("position", false); err != nil {
		return false, err
	}
	s.mu.Lock()
	d := position.Descriptor{Chess960: s.chess960, Moves: text}
	s.mu.Unlock()

	ok, err := s.query.Resolve(ctx, d)
	if err != nil || !ok {
		return false, err
	}
	if err := s.proc.SetPosition(ctx, d.Command()); err != nil {
		return false, err
	}

	s.mu.Lock()
	s.descriptor = d
	s.phase = PositionLoaded
	s.mu.Unlock()
	return true, nil
}

// StartSearch parses text as "go" arguments and starts the search.
func (s *Session) StartSearch(ctx context.Context, text string) error {
	opts, err := uci.ParseGoOptions(text)
	if err != nil {
		return err
	}
	return s.Search(ctx, opts)
}

// Search starts a search and returns at once; output reaches the listener.
func (s *Session) Search(_ context.Context, opts uci.GoOptions) error {
	for _, mv := range opts.SearchMoves {
		if !uci.IsMoveSyntax(mv) {
			return chess.InvalidArgument("go", fmt.Errorf("searchmoves entry %q", mv))
		}
	}

	s.mu.Lock()
	switch s.phase {
	case Uninitialized:
		s.mu.Unlock()
		return chess.Transition("go", "handshake required")
	case Searching:
		s.mu.Unlock()
		return chess.Transition("go", "search already running")
	case Ready:
		s.mu.Unlock()
		return chess.Transition("go", "no position loaded")
	}
	r := &run{
		id:      uuid.NewString(),
		opts:    opts,
		ponder:  opts.Ponder,
		started: time.Now(),
		done:    make(chan struct{}),
	}
	s.search = r
	s.last = r
	s.phase = Searching
	s.mu.Unlock()

	if err := s.proc.Go(opts.Args()); err != nil {
		s.mu.Lock()
		if s.search == r {
			s.search = nil
			s.phase = PositionLoaded
		}
		s.mu.Unlock()
		close(r.done)
		return err
	}
	s.logger.Info("search started", zap.String("search_id", r.id), zap.String("args", opts.Args()))
	return nil
}

// Stop asks a running search to finish. Without one it does nothing.
func (s *Session) Stop(_ context.Context) error {
	s.mu.Lock()
	r := s.search
	s.mu.Unlock()
	if r == nil {
		return nil
	}
	s.logger.Debug("search stop requested", zap.String("search_id", r.id))
	return s.proc.Stop()
}

// PonderHit turns a pondering search into a normal one.
func (s *Session) PonderHit(_ context.Context) error {
	s.mu.Lock()
	r := s.search
	if r == nil {
		s.mu.Unlock()
		return chess.Transition("ponderhit", "no search running")
	}
	if !r.ponder && !r.opts.Infinite {
		s.mu.Unlock()
		return chess.Transition("ponderhit", "search is not pondering")
	}
	r.ponder = false
	s.mu.Unlock()
	return s.proc.PonderHit()
}

// Wait blocks until the running search reports its best move and that line
// has reached the listener.
func (s *Session) Wait(ctx context.Context) error {
	s.mu.Lock()
	r := s.search
	if r == nil {
		r = s.last
	}
	s.mu.Unlock()
	if r == nil {
		return nil
	}
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// BestMove returns the result of the last finished search.
func (s *Session) BestMove() (best, ponder string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.last
	if r == nil || r == s.search || r.bestMove == "" {
		return "", "", false
	}
	return r.bestMove, r.ponderMove, true
}

func (s *Session) IsLegal(ctx context.Context, move string) (bool, error) {
	d, err := s.current("legal")
	if err != nil {
		return false, err
	}
	return s.query.IsLegal(ctx, d, move)
}

func (s *Session) LegalMoves(ctx context.Context) ([]string, error) {
	d, err := s.current("legal")
	if err != nil {
		return nil, err
	}
	return s.query.LegalMoves(ctx, d)
}

func (s *Session) ToFEN(ctx context.Context) (string, error) {
	d, err := s.current("fen")
	if err != nil {
		return "", err
	}
	return s.query.ToFEN(ctx, d)
}

func (s *Session) State(ctx context.Context) (position.State, error) {
	d, err := s.current("state")
	if err != nil {
		return position.Undetermined, err
	}
	return s.query.State(ctx, d)
}

func (s *Session) Evaluate(ctx context.Context) (score.Vector, error) {
	d, err := s.current("evaluate")
	if err != nil {
		return score.Vector{}, err
	}
	return s.query.Evaluate(ctx, d)
}

// Flip toggles the orientation used by Render and reports the new one.
// Nothing is sent to the engine, so Display keeps the engine's own
// orientation.
func (s *Session) Flip() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flipped = !s.flipped
	return s.flipped
}

// Display returns the engine's own board dump.
func (s *Session) Display(ctx context.Context) (string, error) {
	if err := s.admit("d", true); err != nil {
		return "", err
	}
	return s.proc.Display(ctx)
}

// EvalText returns the engine's "eval" report for the loaded position.
func (s *Session) EvalText(ctx context.Context) (string, error) {
	if err := s.admit("eval", false); err != nil {
		return "", err
	}
	if _, err := s.current("eval"); err != nil {
		return "", err
	}
	return s.proc.EvalTrace(ctx)
}

// Render draws the current position as a PNG in the display orientation.
func (s *Session) Render(ctx context.Context, size int) ([]byte, error) {
	fen, err := s.ToFEN(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	opts := render.Options{Size: size, Flipped: s.flipped, Chess960: s.descriptor.Chess960}
	s.mu.Unlock()
	return render.PNG(ctx, fen, opts)
}

func (s *Session) SetListener(l output.Listener) { s.out.SetListener(l) }

// Status is a point-in-time view of the session.
type Status struct {
	Phase    Phase  `json:"phase"`
	Position string `json:"position,omitempty"`
	Chess960 bool   `json:"chess960"`
	Flipped  bool   `json:"flipped"`
	SearchID string `json:"search_id,omitempty"`
	Ponder   bool   `json:"ponder,omitempty"`
	BestMove string `json:"best_move,omitempty"`
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{Phase: s.phase, Chess960: s.chess960, Flipped: s.flipped}
	if s.phase >= PositionLoaded {
		st.Position = s.descriptor.Command()
	}
	if s.search != nil {
		st.SearchID = s.search.id
		st.Ponder = s.search.ponder
	} else if s.last != nil {
		st.BestMove = s.last.bestMove
	}
	return st
}

// Close stops any search and shuts the engine down.
func (s *Session) Close() error {
	s.mu.Lock()
	searching := s.search != nil
	s.mu.Unlock()
	if searching {
		_ = s.proc.Stop()
	}
	return s.proc.Close()
}

// admit checks that op may run now. Searching is rejected unless
// duringSearch is set.
func (s *Session) admit(op string, duringSearch bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.phase {
	case Uninitialized:
		return chess.Transition(op, "handshake required")
	case Searching:
		if !duringSearch {
			return chess.Transition(op, "search in progress")
		}
	}
	return nil
}

func (s *Session) current(op string) (position.Descriptor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase < PositionLoaded {
		return position.Descriptor{}, chess.NoPosition(op)
	}
	return s.descriptor, nil
}

// onOutput runs on the engine reader goroutine. A bestmove line ends the
// search before it is delivered, so listeners may start the next one.
func (s *Session) onOutput(line string) {
	if !strings.HasPrefix(line, "bestmove") {
		s.out.Deliver(line)
		return
	}

	s.mu.Lock()
	r := s.search
	if r != nil {
		s.search = nil
		if s.phase == Searching {
			s.phase = PositionLoaded
		}
		r.bestMove, r.ponderMove, _ = uci.ParseBestMove(line)
	}
	s.mu.Unlock()

	s.out.Deliver(line)
	if r != nil {
		close(r.done)
		s.logger.Info("search finished",
			zap.String("search_id", r.id),
			zap.String("best", r.bestMove),
			zap.Duration("elapsed", time.Since(r.started)))
	}
}

func isChess960(name string) bool {
	return strings.EqualFold(strings.TrimSpace(name), "UCI_Chess960")
}

func parseBool(v string) bool {
	return strings.EqualFold(strings.TrimSpace(v), "true")
}

func engineName(identity string) string {
	for _, line := range strings.Split(identity, "\n") {
		if name, ok := strings.CutPrefix(line, "id name "); ok {
			return name
		}
	}
	return "unknown"
}
