// Package enginetest provides an in-memory UCI engine for tests. It speaks
// the standard commands plus the "scores" and "state" extensions and keeps
// its position with corentings/chess.
package enginetest

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	nchess "github.com/corentings/chess/v2"
)

const StartFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

// State ordinals answered by the "state" extension.
const (
	OrdAlive = iota
	OrdWhiteMate
	OrdBlackMate
	OrdWhiteStalemate
	OrdBlackStalemate
	OrdDrawNoMate
	OrdCanDraw50
	OrdCanDrawRepetition
)

type Options struct {
	// NoExtensions answers "scores" and "state" with "Unknown command".
	NoExtensions bool
	// StateOverride, when set, replaces the computed state ordinal.
	StateOverride func(fen string) int
	// ScoreCount changes the number of values in a "scores" reply.
	ScoreCount int
	// Silent drops every reply, so synchronous requests time out.
	Silent bool
	// Delay, when set, is consulted for every command and stalls the engine
	// for the returned duration before handling it. It runs on the engine
	// goroutine.
	Delay func(cmd string) time.Duration
}

// Engine is one fake engine instance. Connect it with Conn.
type Engine struct {
	opts Options

	inR  *io.PipeReader
	inW  *io.PipeWriter
	outR *io.PipeReader
	outW *io.PipeWriter

	writeMu sync.Mutex

	mu       sync.Mutex
	chess960 bool
	options  map[string]string
	game     *nchess.Game
	history  []string
	received []string
	search   *search
	searches int
	done     chan struct{}
}

type search struct {
	stop     chan struct{}
	hit      chan struct{}
	infinite bool
	ponder   bool
	once     sync.Once
	hitOnce  sync.Once
}

func (s *search) halt() { s.once.Do(func() { close(s.stop) }) }

func New(opts Options) *Engine {
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	e := &Engine{
		opts:    opts,
		inR:     inR,
		inW:     inW,
		outR:    outR,
		outW:    outW,
		options: make(map[string]string),
		done:    make(chan struct{}),
	}
	e.reset()
	go e.serve()
	return e
}

// Conn returns the engine's stdin writer and stdout reader.
func (e *Engine) Conn() (io.WriteCloser, io.Reader) { return e.inW, e.outR }

// Received lists the commands read so far.
func (e *Engine) Received() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.received...)
}

// Count reports how many received commands start with prefix.
func (e *Engine) Count(prefix string) int {
	n := 0
	for _, cmd := range e.Received() {
		if strings.HasPrefix(cmd, prefix) {
			n++
		}
	}
	return n
}

func (e *Engine) Option(name string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.options[strings.ToLower(name)]
	return v, ok
}

func (e *Engine) FEN() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.game.FEN()
}

// Searching reports whether a search is running.
func (e *Engine) Searching() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.search != nil
}

// Searches counts the searches started so far.
func (e *Engine) Searches() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.searches
}

// Emit writes an arbitrary line to the engine's output.
func (e *Engine) Emit(line string) { e.write(line) }

// Kill closes the output stream as if the process died.
func (e *Engine) Kill() {
	_ = e.outW.Close()
	_ = e.inR.Close()
}

// Done is closed once the engine stopped serving.
func (e *Engine) Done() <-chan struct{} { return e.done }

func (e *Engine) write(lines ...string) {
	if e.opts.Silent {
		return
	}
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	for _, line := range lines {
		if _, err := io.WriteString(e.outW, line+"\n"); err != nil {
			return
		}
	}
}

func (e *Engine) reset() {
	e.game = nchess.NewGame()
	e.history = []string{positionKey(e.game.FEN())}
}

func (e *Engine) serve() {
	defer close(e.done)
	defer e.outW.Close()

	sc := bufio.NewScanner(e.inR)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		e.mu.Lock()
		e.received = append(e.received, line)
		e.mu.Unlock()
		if line == "quit" {
			e.stopSearch()
			return
		}
		if e.opts.Delay != nil {
			if d := e.opts.Delay(line); d > 0 {
				time.Sleep(d)
			}
		}
		e.handle(line)
	}
}

func (e *Engine) handle(line string) {
	cmd, rest, _ := strings.Cut(line, " ")
	switch cmd {
	case "uci":
		e.write(
			"id name Fakefish 1",
			"id author enginetest",
			"",
			"option name Threads type spin default 1 min 1 max 512",
			"option name Hash type spin default 16 min 1 max 33554432",
			"option name Ponder type check default false",
			"option name MultiPV type spin default 1 min 1 max 500",
			"option name Skill Level type spin default 20 min 0 max 20",
			"option name UCI_Chess960 type check default false",
			"uciok",
		)
	case "isready":
		e.write("readyok")
	case "setoption":
		e.setOption(rest)
	case "ucinewgame":
		e.mu.Lock()
		e.reset()
		e.mu.Unlock()
	case "position":
		e.setPosition(rest)
	case "go":
		if strings.HasPrefix(rest, "perft") {
			e.perft()
			return
		}
		e.startSearch(rest)
	case "stop":
		e.stopSearch()
	case "ponderhit":
		e.ponderHit()
	case "d":
		e.display()
	case "eval":
		e.eval()
	case "scores":
		if e.opts.NoExtensions {
			e.unknown(line)
			return
		}
		e.scores()
	case "state":
		if e.opts.NoExtensions {
			e.unknown(line)
			return
		}
		e.state()
	default:
		e.unknown(line)
	}
}

func (e *Engine) unknown(line string) {
	e.write(fmt.Sprintf("Unknown command: '%s'. Type help for more information.", line))
}

func (e *Engine) setOption(rest string) {
	rest = strings.TrimPrefix(rest, "name ")
	name, value, _ := strings.Cut(rest, " value ")
	name = strings.TrimSpace(name)
	e.mu.Lock()
	e.options[strings.ToLower(name)] = strings.TrimSpace(value)
	if strings.EqualFold(name, "UCI_Chess960") {
		e.chess960 = strings.EqualFold(strings.TrimSpace(value), "true")
	}
	e.mu.Unlock()
}

// setPosition mirrors the engine: moves are applied until the first one
// that does not parse or is illegal.
func (e *Engine) setPosition(rest string) {
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return
	}
	var fen string
	i := 1
	switch fields[0] {
	case "startpos":
		fen = StartFEN
	case "fen":
		var parts []string
		for i < len(fields) && fields[i] != "moves" {
			parts = append(parts, fields[i])
			i++
		}
		fen = strings.Join(parts, " ")
	default:
		return
	}
	if i < len(fields) && fields[i] == "moves" {
		i++
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.chess960 {
		fen = dropCastling(fen)
	}
	game, err := gameFromFEN(fen)
	if err != nil {
		return
	}
	history := []string{positionKey(game.FEN())}
	for _, mv := range fields[i:] {
		m, ok := findMove(game, mv)
		if !ok || game.Move(m, nil) != nil {
			break
		}
		history = append(history, positionKey(game.FEN()))
	}
	e.game = game
	e.history = history
}

func gameFromFEN(fen string) (*nchess.Game, error) {
	opt, err := nchess.FEN(fen)
	if err != nil {
		return nil, err
	}
	return nchess.NewGame(opt), nil
}

func dropCastling(fen string) string {
	parts := strings.Fields(fen)
	if len(parts) >= 3 {
		parts[2] = "-"
	}
	return strings.Join(parts, " ")
}

// positionKey keeps the placement, side, castling and en passant fields.
func positionKey(fen string) string {
	parts := strings.Fields(fen)
	if len(parts) > 4 {
		parts = parts[:4]
	}
	return strings.Join(parts, " ")
}

// LegalMoves lists the legal moves of fen in coordinate notation, sorted.
func LegalMoves(fen string) ([]string, error) {
	game, err := gameFromFEN(fen)
	if err != nil {
		return nil, err
	}
	return legalMoves(game), nil
}

func legalMoves(game *nchess.Game) []string {
	if game.Outcome() != nchess.NoOutcome {
		return nil
	}
	pos := game.Position()
	valid := game.ValidMoves()
	moves := make([]string, 0, len(valid))
	for i := range valid {
		moves = append(moves, nchess.UCINotation{}.Encode(pos, &valid[i]))
	}
	sort.Strings(moves)
	return moves
}

func findMove(game *nchess.Game, text string) (*nchess.Move, bool) {
	pos := game.Position()
	valid := game.ValidMoves()
	for i := range valid {
		if (nchess.UCINotation{}).Encode(pos, &valid[i]) == text {
			return &valid[i], true
		}
	}
	return nil, false
}

func (e *Engine) perft() {
	e.mu.Lock()
	moves := legalMoves(e.game)
	e.mu.Unlock()
	lines := make([]string, 0, len(moves)+3)
	for _, mv := range moves {
		lines = append(lines, mv+": 1")
	}
	lines = append(lines, "", "Nodes searched: "+strconv.Itoa(len(moves)), "")
	e.write(lines...)
}

func (e *Engine) startSearch(args string) {
	fields := strings.Fields(args)
	s := &search{stop: make(chan struct{}), hit: make(chan struct{})}
	for _, f := range fields {
		switch f {
		case "infinite":
			s.infinite = true
		case "ponder":
			s.ponder = true
		}
	}

	e.mu.Lock()
	if e.search != nil {
		e.mu.Unlock()
		return
	}
	e.search = s
	e.searches++
	moves := legalMoves(e.game)
	total := Scores(e.game.FEN())[0]
	e.mu.Unlock()

	best, ponder := "(none)", ""
	if len(moves) > 0 {
		best = moves[0]
	}
	if len(moves) > 1 {
		ponder = moves[1]
	}
	cp := int(total * 100)

	go func() {
		e.write(fmt.Sprintf("info depth 1 seldepth 1 multipv 1 score cp %d nodes 20 nps 20000 time 1 pv %s", cp, best))
		if s.infinite || s.ponder {
			select {
			case <-s.stop:
			case <-s.hit:
				if s.infinite {
					<-s.stop
				}
			}
		}
		e.write(fmt.Sprintf("info depth 2 seldepth 2 multipv 1 score cp %d nodes 40 nps 20000 time 2 pv %s", cp, best))

		e.mu.Lock()
		if e.search == s {
			e.search = nil
		}
		e.mu.Unlock()

		if ponder != "" {
			e.write("bestmove " + best + " ponder " + ponder)
		} else {
			e.write("bestmove " + best)
		}
	}()
}

func (e *Engine) stopSearch() {
	e.mu.Lock()
	s := e.search
	e.mu.Unlock()
	if s != nil {
		s.halt()
	}
}

func (e *Engine) ponderHit() {
	e.mu.Lock()
	s := e.search
	e.mu.Unlock()
	if s != nil {
		s.hitOnce.Do(func() { close(s.hit) })
	}
}

// WaitIdle blocks until no search is running or the timeout passes.
func (e *Engine) WaitIdle(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !e.Searching() {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return false
}

func (e *Engine) display() {
	e.mu.Lock()
	fen := e.game.FEN()
	board := e.game.Position().Board()
	e.mu.Unlock()

	squares := board.SquareMap()
	lines := []string{"", " +---+---+---+---+---+---+---+---+"}
	for rank := 7; rank >= 0; rank-- {
		var sb strings.Builder
		sb.WriteString(" |")
		for file := 0; file < 8; file++ {
			sq := nchess.NewSquare(nchess.File(file), nchess.Rank(rank))
			sb.WriteString(" ")
			sb.WriteByte(PieceLetter(squares[sq]))
			sb.WriteString(" |")
		}
		sb.WriteString(" " + strconv.Itoa(rank+1))
		lines = append(lines, sb.String(), " +---+---+---+---+---+---+---+---+")
	}
	lines = append(lines, "   a   b   c   d   e   f   g   h", "", "Fen: "+fen, "Key: 0000000000000000", "Checkers: ")
	e.write(lines...)
}

// PieceLetter returns the FEN letter of p, or a space for an empty square.
func PieceLetter(p nchess.Piece) byte {
	if p == nchess.NoPiece {
		return ' '
	}
	var c byte
	switch p.Type() {
	case nchess.King:
		c = 'k'
	case nchess.Queen:
		c = 'q'
	case nchess.Rook:
		c = 'r'
	case nchess.Bishop:
		c = 'b'
	case nchess.Knight:
		c = 'n'
	case nchess.Pawn:
		c = 'p'
	default:
		return '?'
	}
	if p.Color() == nchess.White {
		c -= 'a' - 'A'
	}
	return c
}

// Scores is the deterministic breakdown the engine reports for fen: material
// balance per piece type, in pawns, with the total as their sum.
func Scores(fen string) [12]float64 {
	var out [12]float64
	parts := strings.Fields(fen)
	if len(parts) == 0 {
		return out
	}
	weights := map[byte]struct {
		idx int
		val float64
	}{
		'p': {1, 1}, 'n': {2, 3}, 'b': {3, 3}, 'r': {4, 5}, 'q': {5, 9},
	}
	for i := 0; i < len(parts[0]); i++ {
		c := parts[0][i]
		sign := -1.0
		lower := c
		if c >= 'A' && c <= 'Z' {
			sign = 1
			lower = c + ('a' - 'A')
		}
		w, ok := weights[lower]
		if !ok {
			continue
		}
		out[w.idx] += sign * w.val
	}
	for i := 1; i <= 5; i++ {
		out[0] += out[i]
	}
	return out
}

func (e *Engine) scores() {
	e.mu.Lock()
	values := Scores(e.game.FEN())
	e.mu.Unlock()

	n := len(values)
	if e.opts.ScoreCount > 0 {
		n = e.opts.ScoreCount
	}
	fields := []string{"scores"}
	for i := 0; i < n; i++ {
		v := 0.0
		if i < len(values) {
			v = values[i]
		}
		fields = append(fields, strconv.FormatFloat(v, 'f', -1, 64))
	}
	e.write(strings.Join(fields, " "))
}

func (e *Engine) state() {
	e.mu.Lock()
	fen := e.game.FEN()
	ord := stateOrdinal(e.game, e.history)
	e.mu.Unlock()
	if e.opts.StateOverride != nil {
		ord = e.opts.StateOverride(fen)
	}
	e.write("state " + strconv.Itoa(ord))
}

// stateOrdinal names the side that delivered mate or stalemate.
func stateOrdinal(game *nchess.Game, history []string) int {
	turn := game.Position().Turn()
	switch game.Method() {
	case nchess.Checkmate:
		if turn == nchess.Black {
			return OrdWhiteMate
		}
		return OrdBlackMate
	case nchess.Stalemate:
		if turn == nchess.Black {
			return OrdWhiteStalemate
		}
		return OrdBlackStalemate
	case nchess.InsufficientMaterial:
		return OrdDrawNoMate
	}
	parts := strings.Fields(game.FEN())
	if len(parts) >= 5 {
		if n, err := strconv.Atoi(parts[4]); err == nil && n >= 100 {
			return OrdCanDraw50
		}
	}
	if len(history) > 0 {
		last := history[len(history)-1]
		seen := 0
		for _, key := range history {
			if key == last {
				seen++
			}
		}
		if seen >= 3 {
			return OrdCanDrawRepetition
		}
	}
	return OrdAlive
}

// traceTable is printed by "eval"; the total line that follows carries the
// material balance of the loaded position.
const traceTable = `
     Term    |    White    |    Black    |    Total
             |   MG    EG  |   MG    EG  |   MG    EG
 ------------+-------------+-------------+------------
    Material |   ---   --- |   ---   --- |  0.00  0.00
   Imbalance |   ---   --- |   ---   --- |  0.12  0.30
       Pawns |  0.14  0.10 |  0.14  0.10 |  0.00  0.00
     Knights | -0.08 -0.17 | -0.08 -0.17 |  0.00  0.00
     Bishops |  0.00 -0.07 |  0.00 -0.07 |  0.00  0.00
       Rooks |  0.00  0.00 |  0.00  0.00 |  0.00  0.00
      Queens |  0.00  0.00 |  0.00  0.00 |  0.00  0.00
    Mobility | -0.51 -0.72 | -0.51 -0.72 |  0.00  0.00
 King safety |  0.94 -0.07 |  0.94 -0.07 |  0.00  0.00
     Threats |  0.00  0.00 |  0.00  0.00 |  0.00  0.00
      Passed |  0.00  0.00 |  0.00  0.00 |  0.00  0.00
       Space |  0.39  0.00 |  0.39  0.00 |  0.00  0.00
 ------------+-------------+-------------+------------
       Total |   ---   --- |   ---   --- |  0.00 -0.10
`

func (e *Engine) eval() {
	e.mu.Lock()
	total := Scores(e.game.FEN())[0]
	e.mu.Unlock()
	text := traceTable + "\nTotal evaluation: " + strconv.FormatFloat(total, 'f', 2, 64) + " (white side)"
	e.write(strings.Split(text, "\n")...)
}
