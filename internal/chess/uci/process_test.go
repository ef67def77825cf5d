package uci

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/park285/jstockfish-go/internal/chess"
	"github.com/park285/jstockfish-go/internal/chess/enginetest"
)

func newTestProcess(t *testing.T, opts enginetest.Options, cfg Config) (*Process, *enginetest.Engine) {
	t.Helper()
	eng := enginetest.New(opts)
	in, out := eng.Conn()
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 2 * time.Second
	}
	p := NewProcessIO(in, out, cfg)
	t.Cleanup(func() { _ = p.Close() })
	return p, eng
}

func countExact(eng *enginetest.Engine, cmd string) int {
	n := 0
	for _, c := range eng.Received() {
		if c == cmd {
			n++
		}
	}
	return n
}

func TestHandshakeCachesIdentityAndOptions(t *testing.T) {
	p, eng := newTestProcess(t, enginetest.Options{}, Config{})
	ctx := context.Background()

	id, err := p.Handshake(ctx)
	if err != nil {
		t.Fatalf("Handshake: %v", err)
	}
	if !strings.Contains(id, "id name Fakefish") || !strings.HasSuffix(id, "uciok") {
		t.Fatalf("unexpected identity %q", id)
	}
	again, err := p.Handshake(ctx)
	if err != nil || again != id {
		t.Fatalf("second handshake: %q, %v", again, err)
	}
	if n := countExact(eng, "uci"); n != 1 {
		t.Fatalf("expected one uci command, got %d", n)
	}
	if !p.HasOption("uci_chess960") || !p.HasOption("Skill Level") {
		t.Fatalf("options not parsed: %v", p.Options())
	}
	if p.HasOption("Contempt") {
		t.Fatalf("unexpected option")
	}
}

func TestSetOptionSkipsUnadvertised(t *testing.T) {
	p, eng := newTestProcess(t, enginetest.Options{}, Config{})
	ctx := context.Background()
	if _, err := p.Handshake(ctx); err != nil {
		t.Fatalf("Handshake: %v", err)
	}

	ok, err := p.SetOption(ctx, "Contempt", "10")
	if err != nil || ok {
		t.Fatalf("unadvertised option: ok=%v err=%v", ok, err)
	}
	if eng.Count("setoption") != 0 {
		t.Fatalf("setoption was sent for an unknown option")
	}

	ok, err = p.SetOption(ctx, "Hash", "64")
	if err != nil || !ok {
		t.Fatalf("SetOption Hash: ok=%v err=%v", ok, err)
	}
	if v, _ := eng.Option("Hash"); v != "64" {
		t.Fatalf("engine saw Hash=%q", v)
	}

	if _, err := p.SetOption(ctx, "Hash\nquit", "1"); !errors.Is(err, chess.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestPositionFENAndLegalMoves(t *testing.T) {
	p, _ := newTestProcess(t, enginetest.Options{}, Config{})
	ctx := context.Background()

	if err := p.SetPosition(ctx, "startpos"); err != nil {
		t.Fatalf("SetPosition: %v", err)
	}
	moves, err := p.LegalMoves(ctx)
	if err != nil {
		t.Fatalf("LegalMoves: %v", err)
	}
	if len(moves) != 20 {
		t.Fatalf("expected 20 moves, got %d: %v", len(moves), moves)
	}

	if err := p.SetPosition(ctx, "startpos moves e2e4"); err != nil {
		t.Fatalf("SetPosition: %v", err)
	}
	fen, err := p.FEN(ctx)
	if err != nil {
		t.Fatalf("FEN: %v", err)
	}
	if !strings.HasPrefix(fen, "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq") {
		t.Fatalf("unexpected fen %q", fen)
	}

	board, err := p.Display(ctx)
	if err != nil {
		t.Fatalf("Display: %v", err)
	}
	if !strings.Contains(board, "Fen: "+fen) || strings.Contains(board, "readyok") {
		t.Fatalf("unexpected board dump %q", board)
	}

	if err := p.SetPosition(ctx, "startpos\nquit"); !errors.Is(err, chess.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestScoresExtension(t *testing.T) {
	p, _ := newTestProcess(t, enginetest.Options{}, Config{})
	ctx := context.Background()

	if err := p.SetPosition(ctx, "fen 4k3/8/8/8/8/8/8/3QK3 w - - 0 1"); err != nil {
		t.Fatalf("SetPosition: %v", err)
	}
	v, err := p.Scores(ctx)
	if err != nil {
		t.Fatalf("Scores: %v", err)
	}
	if v.Total() != 9 || v.Queen() != 9 || v.Pawn() != 0 {
		t.Fatalf("unexpected scores %v", v.Values())
	}

	ord, err := p.StateOrdinal(ctx)
	if err != nil || ord != enginetest.OrdAlive {
		t.Fatalf("StateOrdinal: %d, %v", ord, err)
	}
}

func TestScoresFromTrace(t *testing.T) {
	p, _ := newTestProcess(t, enginetest.Options{NoExtensions: true}, Config{ScoreSource: ScoreTrace})
	ctx := context.Background()

	if err := p.SetPosition(ctx, "startpos"); err != nil {
		t.Fatalf("SetPosition: %v", err)
	}
	v, err := p.Scores(ctx)
	if err != nil {
		t.Fatalf("Scores: %v", err)
	}
	if v.Total() != 0 || math.Abs(v.Knight()+0.125) > 1e-9 {
		t.Fatalf("unexpected trace scores %v", v.Values())
	}
}

func TestMissingExtensionIsFault(t *testing.T) {
	p, _ := newTestProcess(t, enginetest.Options{NoExtensions: true}, Config{})
	ctx := context.Background()

	if _, err := p.Scores(ctx); !errors.Is(err, chess.ErrEngineFault) {
		t.Fatalf("Scores: expected ErrEngineFault, got %v", err)
	}
	if _, err := p.StateOrdinal(ctx); !errors.Is(err, chess.ErrEngineFault) {
		t.Fatalf("StateOrdinal: expected ErrEngineFault, got %v", err)
	}
	// The stream stays usable after a refusal.
	if err := p.IsReady(ctx); err != nil {
		t.Fatalf("IsReady: %v", err)
	}
}

func TestScoresWrongCountIsShapeError(t *testing.T) {
	p, _ := newTestProcess(t, enginetest.Options{ScoreCount: 11}, Config{})
	if _, err := p.Scores(context.Background()); !errors.Is(err, chess.ErrInvalidShape) {
		t.Fatalf("expected ErrInvalidShape, got %v", err)
	}
}

func TestSearchOutputGoesToSink(t *testing.T) {
	p, eng := newTestProcess(t, enginetest.Options{}, Config{})
	ctx := context.Background()

	lines := make(chan string, 16)
	p.SetOutput(func(line string) { lines <- line })

	if err := p.SetPosition(ctx, "startpos"); err != nil {
		t.Fatalf("SetPosition: %v", err)
	}
	if err := p.Go("depth 1"); err != nil {
		t.Fatalf("Go: %v", err)
	}

	var got []string
	timeout := time.After(2 * time.Second)
	for {
		select {
		case line := <-lines:
			got = append(got, line)
		case <-timeout:
			t.Fatalf("no bestmove, got %v", got)
		}
		if strings.HasPrefix(got[len(got)-1], "bestmove") {
			break
		}
	}
	if !strings.HasPrefix(got[0], "info depth 1") {
		t.Fatalf("unexpected first line %q", got[0])
	}
	if eng.Count("go depth 1") != 1 {
		t.Fatalf("go command not received: %v", eng.Received())
	}

	eng.Emit("info string unsolicited")
	select {
	case line := <-lines:
		if line != "info string unsolicited" {
			t.Fatalf("unexpected line %q", line)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("unsolicited line not delivered")
	}
}

func TestEngineDeathFaultsRequests(t *testing.T) {
	p, eng := newTestProcess(t, enginetest.Options{}, Config{})
	eng.Kill()
	<-eng.Done()

	err := p.IsReady(context.Background())
	if !errors.Is(err, chess.ErrEngineFault) {
		t.Fatalf("expected ErrEngineFault, got %v", err)
	}
}

func TestRequestTimeout(t *testing.T) {
	p, _ := newTestProcess(t, enginetest.Options{Silent: true}, Config{RequestTimeout: 50 * time.Millisecond})

	err := p.IsReady(context.Background())
	if !errors.Is(err, chess.ErrEngineFault) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected timeout fault, got %v", err)
	}
}

func TestLateReplyDoesNotAnswerNextRequest(t *testing.T) {
	displays := 0
	slowFirstDisplay := func(cmd string) time.Duration {
		if cmd != "d" {
			return 0
		}
		displays++
		if displays == 1 {
			return 150 * time.Millisecond
		}
		return 0
	}
	p, _ := newTestProcess(t, enginetest.Options{Delay: slowFirstDisplay}, Config{RequestTimeout: 100 * time.Millisecond})
	ctx := context.Background()

	var mu sync.Mutex
	var unsolicited []string
	p.SetOutput(func(line string) {
		mu.Lock()
		unsolicited = append(unsolicited, line)
		mu.Unlock()
	})

	if err := p.SetPosition(ctx, "startpos"); err != nil {
		t.Fatalf("SetPosition: %v", err)
	}
	if _, err := p.FEN(ctx); !errors.Is(err, chess.ErrEngineFault) {
		t.Fatalf("expected the slow display to time out, got %v", err)
	}

	if err := p.SetPosition(ctx, "startpos moves e2e4"); err != nil {
		t.Fatalf("SetPosition after timeout: %v", err)
	}
	fen, err := p.FEN(ctx)
	if err != nil {
		t.Fatalf("FEN: %v", err)
	}
	if !strings.HasPrefix(fen, "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b") {
		t.Fatalf("stale reply answered the request: %q", fen)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(unsolicited) != 0 {
		t.Fatalf("replies leaked to the output sink: %q", unsolicited)
	}
}

func TestUnansweredRequestBreaksProcess(t *testing.T) {
	p, _ := newTestProcess(t, enginetest.Options{Silent: true}, Config{RequestTimeout: 50 * time.Millisecond})
	ctx := context.Background()

	if err := p.IsReady(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if err := p.IsReady(ctx); !errors.Is(err, ErrUnresponsive) || !errors.Is(err, chess.ErrEngineFault) {
		t.Fatalf("expected unresponsive fault, got %v", err)
	}
	start := time.Now()
	if err := p.IsReady(ctx); !errors.Is(err, ErrUnresponsive) {
		t.Fatalf("expected unresponsive fault, got %v", err)
	}
	if time.Since(start) > 40*time.Millisecond {
		t.Fatalf("broken process should fail fast")
	}
}

func TestParseScoreSource(t *testing.T) {
	for in, want := range map[string]ScoreSource{"": ScoreExtension, "Extension": ScoreExtension, " trace ": ScoreTrace} {
		got, err := ParseScoreSource(in)
		if err != nil || got != want {
			t.Fatalf("ParseScoreSource(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseScoreSource("nnue"); err == nil {
		t.Fatalf("expected error for unknown source")
	}
}
