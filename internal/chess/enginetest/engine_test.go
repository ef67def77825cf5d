package enginetest

import (
	"bufio"
	"io"
	"slices"
	"strings"
	"testing"
)

func TestLegalMoves(t *testing.T) {
	moves, err := LegalMoves(StartFEN)
	if err != nil {
		t.Fatalf("LegalMoves: %v", err)
	}
	if len(moves) != 20 {
		t.Fatalf("expected 20 moves from the start, got %d: %v", len(moves), moves)
	}
	if !slices.Contains(moves, "e2e4") || !slices.Contains(moves, "g1f3") {
		t.Fatalf("missing expected moves: %v", moves)
	}
	if !slices.IsSorted(moves) {
		t.Fatalf("moves not sorted: %v", moves)
	}

	promo, err := LegalMoves("4k3/P7/8/8/8/8/8/4K3 w - - 0 1")
	if err != nil {
		t.Fatalf("LegalMoves: %v", err)
	}
	for _, want := range []string{"a7a8q", "a7a8r", "a7a8b", "a7a8n"} {
		if !slices.Contains(promo, want) {
			t.Fatalf("missing promotion %s: %v", want, promo)
		}
	}
	if slices.Contains(promo, "a7a8") {
		t.Fatalf("bare promotion listed: %v", promo)
	}

	mated, err := LegalMoves("rnb1kbnr/pppp1ppp/8/4p3/6Pq/5P2/PPPPP2P/RNBQKBNR w KQkq - 1 3")
	if err != nil {
		t.Fatalf("LegalMoves: %v", err)
	}
	if len(mated) != 0 {
		t.Fatalf("mated side has moves: %v", mated)
	}
}

func roundTrip(t *testing.T, in io.Writer, out *bufio.Reader, cmds ...string) []string {
	t.Helper()
	for _, cmd := range append(cmds, "isready") {
		if _, err := io.WriteString(in, cmd+"\n"); err != nil {
			t.Fatalf("write %q: %v", cmd, err)
		}
	}
	var lines []string
	for {
		line, err := out.ReadString('\n')
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		line = strings.TrimSpace(line)
		if line == "readyok" {
			return lines
		}
		lines = append(lines, line)
	}
}

func TestPositionStopsAtIllegalMove(t *testing.T) {
	eng := New(Options{})
	in, rawOut := eng.Conn()
	defer in.Close()
	out := bufio.NewReader(rawOut)

	roundTrip(t, in, out, "position startpos moves e2e4 a3a1q e7e5")
	if got := eng.FEN(); !strings.HasPrefix(got, "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b") {
		t.Fatalf("position should stop before the illegal move, got %q", got)
	}

	lines := roundTrip(t, in, out, "go perft 1")
	if !slices.Contains(lines, "Nodes searched: 20") {
		t.Fatalf("unexpected perft output %q", lines)
	}
	if !slices.Contains(lines, "e7e5: 1") {
		t.Fatalf("perft missing e7e5: %q", lines)
	}
}
