package uci

import (
	"errors"
	"testing"
	"time"

	"github.com/park285/jstockfish-go/internal/chess"
)

func TestParseGoOptions(t *testing.T) {
	opt, err := ParseGoOptions("go wtime 60000 btime 55000 winc 1000 binc 1000 movestogo 30")
	if err != nil {
		t.Fatalf("ParseGoOptions: %v", err)
	}
	if opt.WhiteTime != 60000 || opt.BlackTime != 55000 || opt.WhiteInc != 1000 || opt.MovesToGo != 30 {
		t.Fatalf("unexpected options %+v", opt)
	}
	if got := opt.Args(); got != "wtime 60000 btime 55000 winc 1000 binc 1000 movestogo 30" {
		t.Fatalf("unexpected args %q", got)
	}

	opt, err = ParseGoOptions("infinite searchmoves e2e4 d2d4")
	if err != nil {
		t.Fatalf("ParseGoOptions: %v", err)
	}
	if !opt.Infinite || len(opt.SearchMoves) != 2 || !opt.Unbounded() {
		t.Fatalf("unexpected options %+v", opt)
	}
	if got := opt.Args(); got != "infinite searchmoves e2e4 d2d4" {
		t.Fatalf("unexpected args %q", got)
	}

	opt, err = ParseGoOptions("")
	if err != nil || opt.Args() != "" {
		t.Fatalf("empty options: %+v, %v", opt, err)
	}
}

func TestParseGoOptionsRejectsMalformed(t *testing.T) {
	cases := []string{
		"depth",
		"depth x",
		"depth -1",
		"movetime 100 bananas",
		"searchmoves",
		"searchmoves e2e4 zz99",
	}
	for _, in := range cases {
		if _, err := ParseGoOptions(in); !errors.Is(err, chess.ErrInvalidArgument) {
			t.Fatalf("%q: expected ErrInvalidArgument, got %v", in, err)
		}
	}
}

func TestLimitsGoOptions(t *testing.T) {
	opt, err := Limits{Depth: 12, MoveTimeMillis: 500}.GoOptions()
	if err != nil {
		t.Fatalf("GoOptions: %v", err)
	}
	if opt.Args() != "depth 12 movetime 500" {
		t.Fatalf("unexpected args %q", opt.Args())
	}
	if _, err := (Limits{}).GoOptions(); !errors.Is(err, chess.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestBudget(t *testing.T) {
	if b := (GoOptions{Infinite: true}).Budget(); b != 0 {
		t.Fatalf("infinite budget %v", b)
	}
	if b := (GoOptions{MoveTime: 1000}).Budget(); b != 9*time.Second {
		t.Fatalf("movetime budget %v", b)
	}
	if b := (GoOptions{Depth: 100}).Budget(); b != 20*time.Second {
		t.Fatalf("depth budget %v", b)
	}
	if b := (GoOptions{Depth: 1}).Budget(); b != 6*time.Second {
		t.Fatalf("shallow depth budget %v", b)
	}
}

func TestIsMoveSyntax(t *testing.T) {
	for _, mv := range []string{"g8f6", "e7e8q", "a1h8", "b2b1n"} {
		if !IsMoveSyntax(mv) {
			t.Fatalf("%q should be valid", mv)
		}
	}
	for _, mv := range []string{"", "e2", "e2e9", "i2e4", "e7e8k", "e2e4e5", "E2E4"} {
		if IsMoveSyntax(mv) {
			t.Fatalf("%q should be invalid", mv)
		}
	}
}

func TestParseInfo(t *testing.T) {
	info, ok := ParseInfo("info depth 18 seldepth 24 multipv 2 score cp -35 nodes 123456 nps 1000 pv e7e5 g1f3 b8c6")
	if !ok {
		t.Fatalf("expected info to parse")
	}
	if info.Depth != 18 || info.MultiPV != 2 || info.ScoreCP != -35 || info.Nodes != 123456 {
		t.Fatalf("unexpected info %+v", info)
	}
	if len(info.Principal) != 3 || info.Principal[0] != "e7e5" {
		t.Fatalf("unexpected pv %v", info.Principal)
	}

	info, ok = ParseInfo("info depth 5 score mate -3 pv h7h8")
	if !ok || info.Mate != -3 || info.EvalCP() != -mateValue {
		t.Fatalf("unexpected mate info %+v", info)
	}

	if _, ok := ParseInfo("info string NNUE evaluation enabled"); ok {
		t.Fatalf("info string should be skipped")
	}
	if _, ok := ParseInfo("bestmove e2e4"); ok {
		t.Fatalf("bestmove is not an info line")
	}
}

func TestParseBestMove(t *testing.T) {
	best, ponder, ok := ParseBestMove("bestmove e2e4 ponder e7e5")
	if !ok || best != "e2e4" || ponder != "e7e5" {
		t.Fatalf("unexpected %q %q %v", best, ponder, ok)
	}
	best, ponder, ok = ParseBestMove("bestmove (none)")
	if !ok || best != "(none)" || ponder != "" {
		t.Fatalf("unexpected %q %q %v", best, ponder, ok)
	}
	if _, _, ok := ParseBestMove("info depth 1"); ok {
		t.Fatalf("expected no bestmove")
	}
}
