package position

import (
	"fmt"
	"strings"

	"github.com/park285/jstockfish-go/internal/chess"
	"github.com/park285/jstockfish-go/internal/chess/uci"
)

// Descriptor identifies a position as a variant flag plus the argument of a
// UCI "position" command, e.g. "startpos moves e2e4 e7e5".
type Descriptor struct {
	Chess960 bool
	Moves    string
}

func Standard(moves string) Descriptor { return Descriptor{Moves: moves} }

func Chess960(moves string) Descriptor { return Descriptor{Chess960: true, Moves: moves} }

// parsed is a syntactically valid descriptor. An empty fen means startpos.
type parsed struct {
	fen   string
	moves []string
}

func (p parsed) command() string {
	var sb strings.Builder
	if p.fen == "" {
		sb.WriteString("startpos")
	} else {
		sb.WriteString("fen ")
		sb.WriteString(p.fen)
	}
	if len(p.moves) > 0 {
		sb.WriteString(" moves ")
		sb.WriteString(strings.Join(p.moves, " "))
	}
	return sb.String()
}

// prefix returns the descriptor for the first n moves.
func (p parsed) prefix(n int) parsed {
	return parsed{fen: p.fen, moves: p.moves[:n]}
}

func (d Descriptor) parse() (parsed, error) {
	fields := strings.Fields(d.Moves)
	if len(fields) > 0 && fields[0] == "position" {
		fields = fields[1:]
	}
	if len(fields) == 0 {
		return parsed{}, chess.InvalidPosition("descriptor", fmt.Errorf("empty position"))
	}

	var out parsed
	i := 1
	switch fields[0] {
	case "startpos":
	case "fen":
		start := i
		for i < len(fields) && fields[i] != "moves" {
			i++
		}
		fen, err := normalizeFEN(fields[start:i])
		if err != nil {
			return parsed{}, chess.InvalidPosition("descriptor", err)
		}
		out.fen = fen
	default:
		return parsed{}, chess.InvalidPosition("descriptor", fmt.Errorf("unknown position keyword %q", fields[0]))
	}

	if i < len(fields) {
		if fields[i] != "moves" {
			return parsed{}, chess.InvalidPosition("descriptor", fmt.Errorf("unexpected token %q", fields[i]))
		}
		for _, mv := range fields[i+1:] {
			if !uci.IsMoveSyntax(mv) {
				return parsed{}, chess.InvalidPosition("descriptor", fmt.Errorf("malformed move %q", mv))
			}
			out.moves = append(out.moves, mv)
		}
	}
	return out, nil
}

// normalizeFEN checks the board shape and fills in missing clocks.
func normalizeFEN(fields []string) (string, error) {
	if len(fields) < 4 || len(fields) > 6 {
		return "", fmt.Errorf("fen needs 4 to 6 fields, got %d", len(fields))
	}
	ranks := strings.Split(fields[0], "/")
	if len(ranks) != 8 {
		return "", fmt.Errorf("fen needs 8 ranks, got %d", len(ranks))
	}
	for _, rank := range ranks {
		width := 0
		for _, c := range rank {
			switch {
			case c >= '1' && c <= '8':
				width += int(c - '0')
			case strings.ContainsRune("pnbrqkPNBRQK", c):
				width++
			default:
				return "", fmt.Errorf("fen rank %q has invalid piece %q", rank, c)
			}
		}
		if width != 8 {
			return "", fmt.Errorf("fen rank %q spans %d files", rank, width)
		}
	}
	if fields[1] != "w" && fields[1] != "b" {
		return "", fmt.Errorf("fen side to move %q", fields[1])
	}
	out := append([]string(nil), fields...)
	if len(out) == 4 {
		out = append(out, "0")
	}
	if len(out) == 5 {
		out = append(out, "1")
	}
	return strings.Join(out, " "), nil
}

// Valid reports whether the descriptor is well formed. It does not check
// that the moves are legal.
func (d Descriptor) Valid() bool {
	_, err := d.parse()
	return err == nil
}

// Command renders the canonical "position" argument, or the trimmed input
// when the descriptor is malformed.
func (d Descriptor) Command() string {
	p, err := d.parse()
	if err != nil {
		return strings.TrimSpace(d.Moves)
	}
	return p.command()
}

// Key identifies the descriptor in caches.
func (d Descriptor) Key() string {
	variant := "std"
	if d.Chess960 {
		variant = "960"
	}
	return variant + ":" + d.Command()
}

func (d Descriptor) String() string { return d.Key() }
