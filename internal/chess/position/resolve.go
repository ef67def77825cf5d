package position

import (
	"fmt"

	nchess "github.com/corentings/chess/v2"
)

// replayStandard applies the moves of p to its start position under
// standard rules and returns the resulting FEN.
func replayStandard(p parsed) (string, error) {
	game, err := startGame(p.fen)
	if err != nil {
		return "", err
	}
	for i, mv := range p.moves {
		m, ok := findMove(game, mv)
		if !ok {
			return "", fmt.Errorf("move %d %q: not legal", i+1, mv)
		}
		if err := game.Move(m, nil); err != nil {
			return "", fmt.Errorf("move %d %q: %w", i+1, mv, err)
		}
	}
	return game.FEN(), nil
}

// findMove matches coordinate text against the legal moves of game.
// Decoding arbitrary text can panic inside the rules library, so only
// generated moves are ever applied.
func findMove(game *nchess.Game, text string) (*nchess.Move, bool) {
	pos := game.Position()
	moves := game.ValidMoves()
	for i := range moves {
		if (nchess.UCINotation{}).Encode(pos, &moves[i]) == text {
			return &moves[i], true
		}
	}
	return nil, false
}

func startGame(fen string) (*nchess.Game, error) {
	if fen == "" {
		return nchess.NewGame(), nil
	}
	opt, err := nchess.FEN(fen)
	if err != nil {
		return nil, fmt.Errorf("fen %q: %w", fen, err)
	}
	return nchess.NewGame(opt), nil
}
