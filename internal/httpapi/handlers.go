package httpapi

import (
	"context"
	"fmt"

	"github.com/valyala/fasthttp"

	"github.com/park285/jstockfish-go/internal/chess/position"
)

const maxBoardSize = 2048

type positionRequest struct {
	Position string `json:"position"`
	Chess960 bool   `json:"chess960"`
	Move     string `json:"move,omitempty"`
}

func (r positionRequest) descriptor() position.Descriptor {
	return position.Descriptor{Chess960: r.Chess960, Moves: r.Position}
}

func readPosition(rc *fasthttp.RequestCtx) (positionRequest, error) {
	var req positionRequest
	err := decode(rc, &req)
	return req, err
}

func (s *Server) positionEvaluate(ctx context.Context, rc *fasthttp.RequestCtx) (any, error) {
	req, err := readPosition(rc)
	if err != nil {
		return nil, err
	}
	v, err := s.query.Evaluate(ctx, req.descriptor())
	if err != nil {
		return nil, err
	}
	return map[string]any{"scores": v}, nil
}

// positionLegal checks one move when the request names it and lists all
// legal moves otherwise.
func (s *Server) positionLegal(ctx context.Context, rc *fasthttp.RequestCtx) (any, error) {
	req, err := readPosition(rc)
	if err != nil {
		return nil, err
	}
	if req.Move != "" {
		ok, err := s.query.IsLegal(ctx, req.descriptor(), req.Move)
		if err != nil {
			return nil, err
		}
		return map[string]any{"move": req.Move, "legal": ok}, nil
	}
	moves, err := s.query.LegalMoves(ctx, req.descriptor())
	if err != nil {
		return nil, err
	}
	return map[string]any{"moves": nonNil(moves)}, nil
}

func (s *Server) positionFEN(ctx context.Context, rc *fasthttp.RequestCtx) (any, error) {
	req, err := readPosition(rc)
	if err != nil {
		return nil, err
	}
	fen, err := s.query.ToFEN(ctx, req.descriptor())
	if err != nil {
		return nil, err
	}
	return map[string]string{"fen": fen}, nil
}

func (s *Server) positionState(ctx context.Context, rc *fasthttp.RequestCtx) (any, error) {
	req, err := readPosition(rc)
	if err != nil {
		return nil, err
	}
	st, err := s.query.State(ctx, req.descriptor())
	if err != nil {
		return nil, err
	}
	return map[string]any{"state": st, "terminal": st.Terminal()}, nil
}

func (s *Server) sessionHandshake(ctx context.Context, _ *fasthttp.RequestCtx) (any, error) {
	return s.locked(func() (any, error) {
		id, err := s.sess.Handshake(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]string{"identity": id}, nil
	})
}

func (s *Server) sessionOption(ctx context.Context, rc *fasthttp.RequestCtx) (any, error) {
	var req struct {
		Name  string `json:"name"`
		Value string `json:"value"`
	}
	if err := decode(rc, &req); err != nil {
		return nil, err
	}
	return s.locked(func() (any, error) {
		ok, err := s.sess.SetOption(ctx, req.Name, req.Value)
		if err != nil {
			return nil, err
		}
		return map[string]bool{"applied": ok}, nil
	})
}

func (s *Server) sessionNewGame(ctx context.Context, _ *fasthttp.RequestCtx) (any, error) {
	return s.locked(func() (any, error) {
		if err := s.sess.NewGame(ctx); err != nil {
			return nil, err
		}
		return s.sess.Status(), nil
	})
}

func (s *Server) sessionPosition(ctx context.Context, rc *fasthttp.RequestCtx) (any, error) {
	var req positionRequest
	if err := decode(rc, &req); err != nil {
		return nil, err
	}
	return s.locked(func() (any, error) {
		ok, err := s.sess.LoadPosition(ctx, req.Position)
		if err != nil {
			return nil, err
		}
		return map[string]bool{"loaded": ok}, nil
	})
}

func (s *Server) sessionGo(ctx context.Context, rc *fasthttp.RequestCtx) (any, error) {
	var req struct {
		Args string `json:"args"`
	}
	if err := decode(rc, &req); err != nil {
		return nil, err
	}
	return s.locked(func() (any, error) {
		if err := s.sess.StartSearch(ctx, req.Args); err != nil {
			return nil, err
		}
		return s.sess.Status(), nil
	})
}

func (s *Server) sessionStop(ctx context.Context, _ *fasthttp.RequestCtx) (any, error) {
	return s.locked(func() (any, error) {
		if err := s.sess.Stop(ctx); err != nil {
			return nil, err
		}
		return s.sess.Status(), nil
	})
}

func (s *Server) sessionPonderHit(ctx context.Context, _ *fasthttp.RequestCtx) (any, error) {
	return s.locked(func() (any, error) {
		if err := s.sess.PonderHit(ctx); err != nil {
			return nil, err
		}
		return s.sess.Status(), nil
	})
}

func (s *Server) sessionFlip(_ context.Context, _ *fasthttp.RequestCtx) (any, error) {
	return s.locked(func() (any, error) {
		return map[string]bool{"flipped": s.sess.Flip()}, nil
	})
}

func (s *Server) sessionStatus(_ context.Context, _ *fasthttp.RequestCtx) (any, error) {
	return s.locked(func() (any, error) {
		return s.sess.Status(), nil
	})
}

func (s *Server) sessionFEN(ctx context.Context, _ *fasthttp.RequestCtx) (any, error) {
	return s.locked(func() (any, error) {
		fen, err := s.sess.ToFEN(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]string{"fen": fen}, nil
	})
}

func (s *Server) sessionEvaluate(ctx context.Context, _ *fasthttp.RequestCtx) (any, error) {
	return s.locked(func() (any, error) {
		v, err := s.sess.Evaluate(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{"scores": v}, nil
	})
}

func (s *Server) sessionState(ctx context.Context, _ *fasthttp.RequestCtx) (any, error) {
	return s.locked(func() (any, error) {
		st, err := s.sess.State(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{"state": st, "terminal": st.Terminal()}, nil
	})
}

func (s *Server) sessionLegal(ctx context.Context, rc *fasthttp.RequestCtx) (any, error) {
	move := string(rc.QueryArgs().Peek("move"))
	return s.locked(func() (any, error) {
		if move != "" {
			ok, err := s.sess.IsLegal(ctx, move)
			if err != nil {
				return nil, err
			}
			return map[string]any{"move": move, "legal": ok}, nil
		}
		moves, err := s.sess.LegalMoves(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{"moves": nonNil(moves)}, nil
	})
}

func (s *Server) sessionDisplay(ctx context.Context, _ *fasthttp.RequestCtx) (any, error) {
	return s.locked(func() (any, error) {
		text, err := s.sess.Display(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]string{"text": text}, nil
	})
}

func (s *Server) sessionEvalText(ctx context.Context, _ *fasthttp.RequestCtx) (any, error) {
	return s.locked(func() (any, error) {
		text, err := s.sess.EvalText(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]string{"text": text}, nil
	})
}

func (s *Server) sessionBoard(ctx context.Context, rc *fasthttp.RequestCtx) (any, error) {
	size, err := queryInt(rc, "size")
	if err != nil {
		return nil, err
	}
	if size > maxBoardSize {
		return nil, fmt.Errorf("%w: size above %d", errBadRequest, maxBoardSize)
	}
	return s.locked(func() (any, error) {
		img, err := s.sess.Render(ctx, size)
		if err != nil {
			return nil, err
		}
		return pngBody(img), nil
	})
}

func nonNil(moves []string) []string {
	if moves == nil {
		return []string{}
	}
	return moves
}
