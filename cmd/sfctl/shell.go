package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/park285/jstockfish-go/internal/chess/session"
)

var errQuit = errors.New("quit")

// syncWriter serializes engine output and command replies on one stream.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

type shell struct {
	sess    *session.Session
	out     io.Writer
	timeout time.Duration
	fields  []string
	rest    string
}

func newShell(sess *session.Session, out io.Writer, timeout time.Duration) *shell {
	return &shell{sess: sess, out: out, timeout: timeout}
}

func (sh *shell) commands() map[string]func(ctx context.Context) error {
	return map[string]func(ctx context.Context) error{
		"uci":        sh.uciCommand,
		"isready":    sh.isReadyCommand,
		"setoption":  sh.setOptionCommand,
		"ucinewgame": sh.newGameCommand,
		"position":   sh.positionCommand,
		"go":         sh.goCommand,
		"stop":       sh.stopCommand,
		"ponderhit":  sh.ponderHitCommand,
		"d":          sh.displayCommand,
		"eval":       sh.evalCommand,
		"flip":       sh.flipCommand,
		"scores":     sh.scoresCommand,
		"legal":      sh.legalCommand,
		"fen":        sh.fenCommand,
		"state":      sh.stateCommand,
		"status":     sh.statusCommand,
		"board":      sh.boardCommand,
		"wait":       sh.waitCommand,
		"quit":       func(context.Context) error { return errQuit },
	}
}

// Run reads commands from in until EOF or "quit".
func (sh *shell) Run(ctx context.Context, in io.Reader) error {
	commands := sh.commands()
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		cmd, ok := commands[fields[0]]
		if !ok {
			sh.printf("Unknown command: '%s'.", line)
			continue
		}
		sh.fields = fields[1:]
		sh.rest = strings.TrimSpace(strings.TrimPrefix(line, fields[0]))

		cctx, cancel := context.WithTimeout(ctx, sh.timeout)
		err := cmd(cctx)
		cancel()
		if errors.Is(err, errQuit) {
			_ = sh.sess.Stop(ctx)
			return nil
		}
		if err != nil {
			sh.printf("info string error %v", err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return scanner.Err()
}

func (sh *shell) printf(format string, args ...any) {
	fmt.Fprintf(sh.out, format+"\n", args...)
}

func (sh *shell) uciCommand(ctx context.Context) error {
	id, err := sh.sess.Handshake(ctx)
	if err != nil {
		return err
	}
	sh.printf("%s", id)
	return nil
}

func (sh *shell) isReadyCommand(ctx context.Context) error {
	if _, err := sh.sess.Handshake(ctx); err != nil {
		return err
	}
	sh.printf("readyok")
	return nil
}

// setOptionCommand accepts "name <id> [value <x>]".
func (sh *shell) setOptionCommand(ctx context.Context) error {
	rest := strings.TrimPrefix(sh.rest, "name ")
	name, value, _ := strings.Cut(rest, " value ")
	ok, err := sh.sess.SetOption(ctx, strings.TrimSpace(name), strings.TrimSpace(value))
	if err != nil {
		return err
	}
	if !ok {
		sh.printf("No such option: %s", strings.TrimSpace(name))
	}
	return nil
}

func (sh *shell) newGameCommand(ctx context.Context) error { return sh.sess.NewGame(ctx) }

func (sh *shell) positionCommand(ctx context.Context) error {
	ok, err := sh.sess.LoadPosition(ctx, sh.rest)
	if err != nil {
		return err
	}
	if !ok {
		sh.printf("info string illegal position %s", sh.rest)
	}
	return nil
}

func (sh *shell) goCommand(ctx context.Context) error { return sh.sess.StartSearch(ctx, sh.rest) }

func (sh *shell) stopCommand(ctx context.Context) error { return sh.sess.Stop(ctx) }

func (sh *shell) ponderHitCommand(ctx context.Context) error { return sh.sess.PonderHit(ctx) }

func (sh *shell) waitCommand(ctx context.Context) error { return sh.sess.Wait(ctx) }

func (sh *shell) displayCommand(ctx context.Context) error {
	text, err := sh.sess.Display(ctx)
	if err != nil {
		return err
	}
	sh.printf("%s", text)
	return nil
}

func (sh *shell) evalCommand(ctx context.Context) error {
	text, err := sh.sess.EvalText(ctx)
	if err != nil {
		return err
	}
	sh.printf("%s", text)
	return nil
}

func (sh *shell) flipCommand(context.Context) error {
	sh.printf("info string flipped %t", sh.sess.Flip())
	return nil
}

func (sh *shell) scoresCommand(ctx context.Context) error {
	v, err := sh.sess.Evaluate(ctx)
	if err != nil {
		return err
	}
	sh.printf("%s", v)
	return nil
}

func (sh *shell) legalCommand(ctx context.Context) error {
	if len(sh.fields) > 0 {
		ok, err := sh.sess.IsLegal(ctx, sh.fields[0])
		if err != nil {
			return err
		}
		sh.printf("legal %s %t", sh.fields[0], ok)
		return nil
	}
	moves, err := sh.sess.LegalMoves(ctx)
	if err != nil {
		return err
	}
	sh.printf("legal %s", strings.Join(moves, " "))
	return nil
}

func (sh *shell) fenCommand(ctx context.Context) error {
	fen, err := sh.sess.ToFEN(ctx)
	if err != nil {
		return err
	}
	sh.printf("fen %s", fen)
	return nil
}

func (sh *shell) stateCommand(ctx context.Context) error {
	st, err := sh.sess.State(ctx)
	if err != nil {
		return err
	}
	sh.printf("state %s", st)
	return nil
}

func (sh *shell) statusCommand(context.Context) error {
	raw, err := json.Marshal(sh.sess.Status())
	if err != nil {
		return err
	}
	sh.printf("%s", raw)
	return nil
}

// boardCommand writes a PNG: "board <file> [size]".
func (sh *shell) boardCommand(ctx context.Context) error {
	if len(sh.fields) == 0 {
		return fmt.Errorf("usage: board <file> [size]")
	}
	size := 0
	if len(sh.fields) > 1 {
		n, err := strconv.Atoi(sh.fields[1])
		if err != nil || n < 0 {
			return fmt.Errorf("invalid size %q", sh.fields[1])
		}
		size = n
	}
	img, err := sh.sess.Render(ctx, size)
	if err != nil {
		return err
	}
	if err := os.WriteFile(sh.fields[0], img, 0o644); err != nil {
		return fmt.Errorf("write board: %w", err)
	}
	sh.printf("info string board written to %s", sh.fields[0])
	return nil
}
