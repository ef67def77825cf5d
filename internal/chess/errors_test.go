package chess

import (
	"errors"
	"io"
	"strings"
	"testing"
)

func TestOpErrorMatchesKindAndCause(t *testing.T) {
	err := Fault("scores", io.ErrUnexpectedEOF)
	if !errors.Is(err, ErrEngineFault) {
		t.Fatalf("expected ErrEngineFault, got %v", err)
	}
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expected cause to be reachable, got %v", err)
	}
	if errors.Is(err, ErrInvalidShape) {
		t.Fatalf("unexpected kind match: %v", err)
	}
	var op *OpError
	if !errors.As(err, &op) || op.Op != "scores" {
		t.Fatalf("expected OpError with op scores, got %#v", err)
	}
}

func TestOpErrorMessage(t *testing.T) {
	msg := NoPosition("fen").Error()
	if msg != "fen: no position loaded" {
		t.Fatalf("unexpected message %q", msg)
	}
	msg = Shape("score.New", 3).Error()
	if !strings.Contains(msg, "invalid score shape") || !strings.Contains(msg, "got 3") {
		t.Fatalf("unexpected message %q", msg)
	}
}
