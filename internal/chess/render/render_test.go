package render

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"testing"

	"github.com/park285/jstockfish-go/internal/chess"
)

const startFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

func decode(t *testing.T, data []byte) image.Image {
	t.Helper()
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode png: %v", err)
	}
	return img
}

func brightness(img image.Image, x, y int) uint32 {
	r, g, b, _ := img.At(x, y).RGBA()
	return (r + g + b) / 3 >> 8
}

// discPoint is inside the piece disc of the screen cell but clear of its letter.
func discPoint(col, row int) (int, int) {
	return margin + col*squareSize + squareSize/2 - 14, margin + row*squareSize + squareSize/2
}

func TestPNGDimensions(t *testing.T) {
	data, err := PNG(context.Background(), startFEN, Options{})
	if err != nil {
		t.Fatalf("PNG: %v", err)
	}
	if b := decode(t, data).Bounds(); b.Dx() != NativeSize || b.Dy() != NativeSize {
		t.Fatalf("unexpected bounds %v", b)
	}

	data, err = PNG(context.Background(), startFEN, Options{Size: 256})
	if err != nil {
		t.Fatalf("PNG scaled: %v", err)
	}
	if b := decode(t, data).Bounds(); b.Dx() != 256 || b.Dy() != 256 {
		t.Fatalf("unexpected scaled bounds %v", b)
	}
}

func TestPNGOrientation(t *testing.T) {
	ctx := context.Background()
	normal, err := PNG(ctx, startFEN, Options{})
	if err != nil {
		t.Fatalf("PNG: %v", err)
	}
	flipped, err := PNG(ctx, startFEN, Options{Flipped: true})
	if err != nil {
		t.Fatalf("PNG flipped: %v", err)
	}
	a, b := decode(t, normal), decode(t, flipped)

	// Top-left cell holds a black rook normally and a white rook when flipped.
	x, y := discPoint(0, 0)
	if brightness(a, x, y) > 80 {
		t.Fatalf("expected a dark piece at the top left, brightness %d", brightness(a, x, y))
	}
	if brightness(b, x, y) < 200 {
		t.Fatalf("expected a light piece at the top left when flipped, brightness %d", brightness(b, x, y))
	}
}

func TestPNGRejectsBadFEN(t *testing.T) {
	_, err := PNG(context.Background(), "not a fen", Options{})
	if !errors.Is(err, chess.ErrInvalidPosition) {
		t.Fatalf("expected ErrInvalidPosition, got %v", err)
	}
}

func TestPNGChess960Castling(t *testing.T) {
	fen := "bqnb1rkr/pp3ppp/3ppn2/2p5/5P2/P2P4/NPP1P1PP/BQ1BNRKR w HFhf - 2 9"
	if _, err := PNG(context.Background(), fen, Options{Chess960: true}); err != nil {
		t.Fatalf("PNG chess960: %v", err)
	}
}

func TestPNGHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := PNG(ctx, startFEN, Options{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
