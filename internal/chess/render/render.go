// Package render draws diagnostic board images from FEN strings.
package render

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"strings"

	nchess "github.com/corentings/chess/v2"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/park285/jstockfish-go/internal/chess"
)

const (
	squareSize = 64
	margin     = 24
	boardSize  = squareSize * 8
	imageSize  = boardSize + margin*2
)

type Options struct {
	// Size scales the square output image; 0 keeps the native size.
	Size int
	// Flipped puts black at the bottom.
	Flipped bool
	// Chess960 positions may carry file-letter castling rights, which the
	// board parser does not accept; they are dropped before drawing.
	Chess960 bool
}

// NativeSize is the edge length of an unscaled image.
const NativeSize = imageSize

var (
	lightSquare     = color.RGBA{233, 207, 163, 255}
	darkSquare      = color.RGBA{187, 136, 96, 255}
	backgroundColor = color.RGBA{40, 44, 52, 255}
	coordinateColor = color.RGBA{8, 214, 120, 255}
)

// PNG renders fen as a PNG image.
func PNG(ctx context.Context, fen string, opts Options) ([]byte, error) {
	board, err := parseBoard(fen, opts.Chess960)
	if err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	img := image.NewRGBA(image.Rect(0, 0, imageSize, imageSize))
	draw.Draw(img, img.Bounds(), image.NewUniform(backgroundColor), image.Point{}, draw.Src)
	origin := image.Point{X: margin, Y: margin}

	drawSquares(img, origin, opts.Flipped)
	if err := drawPieces(img, board, origin, opts.Flipped); err != nil {
		return nil, err
	}
	drawCoordinates(img, origin, opts.Flipped)

	var out image.Image = img
	if opts.Size > 0 && opts.Size != imageSize {
		scaled := image.NewRGBA(image.Rect(0, 0, opts.Size, opts.Size))
		draw.ApproxBiLinear.Scale(scaled, scaled.Bounds(), img, img.Bounds(), draw.Src, nil)
		out = scaled
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, out); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

func parseBoard(fen string, chess960 bool) (*nchess.Board, error) {
	if chess960 {
		fields := strings.Fields(fen)
		if len(fields) >= 3 {
			fields[2] = "-"
		}
		fen = strings.Join(fields, " ")
	}
	opt, err := nchess.FEN(fen)
	if err != nil {
		return nil, chess.InvalidPosition("render", err)
	}
	return nchess.NewGame(opt).Position().Board(), nil
}

// cell maps a square to its column and row on screen.
func cell(file, rank int, flipped bool) (col, row int) {
	if flipped {
		return 7 - file, rank
	}
	return file, 7 - rank
}

func squareRect(file, rank int, origin image.Point, flipped bool) image.Rectangle {
	col, row := cell(file, rank, flipped)
	x := origin.X + col*squareSize
	y := origin.Y + row*squareSize
	return image.Rect(x, y, x+squareSize, y+squareSize)
}

func drawSquares(dst draw.Image, origin image.Point, flipped bool) {
	for rank := 0; rank < 8; rank++ {
		for file := 0; file < 8; file++ {
			clr := lightSquare
			if (file+rank)%2 == 0 {
				clr = darkSquare
			}
			draw.Draw(dst, squareRect(file, rank, origin, flipped), image.NewUniform(clr), image.Point{}, draw.Src)
		}
	}
}

func drawPieces(dst draw.Image, board *nchess.Board, origin image.Point, flipped bool) error {
	squares := board.SquareMap()
	for rank := 0; rank < 8; rank++ {
		for file := 0; file < 8; file++ {
			piece := squares[nchess.NewSquare(nchess.File(file), nchess.Rank(rank))]
			if piece == nchess.NoPiece {
				continue
			}
			img, err := pieceImage(piece, squareSize)
			if err != nil {
				return err
			}
			draw.Draw(dst, squareRect(file, rank, origin, flipped), img, image.Point{}, draw.Over)
		}
	}
	return nil
}

func drawCoordinates(dst draw.Image, origin image.Point, flipped bool) {
	drawer := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(coordinateColor),
		Face: basicfont.Face7x13,
	}
	ascent := basicfont.Face7x13.Metrics().Ascent.Ceil()
	for i := 0; i < 8; i++ {
		r := squareRect(i, i, origin, flipped)
		fileLabel := string(rune('a' + i))
		rankLabel := string(rune('1' + i))
		drawCenteredText(drawer, fileLabel, (r.Min.X+r.Max.X)/2, origin.Y+boardSize+ascent+4)
		drawCenteredText(drawer, rankLabel, origin.X-margin/2, (r.Min.Y+r.Max.Y)/2+ascent/2)
	}
}

func drawCenteredText(drawer *font.Drawer, text string, centerX, baseline int) {
	if text == "" {
		return
	}
	width := drawer.MeasureString(text).Round()
	drawer.Dot = fixed.P(centerX-width/2, baseline)
	drawer.DrawString(text)
}
