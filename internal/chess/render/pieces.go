package render

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"sync"

	nchess "github.com/corentings/chess/v2"
	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
)

type pieceCacheKey struct {
	piece nchess.Piece
	size  int
}

var (
	pieceCache   = map[pieceCacheKey]image.Image{}
	pieceCacheMu sync.RWMutex
)

const pieceTemplate = `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 45 45" width="45" height="45">
<circle cx="22.5" cy="22.5" r="17" fill="%s" stroke="%s" stroke-width="1.5"/>
</svg>`

func pieceSVG(piece nchess.Piece) []byte {
	fill, stroke := "#202020", "#f0f0f0"
	if piece.Color() == nchess.White {
		fill, stroke = "#f8f8f8", "#202020"
	}
	return []byte(fmt.Sprintf(pieceTemplate, fill, stroke))
}

func pieceLetter(piece nchess.Piece) string {
	switch piece.Type() {
	case nchess.King:
		return "K"
	case nchess.Queen:
		return "Q"
	case nchess.Rook:
		return "R"
	case nchess.Bishop:
		return "B"
	case nchess.Knight:
		return "N"
	case nchess.Pawn:
		return "P"
	}
	return "?"
}

// pieceImage rasterizes a disc in the piece's colour with its letter on top.
func pieceImage(piece nchess.Piece, size int) (image.Image, error) {
	key := pieceCacheKey{piece: piece, size: size}

	pieceCacheMu.RLock()
	if img, ok := pieceCache[key]; ok {
		pieceCacheMu.RUnlock()
		return img, nil
	}
	pieceCacheMu.RUnlock()

	icon, err := oksvg.ReadIconStream(bytes.NewReader(pieceSVG(piece)))
	if err != nil {
		return nil, fmt.Errorf("parse piece svg: %w", err)
	}
	icon.SetTarget(0, 0, float64(size), float64(size))

	img := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.Transparent), image.Point{}, draw.Src)

	scanner := rasterx.NewScannerGV(size, size, img, img.Bounds())
	raster := rasterx.NewDasher(size, size, scanner)
	icon.Draw(raster, 1.0)

	textColor := color.RGBA{248, 248, 248, 255}
	if piece.Color() == nchess.White {
		textColor = color.RGBA{32, 32, 32, 255}
	}
	drawer := &font.Drawer{Dst: img, Src: image.NewUniform(textColor), Face: basicfont.Face7x13}
	ascent := basicfont.Face7x13.Metrics().Ascent.Ceil()
	drawCenteredText(drawer, pieceLetter(piece), size/2, size/2+ascent/2)

	pieceCacheMu.Lock()
	pieceCache[key] = img
	pieceCacheMu.Unlock()
	return img, nil
}
