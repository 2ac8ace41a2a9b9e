package favicon

import (
	"hash/fnv"
	"image"
	"image/color"
	"strings"
	"unicode"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const glyphCanvas = 16

// Glyph draws the fallback tile shown when no icon could be fetched: the
// first letter of the host on a colour derived from the host name.
func Glyph(host string, size int) *image.NRGBA {
	host = strings.TrimPrefix(strings.ToLower(host), "www.")
	letter := "?"
	for _, r := range host {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			letter = strings.ToUpper(string(r))
		}
		break
	}

	small := image.NewNRGBA(image.Rect(0, 0, glyphCanvas, glyphCanvas))
	draw.Draw(small, small.Bounds(), &image.Uniform{C: hostColor(host)}, image.Point{}, draw.Src)
	face := basicfont.Face7x13
	d := &font.Drawer{
		Dst:  small,
		Src:  image.White,
		Face: face,
	}
	adv := d.MeasureString(letter)
	x := (fixed.I(glyphCanvas) - adv) / 2
	y := fixed.I((glyphCanvas + face.Ascent - face.Descent) / 2)
	d.Dot = fixed.Point26_6{X: x, Y: y}
	d.DrawString(letter)

	if size == glyphCanvas {
		return small
	}
	out := image.NewNRGBA(image.Rect(0, 0, size, size))
	draw.NearestNeighbor.Scale(out, out.Bounds(), small, small.Bounds(), draw.Src, nil)
	return out
}

func hostColor(host string) color.NRGBA {
	h := fnv.New32a()
	h.Write([]byte(host))
	sum := h.Sum32()
	// keep channels in a mid range so white text stays readable
	return color.NRGBA{
		R: uint8(60 + sum%120),
		G: uint8(60 + (sum>>8)%120),
		B: uint8(60 + (sum>>16)%120),
		A: 0xff,
	}
}
