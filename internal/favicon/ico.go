package favicon

import (
	"bytes"
	"encoding/binary"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
)

var errBadICO = errors.New("malformed ICO data")

var pngMagic = []byte("\x89PNG\r\n\x1a\n")

func init() {
	image.RegisterFormat("ico", "\x00\x00\x01\x00", decodeICO, decodeICOConfig)
}

func decodeICO(r io.Reader) (image.Image, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	entry, err := largestEntry(data)
	if err != nil {
		return nil, err
	}
	if bytes.HasPrefix(entry, pngMagic) {
		return png.Decode(bytes.NewReader(entry))
	}
	return decodeDIB(entry)
}

func decodeICOConfig(r io.Reader) (image.Config, error) {
	img, err := decodeICO(r)
	if err != nil {
		return image.Config{}, err
	}
	b := img.Bounds()
	return image.Config{ColorModel: color.NRGBAModel, Width: b.Dx(), Height: b.Dy()}, nil
}

// largestEntry picks the directory entry with the most pixels, preferring
// higher bit depth on ties, and returns its image bytes.
func largestEntry(data []byte) ([]byte, error) {
	if len(data) < 6 {
		return nil, errBadICO
	}
	le := binary.LittleEndian
	if le.Uint16(data[0:]) != 0 || le.Uint16(data[2:]) != 1 {
		return nil, errBadICO
	}
	count := int(le.Uint16(data[4:]))
	if count == 0 || len(data) < 6+16*count {
		return nil, errBadICO
	}
	var best []byte
	bestArea, bestBpp := -1, -1
	for i := 0; i < count; i++ {
		e := data[6+16*i : 6+16*(i+1)]
		w, h := int(e[0]), int(e[1])
		if w == 0 {
			w = 256
		}
		if h == 0 {
			h = 256
		}
		bpp := int(le.Uint16(e[6:]))
		size := uint64(le.Uint32(e[8:]))
		off := uint64(le.Uint32(e[12:]))
		if size == 0 || off+size > uint64(len(data)) {
			continue
		}
		if w*h > bestArea || (w*h == bestArea && bpp > bestBpp) {
			best = data[off : off+size]
			bestArea, bestBpp = w*h, bpp
		}
	}
	if best == nil {
		return nil, errBadICO
	}
	return best, nil
}

// decodeDIB decodes a headerless BMP as stored inside ICO files: the height
// covers the colour rows plus the 1-bit AND mask.
func decodeDIB(b []byte) (image.Image, error) {
	le := binary.LittleEndian
	if len(b) < 40 {
		return nil, errBadICO
	}
	hdrSize := int(le.Uint32(b[0:]))
	w := int(int32(le.Uint32(b[4:])))
	h := int(int32(le.Uint32(b[8:]))) / 2
	bpp := int(le.Uint16(b[14:]))
	compression := le.Uint32(b[16:])
	if w <= 0 || h <= 0 || w > 256 || h > 256 || hdrSize < 40 || hdrSize > len(b) {
		return nil, errBadICO
	}
	if compression != 0 && !(compression == 3 && bpp == 32) {
		return nil, errors.New("unsupported ICO bitmap compression")
	}

	pos := hdrSize
	var palette []color.NRGBA
	if bpp <= 8 {
		colors := int(le.Uint32(b[32:]))
		if colors == 0 || colors > 1<<bpp {
			colors = 1 << bpp
		}
		if len(b) < pos+4*colors {
			return nil, errBadICO
		}
		palette = make([]color.NRGBA, colors)
		for i := range palette {
			p := b[pos+4*i:]
			palette[i] = color.NRGBA{R: p[2], G: p[1], B: p[0], A: 0xff}
		}
		pos += 4 * colors
	}

	stride := ((w*bpp + 31) / 32) * 4
	maskStride := ((w + 31) / 32) * 4
	if len(b) < pos+stride*h {
		return nil, errBadICO
	}
	maskStart := pos + stride*h
	hasMask := len(b) >= maskStart+maskStride*h

	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	anyAlpha := false
	for y := 0; y < h; y++ {
		// rows are stored bottom-up
		row := b[pos+(h-1-y)*stride:]
		for x := 0; x < w; x++ {
			var c color.NRGBA
			switch bpp {
			case 32:
				c = color.NRGBA{R: row[4*x+2], G: row[4*x+1], B: row[4*x], A: row[4*x+3]}
				if c.A != 0 {
					anyAlpha = true
				}
			case 24:
				c = color.NRGBA{R: row[3*x+2], G: row[3*x+1], B: row[3*x], A: 0xff}
			case 8, 4, 1:
				bit := x * bpp
				idx := int(row[bit/8]>>(8-bpp-bit%8)) & (1<<bpp - 1)
				if idx >= len(palette) {
					return nil, errBadICO
				}
				c = palette[idx]
			default:
				return nil, errors.New("unsupported ICO bit depth")
			}
			img.SetNRGBA(x, y, c)
		}
	}

	// 32-bit entries carry their own alpha; the mask only matters when the
	// alpha channel is blank.
	if bpp == 32 && anyAlpha {
		return img, nil
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := img.NRGBAAt(x, y)
			c.A = 0xff
			if hasMask {
				m := b[maskStart+(h-1-y)*maskStride:]
				if m[x/8]&(0x80>>(x%8)) != 0 {
					c.A = 0
				}
			}
			img.SetNRGBA(x, y, c)
		}
	}
	return img, nil
}
