// Package render composites segmentation masks over source images.
package render

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/disintegration/imaging"
)

var ErrDecode = errors.New("decode image")

// Composite draws mask over source at the given opacity and returns the
// result as PNG. The mask is resized to the source dimensions when they
// differ. A nil mask returns the source re-encoded as PNG.
func Composite(source, mask []byte, opacity float64) ([]byte, error) {
	src, err := imaging.Decode(bytes.NewReader(source), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: source: %v", ErrDecode, err)
	}

	out := imaging.Clone(src)
	if len(mask) > 0 && opacity > 0 {
		m, err := imaging.Decode(bytes.NewReader(mask))
		if err != nil {
			return nil, fmt.Errorf("%w: mask: %v", ErrDecode, err)
		}
		b := src.Bounds()
		if m.Bounds().Dx() != b.Dx() || m.Bounds().Dy() != b.Dy() {
			m = imaging.Resize(m, b.Dx(), b.Dy(), imaging.NearestNeighbor)
		}
		out = imaging.Overlay(out, m, b.Min, opacity)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, out, imaging.PNG); err != nil {
		return nil, fmt.Errorf("encode composite: %w", err)
	}
	return buf.Bytes(), nil
}
