package jobmanager

import (
	"bytes"
	"fmt"
	"image/jpeg"
)

// decodeBGR24 decodes a JPEG frame into the packed (width, height, 3) BGR
// byte layout a ring buffer slot expects.
func decodeBGR24(jpegBytes []byte, width, height int) ([]byte, error) {
	img, err := jpeg.Decode(bytes.NewReader(jpegBytes))
	if err != nil {
		return nil, fmt.Errorf("jobmanager: decode jpeg: %w", err)
	}
	b := img.Bounds()
	if b.Dx() != width || b.Dy() != height {
		return nil, fmt.Errorf("jobmanager: frame is %dx%d, want %dx%d", b.Dx(), b.Dy(), width, height)
	}

	out := make([]byte, width*height*3)
	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			out[i] = byte(bl >> 8)
			out[i+1] = byte(g >> 8)
			out[i+2] = byte(r >> 8)
			i += 3
		}
	}
	return out, nil
}
