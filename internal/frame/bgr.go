package frame

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
)

// EncodeJPEG compresses a BGR24 frame to JPEG at the given quality.
func EncodeJPEG(f *Frame, quality int) ([]byte, error) {
	if len(f.Data) != ByteSize(f.Width, f.Height) {
		return nil, fmt.Errorf("frame payload %d bytes, want %d for %dx%d",
			len(f.Data), ByteSize(f.Width, f.Height), f.Width, f.Height)
	}

	img := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
	src := f.Data
	dst := img.Pix
	for i, j := 0, 0; i < len(src); i, j = i+3, j+4 {
		dst[j+0] = src[i+2] // R
		dst[j+1] = src[i+1] // G
		dst[j+2] = src[i+0] // B
		dst[j+3] = 0xFF
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("jpeg encode: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeJPEG decompresses a JPEG into packed BGR24 bytes plus geometry.
func DecodeJPEG(data []byte) ([]byte, int, int, error) {
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, 0, 0, fmt.Errorf("jpeg decode: %w", err)
	}

	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	out := make([]byte, ByteSize(w, h))

	i := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			out[i+0] = byte(b >> 8)
			out[i+1] = byte(g >> 8)
			out[i+2] = byte(r >> 8)
			i += 3
		}
	}
	return out, w, h, nil
}

// Infrared reports whether a frame looks like a near-grayscale IR/night
// image. It samples a sparse grid and checks channel spread; wildlife cams
// switch to IR illumination after dark, which flattens color.
func Infrared(f *Frame) bool {
	if len(f.Data) != ByteSize(f.Width, f.Height) || f.Width == 0 {
		return false
	}
	const step = 16
	var samples, gray int
	for y := 0; y < f.Height; y += step {
		row := y * f.Width * 3
		for x := 0; x < f.Width; x += step {
			i := row + x*3
			b, g, r := int(f.Data[i]), int(f.Data[i+1]), int(f.Data[i+2])
			samples++
			if abs(r-g) < 12 && abs(g-b) < 12 && abs(r-b) < 12 {
				gray++
			}
		}
	}
	return samples > 0 && gray*100/samples >= 95
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
