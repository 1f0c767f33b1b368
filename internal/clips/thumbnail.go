package clips

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
	"golang.org/x/image/draw"
)

const thumbnailMaxWidth = 640

// WriteThumbnail downscales a buffered JPEG to at most 640 px wide and
// writes it atomically. Smaller frames pass through at original size.
func WriteThumbnail(jpegData []byte, out string) error {
	img, err := jpeg.Decode(bytes.NewReader(jpegData))
	if err != nil {
		return fmt.Errorf("decode thumbnail source: %w", err)
	}

	b := img.Bounds()
	if b.Dx() > thumbnailMaxWidth {
		h := b.Dy() * thumbnailMaxWidth / b.Dx()
		scaled := image.NewRGBA(image.Rect(0, 0, thumbnailMaxWidth, h))
		draw.ApproxBiLinear.Scale(scaled, scaled.Bounds(), img, b, draw.Over, nil)
		img = scaled
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 85}); err != nil {
		return fmt.Errorf("encode thumbnail: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return err
	}
	return renameio.WriteFile(out, buf.Bytes(), 0o644)
}
