// Package images computes BlurHash placeholders for book cover art so a
// client can paint a low-res preview before the real image loads.
package images

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/bbrks/go-blurhash"
	_ "golang.org/x/image/webp"
)

// ComputeBlurHash generates a BlurHash string from cover art bytes. Uses a
// 4x3 component grid, a good balance of size (~20-30 chars) and detail for
// book covers.
func ComputeBlurHash(data []byte) (string, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("decode cover image: %w", err)
	}

	hash, err := blurhash.Encode(4, 3, img)
	if err != nil {
		return "", fmt.Errorf("encode blurhash: %w", err)
	}

	return hash, nil
}
