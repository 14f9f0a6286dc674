// Package images reads and writes images through the storage backends.
package images

import (
	"context"
	"fmt"
	"strings"

	"github.com/cshum/vipsgen/vips"
	"github.com/sashko-guz/spacer/internal/storage"
)

// DefaultQuality is used when EncodeOptions.Quality is zero.
const DefaultQuality = 75

// Resolver returns the backend for a location. *storage.Registry implements it.
type Resolver interface {
	ResolveLocation(loc storage.Location) (storage.Backend, error)
}

type EncodeOptions struct {
	Format  string // "jpeg" (default), "png" or "webp"
	Quality int    // 1-100
}

// FormatFromPath guesses an output format from a key's extension.
// Unknown extensions give "jpeg".
func FormatFromPath(path string) string {
	ext := strings.ToLower(path)
	switch {
	case strings.HasSuffix(ext, ".webp"):
		return "webp"
	case strings.HasSuffix(ext, ".png"):
		return "png"
	default:
		return "jpeg"
	}
}

// Encode exports img and returns the bytes with their content type.
func Encode(img *vips.Image, opts *EncodeOptions) ([]byte, string, error) {
	format, quality := "jpeg", DefaultQuality
	if opts != nil {
		if opts.Format != "" {
			format = strings.ToLower(opts.Format)
		}
		if opts.Quality != 0 {
			quality = opts.Quality
		}
	}
	if quality < 1 || quality > 100 {
		return nil, "", fmt.Errorf("quality must be between 1 and 100, got %d: %w", quality, storage.ErrInput)
	}

	var (
		result      []byte
		contentType string
		err         error
	)
	switch format {
	case "webp":
		result, err = img.WebpsaveBuffer(&vips.WebpsaveBufferOptions{Q: quality})
		contentType = "image/webp"
	case "png":
		result, err = img.PngsaveBuffer(&vips.PngsaveBufferOptions{Q: quality})
		contentType = "image/png"
	case "jpeg", "jpg":
		result, err = img.JpegsaveBuffer(&vips.JpegsaveBufferOptions{Q: quality})
		contentType = "image/jpeg"
	default:
		return nil, "", fmt.Errorf("unsupported format %q: %w", format, storage.ErrInput)
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to export image: %w", err)
	}
	return result, contentType, nil
}

// Decode loads an image from memory and applies its EXIF orientation.
// The caller owns the returned image and must Close it.
func Decode(data []byte) (*vips.Image, error) {
	img, err := vips.NewImageFromBuffer(data, vips.DefaultLoadOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to load image: %w", err)
	}

	// Not every loader accepts autorotate as a load option, so do it after
	if err := img.Autorot(&vips.AutorotOptions{}); err != nil {
		img.Close()
		return nil, fmt.Errorf("failed to autorotate image: %w", err)
	}
	return img, nil
}

// Store encodes img and writes it to loc. A nil opts writes JPEG at
// DefaultQuality.
func Store(ctx context.Context, resolver Resolver, loc storage.Location, img *vips.Image, opts *EncodeOptions) error {
	loc = loc.Normalize()
	backend, err := resolver.ResolveLocation(loc)
	if err != nil {
		return err
	}

	data, _, err := Encode(img, opts)
	if err != nil {
		return err
	}
	if err := backend.Store(ctx, loc.Key, data); err != nil {
		return fmt.Errorf("store image at %s: %w", loc, err)
	}
	return nil
}

// Load reads and decodes the image at loc. The caller must Close it.
func Load(ctx context.Context, resolver Resolver, loc storage.Location) (*vips.Image, error) {
	loc = loc.Normalize()
	backend, err := resolver.ResolveLocation(loc)
	if err != nil {
		return nil, err
	}

	data, err := backend.Load(ctx, loc.Key)
	if err != nil {
		return nil, fmt.Errorf("load image from %s: %w", loc, err)
	}
	return Decode(data)
}

// Thumbnail decodes data and shrinks it to fit within width x height,
// keeping the aspect ratio. Images already smaller are left as they are.
func Thumbnail(data []byte, width, height int) (*vips.Image, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("thumbnail size %dx%d: %w", width, height, storage.ErrInput)
	}
	img, err := vips.NewThumbnailBuffer(data, width, &vips.ThumbnailBufferOptions{
		Height: height,
		Size:   vips.SizeDown,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create thumbnail: %w", err)
	}
	return img, nil
}
