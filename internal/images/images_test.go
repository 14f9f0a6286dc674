package images

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"testing"

	"github.com/cshum/vipsgen/vips"
	"github.com/sashko-guz/spacer/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	vips.Startup(nil)
	code := m.Run()
	vips.Shutdown()
	os.Exit(code)
}

func samplePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	src := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := range w {
		for y := range h {
			src.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, src))
	return buf.Bytes()
}

func TestFormatFromPath(t *testing.T) {
	assert.Equal(t, "png", FormatFromPath("a/b/c.PNG"))
	assert.Equal(t, "webp", FormatFromPath("c.webp"))
	assert.Equal(t, "jpeg", FormatFromPath("c.jpg"))
	assert.Equal(t, "jpeg", FormatFromPath("noext"))
}

func TestEncode_RejectsBadOptions(t *testing.T) {
	_, _, err := Encode(nil, &EncodeOptions{Quality: 101})
	assert.ErrorIs(t, err, storage.ErrInput)

	img, err := Decode(samplePNG(t, 4, 4))
	require.NoError(t, err)
	defer img.Close()

	_, _, err = Encode(img, &EncodeOptions{Format: "tiff"})
	assert.ErrorIs(t, err, storage.ErrInput)
}

func TestStoreLoad_MemoryRoundTrip(t *testing.T) {
	reg, err := storage.NewRegistry(storage.RegistryConfig{})
	require.NoError(t, err)
	ctx := context.Background()

	img, err := Decode(samplePNG(t, 32, 16))
	require.NoError(t, err)
	defer img.Close()

	loc := storage.Location{Kind: storage.KindMemory, Key: "images/1.jpg"}
	require.NoError(t, Store(ctx, reg, loc, img, nil))

	backend, err := reg.ResolveLocation(loc)
	require.NoError(t, err)
	data, err := backend.Load(ctx, loc.Key)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte{0xff, 0xd8}), "stored bytes should be JPEG")

	loaded, err := Load(ctx, reg, loc)
	require.NoError(t, err)
	defer loaded.Close()
	assert.Equal(t, 32, loaded.Width())
	assert.Equal(t, 16, loaded.Height())
}

func TestLoad_Missing(t *testing.T) {
	reg, err := storage.NewRegistry(storage.RegistryConfig{})
	require.NoError(t, err)

	_, err = Load(context.Background(), reg, storage.Location{Kind: storage.KindMemory, Key: "nope.jpg"})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestThumbnail_ShrinksOnly(t *testing.T) {
	data := samplePNG(t, 40, 20)

	small, err := Thumbnail(data, 10, 10)
	require.NoError(t, err)
	defer small.Close()
	assert.Equal(t, 10, small.Width())
	assert.Equal(t, 5, small.Height())

	same, err := Thumbnail(data, 100, 100)
	require.NoError(t, err)
	defer same.Close()
	assert.Equal(t, 40, same.Width())

	_, err = Thumbnail(data, 0, 10)
	assert.ErrorIs(t, err, storage.ErrInput)
}
