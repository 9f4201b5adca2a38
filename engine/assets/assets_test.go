package assets

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/bmp"

	"github.com/spaghettifunk/anima-core/engine/core"
)

func checker() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, 4, 2))
	for y := 0; y < 2; y++ {
		for x := 0; x < 4; x++ {
			if (x+y)%2 == 0 {
				img.Set(x, y, color.RGBA{255, 0, 0, 255})
			} else {
				img.Set(x, y, color.RGBA{0, 0, 255, 255})
			}
		}
	}
	return img
}

func writeFile(t *testing.T, path string, encode func(f *os.File) error) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, encode(f))
	require.NoError(t, f.Close())
}

func TestDetermineAssetType(t *testing.T) {
	assert.Equal(t, AssetTypeImage, DetermineAssetType("textures/brick.PNG"))
	assert.Equal(t, AssetTypeImage, DetermineAssetType("a/b.webp"))
	assert.Equal(t, AssetTypeShader, DetermineAssetType("shaders/pbr.vert.spv"))
	assert.Equal(t, AssetTypeNone, DetermineAssetType("notes.txt"))
}

func TestLoadImage(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "textures", "checker.png"), func(f *os.File) error { return png.Encode(f, checker()) })
	writeFile(t, filepath.Join(root, "textures", "checker.bmp"), func(f *os.File) error { return bmp.Encode(f, checker()) })

	am, err := NewAssetManager(root)
	require.NoError(t, err)

	for _, name := range []string{"textures/checker.png", "textures/checker.bmp"} {
		img, err := am.LoadImage(name)
		require.NoError(t, err, name)
		assert.Equal(t, image.Rect(0, 0, 4, 2), img.Bounds(), name)
		r, _, b, _ := img.At(1, 0).RGBA()
		assert.Zero(t, r, name)
		assert.Equal(t, uint32(0xffff), b, name)
	}

	_, err = am.LoadImage("textures/missing.png")
	assert.True(t, errors.Is(err, core.ErrResourceNotFound))

	require.NoError(t, os.WriteFile(filepath.Join(root, "broken.png"), []byte("not an image"), 0o644))
	_, err = am.LoadImage("broken.png")
	assert.True(t, errors.Is(err, core.ErrInvalidOperation))

	assert.Equal(t, filepath.Join(root, "shaders"), am.ShaderDir())
}

func TestWatchReportsChangedAssets(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "shaders"), 0o755))

	am, err := NewAssetManager(root)
	require.NoError(t, err)
	defer am.Close()

	changes := make(chan string, 16)
	require.NoError(t, am.Watch(func(assetType AssetType, name string) {
		if assetType == AssetTypeShader {
			changes <- name
		}
	}))
	assert.Error(t, am.Watch(func(AssetType, string) {}))

	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("ignored"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "shaders", "pbr.frag.spv"), []byte{0x03, 0x02, 0x23, 0x07}, 0o644))

	select {
	case name := <-changes:
		assert.Equal(t, "shaders/pbr.frag.spv", name)
	case <-time.After(5 * time.Second):
		t.Fatal("no change reported")
	}

	require.NoError(t, am.Close())
	require.NoError(t, am.Close())
	assert.Error(t, am.Watch(func(AssetType, string) {}))
}
