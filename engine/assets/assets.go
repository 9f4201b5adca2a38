// Package assets resolves files under the asset root, decodes images for
// texture upload and reports changes on disk so they can be reloaded.
package assets

import (
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/fsnotify/fsnotify"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/spaghettifunk/anima-core/engine/core"
)

type AssetType uint8

const (
	AssetTypeNone AssetType = iota
	AssetTypeImage
	AssetTypeShader
)

func (t AssetType) String() string {
	return [...]string{"none", "image", "shader"}[t]
}

func DetermineAssetType(path string) AssetType {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png", ".jpg", ".jpeg", ".bmp", ".tif", ".tiff", ".webp":
		return AssetTypeImage
	case ".spv":
		return AssetTypeShader
	default:
		return AssetTypeNone
	}
}

// OnChange is called from the watcher goroutine with the path relative to
// the asset root.
type OnChange func(assetType AssetType, name string)

type AssetManager struct {
	root string

	mu       sync.Mutex
	fsnotify *fsnotify.Watcher
	done     chan struct{}
	wg       sync.WaitGroup
	isClosed bool
}

func NewAssetManager(root string) (*AssetManager, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, errors.Wrapf(err, "asset root %s", root)
	}
	return &AssetManager{root: abs}, nil
}

func (am *AssetManager) Root() string {
	return am.root
}

func (am *AssetManager) Path(name string) string {
	return filepath.Join(am.root, filepath.FromSlash(name))
}

func (am *AssetManager) ShaderDir() string {
	return am.Path("shaders")
}

// LoadImage decodes an image file. PNG, JPEG, BMP, TIFF and WebP are known.
func (am *AssetManager) LoadImage(name string) (image.Image, error) {
	f, err := os.Open(am.Path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(core.ErrResourceNotFound, "image %s", name)
		}
		return nil, errors.Wrapf(err, "opening image %s", name)
	}
	defer f.Close()

	img, format, err := image.Decode(f)
	if err != nil {
		return nil, errors.Wrapf(core.ErrInvalidOperation, "decoding image %s: %s", name, err)
	}
	core.LogDebug("image %s decoded (%s, %dx%d)", name, format, img.Bounds().Dx(), img.Bounds().Dy())
	return img, nil
}

// Watch reports every created or written asset file under the root,
// including files in directories created later. It can be started once.
func (am *AssetManager) Watch(onChange OnChange) error {
	am.mu.Lock()
	defer am.mu.Unlock()
	if am.isClosed {
		return errors.Wrap(core.ErrInvalidOperation, "asset manager already closed")
	}
	if am.fsnotify != nil {
		return errors.Wrap(core.ErrInvalidOperation, "asset manager already watching")
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "creating asset watcher")
	}
	am.fsnotify = w
	if err := am.watchRecursive(am.root); err != nil {
		w.Close()
		am.fsnotify = nil
		return err
	}
	am.done = make(chan struct{})
	am.wg.Add(1)
	go am.run(onChange)
	return nil
}

func (am *AssetManager) run(onChange OnChange) {
	defer am.wg.Done()
	for {
		select {
		case e, ok := <-am.fsnotify.Events:
			if !ok {
				return
			}
			if e.Op&fsnotify.Create != 0 {
				if s, err := os.Stat(e.Name); err == nil && s.IsDir() {
					if err := am.watchRecursive(e.Name); err != nil {
						core.LogWarn("watching %s: %s", e.Name, err)
					}
					continue
				}
			}
			if e.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			t := DetermineAssetType(e.Name)
			if t == AssetTypeNone {
				continue
			}
			rel, err := filepath.Rel(am.root, e.Name)
			if err != nil {
				continue
			}
			onChange(t, filepath.ToSlash(rel))

		case err, ok := <-am.fsnotify.Errors:
			if !ok {
				return
			}
			core.LogError(err.Error())

		case <-am.done:
			return
		}
	}
}

// watchRecursive adds every directory under path to the watch list.
func (am *AssetManager) watchRecursive(path string) error {
	return filepath.Walk(path, func(walkPath string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.IsDir() {
			return am.fsnotify.Add(walkPath)
		}
		return nil
	})
}

func (am *AssetManager) Close() error {
	am.mu.Lock()
	if am.isClosed {
		am.mu.Unlock()
		return nil
	}
	am.isClosed = true
	w := am.fsnotify
	am.mu.Unlock()

	if w == nil {
		return nil
	}
	close(am.done)
	am.wg.Wait()
	return w.Close()
}
