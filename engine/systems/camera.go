package systems

import (
	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/anima-core/engine/core"
	"github.com/spaghettifunk/anima-core/engine/renderer/components"
)

type cameraLookup struct {
	camera         *components.Camera
	referenceCount uint16
}

type CameraSystem struct {
	Config  *CameraSystemConfig
	cameras map[string]*cameraLookup
	// A default, non-registered camera that always exists as a fallback.
	DefaultCamera *components.Camera
}

/** @brief The camera system configuration. */
type CameraSystemConfig struct {
	/**
	 * @brief NOTE: The maximum number of cameras that can be managed by
	 * the system.
	 */
	MaxCameraCount uint16
}

func NewCameraSystem(config *CameraSystemConfig) (*CameraSystem, error) {
	if config.MaxCameraCount == 0 {
		return nil, errors.Wrap(core.ErrInvalidOperation, "camera system: MaxCameraCount must be > 0")
	}
	return &CameraSystem{
		Config:        config,
		cameras:       make(map[string]*cameraLookup, config.MaxCameraCount),
		DefaultCamera: components.NewCamera(),
	}, nil
}

func (cs *CameraSystem) Shutdown() error {
	cs.cameras = make(map[string]*cameraLookup)
	return nil
}

/**
 * @brief Acquires a camera by name.
 * If one is not found, a new one is created and returned.
 * Internal reference counter is incremented.
 */
func (cs *CameraSystem) Acquire(name string) (*components.Camera, error) {
	if name == components.DEFAULT_CAMERA_NAME {
		return cs.DefaultCamera, nil
	}
	lookup, ok := cs.cameras[name]
	if !ok {
		if len(cs.cameras) >= int(cs.Config.MaxCameraCount) {
			return nil, errors.Wrapf(core.ErrPoolExhausted,
				"camera %q: all %d slots in use, adjust the camera system config to allow more", name, cs.Config.MaxCameraCount)
		}
		core.LogDebug("Creating new camera named '%s'...", name)
		lookup = &cameraLookup{camera: components.NewCamera()}
		cs.cameras[name] = lookup
	}
	lookup.referenceCount++
	return lookup.camera, nil
}

/**
 * @brief Releases a camera with the given name. Internal reference
 * counter is decremented. If this reaches 0, the camera is dropped
 * and its slot is usable by a new camera.
 */
func (cs *CameraSystem) Release(name string) {
	if name == components.DEFAULT_CAMERA_NAME {
		core.LogDebug("Cannot release default camera. Nothing was done.")
		return
	}
	lookup, ok := cs.cameras[name]
	if !ok {
		core.LogWarn("CameraSystem.Release failed lookup of '%s'. Nothing was done.", name)
		return
	}
	lookup.referenceCount--
	if lookup.referenceCount == 0 {
		delete(cs.cameras, name)
	}
}

func (cs *CameraSystem) GetDefault() *components.Camera {
	return cs.DefaultCamera
}
