package systems

import (
	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/anima-core/engine/core"
	"github.com/spaghettifunk/anima-core/engine/math"
	"github.com/spaghettifunk/anima-core/engine/renderer/metadata"
)

// MeshUploader is the part of the renderer the mesh system needs.
type MeshUploader interface {
	UploadMesh(name string, vertices []math.Vertex3D, indices []uint32) (*metadata.Mesh, error)
	DestroyMesh(m *metadata.Mesh)
}

type meshReference struct {
	mesh           *metadata.Mesh
	referenceCount uint32
}

// MeshSystem uploads geometry configs once and hands out the same mesh to
// every caller that asks for it by name, counting references.
type MeshSystem struct {
	uploader MeshUploader
	meshes   map[string]*meshReference
}

func NewMeshSystem(uploader MeshUploader) *MeshSystem {
	return &MeshSystem{
		uploader: uploader,
		meshes:   make(map[string]*meshReference),
	}
}

// LoadFromConfig uploads config as a mesh named after it. Loading a name that
// is already resident returns the resident mesh.
func (ms *MeshSystem) LoadFromConfig(config *metadata.GeometryConfig) (*metadata.Mesh, error) {
	if ref, ok := ms.meshes[config.Name]; ok {
		ref.referenceCount++
		return ref.mesh, nil
	}
	if !config.IsValid() {
		return nil, errors.Wrapf(core.ErrInvalidOperation, "geometry %q is not a valid triangle list", config.Name)
	}
	mesh, err := ms.uploader.UploadMesh(config.Name, config.Vertices, config.Indices)
	if err != nil {
		return nil, err
	}
	ms.meshes[config.Name] = &meshReference{mesh: mesh, referenceCount: 1}
	core.LogDebug("Mesh '%s' loaded: %d vertices, %d indices.", config.Name, len(config.Vertices), len(config.Indices))
	return mesh, nil
}

// Acquire returns a resident mesh and takes a reference on it.
func (ms *MeshSystem) Acquire(name string) (*metadata.Mesh, error) {
	ref, ok := ms.meshes[name]
	if !ok {
		return nil, errors.Wrapf(core.ErrResourceNotFound, "mesh %q", name)
	}
	ref.referenceCount++
	return ref.mesh, nil
}

// Release drops a reference. The GPU buffers go away with the last one.
func (ms *MeshSystem) Release(name string) error {
	ref, ok := ms.meshes[name]
	if !ok {
		return errors.Wrapf(core.ErrResourceNotFound, "mesh %q", name)
	}
	ref.referenceCount--
	if ref.referenceCount == 0 {
		ms.uploader.DestroyMesh(ref.mesh)
		delete(ms.meshes, name)
		core.LogDebug("Mesh '%s' unloaded.", name)
	}
	return nil
}

func (ms *MeshSystem) Count() int {
	return len(ms.meshes)
}

func (ms *MeshSystem) Shutdown() error {
	for name, ref := range ms.meshes {
		ms.uploader.DestroyMesh(ref.mesh)
		delete(ms.meshes, name)
	}
	return nil
}
