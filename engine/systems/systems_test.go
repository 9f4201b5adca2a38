package systems

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-core/engine/core"
	"github.com/spaghettifunk/anima-core/engine/math"
	"github.com/spaghettifunk/anima-core/engine/renderer/components"
	"github.com/spaghettifunk/anima-core/engine/renderer/metadata"
)

type fakeUploader struct {
	uploaded  []string
	destroyed []string
	fail      error
}

func (f *fakeUploader) UploadMesh(name string, vertices []math.Vertex3D, indices []uint32) (*metadata.Mesh, error) {
	if f.fail != nil {
		return nil, f.fail
	}
	f.uploaded = append(f.uploaded, name)
	return &metadata.Mesh{
		ID:          uuid.New(),
		Name:        name,
		VertexCount: uint32(len(vertices)),
		IndexCount:  uint32(len(indices)),
	}, nil
}

func (f *fakeUploader) DestroyMesh(m *metadata.Mesh) {
	f.destroyed = append(f.destroyed, m.Name)
}

func TestGenerateCubeConfig(t *testing.T) {
	config, err := GenerateCubeConfig(2, 4, 6, 1, 1, "box", "")
	require.NoError(t, err)

	assert.Len(t, config.Vertices, 24)
	assert.Len(t, config.Indices, 36)
	assert.True(t, config.IsValid())
	assert.Equal(t, "box", config.Name)
	assert.Equal(t, metadata.DefaultMaterialName, config.MaterialName)
	assert.Equal(t, math.Vec3{-1, -2, -3}, config.Extents.Min)
	assert.Equal(t, math.Vec3{1, 2, 3}, config.Extents.Max)

	// every vertex sits on the face its normal points out of
	for _, v := range config.Vertices {
		for axis := 0; axis < 3; axis++ {
			if v.Normal[axis] != 0 {
				assert.Equal(t, v.Normal[axis]*config.Extents.Max[axis], v.Position[axis])
			}
		}
	}
}

func TestGeneratePlaneConfig(t *testing.T) {
	config, err := GeneratePlaneConfig(10, 10, 2, 3, 1, 1, "", "")
	require.NoError(t, err)
	assert.Len(t, config.Vertices, 2*3*4)
	assert.Len(t, config.Indices, 2*3*6)
	assert.True(t, config.IsValid())
	assert.Equal(t, metadata.DefaultGeometryName, config.Name)
	assert.Equal(t, math.Vec3{-5, -5, 0}, config.Extents.Min)
	assert.Equal(t, math.Vec3{5, 5, 0}, config.Extents.Max)

	_, err = GeneratePlaneConfig(1, 1, 0, 1, 1, 1, "", "")
	assert.True(t, errors.Is(err, core.ErrInvalidOperation))
}

func TestMeshSystemReferenceCounting(t *testing.T) {
	up := &fakeUploader{}
	ms := NewMeshSystem(up)
	config, err := GenerateCubeConfig(1, 1, 1, 1, 1, "cube", "")
	require.NoError(t, err)

	first, err := ms.LoadFromConfig(config)
	require.NoError(t, err)
	second, err := ms.LoadFromConfig(config)
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, []string{"cube"}, up.uploaded)

	third, err := ms.Acquire("cube")
	require.NoError(t, err)
	assert.Same(t, first, third)

	require.NoError(t, ms.Release("cube"))
	require.NoError(t, ms.Release("cube"))
	assert.Empty(t, up.destroyed)
	require.NoError(t, ms.Release("cube"))
	assert.Equal(t, []string{"cube"}, up.destroyed)
	assert.Equal(t, 0, ms.Count())

	_, err = ms.Acquire("cube")
	assert.True(t, errors.Is(err, core.ErrResourceNotFound))
	assert.True(t, errors.Is(ms.Release("cube"), core.ErrResourceNotFound))
}

func TestMeshSystemRejectsBadGeometry(t *testing.T) {
	up := &fakeUploader{}
	ms := NewMeshSystem(up)
	_, err := ms.LoadFromConfig(&metadata.GeometryConfig{
		Name:     "broken",
		Vertices: make([]math.Vertex3D, 3),
		Indices:  []uint32{0, 1, 5},
	})
	assert.True(t, errors.Is(err, core.ErrInvalidOperation))
	assert.Empty(t, up.uploaded)

	up.fail = errors.Wrap(core.ErrOutOfMemory, "device local")
	config, err := GenerateCubeConfig(1, 1, 1, 1, 1, "cube", "")
	require.NoError(t, err)
	_, err = ms.LoadFromConfig(config)
	assert.True(t, errors.Is(err, core.ErrOutOfMemory))
	assert.Equal(t, 0, ms.Count())
}

func TestCameraSystem(t *testing.T) {
	cs, err := NewCameraSystem(&CameraSystemConfig{MaxCameraCount: 1})
	require.NoError(t, err)

	def, err := cs.Acquire(components.DEFAULT_CAMERA_NAME)
	require.NoError(t, err)
	assert.Same(t, cs.GetDefault(), def)

	a, err := cs.Acquire("a")
	require.NoError(t, err)
	again, err := cs.Acquire("a")
	require.NoError(t, err)
	assert.Same(t, a, again)

	_, err = cs.Acquire("b")
	assert.True(t, errors.Is(err, core.ErrPoolExhausted))

	cs.Release("a")
	cs.Release("a")
	b, err := cs.Acquire("b")
	require.NoError(t, err)
	assert.NotSame(t, a, b)

	_, err = NewCameraSystem(&CameraSystemConfig{})
	assert.Error(t, err)
}

func TestSystemManagerShutdownReleasesMeshes(t *testing.T) {
	up := &fakeUploader{}
	sm, err := NewSystemManager(up)
	require.NoError(t, err)
	config, err := GenerateCubeConfig(1, 1, 1, 1, 1, "cube", "")
	require.NoError(t, err)
	_, err = sm.MeshSystem.LoadFromConfig(config)
	require.NoError(t, err)

	require.NoError(t, sm.Shutdown())
	assert.Equal(t, []string{"cube"}, up.destroyed)
}
