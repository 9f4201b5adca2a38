package systems

// SystemManager owns the engine-side systems that sit on top of the renderer.
type SystemManager struct {
	CameraSystem *CameraSystem
	MeshSystem   *MeshSystem
}

func NewSystemManager(uploader MeshUploader) (*SystemManager, error) {
	cs, err := NewCameraSystem(&CameraSystemConfig{
		MaxCameraCount: 100,
	})
	if err != nil {
		return nil, err
	}
	return &SystemManager{
		CameraSystem: cs,
		MeshSystem:   NewMeshSystem(uploader),
	}, nil
}

// Shutdown releases the meshes before the renderer goes away.
func (sm *SystemManager) Shutdown() error {
	if err := sm.MeshSystem.Shutdown(); err != nil {
		return err
	}
	return sm.CameraSystem.Shutdown()
}
