package testbed

import (
	"github.com/chewxy/math32"
	"github.com/cockroachdb/errors"
	"github.com/go-gl/mathgl/mgl32"

	"github.com/spaghettifunk/anima-core/engine"
	"github.com/spaghettifunk/anima-core/engine/core"
	"github.com/spaghettifunk/anima-core/engine/math"
	"github.com/spaghettifunk/anima-core/engine/renderer/components"
	"github.com/spaghettifunk/anima-core/engine/renderer/metadata"
	"github.com/spaghettifunk/anima-core/engine/renderer/resources"
	"github.com/spaghettifunk/anima-core/engine/systems"
)

const (
	checkerTexture = "textures/checker.png"
	statsInterval  = 5.0
)

type TestGame struct {
	*engine.Game
	engine *engine.Engine
}

type object struct {
	meshName  string
	mesh      *metadata.Mesh
	material  *metadata.Material
	transform *math.Transform
	color     math.Vec4
	instance  metadata.InstanceHandle
}

type gameState struct {
	WorldCamera *components.Camera

	width  uint32
	height uint32

	objects   []*object
	spinning  []*object
	texture   resources.ImageHandle
	elapsed   float64
	statsTime float64
}

func NewTestGame() *TestGame {
	tg := &TestGame{
		Game: &engine.Game{
			State: &gameState{},
		},
	}
	tg.FnInitialize = tg.Initialize
	tg.FnUpdate = tg.Update
	tg.FnRender = tg.Render
	tg.FnOnResize = tg.OnResize
	tg.FnShutdown = tg.Shutdown
	return tg
}

// Initialize builds the scene. It also runs after a device reset, when the
// previous meshes and instances died with the old device.
func (g *TestGame) Initialize(e *engine.Engine) error {
	core.LogDebug("TestGame Initialize fn....")
	g.engine = e

	state := g.State.(*gameState)
	*state = gameState{}
	state.width, state.height = e.GetFramebufferSize()

	state.WorldCamera = e.Systems().CameraSystem.GetDefault()
	state.WorldCamera.SetPosition(math.Vec3{0, 6, 18})
	state.WorldCamera.Pitch(-0.3)

	brick := &metadata.Material{
		Name:      "brick",
		Archetype: metadata.ArchetypeStandardPBR,
		Params:    metadata.DefaultMaterialParams(),
	}
	if img, err := e.Assets().LoadImage(checkerTexture); err == nil {
		if state.texture, err = e.Renderer().LoadTexture(img); err != nil {
			return err
		}
		brick.Textures[metadata.TextureBaseColor] = state.texture
	} else if errors.Is(err, core.ErrResourceNotFound) {
		core.LogInfo("%s not found, brick stays untextured", checkerTexture)
	} else {
		return err
	}

	metal := &metadata.Material{Name: "metal", Archetype: metadata.ArchetypeStandardPBR, Params: metadata.DefaultMaterialParams()}
	metal.Params.Metallic = 1
	metal.Params.Roughness = 0.2

	glass := &metadata.Material{Name: "glass", Archetype: metadata.ArchetypeTransparentPBR, Params: metadata.DefaultMaterialParams()}
	glass.Params.BaseColor = math.Vec4{0.6, 0.8, 1, 0.35}
	glass.Params.Opacity = 0.35
	glass.Params.Roughness = 0.05

	glow := &metadata.Material{Name: "glow", Archetype: metadata.ArchetypeUnlit, Params: metadata.DefaultMaterialParams()}
	glow.Params.Emission = math.Vec3{1, 0.6, 0.2}
	glow.Params.EmissionStrength = 2

	smoke := &metadata.Material{Name: "smoke", Archetype: metadata.ArchetypeUnlitTransparent, Params: metadata.DefaultMaterialParams()}
	smoke.Params.BaseColor = math.Vec4{0.5, 0.5, 0.5, 0.25}
	smoke.Params.Opacity = 0.25

	floor, err := g.spawnPlane("floor", 40, e.Renderer().DefaultMaterial())
	if err != nil {
		return err
	}
	floor.transform.SetRotation(mgl32.QuatRotate(-math32.Pi/2, math.Vec3{1, 0, 0}))

	// three cubes, each parented to the previous one
	cube1, err := g.spawnCube("test_cube", 4, brick, math.TransformCreate())
	if err != nil {
		return err
	}
	cube2, err := g.spawnCube("test_cube_2", 2, metal, math.TransformFromPosition(math.Vec3{6, 0, 0}))
	if err != nil {
		return err
	}
	cube2.transform.Parent = cube1.transform
	cube3, err := g.spawnCube("test_cube_3", 1, glow, math.TransformFromPosition(math.Vec3{3, 0, 0}))
	if err != nil {
		return err
	}
	cube3.transform.Parent = cube2.transform
	state.spinning = []*object{cube1, cube2, cube3}

	for i, z := range []float32{-4, 0, 4} {
		t := math.TransformFromPosition(math.Vec3{-8, 1.5, z})
		mat := glass
		if i == 1 {
			mat = smoke
		}
		pane, err := g.spawnCube("pane", 3, mat, t)
		if err != nil {
			return err
		}
		pane.transform.SetScale(math.Vec3{1, 1, 0.1})
	}

	core.LogInfo("Testbed scene ready: %d objects.", len(state.objects))
	return nil
}

func (g *TestGame) spawnCube(name string, size float32, mat *metadata.Material, t *math.Transform) (*object, error) {
	config, err := systems.GenerateCubeConfig(size, size, size, 1, 1, name, mat.Name)
	if err != nil {
		return nil, err
	}
	return g.spawn(config, mat, t)
}

func (g *TestGame) spawnPlane(name string, size float32, mat *metadata.Material) (*object, error) {
	config, err := systems.GeneratePlaneConfig(size, size, 4, 4, size/4, size/4, name, mat.Name)
	if err != nil {
		return nil, err
	}
	return g.spawn(config, mat, math.TransformCreate())
}

func (g *TestGame) spawn(config *metadata.GeometryConfig, mat *metadata.Material, t *math.Transform) (*object, error) {
	state := g.State.(*gameState)
	mesh, err := g.engine.Systems().MeshSystem.LoadFromConfig(config)
	if err != nil {
		return nil, err
	}
	inst, err := g.engine.Renderer().AcquireInstance(mesh, mat.Archetype)
	if err != nil {
		return nil, err
	}
	o := &object{
		meshName:  config.Name,
		mesh:      mesh,
		material:  mat,
		transform: t,
		color:     math.Vec4{1, 1, 1, 1},
		instance:  inst,
	}
	state.objects = append(state.objects, o)
	return o, nil
}

func (g *TestGame) Update(deltaTime float64) error {
	state := g.State.(*gameState)
	state.elapsed += deltaTime

	// Perform a small rotation on the cubes; children inherit their parent's.
	rotation := mgl32.QuatRotate(float32(0.5*deltaTime), math.Vec3{0, 1, 0})
	for _, o := range state.spinning {
		o.transform.Rotate(rotation)
	}

	for _, o := range state.objects {
		data := metadata.InstanceData{
			Model:    o.transform.GetWorld(),
			Color:    o.color,
			Emission: o.material.Params.Emission.Vec4(o.material.Params.EmissionStrength),
		}
		if err := g.engine.Renderer().UpdateInstance(o.instance, data); err != nil {
			return err
		}
	}

	state.statsTime += deltaTime
	if state.statsTime >= statsInterval {
		state.statsTime = 0
		fps, frameTime := g.engine.Renderer().Metrics().Frame()
		stats := g.engine.Renderer().Stats()
		pos := state.WorldCamera.GetPosition()
		core.LogInfo("FPS: %5.1f(%4.1fms) opaque=%d transparent=%d barriers=%d Pos=[%7.3f %7.3f %7.3f]",
			fps, frameTime, stats.Opaque, stats.Transparent, stats.Barriers, pos.X(), pos.Y(), pos.Z())
	}
	return nil
}

func (g *TestGame) Render(packet *metadata.RenderPacket, deltaTime float64) error {
	state := g.State.(*gameState)
	packet.Camera = state.WorldCamera.Data(state.width, state.height)

	t := float32(state.elapsed)
	packet.Lighting = metadata.Lighting{
		Ambient: math.Vec4{0.05, 0.05, 0.08, 1},
		Directional: []metadata.DirectionalLight{
			{Direction: math.Vec3{-0.4, -1, -0.3}.Normalize(), Color: math.Vec3{1, 0.95, 0.9}, Intensity: 2},
		},
		Point: []metadata.PointLight{
			{Position: math.Vec3{8 * math32.Cos(t), 3, 8 * math32.Sin(t)}, Color: math.Vec3{1, 0.2, 0.2}, Intensity: 4, Range: 12, Constant: 1, Linear: 0.22, Quadratic: 0.2},
			{Position: math.Vec3{8 * math32.Cos(t+math32.Pi), 3, 8 * math32.Sin(t+math32.Pi)}, Color: math.Vec3{0.2, 0.4, 1}, Intensity: 4, Range: 12, Constant: 1, Linear: 0.22, Quadratic: 0.2},
		},
		Spot: []metadata.SpotLight{
			{
				Position:  math.Vec3{0, 12, 0},
				Direction: math.Vec3{0, -1, 0},
				Color:     math.Vec3{1, 1, 1},
				Intensity: 6,
				Range:     20,
				InnerCone: math.DegToRad(15),
				OuterCone: math.DegToRad(25),
			},
		},
	}

	for _, o := range state.objects {
		packet.Entities = append(packet.Entities, metadata.RenderEntity{
			Mesh:     o.mesh,
			Material: o.material,
			Instance: o.instance,
			Model:    o.transform.GetWorld(),
		})
	}
	return nil
}

func (g *TestGame) OnResize(width uint32, height uint32) error {
	state := g.State.(*gameState)
	state.width, state.height = width, height
	return nil
}

func (g *TestGame) Shutdown() error {
	state := g.State.(*gameState)
	r := g.engine.Renderer()
	if r == nil {
		return nil
	}
	var err error
	for _, o := range state.objects {
		err = errors.CombineErrors(err, r.ReleaseInstance(o.instance))
		err = errors.CombineErrors(err, g.engine.Systems().MeshSystem.Release(o.meshName))
	}
	if !state.texture.IsZero() {
		r.DestroyTexture(state.texture)
	}
	state.objects, state.spinning = nil, nil
	return err
}
