package math

import "github.com/go-gl/mathgl/mgl32"

func TransformCreate() *Transform {
	return TransformFromPositionRotationScale(Vec3{}, mgl32.QuatIdent(), Vec3{1, 1, 1})
}

func TransformFromPosition(position Vec3) *Transform {
	return TransformFromPositionRotationScale(position, mgl32.QuatIdent(), Vec3{1, 1, 1})
}

func TransformFromPositionRotationScale(position Vec3, rotation Quaternion, scale Vec3) *Transform {
	t := &Transform{Local: mgl32.Ident4()}
	t.SetPositionRotationScale(position, rotation, scale)
	return t
}

func (t *Transform) SetPosition(position Vec3) {
	t.Position = position
	t.IsDirty = true
}

func (t *Transform) Translate(translation Vec3) {
	t.Position = t.Position.Add(translation)
	t.IsDirty = true
}

func (t *Transform) SetRotation(rotation Quaternion) {
	t.Rotation = rotation
	t.IsDirty = true
}

func (t *Transform) Rotate(rotation Quaternion) {
	t.Rotation = t.Rotation.Mul(rotation)
	t.IsDirty = true
}

func (t *Transform) SetScale(scale Vec3) {
	t.Scale = scale
	t.IsDirty = true
}

func (t *Transform) SetPositionRotationScale(position Vec3, rotation Quaternion, scale Vec3) {
	t.Position = position
	t.Rotation = rotation
	t.Scale = scale
	t.IsDirty = true
}

// GetLocal returns translation * rotation * scale, rebuilt only when dirty.
func (t *Transform) GetLocal() Mat4 {
	if t == nil {
		return mgl32.Ident4()
	}
	if t.IsDirty {
		tr := mgl32.Translate3D(t.Position.X(), t.Position.Y(), t.Position.Z())
		s := mgl32.Scale3D(t.Scale.X(), t.Scale.Y(), t.Scale.Z())
		t.Local = tr.Mul4(t.Rotation.Mat4()).Mul4(s)
		t.IsDirty = false
	}
	return t.Local
}

func (t *Transform) GetWorld() Mat4 {
	if t == nil {
		return mgl32.Ident4()
	}
	l := t.GetLocal()
	if t.Parent != nil {
		return t.Parent.GetWorld().Mul4(l)
	}
	return l
}
