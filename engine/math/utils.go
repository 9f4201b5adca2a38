package math

import (
	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"
	"golang.org/x/exp/constraints"
)

const K_FLOAT_EPSILON float32 = 1.192092896e-07

// Clamp returns the value `f` clamped to the range [low, high].
// It works for any numeric type (integers and floats).
func Clamp[T constraints.Ordered](f, low, high T) T {
	if f < low {
		return low
	}
	if f > high {
		return high
	}
	return f
}

// AlignUp rounds v up to the next multiple of alignment. An alignment of zero
// or one leaves v untouched; other alignments must be powers of two.
func AlignUp[T constraints.Unsigned](v, alignment T) T {
	if alignment <= 1 {
		return v
	}
	return (v + alignment - 1) &^ (alignment - 1)
}

func IsPowerOfTwo[T constraints.Unsigned](v T) bool {
	return v != 0 && v&(v-1) == 0
}

// NormalMatrix is the inverse transpose of the upper 3x3 of model. Singular
// matrices yield the identity.
func NormalMatrix(model Mat4) Mat3 {
	m := model.Mat3()
	if math32.Abs(m.Det()) < K_FLOAT_EPSILON {
		return mgl32.Ident3()
	}
	return m.Inv().Transpose()
}

// Translation extracts the translation column of an affine matrix.
func Translation(m Mat4) Vec3 {
	return m.Col(3).Vec3()
}

func DistanceSquared(a, b Vec3) float32 {
	d := a.Sub(b)
	return d.Dot(d)
}

func Distance(a, b Vec3) float32 {
	return math32.Sqrt(DistanceSquared(a, b))
}

func DegToRad(deg float32) float32 {
	return deg * math32.Pi / 180.0
}
