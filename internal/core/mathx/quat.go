package mathx

import "math"

// Quat is a rotation quaternion value type.
type Quat struct {
	X, Y, Z, W float64
}

// IdentityQuat returns the no-rotation quaternion.
func IdentityQuat() Quat {
	return Quat{W: 1}
}

func (q Quat) Length() float64 {
	return math.Sqrt(q.X*q.X + q.Y*q.Y + q.Z*q.Z + q.W*q.W)
}

// Normalize returns the unit quaternion. A degenerate (near-zero) input
// collapses to identity rather than producing NaNs.
func (q Quat) Normalize() Quat {
	l := q.Length()
	if l < 1e-9 {
		return IdentityQuat()
	}
	inv := 1 / l
	return Quat{q.X * inv, q.Y * inv, q.Z * inv, q.W * inv}
}

func (q Quat) IsFinite() bool {
	return isFinite(q.X) && isFinite(q.Y) && isFinite(q.Z) && isFinite(q.W)
}

// LerpQuat interpolates componentwise between a and b and renormalizes.
// Not spherical interpolation; acceptable for the small per-tick deltas the
// interpolation buffer produces. Slerp is the known refinement for large
// rotation deltas.
func LerpQuat(a, b Quat, alpha float64) Quat {
	// Take the short way around when the quaternions sit in opposite
	// hemispheres.
	dot := a.X*b.X + a.Y*b.Y + a.Z*b.Z + a.W*b.W
	if dot < 0 {
		b = Quat{-b.X, -b.Y, -b.Z, -b.W}
	}
	return Quat{
		X: a.X + (b.X-a.X)*alpha,
		Y: a.Y + (b.Y-a.Y)*alpha,
		Z: a.Z + (b.Z-a.Z)*alpha,
		W: a.W + (b.W-a.W)*alpha,
	}.Normalize()
}
