// Package geo grounds 2D detections in 3D space. All world coordinates use
// the simulator's NED convention: X north (forward), Y east (right), Z down
// (negative Z is altitude above the spawn point). Orientation is a unit
// quaternion in (w, x, y, z) order; rotation composition uses the rotation
// matrix derived from that quaternion and nothing else.
package geo

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrInvalidDepth is returned when a depth sample is zero, negative,
	// NaN or infinite.
	ErrInvalidDepth = errors.New("geo: invalid depth")

	// ErrInvalidIntrinsics is returned when the camera intrinsics are
	// missing or carry a zero focal length.
	ErrInvalidIntrinsics = errors.New("geo: invalid intrinsics")

	// ErrPixelOutOfBounds is returned when the pixel lies outside the
	// image the intrinsics describe.
	ErrPixelOutOfBounds = errors.New("geo: pixel out of bounds")

	// ErrBehindCamera is returned by WorldToPixel when the point does not
	// project onto the image plane.
	ErrBehindCamera = errors.New("geo: point behind camera")
)

// Intrinsics holds the pinhole camera parameters for one camera.
type Intrinsics struct {
	Fx     float64 `json:"fx"`
	Fy     float64 `json:"fy"`
	Cx     float64 `json:"cx"`
	Cy     float64 `json:"cy"`
	Width  int     `json:"width"`
	Height int     `json:"height"`
}

func (in Intrinsics) validate() error {
	if in.Fx == 0 || in.Fy == 0 {
		return ErrInvalidIntrinsics
	}
	return nil
}

// Quaternion is a unit rotation quaternion, scalar first.
type Quaternion struct {
	W float64 `json:"w"`
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Identity returns the no-rotation quaternion.
func Identity() Quaternion { return Quaternion{W: 1} }

// WorldPoint is a position in the world NED frame, in meters.
type WorldPoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Pose is a rigid-body pose in the world frame.
type Pose struct {
	Position    WorldPoint `json:"position"`
	Orientation Quaternion `json:"orientation"`
}

// RotationMatrix converts q to a 3x3 rotation matrix (body to world).
func (q Quaternion) RotationMatrix() [3][3]float64 {
	w, x, y, z := q.W, q.X, q.Y, q.Z
	return [3][3]float64{
		{1 - 2*(y*y+z*z), 2 * (x*y - z*w), 2 * (x*z + y*w)},
		{2 * (x*y + z*w), 1 - 2*(x*x+z*z), 2 * (y*z - x*w)},
		{2 * (x*z - y*w), 2 * (y*z + x*w), 1 - 2*(x*x+y*y)},
	}
}

// FromEuler builds a quaternion from roll, pitch, yaw in radians
// (Z-Y-X rotation order).
func FromEuler(roll, pitch, yaw float64) Quaternion {
	cy, sy := math.Cos(yaw*0.5), math.Sin(yaw*0.5)
	cp, sp := math.Cos(pitch*0.5), math.Sin(pitch*0.5)
	cr, sr := math.Cos(roll*0.5), math.Sin(roll*0.5)
	return Quaternion{
		W: cy*cp*cr + sy*sp*sr,
		X: cy*cp*sr - sy*sp*cr,
		Y: sy*cp*sr + cy*sp*cr,
		Z: sy*cp*cr - cy*sp*sr,
	}
}

// PixelToWorld back-projects a pixel with a known planar depth into the
// world NED frame. The camera is assumed front-mounted: camera +z looks
// along body +x, camera +x maps to body +y, camera +y to body +z.
//
// The returned point is only valid when err is nil; callers must not act on
// the zero value.
func PixelToWorld(px, py, depth float64, in Intrinsics, pose Pose) (WorldPoint, error) {
	if err := in.validate(); err != nil {
		return WorldPoint{}, err
	}
	if depth <= 0 || math.IsNaN(depth) || math.IsInf(depth, 0) {
		return WorldPoint{}, fmt.Errorf("%w: %v", ErrInvalidDepth, depth)
	}
	if in.Width > 0 && (px < 0 || px >= float64(in.Width)) ||
		in.Height > 0 && (py < 0 || py >= float64(in.Height)) {
		return WorldPoint{}, fmt.Errorf("%w: (%.1f, %.1f)", ErrPixelOutOfBounds, px, py)
	}

	// Camera-frame ray scaled by planar depth.
	xc := (px - in.Cx) / in.Fx * depth
	yc := (py - in.Cy) / in.Fy * depth
	zc := depth

	// Camera axes to body NED axes.
	body := WorldPoint{X: zc, Y: xc, Z: yc}

	r := pose.Orientation.RotationMatrix()
	return WorldPoint{
		X: r[0][0]*body.X + r[0][1]*body.Y + r[0][2]*body.Z + pose.Position.X,
		Y: r[1][0]*body.X + r[1][1]*body.Y + r[1][2]*body.Z + pose.Position.Y,
		Z: r[2][0]*body.X + r[2][1]*body.Y + r[2][2]*body.Z + pose.Position.Z,
	}, nil
}

// WorldToPixel is the forward camera model: it projects a world point back
// into pixel coordinates and recovers the planar depth at which it is seen.
func WorldToPixel(p WorldPoint, in Intrinsics, pose Pose) (px, py, depth float64, err error) {
	if err := in.validate(); err != nil {
		return 0, 0, 0, err
	}
	dx := p.X - pose.Position.X
	dy := p.Y - pose.Position.Y
	dz := p.Z - pose.Position.Z

	// World to body: multiply by the transposed rotation matrix.
	r := pose.Orientation.RotationMatrix()
	bx := r[0][0]*dx + r[1][0]*dy + r[2][0]*dz
	by := r[0][1]*dx + r[1][1]*dy + r[2][1]*dz
	bz := r[0][2]*dx + r[1][2]*dy + r[2][2]*dz

	// Body back to camera axes: depth is the forward component.
	if bx <= 0 {
		return 0, 0, 0, ErrBehindCamera
	}
	px = in.Cx + in.Fx*by/bx
	py = in.Cy + in.Fy*bz/bx
	return px, py, bx, nil
}
