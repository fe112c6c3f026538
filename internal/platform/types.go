package platform

import "github.com/nidhogg/aerosight/internal/geo"

// VehicleState is one pose reading from the flight platform.
type VehicleState struct {
	Pose   geo.Pose     `json:"pose"`
	GPS    geo.GeoPoint `json:"gps"`
	Landed bool         `json:"landed"`
}

// AltitudeMeters returns height above the spawn point (NED Z is down).
func (s VehicleState) AltitudeMeters() float64 {
	return -s.Pose.Position.Z
}

// CameraFrame bundles one synchronized RGB + depth capture with the camera
// intrinsics and the vehicle pose at capture time. Frames are transient:
// consumed by perception and discarded.
type CameraFrame struct {
	RGB        []byte         `json:"rgb"` // raw RGB8, row-major
	Depth      []float32      `json:"depth"`
	Width      int            `json:"width"`
	Height     int            `json:"height"`
	Intrinsics geo.Intrinsics `json:"intrinsics"`
	Pose       geo.Pose       `json:"pose"`
}

// DepthAt returns the planar depth sample at a pixel, or -1 when the pixel
// or the depth buffer is out of range.
func (f *CameraFrame) DepthAt(x, y int) float64 {
	if x < 0 || y < 0 || x >= f.Width || y >= f.Height {
		return -1
	}
	idx := y*f.Width + x
	if idx >= len(f.Depth) {
		return -1
	}
	return float64(f.Depth[idx])
}
