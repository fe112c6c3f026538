package geo

import (
	"errors"
	"math"
	"testing"
)

var testIntrinsics = Intrinsics{
	Fx: 320, Fy: 320, Cx: 320, Cy: 240,
	Width: 640, Height: 480,
}

func TestPixelToWorldRoundTrip(t *testing.T) {
	poses := []Pose{
		{Position: WorldPoint{}, Orientation: Identity()},
		{Position: WorldPoint{X: 12.5, Y: -3.2, Z: -30}, Orientation: Identity()},
		{Position: WorldPoint{X: 5, Y: 5, Z: -20}, Orientation: FromEuler(0, 0, math.Pi/3)},
		{Position: WorldPoint{X: -7, Y: 40, Z: -15}, Orientation: FromEuler(0.1, -0.2, 2.4)},
	}
	pixels := []struct{ px, py, depth float64 }{
		{320, 240, 10},
		{100, 50, 4.5},
		{610.5, 470.25, 87},
		{0, 0, 1},
	}

	for _, pose := range poses {
		for _, in := range pixels {
			wp, err := PixelToWorld(in.px, in.py, in.depth, testIntrinsics, pose)
			if err != nil {
				t.Fatalf("PixelToWorld(%v): %v", in, err)
			}
			px, py, depth, err := WorldToPixel(wp, testIntrinsics, pose)
			if err != nil {
				t.Fatalf("WorldToPixel(%v): %v", wp, err)
			}
			if math.Abs(px-in.px) > 1e-6 || math.Abs(py-in.py) > 1e-6 {
				t.Errorf("round trip pixel = (%v, %v), want (%v, %v)", px, py, in.px, in.py)
			}
			if math.Abs(depth-in.depth) > 1e-6 {
				t.Errorf("round trip depth = %v, want %v", depth, in.depth)
			}
		}
	}
}

func TestPixelToWorldDeterministic(t *testing.T) {
	pose := Pose{Position: WorldPoint{X: 1, Y: 2, Z: -25}, Orientation: FromEuler(0, 0.3, 1.1)}
	a, err := PixelToWorld(200, 300, 42, testIntrinsics, pose)
	if err != nil {
		t.Fatal(err)
	}
	b, err := PixelToWorld(200, 300, 42, testIntrinsics, pose)
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Errorf("repeated transform differs: %v vs %v", a, b)
	}
}

func TestPixelToWorldIdentityForward(t *testing.T) {
	// At identity orientation the principal point maps straight ahead (+X north).
	wp, err := PixelToWorld(320, 240, 10, testIntrinsics, Pose{Orientation: Identity()})
	if err != nil {
		t.Fatal(err)
	}
	want := WorldPoint{X: 10}
	if math.Abs(wp.X-want.X) > 1e-9 || math.Abs(wp.Y) > 1e-9 || math.Abs(wp.Z) > 1e-9 {
		t.Errorf("got %v, want %v", wp, want)
	}
}

func TestPixelToWorldErrors(t *testing.T) {
	pose := Pose{Orientation: Identity()}
	tests := []struct {
		name    string
		px, py  float64
		depth   float64
		in      Intrinsics
		wantErr error
	}{
		{"zero depth", 320, 240, 0, testIntrinsics, ErrInvalidDepth},
		{"negative depth", 320, 240, -4, testIntrinsics, ErrInvalidDepth},
		{"nan depth", 320, 240, math.NaN(), testIntrinsics, ErrInvalidDepth},
		{"inf depth", 320, 240, math.Inf(1), testIntrinsics, ErrInvalidDepth},
		{"missing intrinsics", 320, 240, 10, Intrinsics{}, ErrInvalidIntrinsics},
		{"pixel out of bounds", 900, 240, 10, testIntrinsics, ErrPixelOutOfBounds},
		{"negative pixel", -1, 240, 10, testIntrinsics, ErrPixelOutOfBounds},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := PixelToWorld(tt.px, tt.py, tt.depth, tt.in, pose)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("got %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestWorldToPixelBehindCamera(t *testing.T) {
	pose := Pose{Orientation: Identity()}
	if _, _, _, err := WorldToPixel(WorldPoint{X: -5}, testIntrinsics, pose); !errors.Is(err, ErrBehindCamera) {
		t.Errorf("got %v, want ErrBehindCamera", err)
	}
}

func TestGPSRoundTrip(t *testing.T) {
	home := GeoPoint{Latitude: 47.6418, Longitude: -122.14, AltitudeMeters: 100}
	p := WorldPoint{X: 150, Y: -80, Z: -30}
	back := NEDFromGPS(home, GPSFromNED(home, p))
	if math.Abs(back.X-p.X) > 1e-6 || math.Abs(back.Y-p.Y) > 1e-6 || math.Abs(back.Z-p.Z) > 1e-6 {
		t.Errorf("got %v, want %v", back, p)
	}
}
