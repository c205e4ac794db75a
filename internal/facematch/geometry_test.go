package facematch

import (
	"image"
	"testing"
)

func TestBBox_Dimensions(t *testing.T) {
	tests := []struct {
		name         string
		box          BBox
		wantW, wantH float64
	}{
		{"regular", BBox{10, 20, 110, 220}, 100, 200},
		{"inverted", BBox{110, 20, 10, 220}, 0, 0},
		{"degenerate", BBox{10, 10, 10, 10}, 0, 0},
		{"short", BBox{1, 2, 3}, 0, 0},
		{"nil", nil, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.box.Width(); got != tt.wantW {
				t.Errorf("Width() = %f, want %f", got, tt.wantW)
			}
			if got := tt.box.Height(); got != tt.wantH {
				t.Errorf("Height() = %f, want %f", got, tt.wantH)
			}
			if got := tt.box.Area(); got != tt.wantW*tt.wantH {
				t.Errorf("Area() = %f, want %f", got, tt.wantW*tt.wantH)
			}
		})
	}
}

func TestBBox_Relative(t *testing.T) {
	got := BBox{100, 50, 300, 150}.Relative(1000, 500)
	want := BBox{0.1, 0.1, 0.3, 0.3}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Relative()[%d] = %f, want %f", i, got[i], want[i])
		}
	}

	zero := BBox{1, 2, 3, 4}.Relative(0, 100)
	if zero[0] != 1 {
		t.Error("expected unchanged box for zero width")
	}
}

func TestBBox_ScaleAndRect(t *testing.T) {
	b := BBox{10, 20, 30, 40}.Scale(0.5)
	if b.Rect() != image.Rect(5, 10, 15, 20) {
		t.Errorf("unexpected rect %v", b.Rect())
	}
}

func TestLargestFace(t *testing.T) {
	faces := []Face{
		{Box: BBox{0, 0, 10, 10}},
		{Box: BBox{0, 0, 30, 30}},
		{Box: BBox{50, 50, 80, 80}},
	}
	if got := LargestFace(faces); got != 1 {
		t.Errorf("LargestFace = %d, want 1", got)
	}
	if got := LargestFace(nil); got != -1 {
		t.Errorf("LargestFace(nil) = %d, want -1", got)
	}
}
