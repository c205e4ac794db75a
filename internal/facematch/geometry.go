package facematch

import "image"

// BBox is a face bounding box [x1, y1, x2, y2] in pixel coordinates.
type BBox []float64

// Valid reports whether the box has four coordinates and positive extent.
func (b BBox) Valid() bool {
	return len(b) == 4 && b[2] > b[0] && b[3] > b[1]
}

func (b BBox) Width() float64 {
	if !b.Valid() {
		return 0
	}
	return b[2] - b[0]
}

func (b BBox) Height() float64 {
	if !b.Valid() {
		return 0
	}
	return b[3] - b[1]
}

func (b BBox) Area() float64 {
	return b.Width() * b.Height()
}

// Scale multiplies every coordinate by f.
func (b BBox) Scale(f float64) BBox {
	if len(b) != 4 {
		return b
	}
	return BBox{b[0] * f, b[1] * f, b[2] * f, b[3] * f}
}

// Rect converts the box to an integer rectangle.
func (b BBox) Rect() image.Rectangle {
	if len(b) != 4 {
		return image.Rectangle{}
	}
	return image.Rect(int(b[0]), int(b[1]), int(b[2]), int(b[3]))
}

// Relative converts the box to [x1, y1, x2, y2] fractions of the image size.
func (b BBox) Relative(width, height int) BBox {
	if len(b) != 4 || width <= 0 || height <= 0 {
		return b
	}
	return BBox{
		b[0] / float64(width),
		b[1] / float64(height),
		b[2] / float64(width),
		b[3] / float64(height),
	}
}

// LargestFace returns the index of the face with the largest box area, or -1.
// Ties keep the earlier face.
func LargestFace(faces []Face) int {
	best := -1
	bestArea := 0.0
	for i, f := range faces {
		if a := f.Box.Area(); best < 0 || a > bestArea {
			best = i
			bestArea = a
		}
	}
	return best
}
