package tracking

import "image"

// Frame is one video frame handed to a Tracker.
type Frame interface {
	Size() image.Point
}

// FrameSource yields frames until it returns io.EOF.
type FrameSource interface {
	Read() (Frame, error)
}

// Tracker follows a region of interest from frame to frame.
type Tracker interface {
	Update(f Frame) Result
	Reinitialize(f Frame, roi image.Rectangle) error
}

// Result is the outcome of one tracker update: either a bounding box or lost.
type Result struct {
	Found bool
	Box   image.Rectangle
}

// Found returns a successful result for box.
func Found(box image.Rectangle) Result {
	return Result{Found: true, Box: box}
}

// Lost is the result of a failed update.
var Lost = Result{}

// Center returns the center of the tracked box.
func (r Result) Center() image.Point {
	return image.Pt(r.Box.Min.X+r.Box.Dx()/2, r.Box.Min.Y+r.Box.Dy()/2)
}

// Request is something the operator asked for while looking at the frames.
type Request int

const (
	RequestNone Request = iota
	RequestReacquire
	RequestToggleLock
	RequestQuit
)

// Display shows processed frames and lets the operator pick a region.
type Display interface {
	Show(f Frame, d Decision) Request
	SelectROI(f Frame) (image.Rectangle, error)
}

// FixedRegion is a headless Display: the target is always the given region
// and nothing is shown.
type FixedRegion image.Rectangle

// Show implements Display.
func (FixedRegion) Show(Frame, Decision) Request { return RequestNone }

// SelectROI implements Display. The region is clipped to the frame.
func (r FixedRegion) SelectROI(f Frame) (image.Rectangle, error) {
	size := f.Size()
	return image.Rectangle(r).Intersect(image.Rect(0, 0, size.X, size.Y)), nil
}
