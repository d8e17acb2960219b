//go:build gocv

// Package vision adapts OpenCV (through gocv) to the tracking package: a
// frame source reading an RTSP stream or a file, a KCF tracker and a debug
// window where the operator picks the target.
package vision

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"

	"gocv.io/x/gocv"
	"gocv.io/x/gocv/contrib"

	"joyptz/internal/tracking"
)

// Frame is a decoded video frame.
type Frame struct {
	Mat gocv.Mat
}

// Size implements tracking.Frame.
func (f *Frame) Size() image.Point {
	return image.Pt(f.Mat.Cols(), f.Mat.Rows())
}

func matOf(f tracking.Frame) (gocv.Mat, error) {
	vf, ok := f.(*Frame)
	if !ok {
		return gocv.Mat{}, fmt.Errorf("unsupported frame type %T", f)
	}
	return vf.Mat, nil
}

// Capture reads frames from a stream URL or file.
//
// A frame stays valid until the next Read; the previous one is released then.
type Capture struct {
	vc   *gocv.VideoCapture
	prev *Frame
}

// OpenCapture opens url, e.g. rtsp://camera/stream1.
func OpenCapture(url string) (*Capture, error) {
	vc, err := gocv.OpenVideoCapture(url)
	if err != nil {
		return nil, fmt.Errorf("open video %s: %w", url, err)
	}
	return &Capture{vc: vc}, nil
}

// Read implements tracking.FrameSource. It returns io.EOF at the end of
// the stream.
func (c *Capture) Read() (tracking.Frame, error) {
	if c.prev != nil {
		c.prev.Mat.Close()
		c.prev = nil
	}
	mat := gocv.NewMat()
	if ok := c.vc.Read(&mat); !ok || mat.Empty() {
		mat.Close()
		return nil, io.EOF
	}
	c.prev = &Frame{Mat: mat}
	return c.prev, nil
}

// Close releases the capture and the last frame.
func (c *Capture) Close() error {
	if c.prev != nil {
		c.prev.Mat.Close()
		c.prev = nil
	}
	return c.vc.Close()
}

// Tracker wraps an OpenCV KCF tracker. Reinitialize replaces the underlying
// tracker, since OpenCV trackers can only be initialised once.
type Tracker struct {
	tr     gocv.Tracker
	inited bool
}

// NewTracker creates an uninitialised tracker; Update reports lost until
// Reinitialize succeeds.
func NewTracker() *Tracker {
	return &Tracker{}
}

// Update implements tracking.Tracker.
func (t *Tracker) Update(f tracking.Frame) tracking.Result {
	if !t.inited {
		return tracking.Lost
	}
	mat, err := matOf(f)
	if err != nil {
		return tracking.Lost
	}
	box, ok := t.tr.Update(mat)
	if !ok || box.Empty() {
		return tracking.Lost
	}
	return tracking.Found(box)
}

// Reinitialize implements tracking.Tracker.
func (t *Tracker) Reinitialize(f tracking.Frame, roi image.Rectangle) error {
	mat, err := matOf(f)
	if err != nil {
		return err
	}
	if t.tr != nil {
		t.tr.Close()
	}
	kcf := contrib.NewTrackerKCF()
	t.tr = kcf
	t.inited = kcf.Init(mat, roi)
	if !t.inited {
		return errors.New("kcf tracker rejected the region")
	}
	return nil
}

// Close releases the OpenCV tracker.
func (t *Tracker) Close() error {
	if t.tr == nil {
		return nil
	}
	return t.tr.Close()
}

// Window keys.
const (
	keyEsc = 27
	keyQ   = 'q'
	keyR   = 'r'
	keyL   = 'l'
)

var (
	boxColor    = color.RGBA{R: 255, G: 0, B: 0, A: 0}
	centerColor = color.RGBA{R: 0, G: 255, B: 0, A: 0}
	lostColor   = color.RGBA{R: 0, G: 0, B: 255, A: 0}
)

// Window is a tracking.Display backed by an OpenCV highgui window.
type Window struct {
	w *gocv.Window
}

// NewWindow opens a window titled name.
func NewWindow(name string) *Window {
	return &Window{w: gocv.NewWindow(name)}
}

// Show draws the decision on the frame and polls the keyboard:
// r re-acquires, l toggles the lock, q or Esc quits.
func (w *Window) Show(f tracking.Frame, d tracking.Decision) tracking.Request {
	mat, err := matOf(f)
	if err != nil {
		return tracking.RequestNone
	}
	size := f.Size()
	center := image.Pt(size.X/2, size.Y/2)
	gocv.Circle(&mat, center, 4, centerColor, 2)

	if d.Found {
		gocv.Line(&mat, center, d.Target, boxColor, 2)
		gocv.Circle(&mat, d.Target, 6, boxColor, 2)
		label := fmt.Sprintf("closeness %.2f speed %.2f", d.Closeness, d.Speed)
		gocv.PutText(&mat, label, image.Pt(10, 30), gocv.FontHersheySimplex, 0.7, boxColor, 2)
	} else {
		gocv.PutText(&mat, "tracking failure detected", image.Pt(10, 30), gocv.FontHersheySimplex, 0.7, lostColor, 2)
	}

	w.w.IMShow(mat)
	switch w.w.WaitKey(1) {
	case keyEsc, keyQ:
		return tracking.RequestQuit
	case keyR:
		return tracking.RequestReacquire
	case keyL:
		return tracking.RequestToggleLock
	}
	return tracking.RequestNone
}

// SelectROI lets the operator drag a box around the target.
func (w *Window) SelectROI(f tracking.Frame) (image.Rectangle, error) {
	mat, err := matOf(f)
	if err != nil {
		return image.Rectangle{}, err
	}
	return w.w.SelectROI(mat), nil
}

// Close closes the window.
func (w *Window) Close() error {
	return w.w.Close()
}
