// Package video wraps OpenCV capture, writer and preview window for the
// demos that accept -video.
package video

import (
	"errors"
	"fmt"
	"image"
	"log/slog"
	"strconv"

	"github.com/schollz/progressbar/v3"
	"gocv.io/x/gocv"

	"github.com/Brownie44l1/model-gallery/internal/imageutil"
)

// ErrCaptureNotOpened is returned when a webcam or video file cannot be read.
var ErrCaptureNotOpened = errors.New("video source not opened")

// Capture reads frames from a webcam or a file.
type Capture struct {
	vc     *gocv.VideoCapture
	frame  gocv.Mat
	webcam bool
}

// Open opens source. A number selects that webcam, anything else is a path.
func Open(source string) (*Capture, error) {
	var device interface{} = source
	webcam := false
	if id, err := strconv.Atoi(source); err == nil {
		device = id
		webcam = true
	}
	vc, err := gocv.OpenVideoCapture(device)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", source, ErrCaptureNotOpened, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("%s: %w", source, ErrCaptureNotOpened)
	}
	slog.Debug("video opened", "source", source, "webcam", webcam)
	return &Capture{vc: vc, frame: gocv.NewMat(), webcam: webcam}, nil
}

// Read returns the next frame, or false at the end of the stream.
func (c *Capture) Read() (*image.RGBA, bool) {
	if ok := c.vc.Read(&c.frame); !ok || c.frame.Empty() {
		return nil, false
	}
	img, err := c.frame.ToImage()
	if err != nil {
		slog.Warn("failed to convert frame", "error", err)
		return nil, false
	}
	return imageutil.ToRGBA(img), true
}

// Size is the frame width and height.
func (c *Capture) Size() (int, int) {
	return int(c.vc.Get(gocv.VideoCaptureFrameWidth)), int(c.vc.Get(gocv.VideoCaptureFrameHeight))
}

// FPS falls back to 20 when the source does not report a rate.
func (c *Capture) FPS() float64 {
	if fps := c.vc.Get(gocv.VideoCaptureFPS); fps > 0 {
		return fps
	}
	return 20
}

// FrameCount is 0 for webcams and streams of unknown length.
func (c *Capture) FrameCount() int {
	if c.webcam {
		return 0
	}
	return max(int(c.vc.Get(gocv.VideoCaptureFrameCount)), 0)
}

func (c *Capture) Close() {
	c.frame.Close()
	c.vc.Close()
}

// Writer encodes frames as MJPEG.
type Writer struct {
	vw   *gocv.VideoWriter
	w, h int
}

// NewWriter creates path for w×h frames at fps.
func NewWriter(path string, w, h int, fps float64) (*Writer, error) {
	vw, err := gocv.VideoWriterFile(path, "MJPG", fps, w, h, true)
	if err != nil {
		return nil, fmt.Errorf("failed to create video writer %s: %w", path, err)
	}
	return &Writer{vw: vw, w: w, h: h}, nil
}

// Write appends img, resizing it when it does not match the writer size.
func (w *Writer) Write(img image.Image) error {
	if b := img.Bounds(); b.Dx() != w.w || b.Dy() != w.h {
		img = imageutil.Resize(img, w.w, w.h)
	}
	m, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return fmt.Errorf("failed to convert frame: %w", err)
	}
	defer m.Close()
	return w.vw.Write(m)
}

func (w *Writer) Close() error {
	return w.vw.Close()
}

// Preview shows frames in a window. A nil *Preview shows nothing.
type Preview struct {
	win *gocv.Window
}

func NewPreview(title string) *Preview {
	return &Preview{win: gocv.NewWindow(title)}
}

// Show displays img and reports false once 'q' is pressed or the window is
// closed.
func (p *Preview) Show(img image.Image) bool {
	if p == nil {
		return true
	}
	m, err := gocv.ImageToMatRGB(img)
	if err != nil {
		slog.Warn("failed to convert frame", "error", err)
		return true
	}
	defer m.Close()
	p.win.IMShow(m)
	key := p.win.WaitKey(1)
	return key != 'q' && p.win.IsOpen()
}

func (p *Preview) Close() {
	if p != nil {
		p.win.Close()
	}
}

// Frame transforms one captured frame into the frame to show and save.
type Frame func(frame *image.RGBA) (image.Image, error)

// Session bundles what a video run needs.
type Session struct {
	Capture *Capture
	Writer  *Writer
	Preview *Preview
}

// NewSession opens source and, when savepath is not empty, a writer of
// size w×h. Zero sizes take the capture's frame size. headless disables the
// preview window.
func NewSession(source, savepath string, w, h int, headless bool) (*Session, error) {
	c, err := Open(source)
	if err != nil {
		return nil, err
	}
	s := &Session{Capture: c}
	if savepath != "" {
		if w == 0 || h == 0 {
			w, h = c.Size()
		}
		s.Writer, err = NewWriter(savepath, w, h, c.FPS())
		if err != nil {
			c.Close()
			return nil, err
		}
	}
	if !headless {
		s.Preview = NewPreview("frame")
	}
	return s, nil
}

// Run feeds every frame through fn until the stream ends or the preview is
// dismissed.
func (s *Session) Run(fn Frame) error {
	var bar *progressbar.ProgressBar
	if n := s.Capture.FrameCount(); n > 0 {
		bar = progressbar.Default(int64(n), "frames")
		defer bar.Close()
	}
	for {
		frame, ok := s.Capture.Read()
		if !ok {
			return nil
		}
		out, err := fn(frame)
		if err != nil {
			return err
		}
		if !s.Preview.Show(out) {
			return nil
		}
		if s.Writer != nil {
			if err := s.Writer.Write(out); err != nil {
				return err
			}
		}
		if bar != nil {
			bar.Add(1)
		}
	}
}

func (s *Session) Close() {
	s.Preview.Close()
	if s.Writer != nil {
		if err := s.Writer.Close(); err != nil {
			slog.Warn("failed to close video writer", "error", err)
		}
	}
	s.Capture.Close()
}
