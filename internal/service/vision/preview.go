package vision

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"gridwatch/internal/service/camera"
	"gridwatch/internal/service/grid"
)

var (
	activeColor   = color.RGBA{255, 0, 0, 0}
	inactiveColor = color.RGBA{0, 255, 0, 0}
	personColor   = color.RGBA{255, 255, 0, 0}
)

// Preview shows frames with the grid overlay in a local window.
type Preview struct {
	window *gocv.Window
	spec   grid.Spec
}

// NewPreview opens a window titled title.
func NewPreview(title string, spec grid.Spec) *Preview {
	return &Preview{window: gocv.NewWindow(title), spec: spec}
}

// Show draws the overlay on a copy of frame and displays it. It returns
// true once the operator presses 'q'.
func (p *Preview) Show(frame camera.Frame, activity grid.Activity, presence bool, people []image.Rectangle) (bool, error) {
	mf, ok := frame.(*MatFrame)
	if !ok {
		return false, fmt.Errorf("unsupported frame type %T", frame)
	}

	mat := mf.Mat.Clone()
	defer mat.Close()

	w, h := mat.Cols(), mat.Rows()
	for index := 0; index < p.spec.Cells(); index++ {
		c := inactiveColor
		if activity.Active(index) || presence {
			c = activeColor
		}
		rect := p.spec.CellRect(index, w, h)
		if err := gocv.Rectangle(&mat, rect, c, 2); err != nil {
			return false, fmt.Errorf("failed to draw cell %d: %v", index, err)
		}
		id, _ := p.spec.DeviceID(index)
		label := fmt.Sprintf("%d", id)
		if err := gocv.PutText(&mat, label, image.Pt(rect.Min.X+8, rect.Min.Y+24), gocv.FontHersheySimplex, 0.7, c, 2); err != nil {
			return false, fmt.Errorf("failed to label cell %d: %v", index, err)
		}
	}

	for _, r := range people {
		if err := gocv.Rectangle(&mat, r, personColor, 2); err != nil {
			return false, fmt.Errorf("failed to draw person box: %v", err)
		}
	}
	if presence {
		if err := gocv.PutText(&mat, "PERSON", image.Pt(10, h-10), gocv.FontHersheySimplex, 0.7, personColor, 2); err != nil {
			return false, fmt.Errorf("failed to draw presence label: %v", err)
		}
	}

	p.window.IMShow(mat)
	return p.window.WaitKey(1) == 'q', nil
}

// Close destroys the window.
func (p *Preview) Close() error {
	return p.window.Close()
}
