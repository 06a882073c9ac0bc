package vision

import (
	"fmt"
	"image"
	"sync"

	"gocv.io/x/gocv"

	"gridwatch/internal/config"
	"gridwatch/internal/service/camera"
	"gridwatch/internal/service/grid"
)

const (
	// binaryMax is the value Threshold writes for changed pixels; a cell's
	// activity mass is its changed-pixel count times binaryMax.
	binaryMax = 255
)

// Analyzer marks grid cells active by differencing each frame against the
// previous one. It retains exactly one smoothed frame between calls.
type Analyzer struct {
	spec           grid.Spec
	minActivity    int
	pixelThreshold float32
	blurKernel     int

	previousMat gocv.Mat
	hasPrevious bool
	mutex       sync.Mutex
}

// NewAnalyzer creates an Analyzer with thresholds from config.
func NewAnalyzer(spec grid.Spec, config *config.Config) *Analyzer {
	return &Analyzer{
		spec:           spec,
		minActivity:    config.MinActivityThreshold,
		pixelThreshold: float32(config.PixelThreshold),
		blurKernel:     config.BlurKernel,
	}
}

// Analyze implements the control loop's analyzer for MatFrame frames.
func (a *Analyzer) Analyze(frame camera.Frame) (grid.Activity, error) {
	mf, ok := frame.(*MatFrame)
	if !ok {
		return nil, fmt.Errorf("unsupported frame type %T", frame)
	}
	return a.AnalyzeMat(mf.Mat)
}

// AnalyzeMat returns the activity grid for mat. The first frame, and the
// first frame after a resolution change, only become the reference and
// yield a nil grid.
func (a *Analyzer) AnalyzeMat(mat gocv.Mat) (grid.Activity, error) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	if mat.Empty() {
		return nil, fmt.Errorf("frame is empty")
	}

	blurred, err := a.smooth(mat)
	if err != nil {
		return nil, err
	}

	if !a.hasPrevious || a.previousMat.Rows() != blurred.Rows() || a.previousMat.Cols() != blurred.Cols() {
		a.replacePrevious(blurred)
		return nil, nil
	}

	diff := gocv.NewMat()
	defer diff.Close()
	if err := gocv.AbsDiff(a.previousMat, blurred, &diff); err != nil {
		blurred.Close()
		return nil, fmt.Errorf("failed to compute absolute difference: %v", err)
	}

	thresh := gocv.NewMat()
	defer thresh.Close()
	gocv.Threshold(diff, &thresh, a.pixelThreshold, binaryMax, gocv.ThresholdBinary)

	a.replacePrevious(blurred)

	activity := make(grid.Activity, a.spec.Cells())
	for index := range activity {
		rect := a.spec.CellRect(index, thresh.Cols(), thresh.Rows())
		activity[index] = a.cellMass(thresh, rect) > a.minActivity
	}
	return activity, nil
}

// smooth converts mat to a blurred single-channel image owned by the caller.
func (a *Analyzer) smooth(mat gocv.Mat) (gocv.Mat, error) {
	gray := gocv.NewMat()
	defer gray.Close()

	if mat.Channels() > 1 {
		if err := gocv.CvtColor(mat, &gray, gocv.ColorBGRToGray); err != nil {
			return gocv.Mat{}, fmt.Errorf("failed to convert image to grayscale: %v", err)
		}
	} else {
		mat.CopyTo(&gray)
	}

	blurred := gocv.NewMat()
	k := a.blurKernel
	if err := gocv.GaussianBlur(gray, &blurred, image.Pt(k, k), 0, 0, gocv.BorderDefault); err != nil {
		blurred.Close()
		return gocv.Mat{}, fmt.Errorf("failed to blur image: %v", err)
	}
	return blurred, nil
}

func (a *Analyzer) cellMass(thresh gocv.Mat, rect image.Rectangle) int {
	if rect.Empty() {
		return 0
	}
	region := thresh.Region(rect)
	defer region.Close()
	return gocv.CountNonZero(region) * binaryMax
}

func (a *Analyzer) replacePrevious(m gocv.Mat) {
	if a.hasPrevious {
		a.previousMat.Close()
	}
	a.previousMat = m
	a.hasPrevious = true
}

// Reset drops the reference frame so the next call starts over.
func (a *Analyzer) Reset() {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	if a.hasPrevious {
		a.previousMat.Close()
		a.hasPrevious = false
	}
}

// Close releases the reference frame.
func (a *Analyzer) Close() error {
	a.Reset()
	return nil
}
