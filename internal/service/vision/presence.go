package vision

import (
	"fmt"
	"image"
	"sync"

	"gocv.io/x/gocv"

	"gridwatch/internal/service/camera"
)

// HOGPresence detects people with OpenCV's default HOG+SVM people detector.
type HOGPresence struct {
	hog   gocv.HOGDescriptor
	mutex sync.Mutex
}

// NewHOGPresence loads the default people detector.
func NewHOGPresence() (*HOGPresence, error) {
	hog := gocv.NewHOGDescriptor()
	detector := gocv.HOGDefaultPeopleDetector()
	defer detector.Close()

	if err := hog.SetSVMDetector(detector); err != nil {
		hog.Close()
		return nil, fmt.Errorf("failed to set SVM detector: %v", err)
	}
	return &HOGPresence{hog: hog}, nil
}

// DetectPresence reports whether at least one person is visible and where.
func (p *HOGPresence) DetectPresence(frame camera.Frame) (bool, []image.Rectangle, error) {
	mf, ok := frame.(*MatFrame)
	if !ok {
		return false, nil, fmt.Errorf("unsupported frame type %T", frame)
	}

	p.mutex.Lock()
	defer p.mutex.Unlock()

	gray := gocv.NewMat()
	defer gray.Close()
	if mf.Mat.Channels() > 1 {
		if err := gocv.CvtColor(mf.Mat, &gray, gocv.ColorBGRToGray); err != nil {
			return false, nil, fmt.Errorf("failed to convert image to grayscale: %v", err)
		}
	} else {
		mf.Mat.CopyTo(&gray)
	}

	people := p.hog.DetectMultiScaleWithParams(gray, 0, image.Pt(8, 8), image.Pt(16, 16), 1.05, 2.0, false)
	return len(people) > 0, people, nil
}

// Close releases the descriptor.
func (p *HOGPresence) Close() error {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.hog.Close()
}
