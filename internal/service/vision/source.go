package vision

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"gridwatch/internal/logger"
	"gridwatch/internal/service/camera"
)

// MatFrame is a camera.Frame backed by an OpenCV matrix.
type MatFrame struct {
	Mat gocv.Mat
}

// Close releases the matrix.
func (f *MatFrame) Close() error {
	return f.Mat.Close()
}

// NewOpener picks the opener for a CAMERA_URL value: udp://host:port
// listens for pushed JPEG packets, anything else goes to VideoCapture.
func NewOpener(cameraURL string, readTimeout time.Duration, logger *logger.Logger) camera.Opener {
	if parsed, err := url.Parse(cameraURL); err == nil && parsed.Scheme == "udp" {
		return NewUDPOpener(parsed.Host, readTimeout, logger)
	}
	return NewVideoOpener(cameraURL)
}

// VideoOpener opens a gocv.VideoCapture on a device index, file or stream URL.
type VideoOpener struct {
	device string
}

// NewVideoOpener creates an opener for device.
func NewVideoOpener(device string) *VideoOpener {
	return &VideoOpener{device: device}
}

// Open implements camera.Opener.
func (o *VideoOpener) Open(ctx context.Context) (camera.Source, error) {
	var target interface{} = o.device
	if index, err := strconv.Atoi(o.device); err == nil {
		target = index
	}

	capture, err := gocv.OpenVideoCapture(target)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", o.device, err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return nil, fmt.Errorf("open %s: capture not opened", o.device)
	}
	return &videoSource{capture: capture}, nil
}

type videoSource struct {
	capture *gocv.VideoCapture
}

func (s *videoSource) Read() (camera.Frame, bool) {
	mat := gocv.NewMat()
	if ok := s.capture.Read(&mat); !ok || mat.Empty() {
		mat.Close()
		return nil, false
	}
	return &MatFrame{Mat: mat}, true
}

func (s *videoSource) Close() error {
	return s.capture.Close()
}

// UDPOpener listens for cameras that push JPEG frames over UDP, one image
// split across several packets.
type UDPOpener struct {
	address     string
	readTimeout time.Duration
	logger      *logger.Logger
}

// NewUDPOpener creates an opener listening on address (e.g. ":9000").
func NewUDPOpener(address string, readTimeout time.Duration, logger *logger.Logger) *UDPOpener {
	return &UDPOpener{address: address, readTimeout: readTimeout, logger: logger}
}

// Open implements camera.Opener.
func (o *UDPOpener) Open(ctx context.Context) (camera.Source, error) {
	addr, err := net.ResolveUDPAddr("udp", o.address)
	if err != nil {
		return nil, fmt.Errorf("resolve UDP address %s: %w", o.address, err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on UDP %s: %w", o.address, err)
	}
	o.logger.Info("UDP camera source listening on %s", conn.LocalAddr())

	s := &udpSource{
		conn:        conn,
		frames:      make(chan []byte, 1),
		done:        make(chan struct{}),
		readTimeout: o.readTimeout,
		logger:      o.logger,
	}
	go s.receive()
	return s, nil
}

type udpSource struct {
	conn        *net.UDPConn
	frames      chan []byte
	done        chan struct{}
	readTimeout time.Duration
	logger      *logger.Logger
	closeOnce   sync.Once
}

// receive reassembles packets into JPEG images and keeps only the newest one.
func (s *udpSource) receive() {
	buffer := make([]byte, 2048)
	var assembler camera.JPEGAssembler

	for {
		n, _, err := s.conn.ReadFromUDP(buffer)
		if err != nil {
			select {
			case <-s.done:
			default:
				s.logger.Error("Error reading UDP packet: %v", err)
				s.Close()
			}
			return
		}

		image, ok := assembler.Push(buffer[:n])
		if !ok {
			continue
		}
		select {
		case s.frames <- image:
		default:
			// Drop the stale frame in favour of the new one.
			select {
			case <-s.frames:
			default:
			}
			s.frames <- image
		}
	}
}

func (s *udpSource) Read() (camera.Frame, bool) {
	timer := time.NewTimer(s.readTimeout)
	defer timer.Stop()

	for {
		select {
		case data := <-s.frames:
			mat, err := gocv.IMDecode(data, gocv.IMReadColor)
			if err != nil {
				s.logger.Warning("Dropping undecodable UDP frame (%d bytes): %v", len(data), err)
				continue
			}
			if mat.Empty() {
				mat.Close()
				s.logger.Warning("Dropping empty UDP frame (%d bytes)", len(data))
				continue
			}
			return &MatFrame{Mat: mat}, true
		case <-s.done:
			return nil, false
		case <-timer.C:
			s.logger.Warning("No UDP frame within %v", s.readTimeout)
			return nil, false
		}
	}
}

func (s *udpSource) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.conn.Close()
	})
	return err
}
