package camera

import (
	"bytes"
)

// MaxJPEGSize bounds one reassembled image. A stream that never sends EOI
// is dropped once it grows past it.
const MaxJPEGSize = 1 << 20

var (
	jpegHeader = []byte{0xFF, 0xD8}
	jpegFooter = []byte{0xFF, 0xD9}
)

// JPEGAssembler rebuilds JPEG images that a camera pushes as a run of UDP
// packets: the first packet starts with the SOI marker, the last one ends
// with EOI.
type JPEGAssembler struct {
	buf     bytes.Buffer
	started bool
}

// Push adds one packet and returns a complete image when the packet
// closes one. Packets that arrive before any SOI marker are dropped, and so
// is an image that would exceed MaxJPEGSize.
func (a *JPEGAssembler) Push(packet []byte) ([]byte, bool) {
	if bytes.HasPrefix(packet, jpegHeader) {
		a.buf.Reset()
		a.started = true
	}
	if !a.started {
		return nil, false
	}
	if a.buf.Len()+len(packet) > MaxJPEGSize {
		a.buf.Reset()
		a.started = false
		return nil, false
	}
	a.buf.Write(packet)

	if !bytes.HasSuffix(packet, jpegFooter) {
		return nil, false
	}

	frame := make([]byte, a.buf.Len())
	copy(frame, a.buf.Bytes())
	a.buf.Reset()
	a.started = false
	return frame, true
}
