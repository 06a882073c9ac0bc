// Package grid maps frame cells to device ids.
//
// Cells are numbered row-major, index = row*cols + col, and device id
// index+1 drives cell index.
package grid

import (
	"fmt"
	"image"
)

// Spec is the fixed rows x cols partition of a frame.
type Spec struct {
	Rows int
	Cols int
}

// NewSpec returns a Spec or an error if either dimension is not positive.
func NewSpec(rows, cols int) (Spec, error) {
	if rows < 1 || cols < 1 {
		return Spec{}, fmt.Errorf("grid must be at least 1x1, got %dx%d", rows, cols)
	}
	return Spec{Rows: rows, Cols: cols}, nil
}

// Cells returns rows*cols.
func (s Spec) Cells() int {
	return s.Rows * s.Cols
}

// ValidDevice reports whether id addresses a cell of this grid.
func (s Spec) ValidDevice(id int) bool {
	return id >= 1 && id <= s.Cells()
}

// CellIndex returns the cell driven by device id.
func (s Spec) CellIndex(id int) (int, bool) {
	if !s.ValidDevice(id) {
		return 0, false
	}
	return id - 1, true
}

// DeviceID returns the device driving cell index.
func (s Spec) DeviceID(index int) (int, bool) {
	if index < 0 || index >= s.Cells() {
		return 0, false
	}
	return index + 1, true
}

// Position returns the zero-based row and column of device id.
func (s Spec) Position(id int) (row, col int, ok bool) {
	index, ok := s.CellIndex(id)
	if !ok {
		return 0, 0, false
	}
	return index / s.Cols, index % s.Cols, true
}

// CellRect returns the pixel rectangle of cell index in a width x height
// frame. Cell size is width/cols by height/rows; the remainder pixels on
// the right and bottom edges belong to no cell.
func (s Spec) CellRect(index, width, height int) image.Rectangle {
	cellWidth := width / s.Cols
	cellHeight := height / s.Rows
	row, col := index/s.Cols, index%s.Cols

	x1 := col * cellWidth
	y1 := row * cellHeight
	return image.Rect(x1, y1, x1+cellWidth, y1+cellHeight)
}

// Activity holds one "active this tick" flag per cell. A nil Activity means
// no decision was possible yet, which is different from all cells idle.
type Activity []bool

// Defined reports whether the grid carries a decision.
func (a Activity) Defined() bool {
	return a != nil
}

// Active reports whether cell index is active; out-of-range cells are not.
func (a Activity) Active(index int) bool {
	return index >= 0 && index < len(a) && a[index]
}

// Count returns the number of active cells.
func (a Activity) Count() int {
	n := 0
	for _, active := range a {
		if active {
			n++
		}
	}
	return n
}
