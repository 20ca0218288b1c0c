// Package screen implements the full-screen terminal buffer that room
// scripts draw into from on_tick (spec §4.6, §6). The script never writes
// bytes directly; it calls write/clear/set_cursor_pos against a cell grid,
// and the buffer diffs successive frames into the minimal ANSI/VT100
// sequence that reaches the wire.
package screen

import (
	"fmt"
	"strings"
)

// Style carries the SGR attributes of a single cell (spec §6's "colors
// (SGR)" requirement).
type Style struct {
	FG, BG     int // 0 means default/unset; otherwise a 256-color SGR index
	Bold       bool
	Underline  bool
	Reverse    bool
}

var defaultStyle = Style{}

type cell struct {
	r     rune
	style Style
}

// Buffer is a fixed-size grid of cells plus cursor state. It is not safe
// for concurrent use; the session orchestrator only ever touches it from
// inside a single on_tick call, which the script host already serializes
// via its own mutex.
type Buffer struct {
	width, height int
	cells         []cell

	cursorRow, cursorCol int
	cursorVisible        bool
}

// NewBuffer allocates a cleared buffer sized to a terminal's columns and
// rows.
func NewBuffer(cols, rows int) *Buffer {
	b := &Buffer{width: cols, height: rows, cursorVisible: true}
	b.cells = make([]cell, cols*rows)
	b.Clear()
	return b
}

// Resize reallocates the grid, discarding prior content; a resized buffer
// always forces a full repaint on its next diff.
func (b *Buffer) Resize(cols, rows int) {
	b.width, b.height = cols, rows
	b.cells = make([]cell, cols*rows)
	b.Clear()
}

func (b *Buffer) Width() int  { return b.width }
func (b *Buffer) Height() int { return b.height }

// Clear resets every cell to a blank space in the default style.
func (b *Buffer) Clear() {
	for i := range b.cells {
		b.cells[i] = cell{r: ' ', style: defaultStyle}
	}
}

func (b *Buffer) index(row, col int) (int, bool) {
	if row < 0 || row >= b.height || col < 0 || col >= b.width {
		return 0, false
	}
	return row*b.width + col, true
}

// Write paints text starting at (row, col), clipping at the right edge.
// row/col are 0-indexed from the script's perspective; terminal escape
// sequences are 1-indexed, a translation ToANSI/diff handles internally.
func (b *Buffer) Write(row, col int, text string, style Style) {
	c := col
	for _, r := range text {
		idx, ok := b.index(row, c)
		if !ok {
			return
		}
		b.cells[idx] = cell{r: r, style: style}
		c++
	}
}

// SetCursor positions the hardware cursor (spec §4.3's "Cursor" contract);
// visible controls whether it is shown at all.
func (b *Buffer) SetCursor(row, col int, visible bool) {
	b.cursorRow, b.cursorCol = row, col
	b.cursorVisible = visible
}

// Frame is an immutable snapshot of a Buffer, suitable for diffing against
// a later frame without the producer holding a lock across the diff.
type Frame struct {
	width, height         int
	cells                 []cell
	cursorRow, cursorCol  int
	cursorVisible         bool
}

// Snapshot copies the buffer's current state into a Frame.
func (b *Buffer) Snapshot() *Frame {
	cells := make([]cell, len(b.cells))
	copy(cells, b.cells)
	return &Frame{
		width: b.width, height: b.height,
		cells:         cells,
		cursorRow:     b.cursorRow,
		cursorCol:     b.cursorCol,
		cursorVisible: b.cursorVisible,
	}
}

// InitSequence enters the alternate screen, clears it, and hides the
// cursor (spec §6's "full-screen mode" shell-open sequence).
func InitSequence() []byte {
	return []byte("\x1b[?1049h\x1b[2J\x1b[H\x1b[?25l")
}

// RestoreSequence leaves the alternate screen and shows the cursor (spec
// §6's shell-close restoration).
func RestoreSequence() []byte {
	return []byte("\x1b[?25h\x1b[?1049l")
}

// sgr renders the minimal SGR escape for a cell style transition.
func sgr(s Style) string {
	if s == defaultStyle {
		return "\x1b[0m"
	}
	parts := []string{"0"}
	if s.Bold {
		parts = append(parts, "1")
	}
	if s.Underline {
		parts = append(parts, "4")
	}
	if s.Reverse {
		parts = append(parts, "7")
	}
	if s.FG > 0 {
		parts = append(parts, fmt.Sprintf("38;5;%d", s.FG))
	}
	if s.BG > 0 {
		parts = append(parts, fmt.Sprintf("48;5;%d", s.BG))
	}
	return "\x1b[" + strings.Join(parts, ";") + "m"
}

// Diff renders the minimal ANSI byte sequence to turn prev (nil for a full
// repaint) into this frame: cursor-positioned runs of changed cells,
// grouped per row, followed by the new cursor position/visibility.
func (f *Frame) Diff(prev *Frame) []byte {
	var out strings.Builder
	full := prev == nil || prev.width != f.width || prev.height != f.height

	curStyle := Style{FG: -1} // force an initial SGR emission
	atRow, atCol := -1, -1

	for row := 0; row < f.height; row++ {
		for col := 0; col < f.width; col++ {
			idx := row*f.width + col
			c := f.cells[idx]
			if !full && prev.cells[idx] == c {
				continue
			}
			if atRow != row || atCol != col {
				fmt.Fprintf(&out, "\x1b[%d;%dH", row+1, col+1)
				atRow, atCol = row, col
			}
			if curStyle != c.style {
				out.WriteString(sgr(c.style))
				curStyle = c.style
			}
			out.WriteRune(c.r)
			atCol++
		}
	}

	if f.cursorVisible {
		fmt.Fprintf(&out, "\x1b[%d;%dH\x1b[?25h", f.cursorRow+1, f.cursorCol+1)
	} else {
		out.WriteString("\x1b[?25l")
	}

	return []byte(out.String())
}
