package screen

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteAndDiffFullRepaint(t *testing.T) {
	b := NewBuffer(10, 3)
	b.Write(0, 0, "hi", defaultStyle)
	b.SetCursor(0, 2, true)

	frame := b.Snapshot()
	out := string(frame.Diff(nil))

	require.True(t, strings.Contains(out, "hi"))
	require.True(t, strings.Contains(out, "\x1b[1;1H"))
}

func TestDiffOnlyEmitsChangedCells(t *testing.T) {
	b := NewBuffer(10, 3)
	b.Write(0, 0, "hello", defaultStyle)
	prev := b.Snapshot()

	b.Write(0, 0, "hezzo", defaultStyle)
	next := b.Snapshot()

	out := string(next.Diff(prev))
	require.True(t, strings.Contains(out, "zz"))
	require.False(t, strings.Contains(out, "hello"))
}

func TestResizeForcesFullRepaint(t *testing.T) {
	b := NewBuffer(5, 2)
	b.Write(0, 0, "ab", defaultStyle)
	prev := b.Snapshot()

	b.Resize(5, 2)
	b.Write(0, 0, "ab", defaultStyle)
	next := b.Snapshot()

	out := next.Diff(prev)
	require.NotEmpty(t, out)
}

func TestClearResetsCells(t *testing.T) {
	b := NewBuffer(4, 1)
	b.Write(0, 0, "xy", defaultStyle)
	b.Clear()
	frame := b.Snapshot()
	for _, c := range frame.cells {
		require.Equal(t, ' ', c.r)
	}
}
