package script

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDirtySetMarkThenTake(t *testing.T) {
	d := NewDirtySet()
	d.Mark("chat")
	d.Mark("status")
	taken := d.Take()
	require.Equal(t, map[string]bool{"chat": true, "status": true}, taken)

	empty := d.Take()
	require.Empty(t, empty)
}

func TestDirtySetMarkManyIsUnion(t *testing.T) {
	d := NewDirtySet()
	d.Mark("a")
	d.MarkMany([]string{"a", "b", "c"})
	taken := d.Take()
	require.Equal(t, map[string]bool{"a": true, "b": true, "c": true}, taken)
}
