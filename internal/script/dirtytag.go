package script

import "sync"

// DirtySet is the dirty-tag mechanism described in spec §4.3/§4.6:
// mark_dirty/mark_many are idempotent and non-blocking; the screen task
// calls Take to atomically swap out the set.
type DirtySet struct {
	mu     sync.Mutex
	tags   map[string]bool
	notify chan struct{}
}

// NewDirtySet constructs an empty dirty-tag set.
func NewDirtySet() *DirtySet {
	return &DirtySet{
		tags:   map[string]bool{},
		notify: make(chan struct{}, 1),
	}
}

// Mark sets a single tag.
func (d *DirtySet) Mark(tag string) {
	d.mu.Lock()
	d.tags[tag] = true
	d.mu.Unlock()
	d.wake()
}

// MarkMany is an atomic set union of tags.
func (d *DirtySet) MarkMany(tags []string) {
	d.mu.Lock()
	for _, t := range tags {
		d.tags[t] = true
	}
	d.mu.Unlock()
	d.wake()
}

func (d *DirtySet) wake() {
	select {
	case d.notify <- struct{}{}:
	default:
	}
}

// Wait blocks until a tag has been marked since the last Take, or the done
// channel closes.
func (d *DirtySet) Wait(done <-chan struct{}) {
	select {
	case <-d.notify:
	case <-done:
	}
}

// Take atomically swaps out the dirty set, returning the tags observed. A
// caller that fails to apply a repaint must not call Take again until it
// retries, so the dirty set stays intact (no rows lost).
func (d *DirtySet) Take() map[string]bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.tags) == 0 {
		return map[string]bool{}
	}
	taken := d.tags
	d.tags = map[string]bool{}
	return taken
}

// Peek returns a snapshot without clearing, for diagnostics.
func (d *DirtySet) Peek() map[string]bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]bool, len(d.tags))
	for k, v := range d.tags {
		out[k] = v
	}
	return out
}
