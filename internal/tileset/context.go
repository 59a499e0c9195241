package tileset

import "github.com/zhangxrk/cesium/internal/tile"

// buffer is a reusable stack/queue that remembers the longest it grew to
// during the current frame.
type buffer[T any] struct {
	items []T
	high  int
}

func (b *buffer[T]) push(v T) {
	b.items = append(b.items, v)
	if len(b.items) > b.high {
		b.high = len(b.items)
	}
}

func (b *buffer[T]) pop() T {
	n := len(b.items) - 1
	v := b.items[n]
	var zero T
	b.items[n] = zero
	b.items = b.items[:n]
	return v
}

func (b *buffer[T]) peek() T { return b.items[len(b.items)-1] }

func (b *buffer[T]) len() int { return len(b.items) }

func (b *buffer[T]) reset() {
	clear(b.items)
	b.items = b.items[:0]
}

// trim shrinks the backing array to this frame's high watermark.
func (b *buffer[T]) trim() {
	if cap(b.items) > b.high {
		items := make([]T, len(b.items), b.high)
		copy(items, b.items)
		b.items = items
	}
	b.high = len(b.items)
}

// ancestor is a selected replace tile waiting for its descendants to be
// selected first, with the selection stack length at the time it was pushed.
type ancestor struct {
	tile     *tile.Tile
	stackLen int
}

// TraversalContext holds the working storage of every traversal pass. It is
// reused from frame to frame so the render loop does not allocate.
type TraversalContext struct {
	baseStack         buffer[*tile.Tile]
	internalBaseStack buffer[*tile.Tile]
	internalSkipStack buffer[*tile.Tile]
	queue1            buffer[*tile.Tile]
	queue2            buffer[*tile.Tile]
	selectionStack    buffer[*tile.Tile]
	ancestorStack     buffer[ancestor]
}

func (tc *TraversalContext) trim() {
	tc.baseStack.trim()
	tc.internalBaseStack.trim()
	tc.internalSkipStack.trim()
	tc.queue1.trim()
	tc.queue2.trim()
	tc.selectionStack.trim()
	tc.ancestorStack.trim()
}
