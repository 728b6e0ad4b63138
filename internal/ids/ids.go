package ids

import "sync/atomic"

// Generator hands out sequential minor numbers starting at a base.
type Generator struct {
	next uint64
}

func NewGenerator(base int) *Generator {
	return &Generator{next: uint64(base)}
}

func (g *Generator) NextMinor() int {
	return int(atomic.AddUint64(&g.next, 1) - 1)
}

// Peek returns the number the next call to NextMinor will hand out.
func (g *Generator) Peek() int {
	return int(atomic.LoadUint64(&g.next))
}
