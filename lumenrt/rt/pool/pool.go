package pool

// Handle indexes a Pool. The zero Handle is never issued, so it can mean "none".
type Handle uint32

const Invalid Handle = 0

// Pool is a vector backed arena. Consumers keep Handles, the owner keeps the Pool,
// and destruction happens for the whole pool at once. Remove frees a single slot for reuse.
type Pool[T any] struct {
	items []T
	dead  []bool
	free  []Handle
}

func New[T any](capacity int) *Pool[T] {
	return &Pool[T]{items: make([]T, 0, capacity)}
}

// Add stores v in the most recently freed slot, or in a new one.
func (p *Pool[T]) Add(v T) Handle {
	if n := len(p.free); n > 0 {
		h := p.free[n-1]
		p.free = p.free[:n-1]
		p.items[h-1] = v
		p.dead[h-1] = false
		return h
	}
	p.items = append(p.items, v)
	p.dead = append(p.dead, false)
	return Handle(len(p.items))
}

func (p *Pool[T]) Valid(h Handle) bool {
	return h != Invalid && int(h) <= len(p.items) && !p.dead[h-1]
}

// Remove frees h and returns what it held. Removing an invalid handle panics.
func (p *Pool[T]) Remove(h Handle) T {
	if !p.Valid(h) {
		panic("pool: invalid handle")
	}
	v := p.items[h-1]
	var zero T
	p.items[h-1] = zero
	p.dead[h-1] = true
	p.free = append(p.free, h)
	return v
}

// Get panics on a handle the pool never issued.
func (p *Pool[T]) Get(h Handle) T {
	if !p.Valid(h) {
		panic("pool: invalid handle")
	}
	return p.items[h-1]
}

// Ptr returns a pointer into the pool. It is invalidated by the next Add.
func (p *Pool[T]) Ptr(h Handle) *T {
	if !p.Valid(h) {
		panic("pool: invalid handle")
	}
	return &p.items[h-1]
}

func (p *Pool[T]) Set(h Handle, v T) {
	if !p.Valid(h) {
		panic("pool: invalid handle")
	}
	p.items[h-1] = v
}

// Len is the number of slots ever issued, freed ones included.
func (p *Pool[T]) Len() int {
	return len(p.items)
}

// Live is the number of slots holding a value.
func (p *Pool[T]) Live() int {
	return len(p.items) - len(p.free)
}

func (p *Pool[T]) Each(fn func(h Handle, v *T)) {
	for i := range p.items {
		if !p.dead[i] {
			fn(Handle(i+1), &p.items[i])
		}
	}
}

// Release calls fn for every live element (if fn is non-nil) and empties the pool.
// Handles issued before Release must not be used afterwards.
func (p *Pool[T]) Release(fn func(v T)) {
	if fn != nil {
		for i, v := range p.items {
			if !p.dead[i] {
				fn(v)
			}
		}
	}
	var zero T
	for i := range p.items {
		p.items[i] = zero
	}
	p.items = p.items[:0]
	p.dead = p.dead[:0]
	p.free = p.free[:0]
}
