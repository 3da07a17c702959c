package utils

// Ring 定长环形缓冲区, 写满后覆盖最旧的元素. 非并发安全
type Ring[T any] struct {
	data  []T
	head  int
	count int
}

func NewRing[T any](size int) *Ring[T] {
	if size < 0 {
		size = 0
	}
	return &Ring[T]{data: make([]T, size)}
}

func (r *Ring[T]) Add(item T) {
	if len(r.data) == 0 {
		return
	}
	r.data[r.head] = item
	r.head = (r.head + 1) % len(r.data)
	if r.count < len(r.data) {
		r.count++
	}
}

// All 按写入顺序返回, 最旧的在前
func (r *Ring[T]) All() []T {
	res := make([]T, 0, r.count)
	start := r.head - r.count
	if start < 0 {
		start += len(r.data)
	}
	for i := 0; i < r.count; i++ {
		res = append(res, r.data[(start+i)%len(r.data)])
	}
	return res
}

func (r *Ring[T]) Len() int {
	return r.count
}

func (r *Ring[T]) Cap() int {
	return len(r.data)
}

func (r *Ring[T]) Clear() {
	var zero T
	for i := range r.data {
		r.data[i] = zero
	}
	r.head = 0
	r.count = 0
}
