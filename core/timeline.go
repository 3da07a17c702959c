package core

import (
	"golang.org/x/exp/slices"
)

type timelineEntry[T any] struct {
	frame uint32
	value T
}

// timeline is a list of values ordered by the frame they became valid in.
type timeline[T any] struct {
	entries []timelineEntry[T]
}

func (t *timeline[T]) search(frame uint32) (int, bool) {
	return slices.BinarySearchFunc(t.entries, frame, func(e timelineEntry[T], f uint32) int {
		switch {
		case e.frame < f:
			return -1
		case e.frame > f:
			return 1
		}
		return 0
	})
}

// put inserts value at frame, replacing any value already recorded there.
func (t *timeline[T]) put(frame uint32, value T) {
	i, found := t.search(frame)
	if found {
		t.entries[i].value = value
		return
	}
	t.entries = slices.Insert(t.entries, i, timelineEntry[T]{frame: frame, value: value})
}

// at returns the value with the greatest frame <= frame.
func (t *timeline[T]) at(frame uint32) (T, uint32, bool) {
	i, found := t.search(frame)
	if !found {
		i--
	}
	if i < 0 {
		var zero T
		return zero, 0, false
	}
	e := t.entries[i]
	return e.value, e.frame, true
}

func (t *timeline[T]) len() int {
	return len(t.entries)
}

func (t *timeline[T]) values() []T {
	res := make([]T, 0, len(t.entries))
	for _, e := range t.entries {
		res = append(res, e.value)
	}
	return res
}
