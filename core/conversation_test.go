package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConversationNoFutureLeakage(t *testing.T) {
	s := NewConversationStore()
	flow := BusFlow(1, 2, 1)
	slot := NewSlot[int]("test.mode")

	Put(s, flow, slot, 9, 20)
	Put(s, flow, slot, 5, 10)

	_, ok := GetAtOrBefore(s, flow, slot, 4)
	assert.False(t, ok)

	for frame, want := range map[uint32]int{5: 10, 8: 10, 9: 20, 100: 20} {
		v, ok := GetAtOrBefore(s, flow, slot, frame)
		assert.True(t, ok)
		assert.Equal(t, want, v, "frame %d", frame)
	}

	v, from, ok := GetWithFrame(s, flow, slot, 7)
	assert.True(t, ok)
	assert.Equal(t, 10, v)
	assert.Equal(t, uint32(5), from)
}

func TestConversationReplaceSameFrame(t *testing.T) {
	s := NewConversationStore()
	flow := BusFlow(1, 2, 1)
	slot := NewSlot[string]("test.name")

	Put(s, flow, slot, 3, "a")
	Put(s, flow, slot, 3, "b")
	assert.Equal(t, 1, s.Records(ConversationKey{Flow: flow, Slot: slot.Name()}))
	v, _ := GetAtOrBefore(s, flow, slot, 3)
	assert.Equal(t, "b", v)
}

func TestConversationKeys(t *testing.T) {
	s := NewConversationStore()
	flow := BusFlow(1, 2, 1)
	Put(s, flow, NewSlot[int]("x"), 1, 1)

	_, ok := GetAtOrBefore(s, flow, NewSlot[string]("x"), 1)
	assert.False(t, ok, "payload type is part of the slot")

	_, ok = GetAtOrBefore(s, BusFlow(1, 3, 1), NewSlot[int]("x"), 1)
	assert.False(t, ok)

	assert.Equal(t, 1, s.Keys())
	s.Reset()
	assert.Equal(t, 0, s.Keys())
}

func TestConversationReader(t *testing.T) {
	slot := NewSlot[int]("x")
	flow := BusFlow(1, 2, 1)

	var zero ConversationReader
	assert.Equal(t, 0, zero.Keys())
	_, ok := Lookup(zero, flow, slot, 1)
	assert.False(t, ok)

	s := NewConversationStore()
	Put(s, flow, slot, 2, 7)
	r := ConversationReader{store: s}
	assert.Equal(t, 1, r.Keys())
	v, ok := Lookup(r, flow, slot, 2)
	assert.True(t, ok)
	assert.Equal(t, 7, v)
}
