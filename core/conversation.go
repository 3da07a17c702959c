package core

// Slot names one kind of per-conversation state and fixes its payload type,
// e.g. Slot[SerialMode]{"serial.bitmode"}.
type Slot[T any] struct {
	name string
}

func NewSlot[T any](name string) Slot[T] {
	return Slot[T]{name: name}
}

func (s Slot[T]) Name() string {
	return s.name
}

type ConversationKey struct {
	Flow FlowKey
	Slot string
}

// ConversationStore keeps, per key, every payload ever recorded together with
// the frame it became valid in. Lookups never see a payload recorded for a
// later frame than the one asked about.
type ConversationStore struct {
	records map[ConversationKey]*timeline[any]
}

func NewConversationStore() *ConversationStore {
	return &ConversationStore{records: make(map[ConversationKey]*timeline[any])}
}

func (s *ConversationStore) put(key ConversationKey, validFrom uint32, payload any) {
	tl, ok := s.records[key]
	if !ok {
		tl = &timeline[any]{}
		s.records[key] = tl
	}
	tl.put(validFrom, payload)
}

func (s *ConversationStore) get(key ConversationKey, frame uint32) (any, uint32, bool) {
	tl, ok := s.records[key]
	if !ok {
		return nil, 0, false
	}
	return tl.at(frame)
}

// Keys is the number of distinct keys with at least one record.
func (s *ConversationStore) Keys() int {
	return len(s.records)
}

// Records is the number of records kept for key.
func (s *ConversationStore) Records(key ConversationKey) int {
	if tl, ok := s.records[key]; ok {
		return tl.len()
	}
	return 0
}

func (s *ConversationStore) Reset() {
	s.records = make(map[ConversationKey]*timeline[any])
}

// Put records v for flow, valid from frame validFrom onwards. A second Put for
// the same frame replaces the first.
func Put[T any](s *ConversationStore, flow FlowKey, slot Slot[T], validFrom uint32, v T) {
	s.put(ConversationKey{Flow: flow, Slot: slot.name}, validFrom, v)
}

// GetAtOrBefore returns the most recent value recorded at or before frame.
func GetAtOrBefore[T any](s *ConversationStore, flow FlowKey, slot Slot[T], frame uint32) (T, bool) {
	v, _, ok := GetWithFrame(s, flow, slot, frame)
	return v, ok
}

// GetWithFrame is GetAtOrBefore that also reports the frame the value became
// valid in.
func GetWithFrame[T any](s *ConversationStore, flow FlowKey, slot Slot[T], frame uint32) (T, uint32, bool) {
	var zero T
	raw, from, ok := s.get(ConversationKey{Flow: flow, Slot: slot.name}, frame)
	if !ok {
		return zero, 0, false
	}
	v, ok := raw.(T)
	if !ok {
		return zero, 0, false
	}
	return v, from, true
}

// ConversationReader is the read-only face of a store handed to consumers.
type ConversationReader struct {
	store *ConversationStore
}

func (r ConversationReader) Keys() int {
	if r.store == nil {
		return 0
	}
	return r.store.Keys()
}

func Lookup[T any](r ConversationReader, flow FlowKey, slot Slot[T], frame uint32) (T, bool) {
	if r.store == nil {
		var zero T
		return zero, false
	}
	return GetAtOrBefore(r.store, flow, slot, frame)
}
