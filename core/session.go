package core

import (
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vuuvv/vdissect/log"
	"github.com/vuuvv/vdissect/utils"
)

const DefaultHistorySize = 32

type SessionOptions struct {
	Dispatcher  DispatcherConfig
	HistorySize int
	Metrics     *Metrics
}

// Decoded is the tree produced for one frame, kept in the session history.
type Decoded struct {
	Frame *Frame
	Tree  *Field
}

type SessionStats struct {
	Frames        int
	Rejected      int
	Annotated     int
	Conversations int
	Reassembly    ReassemblyStats
}

// Session owns every piece of state that lives for one capture: the
// conversation store, the reassembly engine and the dispatcher bound to them.
// Frames must be fed in strictly increasing frame number order from a single
// goroutine.
type Session struct {
	ID            uuid.UUID
	registry      *Registry
	options       SessionOptions
	dispatcher    *Dispatcher
	conversations *ConversationStore
	reassembly    *ReassemblyEngine
	metrics       *Metrics
	history       *utils.Ring[Decoded]
	stats         SessionStats
	lastFrame     uint32
	started       bool
	closed        bool
}

// NewSession freezes registry; no dissector can be added once frames flow.
func NewSession(registry *Registry, options SessionOptions) *Session {
	registry.Freeze()
	if options.HistorySize == 0 {
		options.HistorySize = DefaultHistorySize
	}
	s := &Session{
		ID:       uuid.New(),
		registry: registry,
		options:  options,
		metrics:  options.Metrics,
	}
	s.init()
	log.Debug("session created", zap.Stringer("session", s.ID))
	return s
}

func (s *Session) init() {
	s.conversations = NewConversationStore()
	s.reassembly = NewReassemblyEngine(s.metrics)
	s.dispatcher = NewDispatcher(s.registry, s.options.Dispatcher, s.reassembly, s.metrics)
	s.history = utils.NewRing[Decoded](s.options.HistorySize)
	s.stats = SessionStats{}
	s.lastFrame = 0
	s.started = false
}

func (s *Session) Dispatcher() *Dispatcher {
	return s.dispatcher
}

func (s *Session) Conversations() ConversationReader {
	return ConversationReader{store: s.conversations}
}

// Dispatch decodes one frame. It never fails: every problem is reported as an
// annotation in the returned tree.
func (s *Session) Dispatch(frame *Frame) *Field {
	root := NewRoot("frame")
	if frame == nil {
		s.reject("empty")
		return root.Annotate(SeverityError, CodeEmptyFrame, "nil frame")
	}
	root.Offset = 0
	root.Render(fmt.Sprintf("Frame %d: %d bytes, %s, %s", frame.Number, len(frame.Data), frame.Direction, frame.Flow))

	if s.closed {
		s.reject("closed")
		return root.Annotate(SeverityError, CodeOutOfOrder, "session closed")
	}
	if s.started && frame.Number <= s.lastFrame {
		s.reject("out_of_order")
		return root.Annotatef(SeverityError, CodeOutOfOrder, "frame %d after frame %d", frame.Number, s.lastFrame)
	}
	s.started = true
	s.lastFrame = frame.Number

	if len(frame.Data) == 0 {
		s.reject("empty")
		return s.remember(frame, root.Annotate(SeverityError, CodeEmptyFrame, "frame has no bytes"))
	}

	ctx := &Context{Frame: frame, Protocol: root.Name, session: s}
	root.Add(s.dispatcher.dispatch(ctx, frame.Cursor(), frame.Discriminator, nil, true))

	s.stats.Frames++
	if len(root.Annotations()) > 0 {
		s.stats.Annotated++
	}
	s.metrics.frame("decoded")
	s.metrics.annotations(root)
	return s.remember(frame, root)
}

func (s *Session) reject(result string) {
	s.stats.Rejected++
	s.metrics.frame(result)
}

func (s *Session) remember(frame *Frame, tree *Field) *Field {
	s.history.Add(Decoded{Frame: frame, Tree: tree})
	return tree
}

// Flush ends the capture: every message still waiting for bytes gets one
// best-effort decode and is returned flagged as incomplete.
func (s *Session) Flush() []*Field {
	trees := s.dispatcher.flush(s, s.lastFrame)
	for _, t := range trees {
		s.metrics.annotations(t)
	}
	return trees
}

// Reset drops all state so the same frames can be replayed from the start.
func (s *Session) Reset() {
	s.reassembly.Reset()
	s.init()
	s.closed = false
}

func (s *Session) Close() {
	if s.closed {
		return
	}
	s.reassembly.Reset()
	s.conversations.Reset()
	s.history.Clear()
	s.closed = true
	log.Debug("session closed", zap.Stringer("session", s.ID))
}

// History returns the most recent decoded frames, oldest first.
func (s *Session) History() []Decoded {
	return s.history.All()
}

func (s *Session) LastFrame() uint32 {
	return s.lastFrame
}

func (s *Session) Stats() SessionStats {
	st := s.stats
	st.Conversations = s.conversations.Keys()
	st.Reassembly = s.reassembly.Stats()
	return st
}
