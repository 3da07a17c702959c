package core

import (
	"cmp"

	"golang.org/x/exp/slices"
)

// ReassemblyKey scopes desegmentation: one byte stream per flow, direction,
// dispatch site, protocol and nesting depth, so a protocol carried inside
// itself keeps its own stream. Site is the discriminator table the payload
// was dispatched through, empty for payloads handed to a named dissector.
type ReassemblyKey struct {
	Flow      FlowKey
	Direction Direction
	Site      string
	Protocol  string
	Depth     int
}

// Fragment is a run of bytes taken from one frame. Offset is where the run
// starts in that frame's coordinates.
type Fragment struct {
	Frame  uint32
	Offset int
	Data   []byte
}

// PendingReassembly is one message being accumulated. Anchor, the frame the
// message started in, doubles as its message id.
type PendingReassembly struct {
	Key          ReassemblyKey
	Anchor       uint32
	Fragments    []Fragment
	Expected     int
	ClosingFrame *uint32
}

func (p *PendingReassembly) Size() int {
	n := 0
	for _, f := range p.Fragments {
		n += len(f.Data)
	}
	return n
}

func (p *PendingReassembly) Closed() bool {
	return p.ClosingFrame != nil
}

func (p *PendingReassembly) openAt(frame uint32) bool {
	return p.ClosingFrame == nil || *p.ClosingFrame > frame
}

func (p *PendingReassembly) Cursor() *Cursor {
	return fragmentsCursor(p.Fragments)
}

func fragmentsCursor(frags []Fragment) *Cursor {
	parts := make([]*Cursor, 0, len(frags))
	for _, f := range frags {
		parts = append(parts, NewCursor(f.Data))
	}
	return Composite(parts...)
}

// dropPrefix removes the first n bytes from frags.
func dropPrefix(frags []Fragment, n int) []Fragment {
	res := make([]Fragment, 0, len(frags))
	for _, f := range frags {
		if n >= len(f.Data) {
			n -= len(f.Data)
			continue
		}
		if n > 0 {
			f = Fragment{Frame: f.Frame, Offset: f.Offset + n, Data: f.Data[n:]}
			n = 0
		}
		res = append(res, f)
	}
	return res
}

// framesOf lists, without duplicates, the frames contributing to the first n
// bytes of frags.
func framesOf(frags []Fragment, n int) []uint32 {
	var res []uint32
	for _, f := range frags {
		if n <= 0 {
			break
		}
		if len(res) == 0 || res[len(res)-1] != f.Frame {
			res = append(res, f.Frame)
		}
		n -= len(f.Data)
	}
	return res
}

// Message is one complete protocol message produced by the engine. Its tree is
// in message-local coordinates; Start says where byte 0 came from.
type Message struct {
	Tree   *Field
	Anchor uint32
	Frames []uint32
	Start  Fragment
}

// Reassembled reports whether the message spans more than one frame.
func (m *Message) Reassembled() bool {
	return len(m.Frames) > 1
}

type ReassemblyResult struct {
	Messages []*Message
	// Pending is the reassembly still waiting after this frame, if any.
	Pending *PendingReassembly
}

type ReassemblyStats struct {
	Opened    int
	Completed int
	Abandoned int
}

// ReassemblyEngine tracks Idle -> Accumulating -> Closed per key. Every
// reassembly ever opened is kept on a per-key timeline ordered by anchor
// frame, so "what was pending when frame N arrived" has one answer.
type ReassemblyEngine struct {
	streams map[ReassemblyKey]*timeline[*PendingReassembly]
	metrics *Metrics
	stats   ReassemblyStats
}

func NewReassemblyEngine(metrics *Metrics) *ReassemblyEngine {
	return &ReassemblyEngine{
		streams: make(map[ReassemblyKey]*timeline[*PendingReassembly]),
		metrics: metrics,
	}
}

// PendingAt returns the reassembly open for key when frame arrives.
func (e *ReassemblyEngine) PendingAt(key ReassemblyKey, frame uint32) *PendingReassembly {
	tl, ok := e.streams[key]
	if !ok {
		return nil
	}
	p, _, ok := tl.at(frame)
	if !ok || !p.openAt(frame) {
		return nil
	}
	return p
}

// Waiting returns the reassembly open when frame arrives at a dispatch site,
// whatever protocol owns it. Continuation bytes belong to that protocol even
// when they would not be selected for it on their own.
func (e *ReassemblyEngine) Waiting(flow FlowKey, direction Direction, site string, depth int, frame uint32) *PendingReassembly {
	var res *PendingReassembly
	for key := range e.streams {
		if key.Flow != flow || key.Direction != direction || key.Site != site || key.Depth != depth {
			continue
		}
		p := e.PendingAt(key, frame)
		if p == nil {
			continue
		}
		if res == nil || p.Anchor < res.Anchor || (p.Anchor == res.Anchor && p.Key.Protocol < res.Key.Protocol) {
			res = p
		}
	}
	return res
}

// History returns every reassembly opened for key, oldest first.
func (e *ReassemblyEngine) History(key ReassemblyKey) []*PendingReassembly {
	tl, ok := e.streams[key]
	if !ok {
		return nil
	}
	return tl.values()
}

func (e *ReassemblyEngine) Stats() ReassemblyStats {
	return e.stats
}

func (e *ReassemblyEngine) open(key ReassemblyKey, frame uint32) *PendingReassembly {
	tl, ok := e.streams[key]
	if !ok {
		tl = &timeline[*PendingReassembly]{}
		e.streams[key] = tl
	}
	p := &PendingReassembly{Key: key, Anchor: frame, Expected: -1}
	tl.put(frame, p)
	e.stats.Opened++
	e.metrics.reassembly("opened", 1)
	return p
}

func (e *ReassemblyEngine) close(p *PendingReassembly, frame uint32, abandoned bool) {
	closing := frame
	p.ClosingFrame = &closing
	if abandoned {
		e.stats.Abandoned++
		e.metrics.reassembly("abandoned", -1)
		return
	}
	e.stats.Completed++
	e.metrics.reassembly("completed", -1)
}

// Process feeds the bytes of c, taken from frame, into the stream for key.
// decode is called on the accumulated message from its first byte each time;
// complete messages are returned, a trailing partial message is parked.
func (e *ReassemblyEngine) Process(key ReassemblyKey, frame uint32, c *Cursor, decode func(*Cursor) Outcome) *ReassemblyResult {
	res := &ReassemblyResult{}
	p := e.PendingAt(key, frame)
	current := Fragment{Frame: frame, Offset: c.Origin(), Data: c.Bytes()}

	var frags []Fragment
	if p != nil {
		frags = append(frags, p.Fragments...)
	} else if c.Len() == 0 {
		return res
	}
	if len(current.Data) > 0 {
		frags = append(frags, current)
	}

	for {
		input := fragmentsCursor(frags)
		out := decode(input)

		if out.More {
			frags = dropPrefix(frags, clamp(out.Consumed, 0, input.Len()))
			if p == nil {
				p = e.open(key, frame)
			}
			p.Fragments = frags
			p.Expected = out.Expected
			res.Pending = p
			return res
		}

		consumed := out.Consumed
		if consumed <= 0 || consumed > input.Len() {
			consumed = input.Len()
		}
		msg := &Message{Tree: out.Tree, Anchor: frame, Frames: framesOf(frags, consumed)}
		if len(frags) > 0 {
			msg.Start = Fragment{Frame: frags[0].Frame, Offset: frags[0].Offset}
		}
		if p != nil {
			msg.Anchor = p.Anchor
			e.close(p, frame, false)
			p = nil
		}
		res.Messages = append(res.Messages, msg)

		frags = dropPrefix(frags, consumed)
		if len(frags) == 0 {
			return res
		}
	}
}

// OpenPending lists every reassembly still accumulating, ordered by anchor
// frame and then key.
func (e *ReassemblyEngine) OpenPending() []*PendingReassembly {
	var res []*PendingReassembly
	for _, tl := range e.streams {
		for _, p := range tl.values() {
			if !p.Closed() {
				res = append(res, p)
			}
		}
	}
	slices.SortFunc(res, func(a, b *PendingReassembly) int {
		if a.Anchor != b.Anchor {
			return cmp.Compare(a.Anchor, b.Anchor)
		}
		ka, kb := a.Key, b.Key
		if ka.Site != kb.Site {
			return cmp.Compare(ka.Site, kb.Site)
		}
		if ka.Protocol != kb.Protocol {
			return cmp.Compare(ka.Protocol, kb.Protocol)
		}
		if ka.Depth != kb.Depth {
			return cmp.Compare(ka.Depth, kb.Depth)
		}
		if ka.Direction != kb.Direction {
			return cmp.Compare(ka.Direction, kb.Direction)
		}
		return cmp.Compare(ka.Flow.String(), kb.Flow.String())
	})
	return res
}

// Abandon closes p without a complete message; used when the session ends.
func (e *ReassemblyEngine) Abandon(p *PendingReassembly, frame uint32) {
	if p.Closed() {
		return
	}
	e.close(p, frame, true)
}

func (e *ReassemblyEngine) Reset() {
	for _, tl := range e.streams {
		for _, p := range tl.values() {
			if !p.Closed() {
				e.metrics.reassembly("abandoned", -1)
			}
		}
	}
	e.streams = make(map[ReassemblyKey]*timeline[*PendingReassembly])
	e.stats = ReassemblyStats{}
}
