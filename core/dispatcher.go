package core

import (
	"fmt"
	"strings"

	"github.com/vuuvv/errors"
	"go.uber.org/zap"

	"github.com/vuuvv/vdissect/log"
	"github.com/vuuvv/vdissect/utils"
)

const DefaultMaxDepth = 8

type DispatcherConfig struct {
	// MaxDepth bounds nested dispatches. The dissector selected for a frame
	// runs at depth 1.
	MaxDepth int
	DecodeAs map[Discriminator]string
}

// Dispatcher selects dissectors for frames and embedded payloads and runs
// them. It is owned by one Session and is not safe for concurrent use.
type Dispatcher struct {
	registry   *Registry
	maxDepth   int
	decodeAs   map[Discriminator]string
	reassembly *ReassemblyEngine
	metrics    *Metrics
}

func NewDispatcher(registry *Registry, cfg DispatcherConfig, reassembly *ReassemblyEngine, metrics *Metrics) *Dispatcher {
	d := &Dispatcher{
		registry:   registry,
		maxDepth:   cfg.MaxDepth,
		decodeAs:   make(map[Discriminator]string),
		reassembly: reassembly,
		metrics:    metrics,
	}
	if d.maxDepth <= 0 {
		d.maxDepth = DefaultMaxDepth
	}
	for disc, protocol := range cfg.DecodeAs {
		d.decodeAs[disc] = protocol
	}
	return d
}

func (d *Dispatcher) MaxDepth() int {
	return d.maxDepth
}

// SetDecodeAs remaps disc to protocol, taking precedence over exact claims and
// heuristics.
func (d *Dispatcher) SetDecodeAs(disc Discriminator, protocol string) error {
	if _, ok := d.registry.Dissector(protocol); !ok {
		return errors.Wrapf(ErrUnknownProtocol, "decode %s as %s", disc, protocol)
	}
	d.decodeAs[disc] = protocol
	return nil
}

func (d *Dispatcher) ClearDecodeAs(disc Discriminator) {
	delete(d.decodeAs, disc)
}

// resolve picks the dissector for disc: decode-as override, exact claim, then
// the most confident heuristic.
func (d *Dispatcher) resolve(ctx *Context, c *Cursor, disc Discriminator, data ContextData) (*Dissector, string) {
	if name, ok := d.decodeAs[disc]; ok {
		if ds, ok := d.registry.Dissector(name); ok {
			return ds, "decode-as"
		}
	}
	if ds, ok := d.registry.Exact(disc); ok {
		return ds, "exact"
	}

	var best *Heuristic
	bestScore := 0
	for _, h := range d.registry.Heuristics(disc.Table) {
		score := d.probe(h, c, ctx.child(h.Protocol, data))
		// 分数相同时保留先注册的
		if score > bestScore {
			best, bestScore = h, score
		}
	}
	if best == nil {
		return nil, ""
	}
	ds, _ := d.registry.Dissector(best.Protocol)
	return ds, "heuristic:" + best.Name
}

func (d *Dispatcher) probe(h *Heuristic, c *Cursor, ctx *Context) (score int) {
	defer utils.Catch(func(reason any) {
		score = 0
	})
	return h.Probe(c, ctx)
}

func (d *Dispatcher) limitExceeded(ctx *Context, c *Cursor, target string) *Field {
	ctx.Logger().Warn("recursion limit reached",
		zap.String("target", target), zap.Int("max_depth", d.maxDepth))
	f := BytesField(target, c, 0, c.Len())
	return f.Annotatef(SeverityError, CodeRecursionLimit, "nesting depth %d exceeds limit %d, %s not decoded", ctx.Depth+1, d.maxDepth, target)
}

// site says where a payload came from. table is the discriminator table for
// Dispatch and empty for Call; stream marks bytes that continue in later
// frames, the only ones a desegmenting dissector may hold back.
type site struct {
	table  string
	stream bool
}

func (d *Dispatcher) dispatch(ctx *Context, c *Cursor, disc Discriminator, data ContextData, stream bool) *Field {
	if ctx.Depth+1 > d.maxDepth {
		return d.limitExceeded(ctx, c, "payload")
	}
	at := site{table: disc.Table, stream: stream}
	ds, how := d.pending(ctx, at)
	if ds == nil {
		ds, how = d.resolve(ctx, c, disc, data)
	}
	debug := log.Enabled(zap.DebugLevel)
	if ds == nil {
		if debug {
			ctx.Logger().Debug("no dissector", zap.Stringer("discriminator", disc))
		}
		return BytesField("data", c, 0, c.Len())
	}
	if debug {
		ctx.Logger().Debug("dispatch", zap.String("target", ds.Name), zap.String("by", how))
	}
	return d.run(ctx, ds, c, data, at)
}

// pending returns the dissector owning a message still open at this site.
// It is consulted before any selection rule.
func (d *Dispatcher) pending(ctx *Context, at site) (*Dissector, string) {
	if !at.stream || ctx.Frame == nil {
		return nil, ""
	}
	p := d.reassembly.Waiting(ctx.Frame.Flow, ctx.Frame.Direction, at.table, ctx.Depth+1, ctx.FrameNumber())
	if p == nil {
		return nil, ""
	}
	ds, ok := d.registry.Dissector(p.Key.Protocol)
	if !ok {
		return nil, ""
	}
	return ds, fmt.Sprintf("pending:%d", p.Anchor)
}

func (d *Dispatcher) call(ctx *Context, protocol string, c *Cursor, data ContextData, stream bool) *Field {
	if ctx.Depth+1 > d.maxDepth {
		return d.limitExceeded(ctx, c, protocol)
	}
	ds, ok := d.registry.Dissector(protocol)
	if !ok {
		f := BytesField("data", c, 0, c.Len())
		return f.Annotatef(SeverityWarn, CodeUnknownDiscriminator, "no dissector named %s", protocol)
	}
	return d.run(ctx, ds, c, data, site{stream: stream})
}

func (d *Dispatcher) run(ctx *Context, ds *Dissector, c *Cursor, data ContextData, at site) *Field {
	child := ctx.child(ds.Name, data)
	d.metrics.dispatched(ds.Name)
	// 固定长度的载荷不做重组, 不完整就地报错
	if ds.Desegment && at.stream && child.Frame != nil {
		return d.desegment(child, ds, c, at.table)
	}
	return d.single(child, ds, c, d.decode(child, ds, c))
}

// decode runs the dissector, turning a panic into an Error-annotated leaf.
func (d *Dispatcher) decode(ctx *Context, ds *Dissector, c *Cursor) (out Outcome) {
	defer utils.Catch(func(reason any) {
		f := BytesField(ds.Name, c, 0, c.Len())
		f.Annotate(SeverityError, CodePanic, (&PanicError{Reason: reason}).Error())
		out = Complete(f, c.Len())
	})
	return ds.Decode(c, ctx)
}

// single finishes a dissector that is not desegmented: an incomplete message
// is flagged where it is, trailing bytes are kept as a sibling leaf.
func (d *Dispatcher) single(ctx *Context, ds *Dissector, c *Cursor, out Outcome) *Field {
	if out.More {
		f := BytesField(ds.Name, c, 0, c.Len())
		if out.Expected > 0 {
			return f.Annotatef(SeverityError, CodeIncomplete, "%s message needs %d bytes, %d available", ds.Name, out.Expected, c.Len())
		}
		return f.Annotatef(SeverityError, CodeIncomplete, "%s message incomplete", ds.Name)
	}
	tree := out.Tree
	if tree == nil {
		tree = BytesField(ds.Name, c, 0, clamp(out.Consumed, 0, c.Len()))
	}
	if out.Consumed <= 0 || out.Consumed >= c.Len() {
		return tree
	}
	wrapper := NewComposite(ds.Name+".pdu", c.Origin(), c.Len())
	trailer := BytesField(ds.Name+".trailer", c, out.Consumed, c.Len()-out.Consumed)
	trailer.Annotatef(SeverityInfo, CodeNone, "%d bytes after the %s message", c.Len()-out.Consumed, ds.Name)
	return wrapper.Add(tree, trailer)
}

// desegment routes c through the reassembly engine. The returned field holds
// one child per message completed by this frame plus a segment leaf for bytes
// parked until later frames arrive.
func (d *Dispatcher) desegment(ctx *Context, ds *Dissector, c *Cursor, table string) *Field {
	key := ReassemblyKey{Flow: ctx.Frame.Flow, Direction: ctx.Frame.Direction, Site: table, Protocol: ds.Name, Depth: ctx.Depth}
	frame := ctx.FrameNumber()
	res := d.reassembly.Process(key, frame, c, func(mc *Cursor) Outcome {
		return d.decode(ctx, ds, mc)
	})

	wrapper := &Field{Kind: KindComposite, Name: ds.Name + ".pdus", Offset: c.Origin(), Length: UnknownLength}
	for _, msg := range res.Messages {
		tree := msg.Tree
		if tree == nil {
			tree = NewComposite(ds.Name, 0, 0)
		}
		wrapper.Add(tree)
		if msg.Reassembled() {
			wrapper.Add(reassembledField(ds.Name, msg))
		}
	}
	if p := res.Pending; p != nil {
		wrapper.Add(segmentField(ds.Name, p, frame, c))
	}
	return wrapper
}

func reassembledField(protocol string, msg *Message) *Field {
	frames := make([]string, 0, len(msg.Frames))
	for _, n := range msg.Frames {
		frames = append(frames, fmt.Sprint(n))
	}
	f := &Field{Kind: KindUint, Name: protocol + ".reassembled_in", Uint: uint64(msg.Anchor), Length: 0}
	f.Render(fmt.Sprintf("%s message from frames %s", protocol, strings.Join(frames, ", ")))
	return f.Annotatef(SeverityInfo, CodeNone, "reassembled %s message anchored at frame %d", protocol, msg.Anchor)
}

func segmentField(protocol string, p *PendingReassembly, frame uint32, c *Cursor) *Field {
	f := &Field{Kind: KindBytes, Name: protocol + ".segment", Offset: c.Origin() + c.Len()}
	for _, frag := range p.Fragments {
		if frag.Frame == frame {
			f.Offset, f.Length, f.Raw = frag.Offset, len(frag.Data), frag.Data
			break
		}
	}
	if p.Expected > 0 {
		return f.Annotatef(SeverityInfo, CodeNone, "segment of %s message from frame %d (%d of %d bytes)", protocol, p.Anchor, p.Size(), p.Expected)
	}
	return f.Annotatef(SeverityInfo, CodeNone, "segment of %s message from frame %d (%d bytes so far)", protocol, p.Anchor, p.Size())
}

// flush decodes every open reassembly one last time with Final set and
// abandons it. Each result is flagged incomplete.
func (d *Dispatcher) flush(session *Session, last uint32) []*Field {
	var res []*Field
	for _, p := range d.reassembly.OpenPending() {
		frame := &Frame{Number: last, Flow: p.Key.Flow, Direction: p.Key.Direction}
		ctx := &Context{Frame: frame, Depth: p.Key.Depth, Final: true, Protocol: p.Key.Protocol, session: session}
		c := p.Cursor()

		var tree *Field
		if ds, ok := d.registry.Dissector(p.Key.Protocol); ok {
			out := d.decode(ctx, ds, c)
			if !out.More && out.Tree != nil {
				tree = out.Tree
			}
		}
		if tree == nil {
			tree = BytesField(p.Key.Protocol, c, 0, c.Len())
		}
		tree.Annotatef(SeverityError, CodeIncomplete, "%s message from frame %d never completed (%d bytes)", p.Key.Protocol, p.Anchor, p.Size())
		d.reassembly.Abandon(p, last)

		root := NewRoot("reassembly")
		root.Render(fmt.Sprintf("Unfinished %s message, frames %v", p.Key.Protocol, framesOf(p.Fragments, p.Size())))
		res = append(res, root.Add(tree))
	}
	return res
}
