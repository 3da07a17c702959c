package core

import (
	"go.uber.org/zap"

	"github.com/vuuvv/vdissect/log"
)

// ContextData is the closed set of typed payloads a dissector may hand to the
// sub-dissector it calls.
type ContextData interface {
	contextData()
}

// MpsseInfo accompanies serial payloads captured while an interface runs in
// MPSSE bitmode.
type MpsseInfo struct {
	Interface uint8
	Bitmode   uint8
	Direction Direction
}

// RequestData identifies the statistics PDU an embedded blob belongs to.
type RequestData struct {
	Sequence uint32
	PduType  uint8
}

// StreamInfo is passed by packetised elementary stream decoders to the
// payload they carry.
type StreamInfo struct {
	StreamID uint8
	Level    int
}

func (MpsseInfo) contextData()   {}
func (RequestData) contextData() {}
func (StreamInfo) contextData()  {}

// Context travels with every decode call. It is created per dispatch level,
// so Depth and Data describe the caller of the running dissector.
type Context struct {
	Frame    *Frame
	Depth    int
	Final    bool
	Protocol string
	Data     ContextData
	session  *Session
}

func (ctx *Context) FrameNumber() uint32 {
	if ctx.Frame == nil {
		return 0
	}
	return ctx.Frame.Number
}

// Flow is the direction independent conversation key of the current frame.
func (ctx *Context) Flow() FlowKey {
	if ctx.Frame == nil {
		return FlowKey{}
	}
	return ctx.Frame.Flow.Canonical()
}

func (ctx *Context) Conversations() *ConversationStore {
	return ctx.session.conversations
}

func (ctx *Context) Logger() *zap.Logger {
	return log.Decode(ctx.FrameNumber(), ctx.Protocol, ctx.Depth)
}

// Dispatch decodes an embedded payload with whatever dissector disc selects.
// The payload is complete as given: a message cut short inside it is reported
// as incomplete, never joined with bytes from another frame.
func (ctx *Context) Dispatch(c *Cursor, disc Discriminator, data ContextData) *Field {
	return ctx.session.dispatcher.dispatch(ctx, c, disc, data, false)
}

// DispatchStream is Dispatch for payloads that continue a byte stream from
// frame to frame, such as UART data. Desegmenting dissectors may keep the
// tail of c until later frames complete it.
func (ctx *Context) DispatchStream(c *Cursor, disc Discriminator, data ContextData) *Field {
	return ctx.session.dispatcher.dispatch(ctx, c, disc, data, true)
}

// Call decodes an embedded payload with a named dissector.
func (ctx *Context) Call(protocol string, c *Cursor, data ContextData) *Field {
	return ctx.session.dispatcher.call(ctx, protocol, c, data, false)
}

func (ctx *Context) CallStream(protocol string, c *Cursor, data ContextData) *Field {
	return ctx.session.dispatcher.call(ctx, protocol, c, data, true)
}

func (ctx *Context) child(protocol string, data ContextData) *Context {
	return &Context{
		Frame:    ctx.Frame,
		Depth:    ctx.Depth + 1,
		Final:    ctx.Final,
		Protocol: protocol,
		Data:     data,
		session:  ctx.session,
	}
}
