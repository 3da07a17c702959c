package core

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const (
	tableTest = "test"
	protoLP   = "lp"
)

var discLP = Discriminator{Table: tableTest, Value: 1}

// decodeLP is a length prefixed protocol: the first byte is the total message
// length, header included.
func decodeLP(c *Cursor, ctx *Context) Outcome {
	if c.Len() < 1 {
		return NeedMore(0, -1)
	}
	size, _ := c.ReadU8(0)
	if size == 0 {
		f := BytesField(protoLP, c, 0, c.Len())
		return Complete(f.Annotate(SeverityError, CodeLengthMismatch, "zero length"), c.Len())
	}
	if c.Len() < int(size) {
		return NeedMore(0, int(size))
	}
	tree := NewComposite("msg", c.Origin(), int(size))
	length, _ := UintField("msg.length", c, 0, 1, BigEndian)
	tree.Add(length, BytesField("msg.body", c, 1, int(size)-1))
	return Complete(tree, int(size))
}

func newTestRegistry(t *testing.T, dissectors ...*Dissector) *Registry {
	reg := NewRegistry()
	require.NoError(t, reg.RegisterFor(&Dissector{Name: protoLP, Desegment: true, Decode: decodeLP}, discLP))
	for _, d := range dissectors {
		require.NoError(t, reg.Register(d))
	}
	return reg
}

func testFrame(n uint32, disc Discriminator, data ...byte) *Frame {
	return &Frame{
		Number:        n,
		Flow:          BusFlow(1, 2, 1),
		Direction:     DirectionOut,
		Discriminator: disc,
		Data:          data,
	}
}

func codes(tree *Field) []ErrorCode {
	var res []ErrorCode
	for _, f := range tree.Annotations() {
		res = append(res, f.Annotation.Code)
	}
	return res
}
