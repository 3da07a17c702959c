package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWalker(t *testing.T) *TlvWalker {
	w, err := NewTlvWalker("t", TlvHeader{FlagsSize: 1, TypeSize: 1, LengthSize: 1, ExtendedLength: 0x80})
	require.NoError(t, err)
	w.Register(1, &TlvType{Name: "u16", Expect: 2, Decode: func(c *Cursor, ctx *Context, tlv *Field) error {
		f, err := UintField("t.u16.value", c, 0, 2, BigEndian)
		tlv.Add(f)
		return err
	}})
	w.Register(2, &TlvType{Name: "boom", Decode: func(c *Cursor, ctx *Context, tlv *Field) error {
		panic("boom")
	}})
	w.Register(3, &TlvType{Name: "raw"})
	return w
}

func TestTlvHeaderValidate(t *testing.T) {
	_, err := NewTlvWalker("t", TlvHeader{TypeSize: 3, LengthSize: 1})
	assert.ErrorContains(t, err, "type size 3")
	_, err = NewTlvWalker("t", TlvHeader{FlagsSize: 3, TypeSize: 1, LengthSize: 1})
	assert.ErrorContains(t, err, "flags size 3")
	_, err = NewTlvWalker("t", TlvHeader{TypeSize: 1})
	assert.ErrorContains(t, err, "length size 0")
}

func TestTlvWalk(t *testing.T) {
	w := newTestWalker(t)
	c := NewCursor([]byte{
		0x00, 0x01, 0x02, 0x12, 0x34, // u16
		0x80, 0x03, 0x00, 0x02, 0xaa, 0xbb, // raw, two byte length
	})
	block, n := w.Walk(c, c.Len(), nil)
	assert.Equal(t, 11, n)
	require.Len(t, block.Children, 2)
	assert.Empty(t, block.Annotations())

	u16 := block.Children[0]
	assert.Equal(t, "t.u16", u16.Name)
	assert.Equal(t, 0, u16.Offset)
	assert.Equal(t, 5, u16.Length)
	assert.Equal(t, uint64(0x1234), u16.Find("t.u16.value").Uint)
	assert.Equal(t, 3, u16.Find("t.u16.value").Offset)
	assert.Equal(t, uint64(2), u16.Find("t.length").Uint)

	raw := block.Children[1]
	assert.Equal(t, "t.raw", raw.Name)
	assert.Equal(t, 5, raw.Offset)
	assert.Equal(t, 6, raw.Length)
	assert.Equal(t, 2, raw.Find("t.length").Length)
	assert.Equal(t, []byte{0xaa, 0xbb}, raw.Find("t.value").Raw)
}

func TestTlvWalkMismatchContinues(t *testing.T) {
	w := newTestWalker(t)
	c := NewCursor([]byte{0x00, 0x01, 0x01, 0xaa, 0x00, 0x09, 0x01, 0xcc})
	block, n := w.Walk(c, c.Len(), nil)
	assert.Equal(t, 8, n)
	require.Len(t, block.Children, 2)

	bad := block.Children[0]
	require.NotNil(t, bad.Annotation)
	assert.Equal(t, CodeLengthMismatch, bad.Annotation.Code)
	assert.Equal(t, SeverityError, bad.Annotation.Severity)

	unknown := block.Children[1]
	assert.Equal(t, "t.type_9", unknown.Name)
	assert.Equal(t, "Unknown type 9", unknown.Rendered)
	assert.Nil(t, unknown.Annotation)
}

func TestTlvWalkOverrun(t *testing.T) {
	w := newTestWalker(t)
	c := NewCursor([]byte{0x00, 0x03, 0x05, 0xaa, 0xff, 0xff})
	block, n := w.Walk(c, 4, nil)
	assert.Equal(t, 4, n)
	require.Len(t, block.Children, 1)

	tf := block.Children[0]
	assert.Equal(t, 4, tf.Length)
	assert.Equal(t, CodeOverrun, tf.Annotation.Code)
	assert.Equal(t, []byte{0xaa}, tf.Find("t.value").Raw)
}

func TestTlvWalkPanicAndTruncatedHeader(t *testing.T) {
	w := newTestWalker(t)
	c := NewCursor([]byte{0x00, 0x02, 0x00, 0x00})
	block, n := w.Walk(c, c.Len(), nil)
	assert.Equal(t, 4, n)
	require.Len(t, block.Children, 2)
	assert.Equal(t, CodePanic, block.Children[0].Annotation.Code)
	assert.Equal(t, SeverityError, block.Children[0].Annotation.Severity)
	assert.Equal(t, "decoder panic: boom", block.Children[0].Annotation.Message)

	truncated := block.Children[1]
	assert.Equal(t, "t.truncated", truncated.Name)
	assert.Equal(t, CodeOverrun, truncated.Annotation.Code)
	assert.Equal(t, 3, truncated.Offset)
}

func TestTlvWalkContinuesAfterPanic(t *testing.T) {
	w := newTestWalker(t)
	c := NewCursor([]byte{
		0x00, 0x02, 0x01, 0xee, // boom
		0x00, 0x02, 0x00, // boom again
		0x00, 0x01, 0x02, 0x00, 0x07, // u16
	})
	block, n := w.Walk(c, c.Len(), nil)
	assert.Equal(t, c.Len(), n)
	require.Len(t, block.Children, 3)
	assert.Equal(t, []ErrorCode{CodePanic, CodePanic}, codes(block))
	assert.Equal(t, uint64(7), block.Children[2].Find("t.u16.value").Uint)
}

func TestTlvWalkOversizeBlock(t *testing.T) {
	w := newTestWalker(t)
	c := NewCursorAt([]byte{0x00, 0x03, 0x00}, 20)
	block, n := w.Walk(c, 10, nil)
	assert.Equal(t, 3, n)
	assert.Equal(t, 3, block.Length)
	assert.Equal(t, 20, block.Offset)
	assert.Equal(t, CodeBounds, block.Annotation.Code)
	require.Len(t, block.Children, 1)
	assert.Equal(t, 20, block.Children[0].Offset)
}
