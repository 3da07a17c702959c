package dissector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vuuvv/vdissect/core"
)

const coapPort = 5683

func cborSession(t *testing.T) *core.Session {
	s := newTestSession(t)
	require.NoError(t, s.Dispatcher().SetDecodeAs(core.UDPPort(coapPort), Cbor))
	return s
}

func TestCborHeuristic(t *testing.T) {
	s := newTestSession(t)
	root := s.Dispatch(udpFrame(1, 6000, 0x83, 0x01, 0x02, 0x03))
	assert.Empty(t, codes(root))

	tree := root.Find(Cbor)
	require.NotNil(t, tree)
	assert.Equal(t, "CBOR array(3)", tree.Rendered)
	items := tree.FindAll(Cbor + ".item")
	require.Len(t, items, 4)
	for i, item := range items[1:] {
		assert.Equal(t, core.KindUint, item.Kind)
		assert.Equal(t, uint64(i+1), item.Uint)
		assert.Equal(t, i+1, item.Offset)
	}

	// a text string is not a container, nothing claims it
	root = s.Dispatch(udpFrame(2, 6000, 0x62, 'h', 'i'))
	assert.Equal(t, "data", root.Children[0].Name)
}

func TestCborValues(t *testing.T) {
	s := cborSession(t)
	tests := []struct {
		name     string
		data     []byte
		rendered string
	}{
		{"indefinite array", []byte{0x9f, 0x01, 0x02, 0xff}, "CBOR array(2)"},
		{"map", []byte{0xa1, 0x61, 'k', 0x20}, "CBOR map(1)"},
		{"text", []byte{0x62, 'h', 'i'}, `CBOR "hi"`},
		{"bytes", []byte{0x42, 0xca, 0xfe}, "CBOR h'cafe'"},
		{"null", []byte{0xf6}, "CBOR null"},
		{"float", []byte{0xf9, 0x3e, 0x00}, "CBOR 1.5"},
		{"tag", []byte{0xc1, 0x01}, "CBOR tag(1)"},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := s.Dispatch(udpFrame(uint32(i+1), coapPort, tt.data...))
			assert.Empty(t, codes(root))
			assert.Equal(t, tt.rendered, root.Find(Cbor).Rendered)
		})
	}

	root := s.Dispatch(udpFrame(100, coapPort, 0x20))
	assert.Equal(t, int64(-1), root.Find(Cbor+".item").Int)
}

func TestCborPartial(t *testing.T) {
	s := cborSession(t)

	root := s.Dispatch(udpFrame(1, coapPort, 0x83, 0x01))
	segment := root.Find(Cbor + ".segment")
	require.NotNil(t, segment)
	assert.Nil(t, root.Find(Cbor))

	root = s.Dispatch(udpFrame(2, coapPort, 0x02, 0x03))
	assert.Equal(t, "CBOR array(3)", root.Find(Cbor).Rendered)
	in := root.Find(Cbor + ".reassembled_in")
	require.NotNil(t, in)
	assert.Equal(t, uint64(1), in.Uint)
	assert.Equal(t, "cbor message from frames 1, 2", in.Rendered)
}

func TestCborHeuristicContinuation(t *testing.T) {
	s := newTestSession(t)

	root := s.Dispatch(udpFrame(1, 6000, 0x83, 0x01))
	require.NotNil(t, root.Find(Cbor+".segment"))

	// 02 03 is no container, the open message still owns it
	root = s.Dispatch(udpFrame(2, 6000, 0x02, 0x03))
	assert.Nil(t, root.Find("data"))
	assert.Equal(t, "CBOR array(3)", root.Find(Cbor).Rendered)
	assert.Equal(t, uint64(1), root.Find(Cbor+".reassembled_in").Uint)
	assert.Empty(t, s.Flush())
}

func TestCborUnfinished(t *testing.T) {
	s := cborSession(t)
	s.Dispatch(udpFrame(1, coapPort, 0x82, 0x01))
	flushed := s.Flush()
	require.Len(t, flushed, 1)
	assert.Equal(t, []core.ErrorCode{core.CodeIncomplete}, codes(flushed[0]))
}

func TestCborEncodedItem(t *testing.T) {
	s := cborSession(t)
	root := s.Dispatch(udpFrame(1, coapPort, 0xd8, 0x18, 0x43, 0xa1, 0x01, 0x02))
	assert.Empty(t, codes(root))
	assert.Equal(t, "CBOR tag(24)", root.Find(Cbor).Rendered)

	encoded := root.Find(Cbor + ".encoded")
	require.NotNil(t, encoded)
	assert.Equal(t, "h'a10102'", encoded.Rendered)
	inner := encoded.Find(Cbor)
	require.NotNil(t, inner)
	assert.Equal(t, "CBOR map(1)", inner.Rendered)
}

func TestCborMalformed(t *testing.T) {
	out := decodeCbor(core.NewCursor([]byte{0x1c}), &core.Context{})
	assert.False(t, out.More)
	require.NotNil(t, out.Tree.Annotation)
	assert.Equal(t, core.CodeDecode, out.Tree.Annotation.Code)

	out = decodeCbor(core.NewCursor([]byte{0x82, 0x01}), &core.Context{Final: true})
	assert.False(t, out.More)
	assert.Equal(t, core.CodeDecode, out.Tree.Annotation.Code)

	out = decodeCbor(core.NewCursor([]byte{0x82, 0x01}), &core.Context{})
	assert.True(t, out.More)
}
