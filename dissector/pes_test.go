package dissector

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vuuvv/vdissect/core"
)

func pesFrame(n uint32, data ...byte) *core.Frame {
	f := udpFrame(n, 1234, data...)
	f.Discriminator = core.HeuristicOnly(TablePESPayload)
	return f
}

// padding wraps payload in a stream 0xbe packet, which has no optional header.
func padding(payload []byte) []byte {
	pkt := []byte{0x00, 0x00, 0x01, 0xbe}
	pkt = binary.BigEndian.AppendUint16(pkt, uint16(len(payload)))
	return append(pkt, payload...)
}

func TestPESTimestamp(t *testing.T) {
	s := newTestSession(t)
	pkt := []byte{
		0x00, 0x00, 0x01, 0xe0, 0x00, 0x0a,
		0x80, 0x80, 0x05,
		0x21, 0x00, 0x05, 0xbf, 0x21, // PTS 90000
		0x01, 0x02,
	}
	root := s.Dispatch(pesFrame(1, pkt...))
	assert.Empty(t, codes(root))
	pes := root.Find(PES)
	require.NotNil(t, pes)
	assert.Equal(t, "Stream 0xe0, 16 bytes", pes.Rendered)
	assert.Equal(t, "PTS only", pes.Find("pes.flags.pts_dts").Rendered)
	assert.Equal(t, "90000 (1.000000 s)", pes.Find("pes.pts").Rendered)
	assert.Equal(t, []byte{0x01, 0x02}, pes.Find("data").Raw)
}

func TestPESNested(t *testing.T) {
	s := newTestSession(t)
	root := s.Dispatch(pesFrame(1, padding(padding([]byte{0x01, 0x02}))...))
	packets := root.FindAll(PES)
	require.Len(t, packets, 2)
	assert.Equal(t, 6, packets[1].Offset)
	assert.Equal(t, 8, packets[1].Length)
}

func TestPESRecursionLimit(t *testing.T) {
	pkt := []byte{0x01, 0x02}
	for i := 0; i < 10; i++ {
		pkt = padding(pkt)
	}
	s := newTestSession(t, core.SessionOptions{Dispatcher: core.DispatcherConfig{MaxDepth: 4}})
	root := s.Dispatch(pesFrame(1, pkt...))
	assert.Equal(t, []core.ErrorCode{core.CodeRecursionLimit}, codes(root))
	assert.Len(t, root.FindAll(PES), 4)
}

func TestPESMalformed(t *testing.T) {
	s := newTestSession(t)
	root := s.Dispatch(pesFrame(1, 0x00, 0x00, 0x01, 0xbe, 0x00, 0x10, 0x01))
	assert.Equal(t, []core.ErrorCode{core.CodeBounds}, codes(root))

	dec := core.NewCursor([]byte{0x00, 0x00, 0x02, 0xbe, 0x00, 0x00})
	out := decodePES(dec, &core.Context{})
	assert.Equal(t, core.CodeDecode, out.Tree.Find("pes.data").Annotation.Code)
}

func TestPESPayloadTruncatedStaysInFrame(t *testing.T) {
	s := newTestSession(t)

	root := s.Dispatch(pesFrame(1, padding([]byte{0x83, 0x01})...))
	cbor := root.Find(Cbor)
	require.NotNil(t, cbor)
	assert.Equal(t, core.CodeIncomplete, cbor.Annotation.Code)
	assert.Equal(t, 6, cbor.Offset)
	assert.Nil(t, root.Find(Cbor+".segment"))

	root = s.Dispatch(pesFrame(2, padding([]byte{0xa0})...))
	assert.Empty(t, codes(root))
	assert.Equal(t, "CBOR map(0)", root.Find(Cbor).Rendered)
	assert.Nil(t, root.Find(Cbor+".reassembled_in"))
	assert.Empty(t, s.Flush())
}
