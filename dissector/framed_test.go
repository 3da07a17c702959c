package dissector

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/vuuvv/vdissect/core"
	"github.com/vuuvv/vdissect/framing"
)

var framedYaml = `
- name: dev
  table: tcp.port
  value: 9000
  header: 2
  framing:
    type: binary
    header_marker: aa
    length_offset: 1
    length_size: 1
    length_adjustment: 4
    max_len: 64
    checksum: crc16_modbus
    checksum_endian: little
- name: txt
  table: udp.port
  value: "7000"
  framing:
    type: text
    end_delimiter: "\r\n"
`

func framedSession(t *testing.T) *core.Session {
	var configs []*FramedConfig
	require.NoError(t, yaml.Unmarshal([]byte(framedYaml), &configs))
	reg := core.NewRegistry()
	require.NoError(t, Register(reg))
	require.NoError(t, RegisterFramed(reg, configs))
	return core.NewSession(reg, core.SessionOptions{})
}

func tcpFrame(n uint32, data ...byte) *core.Frame {
	return &core.Frame{
		Number:        n,
		Flow:          core.TCPFlow(net.IPv4(10, 0, 0, 1), net.IPv4(10, 0, 0, 2), 40000, 9000, 0),
		Direction:     core.DirectionOut,
		Discriminator: core.TCPPort(9000),
		Data:          data,
	}
}

func TestFramedBinary(t *testing.T) {
	s := framedSession(t)
	root := s.Dispatch(tcpFrame(1, 0xaa, 0x02, 0x01, 0x02, 0x00, 0x6d))
	assert.Empty(t, codes(root))

	dev := root.Find("dev")
	require.NotNil(t, dev)
	assert.Equal(t, "dev, 6 bytes", dev.Rendered)
	assert.Equal(t, []byte{0xaa, 0x02}, dev.Find("dev.header").Raw)
	assert.Equal(t, uint64(2), dev.Find("dev.length").Uint)
	assert.Equal(t, []byte{0x01, 0x02}, dev.Find("data").Raw)
	assert.Equal(t, "0x6d00 [correct]", dev.Find("dev.checksum").Rendered)
}

func TestFramedSplit(t *testing.T) {
	s := framedSession(t)
	root := s.Dispatch(tcpFrame(1, 0xaa, 0x02, 0x01))
	assert.NotNil(t, root.Find("dev.segment"))
	assert.Nil(t, root.Find("dev"))

	// the rest of the first message and a whole second one
	root = s.Dispatch(tcpFrame(2, 0x02, 0x00, 0x6d, 0xaa, 0x02, 0x01, 0x02, 0x00, 0x6d))
	messages := root.FindAll("dev")
	require.Len(t, messages, 2)
	for _, m := range messages {
		assert.Equal(t, "0x6d00 [correct]", m.Find("dev.checksum").Rendered)
	}
	in := root.Find("dev.reassembled_in")
	require.NotNil(t, in)
	assert.Equal(t, "dev message from frames 1, 2", in.Rendered)
}

func TestFramedBadChecksum(t *testing.T) {
	s := framedSession(t)
	root := s.Dispatch(tcpFrame(1, 0xaa, 0x02, 0x01, 0x03, 0x00, 0x6d))
	assert.Equal(t, []core.ErrorCode{core.CodeDecode}, codes(root))
	assert.NotNil(t, root.Find("dev.checksum").Annotation)

	root = s.Dispatch(tcpFrame(2, 0xbb, 0x02))
	assert.Equal(t, []core.ErrorCode{core.CodeDecode}, codes(root))
}

func TestFramedText(t *testing.T) {
	s := framedSession(t)
	root := s.Dispatch(udpFrame(1, 7000, []byte("hi\r\n")...))
	assert.Empty(t, codes(root))
	txt := root.Find("txt")
	require.NotNil(t, txt)
	assert.Equal(t, []byte("hi"), txt.Find("data").Raw)
	assert.Equal(t, []byte("\r\n"), txt.Find("txt.terminator").Raw)
}

func TestFramedSetup(t *testing.T) {
	rule := &framing.TextRule{EndDelimiter: "\n"}
	require.NoError(t, rule.Setup())

	tests := []struct {
		name   string
		config *FramedConfig
		err    string
	}{
		{"no name", &FramedConfig{}, "needs a name"},
		{"no rule", &FramedConfig{Name: "x"}, "needs a framing rule"},
		{"negative header", &FramedConfig{Name: "x", Header: -1, Framing: framing.Spec{Rule: rule}}, "header must not be negative"},
		{"bad value", &FramedConfig{Name: "x", Table: "udp.port", Value: "zz", Framing: framing.Spec{Rule: rule}}, "invalid discriminator"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := RegisterFramed(core.NewRegistry(), []*FramedConfig{tt.config})
			assert.ErrorContains(t, err, tt.err)
		})
	}

	reg := core.NewRegistry()
	require.NoError(t, RegisterFramed(reg, []*FramedConfig{{Name: "plain", Framing: framing.Spec{Rule: rule}}}))
	_, ok := reg.Dissector("plain")
	assert.True(t, ok)
	assert.Equal(t, "plain.payload", (&FramedConfig{Name: "plain"}).PayloadTable())
}
