package dissector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vuuvv/vdissect/core"
)

// SET_BITMODE MPSSE, mask 0xff, interface A
var setMpsse = []byte{0x40, 0x0b, 0xff, 0x02, 0x01, 0x00, 0x00, 0x00}

func TestSerialControl(t *testing.T) {
	s := newTestSession(t)

	root := s.Dispatch(controlFrame(1, setMpsse...))
	assert.Empty(t, codes(root))
	assert.Equal(t, "Vendor", root.Find("serial.control.request_type.type").Rendered)
	assert.Equal(t, "SetBitMode", root.Find("serial.control.request").Rendered)
	assert.Equal(t, "MPSSE", root.Find("serial.control.bitmode.mode").Rendered)
	assert.Equal(t, "0xff", root.Find("serial.control.bitmode.mask").Rendered)

	// SET_BAUDRATE 9600: divisor 312, fraction code 1 (0.5)
	root = s.Dispatch(controlFrame(2, 0x40, 0x03, 0x38, 0x41, 0x01, 0x00, 0x00, 0x00))
	assert.Equal(t, "9600 baud", root.Find("serial.control.baud_rate").Rendered)

	// SET_DATA 8N1
	root = s.Dispatch(controlFrame(3, 0x40, 0x04, 0x08, 0x00, 0x01, 0x00, 0x00, 0x00))
	assert.Equal(t, uint64(8), root.Find("serial.control.line_property.data_bits").Uint)
	assert.Equal(t, "None", root.Find("serial.control.line_property.parity").Rendered)

	root = s.Dispatch(controlFrame(4, 0x40, 0x7f, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00))
	assert.Equal(t, []core.ErrorCode{core.CodeUnknownDiscriminator}, codes(root))

	root = s.Dispatch(controlFrame(5, 0x40, 0x0b))
	assert.Equal(t, []core.ErrorCode{core.CodeBounds}, codes(root))
}

func TestSerialStatusAndLine(t *testing.T) {
	s := newTestSession(t)

	root := s.Dispatch(bulkFrame(1, core.DirectionIn, 0x31, 0x60, 'h', 'i', '\n', 'o'))
	assert.True(t, root.Find("serial.modem_status.cts").Bool)
	assert.True(t, root.Find("serial.line_status.tx_empty").Bool)
	assert.Equal(t, "Reset (default)", root.Find("serial.bitmode").Rendered)
	assert.Equal(t, "hi", root.Find("line").Rendered)
	assert.NotNil(t, root.Find("line.segment"))

	root = s.Dispatch(bulkFrame(2, core.DirectionIn, 0x31, 0x60, 'k', '\r', '\n'))
	line := root.Find("line")
	require.NotNil(t, line)
	assert.Equal(t, "ok", line.Rendered)
	assert.Equal(t, 2, line.Find("line.terminator").Length)
	assert.Equal(t, uint64(1), root.Find("line.reassembled_in").Uint)

	root = s.Dispatch(bulkFrame(3, core.DirectionIn, 0x31))
	assert.Equal(t, []core.ErrorCode{core.CodeBounds}, codes(root))

	s.Dispatch(bulkFrame(4, core.DirectionIn, 0x31, 0x60, 'e', 'n', 'd'))
	trees := s.Flush()
	require.Len(t, trees, 1)
	assert.Equal(t, "end", trees[0].Find("line").Rendered)
	assert.Equal(t, core.CodeIncomplete, trees[0].Find("line").Annotation.Code)
}

func TestSerialLineContinuation(t *testing.T) {
	s := newTestSession(t)

	root := s.Dispatch(bulkFrame(1, core.DirectionOut, 'a', 'b'))
	require.NotNil(t, root.Find("line.segment"))

	// 01 0a would not be taken for text on its own
	root = s.Dispatch(bulkFrame(2, core.DirectionOut, 0x01, '\n'))
	assert.Nil(t, root.Find("data"))
	line := root.Find("line")
	require.NotNil(t, line)
	assert.Equal(t, []byte{'a', 'b', 0x01}, line.Find("line.text").Raw)
	assert.Equal(t, uint64(1), root.Find("line.reassembled_in").Uint)
	assert.Empty(t, s.Flush())
}

func TestSerialBitmodeInterfaceZero(t *testing.T) {
	s := newTestSession(t)
	// SET_BITMODE MPSSE with wIndex 0
	s.Dispatch(controlFrame(1, 0x40, 0x0b, 0xff, 0x02, 0x00, 0x00, 0x00, 0x00))

	root := s.Dispatch(bulkFrame(2, core.DirectionOut, 0x86, 0x05, 0x00))
	assert.Equal(t, "MPSSE (set in frame 1)", root.Find("serial.bitmode").Rendered)
	assert.NotNil(t, root.Find("mpsse.command"))
	assert.Nil(t, root.Find("line"))
}

func TestSerialBitmodeToMpsse(t *testing.T) {
	command := []byte{0x19, 0x06, 0x00, 0xd0, 0xd1, 0xd2, 0xd3, 0xd4, 0xd5, 0xd6}

	whole := newTestSession(t)
	whole.Dispatch(controlFrame(1, setMpsse...))
	root := whole.Dispatch(bulkFrame(2, core.DirectionOut, command...))
	assert.Equal(t, "MPSSE (set in frame 1)", root.Find("serial.bitmode").Rendered)
	want := root.Find("mpsse.command")
	require.NotNil(t, want)
	assert.Equal(t, "7 bytes", want.Find("mpsse.length").Rendered)
	assert.Len(t, want.Find("mpsse.data").Raw, 7)
	assert.True(t, want.Find("mpsse.opcode.write_tdi").Bool)
	assert.Equal(t, "Falling Edge", want.Find("mpsse.opcode.write_edge").Rendered)

	// the same command split 3 + 0 + 7 bytes
	s := newTestSession(t)
	s.Dispatch(controlFrame(1, setMpsse...))
	root = s.Dispatch(bulkFrame(2, core.DirectionOut, command[:3]...))
	assert.Nil(t, root.Find("mpsse.command"))
	assert.NotNil(t, root.Find("mpsse.segment"))
	s.Dispatch(bulkFrame(3, core.DirectionOut))
	root = s.Dispatch(bulkFrame(4, core.DirectionOut, command[3:]...))
	got := root.Find("mpsse.command")
	require.NotNil(t, got)
	assert.Equal(t, want.Dump(), got.Dump())
	assert.Equal(t, uint64(2), root.Find("mpsse.reassembled_in").Uint)
}

func TestMpsseCommands(t *testing.T) {
	s := newTestSession(t)
	s.Dispatch(controlFrame(1, setMpsse...))

	root := s.Dispatch(bulkFrame(2, core.DirectionOut, 0x86, 0x05, 0x00))
	assert.Equal(t, "5 (1000000 Hz)", root.Find("mpsse.divisor").Rendered)

	root = s.Dispatch(bulkFrame(3, core.DirectionOut, 0x8a, 0x86, 0x05, 0x00, 0x80, 0x0f, 0xfb))
	commands := root.FindAll("mpsse.command")
	require.Len(t, commands, 3)
	assert.Equal(t, "Disable Clock Divide by 5", commands[0].Rendered)
	assert.Equal(t, "5 (5000000 Hz)", root.Find("mpsse.divisor").Rendered)
	assert.Equal(t, "0b00001111", root.Find("mpsse.value").Rendered)

	root = s.Dispatch(bulkFrame(4, core.DirectionOut, 0xaa))
	assert.Equal(t, []core.ErrorCode{core.CodeUnknownDiscriminator}, codes(root))

	root = s.Dispatch(bulkFrame(5, core.DirectionIn, 0x31, 0x60, 0xfa, 0xaa))
	bad := root.Find("mpsse.bad_command")
	require.NotNil(t, bad)
	assert.Equal(t, uint64(0xaa), bad.Find("mpsse.response.opcode").Uint)
	assert.Equal(t, core.SeverityWarn, bad.Annotation.Severity)
}

func TestBitmodeIsPerInterface(t *testing.T) {
	s := newTestSession(t)
	s.Dispatch(controlFrame(1, setMpsse...))

	other := bulkFrame(2, core.DirectionOut, 'h', 'i', '\n')
	other.Flow = core.BusFlow(1, 5, 2)
	root := s.Dispatch(other)
	assert.Equal(t, "Reset (default)", root.Find("serial.bitmode").Rendered)
	assert.Equal(t, "hi", root.Find("line").Rendered)
}
