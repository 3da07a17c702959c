package framing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/vuuvv/vdissect/core"
)

var binarySpec = `
type: binary
header_marker: aa
length_offset: 1
length_size: 1
length_adjustment: 4
max_len: 64
checksum: crc16_modbus
checksum_endian: little
`

func parseSpec(t *testing.T, data string) *Spec {
	spec := &Spec{}
	require.NoError(t, yaml.Unmarshal([]byte(data), spec))
	return spec
}

func TestBinarySplit(t *testing.T) {
	spec := parseSpec(t, binarySpec)
	assert.Equal(t, Binary, spec.Type)
	rule := spec.Rule.(*BinaryRule)
	assert.Equal(t, []byte{0xaa}, rule.GetHeaderMarker())
	assert.Equal(t, 2, rule.MinHeaderSize)

	msg := []byte{0xaa, 0x02, 0x01, 0x02, 0x00, 0x6d, 0xaa}
	tests := []struct {
		name  string
		data  []byte
		match Match
	}{
		{"short header", msg[:1], Match{Expected: -1}},
		{"partial", msg[:4], Match{Expected: 6}},
		{"complete", msg, Match{Advance: 6}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.match, rule.Split(core.NewCursor(tt.data), false))
		})
	}

	m := rule.Split(core.NewCursor([]byte{0xbb, 0x02}), false)
	assert.ErrorContains(t, m.Error, "missing header marker")

	m = rule.Split(core.NewCursor([]byte{0xaa, 0xf0}), false)
	assert.ErrorContains(t, m.Error, "exceeds max length 64")
}

func TestBinaryVerify(t *testing.T) {
	rule := parseSpec(t, binarySpec).Rule.(*BinaryRule)

	f := rule.Verify("p", core.NewCursor([]byte{0xaa, 0x02, 0x01, 0x02, 0x00, 0x6d}))
	assert.Equal(t, "p.checksum", f.Name)
	assert.Equal(t, uint64(0x6d00), f.Uint)
	assert.Equal(t, 4, f.Offset)
	assert.Equal(t, "0x6d00 [correct]", f.Rendered)
	assert.Nil(t, f.Annotation)

	f = rule.Verify("p", core.NewCursor([]byte{0xaa, 0x02, 0x01, 0x03, 0x00, 0x6d}))
	require.NotNil(t, f.Annotation)
	assert.Equal(t, core.CodeDecode, f.Annotation.Code)
	assert.Contains(t, f.Annotation.Message, "checksum 0x6d00")

	plain := &BinaryRule{LengthSize: 1}
	require.NoError(t, plain.Setup())
	assert.Nil(t, plain.Verify("p", core.NewCursor([]byte{1, 2})))
}

func TestSpecErrors(t *testing.T) {
	spec := &Spec{}
	assert.ErrorContains(t, yaml.Unmarshal([]byte("type: nope"), spec), "unknown framing rule")
	assert.ErrorContains(t, yaml.Unmarshal([]byte("type: binary\nlength_size: 0"), spec), "length size")
	assert.ErrorContains(t, yaml.Unmarshal([]byte("type: binary\nlength_size: 1\nchecksum: crc32_x"), spec), "unsupport crc bits")
	assert.ErrorContains(t, yaml.Unmarshal([]byte("type: binary\nlength_size: 1\nheader_marker: zz"), spec), "invalid header marker")
	assert.ErrorContains(t, yaml.Unmarshal([]byte("type: text"), spec), "end_delimiter")
}

func TestTextSplit(t *testing.T) {
	rule := parseSpec(t, "type: text\nheader_marker: $\nend_delimiter: \"\\r\\n\"\nmax_len: 8").Rule.(*TextRule)

	assert.Equal(t, Match{Advance: 5}, rule.Split(core.NewCursor([]byte("$ab\r\n$c")), false))
	assert.Equal(t, Match{Expected: -1}, rule.Split(core.NewCursor([]byte("$c")), false))
	assert.Equal(t, Match{Advance: 2}, rule.Split(core.NewCursor([]byte("$c")), true))
	assert.Equal(t, Match{Expected: -1}, rule.Split(core.NewCursor(nil), true))

	assert.ErrorContains(t, rule.Split(core.NewCursor([]byte("x\r\n")), false).Error, "does not start with")
	assert.ErrorContains(t, rule.Split(core.NewCursor([]byte("$123456789")), false).Error, "max length 8")
	assert.True(t, rule.CanParse([]byte("$x")))
}

func TestCrc(t *testing.T) {
	v, err := Crc([]byte("123456789"), "crc16_x_25")
	require.NoError(t, err)
	assert.Equal(t, uint64(0x906e), v)

	_, err = Crc(nil, "crc16_nope")
	assert.ErrorContains(t, err, "unsupport crc type")
	_, err = Crc(nil, "crc16")
	assert.ErrorContains(t, err, "invalid crc name")
}

func TestDecode(t *testing.T) {
	rule := parseSpec(t, binarySpec).Rule
	body := func(msg *core.Cursor, ctx *core.Context) *core.Field {
		return core.BytesField("p", msg, 0, msg.Len())
	}
	ctx := &core.Context{}

	out := Decode(rule, "p", core.NewCursor([]byte{0xaa, 0x02, 0x01}), ctx, body)
	assert.True(t, out.More)
	assert.Equal(t, 6, out.Expected)

	out = Decode(rule, "p", core.NewCursor([]byte{0xaa, 0x02, 0x01, 0x02, 0x00, 0x6d, 0xff}), ctx, body)
	assert.False(t, out.More)
	assert.Equal(t, 6, out.Consumed)
	assert.Equal(t, 6, out.Tree.Length)

	out = Decode(rule, "p", core.NewCursor([]byte{0x01, 0x02}), ctx, body)
	assert.Equal(t, 2, out.Consumed)
	assert.Equal(t, core.CodeDecode, out.Tree.Annotation.Code)
}
