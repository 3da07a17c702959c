package framing

import (
	"fmt"
	"strings"

	"github.com/vuuvv/errors"

	"github.com/vuuvv/vdissect/core"
	"github.com/vuuvv/vdissect/crc16"
)

const checksumSize = 2

// crcTable resolves a checksum name of the form crc16_<algorithm>, e.g.
// crc16_modbus.
func crcTable(name string) (int, error) {
	parts := strings.SplitN(name, "_", 2)
	if len(parts) < 2 {
		return 0, errors.Errorf("invalid crc name: %s", name)
	}
	if parts[0] != "crc16" {
		return 0, errors.Errorf("unsupport crc bits: %s", parts[0])
	}
	t, ok := crc16.Names[parts[1]]
	if !ok {
		return 0, errors.Errorf("crc16: unsupport crc type '%s'", parts[1])
	}
	return t, nil
}

// Crc computes the named checksum of data.
func Crc(data []byte, name string) (uint64, error) {
	t, err := crcTable(name)
	if err != nil {
		return 0, err
	}
	return uint64(crc16.Checksum(data, t)), nil
}

func verifyTrailer(name string, msg *core.Cursor, table int, endian core.Endian) *core.Field {
	n := msg.Len() - checksumSize
	f, err := core.UintField(name+".checksum", msg, n, checksumSize, endian)
	if err != nil {
		return f
	}
	// 分段的消息逐段计算, 不必先拼接
	h := crc16.New(table)
	for _, part := range msg.Parts(0, n) {
		_, _ = h.Write(part)
	}
	want := uint64(h.Sum16())
	if f.Uint != want {
		return f.Annotatef(core.SeverityError, core.CodeDecode, "checksum 0x%04x, computed 0x%04x", f.Uint, want)
	}
	return f.Render(fmt.Sprintf("0x%04x [correct]", f.Uint))
}
