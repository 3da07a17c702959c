package framing

import (
	"bytes"
	"encoding/hex"

	"github.com/vuuvv/errors"

	"github.com/vuuvv/vdissect/core"
)

const Binary = "binary"

// BinaryRule frames messages carrying their own length:
// total = LengthAdjustment + value of the length field.
type BinaryRule struct {
	HeaderMarker      string      `yaml:"header_marker"` // 消息头, Hex, 可以为空
	MinHeaderSize     int         `yaml:"min_header_size"`
	LengthOffset      int         `yaml:"length_offset"`
	LengthSize        int         `yaml:"length_size"`
	LengthAdjustment  int         `yaml:"length_adjustment"`
	Endian            core.Endian `yaml:"endian"`
	MaxLen            int         `yaml:"max_len"`
	Checksum          string      `yaml:"checksum"` // 消息最后两个字节的校验, 如 crc16_modbus
	ChecksumEndian    core.Endian `yaml:"checksum_endian"`
	headerMarkerBytes []byte
	checksumTable     int
}

func (this *BinaryRule) Setup() (err error) {
	if this.LengthSize <= 0 || this.LengthSize > 8 {
		return errors.Errorf("BinaryRule.Setup: length size should be 1..8, got %d", this.LengthSize)
	}
	if this.MinHeaderSize < this.LengthOffset+this.LengthSize {
		this.MinHeaderSize = this.LengthOffset + this.LengthSize
	}
	this.headerMarkerBytes, err = hex.DecodeString(this.HeaderMarker)
	if err != nil {
		return errors.Wrapf(err, "BinaryRule.Setup: invalid header marker: %s, should be valid hex format. eg: 7a7b", this.HeaderMarker)
	}
	if this.Checksum != "" {
		this.checksumTable, err = crcTable(this.Checksum)
		if err != nil {
			return err
		}
		if this.MinHeaderSize < checksumSize {
			this.MinHeaderSize = checksumSize
		}
	}
	return nil
}

func (this *BinaryRule) Split(c *core.Cursor, final bool) Match {
	if n := len(this.headerMarkerBytes); n > 0 {
		head, err := c.ReadBytes(0, min(n, c.Len()))
		if err == nil && !bytes.HasPrefix(this.headerMarkerBytes, head) {
			return Match{Error: errors.Errorf("missing header marker %x", this.headerMarkerBytes)}
		}
	}
	if c.Len() < this.MinHeaderSize {
		return more(-1)
	}

	bodyLen, err := c.ReadUint(this.LengthOffset, this.LengthSize, this.Endian)
	if err != nil {
		return more(-1)
	}
	totalLen := this.LengthAdjustment + int(bodyLen)
	if totalLen < this.MinHeaderSize {
		return Match{Error: errors.Errorf("declared length %d shorter than header %d", totalLen, this.MinHeaderSize)}
	}
	if this.MaxLen > 0 && totalLen > this.MaxLen {
		return Match{Error: errors.Errorf("declared length %d exceeds max length %d", totalLen, this.MaxLen)}
	}
	if c.Len() < totalLen {
		return more(totalLen)
	}
	return Match{Advance: totalLen}
}

// Verify checks the trailing checksum of a framed message. It returns nil
// when the rule has no checksum.
func (this *BinaryRule) Verify(name string, msg *core.Cursor) *core.Field {
	if this.Checksum == "" {
		return nil
	}
	return verifyTrailer(name, msg, this.checksumTable, this.ChecksumEndian)
}

func (this *BinaryRule) GetHeaderMarker() []byte {
	return this.headerMarkerBytes
}

func registerBinary() {
	RegisterRule[BinaryRule](Binary)
}
