package crc16

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

var check = []byte("123456789")

func TestChecksumCatalogue(t *testing.T) {
	for i, p := range params {
		assert.Equal(t, p.Check, Checksum(check, i), p.Name)
		assert.Equal(t, *p, tables[i].Params())
	}
	assert.Len(t, Names, len(params))
}

func TestHash16Streaming(t *testing.T) {
	h := New(MODBUS)
	_, _ = h.Write(check[:4])
	_, _ = h.Write(check[4:])
	assert.Equal(t, uint16(0x4b37), h.Sum16())
	assert.Equal(t, []byte{0x4b, 0x37}, h.Sum(nil))

	h.Reset()
	_, _ = h.Write(check)
	assert.Equal(t, uint16(0x4b37), h.Sum16())
	assert.Equal(t, 2, h.Size())
}

func TestInvalidTable(t *testing.T) {
	assert.Panics(t, func() { Checksum(check, 23) })
	assert.Panics(t, func() { New(-1) })
}

func TestNewWithTable(t *testing.T) {
	h := NewWithTable(MakeTable(CRC16_KERMIT))
	_, _ = h.Write(check)
	assert.Equal(t, CRC16_KERMIT.Check, h.Sum16())
	assert.Equal(t, 1, h.BlockSize())
}

func TestUpdateMatchesMakeTable(t *testing.T) {
	tab := MakeTable(CRC16_XMODEM)
	crc := Update(tab.init(), check[:5], tab)
	crc = Update(crc, check[5:], tab)
	assert.Equal(t, CRC16_XMODEM.Check, Complete(crc, tab))
}
