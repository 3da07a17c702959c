package crc16

import (
	"fmt"
	"hash"
)

// Table indexes, in catalogue order.
const (
	ARC = iota
	AUG_CCITT
	BUYPASS
	CCITT_FALSE
	CDMA2000
	DDS_110
	DECT_R
	DECT_X
	DNP
	EN_13757
	GENIBUS
	MAXIM
	MCRF4XX
	RIELLO
	T10_DIF
	TELEDISK
	TMS37157
	USB
	CRC_A
	KERMIT
	MODBUS
	X_25
	XMODEM
)

var params = [...]*Params{
	ARC:         &CRC16_ARC,
	AUG_CCITT:   &CRC16_AUG_CCITT,
	BUYPASS:     &CRC16_BUYPASS,
	CCITT_FALSE: &CRC16_CCITT_FALSE,
	CDMA2000:    &CRC16_CDMA2000,
	DDS_110:     &CRC16_DDS_110,
	DECT_R:      &CRC16_DECT_R,
	DECT_X:      &CRC16_DECT_X,
	DNP:         &CRC16_DNP,
	EN_13757:    &CRC16_EN_13757,
	GENIBUS:     &CRC16_GENIBUS,
	MAXIM:       &CRC16_MAXIM,
	MCRF4XX:     &CRC16_MCRF4XX,
	RIELLO:      &CRC16_RIELLO,
	T10_DIF:     &CRC16_T10_DIF,
	TELEDISK:    &CRC16_TELEDISK,
	TMS37157:    &CRC16_TMS37157,
	USB:         &CRC16_USB,
	CRC_A:       &CRC16_CRC_A,
	KERMIT:      &CRC16_KERMIT,
	MODBUS:      &CRC16_MODBUS,
	X_25:        &CRC16_X_25,
	XMODEM:      &CRC16_XMODEM,
}

var tables [len(params)]*Table

func lookup(t int) *Table {
	if t < 0 || t >= len(tables) {
		panic(fmt.Sprintf("crc16: invalid table,%d, value should in 0~%d", t, len(tables)-1))
	}
	return tables[t]
}

// Hash16 is the hash.Hash form of an algorithm, for streaming input. Sum
// appends the checksum big-endian.
type Hash16 interface {
	hash.Hash
	Sum16() uint16
}

type digest struct {
	crc   uint16
	table *Table
}

// New returns a streaming digest for the algorithm at index t.
func New(t int) Hash16 {
	return NewWithTable(lookup(t))
}

func NewWithTable(table *Table) Hash16 {
	d := &digest{table: table}
	d.Reset()
	return d
}

func (d *digest) Write(p []byte) (int, error) {
	d.crc = Update(d.crc, p, d.table)
	return len(p), nil
}

func (d *digest) Sum16() uint16 {
	return Complete(d.crc, d.table)
}

func (d *digest) Sum(in []byte) []byte {
	s := d.Sum16()
	return append(in, byte(s>>8), byte(s))
}

func (d *digest) Reset() {
	d.crc = d.table.init()
}

func (d *digest) Size() int      { return 2 }
func (d *digest) BlockSize() int { return 1 }
