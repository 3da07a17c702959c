// Package crc16 implements the parametrised CRC-16 algorithms of the
// reveng catalogue.
package crc16

import "math/bits"

// Params describes one CRC-16 algorithm. Check is the checksum of the ASCII
// string "123456789".
type Params struct {
	Poly   uint16
	Init   uint16
	RefIn  bool
	RefOut bool
	XorOut uint16
	Check  uint16
	Name   string
}

var (
	CRC16_ARC         = Params{0x8005, 0x0000, true, true, 0x0000, 0xBB3D, "CRC-16/ARC"}
	CRC16_AUG_CCITT   = Params{0x1021, 0x1D0F, false, false, 0x0000, 0xE5CC, "CRC-16/AUG-CCITT"}
	CRC16_BUYPASS     = Params{0x8005, 0x0000, false, false, 0x0000, 0xFEE8, "CRC-16/BUYPASS"}
	CRC16_CCITT_FALSE = Params{0x1021, 0xFFFF, false, false, 0x0000, 0x29B1, "CRC-16/CCITT-FALSE"}
	CRC16_CDMA2000    = Params{0xC867, 0xFFFF, false, false, 0x0000, 0x4C06, "CRC-16/CDMA2000"}
	CRC16_DDS_110     = Params{0x8005, 0x800D, false, false, 0x0000, 0x9ECF, "CRC-16/DDS-110"}
	CRC16_DECT_R      = Params{0x0589, 0x0000, false, false, 0x0001, 0x007E, "CRC-16/DECT-R"}
	CRC16_DECT_X      = Params{0x0589, 0x0000, false, false, 0x0000, 0x007F, "CRC-16/DECT-X"}
	CRC16_DNP         = Params{0x3D65, 0x0000, true, true, 0xFFFF, 0xEA82, "CRC-16/DNP"}
	CRC16_EN_13757    = Params{0x3D65, 0x0000, false, false, 0xFFFF, 0xC2B7, "CRC-16/EN-13757"}
	CRC16_GENIBUS     = Params{0x1021, 0xFFFF, false, false, 0xFFFF, 0xD64E, "CRC-16/GENIBUS"}
	CRC16_MAXIM       = Params{0x8005, 0x0000, true, true, 0xFFFF, 0x44C2, "CRC-16/MAXIM"}
	CRC16_MCRF4XX     = Params{0x1021, 0xFFFF, true, true, 0x0000, 0x6F91, "CRC-16/MCRF4XX"}
	CRC16_RIELLO      = Params{0x1021, 0xB2AA, true, true, 0x0000, 0x63D0, "CRC-16/RIELLO"}
	CRC16_T10_DIF     = Params{0x8BB7, 0x0000, false, false, 0x0000, 0xD0DB, "CRC-16/T10-DIF"}
	CRC16_TELEDISK    = Params{0xA097, 0x0000, false, false, 0x0000, 0x0FB3, "CRC-16/TELEDISK"}
	CRC16_TMS37157    = Params{0x1021, 0x89EC, true, true, 0x0000, 0x26B1, "CRC-16/TMS37157"}
	CRC16_USB         = Params{0x8005, 0xFFFF, true, true, 0xFFFF, 0xB4C8, "CRC-16/USB"}
	CRC16_CRC_A       = Params{0x1021, 0xC6C6, true, true, 0x0000, 0xBF05, "CRC-A"}
	CRC16_KERMIT      = Params{0x1021, 0x0000, true, true, 0x0000, 0x2189, "KERMIT"}
	CRC16_MODBUS      = Params{0x8005, 0xFFFF, true, true, 0x0000, 0x4B37, "MODBUS"}
	CRC16_X_25        = Params{0x1021, 0xFFFF, true, true, 0xFFFF, 0x906E, "X-25"}
	CRC16_XMODEM      = Params{0x1021, 0x0000, false, false, 0x0000, 0x31C3, "XMODEM"}
)

// Names maps the lower case config names to the table indexes, e.g. "modbus".
var Names = map[string]int{
	"arc":         ARC,
	"aug_ccitt":   AUG_CCITT,
	"buypass":     BUYPASS,
	"ccitt_false": CCITT_FALSE,
	"cdma2000":    CDMA2000,
	"dds_110":     DDS_110,
	"dect_r":      DECT_R,
	"dect_x":      DECT_X,
	"dnp":         DNP,
	"en_13757":    EN_13757,
	"genibus":     GENIBUS,
	"maxim":       MAXIM,
	"mcrf4xx":     MCRF4XX,
	"riello":      RIELLO,
	"t10_dif":     T10_DIF,
	"teledisk":    TELEDISK,
	"tms37157":    TMS37157,
	"usb":         USB,
	"crc_a":       CRC_A,
	"kermit":      KERMIT,
	"modbus":      MODBUS,
	"x_25":        X_25,
	"xmodem":      XMODEM,
}

// Table is the byte-at-a-time lookup table of one algorithm.
type Table struct {
	params Params
	data   [256]uint16
}

func (t *Table) Params() Params {
	return t.params
}

// init is the register start value; reflected algorithms run the register
// bit reversed.
func (t *Table) init() uint16 {
	if t.params.RefIn {
		return bits.Reverse16(t.params.Init)
	}
	return t.params.Init
}

func MakeTable(params Params) *Table {
	t := &Table{params: params}
	if params.RefIn {
		poly := bits.Reverse16(params.Poly)
		for n := 0; n < 256; n++ {
			crc := uint16(n)
			for i := 0; i < 8; i++ {
				if crc&1 != 0 {
					crc = crc>>1 ^ poly
				} else {
					crc >>= 1
				}
			}
			t.data[n] = crc
		}
		return t
	}
	for n := 0; n < 256; n++ {
		crc := uint16(n) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ params.Poly
			} else {
				crc <<= 1
			}
		}
		t.data[n] = crc
	}
	return t
}

// Update feeds data into a running register.
func Update(crc uint16, data []byte, t *Table) uint16 {
	if t.params.RefIn {
		for _, d := range data {
			crc = crc>>8 ^ t.data[byte(crc)^d]
		}
		return crc
	}
	for _, d := range data {
		crc = crc<<8 ^ t.data[byte(crc>>8)^d]
	}
	return crc
}

// Complete turns the register into the final checksum.
func Complete(crc uint16, t *Table) uint16 {
	if t.params.RefIn != t.params.RefOut {
		crc = bits.Reverse16(crc)
	}
	return crc ^ t.params.XorOut
}

func init() {
	for i, p := range params {
		tables[i] = MakeTable(*p)
	}
}

// Checksum returns the CRC of data with the algorithm at index t.
func Checksum(data []byte, t int) uint16 {
	tab := lookup(t)
	return Complete(Update(tab.init(), data, tab), tab)
}
