package core

import (
	"math/bits"

	"github.com/vuuvv/errors"
	"golang.org/x/exp/constraints"
)

func BoolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func ConvertBytesToInt(data []byte, endian Endian) (uint64, error) {
	if endian == LittleEndian {
		return ConvertBytesToIntLE(data)
	}
	return ConvertBytesToIntBE(data)
}

func ConvertBytesToIntBE(data []byte) (uint64, error) {
	byteLen := len(data)
	if byteLen < 1 || byteLen > 8 {
		return 0, errors.Errorf("byte length must be between 1 and 8, got %d", byteLen)
	}

	var result uint64
	for i := 0; i < byteLen; i++ {
		result = (result << 8) | uint64(data[i])
	}
	return result, nil
}

func ConvertBytesToIntLE(data []byte) (uint64, error) {
	byteLen := len(data)
	if byteLen < 1 || byteLen > 8 {
		return 0, errors.Errorf("byte length must be between 1 and 8, got %d", byteLen)
	}

	var result uint64
	for i := 0; i < byteLen; i++ {
		result |= uint64(data[i]) << (i * 8)
	}
	return result, nil
}

// LowestSetBit returns the shift that aligns mask's lowest set bit to bit 0.
func LowestSetBit[T constraints.Unsigned](mask T) int {
	if mask == 0 {
		return 0
	}
	return bits.TrailingZeros64(uint64(mask))
}

// WidthMask returns a mask with the low width bits set.
func WidthMask[T constraints.Integer](width T) uint64 {
	if width >= 64 {
		return ^uint64(0)
	}
	if width <= 0 {
		return 0
	}
	return (uint64(1) << uint(width)) - 1
}

func clamp[T constraints.Integer](v, lo, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
