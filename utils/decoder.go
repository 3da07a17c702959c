package utils

import (
	"encoding/binary"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/vuuvv/errors"
	"golang.org/x/exp/constraints"
)

type Padding int

const (
	PaddingLeft Padding = iota
	PaddingRight
)

func Uint64ToBytes[T constraints.Integer](u T, size int, order binary.ByteOrder) []byte {
	data := make([]byte, 8)
	order.PutUint64(data, uint64(u))

	switch order {
	case binary.LittleEndian:
		return data[:size]
	default: // 默认情况是大端的
		return data[8-size:]
	}
}

// ResizeBytes 截断或者用 pad 补齐到 size 个字节
func ResizeBytes(data []byte, size int, pad byte, padding Padding) []byte {
	if len(data) >= size {
		if padding == PaddingLeft {
			return data[len(data)-size:]
		}
		return data[:size]
	}
	res := make([]byte, size)
	if padding == PaddingLeft {
		for i := 0; i < size-len(data); i++ {
			res[i] = pad
		}
		copy(res[size-len(data):], data)
		return res
	}
	copy(res, data)
	for i := len(data); i < size; i++ {
		res[i] = pad
	}
	return res
}

// ParseTValue 将 T'xxx' 格式的字符串解析为 []byte, 没有类型前缀时按十六进制处理.
// size < 0 表示保持解析出的长度 (只对 h/x/s 有效)
func ParseTValue(inputString string, size int, byteOrder binary.ByteOrder) ([]byte, error) {
	var typeID string
	var dataStr string

	if len(inputString) >= 3 && inputString[1] == '\'' && inputString[len(inputString)-1] == '\'' {
		typeID = strings.ToLower(string(inputString[0]))
		dataStr = inputString[2 : len(inputString)-1]
	} else {
		typeID = "h"
		dataStr = inputString
	}

	var value []byte
	var err error

	switch typeID {
	case "b":
		binStr := strings.TrimPrefix(strings.TrimPrefix(dataStr, "0b"), "b")
		u, e := strconv.ParseUint(binStr, 2, 64)
		if e != nil {
			return nil, errors.Errorf("invalid binary number 'b''%s': %v", dataStr, e)
		}
		value = Uint64ToBytes(u, intSize(size), byteOrder)

	case "o":
		octStr := strings.TrimPrefix(dataStr, "0")
		u, e := strconv.ParseUint(octStr, 8, 64)
		if e != nil {
			return nil, errors.Errorf("invalid octal number 'o''%s': %v", dataStr, e)
		}
		value = Uint64ToBytes(u, intSize(size), byteOrder)

	case "d":
		i, e := strconv.ParseInt(dataStr, 10, 64)
		if e != nil {
			return nil, errors.Errorf("invalid decimal number 'd''%s': %v", dataStr, e)
		}
		value = Uint64ToBytes(i, intSize(size), byteOrder)

	case "x", "h":
		hexStr := strings.TrimPrefix(strings.TrimPrefix(dataStr, "0x"), "h")
		// 空白只用来分组, 例如 "01 02 03"
		hexStr = strings.Join(strings.Fields(hexStr), "")

		// 补齐到偶数长度
		if len(hexStr)%2 != 0 {
			hexStr = "0" + hexStr
		}

		value, err = hex.DecodeString(hexStr)
		if err != nil {
			return nil, errors.Errorf("invalid hex string '%s''%s': %v", typeID, dataStr, err)
		}
		if size < 0 {
			return value, nil
		}
		value = ResizeBytes(value, size, 0, PaddingRight)

	case "s":
		// 支持 \r\n 这类转义
		if u, e := strconv.Unquote(`"` + dataStr + `"`); e == nil {
			dataStr = u
		}
		value = []byte(dataStr)
		if size < 0 {
			return value, nil
		}
		value = ResizeBytes(value, size, 0, PaddingRight)

	default:
		return nil, errors.Errorf("unrecognized type identifier: %s. Expected b, o, d, x, h, or s.", typeID)
	}

	return value, nil
}

func intSize(size int) int {
	if size <= 0 || size > 8 {
		return 8
	}
	return size
}
