package core

import (
	"encoding/binary"
	"strings"

	"github.com/vuuvv/errors"
	"gopkg.in/yaml.v3"
)

type Endian uint8

const (
	BigEndian Endian = iota
	LittleEndian
)

func (e Endian) String() string {
	if e == LittleEndian {
		return "little"
	}
	return "big"
}

func (e Endian) ByteOrder() binary.ByteOrder {
	if e == LittleEndian {
		return binary.LittleEndian
	}
	return binary.BigEndian
}

// ParseEndian 默认大端
func ParseEndian(s string) Endian {
	switch strings.ToLower(s) {
	case "little", "le", "little_endian":
		return LittleEndian
	}
	return BigEndian
}

func (e *Endian) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return errors.WithStack(err)
	}
	*e = ParseEndian(s)
	return nil
}

// Cursor is a read-only view over one or more byte segments. Slicing and
// composing share the underlying storage; nothing is copied unless a single
// read spans two segments, in which case the whole view is flattened once.
type Cursor struct {
	segs   [][]byte
	length int
	origin int
	flat   []byte
}

func NewCursor(data []byte) *Cursor {
	return NewCursorAt(data, 0)
}

// NewCursorAt creates a cursor whose offset 0 is reported as origin in field
// coordinates.
func NewCursorAt(data []byte, origin int) *Cursor {
	c := &Cursor{origin: origin, length: len(data)}
	if len(data) > 0 {
		c.segs = [][]byte{data}
	}
	return c
}

// Composite joins parts logically. Parts that are adjacent in the same backing
// array are merged into one segment. The result is in message-local
// coordinates (origin 0).
func Composite(parts ...*Cursor) *Cursor {
	c := &Cursor{}
	for _, p := range parts {
		if p == nil {
			continue
		}
		for _, seg := range p.segments() {
			if len(seg) == 0 {
				continue
			}
			c.length += len(seg)
			if n := len(c.segs); n > 0 && contiguous(c.segs[n-1], seg) {
				last := c.segs[n-1]
				c.segs[n-1] = last[:len(last)+len(seg)]
				continue
			}
			c.segs = append(c.segs, seg)
		}
	}
	return c
}

func contiguous(a, b []byte) bool {
	if len(a) == 0 || len(b) == 0 || cap(a)-len(a) < len(b) {
		return false
	}
	return &a[:len(a)+1][len(a)] == &b[0]
}

func (c *Cursor) segments() [][]byte {
	if c.flat != nil {
		return [][]byte{c.flat}
	}
	return c.segs
}

func (c *Cursor) Len() int {
	return c.length
}

func (c *Cursor) Origin() int {
	return c.origin
}

// Segments returns how many discontiguous ranges back the cursor.
func (c *Cursor) Segments() int {
	return len(c.segments())
}

func (c *Cursor) check(offset, n int) error {
	if offset < 0 || n < 0 || offset > c.length || n > c.length-offset {
		return newBoundsError(offset, n, c.length)
	}
	return nil
}

func (c *Cursor) locate(offset int) (int, int) {
	segs := c.segments()
	for i, seg := range segs {
		if offset < len(seg) {
			return i, offset
		}
		offset -= len(seg)
	}
	return len(segs), 0
}

// copyOut fills dst starting at offset without flattening the cursor.
func (c *Cursor) copyOut(dst []byte, offset int) {
	segs := c.segments()
	i, inner := c.locate(offset)
	n := 0
	for n < len(dst) && i < len(segs) {
		n += copy(dst[n:], segs[i][inner:])
		i++
		inner = 0
	}
}

func (c *Cursor) materialize() []byte {
	if len(c.segs) == 0 {
		return nil
	}
	if len(c.segs) == 1 {
		return c.segs[0]
	}
	if c.flat == nil {
		flat := make([]byte, 0, c.length)
		for _, seg := range c.segs {
			flat = append(flat, seg...)
		}
		c.flat = flat
	}
	return c.flat
}

// Bytes returns the whole view, flattening it if it has several segments.
func (c *Cursor) Bytes() []byte {
	return c.materialize()
}

func (c *Cursor) ReadBytes(offset, n int) ([]byte, error) {
	if err := c.check(offset, n); err != nil {
		return nil, err
	}
	if n == 0 {
		return []byte{}, nil
	}
	segs := c.segments()
	i, inner := c.locate(offset)
	if inner+n <= len(segs[i]) {
		return segs[i][inner : inner+n : inner+n], nil
	}
	flat := c.materialize()
	return flat[offset : offset+n : offset+n], nil
}

// Parts returns the backing ranges covering [offset, offset+n) in order,
// without copying. It returns nil when the range is out of bounds.
func (c *Cursor) Parts(offset, n int) [][]byte {
	if c.check(offset, n) != nil {
		return nil
	}
	var res [][]byte
	segs := c.segments()
	i, inner := c.locate(offset)
	for n > 0 && i < len(segs) {
		part := segs[i][inner:min(len(segs[i]), inner+n)]
		res = append(res, part)
		n -= len(part)
		i++
		inner = 0
	}
	return res
}

func (c *Cursor) Slice(offset, n int) (*Cursor, error) {
	if err := c.check(offset, n); err != nil {
		return nil, err
	}
	sub := &Cursor{origin: c.origin + offset, length: n}
	if n == 0 {
		return sub, nil
	}
	segs := c.segments()
	i, inner := c.locate(offset)
	for remain := n; remain > 0 && i < len(segs); i++ {
		seg := segs[i][inner:]
		inner = 0
		if len(seg) > remain {
			seg = seg[:remain]
		}
		sub.segs = append(sub.segs, seg)
		remain -= len(seg)
	}
	return sub, nil
}

func (c *Cursor) Tail(offset int) (*Cursor, error) {
	if offset < 0 || offset > c.length {
		return nil, newBoundsError(offset, 0, c.length)
	}
	return c.Slice(offset, c.length-offset)
}

// ReadUint reads an unsigned integer of size bytes (1..8).
func (c *Cursor) ReadUint(offset, size int, endian Endian) (uint64, error) {
	if size < 1 || size > 8 {
		return 0, errors.Errorf("integer size must be between 1 and 8 bytes, got %d", size)
	}
	if err := c.check(offset, size); err != nil {
		return 0, err
	}
	var buf [8]byte
	c.copyOut(buf[:size], offset)
	return ConvertBytesToInt(buf[:size], endian)
}

// ReadInt reads a two's complement integer of size bytes, sign-extended.
func (c *Cursor) ReadInt(offset, size int, endian Endian) (int64, error) {
	v, err := c.ReadUint(offset, size, endian)
	if err != nil {
		return 0, err
	}
	shift := uint(64 - size*8)
	return int64(v<<shift) >> shift, nil
}

func (c *Cursor) ReadU8(offset int) (uint8, error) {
	v, err := c.ReadUint(offset, 1, BigEndian)
	return uint8(v), err
}

func (c *Cursor) ReadU16(offset int, endian Endian) (uint16, error) {
	v, err := c.ReadUint(offset, 2, endian)
	return uint16(v), err
}

func (c *Cursor) ReadU24(offset int, endian Endian) (uint32, error) {
	v, err := c.ReadUint(offset, 3, endian)
	return uint32(v), err
}

func (c *Cursor) ReadU32(offset int, endian Endian) (uint32, error) {
	v, err := c.ReadUint(offset, 4, endian)
	return uint32(v), err
}

func (c *Cursor) ReadU40(offset int, endian Endian) (uint64, error) {
	return c.ReadUint(offset, 5, endian)
}

func (c *Cursor) ReadU48(offset int, endian Endian) (uint64, error) {
	return c.ReadUint(offset, 6, endian)
}

func (c *Cursor) ReadU64(offset int, endian Endian) (uint64, error) {
	return c.ReadUint(offset, 8, endian)
}

// ReadBits reads width bits starting at bitOffset. Big endian numbers bits
// MSB-first within each byte; little endian numbers them LSB-first and puts
// the first bit read into the least significant bit of the result.
func (c *Cursor) ReadBits(bitOffset, width int, endian Endian) (uint64, error) {
	if width < 1 || width > 64 {
		return 0, errors.Errorf("cannot read %d bits, width must be between 1 and 64", width)
	}
	if bitOffset < 0 {
		return 0, newBoundsError(bitOffset/8, 1, c.length)
	}
	first := bitOffset / 8
	last := (bitOffset + width - 1) / 8
	if err := c.check(first, last-first+1); err != nil {
		return 0, err
	}
	var buf [9]byte
	raw := buf[:last-first+1]
	c.copyOut(raw, first)

	var value uint64
	for i := 0; i < width; i++ {
		pos := bitOffset - first*8 + i
		b := raw[pos/8]
		if endian == LittleEndian {
			value |= uint64((b>>(pos%8))&1) << i
		} else {
			value = value<<1 | uint64((b>>(7-pos%8))&1)
		}
	}
	return value, nil
}
