package core

import (
	"fmt"

	"github.com/vuuvv/errors"

	"github.com/vuuvv/vdissect/utils"
)

// TlvHeader describes the attribute header: optional flags, a type code and a
// length whose width grows to two bytes when ExtendedLength is set in flags.
type TlvHeader struct {
	FlagsSize      int    `yaml:"flags_size"`
	TypeSize       int    `yaml:"type_size"`
	LengthSize     int    `yaml:"length_size"`
	ExtendedLength uint64 `yaml:"extended_length"`
	Endian         Endian `yaml:"endian"`
}

func (h TlvHeader) Validate() error {
	if h.FlagsSize < 0 || h.FlagsSize > 2 {
		return errors.Wrapf(ErrInvalidTlvHeader, "flags size %d", h.FlagsSize)
	}
	if h.TypeSize < 1 || h.TypeSize > 2 {
		return errors.Wrapf(ErrInvalidTlvHeader, "type size %d", h.TypeSize)
	}
	if h.LengthSize < 1 || h.LengthSize > 2 {
		return errors.Wrapf(ErrInvalidTlvHeader, "length size %d", h.LengthSize)
	}
	return nil
}

type tlvHead struct {
	flags  uint64
	typ    uint64
	vlen   int
	hlen   int
	lenLen int
}

func (h TlvHeader) read(c *Cursor, offset int) (head tlvHead, err error) {
	pos := offset
	if h.FlagsSize > 0 {
		if head.flags, err = c.ReadUint(pos, h.FlagsSize, h.Endian); err != nil {
			return head, err
		}
		pos += h.FlagsSize
	}
	if head.typ, err = c.ReadUint(pos, h.TypeSize, h.Endian); err != nil {
		return head, err
	}
	pos += h.TypeSize

	head.lenLen = h.LengthSize
	if h.ExtendedLength != 0 && head.flags&h.ExtendedLength != 0 {
		head.lenLen = 2
	}
	vlen, err := c.ReadUint(pos, head.lenLen, h.Endian)
	if err != nil {
		return head, err
	}
	pos += head.lenLen
	head.vlen = int(vlen)
	head.hlen = pos - offset
	return head, nil
}

type TlvDecodeFunc func(c *Cursor, ctx *Context, tlv *Field) error

// TlvType decodes one attribute type. Expect > 0 declares the exact value
// length the decoder understands.
type TlvType struct {
	Name   string
	Expect int
	Decode TlvDecodeFunc
}

type TlvWalker struct {
	Name   string
	Header TlvHeader
	Types  map[uint64]*TlvType
}

func NewTlvWalker(name string, header TlvHeader) (*TlvWalker, error) {
	if err := header.Validate(); err != nil {
		return nil, err
	}
	return &TlvWalker{Name: name, Header: header, Types: make(map[uint64]*TlvType)}, nil
}

func (w *TlvWalker) Register(code uint64, t *TlvType) *TlvWalker {
	w.Types[code] = t
	return w
}

// Walk decodes the attributes in the first length bytes of c and returns the
// block field (one child per attribute) and the bytes consumed. A header
// claiming more than the block holds is truncated, flagged and ends the walk;
// any other problem is flagged on its attribute and the walk continues at the
// next declared boundary.
func (w *TlvWalker) Walk(c *Cursor, length int, ctx *Context) (*Field, int) {
	block := NewComposite(w.Name, c.Origin(), length)
	if length > c.Len() {
		block.Annotatef(SeverityError, CodeBounds, "block declares %d bytes, %d available", length, c.Len())
		length = c.Len()
		block.Length = length
	}
	if length < 0 {
		length = 0
		block.Length = 0
	}
	bc, _ := c.Slice(0, length)

	consumed := 0
	for consumed < length {
		remaining := length - consumed
		head, err := w.Header.read(bc, consumed)
		if err != nil {
			tf := BytesField(w.Name+".truncated", bc, consumed, remaining)
			tf.Annotatef(SeverityError, CodeOverrun, "truncated attribute header, %d bytes left in block", remaining)
			block.Add(tf)
			consumed = length
			break
		}

		t, known := w.Types[head.typ]
		name := fmt.Sprintf("%s.type_%d", w.Name, head.typ)
		if known {
			name = w.Name + "." + t.Name
		}

		if head.hlen+head.vlen > remaining {
			declared := head.vlen
			vlen := remaining - head.hlen
			tf := NewComposite(name, bc.Origin()+consumed, remaining)
			w.addHeader(tf, bc, consumed, head)
			tf.Add(BytesField(w.Name+".value", bc, consumed+head.hlen, vlen))
			tf.Annotatef(SeverityError, CodeOverrun, "attribute type %d claims %d bytes, only %d left in block", head.typ, declared, vlen)
			block.Add(tf)
			consumed = length
			break
		}

		tf := NewComposite(name, bc.Origin()+consumed, head.hlen+head.vlen)
		w.addHeader(tf, bc, consumed, head)
		value, _ := bc.Slice(consumed+head.hlen, head.vlen)

		switch {
		case !known:
			tf.Add(BytesField(w.Name+".value", value, 0, head.vlen))
			tf.Render(fmt.Sprintf("Unknown type %d", head.typ))
		case t.Expect > 0 && head.vlen != t.Expect:
			tf.Add(BytesField(w.Name+".value", value, 0, head.vlen))
			tf.Annotatef(SeverityError, CodeLengthMismatch, "%s: expected %d bytes, header declares %d", t.Name, t.Expect, head.vlen)
		case t.Decode == nil:
			tf.Add(BytesField(w.Name+".value", value, 0, head.vlen))
		default:
			if err := safeTlvDecode(t.Decode, value, ctx, tf); err != nil {
				tf.Annotate(SeverityError, codeOf(err), err.Error())
			}
		}
		block.Add(tf)
		consumed += head.hlen + head.vlen
	}
	return block, consumed
}

func (w *TlvWalker) addHeader(tf *Field, c *Cursor, offset int, head tlvHead) {
	pos := offset
	if w.Header.FlagsSize > 0 {
		f, _ := UintField(w.Name+".flags", c, pos, w.Header.FlagsSize, w.Header.Endian)
		tf.Add(f)
		pos += w.Header.FlagsSize
	}
	f, _ := UintField(w.Name+".type", c, pos, w.Header.TypeSize, w.Header.Endian)
	tf.Add(f)
	pos += w.Header.TypeSize
	f, _ = UintField(w.Name+".length", c, pos, head.lenLen, w.Header.Endian)
	tf.Add(f)
}

func safeTlvDecode(fn TlvDecodeFunc, c *Cursor, ctx *Context, tf *Field) (err error) {
	defer utils.Catch(func(reason any) {
		err = &PanicError{Reason: reason}
	})
	return fn(c, ctx, tf)
}
