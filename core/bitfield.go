package core

import (
	"fmt"

	"github.com/vuuvv/errors"
)

// ValueStrings maps raw values to display strings.
type ValueStrings map[uint64]string

func (v ValueStrings) Lookup(val uint64) string {
	if s, ok := v[val]; ok {
		return s
	}
	return fmt.Sprintf("Unknown (%d)", val)
}

type BitDescriptor struct {
	Name   string       `yaml:"name"`
	Mask   uint64       `yaml:"mask"`
	Values string       `yaml:"values"` // value_strings table name
	Table  ValueStrings `yaml:"-"`
}

// Bitfield splits one integer into named sub-fields by mask. Descriptors are
// evaluated in order and may overlap.
type Bitfield struct {
	Name   string           `yaml:"name"`
	Width  int              `yaml:"width"`
	Endian Endian           `yaml:"endian"`
	Fields []*BitDescriptor `yaml:"fields"`
}

func NewBitfield(name string, width int, endian Endian, fields ...*BitDescriptor) (*Bitfield, error) {
	b := &Bitfield{Name: name, Width: width, Endian: endian, Fields: fields}
	if err := b.Setup(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Bitfield) Setup() error {
	switch b.Width {
	case 8, 16, 32, 64:
	default:
		return errors.Wrapf(ErrInvalidBitfield, "bitfield %s: width %d not one of 8/16/32/64", b.Name, b.Width)
	}
	limit := WidthMask(b.Width)
	for _, d := range b.Fields {
		if d.Mask == 0 {
			return errors.Wrapf(ErrInvalidBitfield, "bitfield %s: field %s has an empty mask", b.Name, d.Name)
		}
		if d.Mask&^limit != 0 {
			return errors.Wrapf(ErrInvalidBitfield, "bitfield %s: mask %#x of %s exceeds %d bits", b.Name, d.Mask, d.Name, b.Width)
		}
	}
	return nil
}

// Decode reads the base integer at offset and expands it.
func (b *Bitfield) Decode(c *Cursor, offset int) (*Field, error) {
	base, err := UintField(b.Name, c, offset, b.Width/8, b.Endian)
	if err != nil {
		return base, err
	}
	return b.Expand(base), nil
}

// Expand turns an already read integer field into the synthetic parent
// holding the raw value plus one child per descriptor.
func (b *Bitfield) Expand(base *Field) *Field {
	parent := &Field{
		Kind:   KindUint,
		Name:   base.Name,
		Offset: base.Offset,
		Length: base.Length,
		Raw:    base.Raw,
		Uint:   base.Uint & WidthMask(b.Width),
	}
	if base.Annotation != nil {
		parent.Annotation = base.Annotation
	}
	parent.Rendered = fmt.Sprintf("0x%0*x", b.Width/4, parent.Uint)

	for _, d := range b.Fields {
		v := (parent.Uint & d.Mask) >> LowestSetBit(d.Mask)
		child := &Field{
			Kind:    KindUint,
			Name:    b.Name + "." + d.Name,
			Offset:  parent.Offset,
			Length:  parent.Length,
			Raw:     parent.Raw,
			Uint:    v,
			Bitmask: d.Mask,
		}
		switch {
		case d.Table != nil:
			child.Kind = KindEnum
			child.Rendered = d.Table.Lookup(v)
		case d.Mask&(d.Mask-1) == 0:
			child.Kind = KindBool
			child.Bool = v != 0
		}
		parent.Children = append(parent.Children, child)
	}
	return parent
}

// Reassemble ORs the children of an expanded field back into an integer.
func Reassemble(parent *Field) uint64 {
	var v uint64
	for _, child := range parent.Children {
		if child.Bitmask == 0 {
			continue
		}
		v |= child.Uint << LowestSetBit(child.Bitmask)
	}
	return v
}
