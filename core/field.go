package core

import (
	"fmt"
	"strings"

	"github.com/spf13/cast"
)

type Kind uint8

const (
	KindBytes Kind = iota
	KindUint
	KindInt
	KindBool
	KindEnum
	KindComposite
)

func (k Kind) String() string {
	switch k {
	case KindBytes:
		return "bytes"
	case KindUint:
		return "uint"
	case KindInt:
		return "int"
	case KindBool:
		return "bool"
	case KindEnum:
		return "enum"
	case KindComposite:
		return "composite"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

type Severity uint8

const (
	SeverityInfo Severity = iota
	SeverityWarn
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeverityWarn:
		return "warn"
	case SeverityError:
		return "error"
	}
	return "info"
}

type Annotation struct {
	Severity Severity
	Code     ErrorCode
	Message  string
}

func (a Annotation) String() string {
	if a.Code == CodeNone {
		return fmt.Sprintf("[%s] %s", a.Severity, a.Message)
	}
	return fmt.Sprintf("[%s:%s] %s", a.Severity, a.Code, a.Message)
}

// UnknownLength marks a field whose extent is open-ended (frame roots).
const UnknownLength = -1

// Field is one node of a decode tree. Offset and Length are in the coordinate
// space of the cursor that produced it: the frame for single-frame messages,
// the reassembled message for desegmented ones.
type Field struct {
	Kind       Kind
	Name       string
	Offset     int
	Length     int
	Raw        []byte
	Uint       uint64
	Int        int64
	Bool       bool
	Bitmask    uint64
	Rendered   string
	Children   []*Field
	Annotation *Annotation
}

func NewComposite(name string, offset, length int) *Field {
	return &Field{Kind: KindComposite, Name: name, Offset: offset, Length: length}
}

func NewRoot(name string) *Field {
	return &Field{Kind: KindComposite, Name: name, Length: UnknownLength}
}

// BytesField reads n bytes at offset of c into a Bytes leaf. Bounds failures
// come back as an Error-annotated leaf truncated to what is available.
func BytesField(name string, c *Cursor, offset, n int) *Field {
	raw, err := c.ReadBytes(offset, n)
	if err != nil {
		off := clamp(offset, 0, c.Len())
		raw, _ = c.ReadBytes(off, clamp(n, 0, c.Len()-off))
		f := &Field{Kind: KindBytes, Name: name, Offset: c.Origin() + off, Length: len(raw), Raw: raw}
		return f.Annotate(SeverityError, CodeBounds, err.Error())
	}
	return &Field{Kind: KindBytes, Name: name, Offset: c.Origin() + offset, Length: n, Raw: raw}
}

// UintField reads an unsigned integer of size bytes.
func UintField(name string, c *Cursor, offset, size int, endian Endian) (*Field, error) {
	v, err := c.ReadUint(offset, size, endian)
	if err != nil {
		return ErrorField(name, c, offset, err), err
	}
	raw, _ := c.ReadBytes(offset, size)
	return &Field{Kind: KindUint, Name: name, Offset: c.Origin() + offset, Length: size, Raw: raw, Uint: v}, nil
}

func IntField(name string, c *Cursor, offset, size int, endian Endian) (*Field, error) {
	v, err := c.ReadInt(offset, size, endian)
	if err != nil {
		return ErrorField(name, c, offset, err), err
	}
	raw, _ := c.ReadBytes(offset, size)
	return &Field{Kind: KindInt, Name: name, Offset: c.Origin() + offset, Length: size, Raw: raw, Int: v}, nil
}

// ErrorField is the leaf a decoder emits in place of a field it failed to read.
func ErrorField(name string, c *Cursor, offset int, err error) *Field {
	offset = clamp(offset, 0, c.Len())
	f := &Field{Kind: KindBytes, Name: name, Offset: c.Origin() + offset, Length: 0}
	return f.Annotate(SeverityError, codeOf(err), err.Error())
}

func (f *Field) Annotate(severity Severity, code ErrorCode, msg string) *Field {
	// keep the most severe annotation
	if f.Annotation != nil && f.Annotation.Severity > severity {
		return f
	}
	f.Annotation = &Annotation{Severity: severity, Code: code, Message: msg}
	return f
}

func (f *Field) Annotatef(severity Severity, code ErrorCode, format string, args ...any) *Field {
	return f.Annotate(severity, code, fmt.Sprintf(format, args...))
}

func (f *Field) Render(s string) *Field {
	f.Rendered = s
	return f
}

// Contains reports whether child's range lies within f's. An unknown length
// parent contains everything; an unknown length child only has to start
// inside f.
func (f *Field) Contains(child *Field) bool {
	if f.Length == UnknownLength {
		return true
	}
	if child.Length == UnknownLength {
		return child.Offset >= f.Offset && child.Offset <= f.Offset+f.Length
	}
	return child.Offset >= f.Offset && child.Offset+child.Length <= f.Offset+f.Length
}

// Add appends children. A child outside the parent's range is still kept, but
// flagged, so a decoder bug cannot silently produce an inconsistent tree.
func (f *Field) Add(children ...*Field) *Field {
	for _, child := range children {
		if child == nil {
			continue
		}
		if !f.Contains(child) {
			child.Annotatef(SeverityWarn, CodeBounds, "field range [%d,+%d) outside parent %s [%d,+%d)",
				child.Offset, child.Length, f.Name, f.Offset, f.Length)
		}
		f.Children = append(f.Children, child)
	}
	return f
}

// Walk visits f and its descendants depth first. Returning false from fn
// prunes the subtree.
func (f *Field) Walk(fn func(depth int, field *Field) bool) {
	f.walk(0, fn)
}

func (f *Field) walk(depth int, fn func(int, *Field) bool) {
	if !fn(depth, f) {
		return
	}
	for _, child := range f.Children {
		child.walk(depth+1, fn)
	}
}

// Find returns the first descendant (or f itself) named path.
func (f *Field) Find(path string) *Field {
	var found *Field
	f.Walk(func(_ int, field *Field) bool {
		if found != nil {
			return false
		}
		if field.Name == path {
			found = field
			return false
		}
		return true
	})
	return found
}

func (f *Field) FindAll(path string) []*Field {
	var res []*Field
	f.Walk(func(_ int, field *Field) bool {
		if field.Name == path {
			res = append(res, field)
		}
		return true
	})
	return res
}

func (f *Field) Annotations() []*Field {
	var res []*Field
	f.Walk(func(_ int, field *Field) bool {
		if field.Annotation != nil {
			res = append(res, field)
		}
		return true
	})
	return res
}

// HasSeverity reports whether any field in the tree carries an annotation of
// at least sev.
func (f *Field) HasSeverity(sev Severity) bool {
	for _, a := range f.Annotations() {
		if a.Annotation.Severity >= sev {
			return true
		}
	}
	return false
}

// Shift moves every offset in the tree by delta.
func (f *Field) Shift(delta int) {
	f.Walk(func(_ int, field *Field) bool {
		field.Offset += delta
		return true
	})
}

func (f *Field) Value() string {
	if f.Rendered != "" {
		return f.Rendered
	}
	switch f.Kind {
	case KindUint, KindEnum:
		return cast.ToString(f.Uint)
	case KindInt:
		return cast.ToString(f.Int)
	case KindBool:
		return cast.ToString(f.Bool)
	case KindBytes:
		return fmt.Sprintf("%x", f.Raw)
	}
	return ""
}

// Dump renders the tree one field per line.
func (f *Field) Dump() string {
	var sb strings.Builder
	f.Walk(func(depth int, field *Field) bool {
		sb.WriteString(strings.Repeat("  ", depth))
		sb.WriteString(field.Name)
		if field.Length == UnknownLength {
			fmt.Fprintf(&sb, " @%d", field.Offset)
		} else {
			fmt.Fprintf(&sb, " @%d+%d", field.Offset, field.Length)
		}
		if v := field.Value(); v != "" {
			sb.WriteString(" = ")
			sb.WriteString(v)
		}
		if field.Annotation != nil {
			sb.WriteString(" ")
			sb.WriteString(field.Annotation.String())
		}
		sb.WriteString("\n")
		return true
	})
	return sb.String()
}
