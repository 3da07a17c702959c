package dissector

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/fxamacker/cbor/v2"

	"github.com/vuuvv/vdissect/core"
)

const Cbor = "cbor"

const (
	cborUint = iota
	cborNegInt
	cborBytes
	cborText
	cborArray
	cborMap
	cborTag
	cborSimple
)

const cborBreak = 0xff

// tag 24: embedded CBOR data item
const tagEncodedCBOR = 24

// self-describe tag 55799 as it appears on the wire
const selfDescribe = 0xd9d9f7

var cborSchema = core.MustParseSchema(`
value_strings:
  major_types:
    0: Unsigned Integer
    1: Negative Integer
    2: Byte String
    3: Text String
    4: Array
    5: Map
    6: Tag
    7: Simple/Float
`)

func cborHeaderLen(info uint8) int {
	switch {
	case info < 24, info == 31:
		return 1
	case info == 24:
		return 2
	case info == 25:
		return 3
	case info == 26:
		return 5
	case info == 27:
		return 9
	}
	return 1
}

// cborSplit cuts a run of encoded items into their encodings. An indefinite
// run ends at the break byte.
func cborSplit(content []byte, indefinite bool) ([][]byte, error) {
	var items [][]byte
	for len(content) > 0 {
		if indefinite && content[0] == cborBreak {
			return items, nil
		}
		var elem cbor.RawMessage
		rest, err := cbor.UnmarshalFirst(content, &elem)
		if err != nil {
			return items, err
		}
		n := len(content) - len(rest)
		items = append(items, content[:n])
		content = rest
	}
	return items, nil
}

func probeCbor(c *core.Cursor, ctx *core.Context) int {
	first, err := c.ReadU8(0)
	if err != nil {
		return 0
	}
	major := first >> 5
	if major != cborArray && major != cborMap {
		if tag, err := c.ReadU24(0, core.BigEndian); err != nil || tag != selfDescribe {
			return 0
		}
	}
	data := c.Bytes()
	if cbor.Wellformed(data) == nil {
		return 20
	}
	var raw cbor.RawMessage
	_, err = cbor.UnmarshalFirst(data, &raw)
	switch {
	case err == nil:
		return 15
	case errors.Is(err, io.ErrUnexpectedEOF):
		return 5
	}
	return 0
}

func decodeCbor(c *core.Cursor, ctx *core.Context) core.Outcome {
	data := c.Bytes()
	var raw cbor.RawMessage
	rest, err := cbor.UnmarshalFirst(data, &raw)
	if err != nil {
		if (errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF)) && !ctx.Final {
			return core.NeedMore(0, -1)
		}
		f := core.BytesField(Cbor, c, 0, c.Len())
		f.Annotate(core.SeverityError, core.CodeDecode, err.Error())
		return core.Complete(f, c.Len())
	}

	n := len(data) - len(rest)
	tree := core.NewComposite(Cbor, c.Origin(), n)
	item := cborItem(Cbor+".item", c, 0, data[:n], ctx)
	tree.Add(item)
	if rd, ok := ctx.Data.(core.RequestData); ok {
		tree.Render(fmt.Sprintf("CBOR %s in PDU seq %d", item.Rendered, rd.Sequence))
	} else {
		tree.Render("CBOR " + item.Rendered)
	}
	return core.Complete(tree, n)
}

// cborItem builds the field for the item encoded by raw, which starts at
// offset in c.
func cborItem(name string, c *core.Cursor, offset int, raw []byte, ctx *core.Context) *core.Field {
	major, info := raw[0]>>5, raw[0]&0x1f
	hl := min(cborHeaderLen(info), len(raw))
	arg := uint64(info)
	if hl > 1 {
		arg, _ = c.ReadUint(offset+1, hl-1, core.BigEndian)
	}
	indefinite := info == 31

	f := &core.Field{Kind: core.KindComposite, Name: name, Offset: c.Origin() + offset, Length: len(raw), Raw: raw}
	switch major {
	case cborUint:
		f.Kind, f.Uint = core.KindUint, arg
	case cborNegInt:
		f.Kind, f.Int = core.KindInt, -1-int64(arg)
	case cborBytes, cborText:
		if indefinite {
			cborChildren(f, Cbor+".chunk", c, offset+hl, raw[hl:], true, ctx)
			f.Render(fmt.Sprintf("%s (%d chunks)", cborSchema.Values("major_types").Lookup(uint64(major)), len(f.Children)))
			break
		}
		f.Kind = core.KindBytes
		if major == cborText {
			f.Render(fmt.Sprintf("%q", strings.ToValidUTF8(string(raw[hl:]), "�")))
		} else {
			f.Render(fmt.Sprintf("h'%x'", raw[hl:]))
		}
	case cborArray:
		cborChildren(f, Cbor+".item", c, offset+hl, raw[hl:], indefinite, ctx)
		f.Render(fmt.Sprintf("array(%d)", len(f.Children)))
	case cborMap:
		cborChildren(f, "", c, offset+hl, raw[hl:], indefinite, ctx)
		f.Render(fmt.Sprintf("map(%d)", len(f.Children)/2))
	case cborTag:
		f.Uint = arg
		content := raw[hl:]
		if arg == tagEncodedCBOR && len(content) > 0 && content[0]>>5 == cborBytes {
			inner := cborItem(Cbor+".encoded", c, offset+hl, content, ctx)
			ih := min(cborHeaderLen(content[0]&0x1f), len(content))
			if ec, err := c.Slice(offset+hl+ih, len(content)-ih); err == nil && ec.Len() > 0 {
				inner.Add(ctx.Call(Cbor, ec, nil))
			}
			f.Add(inner)
		} else if len(content) > 0 {
			f.Add(cborItem(Cbor+".content", c, offset+hl, content, ctx))
		}
		f.Render(fmt.Sprintf("tag(%d)", arg))
	case cborSimple:
		cborSimpleValue(f, info, arg, raw)
	}
	return f
}

func cborChildren(f *core.Field, name string, c *core.Cursor, offset int, content []byte, indefinite bool, ctx *core.Context) {
	items, err := cborSplit(content, indefinite)
	pos := offset
	for i, item := range items {
		childName := name
		if childName == "" {
			childName = Cbor + ".key"
			if i%2 == 1 {
				childName = Cbor + ".value"
			}
		}
		f.Add(cborItem(childName, c, pos, item, ctx))
		pos += len(item)
	}
	if err != nil {
		f.Annotate(core.SeverityError, core.CodeDecode, err.Error())
	}
}

func cborSimpleValue(f *core.Field, info uint8, arg uint64, raw []byte) {
	switch info {
	case 20, 21:
		f.Kind, f.Bool = core.KindBool, info == 21
	case 22:
		f.Kind = core.KindBytes
		f.Render("null")
	case 23:
		f.Kind = core.KindBytes
		f.Render("undefined")
	case 25, 26, 27:
		var v float64
		f.Kind = core.KindBytes
		if err := cbor.Unmarshal(raw, &v); err != nil {
			f.Annotate(core.SeverityError, core.CodeDecode, err.Error())
			break
		}
		f.Render(fmt.Sprint(v))
	default:
		f.Kind, f.Uint = core.KindUint, arg
		f.Render(fmt.Sprintf("simple(%d)", arg))
	}
}

func registerCbor(reg *core.Registry) error {
	err := reg.Register(&core.Dissector{Name: Cbor, Desegment: true, Decode: decodeCbor, Schema: cborSchema})
	if err != nil {
		return err
	}
	return reg.AddHeuristic(&core.Heuristic{Name: "cbor-container", Table: core.TableAny, Protocol: Cbor, Probe: probeCbor})
}
