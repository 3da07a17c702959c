package dissector

import (
	"fmt"

	"github.com/vuuvv/vdissect/core"
)

const PES = "pes"

var pesSchema = core.MustParseSchema(`
value_strings:
  scrambling:
    0: Not scrambled
    1: User defined
    2: User defined
    3: User defined
  pts_dts:
    0: None
    1: Forbidden
    2: PTS only
    3: PTS and DTS
bitfields:
  flags:
    name: pes.flags
    width: 16
    fields:
      - {name: marker, mask: 0xc000}
      - {name: scrambling, mask: 0x3000, values: scrambling}
      - {name: priority, mask: 0x0800}
      - {name: alignment, mask: 0x0400}
      - {name: copyright, mask: 0x0200}
      - {name: original, mask: 0x0100}
      - {name: pts_dts, mask: 0x00c0, values: pts_dts}
      - {name: escr, mask: 0x0020}
      - {name: es_rate, mask: 0x0010}
      - {name: dsm_trick_mode, mask: 0x0008}
      - {name: additional_copy_info, mask: 0x0004}
      - {name: crc, mask: 0x0002}
      - {name: extension, mask: 0x0001}
`)

func isPESStart(c *core.Cursor) bool {
	prefix, err := c.ReadU24(0, core.BigEndian)
	return err == nil && prefix == 0x000001 && c.Len() >= 6
}

// hasOptionalHeader reports whether stream id carries the optional PES header
// (audio, video and private stream 1).
func hasOptionalHeader(streamID uint8) bool {
	return streamID == 0xbd || streamID >= 0xc0 && streamID <= 0xef
}

func probePES(c *core.Cursor, ctx *core.Context) int {
	if isPESStart(c) {
		return 50
	}
	return 0
}

// timestamp reads a 33 bit PTS/DTS spread over 5 bytes with marker bits.
func timestamp(name string, c *core.Cursor, offset int) *core.Field {
	f, err := core.UintField(name, c, offset, 5, core.BigEndian)
	if err != nil {
		return f
	}
	raw, _ := c.ReadU40(offset, core.BigEndian)
	v := (raw>>33&0x07)<<30 | (raw>>17&0x7fff)<<15 | raw>>1&0x7fff
	f.Uint = v
	return f.Render(fmt.Sprintf("%d (%.6f s)", v, float64(v)/90000))
}

func decodePES(c *core.Cursor, ctx *core.Context) core.Outcome {
	tree := core.NewComposite(PES, c.Origin(), c.Len())
	if !isPESStart(c) {
		tree.Add(core.BytesField(PES+".data", c, 0, c.Len()).
			Annotate(core.SeverityError, core.CodeDecode, "missing packet start code"))
		return core.Complete(tree, c.Len())
	}

	prefix, _ := core.UintField(PES+".start_code", c, 0, 3, core.BigEndian)
	streamID, _ := core.UintField(PES+".stream_id", c, 3, 1, core.BigEndian)
	length, _ := core.UintField(PES+".length", c, 4, 2, core.BigEndian)
	tree.Add(prefix, streamID, length)

	size := 6 + int(length.Uint)
	switch {
	case length.Uint == 0:
		// 长度为 0 表示不限长度, 一直到数据结束
		size = c.Len()
	case size > c.Len():
		length.Annotatef(core.SeverityError, core.CodeBounds, "packet declares %d bytes, %d available", size, c.Len())
		size = c.Len()
	}
	tree.Length = size
	tree.Render(fmt.Sprintf("Stream 0x%02x, %d bytes", streamID.Uint, size))

	payloadOffset := 6
	if hasOptionalHeader(uint8(streamID.Uint)) && size >= 9 {
		flags, _ := pesSchema.Bitfield("flags").Decode(c, 6)
		hlen, _ := core.UintField(PES+".header_length", c, 8, 1, core.BigEndian)
		tree.Add(flags, hlen)
		payloadOffset = 9 + int(hlen.Uint)
		if payloadOffset > size {
			hlen.Annotatef(core.SeverityError, core.CodeOverrun, "header length %d runs past the packet", hlen.Uint)
			payloadOffset = size
		}
		switch flags.Uint >> 6 & 0x03 {
		case 2:
			tree.Add(timestamp(PES+".pts", c, 9))
		case 3:
			tree.Add(timestamp(PES+".pts", c, 9), timestamp(PES+".dts", c, 14))
		}
	}

	payload, _ := c.Slice(payloadOffset, size-payloadOffset)
	if payload.Len() > 0 {
		level := 1
		if info, ok := ctx.Data.(core.StreamInfo); ok {
			level = info.Level + 1
		}
		data := core.StreamInfo{StreamID: uint8(streamID.Uint), Level: level}
		tree.Add(ctx.Dispatch(payload, core.HeuristicOnly(TablePESPayload), data))
	}
	return core.Complete(tree, size)
}

func registerPES(reg *core.Registry) error {
	err := reg.Register(&core.Dissector{Name: PES, Decode: decodePES, Schema: pesSchema})
	if err != nil {
		return err
	}
	err = reg.AddHeuristic(&core.Heuristic{Name: "pes-start-code", Table: TablePESPayload, Protocol: PES, Probe: probePES})
	if err != nil {
		return err
	}
	return reg.AddHeuristic(&core.Heuristic{Name: "pes-start-code-any", Table: core.TableAny, Protocol: PES, Probe: probePES})
}
