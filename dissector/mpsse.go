package dissector

import (
	"fmt"
	"strings"

	"github.com/vuuvv/vdissect/core"
)

const Mpsse = "mpsse"

const opcodeBadCommand = 0xfa

var mpsseSchema = core.MustParseSchema(`
value_strings:
  commands:
    0x80: Set Data Bits Low Byte
    0x81: Read Data Bits Low Byte
    0x82: Set Data Bits High Byte
    0x83: Read Data Bits High Byte
    0x84: Connect TDI to TDO for Loopback
    0x85: Disconnect TDI to TDO for Loopback
    0x86: Set TCK/SK Divisor
    0x87: Send Immediate
    0x88: Wait On I/O High
    0x89: Wait On I/O Low
    0x8a: Disable Clock Divide by 5
    0x8b: Enable Clock Divide by 5
    0x8c: Enable 3 Phase Data Clocking
    0x8d: Disable 3 Phase Data Clocking
    0x8e: Clock For n bits with no data transfer
    0x8f: Clock For n x 8 bits with no data transfer
    0x94: Clk continuously and Wait On I/O High
    0x95: Clk continuously and Wait On I/O Low
    0x96: Turn On Adaptive clocking
    0x97: Turn Off Adaptive clocking
    0x9c: Clock For n x 8 bits with no data transfer or Until GPIOL1 is High
    0x9d: Clock For n x 8 bits with no data transfer or Until GPIOL1 is Low
    0x9e: Set I/O to only drive on a '0' and tristate on a '1'
  edge:
    0: Rising Edge
    1: Falling Edge
  unit:
    0: Byte
    1: Bit
  bit_order:
    0: MSB First
    1: LSB First
bitfields:
  shift:
    name: mpsse.opcode
    width: 8
    fields:
      - {name: write_edge, mask: 0x01, values: edge}
      - {name: unit, mask: 0x02, values: unit}
      - {name: read_edge, mask: 0x04, values: edge}
      - {name: bit_order, mask: 0x08, values: bit_order}
      - {name: write_tdi, mask: 0x10}
      - {name: read_tdo, mask: 0x20}
      - {name: write_tms, mask: 0x40}
`)

// commandSizes holds the total size of the fixed size commands, opcode included.
var commandSizes = map[uint8]int{
	0x80: 3, 0x81: 1, 0x82: 3, 0x83: 1, 0x84: 1, 0x85: 1, 0x86: 3, 0x87: 1,
	0x88: 1, 0x89: 1, 0x8a: 1, 0x8b: 1, 0x8c: 1, 0x8d: 1, 0x8e: 2, 0x8f: 3,
	0x94: 1, 0x95: 1, 0x96: 1, 0x97: 1, 0x9c: 3, 0x9d: 3, 0x9e: 3,
}

// ClockConfig tracks the divide-by-5 prescaler of one MPSSE interface.
type ClockConfig struct {
	DivideBy5 bool
}

var slotClock = core.NewSlot[ClockConfig]("mpsse.clock")

func isShift(op uint8) bool {
	return op&0x80 == 0
}

// commandSize returns the full size of the command starting at offset 0, or
// -1 when the header itself is not complete yet.
func commandSize(c *core.Cursor) (size int, known bool) {
	op, err := c.ReadU8(0)
	if err != nil {
		return -1, true
	}
	if !isShift(op) {
		size, known = commandSizes[op]
		if !known {
			return 1, false
		}
		return size, true
	}
	switch {
	case op&0x30 == 0 && op&0x40 == 0:
		return 1, false
	case op&0x40 != 0:
		// TMS 总是按位: 长度 + 一个数据字节
		return 3, true
	case op&0x02 != 0:
		if op&0x10 != 0 {
			return 3, true
		}
		return 2, true
	}
	if op&0x10 == 0 {
		return 3, true
	}
	n, err := c.ReadU16(1, core.LittleEndian)
	if err != nil {
		return -1, true
	}
	return 3 + int(n) + 1, true
}

func describeShift(op uint8) string {
	var parts []string
	if op&0x40 != 0 {
		parts = append(parts, "TMS")
	}
	if op&0x10 != 0 {
		parts = append(parts, "Out")
	}
	if op&0x20 != 0 {
		parts = append(parts, "In")
	}
	unit := "Bytes"
	if op&0x02 != 0 || op&0x40 != 0 {
		unit = "Bits"
	}
	order := "MSB"
	if op&0x08 != 0 {
		order = "LSB"
	}
	return fmt.Sprintf("Clock Data %s %s (%s first)", unit, strings.Join(parts, "/"), order)
}

func mpsseDirection(ctx *core.Context) core.Direction {
	if info, ok := ctx.Data.(core.MpsseInfo); ok {
		return info.Direction
	}
	if ctx.Frame != nil {
		return ctx.Frame.Direction
	}
	return core.DirectionUnknown
}

func decodeMpsse(c *core.Cursor, ctx *core.Context) core.Outcome {
	if c.Len() == 0 {
		if ctx.Final {
			return core.Complete(core.NewComposite(Mpsse, c.Origin(), 0), 0)
		}
		return core.NeedMore(0, -1)
	}
	if mpsseDirection(ctx) == core.DirectionIn {
		return decodeMpsseResponse(c, ctx)
	}

	size, known := commandSize(c)
	if size < 0 || c.Len() < size {
		if !ctx.Final {
			return core.NeedMore(0, size)
		}
		if size < 0 {
			size = c.Len()
		}
	}

	op, _ := c.ReadU8(0)
	tree := core.NewComposite(Mpsse+".command", c.Origin(), size)
	if !known {
		f := enumField(Mpsse+".opcode", c, 0, 1, core.BigEndian, mpsseSchema.Values("commands"))
		tree.Add(f.Annotatef(core.SeverityWarn, core.CodeUnknownDiscriminator, "bad MPSSE opcode 0x%02x", op))
		return core.Complete(tree.Render(f.Rendered), 1)
	}

	if isShift(op) {
		decodeShift(tree, c, op, size)
	} else {
		decodeControlCommand(tree, c, ctx, op)
	}
	return core.Complete(tree, size)
}

func decodeShift(tree *core.Field, c *core.Cursor, op uint8, size int) {
	opcode, _ := mpsseSchema.Bitfield("shift").Decode(c, 0)
	tree.Add(opcode.Render(describeShift(op)))
	tree.Render(opcode.Rendered)

	bits := op&0x02 != 0 || op&0x40 != 0
	if bits {
		n, err := core.UintField(Mpsse+".length", c, 1, 1, core.BigEndian)
		if err == nil {
			n.Render(fmt.Sprintf("%d bits", n.Uint+1))
		}
		tree.Add(n)
		if size > 2 {
			tree.Add(core.BytesField(Mpsse+".data", c, 2, 1))
		}
		return
	}

	n, err := core.UintField(Mpsse+".length", c, 1, 2, core.LittleEndian)
	if err == nil {
		n.Render(fmt.Sprintf("%d bytes", n.Uint+1))
	}
	tree.Add(n)
	if op&0x10 != 0 && err == nil {
		tree.Add(core.BytesField(Mpsse+".data", c, 3, int(n.Uint)+1))
	}
}

func decodeControlCommand(tree *core.Field, c *core.Cursor, ctx *core.Context, op uint8) {
	opcode := enumField(Mpsse+".opcode", c, 0, 1, core.BigEndian, mpsseSchema.Values("commands"))
	tree.Add(opcode)
	tree.Render(opcode.Rendered)
	flow := ctx.Flow()

	switch op {
	case 0x80, 0x82, 0x9e:
		value, _ := core.UintField(Mpsse+".value", c, 1, 1, core.BigEndian)
		dir, _ := core.UintField(Mpsse+".direction", c, 2, 1, core.BigEndian)
		if op == 0x9e {
			value.Name, dir.Name = Mpsse+".tristate_low", Mpsse+".tristate_high"
		}
		tree.Add(value.Render(fmt.Sprintf("0b%08b", value.Uint)), dir.Render(fmt.Sprintf("0b%08b", dir.Uint)))
	case 0x86:
		div, err := core.UintField(Mpsse+".divisor", c, 1, 2, core.LittleEndian)
		if err == nil {
			cfg, known := core.GetAtOrBefore(ctx.Conversations(), flow, slotClock, ctx.FrameNumber())
			base := 60_000_000.0
			// 未见过 0x8a 时按上电默认的 12MHz 计算
			if !known || cfg.DivideBy5 {
				base = 12_000_000.0
			}
			div.Render(fmt.Sprintf("%d (%.0f Hz)", div.Uint, base/float64((1+div.Uint)*2)))
		}
		tree.Add(div)
	case 0x8a, 0x8b:
		if !ctx.Final {
			core.Put(ctx.Conversations(), flow, slotClock, ctx.FrameNumber(), ClockConfig{DivideBy5: op == 0x8b})
		}
	case 0x8e:
		n, err := core.UintField(Mpsse+".length", c, 1, 1, core.BigEndian)
		if err == nil {
			n.Render(fmt.Sprintf("%d bits", n.Uint+1))
		}
		tree.Add(n)
	case 0x8f, 0x9c, 0x9d:
		n, err := core.UintField(Mpsse+".length", c, 1, 2, core.LittleEndian)
		if err == nil {
			n.Render(fmt.Sprintf("%d bits", (n.Uint+1)*8))
		}
		tree.Add(n)
	}
}

func decodeMpsseResponse(c *core.Cursor, ctx *core.Context) core.Outcome {
	op, _ := c.ReadU8(0)
	if op != opcodeBadCommand {
		tree := core.BytesField(Mpsse+".response", c, 0, c.Len())
		return core.Complete(tree, c.Len())
	}
	if c.Len() < 2 && !ctx.Final {
		return core.NeedMore(0, 2)
	}
	tree := core.NewComposite(Mpsse+".bad_command", c.Origin(), min(2, c.Len()))
	marker, _ := core.UintField(Mpsse+".response.code", c, 0, 1, core.BigEndian)
	tree.Add(marker.Render("Bad Command"))
	opcode := enumField(Mpsse+".response.opcode", c, 1, 1, core.BigEndian, mpsseSchema.Values("commands"))
	tree.Add(opcode)
	tree.Annotatef(core.SeverityWarn, core.CodeNone, "device rejected opcode 0x%02x", opcode.Uint)
	return core.Complete(tree, tree.Length)
}

func registerMpsse(reg *core.Registry) error {
	return reg.Register(&core.Dissector{Name: Mpsse, Desegment: true, Decode: decodeMpsse, Schema: mpsseSchema})
}
