package dissector

import (
	"fmt"

	"github.com/google/gopacket"

	"github.com/vuuvv/vdissect/core"
)

const (
	Serial        = "serial"
	SerialControl = "serial.control"

	VendorFTDI = 0x0403
)

const (
	requestReset          = 0x00
	requestModemCtrl      = 0x01
	requestSetFlowCtrl    = 0x02
	requestSetBaudRate    = 0x03
	requestSetData        = 0x04
	requestGetModemStatus = 0x05
	requestSetLatency     = 0x09
	requestGetLatency     = 0x0a
	requestSetBitmode     = 0x0b
	requestReadPins       = 0x0c
)

const (
	BitmodeReset   = 0x00
	BitmodeBitbang = 0x01
	BitmodeMPSSE   = 0x02
)

// Bitmode is what SET_BITMODE last configured on one interface.
type Bitmode struct {
	Mode uint8
	Mask uint8
}

var slotBitmode = core.NewSlot[Bitmode]("serial.bitmode")

var serialSchema = core.MustParseSchema(`
value_strings:
  requests:
    0x00: Reset
    0x01: ModemCtrl
    0x02: SetFlowCtrl
    0x03: SetBaudRate
    0x04: SetData
    0x05: GetModemStatus
    0x06: SetEventChar
    0x07: SetErrorChar
    0x09: SetLatencyTimer
    0x0a: GetLatencyTimer
    0x0b: SetBitMode
    0x0c: ReadPins
  bitmodes:
    0x00: Reset
    0x01: Asynchronous Bit-Bang
    0x02: MPSSE
    0x04: Synchronous Bit-Bang
    0x08: MCU Host Bus Emulation
    0x10: Fast Opto-Isolated Serial
    0x20: CBUS Bit-Bang
    0x40: Single Channel Synchronous FIFO
  direction:
    0: Host-to-device
    1: Device-to-host
  request_kind:
    0: Standard
    1: Class
    2: Vendor
    3: Reserved
  recipient:
    0: Device
    1: Interface
    2: Endpoint
    3: Other
  parity:
    0: None
    1: Odd
    2: Even
    3: Mark
    4: Space
  stop_bits:
    0: "1"
    1: "1.5"
    2: "2"
bitfields:
  request_type:
    name: serial.control.request_type
    width: 8
    fields:
      - {name: direction, mask: 0x80, values: direction}
      - {name: type, mask: 0x60, values: request_kind}
      - {name: recipient, mask: 0x1f, values: recipient}
  modem_status:
    name: serial.modem_status
    width: 8
    fields:
      - {name: fs_max_packet, mask: 0x01}
      - {name: hs_max_packet, mask: 0x02}
      - {name: cts, mask: 0x10}
      - {name: dsr, mask: 0x20}
      - {name: ri, mask: 0x40}
      - {name: dcd, mask: 0x80}
  line_status:
    name: serial.line_status
    width: 8
    fields:
      - {name: data_ready, mask: 0x01}
      - {name: overrun_error, mask: 0x02}
      - {name: parity_error, mask: 0x04}
      - {name: framing_error, mask: 0x08}
      - {name: break_interrupt, mask: 0x10}
      - {name: tx_holding_empty, mask: 0x20}
      - {name: tx_empty, mask: 0x40}
      - {name: rx_fifo_error, mask: 0x80}
  line_property:
    name: serial.control.line_property
    width: 16
    endian: little
    fields:
      - {name: data_bits, mask: 0x00ff}
      - {name: parity, mask: 0x0700, values: parity}
      - {name: stop_bits, mask: 0x1800, values: stop_bits}
      - {name: break, mask: 0x4000}
`)

// baud rate sub-integer divisors, indexed by the 3 bit fraction code
var baudFractions = [8]float64{0, 0.5, 0.25, 0.125, 0.375, 0.625, 0.75, 0.875}

// interfaceOf returns the interface number of a bus flow, 1 for interface A.
func interfaceOf(flow core.FlowKey) uint8 {
	_, dst := flow.Net.Endpoints()
	if dst.EndpointType() != core.EndpointBus || len(dst.Raw()) != 4 {
		return uint8(flow.Stream)
	}
	return dst.Raw()[3]
}

// interfaceFlow moves a device level flow (control endpoint) to the flow of
// one of its interfaces.
func interfaceFlow(flow core.FlowKey, iface uint8) core.FlowKey {
	src, dst := flow.Net.Endpoints()
	if dst.EndpointType() != core.EndpointBus || len(dst.Raw()) != 4 {
		flow.Stream = uint64(iface)
		return flow
	}
	raw := append([]byte(nil), dst.Raw()...)
	raw[3] = iface
	flow.Net = gopacket.NewFlow(core.EndpointBus, src.Raw(), raw)
	return flow
}

func enumField(name string, c *core.Cursor, offset, size int, endian core.Endian, table core.ValueStrings) *core.Field {
	f, err := core.UintField(name, c, offset, size, endian)
	if err != nil {
		return f
	}
	f.Kind = core.KindEnum
	return f.Render(table.Lookup(f.Uint))
}

func decodeSerial(c *core.Cursor, ctx *core.Context) core.Outcome {
	tree := core.NewComposite(Serial, c.Origin(), c.Len())
	flow := ctx.Flow()
	direction := ctx.Frame.Direction

	payloadOffset := 0
	if direction == core.DirectionIn {
		// 每个 IN 包前两个字节是 modem status 和 line status
		if c.Len() < 2 {
			tree.Add(core.BytesField(Serial+".status", c, 0, c.Len()).
				Annotatef(core.SeverityError, core.CodeBounds, "status header needs 2 bytes, %d available", c.Len()))
			return core.Complete(tree, c.Len())
		}
		modem, _ := serialSchema.Bitfield("modem_status").Decode(c, 0)
		line, _ := serialSchema.Bitfield("line_status").Decode(c, 1)
		tree.Add(modem, line)
		payloadOffset = 2
	}

	mode, from, known := core.GetWithFrame(ctx.Conversations(), flow, slotBitmode, ctx.FrameNumber())
	mf := &core.Field{Kind: core.KindEnum, Name: Serial + ".bitmode", Offset: c.Origin(), Uint: uint64(mode.Mode)}
	if known {
		mf.Render(fmt.Sprintf("%s (set in frame %d)", serialSchema.Values("bitmodes").Lookup(uint64(mode.Mode)), from))
	} else {
		mf.Render("Reset (default)")
	}
	tree.Add(mf)

	payload, _ := c.Tail(payloadOffset)
	switch {
	case mode.Mode == BitmodeMPSSE:
		info := core.MpsseInfo{Interface: interfaceOf(flow), Bitmode: mode.Mode, Direction: direction}
		tree.Add(ctx.CallStream(Mpsse, payload, info))
	case payload.Len() > 0:
		tree.Add(ctx.DispatchStream(payload, core.HeuristicOnly(TableSerialPayload), nil))
	}
	return core.Complete(tree, c.Len())
}

func decodeSerialControl(c *core.Cursor, ctx *core.Context) core.Outcome {
	tree := core.NewComposite(SerialControl, c.Origin(), c.Len())
	if c.Len() < 8 {
		tree.Add(core.BytesField(SerialControl+".setup", c, 0, c.Len()).
			Annotatef(core.SeverityError, core.CodeBounds, "setup packet needs 8 bytes, %d available", c.Len()))
		return core.Complete(tree, c.Len())
	}

	requestType, _ := serialSchema.Bitfield("request_type").Decode(c, 0)
	request := enumField(SerialControl+".request", c, 1, 1, core.BigEndian, serialSchema.Values("requests"))
	value, _ := core.UintField(SerialControl+".value", c, 2, 2, core.LittleEndian)
	index, _ := core.UintField(SerialControl+".index", c, 4, 2, core.LittleEndian)
	length, _ := core.UintField(SerialControl+".length", c, 6, 2, core.LittleEndian)
	tree.Add(requestType, request, value, index, length)

	iface := uint8(index.Uint)
	if iface == 0 {
		// 单接口芯片用 0 表示接口 A
		iface = 1
	}
	hostToDevice := requestType.Uint&0x80 == 0

	switch request.Uint {
	case requestSetBitmode:
		mask, _ := core.UintField(SerialControl+".bitmode.mask", c, 2, 1, core.BigEndian)
		mode := enumField(SerialControl+".bitmode.mode", c, 3, 1, core.BigEndian, serialSchema.Values("bitmodes"))
		tree.Add(mask.Render(fmt.Sprintf("0x%02x", mask.Uint)), mode)
		if hostToDevice {
			core.Put(ctx.Conversations(), interfaceFlow(ctx.Flow(), iface), slotBitmode, ctx.FrameNumber(),
				Bitmode{Mode: uint8(mode.Uint), Mask: uint8(mask.Uint)})
		}
	case requestSetBaudRate:
		divisor := value.Uint & 0x3fff
		code := value.Uint>>14 | (index.Uint>>8&1)<<2
		var baud float64
		switch {
		case divisor == 0 && code == 0:
			baud = 3000000
		case divisor == 1 && code == 0:
			baud = 2000000
		default:
			baud = 3000000 / (float64(divisor) + baudFractions[code&7])
		}
		br := &core.Field{Kind: core.KindUint, Name: SerialControl + ".baud_rate", Offset: value.Offset, Length: 2, Uint: uint64(baud)}
		tree.Add(br.Render(fmt.Sprintf("%.0f baud", baud)))
	case requestSetData:
		lp, _ := serialSchema.Bitfield("line_property").Decode(c, 2)
		tree.Add(lp)
	case requestSetLatency:
		lt, _ := core.UintField(SerialControl+".latency", c, 2, 1, core.BigEndian)
		tree.Add(lt.Render(fmt.Sprintf("%d ms", lt.Uint)))
	case requestReset, requestModemCtrl, requestSetFlowCtrl, requestGetModemStatus, requestGetLatency, requestReadPins:
	default:
		request.Annotatef(core.SeverityWarn, core.CodeUnknownDiscriminator, "unknown vendor request 0x%02x", request.Uint)
	}

	if c.Len() > 8 {
		tree.Add(core.BytesField(SerialControl+".data", c, 8, c.Len()-8))
	}
	return core.Complete(tree, c.Len())
}

var ftdiProducts = []uint16{0x6001, 0x6010, 0x6011, 0x6014, 0x6015}

func registerSerial(reg *core.Registry) error {
	var bulk, control []core.Discriminator
	for _, product := range ftdiProducts {
		bulk = append(bulk, core.Discriminator{Table: TableUSBBulk, Value: USBDevice(VendorFTDI, product)})
		control = append(control, core.Discriminator{Table: TableUSBControl, Value: USBDevice(VendorFTDI, product)})
	}
	err := reg.RegisterFor(&core.Dissector{Name: Serial, Decode: decodeSerial, Schema: serialSchema}, bulk...)
	if err != nil {
		return err
	}
	return reg.RegisterFor(&core.Dissector{Name: SerialControl, Decode: decodeSerialControl, Schema: serialSchema}, control...)
}
