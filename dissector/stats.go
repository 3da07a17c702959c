package dissector

import (
	"fmt"
	"strings"
	"time"

	"github.com/vuuvv/vdissect/core"
)

const (
	Stats     = "stats"
	StatsPort = 47800

	statsHeaderSize = 8
)

const (
	pduAnnounce = 1
	pduConfirm  = 2
	pduReport   = 3
)

const (
	attrCounterID    = 1
	attrCounterName  = 2
	attrCount        = 3
	attrCounterValue = 4
	attrTimestamp    = 5
	attrEmbedded     = 6
)

// NameTable maps counter identifiers to the names announced for them.
type NameTable map[uint16]string

func (t NameTable) clone() NameTable {
	res := make(NameTable, len(t))
	for k, v := range t {
		res[k] = v
	}
	return res
}

var (
	// names announced but not yet confirmed
	slotStagedNames = core.NewSlot[NameTable]("stats.staged_names")
	// names confirmed by a NAME_CONFIRM whose count matched the staged set
	slotCounterNames = core.NewSlot[NameTable]("stats.counter_names")
)

var statsSchema = core.MustParseSchema(`
value_strings:
  pdu_types:
    1: Name Announce
    2: Name Confirm
    3: Report
`)

var statsWalker = newStatsWalker()

func newStatsWalker() *core.TlvWalker {
	w, err := core.NewTlvWalker(Stats+".attr", core.TlvHeader{
		FlagsSize:      1,
		TypeSize:       1,
		LengthSize:     1,
		ExtendedLength: 0x80,
	})
	if err != nil {
		panic(err)
	}
	w.Register(attrCounterID, &core.TlvType{Name: "counter_id", Expect: 2, Decode: decodeCounterID}).
		Register(attrCounterName, &core.TlvType{Name: "counter_name", Decode: decodeCounterName}).
		Register(attrCount, &core.TlvType{Name: "count", Expect: 4, Decode: decodeCount}).
		Register(attrCounterValue, &core.TlvType{Name: "counter_value", Expect: 10, Decode: decodeCounterValue}).
		Register(attrTimestamp, &core.TlvType{Name: "timestamp", Expect: 8, Decode: decodeTimestamp}).
		Register(attrEmbedded, &core.TlvType{Name: "embedded"})
	return w
}

func decodeCounterID(c *core.Cursor, ctx *core.Context, tlv *core.Field) error {
	f, err := core.UintField(Stats+".counter_id", c, 0, 2, core.BigEndian)
	tlv.Add(f)
	if err != nil {
		return err
	}
	tlv.Render(fmt.Sprintf("Counter ID %d", f.Uint))
	return nil
}

func decodeCounterName(c *core.Cursor, ctx *core.Context, tlv *core.Field) error {
	f := core.BytesField(Stats+".counter_name", c, 0, c.Len())
	f.Render(strings.ToValidUTF8(string(f.Raw), "�"))
	tlv.Add(f)
	tlv.Render("Counter Name " + f.Rendered)
	return nil
}

func decodeCount(c *core.Cursor, ctx *core.Context, tlv *core.Field) error {
	f, err := core.UintField(Stats+".count", c, 0, 4, core.BigEndian)
	tlv.Add(f)
	return err
}

// decodeCounterValue resolves the counter name with the table that was
// confirmed at or before the current frame.
func decodeCounterValue(c *core.Cursor, ctx *core.Context, tlv *core.Field) error {
	id, err := core.UintField(Stats+".counter_id", c, 0, 2, core.BigEndian)
	tlv.Add(id)
	if err != nil {
		return err
	}
	value, err := core.UintField(Stats+".value", c, 2, 8, core.BigEndian)
	tlv.Add(value)
	if err != nil {
		return err
	}

	names, _ := core.GetAtOrBefore(ctx.Conversations(), ctx.Flow(), slotCounterNames, ctx.FrameNumber())
	name, ok := names[uint16(id.Uint)]
	if !ok {
		name = fmt.Sprintf("Unknown (%d)", id.Uint)
	}
	id.Kind = core.KindEnum
	id.Render(name)
	tlv.Render(fmt.Sprintf("%s = %d", name, value.Uint))
	return nil
}

func decodeTimestamp(c *core.Cursor, ctx *core.Context, tlv *core.Field) error {
	f, err := core.UintField(Stats+".timestamp", c, 0, 8, core.BigEndian)
	tlv.Add(f)
	if err != nil {
		return err
	}
	f.Render(time.Unix(0, int64(f.Uint)).UTC().Format(time.RFC3339Nano))
	return nil
}

func decodeStats(c *core.Cursor, ctx *core.Context) core.Outcome {
	tree := core.NewComposite(Stats, c.Origin(), c.Len())
	offset := 0
	for offset < c.Len() {
		pdu, n := decodeStatsPDU(c, offset, ctx)
		tree.Add(pdu)
		offset += n
	}
	return core.Complete(tree, c.Len())
}

func decodeStatsPDU(c *core.Cursor, offset int, ctx *core.Context) (*core.Field, int) {
	remaining := c.Len() - offset
	if remaining < statsHeaderSize {
		f := core.BytesField(Stats+".truncated", c, offset, remaining)
		return f.Annotatef(core.SeverityError, core.CodeBounds, "PDU header needs %d bytes, %d left", statsHeaderSize, remaining), remaining
	}
	pc, _ := c.Slice(offset, remaining)

	version, _ := core.UintField(Stats+".version", pc, 0, 1, core.BigEndian)
	pduType := enumField(Stats+".type", pc, 1, 1, core.BigEndian, statsSchema.Values("pdu_types"))
	sequence, _ := core.UintField(Stats+".sequence", pc, 2, 4, core.BigEndian)
	length, _ := core.UintField(Stats+".length", pc, 6, 2, core.BigEndian)

	size := int(length.Uint)
	switch {
	case size < statsHeaderSize:
		length.Annotatef(core.SeverityError, core.CodeLengthMismatch, "PDU length %d shorter than its header", size)
		size = remaining
	case size > remaining:
		length.Annotatef(core.SeverityError, core.CodeBounds, "PDU declares %d bytes, %d left", size, remaining)
		size = remaining
	}

	pdu := core.NewComposite(Stats+".pdu", pc.Origin(), size)
	pdu.Add(version, pduType, sequence, length)
	pdu.Render(fmt.Sprintf("%s, seq %d", pduType.Rendered, sequence.Uint))

	body, _ := pc.Slice(statsHeaderSize, size-statsHeaderSize)
	block, _ := statsWalker.Walk(body, body.Len(), ctx)
	pdu.Add(block)

	switch pduType.Uint {
	case pduAnnounce:
		stageNames(block, ctx)
	case pduConfirm:
		confirmNames(pdu, block, ctx)
	}

	data := core.RequestData{Sequence: uint32(sequence.Uint), PduType: uint8(pduType.Uint)}
	for _, attr := range block.FindAll(Stats + ".attr.embedded") {
		value := attr.Find(Stats + ".attr.value")
		if value == nil || value.Annotation != nil {
			continue
		}
		vc, err := body.Slice(value.Offset-body.Origin(), value.Length)
		if err != nil {
			continue
		}
		attr.Add(ctx.Dispatch(vc, core.HeuristicOnly(TableStatsEmbedded), data))
	}
	return pdu, size
}

// stageNames adds each (counter_id, counter_name) pair of an announce PDU to
// the staged table. A name without a preceding id is flagged.
func stageNames(block *core.Field, ctx *core.Context) {
	store, flow, frame := ctx.Conversations(), ctx.Flow(), ctx.FrameNumber()
	staged, _ := core.GetAtOrBefore(store, flow, slotStagedNames, frame)
	next := staged.clone()

	var id *core.Field
	for _, attr := range block.Children {
		switch attr.Name {
		case Stats + ".attr.counter_id":
			id = attr.Find(Stats + ".counter_id")
		case Stats + ".attr.counter_name":
			name := attr.Find(Stats + ".counter_name")
			if id == nil || name == nil {
				attr.Annotate(core.SeverityWarn, core.CodeDecode, "counter name without a counter id")
				continue
			}
			next[uint16(id.Uint)] = name.Rendered
			id = nil
		}
	}
	core.Put(store, flow, slotStagedNames, frame, next)
}

// confirmNames commits the staged names once the confirmed count matches what
// was staged; otherwise the staged set is dropped.
func confirmNames(pdu, block *core.Field, ctx *core.Context) {
	store, flow, frame := ctx.Conversations(), ctx.Flow(), ctx.FrameNumber()
	count := block.Find(Stats + ".count")
	if count == nil || count.Annotation != nil {
		pdu.Annotate(core.SeverityWarn, core.CodeDecode, "name confirm without a count")
		return
	}
	staged, _ := core.GetAtOrBefore(store, flow, slotStagedNames, frame)
	core.Put(store, flow, slotStagedNames, frame, NameTable{})

	if uint64(len(staged)) != count.Uint {
		pdu.Annotatef(core.SeverityWarn, core.CodeLengthMismatch, "confirm counts %d names, %d staged; names discarded", count.Uint, len(staged))
		return
	}
	names, _ := core.GetAtOrBefore(store, flow, slotCounterNames, frame)
	committed := names.clone()
	for k, v := range staged {
		committed[k] = v
	}
	core.Put(store, flow, slotCounterNames, frame, committed)
	pdu.Annotatef(core.SeverityInfo, core.CodeNone, "%d counter names committed", len(staged))
}

func registerStats(reg *core.Registry) error {
	return reg.RegisterFor(&core.Dissector{Name: Stats, Decode: decodeStats, Schema: statsSchema}, core.UDPPort(StatsPort))
}
