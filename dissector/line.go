package dissector

import (
	"bytes"
	"strings"

	"github.com/vuuvv/vdissect/core"
	"github.com/vuuvv/vdissect/framing"
)

const Line = "line"

// lineFraming splits UART text on LF; a preceding CR is part of the terminator.
var lineFraming = mustTextRule("\n", 4096)

func mustTextRule(end string, maxLen int) *framing.TextRule {
	rule := &framing.TextRule{EndDelimiter: end, MaxLen: maxLen}
	if err := rule.Setup(); err != nil {
		panic(err)
	}
	return rule
}

func printable(b byte) bool {
	return b >= 0x20 && b < 0x7f || b == '\r' || b == '\n' || b == '\t'
}

// probeLine claims payloads that start with printable ASCII.
func probeLine(c *core.Cursor, ctx *core.Context) int {
	n := min(c.Len(), 16)
	if n == 0 {
		return 0
	}
	head, err := c.ReadBytes(0, n)
	if err != nil {
		return 0
	}
	for _, b := range head {
		if !printable(b) {
			return 0
		}
	}
	return 10
}

func decodeLine(c *core.Cursor, ctx *core.Context) core.Outcome {
	return framing.Decode(lineFraming, Line, c, ctx, lineTree)
}

func lineTree(msg *core.Cursor, ctx *core.Context) *core.Field {
	data := msg.Bytes()
	body := bytes.TrimRight(data, "\r\n")

	tree := core.NewComposite(Line, msg.Origin(), msg.Len())
	text := core.BytesField(Line+".text", msg, 0, len(body))
	text.Render(strings.ToValidUTF8(string(body), "�"))
	tree.Add(text)
	if len(body) < len(data) {
		tree.Add(core.BytesField(Line+".terminator", msg, len(body), len(data)-len(body)))
	} else {
		tree.Annotate(core.SeverityWarn, core.CodeIncomplete, "line has no terminator")
	}
	return tree.Render(text.Rendered)
}

func registerLine(reg *core.Registry) error {
	err := reg.Register(&core.Dissector{Name: Line, Desegment: true, Decode: decodeLine})
	if err != nil {
		return err
	}
	return reg.AddHeuristic(&core.Heuristic{Name: "line-ascii", Table: TableSerialPayload, Protocol: Line, Probe: probeLine})
}
