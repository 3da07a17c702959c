package dissector

import (
	"bytes"
	"fmt"

	"github.com/vuuvv/errors"

	"github.com/vuuvv/vdissect/core"
	"github.com/vuuvv/vdissect/framing"
)

// FramedConfig declares a protocol from configuration: a framing rule cuts
// the stream into messages, the payload after Header bytes is handed to the
// heuristics of the "<name>.payload" table.
type FramedConfig struct {
	Name    string       `yaml:"name"`
	Table   string       `yaml:"table"`
	Value   any          `yaml:"value"`
	Header  int          `yaml:"header"`
	Framing framing.Spec `yaml:"framing"`
}

func (this *FramedConfig) Setup() error {
	if this.Name == "" {
		return errors.New("framed protocol needs a name")
	}
	if this.Framing.Rule == nil {
		return errors.Errorf("framed protocol %s needs a framing rule", this.Name)
	}
	if this.Header < 0 {
		return errors.Errorf("framed protocol %s: header must not be negative", this.Name)
	}
	return nil
}

func (this *FramedConfig) PayloadTable() string {
	return this.Name + ".payload"
}

func (this *FramedConfig) decode(c *core.Cursor, ctx *core.Context) core.Outcome {
	return framing.Decode(this.Framing.Rule, this.Name, c, ctx, this.tree)
}

func (this *FramedConfig) tree(msg *core.Cursor, ctx *core.Context) *core.Field {
	tree := core.NewComposite(this.Name, msg.Origin(), msg.Len())
	tree.Render(fmt.Sprintf("%s, %d bytes", this.Name, msg.Len()))

	header := min(this.Header, msg.Len())
	if header > 0 {
		tree.Add(core.BytesField(this.Name+".header", msg, 0, header))
	}
	if rule, ok := this.Framing.Rule.(*framing.BinaryRule); ok {
		length, _ := core.UintField(this.Name+".length", msg, rule.LengthOffset, rule.LengthSize, rule.Endian)
		tree.Add(length)
	}

	end := msg.Len()
	var trailer *core.Field
	switch rule := this.Framing.Rule.(type) {
	case framing.Verifier:
		if trailer = rule.Verify(this.Name, msg); trailer != nil {
			end = trailer.Offset - msg.Origin()
		}
	case *framing.TextRule:
		delim := []byte(rule.EndDelimiter)
		if bytes.HasSuffix(msg.Bytes(), delim) {
			end -= len(delim)
			trailer = core.BytesField(this.Name+".terminator", msg, end, len(delim))
		}
	}

	if end > header {
		payload, _ := msg.Slice(header, end-header)
		tree.Add(ctx.Dispatch(payload, core.HeuristicOnly(this.PayloadTable()), nil))
	}
	tree.Add(trailer)
	return tree
}

// RegisterFramed registers every configured framed protocol. It must run
// before the registry is frozen.
func RegisterFramed(reg *core.Registry, configs []*FramedConfig) error {
	for _, cfg := range configs {
		if err := cfg.Setup(); err != nil {
			return err
		}
		d := &core.Dissector{Name: cfg.Name, Desegment: true, Decode: cfg.decode}
		if cfg.Table == "" {
			if err := reg.Register(d); err != nil {
				return err
			}
			continue
		}
		disc, err := (&core.DecodeAsRule{Table: cfg.Table, Value: cfg.Value, Protocol: cfg.Name}).Discriminator()
		if err != nil {
			return err
		}
		if err = reg.RegisterFor(d, disc); err != nil {
			return err
		}
	}
	return nil
}
