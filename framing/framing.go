package framing

import (
	"github.com/vuuvv/errors"
	"gopkg.in/yaml.v3"

	"github.com/vuuvv/vdissect/core"
)

// Match is the result of looking for one message at the start of a cursor.
type Match struct {
	Advance  int   // 完整消息的长度, 0 表示数据不够
	Expected int   // Advance 为 0 时消息的总长度, 未知为 -1
	Error    error // 数据无法分帧, 例如超过最大长度
}

func (m Match) Complete() bool {
	return m.Advance > 0
}

func more(expected int) Match {
	return Match{Expected: expected}
}

// Rule finds message boundaries. final is set when no more bytes will come,
// like atEOF of a bufio.SplitFunc.
type Rule interface {
	Setup() error
	Split(c *core.Cursor, final bool) Match
	GetHeaderMarker() []byte
}

// Verifier is implemented by rules whose messages carry a checksum.
type Verifier interface {
	Verify(name string, msg *core.Cursor) *core.Field
}

type ruleFactory func() Rule

var factories = map[string]ruleFactory{}

func RegisterRule[T any, PT interface {
	*T
	Rule
}](name string) {
	factories[name] = func() Rule { return PT(new(T)) }
}

func NewRule(name string) (Rule, error) {
	factory, ok := factories[name]
	if !ok {
		return nil, errors.Errorf("unknown framing rule: %s", name)
	}
	return factory(), nil
}

// Spec is the YAML form of a rule: a "type" key selects the rule, the other
// keys are its fields.
type Spec struct {
	Type string
	Rule Rule
}

func (s *Spec) UnmarshalYAML(node *yaml.Node) error {
	var head struct {
		Type string `yaml:"type"`
	}
	if err := node.Decode(&head); err != nil {
		return errors.WithStack(err)
	}
	rule, err := NewRule(head.Type)
	if err != nil {
		return err
	}
	if err = node.Decode(rule); err != nil {
		return errors.Wrapf(err, "framing rule %s", head.Type)
	}
	if err = rule.Setup(); err != nil {
		return err
	}
	s.Type, s.Rule = head.Type, rule
	return nil
}

// Decode frames one message at the start of c and hands it to body. It maps
// the rule's answer onto a dissector outcome.
func Decode(rule Rule, name string, c *core.Cursor, ctx *core.Context, body func(msg *core.Cursor, ctx *core.Context) *core.Field) core.Outcome {
	m := rule.Split(c, ctx.Final)
	if m.Error != nil {
		f := core.BytesField(name, c, 0, c.Len())
		f.Annotate(core.SeverityError, core.CodeDecode, m.Error.Error())
		return core.Complete(f, c.Len())
	}
	if !m.Complete() {
		return core.NeedMore(0, m.Expected)
	}
	msg, err := c.Slice(0, m.Advance)
	if err != nil {
		return core.Complete(core.ErrorField(name, c, 0, err), c.Len())
	}
	return core.Complete(body(msg, ctx), m.Advance)
}

func init() {
	registerBinary()
	registerText()
}
