package framing

import (
	"bytes"

	"github.com/vuuvv/errors"

	"github.com/vuuvv/vdissect/core"
)

const Text = "text"

type TextRule struct {
	HeaderMarker      string `yaml:"header_marker"`
	EndDelimiter      string `yaml:"end_delimiter"` // 结束符号
	MaxLen            int    `yaml:"max_len"`
	headerMarkerBytes []byte
	endDelimiterBytes []byte
}

func (this *TextRule) Setup() (err error) {
	if this.EndDelimiter == "" {
		return errors.New("TextRule.Setup: end_delimiter should not be empty")
	}
	this.headerMarkerBytes = []byte(this.HeaderMarker)
	this.endDelimiterBytes = []byte(this.EndDelimiter)
	return nil
}

// Split returns the message up to and including the end delimiter. With final
// set, whatever is left is one message.
func (this *TextRule) Split(c *core.Cursor, final bool) Match {
	data := c.Bytes()
	if len(this.headerMarkerBytes) > 0 {
		n := min(len(data), len(this.headerMarkerBytes))
		if !bytes.Equal(data[:n], this.headerMarkerBytes[:n]) {
			return Match{Error: errors.Errorf("text message does not start with %q", this.HeaderMarker)}
		}
	}

	idx := bytes.Index(data, this.endDelimiterBytes)
	if idx >= 0 {
		totalLen := idx + len(this.endDelimiterBytes)
		if this.MaxLen > 0 && totalLen > this.MaxLen {
			return Match{Error: errors.Errorf("text packet exceeds max length %d", this.MaxLen)}
		}
		return Match{Advance: totalLen}
	}

	if this.MaxLen > 0 && len(data) > this.MaxLen {
		return Match{Error: errors.Errorf("text packet exceeds max length %d", this.MaxLen)}
	}
	if final && len(data) > 0 {
		return Match{Advance: len(data)}
	}
	return more(-1)
}

func (this *TextRule) GetHeaderMarker() []byte {
	return this.headerMarkerBytes
}

// CanParse reports whether token could start a message of this rule.
func (this *TextRule) CanParse(token []byte) bool {
	return bytes.HasPrefix(token, this.headerMarkerBytes)
}

func registerText() {
	RegisterRule[TextRule](Text)
}
