package vdissect

import (
	"encoding/binary"
	"net"
	"os"
	"strings"
	"time"

	"github.com/spf13/cast"
	"github.com/vuuvv/errors"
	"gopkg.in/yaml.v3"

	"github.com/vuuvv/vdissect/core"
	"github.com/vuuvv/vdissect/utils"
)

// TraceFrame is one record of a YAML trace. A frame is addressed either by
// bus/device/iface or by an IP 5-tuple; data is a T'value' string, plain hex
// by default.
type TraceFrame struct {
	Number    uint32  `yaml:"number"`
	Time      float64 `yaml:"time"` // 秒, 相对于抓包开始
	Bus       uint16  `yaml:"bus"`
	Device    uint8   `yaml:"device"`
	Iface     uint8   `yaml:"iface"`
	Transport string  `yaml:"transport"` // udp 或 tcp, 为空时是总线帧
	Src       string  `yaml:"src"`
	Dst       string  `yaml:"dst"`
	SrcPort   uint16  `yaml:"src_port"`
	DstPort   uint16  `yaml:"dst_port"`
	Stream    uint64  `yaml:"stream"`
	Direction string  `yaml:"direction"`
	Table     string  `yaml:"table"`
	Value     any     `yaml:"value"`
	Data      string  `yaml:"data"`
}

type Trace struct {
	Frames []*TraceFrame `yaml:"frames"`
}

func ParseTrace(data []byte) (*Trace, error) {
	t := &Trace{}
	if err := yaml.Unmarshal(data, t); err != nil {
		return nil, errors.Wrap(err, "parse trace")
	}
	return t, nil
}

func LoadTrace(path string) (*Trace, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return ParseTrace(data)
}

// ToFrames converts every record. Records without a number are numbered after
// the previous one.
func (t *Trace) ToFrames() ([]*core.Frame, error) {
	res := make([]*core.Frame, 0, len(t.Frames))
	var last uint32
	for i, tf := range t.Frames {
		if tf.Number == 0 {
			tf.Number = last + 1
		}
		f, err := tf.Frame()
		if err != nil {
			return nil, errors.Wrapf(err, "frame #%d", i)
		}
		res = append(res, f)
		last = f.Number
	}
	return res, nil
}

func parseDirection(s string) (core.Direction, error) {
	switch strings.ToLower(s) {
	case "", "unknown":
		return core.DirectionUnknown, nil
	case "in":
		return core.DirectionIn, nil
	case "out":
		return core.DirectionOut, nil
	}
	return core.DirectionUnknown, errors.Errorf("invalid direction: %s", s)
}

func parseIP(s string) (net.IP, error) {
	ip := net.ParseIP(s)
	if ip == nil {
		return nil, errors.Errorf("invalid ip: %s", s)
	}
	return ip, nil
}

func (tf *TraceFrame) flow() (core.FlowKey, error) {
	if tf.Transport == "" {
		return core.BusFlow(tf.Bus, tf.Device, tf.Iface), nil
	}
	src, err := parseIP(tf.Src)
	if err != nil {
		return core.FlowKey{}, err
	}
	dst, err := parseIP(tf.Dst)
	if err != nil {
		return core.FlowKey{}, err
	}
	switch strings.ToLower(tf.Transport) {
	case "udp":
		return core.UDPFlow(src, dst, tf.SrcPort, tf.DstPort), nil
	case "tcp":
		return core.TCPFlow(src, dst, tf.SrcPort, tf.DstPort, tf.Stream), nil
	}
	return core.FlowKey{}, errors.Errorf("invalid transport: %s", tf.Transport)
}

// discriminator defaults to the destination port table of the transport.
func (tf *TraceFrame) discriminator() (core.Discriminator, error) {
	if tf.Table == "" {
		switch strings.ToLower(tf.Transport) {
		case "udp":
			return core.UDPPort(tf.DstPort), nil
		case "tcp":
			return core.TCPPort(tf.DstPort), nil
		}
		return core.Discriminator{}, nil
	}
	v, err := cast.ToUint64E(tf.Value)
	if err != nil {
		return core.Discriminator{}, errors.Wrapf(core.ErrInvalidDiscriminator, "%s value %v", tf.Table, tf.Value)
	}
	return core.Discriminator{Table: tf.Table, Value: v}, nil
}

func (tf *TraceFrame) Frame() (*core.Frame, error) {
	flow, err := tf.flow()
	if err != nil {
		return nil, err
	}
	direction, err := parseDirection(tf.Direction)
	if err != nil {
		return nil, err
	}
	disc, err := tf.discriminator()
	if err != nil {
		return nil, err
	}
	var data []byte
	if tf.Data != "" {
		data, err = utils.ParseTValue(tf.Data, -1, binary.BigEndian)
		if err != nil {
			return nil, err
		}
	}
	return &core.Frame{
		Number:        tf.Number,
		Timestamp:     time.Unix(0, 0).Add(time.Duration(tf.Time * float64(time.Second))).UTC(),
		Flow:          flow,
		Direction:     direction,
		Discriminator: disc,
		Data:          data,
	}, nil
}
