package dissector

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vuuvv/vdissect/core"
)

var ft2232 = USBDevice(VendorFTDI, 0x6010)

func newTestSession(t *testing.T, options ...core.SessionOptions) *core.Session {
	reg := core.NewRegistry()
	require.NoError(t, Register(reg))
	opts := core.SessionOptions{}
	if len(options) > 0 {
		opts = options[0]
	}
	return core.NewSession(reg, opts)
}

// controlFrame is a setup packet on the control endpoint of the test device.
func controlFrame(n uint32, setup ...byte) *core.Frame {
	return &core.Frame{
		Number:        n,
		Flow:          core.BusFlow(1, 5, 0),
		Direction:     core.DirectionOut,
		Discriminator: core.Discriminator{Table: TableUSBControl, Value: ft2232},
		Data:          setup,
	}
}

// bulkFrame is a transfer on interface A of the test device.
func bulkFrame(n uint32, direction core.Direction, data ...byte) *core.Frame {
	return &core.Frame{
		Number:        n,
		Flow:          core.BusFlow(1, 5, 1),
		Direction:     direction,
		Discriminator: core.Discriminator{Table: TableUSBBulk, Value: ft2232},
		Data:          data,
	}
}

func udpFrame(n uint32, port uint16, data ...byte) *core.Frame {
	return &core.Frame{
		Number:        n,
		Flow:          core.UDPFlow(net.IPv4(10, 0, 0, 1), net.IPv4(10, 0, 0, 2), 5000, port),
		Direction:     core.DirectionOut,
		Discriminator: core.UDPPort(port),
		Data:          data,
	}
}

func codes(tree *core.Field) []core.ErrorCode {
	var res []core.ErrorCode
	for _, f := range tree.Annotations() {
		res = append(res, f.Annotation.Code)
	}
	return res
}
