// Package dissector holds the built-in protocol decoders. Each file registers
// one protocol with its schema, claims and heuristics.
package dissector

import (
	"github.com/vuuvv/errors"

	"github.com/vuuvv/vdissect/core"
)

const (
	TableUSBBulk       = "usb.bulk"       // value: vendor<<16 | product
	TableUSBControl    = "usb.control"    // value: vendor<<16 | product
	TableSerialPayload = "serial.payload" // heuristics for UART mode data
	TableStatsEmbedded = "stats.embedded"
	TablePESPayload    = "pes.payload"
)

// USBDevice builds the discriminator value for a vendor/product pair.
func USBDevice(vendor, product uint16) uint64 {
	return uint64(vendor)<<16 | uint64(product)
}

type registerFunc func(reg *core.Registry) error

var registers = []registerFunc{
	registerSerial,
	registerMpsse,
	registerLine,
	registerStats,
	registerPES,
	registerCbor,
}

// Register adds every built-in dissector to reg.
func Register(reg *core.Registry) error {
	for _, fn := range registers {
		if err := fn(reg); err != nil {
			return errors.WithStack(err)
		}
	}
	return nil
}
