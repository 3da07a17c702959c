package core

import (
	"fmt"

	"github.com/google/gopacket/layers"
	"github.com/vuuvv/errors"
)

const (
	TableEncap   = "encap"
	TableUDPPort = "udp.port"
	TableTCPPort = "tcp.port"
	TableAny     = "*" // heuristics tried after the table-specific ones
)

// Discriminator selects a dissector: an exact value in a named table such as
// a link type or a port.
type Discriminator struct {
	Table string
	Value uint64
}

func (d Discriminator) String() string {
	if d.Table == "" {
		return "none"
	}
	return fmt.Sprintf("%s=%d", d.Table, d.Value)
}

func Encap(lt layers.LinkType) Discriminator {
	return Discriminator{Table: TableEncap, Value: uint64(lt)}
}

func UDPPort(port uint16) Discriminator {
	return Discriminator{Table: TableUDPPort, Value: uint64(port)}
}

func TCPPort(port uint16) Discriminator {
	return Discriminator{Table: TableTCPPort, Value: uint64(port)}
}

// HeuristicOnly carries no exact value; only heuristics of table are tried.
func HeuristicOnly(table string) Discriminator {
	return Discriminator{Table: table, Value: ^uint64(0)}
}

// Outcome is what a decode function reports for the bytes it was given.
type Outcome struct {
	Tree     *Field
	Consumed int
	More     bool
	Expected int
}

func Complete(tree *Field, consumed int) Outcome {
	return Outcome{Tree: tree, Consumed: consumed}
}

// NeedMore reports an incomplete message. expected is the total message size
// when the header already told us, -1 otherwise.
func NeedMore(consumed, expected int) Outcome {
	return Outcome{Consumed: consumed, More: true, Expected: expected}
}

type DecodeFunc func(c *Cursor, ctx *Context) Outcome

// ProbeFunc returns a confidence > 0 when it claims the data.
type ProbeFunc func(c *Cursor, ctx *Context) int

type Dissector struct {
	Name string
	// Desegment routes the dissector through the reassembly engine: a NeedMore
	// outcome parks the bytes until later frames of the same flow complete it.
	Desegment bool
	Decode    DecodeFunc
	Schema    *Schema
}

type Heuristic struct {
	Name     string
	Table    string
	Protocol string
	Probe    ProbeFunc
}

// Registry maps discriminators to dissectors. It is filled once at startup,
// frozen, and then shared read-only by every session.
type Registry struct {
	dissectors map[string]*Dissector
	order      []string
	exact      map[Discriminator]string
	heuristics map[string][]*Heuristic
	frozen     bool
}

func NewRegistry() *Registry {
	return &Registry{
		dissectors: make(map[string]*Dissector),
		exact:      make(map[Discriminator]string),
		heuristics: make(map[string][]*Heuristic),
	}
}

func (r *Registry) Register(d *Dissector) error {
	if r.frozen {
		return errors.Wrapf(ErrRegistryFrozen, "register %s", d.Name)
	}
	if d.Name == "" || d.Decode == nil {
		return errors.Errorf("dissector needs a name and a decode function")
	}
	if _, ok := r.dissectors[d.Name]; ok {
		return errors.Wrapf(ErrDuplicateProtocol, "%s", d.Name)
	}
	r.dissectors[d.Name] = d
	r.order = append(r.order, d.Name)
	return nil
}

// Claim binds an exact discriminator to an already registered protocol.
func (r *Registry) Claim(disc Discriminator, protocol string) error {
	if r.frozen {
		return errors.Wrapf(ErrRegistryFrozen, "claim %s", disc)
	}
	if disc.Table == "" {
		return errors.Wrapf(ErrInvalidDiscriminator, "claim for %s has no table", protocol)
	}
	if _, ok := r.dissectors[protocol]; !ok {
		return errors.Wrapf(ErrUnknownProtocol, "%s", protocol)
	}
	if owner, ok := r.exact[disc]; ok {
		return errors.Wrapf(ErrDuplicateExact, "%s already claimed by %s", disc, owner)
	}
	r.exact[disc] = protocol
	return nil
}

// RegisterFor registers d and claims every discriminator for it.
func (r *Registry) RegisterFor(d *Dissector, discs ...Discriminator) error {
	if err := r.Register(d); err != nil {
		return err
	}
	for _, disc := range discs {
		if err := r.Claim(disc, d.Name); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) AddHeuristic(h *Heuristic) error {
	if r.frozen {
		return errors.Wrapf(ErrRegistryFrozen, "heuristic %s", h.Name)
	}
	if h.Probe == nil || h.Table == "" {
		return errors.Errorf("heuristic %s needs a table and a probe", h.Name)
	}
	if _, ok := r.dissectors[h.Protocol]; !ok {
		return errors.Wrapf(ErrUnknownProtocol, "heuristic %s: %s", h.Name, h.Protocol)
	}
	r.heuristics[h.Table] = append(r.heuristics[h.Table], h)
	return nil
}

func (r *Registry) Freeze() {
	r.frozen = true
}

func (r *Registry) Frozen() bool {
	return r.frozen
}

func (r *Registry) Dissector(name string) (*Dissector, bool) {
	d, ok := r.dissectors[name]
	return d, ok
}

func (r *Registry) Exact(disc Discriminator) (*Dissector, bool) {
	name, ok := r.exact[disc]
	if !ok {
		return nil, false
	}
	return r.Dissector(name)
}

// Heuristics returns the probes for table in registration order, followed by
// the table independent ones.
func (r *Registry) Heuristics(table string) []*Heuristic {
	res := make([]*Heuristic, 0, len(r.heuristics[table])+len(r.heuristics[TableAny]))
	res = append(res, r.heuristics[table]...)
	if table != TableAny {
		res = append(res, r.heuristics[TableAny]...)
	}
	return res
}

func (r *Registry) Protocols() []string {
	return append([]string(nil), r.order...)
}
