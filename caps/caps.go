package caps

import (
	"fmt"

	"github.com/colorfulnotion/sbvm/log"
)

// MapSpec is the verification-time declaration of a map object: the verifier
// only ever sees sizes and ids, never the implementation.
type MapSpec struct {
	ID        uint32
	KeySize   uint32
	ValueSize uint32
	Name      string
}

// Map is the narrow key/value interface a verified program may invoke at
// runtime through the map helpers.
type Map interface {
	Spec() MapSpec
	// Lookup returns the stored value for key, or nil when absent. The
	// returned slice aliases the live value: the interpreter maps it into
	// the guest address space so stores through the returned pointer land
	// in the map.
	Lookup(key []byte) []byte
	Update(key, value []byte) error
	Delete(key []byte) error
}

// Memory is the guest-address-space view helpers use to read arguments and
// publish results. Implemented by the interpreter's region table.
type Memory interface {
	ReadAt(addr uint64, n int) ([]byte, error)
	WriteAt(addr uint64, data []byte) error
	// RegisterRegion maps data into the guest address space and returns the
	// guest base address.
	RegisterRegion(data []byte) uint64
}

// HelperFn is a host-provided function of fixed arity. Arguments arrive in
// r1-r5 order; the return value lands in r0.
type HelperFn func(mem Memory, t *Table, args [5]uint64) (uint64, error)

// Helper pairs a callable with the signature the verifier checks calls
// against.
type Helper struct {
	Sig Signature
	Fn  HelperFn
}

// Table is the capability table: everything a verified program may reach at
// runtime. The verifier consults only Signatures and map specs; the
// interpreter dispatches through Fn.
type Table struct {
	Helpers map[uint32]Helper
	Maps    map[uint32]Map

	// ProgID is the host-assigned identity reported by get_prog_id.
	ProgID uint64
}

// NewTable returns a table preloaded with the built-in helpers and no maps.
func NewTable() *Table {
	t := &Table{
		Helpers: make(map[uint32]Helper),
		Maps:    make(map[uint32]Map),
	}
	registerBuiltins(t)
	return t
}

// AddMap registers a map object under its spec id.
func (t *Table) AddMap(m Map) error {
	spec := m.Spec()
	if _, dup := t.Maps[spec.ID]; dup {
		return fmt.Errorf("map id %d already registered", spec.ID)
	}
	t.Maps[spec.ID] = m
	log.Debug(log.CapsMonitoring, "map registered", "id", spec.ID, "name", spec.Name, "keySize", spec.KeySize, "valueSize", spec.ValueSize)
	return nil
}

// MapSpecs returns the verification-time view of the registered maps.
func (t *Table) MapSpecs() map[uint32]MapSpec {
	specs := make(map[uint32]MapSpec, len(t.Maps))
	for id, m := range t.Maps {
		specs[id] = m.Spec()
	}
	return specs
}
