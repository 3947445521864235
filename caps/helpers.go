package caps

import (
	"fmt"

	"github.com/colorfulnotion/sbvm/log"
)

// Built-in reference helpers. Hosts may replace or extend these, as long as
// the registered signature matches what the implementation expects.

func registerBuiltins(t *Table) {
	t.Helpers[HELPER_MAP_LOOKUP] = Helper{Sig: builtinSignatures[HELPER_MAP_LOOKUP], Fn: helperMapLookup}
	t.Helpers[HELPER_MAP_UPDATE] = Helper{Sig: builtinSignatures[HELPER_MAP_UPDATE], Fn: helperMapUpdate}
	t.Helpers[HELPER_MAP_DELETE] = Helper{Sig: builtinSignatures[HELPER_MAP_DELETE], Fn: helperMapDelete}
	t.Helpers[HELPER_TRACE_PRINTK] = Helper{Sig: builtinSignatures[HELPER_TRACE_PRINTK], Fn: helperTracePrintk}
	t.Helpers[HELPER_PROG_ID] = Helper{Sig: builtinSignatures[HELPER_PROG_ID], Fn: helperProgID}
}

func resolveMap(t *Table, handle uint64) (Map, error) {
	m, ok := t.Maps[uint32(handle)]
	if !ok {
		return nil, fmt.Errorf("no map with id %d in capability table", uint32(handle))
	}
	return m, nil
}

// helperMapLookup: r0 = &map[key] or 0 when the key is absent.
func helperMapLookup(mem Memory, t *Table, args [5]uint64) (uint64, error) {
	m, err := resolveMap(t, args[0])
	if err != nil {
		return 0, err
	}
	key, err := mem.ReadAt(args[1], int(m.Spec().KeySize))
	if err != nil {
		return 0, err
	}
	value := m.Lookup(key)
	if value == nil {
		return 0, nil
	}
	return mem.RegisterRegion(value), nil
}

// helperMapUpdate: map[key] = value, r0 = 0 on success.
func helperMapUpdate(mem Memory, t *Table, args [5]uint64) (uint64, error) {
	m, err := resolveMap(t, args[0])
	if err != nil {
		return 0, err
	}
	spec := m.Spec()
	key, err := mem.ReadAt(args[1], int(spec.KeySize))
	if err != nil {
		return 0, err
	}
	value, err := mem.ReadAt(args[2], int(spec.ValueSize))
	if err != nil {
		return 0, err
	}
	if err := m.Update(key, value); err != nil {
		log.Warn(log.CapsMonitoring, "map update failed", "id", spec.ID, "err", err)
		return ^uint64(0), nil
	}
	return 0, nil
}

// helperMapDelete: delete map[key], r0 = 0 on success.
func helperMapDelete(mem Memory, t *Table, args [5]uint64) (uint64, error) {
	m, err := resolveMap(t, args[0])
	if err != nil {
		return 0, err
	}
	key, err := mem.ReadAt(args[1], int(m.Spec().KeySize))
	if err != nil {
		return 0, err
	}
	if err := m.Delete(key); err != nil {
		return ^uint64(0), nil
	}
	return 0, nil
}

// helperTracePrintk logs up to 64 bytes from guest memory, returning the
// number of bytes consumed.
func helperTracePrintk(mem Memory, t *Table, args [5]uint64) (uint64, error) {
	n := args[1]
	if n > 64 {
		n = 64
	}
	data, err := mem.ReadAt(args[0], int(n))
	if err != nil {
		return 0, err
	}
	log.Info(log.CapsMonitoring, "trace_printk", "msg", string(data))
	return n, nil
}

// helperProgID returns the host-assigned program id.
func helperProgID(mem Memory, t *Table, args [5]uint64) (uint64, error) {
	return t.ProgID, nil
}
