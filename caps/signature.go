package caps

// ArgType is the abstract type the verifier requires of one helper argument.
type ArgType int

const (
	ArgUnused      ArgType = iota // register not consumed by the helper
	ArgAnything                   // any initialized scalar
	ArgConstMapPtr                 // a map handle loaded via the pseudo map load
	ArgPtrToMapKey                 // stack pointer to an initialized map key
	ArgPtrToMapValue               // stack pointer to an initialized map value
	ArgPtrToStackMem               // stack pointer to initialized bytes
	ArgMemSize                     // scalar byte count bounding the previous pointer arg
)

// RetType is the abstract type of a helper's return value.
type RetType int

const (
	RetInteger        RetType = iota // unknown scalar
	RetVoid                          // r0 unusable after the call
	RetMapValueOrNull                // pointer to the map value, or null
)

// Signature is everything the verifier needs to know about one helper:
// argument and return abstract types. The implementation stays on the host
// side of the boundary.
type Signature struct {
	Name string
	Args []ArgType
	Ret  RetType
}

// Helper function indexes for the CALL instruction.
const (
	HELPER_MAP_LOOKUP   = 1
	HELPER_MAP_UPDATE   = 2
	HELPER_MAP_DELETE   = 3
	HELPER_TRACE_PRINTK = 6
	HELPER_PROG_ID      = 7
)

// Signatures of the built-in helpers, indexed by helper id.
var builtinSignatures = map[uint32]Signature{
	HELPER_MAP_LOOKUP: {
		Name: "map_lookup_elem",
		Args: []ArgType{ArgConstMapPtr, ArgPtrToMapKey},
		Ret:  RetMapValueOrNull,
	},
	HELPER_MAP_UPDATE: {
		Name: "map_update_elem",
		Args: []ArgType{ArgConstMapPtr, ArgPtrToMapKey, ArgPtrToMapValue, ArgAnything},
		Ret:  RetInteger,
	},
	HELPER_MAP_DELETE: {
		Name: "map_delete_elem",
		Args: []ArgType{ArgConstMapPtr, ArgPtrToMapKey},
		Ret:  RetInteger,
	},
	HELPER_TRACE_PRINTK: {
		Name: "trace_printk",
		Args: []ArgType{ArgPtrToStackMem, ArgMemSize},
		Ret:  RetInteger,
	},
	HELPER_PROG_ID: {
		Name: "get_prog_id",
		Args: []ArgType{},
		Ret:  RetInteger,
	},
}

// BuiltinSignatures returns a copy of the built-in helper catalog, keyed by
// helper id. The verifier checks calls against these when no table override is
// supplied.
func BuiltinSignatures() map[uint32]Signature {
	sigs := make(map[uint32]Signature, len(builtinSignatures))
	for id, sig := range builtinSignatures {
		sigs[id] = sig
	}
	return sigs
}

// SignatureOf returns the signature for a helper id known to the table.
func (t *Table) SignatureOf(id uint32) (Signature, bool) {
	h, ok := t.Helpers[id]
	if !ok {
		return Signature{}, false
	}
	return h.Sig, true
}
