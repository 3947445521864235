package caps

// ProgramCategory declares what a program is for. The category fixes which
// helpers the program may call and the layout of the context buffer it is
// handed at run time.
type ProgramCategory int

const (
	CategoryFilter ProgramCategory = iota
	CategoryTracing
)

func (c ProgramCategory) String() string {
	switch c {
	case CategoryFilter:
		return "filter"
	case CategoryTracing:
		return "tracing"
	}
	return "unknown"
}

// ParseCategory maps a category name to its value.
func ParseCategory(s string) (ProgramCategory, bool) {
	switch s {
	case "filter":
		return CategoryFilter, true
	case "tracing":
		return CategoryTracing, true
	}
	return 0, false
}

// CtxField is one entry of a category's context allow-list: an access to the
// context pointer is legal only if its offset and width match a field
// exactly.
type CtxField struct {
	Off  int32
	Size int
	Name string
}

// Context layouts per category. Filter programs see a packet-style header;
// tracing programs see an event record.
var ctxLayouts = map[ProgramCategory][]CtxField{
	CategoryFilter: {
		{Off: 0, Size: 4, Name: "len"},
		{Off: 4, Size: 4, Name: "protocol"},
		{Off: 8, Size: 8, Name: "timestamp"},
		{Off: 16, Size: 4, Name: "ifindex"},
		{Off: 20, Size: 4, Name: "mark"},
	},
	CategoryTracing: {
		{Off: 0, Size: 8, Name: "pid_tgid"},
		{Off: 8, Size: 8, Name: "event_id"},
		{Off: 16, Size: 8, Name: "arg0"},
		{Off: 24, Size: 8, Name: "arg1"},
		{Off: 32, Size: 8, Name: "arg2"},
	},
}

// Helper allow-lists per category.
var allowedHelpers = map[ProgramCategory][]uint32{
	CategoryFilter:  {HELPER_MAP_LOOKUP, HELPER_PROG_ID},
	CategoryTracing: {HELPER_MAP_LOOKUP, HELPER_MAP_UPDATE, HELPER_MAP_DELETE, HELPER_TRACE_PRINTK, HELPER_PROG_ID},
}

// CtxLayout returns the context field allow-list for the category.
func CtxLayout(c ProgramCategory) []CtxField {
	return ctxLayouts[c]
}

// CtxSize returns the context buffer size implied by the category layout.
func CtxSize(c ProgramCategory) int {
	size := 0
	for _, f := range ctxLayouts[c] {
		if end := int(f.Off) + f.Size; end > size {
			size = end
		}
	}
	return size
}

// HelperAllowed reports whether the category permits calling the helper.
func HelperAllowed(c ProgramCategory, id uint32) bool {
	for _, allowed := range allowedHelpers[c] {
		if allowed == id {
			return true
		}
	}
	return false
}
