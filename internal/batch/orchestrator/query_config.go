package orchestrator

// ColumnConfig names every row column the core reads or writes
// (spec.md §6's "External interfaces / Input row table" contract).
// Column names are configurable per the teacher's dynamic-row-access
// idiom, generalized per spec.md's Design Notes into a pure
// map[string]string plus an explicit priority list.
type ColumnConfig struct {
	// PriorityColumns is walked in order for the primary query; the
	// first non-empty, non-ignored value wins (spec.md §4.9 step 2).
	PriorityColumns []string
	// TextColumn is the fallback source when no priority column yields
	// a usable query.
	TextColumn string
	// FallbackColumns seeds up to two alternate queries when search +
	// selection fails on the primary query (spec.md §4.9 step 4).
	FallbackColumns []string

	DiscountColumn     string
	CallToActionColumn string
	ColorColumn        string
	ImagePathColumn    string

	IgnoreValues map[string]struct{}
	MaxWords     int
	JunkSuffixes []string
}

// DefaultIgnoreValues mirrors the sentinel "empty" values the original
// pandas-based row access treated as absent.
func DefaultIgnoreValues() map[string]struct{} {
	return map[string]struct{}{
		"n/a": {}, "na": {}, "none": {}, "null": {}, "-": {}, "nan": {},
	}
}

// DefaultColumnConfig is a reasonable default column layout matching
// original_source's ad-row schema.
func DefaultColumnConfig() ColumnConfig {
	return ColumnConfig{
		PriorityColumns:    []string{"keywords", "product_name"},
		TextColumn:         "text",
		FallbackColumns:    []string{"objects", "text"},
		DiscountColumn:     "discount",
		CallToActionColumn: "call_to_action",
		ColorColumn:        "dominant_colour",
		ImagePathColumn:    "image_path",
		IgnoreValues:       DefaultIgnoreValues(),
		MaxWords:           0,
	}
}
