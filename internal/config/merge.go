package config

// DeepMerge returns a new document with patch merged into base:
// nested objects merge recursively, scalars and arrays from patch
// override, and sibling paths not named by patch are preserved.
// Neither input is mutated.
func DeepMerge(base, patch map[string]any) map[string]any {
	out := make(map[string]any, len(base))
	for k, v := range base {
		out[k] = deepCopyValue(v)
	}
	for k, pv := range patch {
		bv, ok := out[k]
		if ok {
			bm, bIsMap := bv.(map[string]any)
			pm, pIsMap := pv.(map[string]any)
			if bIsMap && pIsMap {
				out[k] = DeepMerge(bm, pm)
				continue
			}
		}
		out[k] = deepCopyValue(pv)
	}
	return out
}

// applyDefaults fills keys missing from doc with def, recursively.
// Existing values always win.
func applyDefaults(doc, def map[string]any) map[string]any {
	return DeepMerge(def, doc)
}

func deepCopyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = deepCopyValue(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = deepCopyValue(val)
		}
		return out
	default:
		return v
	}
}
