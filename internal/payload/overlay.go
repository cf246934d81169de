package payload

// Overlay returns a new object holding base with each patch applied in
// order, key by key. Later patches win per key. Values are not merged
// recursively: a nested object in a patch replaces the base value whole,
// which matches how the remote store applies a field-level merge write.
//
// Inputs are never mutated; the result shares no maps with them.
func Overlay(base Object, patches ...Object) Object {
	size := len(base)
	for _, p := range patches {
		size += len(p)
	}
	out := make(Object, size)
	for k, v := range base {
		out[k] = cloneValue(v)
	}
	for _, p := range patches {
		for k, v := range p {
			out[k] = cloneValue(v)
		}
	}
	return out
}

// Apply is the remote form of Overlay: the patch is written over base and
// every top-level key the patch sets to Null is removed from the result.
// Folding keeps the Null (Overlay) so the clear still reaches the remote.
func Apply(base, patch Object) Object {
	out := Overlay(base, patch)
	for k, v := range patch {
		if _, ok := v.(Null); ok {
			delete(out, k)
		}
	}
	return out
}
