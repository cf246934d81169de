// Package payload provides the typed, schema-less field maps carried by
// queued mutation tasks.
//
// A payload is an Object: string keys mapped to a sealed set of Value types
// (Null, String, Int, Float, Bool, Array, Object). The set is sealed so that a
// task can only ever hold values the durable store can encode and the remote
// store can write.
//
// Key design constraints:
//   - Encode is deterministic and lossless: keys sorted by UTF-16 code units,
//     no HTML escaping, strings written as given. It is the storage form.
//   - Canonical additionally NFC normalises strings and keys. It is for
//     display and golden files only.
//   - Ints and Floats are distinct. 5 decodes as Int, 5.0 as Float.
//   - Null is a legal value. Overlay keeps it; Apply, used by the remote
//     stores, removes the field.
//   - Overlay and Apply never mutate their inputs.
package payload
