package store

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
)

// ContentHash computes a deterministic digest of everything a remote
// peer could change on a reflection. Revision counter and timestamps
// are excluded: two devices that made the same edit hash identically
// regardless of when they made it.
func ContentHash(r Reflection) string {
	h := sha256.New()
	writeField(h, "content", r.Content)
	writeField(h, "encrypted", fmt.Sprintf("%t", r.Encrypted))
	writeField(h, "layer", string(r.Layer))
	writeField(h, "modality", r.Modality)
	writeField(h, "thread", r.ThreadID)
	writeField(h, "axis", r.IdentityAxisID)
	writeField(h, "visible", fmt.Sprintf("%t", r.Visible))

	tags := append([]string(nil), r.Tags...)
	sort.Strings(tags)
	for _, t := range tags {
		writeField(h, "tag", t)
	}

	keys := make([]string, 0, len(r.Metadata))
	for k := range r.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := r.Metadata[k]
		var stamp int64
		if v.Time != nil {
			stamp = millis(*v.Time)
		}
		writeField(h, "meta."+k, fmt.Sprintf("%s:%s:%g:%t:%d", v.Kind, v.String, v.Number, v.Bool, stamp))
	}

	return hex.EncodeToString(h.Sum(nil))
}

// writeField writes a length-prefixed labeled value so adjacent fields
// cannot collide ("ab"+"c" vs "a"+"bc").
func writeField(w io.Writer, label, value string) {
	fmt.Fprintf(w, "%s=%d:%s;", label, len(value), value)
}
