package snapshot

import "github.com/ternlabs/tern/internal/agent/types"

// Diff computes the delta between two Snapshots of the same key: which
// refs were added, which were removed, and which survived with a changed
// attribute. Refs are opaque per-Snapshot, so elements are matched by
// role+name identity (plus the id or data-testid attribute when present)
// rather than ref equality — the same logical
// element gets a new ref on every Snapshot, matching the core invariant
// that a ref never outlives the Snapshot that produced it.
func Diff(prev, cur *types.Snapshot) types.SnapshotDiff {
	prevByKey := indexByIdentity(prev)
	curByKey := indexByIdentity(cur)

	var d types.SnapshotDiff
	for key, curEl := range curByKey {
		prevEl, existed := prevByKey[key]
		if !existed {
			d.Added = append(d.Added, curEl)
			continue
		}
		if fields := changedFields(prevEl, curEl); len(fields) > 0 {
			d.Changed = append(d.Changed, types.ElementChange{
				Ref:    curEl.Ref,
				Before: prevEl,
				After:  curEl,
				Fields: fields,
			})
		}
	}
	for key, prevEl := range prevByKey {
		if _, stillThere := curByKey[key]; !stillThere {
			d.Removed = append(d.Removed, prevEl)
		}
	}
	return d
}

func indexByIdentity(snap *types.Snapshot) map[string]types.Element {
	m := make(map[string]types.Element, len(snap.Elements))
	for _, el := range snap.Elements {
		m[identityKey(el)] = el
	}
	return m
}

// identityKey is the best-effort stable identity for an element across
// two Snapshots of the same page: role + accessible name, disambiguated
// by any stable id/test-id attribute when present.
func identityKey(el types.Element) string {
	key := el.Role + "\x00" + el.Name
	if id := el.Attrs["id"]; id != "" {
		key += "\x00" + id
	}
	if tid := el.Attrs["data-testid"]; tid != "" {
		key += "\x00" + tid
	}
	return key
}

func changedFields(a, b types.Element) []string {
	var fields []string
	if a.Value != b.Value {
		fields = append(fields, "value")
	}
	if a.Visible != b.Visible {
		fields = append(fields, "visible")
	}
	if a.X != b.X || a.Y != b.Y || a.W != b.W || a.H != b.H {
		fields = append(fields, "bounds")
	}
	for k, v := range b.Attrs {
		if a.Attrs[k] != v {
			fields = append(fields, "attr:"+k)
		}
	}
	return fields
}
