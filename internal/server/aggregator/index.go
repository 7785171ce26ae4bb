package aggregator

import (
	"sort"

	"github.com/watchtower-noc/watchtower/internal/model"
)

// KeyIndex maps normalized names to skeleton device ids. It is built once
// per aggregation from each device's id, display name and aliases. A key
// claimed by more than one device is dropped, so a report never attaches to
// the wrong device by accident.
type KeyIndex struct {
	keys      map[string]string
	ambiguous map[string]struct{}
}

// NewKeyIndex indexes the skeleton devices.
func NewKeyIndex(devices []model.SkeletonDevice) *KeyIndex {
	idx := &KeyIndex{
		keys:      make(map[string]string),
		ambiguous: make(map[string]struct{}),
	}
	for _, d := range devices {
		names := append([]string{d.ID, d.DisplayName}, d.Aliases...)
		for _, name := range names {
			key := model.NormalizeID(name)
			if key == "" {
				continue
			}
			if _, bad := idx.ambiguous[key]; bad {
				continue
			}
			owner, taken := idx.keys[key]
			switch {
			case !taken:
				idx.keys[key] = d.ID
			case owner != d.ID:
				delete(idx.keys, key)
				idx.ambiguous[key] = struct{}{}
			}
		}
	}
	return idx
}

// Resolve returns the device id owning the normalized form of name.
func (x *KeyIndex) Resolve(name string) (string, bool) {
	id, ok := x.keys[model.NormalizeID(name)]
	return id, ok
}

// Ambiguous returns the dropped keys in sorted order.
func (x *KeyIndex) Ambiguous() []string {
	out := make([]string, 0, len(x.ambiguous))
	for k := range x.ambiguous {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
