package broadcast

import (
	"sort"

	"github.com/mitchellh/hashstructure/v2"

	"github.com/watchtower-noc/watchtower/internal/model"
)

// Digest reduces s to its device statuses and their fingerprint. Only the
// id to status map is hashed; display names do not affect it.
func Digest(s *model.Snapshot) model.StatusDigest {
	d := model.StatusDigest{Devices: make(map[string]model.DeviceState)}
	if s == nil {
		return d
	}
	statuses := make(map[string]model.DeviceStatus, len(s.Devices))
	for id, dev := range s.Devices {
		d.Devices[id] = model.DeviceState{Status: dev.Status, Name: dev.DisplayName}
		statuses[id] = dev.Status
	}
	if h, err := hashstructure.Hash(statuses, hashstructure.FormatV2, nil); err == nil {
		d.Fingerprint = h
	}
	return d
}

// Diff returns the status transitions from prev to next, sorted by device id.
// Devices only present in next are not reported. Devices that disappeared
// are reported as becoming unknown. A nil prev yields no changes.
func Diff(prev, next *model.Snapshot) []model.StatusChange {
	if prev == nil {
		return nil
	}
	return DiffDigest(Digest(prev), Digest(next))
}

// DiffDigest is Diff over digests. Equal non-zero fingerprints over the same
// number of devices are taken as no change without walking the maps.
func DiffDigest(prev, next model.StatusDigest) []model.StatusChange {
	if prev.Fingerprint != 0 && prev.Fingerprint == next.Fingerprint && len(prev.Devices) == len(next.Devices) {
		return nil
	}

	var changes []model.StatusChange
	for id, old := range prev.Devices {
		cur, ok := next.Devices[id]
		switch {
		case !ok:
			changes = append(changes, model.StatusChange{
				DeviceID:  id,
				Hostname:  old.Name,
				OldStatus: old.Status,
				NewStatus: model.StatusUnknown,
			})
		case cur.Status != old.Status:
			changes = append(changes, model.StatusChange{
				DeviceID:  id,
				Hostname:  cur.Name,
				OldStatus: old.Status,
				NewStatus: cur.Status,
			})
		}
	}

	sort.Slice(changes, func(i, j int) bool {
		return changes[i].DeviceID < changes[j].DeviceID
	})
	return changes
}
