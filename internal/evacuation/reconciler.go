package evacuation

import "evacuation/internal/faceclient"

// ReconcileInput carries everything one list's reconciliation needs: the
// stream configuration in effect, the full roster, the latest detection per
// person, and the previously persisted records keyed by person.
type ReconcileInput struct {
	ListID   int64
	Config   TrackingConfig
	Roster   []faceclient.ListItem
	Latest   map[int64]faceclient.Detection
	Existing map[int64]StatusRecord
}

// Reconcile computes the new status record for every roster member.
//
// A record with ManuallyUpdated set is preserved unless the person's latest
// detection is strictly newer than the override's effective time; preserved
// records still get the current cycle's stream sets written for audit.
// Otherwise the status is recomputed from scratch: on-site exactly when the
// latest detection landed on an entrance stream. EntranceTime carries the
// detection timestamp for on-site determinations, ExitTime for off-site ones;
// the other column is cleared so re-running the same input yields the same row.
func Reconcile(in ReconcileInput) []StatusRecord {
	records := make([]StatusRecord, 0, len(in.Roster))
	for _, person := range in.Roster {
		latest, hasLatest := in.Latest[person.ID]

		if existing, ok := in.Existing[person.ID]; ok && existing.ManuallyUpdated {
			if !supersedesOverride(latest, hasLatest, existing) {
				existing.EnterStreamIDs = in.Config.entranceColumn()
				existing.ExitStreamIDs = in.Config.exitColumn()
				records = append(records, existing)
				continue
			}
		}

		rec := StatusRecord{
			ListID:         in.ListID,
			PersonID:       person.ID,
			EnterStreamIDs: in.Config.entranceColumn(),
			ExitStreamIDs:  in.Config.exitColumn(),
		}
		if hasLatest {
			if streamID, ok := latest.StreamID(); ok && in.Config.IsEntrance(streamID) {
				rec.Status = true
				rec.EntranceTime = latest.Timestamp
			} else {
				rec.ExitTime = latest.Timestamp
			}
		}
		records = append(records, rec)
	}
	return records
}

func supersedesOverride(latest faceclient.Detection, hasLatest bool, override StatusRecord) bool {
	if !hasLatest || latest.Timestamp == nil {
		return false
	}
	return *latest.Timestamp > override.overrideTime()
}
