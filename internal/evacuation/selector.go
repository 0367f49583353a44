package evacuation

import "evacuation/internal/faceclient"

// LatestByPerson reduces an unordered detection collection to the single
// chronologically-latest detection per person. Detections with no person
// reference, or referencing a person outside the roster, are ignored. On an
// equal timestamp the detection encountered later in the input wins, so the
// result is deterministic for a fixed input order. A detection without a
// timestamp never displaces one that has one.
func LatestByPerson(detections []faceclient.Detection, roster map[int64]struct{}) map[int64]faceclient.Detection {
	latest := make(map[int64]faceclient.Detection)
	for _, d := range detections {
		personID, ok := d.PersonID()
		if !ok {
			continue
		}
		if _, onRoster := roster[personID]; !onRoster {
			continue
		}
		prev, seen := latest[personID]
		if !seen || isAtLeastAsLate(d, prev) {
			latest[personID] = d
		}
	}
	return latest
}

func isAtLeastAsLate(candidate, existing faceclient.Detection) bool {
	if candidate.Timestamp == nil {
		return false
	}
	return existing.Timestamp == nil || *candidate.Timestamp >= *existing.Timestamp
}
