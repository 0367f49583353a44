package evacuation

import (
	"slices"

	"evacuation/internal/faceclient"
)

// TrackingConfig holds the entrance/exit stream sets in effect for a list.
type TrackingConfig struct {
	Entrance []int64
	Exit     []int64
}

// IsEntrance reports whether a stream counts as an entrance. An empty entrance
// set means nothing does, so every person reconciles to off-site.
func (c TrackingConfig) IsEntrance(streamID int64) bool {
	return slices.Contains(c.Entrance, streamID)
}

// AllStreams returns entrance and exit streams combined, for the detection query.
func (c TrackingConfig) AllStreams() []int64 {
	combined := make([]int64, 0, len(c.Entrance)+len(c.Exit))
	combined = append(combined, c.Entrance...)
	combined = append(combined, c.Exit...)
	return combined
}

// entranceColumn returns the entrance set as stored in the audit columns:
// nil rather than an empty array when no streams are configured.
func (c TrackingConfig) entranceColumn() []int64 {
	if len(c.Entrance) == 0 {
		return nil
	}
	return slices.Clone(c.Entrance)
}

func (c TrackingConfig) exitColumn() []int64 {
	if len(c.Exit) == 0 {
		return nil
	}
	return slices.Clone(c.Exit)
}

// TrackedList is a face list whose presence tracking is enabled.
type TrackedList struct {
	ID     int64
	Name   string
	Config TrackingConfig
}

// ResolveTrackedLists filters the roster down to lists with tracking enabled,
// annotated with their stream configuration. Lists with a missing or disabled
// configuration are excluded, never errored.
func ResolveTrackedLists(lists []faceclient.List) []TrackedList {
	var tracked []TrackedList
	for _, list := range lists {
		ta := list.TimeAttendance
		if ta == nil || ta.Enabled == nil || !*ta.Enabled {
			continue
		}
		tracked = append(tracked, TrackedList{
			ID:   list.ID,
			Name: list.Name,
			Config: TrackingConfig{
				Entrance: ta.EntranceAnalyticsIDs,
				Exit:     ta.ExitAnalyticsIDs,
			},
		})
	}
	return tracked
}
