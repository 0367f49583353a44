package evacuation

import (
	"testing"

	"evacuation/internal/faceclient"
)

func boolPtr(v bool) *bool { return &v }

func TestResolveTrackedLists(t *testing.T) {
	lists := []faceclient.List{
		{ID: 1, Name: "HQ", TimeAttendance: &faceclient.TimeAttendance{
			Enabled:              boolPtr(true),
			EntranceAnalyticsIDs: []int64{10},
			ExitAnalyticsIDs:     []int64{20},
		}},
		{ID: 2, Name: "No config"},
		{ID: 3, Name: "Disabled", TimeAttendance: &faceclient.TimeAttendance{Enabled: boolPtr(false)}},
		{ID: 4, Name: "Null enabled", TimeAttendance: &faceclient.TimeAttendance{}},
	}

	tracked := ResolveTrackedLists(lists)
	if len(tracked) != 1 {
		t.Fatalf("expected 1 tracked list, got %d", len(tracked))
	}
	if tracked[0].ID != 1 {
		t.Errorf("expected list 1, got %d", tracked[0].ID)
	}
	if !tracked[0].Config.IsEntrance(10) || tracked[0].Config.IsEntrance(20) {
		t.Errorf("unexpected entrance classification: %+v", tracked[0].Config)
	}
}

func TestTrackingConfig(t *testing.T) {
	t.Run("empty entrance set counts nothing as entrance", func(t *testing.T) {
		cfg := TrackingConfig{Exit: []int64{20}}
		if cfg.IsEntrance(10) || cfg.IsEntrance(20) {
			t.Error("no stream should count as entrance")
		}
	})

	t.Run("all streams combines both sets", func(t *testing.T) {
		cfg := TrackingConfig{Entrance: []int64{10, 11}, Exit: []int64{20}}
		all := cfg.AllStreams()
		if len(all) != 3 {
			t.Fatalf("expected 3 streams, got %v", all)
		}
	})

	t.Run("empty sets store as nil columns", func(t *testing.T) {
		cfg := TrackingConfig{}
		if cfg.entranceColumn() != nil || cfg.exitColumn() != nil {
			t.Error("empty sets should become nil, not empty arrays")
		}
	})
}
