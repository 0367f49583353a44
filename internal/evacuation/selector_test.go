package evacuation

import (
	"testing"

	"evacuation/internal/faceclient"
)

func millis(v int64) *int64 { return &v }

func detection(personID, streamID, ts int64) faceclient.Detection {
	return faceclient.Detection{
		Timestamp: millis(ts),
		Analytics: &faceclient.AnalyticsRef{StreamID: &streamID},
		ListItem:  &faceclient.ListItem{ID: personID},
	}
}

func rosterSet(ids ...int64) map[int64]struct{} {
	set := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

func TestLatestByPerson(t *testing.T) {
	t.Run("keeps greatest timestamp per person", func(t *testing.T) {
		latest := LatestByPerson([]faceclient.Detection{
			detection(5, 20, 100),
			detection(5, 10, 200),
			detection(6, 10, 50),
		}, rosterSet(5, 6))

		if len(latest) != 2 {
			t.Fatalf("expected 2 persons, got %d", len(latest))
		}
		if got := *latest[5].Timestamp; got != 200 {
			t.Errorf("person 5: expected t=200, got %d", got)
		}
		if got := *latest[6].Timestamp; got != 50 {
			t.Errorf("person 6: expected t=50, got %d", got)
		}
	})

	t.Run("later input wins on equal timestamp", func(t *testing.T) {
		first := detection(5, 10, 100)
		second := detection(5, 20, 100)
		latest := LatestByPerson([]faceclient.Detection{first, second}, rosterSet(5))

		if sid, _ := latest[5].StreamID(); sid != 20 {
			t.Errorf("expected the later detection (stream 20) to win, got stream %d", sid)
		}
	})

	t.Run("ignores unmatched detections", func(t *testing.T) {
		unmatched := faceclient.Detection{Timestamp: millis(100), Analytics: &faceclient.AnalyticsRef{StreamID: millis(10)}}
		latest := LatestByPerson([]faceclient.Detection{unmatched}, rosterSet(5))
		if len(latest) != 0 {
			t.Fatalf("expected no entries, got %d", len(latest))
		}
	})

	t.Run("ignores off-roster persons", func(t *testing.T) {
		latest := LatestByPerson([]faceclient.Detection{detection(99, 10, 100)}, rosterSet(5))
		if len(latest) != 0 {
			t.Fatalf("expected no entries for off-roster person, got %d", len(latest))
		}
	})

	t.Run("missing timestamp never displaces a real one", func(t *testing.T) {
		noTS := faceclient.Detection{
			Analytics: &faceclient.AnalyticsRef{StreamID: millis(20)},
			ListItem:  &faceclient.ListItem{ID: 5},
		}
		latest := LatestByPerson([]faceclient.Detection{detection(5, 10, 100), noTS}, rosterSet(5))
		if latest[5].Timestamp == nil || *latest[5].Timestamp != 100 {
			t.Errorf("expected timestamped detection to survive, got %+v", latest[5])
		}
	})
}
