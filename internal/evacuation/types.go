package evacuation

import (
	"context"
	"errors"

	"evacuation/internal/faceclient"
)

// ErrRefreshInProgress is returned when a refresh trigger arrives while a
// cycle is already running. Callers treat it as a no-op, not a failure.
var ErrRefreshInProgress = errors.New("refresh already in progress")

// StatusRecord is the persisted on-site/evacuated determination for one
// (list, person) pair. EntranceTime and ExitTime are epoch millis; nil means
// no automatic detection (or override) has set them.
type StatusRecord struct {
	ListID          int64   `json:"list_id"`
	PersonID        int64   `json:"person_id"`
	EnterStreamIDs  []int64 `json:"enter_stream_ids,omitempty"`
	ExitStreamIDs   []int64 `json:"exit_stream_ids,omitempty"`
	Status          bool    `json:"status"`
	EntranceTime    *int64  `json:"entrance_time,omitempty"`
	ExitTime        *int64  `json:"exit_time,omitempty"`
	ManuallyUpdated bool    `json:"manually_updated"`
}

// overrideTime is the effective time of a manual override: the greater of the
// record's timestamps, treating nil as zero. A detection supersedes the
// override only when strictly newer than this.
func (r StatusRecord) overrideTime() int64 {
	var t int64
	if r.EntranceTime != nil {
		t = *r.EntranceTime
	}
	if r.ExitTime != nil && *r.ExitTime > t {
		t = *r.ExitTime
	}
	return t
}

// DetectionSource is the remote face API surface this engine consumes.
// Implemented by faceclient.Client.
type DetectionSource interface {
	Lists(ctx context.Context, limit int) (faceclient.ListsResponse, error)
	ListItems(ctx context.Context, listID int64, offset, limit int) (faceclient.ListItemsResponse, error)
	Detections(ctx context.Context, query faceclient.DetectionQuery) (faceclient.DetectionsResponse, error)
}

// Upsert couples a computed status record with the detection evidence that
// backs it: the person's latest detection timestamp in the cycle's window, or
// nil when the window held none.
type Upsert struct {
	Record   StatusRecord
	Evidence *int64
}

// StatusStore persists status records keyed by (list, person). An upsert
// replaces the row for a key, except that a persisted row with
// manually_updated set keeps its status and timestamps unless the upsert's
// evidence is strictly newer than the override's effective time; the stream
// audit columns refresh either way. The check runs against the row as stored
// at write time, so an override landing after the cycle read its snapshot
// still wins. Batches are all-or-nothing per call.
type StatusStore interface {
	UpsertAll(ctx context.Context, upserts []Upsert) error
	FindByList(ctx context.Context, listID int64) ([]StatusRecord, error)
	FindActiveByList(ctx context.Context, listID int64) ([]StatusRecord, error)
	Exists(ctx context.Context, listID, personID int64) (bool, error)
	SetManualStatus(ctx context.Context, listID, personID int64, status bool, effectiveTime int64) error
}
