package faceclient

// List is a face list as returned by GET /face/lists. TimeAttendance is nil
// when the list carries no presence-tracking configuration at all, which is
// distinct from a configuration with Enabled set to false.
type List struct {
	ID             int64           `json:"id"`
	Name           string          `json:"name"`
	Comment        string          `json:"comment"`
	TimeAttendance *TimeAttendance `json:"time_attendance"`
}

// TimeAttendance is the per-list presence-tracking configuration. Enabled is a
// pointer because the upstream sends null for lists created before the feature
// existed; null counts as disabled.
type TimeAttendance struct {
	Enabled              *bool   `json:"enabled"`
	EntranceAnalyticsIDs []int64 `json:"entrance_analytics_ids"`
	ExitAnalyticsIDs     []int64 `json:"exit_analytics_ids"`
}

// ListsResponse wraps GET /face/lists.
type ListsResponse struct {
	Data   []List `json:"data"`
	Status string `json:"status"`
	Total  int    `json:"total"`
	Pages  int    `json:"pages"`
}

// ListItem is one tracked person within a list.
type ListItem struct {
	ID      int64       `json:"id"`
	Name    string      `json:"name"`
	ListID  int64       `json:"list_id"`
	Comment string      `json:"comment"`
	Images  []ListImage `json:"images"`
}

// ListImage is an opaque reference to an enrolled face image.
type ListImage struct {
	ID  int64  `json:"id"`
	URL string `json:"url"`
}

// ListItemsResponse wraps GET /face/list_items.
type ListItemsResponse struct {
	Data  []ListItem `json:"data"`
	Total int        `json:"total"`
}

// Detection is a single face detection event. ListItem is nil for unmatched
// faces; Timestamp and the analytics stream reference are nullable upstream.
type Detection struct {
	ID        int64         `json:"id"`
	Timestamp *int64        `json:"timestamp"`
	Analytics *AnalyticsRef `json:"analytics"`
	ListItem  *ListItem     `json:"list_item"`
	FaceImage string        `json:"face_image"`
}

// AnalyticsRef identifies the camera/analytics stream that produced a detection.
type AnalyticsRef struct {
	StreamID *int64 `json:"stream_id"`
}

// DetectionsResponse wraps the paginated detections query. Total and Pages are
// pointers because older deployments omit them.
type DetectionsResponse struct {
	Data   []Detection `json:"data"`
	Total  *int        `json:"total"`
	Pages  *int        `json:"pages"`
	Status string      `json:"status"`
}

// StreamID returns the detection's stream id, or false when either the
// analytics reference or the id itself is absent.
func (d Detection) StreamID() (int64, bool) {
	if d.Analytics == nil || d.Analytics.StreamID == nil {
		return 0, false
	}
	return *d.Analytics.StreamID, true
}

// PersonID returns the matched person's id, or false for unmatched detections.
func (d Detection) PersonID() (int64, bool) {
	if d.ListItem == nil {
		return 0, false
	}
	return d.ListItem.ID, true
}
