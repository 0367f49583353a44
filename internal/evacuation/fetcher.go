package evacuation

import (
	"context"
	"fmt"

	"evacuation/internal/faceclient"
)

// Fetcher assembles complete collections from the source's paginated endpoints.
// Failures are not retried here; the caller isolates them per list.
type Fetcher struct {
	source             DetectionSource
	detectionPageLimit int
	listItemPageLimit  int
}

// NewFetcher creates a fetcher with the given page sizes.
func NewFetcher(source DetectionSource, detectionPageLimit, listItemPageLimit int) *Fetcher {
	if detectionPageLimit <= 0 {
		detectionPageLimit = 500
	}
	if listItemPageLimit <= 0 {
		listItemPageLimit = 1000
	}
	return &Fetcher{
		source:             source,
		detectionPageLimit: detectionPageLimit,
		listItemPageLimit:  listItemPageLimit,
	}
}

// DetectionsInWindow fetches every detection for a list within [start, end],
// paging from offset 0 until a short page signals exhaustion. A nil start
// means all retained history. Output order is whatever the source returned;
// callers must not rely on it.
func (f *Fetcher) DetectionsInWindow(ctx context.Context, listID int64, streamIDs []int64, start *int64, end int64) ([]faceclient.Detection, error) {
	var all []faceclient.Detection
	offset := 0
	for {
		page, err := f.source.Detections(ctx, faceclient.DetectionQuery{
			ListID:       listID,
			AnalyticsIDs: streamIDs,
			Start:        start,
			End:          &end,
			Offset:       offset,
			Limit:        f.detectionPageLimit,
		})
		if err != nil {
			return nil, fmt.Errorf("detections page at offset %d: %w", offset, err)
		}
		all = append(all, page.Data...)
		if len(page.Data) < f.detectionPageLimit {
			break
		}
		offset += f.detectionPageLimit
	}
	return all, nil
}

// Roster fetches the full person roster for a list, paging until the reported
// total is reached or a short page returns.
func (f *Fetcher) Roster(ctx context.Context, listID int64) ([]faceclient.ListItem, error) {
	var all []faceclient.ListItem
	offset := 0
	for {
		page, err := f.source.ListItems(ctx, listID, offset, f.listItemPageLimit)
		if err != nil {
			return nil, fmt.Errorf("list items page at offset %d: %w", offset, err)
		}
		all = append(all, page.Data...)
		if len(page.Data) < f.listItemPageLimit {
			break
		}
		if page.Total > 0 && len(all) >= page.Total {
			break
		}
		offset += f.listItemPageLimit
	}
	return all, nil
}
