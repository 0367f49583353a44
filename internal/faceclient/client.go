package faceclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client calls the face recognition service (Vezha-style API).
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// New creates a client with a configurable request timeout.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: timeout},
	}
}

// Health checks upstream availability by listing a single face list.
func (c *Client) Health(ctx context.Context) error {
	_, err := c.Lists(ctx, 1)
	return err
}

// Lists fetches face lists with their presence-tracking configuration.
// GET /face/lists?limit=N
func (c *Client) Lists(ctx context.Context, limit int) (ListsResponse, error) {
	if limit <= 0 {
		limit = 100
	}
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))

	var out ListsResponse
	if err := c.getJSON(ctx, "/face/lists", q, &out); err != nil {
		return ListsResponse{}, err
	}
	return out, nil
}

// ListItems fetches one page of the person roster for a list.
// GET /face/list_items?list_id=...&offset=...&limit=...
func (c *Client) ListItems(ctx context.Context, listID int64, offset, limit int) (ListItemsResponse, error) {
	if limit <= 0 {
		limit = 20
	}
	q := url.Values{}
	q.Set("list_id", strconv.FormatInt(listID, 10))
	q.Set("name", "")
	q.Set("comment", "")
	q.Set("offset", strconv.Itoa(offset))
	q.Set("limit", strconv.Itoa(limit))
	q.Set("order", "asc")
	q.Set("sort_by", "name")

	var out ListItemsResponse
	if err := c.getJSON(ctx, "/face/list_items", q, &out); err != nil {
		return ListItemsResponse{}, err
	}
	return out, nil
}

// DetectionQuery filters one page of the detections endpoint. Start and End
// are epoch millis; nil Start means all retained history.
type DetectionQuery struct {
	ListID       int64
	AnalyticsIDs []int64
	Start        *int64
	End          *int64
	Offset       int
	Limit        int
}

// Detections fetches one page of detection events. The upstream models this as
// POST /face/detections with the filters in the query string and an empty
// multipart form body; a 404 means "no detections" rather than an error.
func (c *Client) Detections(ctx context.Context, query DetectionQuery) (DetectionsResponse, error) {
	limit := query.Limit
	if limit <= 0 {
		limit = 500
	}
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(query.Offset))
	q.Set("sort_order", "asc")
	q.Set("list_id", strconv.FormatInt(query.ListID, 10))
	if query.Start != nil {
		q.Set("start_date", strconv.FormatInt(*query.Start, 10))
	}
	if query.End != nil {
		q.Set("end_date", strconv.FormatInt(*query.End, 10))
	}
	if len(query.AnalyticsIDs) > 0 {
		q.Set("analytics_ids", bracketedIDs(query.AnalyticsIDs))
	}

	req, err := c.newEmptyMultipartRequest(ctx, "/face/detections", q)
	if err != nil {
		return DetectionsResponse{}, err
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return DetectionsResponse{}, fmt.Errorf("face api request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return DetectionsResponse{Status: "ok"}, nil
	}
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return DetectionsResponse{}, fmt.Errorf("face api error %s: %s", resp.Status, string(body))
	}

	var out DetectionsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return DetectionsResponse{}, fmt.Errorf("failed to decode detections response: %w", err)
	}
	return out, nil
}

func (c *Client) getJSON(ctx context.Context, path string, q url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("face api request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("face api error %s: %s", resp.Status, string(body))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// newEmptyMultipartRequest builds a POST with a zero-part multipart body, which
// is what the upstream expects on its detection query endpoint.
func (c *Client) newEmptyMultipartRequest(ctx context.Context, path string, q url.Values) (*http.Request, error) {
	var body strings.Builder
	w := multipart.NewWriter(&body)
	if err := w.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path+"?"+q.Encode(), strings.NewReader(body.String()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// bracketedIDs renders ids the way the upstream's swagger does: "[2,3]".
func bracketedIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return "[" + strings.Join(parts, ",") + "]"
}
