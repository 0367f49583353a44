package evacuation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"evacuation/internal/faceclient"
)

type key struct{ listID, personID int64 }

// fakeStore is an in-memory StatusStore mirroring the repository's guarded
// upsert semantics: a stored manual override keeps its status columns unless
// the upsert's evidence is strictly newer, checked at write time.
type fakeStore struct {
	mu           sync.Mutex
	records      map[key]StatusRecord
	upserts      int
	failAll      bool
	onFindByList func() // runs after each snapshot read, outside the lock
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: make(map[key]StatusRecord)}
}

func (s *fakeStore) UpsertAll(ctx context.Context, upserts []Upsert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll {
		return errors.New("store down")
	}
	for _, u := range upserts {
		k := key{u.Record.ListID, u.Record.PersonID}
		if prev, ok := s.records[k]; ok && prev.ManuallyUpdated &&
			(u.Evidence == nil || *u.Evidence <= prev.overrideTime()) {
			prev.EnterStreamIDs = u.Record.EnterStreamIDs
			prev.ExitStreamIDs = u.Record.ExitStreamIDs
			s.records[k] = prev
			s.upserts++
			continue
		}
		s.records[k] = u.Record
		s.upserts++
	}
	return nil
}

func (s *fakeStore) FindByList(ctx context.Context, listID int64) ([]StatusRecord, error) {
	s.mu.Lock()
	var out []StatusRecord
	for k, rec := range s.records {
		if k.listID == listID {
			out = append(out, rec)
		}
	}
	s.mu.Unlock()
	if s.onFindByList != nil {
		s.onFindByList()
	}
	return out, nil
}

func (s *fakeStore) FindActiveByList(ctx context.Context, listID int64) ([]StatusRecord, error) {
	all, _ := s.FindByList(ctx, listID)
	var out []StatusRecord
	for _, rec := range all {
		if rec.Status {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *fakeStore) Exists(ctx context.Context, listID, personID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.records[key{listID, personID}]
	return ok, nil
}

func (s *fakeStore) SetManualStatus(ctx context.Context, listID, personID int64, status bool, effectiveTime int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := StatusRecord{ListID: listID, PersonID: personID, Status: status, ManuallyUpdated: true}
	if prev, ok := s.records[key{listID, personID}]; ok {
		rec.EnterStreamIDs = prev.EnterStreamIDs
		rec.ExitStreamIDs = prev.ExitStreamIDs
	}
	if status {
		rec.EntranceTime = &effectiveTime
	} else {
		rec.ExitTime = &effectiveTime
	}
	s.records[key{listID, personID}] = rec
	return nil
}

func (s *fakeStore) get(listID, personID int64) (StatusRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key{listID, personID}]
	return rec, ok
}

// scriptedSource serves a fixed set of tracked lists with per-list rosters
// and detections, with optional failure injection and call blocking.
type scriptedSource struct {
	mu            sync.Mutex
	lists         []faceclient.List
	rosters       map[int64][]faceclient.ListItem
	detections    map[int64][]faceclient.Detection
	failLists     map[int64]bool
	listsCalls    int
	blockOnLists  chan struct{} // closed by the test to unblock
	listsEntered  chan struct{} // signaled when Lists is called
}

func trackedList(id int64, entrance, exit []int64) faceclient.List {
	enabled := true
	return faceclient.List{ID: id, TimeAttendance: &faceclient.TimeAttendance{
		Enabled:              &enabled,
		EntranceAnalyticsIDs: entrance,
		ExitAnalyticsIDs:     exit,
	}}
}

func (s *scriptedSource) Lists(ctx context.Context, limit int) (faceclient.ListsResponse, error) {
	s.mu.Lock()
	s.listsCalls++
	entered := s.listsEntered
	block := s.blockOnLists
	s.mu.Unlock()
	if entered != nil {
		entered <- struct{}{}
	}
	if block != nil {
		<-block
	}
	return faceclient.ListsResponse{Data: s.lists}, nil
}

func (s *scriptedSource) ListItems(ctx context.Context, listID int64, offset, limit int) (faceclient.ListItemsResponse, error) {
	items := s.rosters[listID]
	return faceclient.ListItemsResponse{Data: items, Total: len(items)}, nil
}

func (s *scriptedSource) Detections(ctx context.Context, q faceclient.DetectionQuery) (faceclient.DetectionsResponse, error) {
	if s.failLists[q.ListID] {
		return faceclient.DetectionsResponse{}, errors.New("upstream 502")
	}
	return faceclient.DetectionsResponse{Data: s.detections[q.ListID]}, nil
}

func newService(src DetectionSource, store StatusStore) *Service {
	return NewService(src, store, NewGuard(), Options{LookbackDays: 14}, zerolog.Nop())
}

func TestRefreshAll(t *testing.T) {
	t.Run("full pipeline writes one record per roster member", func(t *testing.T) {
		src := &scriptedSource{
			lists:   []faceclient.List{trackedList(1, []int64{10}, []int64{20})},
			rosters: map[int64][]faceclient.ListItem{1: roster(5, 6)},
			detections: map[int64][]faceclient.Detection{1: {
				detection(5, 20, 100),
				detection(5, 10, 200),
			}},
		}
		store := newFakeStore()

		if err := newService(src, store).RefreshAll(context.Background()); err != nil {
			t.Fatalf("refresh failed: %v", err)
		}

		rec, ok := store.get(1, 5)
		if !ok || !rec.Status || rec.EntranceTime == nil || *rec.EntranceTime != 200 {
			t.Errorf("person 5: expected on-site at t=200, got %+v", rec)
		}
		rec, ok = store.get(1, 6)
		if !ok || rec.Status || rec.EntranceTime != nil {
			t.Errorf("person 6: expected off-site with no entrance time, got %+v", rec)
		}
	})

	t.Run("list failure is isolated", func(t *testing.T) {
		src := &scriptedSource{
			lists: []faceclient.List{
				trackedList(1, []int64{10}, nil),
				trackedList(2, []int64{10}, nil),
			},
			rosters: map[int64][]faceclient.ListItem{
				1: roster(5),
				2: {{ID: 7, ListID: 2}},
			},
			detections: map[int64][]faceclient.Detection{
				2: {detection(7, 10, 300)},
			},
			failLists: map[int64]bool{1: true},
		}
		store := newFakeStore()

		if err := newService(src, store).RefreshAll(context.Background()); err != nil {
			t.Fatalf("cycle must not fail because one list did: %v", err)
		}
		if _, ok := store.get(1, 5); ok {
			t.Error("failed list must leave no writes")
		}
		if rec, ok := store.get(2, 7); !ok || !rec.Status {
			t.Errorf("healthy list must still be processed, got %+v", rec)
		}
	})

	t.Run("empty roster is a no-op, not an error", func(t *testing.T) {
		src := &scriptedSource{
			lists:   []faceclient.List{trackedList(1, []int64{10}, nil)},
			rosters: map[int64][]faceclient.ListItem{},
		}
		store := newFakeStore()
		if err := newService(src, store).RefreshAll(context.Background()); err != nil {
			t.Fatalf("refresh failed: %v", err)
		}
		if store.upserts != 0 {
			t.Errorf("expected no writes, got %d", store.upserts)
		}
	})

	t.Run("upstream lists failure aborts the cycle", func(t *testing.T) {
		store := newFakeStore()
		svc := NewService(&failingSource{}, store, NewGuard(), Options{}, zerolog.Nop())
		if err := svc.RefreshAll(context.Background()); err == nil {
			t.Fatal("expected error when the list roster is unavailable")
		}
		if store.upserts != 0 {
			t.Error("no writes expected when the cycle aborts")
		}
	})

	t.Run("concurrent trigger is a no-op", func(t *testing.T) {
		src := &scriptedSource{
			lists:        []faceclient.List{trackedList(1, []int64{10}, nil)},
			rosters:      map[int64][]faceclient.ListItem{1: roster(5)},
			blockOnLists: make(chan struct{}),
			listsEntered: make(chan struct{}, 1),
		}
		store := newFakeStore()
		svc := newService(src, store)

		done := make(chan error, 1)
		go func() { done <- svc.RefreshAll(context.Background()) }()

		// Wait until the first cycle holds the guard inside the upstream call.
		select {
		case <-src.listsEntered:
		case <-time.After(2 * time.Second):
			t.Fatal("first refresh never started")
		}

		if err := svc.RefreshAll(context.Background()); !errors.Is(err, ErrRefreshInProgress) {
			t.Fatalf("expected ErrRefreshInProgress, got %v", err)
		}

		close(src.blockOnLists)
		if err := <-done; err != nil {
			t.Fatalf("first refresh failed: %v", err)
		}
		if src.listsCalls != 1 {
			t.Errorf("expected exactly one pipeline execution, got %d", src.listsCalls)
		}

		// Guard released: the next trigger runs.
		src.mu.Lock()
		src.blockOnLists, src.listsEntered = nil, nil
		src.mu.Unlock()
		if err := svc.RefreshAll(context.Background()); err != nil {
			t.Fatalf("refresh after release failed: %v", err)
		}
	})
}

type failingSource struct{}

func (failingSource) Lists(ctx context.Context, limit int) (faceclient.ListsResponse, error) {
	return faceclient.ListsResponse{}, errors.New("connection refused")
}
func (failingSource) ListItems(ctx context.Context, listID int64, offset, limit int) (faceclient.ListItemsResponse, error) {
	return faceclient.ListItemsResponse{}, errors.New("connection refused")
}
func (failingSource) Detections(ctx context.Context, q faceclient.DetectionQuery) (faceclient.DetectionsResponse, error) {
	return faceclient.DetectionsResponse{}, errors.New("connection refused")
}

func TestManualOverrideLifecycle(t *testing.T) {
	newScripted := func(detections ...faceclient.Detection) *scriptedSource {
		return &scriptedSource{
			lists:      []faceclient.List{trackedList(1, []int64{10}, []int64{20})},
			rosters:    map[int64][]faceclient.ListItem{1: roster(5)},
			detections: map[int64][]faceclient.Detection{1: detections},
		}
	}

	t.Run("override survives refresh without newer evidence", func(t *testing.T) {
		src := newScripted(detection(5, 20, 900)) // exit detection at t=900 <= override time
		store := newFakeStore()
		svc := newService(src, store)

		created, err := svc.SetManualStatus(context.Background(), 1, 5, true, 1000)
		if err != nil {
			t.Fatalf("override failed: %v", err)
		}
		if !created {
			t.Error("first override for a person should create its record")
		}
		if err := svc.RefreshAll(context.Background()); err != nil {
			t.Fatalf("refresh failed: %v", err)
		}

		rec, _ := store.get(1, 5)
		if !rec.Status || !rec.ManuallyUpdated {
			t.Errorf("override must survive, got %+v", rec)
		}

		if created, err = svc.SetManualStatus(context.Background(), 1, 5, false, 2000); err != nil || created {
			t.Errorf("second override must update in place, got created=%v err=%v", created, err)
		}
	})

	t.Run("override landing mid-cycle survives the batch write", func(t *testing.T) {
		// The window holds only an old exit detection; the override is
		// injected after the cycle has read its snapshot, so only the
		// write-time guard can protect it.
		src := newScripted(detection(5, 20, 100))
		store := newFakeStore()
		svc := newService(src, store)

		store.onFindByList = func() {
			store.onFindByList = nil
			if _, err := svc.SetManualStatus(context.Background(), 1, 5, true, 5000); err != nil {
				t.Errorf("override failed: %v", err)
			}
		}
		if err := svc.RefreshAll(context.Background()); err != nil {
			t.Fatalf("refresh failed: %v", err)
		}

		rec, _ := store.get(1, 5)
		if !rec.Status || !rec.ManuallyUpdated {
			t.Errorf("mid-cycle override must survive a write without newer evidence, got %+v", rec)
		}
		if rec.EntranceTime == nil || *rec.EntranceTime != 5000 {
			t.Errorf("override effective time must be kept, got %v", rec.EntranceTime)
		}
	})

	t.Run("mid-cycle override yields to strictly newer evidence", func(t *testing.T) {
		src := newScripted(detection(5, 10, 9000))
		store := newFakeStore()
		svc := newService(src, store)

		store.onFindByList = func() {
			store.onFindByList = nil
			if _, err := svc.SetManualStatus(context.Background(), 1, 5, false, 5000); err != nil {
				t.Errorf("override failed: %v", err)
			}
		}
		if err := svc.RefreshAll(context.Background()); err != nil {
			t.Fatalf("refresh failed: %v", err)
		}

		rec, _ := store.get(1, 5)
		if !rec.Status || rec.ManuallyUpdated {
			t.Errorf("evidence newer than the override must win, got %+v", rec)
		}
	})

	t.Run("override superseded by newer entrance detection", func(t *testing.T) {
		src := newScripted(detection(5, 10, 1500))
		store := newFakeStore()
		svc := newService(src, store)

		if _, err := svc.SetManualStatus(context.Background(), 1, 5, false, 1000); err != nil {
			t.Fatalf("override failed: %v", err)
		}
		if err := svc.RefreshAll(context.Background()); err != nil {
			t.Fatalf("refresh failed: %v", err)
		}

		rec, _ := store.get(1, 5)
		if !rec.Status || rec.ManuallyUpdated {
			t.Errorf("newer detection must supersede the override, got %+v", rec)
		}
		if rec.EntranceTime == nil || *rec.EntranceTime != 1500 {
			t.Errorf("expected entrance_time=1500, got %v", rec.EntranceTime)
		}
	})

	t.Run("zero effective time defaults to now", func(t *testing.T) {
		store := newFakeStore()
		svc := newService(&scriptedSource{}, store)
		before := time.Now().UnixMilli()
		if _, err := svc.SetManualStatus(context.Background(), 1, 5, true, 0); err != nil {
			t.Fatalf("override failed: %v", err)
		}
		rec, _ := store.get(1, 5)
		if rec.EntranceTime == nil || *rec.EntranceTime < before {
			t.Errorf("expected entrance_time defaulted to now, got %v", rec.EntranceTime)
		}
	})
}

func TestActiveQueries(t *testing.T) {
	store := newFakeStore()
	entrance := int64(200)
	_ = store.UpsertAll(context.Background(), []Upsert{
		{Record: StatusRecord{ListID: 1, PersonID: 5, Status: true, EntranceTime: &entrance}},
		{Record: StatusRecord{ListID: 1, PersonID: 6, Status: false}},
		{Record: StatusRecord{ListID: 2, PersonID: 7, Status: true}},
	})
	svc := newService(&scriptedSource{}, store)

	ids, err := svc.ActivePersonIDs(context.Background(), 1)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(ids) != 1 || ids[0] != 5 {
		t.Errorf("expected only person 5 active on list 1, got %v", ids)
	}

	statuses, err := svc.ActiveStatuses(context.Background(), 1)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	rec, ok := statuses[5]
	if !ok || rec.EntranceTime == nil || *rec.EntranceTime != 200 {
		t.Errorf("expected entrance time in active statuses, got %+v", rec)
	}
}
