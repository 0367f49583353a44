package evacuation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"evacuation/internal/faceclient"
	"evacuation/internal/metrics"
)

// Options tunes the refresh pipeline.
type Options struct {
	// LookbackDays bounds the detection window; 0 means all retained history.
	LookbackDays       int
	FaceListLimit      int
	DetectionPageLimit int
	ListItemPageLimit  int
}

func (o *Options) applyDefaults() {
	if o.FaceListLimit <= 0 {
		o.FaceListLimit = 100
	}
	if o.DetectionPageLimit <= 0 {
		o.DetectionPageLimit = 500
	}
	if o.ListItemPageLimit <= 0 {
		o.ListItemPageLimit = 1000
	}
}

// Service owns the refresh pipeline and the interactive entry points (manual
// overrides and roster queries). A single Service is shared by the ticker and
// any externally triggered refresh; the guard keeps cycles single-flight.
type Service struct {
	source  DetectionSource
	store   StatusStore
	fetcher *Fetcher
	guard   *Guard
	opts    Options
	log     zerolog.Logger
	now     func() time.Time
}

// NewService wires the pipeline. The guard must be shared with every caller
// that can trigger a refresh.
func NewService(source DetectionSource, store StatusStore, guard *Guard, opts Options, log zerolog.Logger) *Service {
	opts.applyDefaults()
	return &Service{
		source:  source,
		store:   store,
		fetcher: NewFetcher(source, opts.DetectionPageLimit, opts.ListItemPageLimit),
		guard:   guard,
		opts:    opts,
		log:     log,
		now:     time.Now,
	}
}

// RefreshAll runs one full refresh cycle: resolve tracked lists, then per list
// fetch detections and roster, reconcile, and upsert. A failure in one list is
// logged and does not abort the rest. Returns ErrRefreshInProgress when a
// cycle already holds the guard.
func (s *Service) RefreshAll(ctx context.Context) error {
	if !s.guard.TryAcquire() {
		metrics.RefreshSkipped.Inc()
		s.log.Debug().Msg("refresh trigger rejected: cycle already running")
		return ErrRefreshInProgress
	}
	defer s.guard.Release()

	cycle := uuid.NewString()
	started := s.now()
	log := s.log.With().Str("cycle", cycle).Logger()

	listsResp, err := s.source.Lists(ctx, s.opts.FaceListLimit)
	if err != nil {
		metrics.RefreshCycles.WithLabelValues("error").Inc()
		log.Warn().Err(err).Msg("face api unavailable, skipping refresh")
		return fmt.Errorf("fetch face lists: %w", err)
	}

	tracked := ResolveTrackedLists(listsResp.Data)
	if len(tracked) == 0 {
		metrics.RefreshCycles.WithLabelValues("empty").Inc()
		log.Info().Msg("no lists with tracking enabled, nothing to refresh")
		return nil
	}

	end := s.now().UnixMilli()
	start := s.windowStart(end)
	log.Info().Int("lists", len(tracked)).Msg("refresh started")

	failed := 0
	for _, list := range tracked {
		if err := s.refreshList(ctx, list, start, end); err != nil {
			failed++
			metrics.ListFailures.Inc()
			log.Error().Err(err).Int64("list_id", list.ID).Msg("list refresh failed")
		}
	}

	result := "ok"
	if failed > 0 {
		result = "partial"
	}
	metrics.RefreshCycles.WithLabelValues(result).Inc()
	metrics.RefreshDuration.Observe(s.now().Sub(started).Seconds())
	log.Info().Int("failed_lists", failed).Dur("took", s.now().Sub(started)).Msg("refresh finished")
	return nil
}

func (s *Service) refreshList(ctx context.Context, list TrackedList, start *int64, end int64) error {
	detections, err := s.fetcher.DetectionsInWindow(ctx, list.ID, list.Config.AllStreams(), start, end)
	if err != nil {
		return fmt.Errorf("fetch detections: %w", err)
	}

	roster, err := s.fetcher.Roster(ctx, list.ID)
	if err != nil {
		return fmt.Errorf("fetch roster: %w", err)
	}
	if len(roster) == 0 {
		return nil
	}

	rosterIDs := make(map[int64]struct{}, len(roster))
	for _, person := range roster {
		rosterIDs[person.ID] = struct{}{}
	}

	existingRecords, err := s.store.FindByList(ctx, list.ID)
	if err != nil {
		return fmt.Errorf("load existing records: %w", err)
	}
	existing := make(map[int64]StatusRecord, len(existingRecords))
	for _, rec := range existingRecords {
		existing[rec.PersonID] = rec
	}

	latest := LatestByPerson(detections, rosterIDs)
	records := Reconcile(ReconcileInput{
		ListID:   list.ID,
		Config:   list.Config,
		Roster:   roster,
		Latest:   latest,
		Existing: existing,
	})

	// Each row carries its detection evidence so the store can re-check
	// override supersession against the persisted state at write time.
	upserts := make([]Upsert, len(records))
	for i, rec := range records {
		var evidence *int64
		if d, ok := latest[rec.PersonID]; ok {
			evidence = d.Timestamp
		}
		upserts[i] = Upsert{Record: rec, Evidence: evidence}
	}

	if err := s.store.UpsertAll(ctx, upserts); err != nil {
		return fmt.Errorf("upsert records: %w", err)
	}
	metrics.RecordsUpserted.Add(float64(len(records)))
	return nil
}

// windowStart derives the lookback lower bound; nil disables it.
func (s *Service) windowStart(end int64) *int64 {
	if s.opts.LookbackDays <= 0 {
		return nil
	}
	start := end - int64(s.opts.LookbackDays)*24*time.Hour.Milliseconds()
	return &start
}

// SetManualStatus records a human correction for one person. It writes
// directly to the store, racing safely with a running refresh because upserts
// are atomic per key. A non-positive effectiveTime defaults to now. The
// returned bool reports whether the override created a record the refresh had
// not produced yet. Errors surface to the caller since overrides are
// interactive.
func (s *Service) SetManualStatus(ctx context.Context, listID, personID int64, status bool, effectiveTime int64) (created bool, err error) {
	if effectiveTime <= 0 {
		effectiveTime = s.now().UnixMilli()
	}
	existed, err := s.store.Exists(ctx, listID, personID)
	if err != nil {
		return false, fmt.Errorf("check existing record: %w", err)
	}
	if err := s.store.SetManualStatus(ctx, listID, personID, status, effectiveTime); err != nil {
		return false, fmt.Errorf("set manual status: %w", err)
	}
	s.log.Info().
		Int64("list_id", listID).
		Int64("person_id", personID).
		Bool("status", status).
		Bool("created", !existed).
		Int64("effective_time", effectiveTime).
		Msg("manual status recorded")
	return !existed, nil
}

// ActivePersonIDs returns the ids of persons currently on site for a list.
func (s *Service) ActivePersonIDs(ctx context.Context, listID int64) ([]int64, error) {
	records, err := s.store.FindActiveByList(ctx, listID)
	if err != nil {
		return nil, fmt.Errorf("query active records: %w", err)
	}
	ids := make([]int64, 0, len(records))
	for _, rec := range records {
		ids = append(ids, rec.PersonID)
	}
	return ids, nil
}

// ActiveStatuses returns the full active records for a list keyed by person
// id, including entrance times for display.
func (s *Service) ActiveStatuses(ctx context.Context, listID int64) (map[int64]StatusRecord, error) {
	records, err := s.store.FindActiveByList(ctx, listID)
	if err != nil {
		return nil, fmt.Errorf("query active records: %w", err)
	}
	byPerson := make(map[int64]StatusRecord, len(records))
	for _, rec := range records {
		byPerson[rec.PersonID] = rec
	}
	return byPerson, nil
}

var _ DetectionSource = (*faceclient.Client)(nil)
