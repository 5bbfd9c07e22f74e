// Package console holds the live reconciliation store: the in-memory view of
// paths, record pages and chart series that merges REST snapshots with push
// events from the transport channel.
package console

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"hookscope/internal/channel"
	"hookscope/internal/export"
	"hookscope/internal/httpcontract"

	"github.com/charmbracelet/log"
)

const (
	// chartWindowMinutes is the rolling chart window: 8 hours at one-minute
	// resolution.
	chartWindowMinutes = 480

	defaultExportLimit = 1000000
	chartFetchTimeout  = 15 * time.Second
)

// DataService is the request/response side of the service, consumed but not
// implemented here.
type DataService interface {
	ListPaths(ctx context.Context) ([]httpcontract.Path, error)
	CreatePath(ctx context.Context, route, description string) (httpcontract.Path, error)
	DeletePath(ctx context.Context, id string) error
	ListRecords(ctx context.Context, id string, limit, skip int) (httpcontract.RecordPage, error)
	ChartSeries(ctx context.Context, id string) (httpcontract.ChartSeries, error)
}

// LiveChannel is the push side: a named-event subscription surface. On must
// replace any previously registered handler for the same event name.
type LiveChannel interface {
	On(event string, h channel.Handler)
	Off(event string)
	Connected() bool
}

// PageView is the currently displayed slice of records for one path, newest
// first. At most one page view is active at a time.
type PageView struct {
	Records []httpcontract.WebhookRecord
	Total   int
	Loading bool
}

// Store owns all console collections. It is the only writer; presentation
// layers read through the copying accessors and never observe a
// partially-applied mutation.
type Store struct {
	svc   DataService
	live  LiveChannel // may be nil when no channel was established
	saver export.Saver

	exportLimit int
	now         func() time.Time

	mu           sync.Mutex
	paths        []httpcontract.Path
	page         PageView
	charts       map[string]httpcontract.ChartSeries
	chartFetches map[string]bool
	recordHook   func(httpcontract.WebhookRecord)
}

// New creates a store wired to its collaborators. live may be nil; the store
// then works in pull-only mode and subscription attempts log a warning.
func New(svc DataService, live LiveChannel, saver export.Saver) *Store {
	return &Store{
		svc:          svc,
		live:         live,
		saver:        saver,
		exportLimit:  defaultExportLimit,
		now:          time.Now,
		charts:       make(map[string]httpcontract.ChartSeries),
		chartFetches: make(map[string]bool),
	}
}

// ListPaths replaces the local path collection with a fresh snapshot. On
// failure the local list is cleared rather than left stale.
func (s *Store) ListPaths(ctx context.Context) ([]httpcontract.Path, error) {
	paths, err := s.svc.ListPaths(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.paths = nil
		return nil, err
	}
	s.paths = paths
	return snapshotPaths(s.paths), nil
}

// CreatePath submits a new path and, on success, appends the returned entry
// to the end of the local collection. No re-sort, no re-fetch.
func (s *Store) CreatePath(ctx context.Context, route, description string) (httpcontract.Path, error) {
	created, err := s.svc.CreatePath(ctx, route, description)
	if err != nil {
		return httpcontract.Path{}, err
	}

	s.mu.Lock()
	s.paths = append(snapshotPaths(s.paths), created)
	s.mu.Unlock()
	return created, nil
}

// DeletePath submits a deletion and removes the matching path locally only
// after the server confirms. A rejected call leaves the collection unchanged.
func (s *Store) DeletePath(ctx context.Context, id string) error {
	if err := s.svc.DeletePath(ctx, id); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	kept := make([]httpcontract.Path, 0, len(s.paths))
	for _, p := range s.paths {
		if p.ID != id {
			kept = append(kept, p)
		}
	}
	s.paths = kept
	return nil
}

// LoadPageData fetches one page of records for a path and replaces the
// active page view. The loading flag is set for the duration of the call so
// presentation layers can show a spinner. On failure the view is reset to
// empty rather than left partially updated.
func (s *Store) LoadPageData(ctx context.Context, id string, limit, skip int) error {
	s.mu.Lock()
	s.page.Loading = true
	s.mu.Unlock()

	page, err := s.svc.ListRecords(ctx, id, limit, skip)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.page.Loading = false
	if err != nil {
		s.page.Records = nil
		s.page.Total = 0
		return err
	}
	s.page.Records = page.Data
	s.page.Total = page.TotalCount
	return nil
}

// LoadChartSeries fetches the precomputed series for a path and fully
// replaces any stored series. Push events that arrive afterwards apply their
// increments against the new series (last-fetch-wins, then events append).
// A slow fetch landing after push events overwrites their increments; that
// race is accepted, not mitigated.
func (s *Store) LoadChartSeries(ctx context.Context, id string) (httpcontract.ChartSeries, error) {
	series, err := s.svc.ChartSeries(ctx, id)
	if err != nil {
		return httpcontract.ChartSeries{}, err
	}

	s.mu.Lock()
	s.charts[id] = series
	s.mu.Unlock()
	return snapshotSeries(series), nil
}

// ExportPageData fetches the entire record set for a path (not just the
// current page), formats it as CSV and hands it to the saver. Returns the
// generated filename.
func (s *Store) ExportPageData(ctx context.Context, id, displayName string) (string, error) {
	s.mu.Lock()
	limit := s.exportLimit
	s.mu.Unlock()

	page, err := s.svc.ListRecords(ctx, id, limit, 0)
	if err != nil {
		return "", err
	}

	filename := export.Filename(displayName, s.now())
	if err := s.saver.Save(filename, export.MarshalRecords(page.Data)); err != nil {
		return "", err
	}
	return filename, nil
}

// SubscribeToLiveUpdates attaches the reconciliation handler to the
// channel's record event. Idempotent: the channel keeps exactly one handler
// per event name, so a second call replaces the first. Without a connected
// channel this is a warning-level no-op.
func (s *Store) SubscribeToLiveUpdates() {
	if s.live == nil || !s.live.Connected() {
		log.Warn("No live channel connected, skipping subscription")
		return
	}
	s.live.On(httpcontract.EventWebhookUpdate, s.handleLiveRecord)
}

// UnsubscribeFromLiveUpdates detaches the handler. Safe when already
// detached or disconnected.
func (s *Store) UnsubscribeFromLiveUpdates() {
	if s.live == nil {
		return
	}
	s.live.Off(httpcontract.EventWebhookUpdate)
}

// handleLiveRecord reconciles one push event into the local collections.
// The three reconciliation steps are independently guarded: a failure in one
// must not prevent the others from running.
func (s *Store) handleLiveRecord(data json.RawMessage) {
	var rec httpcontract.WebhookRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		log.Warn("Dropping malformed webhook event", "error", err)
		return
	}
	if rec.PathID == "" {
		log.Warn("Dropping webhook event without path id")
		return
	}

	var needFetch bool

	s.mu.Lock()
	guard("path-count", func() { s.bumpPathCountLocked(rec.PathID) })
	guard("chart", func() { needFetch = s.bumpChartLocked(rec.PathID) })
	guard("page-view", func() { s.bumpPageLocked(rec) })
	s.mu.Unlock()

	if needFetch {
		go s.fetchMissingSeries(rec.PathID)
	}

	s.mu.Lock()
	hook := s.recordHook
	s.mu.Unlock()
	if hook != nil {
		hook(rec)
	}
}

// SetExportLimit overrides the record count requested when exporting a
// path's full record set. Values below one are ignored.
func (s *Store) SetExportLimit(limit int) {
	if limit < 1 {
		return
	}
	s.mu.Lock()
	s.exportLimit = limit
	s.mu.Unlock()
}

// SetRecordHook registers a callback invoked after each live record has been
// reconciled. Used by watch-style consumers that want the record itself
// without replacing the channel handler.
func (s *Store) SetRecordHook(hook func(httpcontract.WebhookRecord)) {
	s.mu.Lock()
	s.recordHook = hook
	s.mu.Unlock()
}

// bumpPathCountLocked increments the received-count of the matching path,
// replacing both the slice and the entry so readers holding an old snapshot
// never see the value change under them.
func (s *Store) bumpPathCountLocked(id string) {
	for i, p := range s.paths {
		if p.ID != id {
			continue
		}
		updated := snapshotPaths(s.paths)
		updated[i].WebhookCount++
		s.paths = updated
		return
	}
}

// bumpChartLocked applies a single event to the path's series: same-minute
// events increment the newest bucket, otherwise a fresh (minute, 1) bucket
// is appended and expired buckets are evicted from the front. Returns true
// when no series exists yet and a fetch should be started instead; the store
// never synthesizes a partial series from one event.
func (s *Store) bumpChartLocked(id string) (needFetch bool) {
	series, ok := s.charts[id]
	if !ok {
		if s.chartFetches[id] {
			return false
		}
		s.chartFetches[id] = true
		return true
	}

	minute := s.now().Truncate(time.Minute).UnixMilli()
	n := len(series.Timestamps)

	if n > 0 && series.Timestamps[n-1] == minute {
		counts := append([]int(nil), series.Counts...)
		counts[n-1]++
		s.charts[id] = httpcontract.ChartSeries{Timestamps: series.Timestamps, Counts: counts}
		return false
	}

	ts := append(append([]int64(nil), series.Timestamps...), minute)
	counts := append(append([]int(nil), series.Counts...), 1)

	cutoff := minute - chartWindowMinutes*int64(time.Minute/time.Millisecond)
	for len(ts) > 0 && (ts[0] < cutoff || len(ts) > chartWindowMinutes) {
		ts = ts[1:]
		counts = counts[1:]
	}
	s.charts[id] = httpcontract.ChartSeries{Timestamps: ts, Counts: counts}
	return false
}

// bumpPageLocked prepends the record to the active page view when the view
// belongs to the record's path. The view's path is identified by its first
// loaded record, so an empty page receives no live prepends.
func (s *Store) bumpPageLocked(rec httpcontract.WebhookRecord) {
	if len(s.page.Records) == 0 || s.page.Records[0].PathID != rec.PathID {
		return
	}
	s.page.Records = append([]httpcontract.WebhookRecord{rec}, s.page.Records...)
	s.page.Total++
}

// fetchMissingSeries loads the series for a path that received an event
// before any chart data existed locally.
func (s *Store) fetchMissingSeries(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), chartFetchTimeout)
	defer cancel()

	series, err := s.svc.ChartSeries(ctx, id)

	s.mu.Lock()
	delete(s.chartFetches, id)
	if err == nil {
		s.charts[id] = series
	}
	s.mu.Unlock()

	if err != nil {
		log.Error("Failed to fetch chart series", "path_id", id, "error", err)
	}
}

// Paths returns a copy of the current path collection.
func (s *Store) Paths() []httpcontract.Path {
	s.mu.Lock()
	defer s.mu.Unlock()
	return snapshotPaths(s.paths)
}

// Series returns a copy of the stored chart series for a path, if any.
func (s *Store) Series(id string) (httpcontract.ChartSeries, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	series, ok := s.charts[id]
	if !ok {
		return httpcontract.ChartSeries{}, false
	}
	return snapshotSeries(series), true
}

// PageView returns a copy of the active page view.
func (s *Store) PageView() PageView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return PageView{
		Records: append([]httpcontract.WebhookRecord(nil), s.page.Records...),
		Total:   s.page.Total,
		Loading: s.page.Loading,
	}
}

// guard runs one reconciliation step and keeps a failure from aborting the
// remaining steps.
func guard(step string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("Live update step failed", "step", step, "panic", r)
		}
	}()
	fn()
}

func snapshotPaths(paths []httpcontract.Path) []httpcontract.Path {
	return append([]httpcontract.Path(nil), paths...)
}

func snapshotSeries(s httpcontract.ChartSeries) httpcontract.ChartSeries {
	return httpcontract.ChartSeries{
		Timestamps: append([]int64(nil), s.Timestamps...),
		Counts:     append([]int(nil), s.Counts...),
	}
}
