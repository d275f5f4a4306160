package warning

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"chapel/internal/apperr"
	"chapel/internal/attendance"
	"chapel/internal/directory"
	"chapel/internal/exeat"
	"chapel/internal/metrics"
	"chapel/internal/util"
)

// Generator recomputes weekly absence counts and maintains warning snapshots.
type Generator struct {
	services ServiceSource
	students StudentSource
	batches  BatchReader
	exeats   exeat.Source
	store    SnapshotStore
	lock     RunLock
	metrics  *metrics.Recorder
	logger   *zap.Logger
	now      func() time.Time

	concurrency   int
	retryAttempts int
	retryBackoff  time.Duration
}

// Option customises a Generator.
type Option func(*Generator)

func WithRunLock(l RunLock) Option { return func(g *Generator) { g.lock = l } }

func WithMetrics(m *metrics.Recorder) Option { return func(g *Generator) { g.metrics = m } }

func WithClock(now func() time.Time) Option { return func(g *Generator) { g.now = now } }

// WithConcurrency bounds how many services are loaded in parallel.
func WithConcurrency(n int) Option {
	return func(g *Generator) {
		if n > 0 {
			g.concurrency = n
		}
	}
}

// WithRetry sets how often a retryable snapshot write is attempted and the
// initial delay between attempts. The delay doubles after each failure.
func WithRetry(attempts int, backoff time.Duration) Option {
	return func(g *Generator) {
		if attempts > 0 {
			g.retryAttempts = attempts
		}
		if backoff >= 0 {
			g.retryBackoff = backoff
		}
	}
}

// NewGenerator wires a generator.
func NewGenerator(services ServiceSource, students StudentSource, batches BatchReader, exeats exeat.Source, store SnapshotStore, logger *zap.Logger, opts ...Option) *Generator {
	g := &Generator{
		services:      services,
		students:      students,
		batches:       batches,
		exeats:        exeats,
		store:         store,
		logger:        logger,
		now:           func() time.Time { return time.Now().UTC() },
		concurrency:   4,
		retryAttempts: 3,
		retryBackoff:  200 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

type tally struct {
	levelID string
	dates   []time.Time
}

// Generate recomputes the week containing weekStart and upserts a snapshot for every
// student at or above threshold. Services without a confirmed batch are skipped.
// Students below threshold are never written, and existing snapshots are not retracted.
func (g *Generator) Generate(ctx context.Context, weekStart string, threshold int) (Result, error) {
	const op = "generate warnings"
	start, err := util.ParseDate(weekStart)
	if err != nil {
		return Result{}, apperr.Validation(op, "week_start: %v", err)
	}
	if threshold < 1 {
		return Result{}, apperr.Validation(op, "threshold must be at least 1, got %d", threshold)
	}

	if g.lock != nil {
		release, ok, err := g.lock.Acquire(ctx, "warnings:lock:"+util.FormatDate(start))
		if err != nil {
			return Result{}, apperr.DB(op, err)
		}
		if !ok {
			return Result{}, apperr.InvalidState(op, "generation for week %s is already running", util.FormatDate(start))
		}
		defer release()
	}

	began := time.Now()
	res, err := g.generate(ctx, start, threshold)
	g.metrics.ObserveGeneration(time.Since(began))
	if err != nil {
		g.logger.Error(op+" failed", zap.String("week_start", weekStart), zap.Error(err))
		return Result{}, err
	}
	g.logger.Info("warnings generated",
		zap.String("week_start", res.WeekStart),
		zap.Int("threshold", threshold),
		zap.Int("generated", res.Generated),
		zap.Int("updated", res.Updated),
		zap.Int("unchanged", res.Unchanged),
		zap.Int("total_services", res.TotalServices),
		zap.Int("skipped_services", res.SkippedServices))
	return res, nil
}

func (g *Generator) generate(ctx context.Context, start time.Time, threshold int) (Result, error) {
	const op = "generate warnings"
	end := util.WeekEnd(start)
	res := Result{
		WeekStart: util.FormatDate(start),
		WeekEnd:   util.FormatDate(end),
		Flagged:   []StudentWeek{},
	}

	services, err := g.services.ListCompletedServices(ctx, start, end)
	if err != nil {
		return Result{}, apperr.DB(op, err)
	}
	res.TotalServices = len(services)

	students, err := g.students.ListActiveStudents(ctx)
	if err != nil {
		return Result{}, apperr.DB(op, err)
	}
	active := make(map[string]directory.Student, len(students))
	for _, s := range students {
		active[s.ID] = s
	}

	versions := make([][]attendance.BatchVersion, len(services))
	eg, egctx := errgroup.WithContext(ctx)
	eg.SetLimit(g.concurrency)
	for i, svc := range services {
		i, svc := i, svc
		eg.Go(func() error {
			v, err := g.batches.CurrentVersionsForService(egctx, svc.ID)
			if err != nil {
				return err
			}
			versions[i] = v
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return Result{}, apperr.DB(op, err)
	}

	memo := exeat.NewMemo(g.exeats)
	counts := make(map[string]*tally)
	for i, svc := range services {
		if len(versions[i]) == 0 {
			res.SkippedServices++
			g.metrics.SkippedService()
			g.logger.Warn("service has no confirmed attendance, skipping",
				zap.String("service_id", svc.ID),
				zap.String("service_date", util.FormatDate(svc.Date)))
			continue
		}

		counted := make(map[string]bool)
		for _, v := range versions[i] {
			if len(v.Rejected) > 0 {
				g.logger.Warn("dropping malformed absentee entries",
					zap.String("batch_version_id", v.ID),
					zap.Strings("entries", v.Rejected))
			}
			for _, a := range v.Absentees {
				if a.Exempted || counted[a.StudentID] {
					continue
				}
				st, ok := active[a.StudentID]
				if !ok || !svc.AppliesTo(st.LevelID) {
					continue
				}
				covered, err := memo.IsCovered(ctx, a.StudentID, svc.Date)
				if err != nil {
					return Result{}, apperr.DB(op, err)
				}
				if covered {
					continue
				}
				counted[a.StudentID] = true
				t := counts[a.StudentID]
				if t == nil {
					t = &tally{levelID: st.LevelID}
					counts[a.StudentID] = t
				}
				t.dates = append(t.dates, svc.Date)
			}
		}
	}

	ids := make([]string, 0, len(counts))
	for id, t := range counts {
		if len(t.dates) >= threshold {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	now := g.now()
	for _, id := range ids {
		t := counts[id]
		outcome, err := g.apply(ctx, id, start, len(t.dates), now)
		if err != nil {
			return Result{}, err
		}
		switch outcome {
		case OutcomeInserted:
			res.Generated++
		case OutcomeUpdated:
			res.Updated++
		default:
			res.Unchanged++
		}
		g.metrics.Snapshot(string(outcome), 1)
		res.Flagged = append(res.Flagged, StudentWeek{
			StudentID:   id,
			LevelID:     t.levelID,
			Absences:    len(t.dates),
			MissedDates: formatDates(t.dates),
			Outcome:     outcome,
		})
	}
	return res, nil
}

// apply writes one snapshot, retrying retryable failures with exponential backoff.
func (g *Generator) apply(ctx context.Context, studentID string, weekStart time.Time, absences int, now time.Time) (Outcome, error) {
	const op = "apply snapshot"
	delay := g.retryBackoff
	for attempt := 1; ; attempt++ {
		outcome, err := g.store.Apply(ctx, studentID, weekStart, absences, now)
		if err == nil {
			return outcome, nil
		}
		err = apperr.DB(op, err)
		if attempt >= g.retryAttempts || !apperr.IsRetryable(err) {
			return "", err
		}
		g.metrics.SnapshotRetry()
		g.logger.Warn("snapshot write failed, retrying",
			zap.String("student_id", studentID),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err))

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return "", ctx.Err()
		}
		delay *= 2
	}
}

// ListSnapshots returns snapshots for a week, optionally filtered by status.
// An empty weekStart lists every week.
func (g *Generator) ListSnapshots(ctx context.Context, weekStart, status string) ([]Snapshot, error) {
	const op = "list warnings"
	var week time.Time
	if weekStart != "" {
		d, err := util.ParseDate(weekStart)
		if err != nil {
			return nil, apperr.Validation(op, "week_start: %v", err)
		}
		week = d
	}
	st := Status(status)
	if status != "" && !st.Valid() {
		return nil, apperr.Validation(op, "unknown status %q", status)
	}
	snaps, err := g.store.List(ctx, week, st)
	if err != nil {
		return nil, apperr.DB(op, err)
	}
	if snaps == nil {
		snaps = []Snapshot{}
	}
	return snaps, nil
}

// MarkSent records that the warning letter for a student and week went out.
func (g *Generator) MarkSent(ctx context.Context, studentID, weekStart string) (Snapshot, error) {
	const op = "mark warning sent"
	if studentID == "" {
		return Snapshot{}, apperr.Validation(op, "student_id is required")
	}
	week, err := util.ParseDate(weekStart)
	if err != nil {
		return Snapshot{}, apperr.Validation(op, "week_start: %v", err)
	}
	snap, err := g.store.MarkSent(ctx, studentID, week, g.now())
	if err != nil {
		return Snapshot{}, apperr.DB(op, err)
	}
	if snap == nil {
		return Snapshot{}, apperr.NotFound(op, "no warning for student %s in week %s", studentID, weekStart)
	}
	g.logger.Info("warning marked sent", zap.String("student_id", studentID), zap.String("week_start", weekStart))
	return *snap, nil
}

func formatDates(dates []time.Time) []string {
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	out := make([]string, len(dates))
	for i, d := range dates {
		out[i] = util.FormatDate(d)
	}
	return out
}
