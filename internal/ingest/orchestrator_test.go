package ingest

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/impactledger/impact-ingest/internal/checkpoint"
	"github.com/impactledger/impact-ingest/internal/directory"
	dirmocks "github.com/impactledger/impact-ingest/internal/directory/mocks"
	"github.com/impactledger/impact-ingest/internal/disclosure"
	"github.com/impactledger/impact-ingest/internal/kpi"
	kpimocks "github.com/impactledger/impact-ingest/internal/kpi/mocks"
	"github.com/impactledger/impact-ingest/internal/parser"
	"github.com/impactledger/impact-ingest/internal/period"
)

var fixedNow = time.Date(2024, 3, 20, 3, 20, 0, 0, time.UTC)

// fakeClient serves canned filings per entity and records the queries it receives
type fakeClient struct {
	mu      sync.Mutex
	reports map[string][]disclosure.Report
	docs    map[string]string
	queries []string
	resets  int

	// quotaAfter fails every list call after that many with a quota error; zero disables
	quotaAfter int
	// quotaFor fails list calls for those codes with a quota error before any gate
	quotaFor map[string]bool

	// gate, when set, blocks list calls until closed or the context ends
	gate    chan struct{}
	entered chan struct{}
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		reports: map[string][]disclosure.Report{},
		docs:    map[string]string{},
		entered: make(chan struct{}, 1024),
	}
}

func (f *fakeClient) file(code, receiptNo, name, text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reports[code] = append(f.reports[code], disclosure.Report{ReceiptNo: receiptNo, Name: name, CorpCode: code})
	f.docs[receiptNo] = text
}

func (f *fakeClient) ListReports(ctx context.Context, corpCode string, p period.Period) ([]disclosure.Report, error) {
	f.mu.Lock()
	f.queries = append(f.queries, corpCode+"/"+p.String())
	n := len(f.queries)
	gate := f.gate
	reports := f.reports[corpCode]
	quota := f.quotaFor[corpCode]
	f.mu.Unlock()

	if quota {
		return nil, errors.Mark(errors.New("status 020: LIMITED_NUMBER_OF_SERVICE"), disclosure.ErrQuotaExceeded)
	}
	f.entered <- struct{}{}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.quotaAfter > 0 && n > f.quotaAfter {
		return nil, errors.Mark(errors.New("status 020: LIMITED_NUMBER_OF_SERVICE"), disclosure.ErrQuotaExceeded)
	}
	return reports, nil
}

func (f *fakeClient) FetchDocument(_ context.Context, receiptNo string) (disclosure.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	text, ok := f.docs[receiptNo]
	if !ok {
		return disclosure.Document{}, errors.Mark(errors.Newf("document %s not found", receiptNo), disclosure.ErrFatal)
	}
	return disclosure.Document{ReceiptNo: receiptNo, Text: text, Members: 1}, nil
}

func (f *fakeClient) ResetStreak() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
}

func (f *fakeClient) Queries() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.queries...)
}

type panicExtractor struct{}

func (panicExtractor) ExtractAmount(string) (int64, bool) {
	panic("boom")
}

type fixture struct {
	source      *dirmocks.MockSource
	client      *fakeClient
	store       *kpi.MemoryStore
	checkpoints *checkpoint.FileStore
	deps        Dependencies
}

func newFixture(t *testing.T, entities []directory.Entity) *fixture {
	t.Helper()

	ctrl := gomock.NewController(t)
	source := dirmocks.NewMockSource(ctrl)
	if entities != nil {
		source.EXPECT().FetchEntities(gomock.Any()).Return(entities, nil).AnyTimes()
	}

	f := &fixture{
		source:      source,
		client:      newFakeClient(),
		store:       kpi.NewMemoryStore(),
		checkpoints: checkpoint.NewFileStore(t.TempDir()),
	}
	f.deps = Dependencies{
		Directory:   source,
		Registry:    f.store,
		Client:      f.client,
		Extractor:   parser.New(),
		Gateway:     f.store,
		Checkpoints: f.checkpoints,
	}
	return f
}

func (f *fixture) orchestrator(t *testing.T, cfg Config, opts ...Option) *Orchestrator {
	t.Helper()

	opts = append([]Option{WithClock(func() time.Time { return fixedNow }), WithEntityLookup(f.store)}, opts...)
	o, err := New(f.deps, cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = o.Close() })
	return o
}

func TestNew_RequiresDependencies(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	deps := f.deps
	deps.Gateway = nil

	_, err := New(deps, DefaultConfig())
	assert.ErrorContains(t, err, "kpi gateway is required")
}

func TestOrchestrator_RunCompletes(t *testing.T) {
	t.Parallel()

	f := newFixture(t, listed("A", "B", "C"))
	f.client.file("A", "20240315000001", "사업보고서 (2023.12)", "<p>donation 1,234,567 won</p>")
	f.client.file("B", "20240314000002", "사업보고서 (2023.12)", "no related content")
	f.client.file("C", "20240313000003", "주요사항보고서", "donation 99 won")

	o := f.orchestrator(t, Config{Parallelism: 2})
	st, err := o.Run(context.Background(), Request{Kind: KindRecent})
	require.NoError(t, err)

	assert.Equal(t, PhaseCompleted, st.Phase)
	assert.False(t, st.Running)
	assert.Equal(t, int64(3), st.Total)
	assert.Equal(t, int64(3), st.Processed)
	assert.Equal(t, int64(1), st.Success)
	assert.Equal(t, int64(2), st.NoData)
	assert.Zero(t, st.Failure)
	assert.InDelta(t, 100.0, st.Percentage, 0.001)
	assert.Equal(t, 3, st.CheckpointPosition)
	assert.False(t, st.Resumable)
	assert.Equal(t, 1, f.client.resets)

	rec, err := f.store.Get(context.Background(), kpi.Key{OrgCode: "A", Metric: kpi.MetricDonationAmount, Year: 2024, Month: 3})
	require.NoError(t, err)
	assert.Equal(t, int64(1234567), rec.Value)
	assert.Equal(t, "DART:20240315000001", rec.Source)
	assert.Equal(t, 1, f.store.Len())

	entity, err := f.store.Entity(context.Background(), "B")
	require.NoError(t, err, "directory entities are registered")
	assert.Equal(t, "corp B", entity.Name)

	cp, err := f.checkpoints.Load(context.Background(), "donation-recent")
	require.NoError(t, err)
	assert.Nil(t, cp, "completion clears the checkpoint")

	assert.Equal(t, st.RunID, o.Status().RunID)
}

func TestOrchestrator_PrefersAnnualReportAndFallsThrough(t *testing.T) {
	t.Parallel()

	f := newFixture(t, listed("A"))
	f.client.file("A", "20240302000010", "분기보고서 (2023.09)", "donation 5 won")
	f.client.file("A", "20240301000011", "사업보고서 (2023.12)", "기부금 3억원")
	f.client.file("A", "20240310000012", "사업보고서 [기재정정] (2023.12)", "nothing here")

	o := f.orchestrator(t, Config{})
	st, err := o.Run(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.Success)

	rec, err := f.store.Get(context.Background(), kpi.Key{OrgCode: "A", Metric: kpi.MetricDonationAmount, Year: 2024, Month: 3})
	require.NoError(t, err)
	assert.Equal(t, int64(300000000), rec.Value, "older annual report is used when the newest discloses nothing")
	assert.Equal(t, "DART:20240301000011", rec.Source)
}

func TestOrchestrator_RerunIsIdempotent(t *testing.T) {
	t.Parallel()

	f := newFixture(t, listed("A"))
	f.client.file("A", "20240315000001", "사업보고서", "donation 1,000 won")
	o := f.orchestrator(t, Config{})

	for range 2 {
		st, err := o.Run(context.Background(), Request{Fresh: true})
		require.NoError(t, err)
		assert.Equal(t, int64(1), st.Success)
	}
	assert.Equal(t, 1, f.store.Len())
}

func TestOrchestrator_QuotaAbortThenResume(t *testing.T) {
	t.Parallel()

	entities := listed("E1", "E2", "E3", "E4", "E5")
	f := newFixture(t, entities)
	f.client.quotaAfter = 2

	o := f.orchestrator(t, Config{Parallelism: 1, CheckpointEvery: 1})
	st, err := o.Run(context.Background(), Request{Kind: KindRecent})
	require.NoError(t, err)

	assert.Equal(t, PhaseQuotaAborted, st.Phase)
	assert.True(t, st.Resumable)
	assert.Equal(t, int64(5), st.Total)
	assert.Equal(t, int64(2), st.Processed)
	assert.Equal(t, int64(3), st.Skipped)
	assert.Equal(t, 2, st.CheckpointPosition)
	assert.Equal(t, []string{"E1/2024-03", "E2/2024-03", "E3/2024-03"}, f.client.Queries(), "no new work after quota")

	cp, err := f.checkpoints.Load(context.Background(), "donation-recent")
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, 2, cp.Position)
	assert.Equal(t, "E2", cp.LastCode)
	assert.Equal(t, st.RunID, cp.RunID)
	assert.Equal(t, period.Window([]period.Period{period.Month(2024, time.March)}), cp.Window)

	resumed := newFakeClient()
	f.deps.Client = resumed
	o2 := f.orchestrator(t, Config{Parallelism: 1, CheckpointEvery: 1})
	st, err = o2.Run(context.Background(), Request{Kind: KindRecent})
	require.NoError(t, err)

	assert.Equal(t, PhaseCompleted, st.Phase)
	assert.Equal(t, int64(3), st.Total)
	assert.Equal(t, []string{"E3/2024-03", "E4/2024-03", "E5/2024-03"}, resumed.Queries(), "completed entities are not reissued")

	cp, err = f.checkpoints.Load(context.Background(), "donation-recent")
	require.NoError(t, err)
	assert.Nil(t, cp)
}

func TestOrchestrator_QuotaCancelsInFlightCalls(t *testing.T) {
	t.Parallel()

	entities := listed("E1", "E2", "E3")
	f := newFixture(t, entities)
	// E1 blocks until its context ends; the gate is never opened
	f.client.gate = make(chan struct{})
	f.client.quotaFor = map[string]bool{"E2": true}

	o := f.orchestrator(t, Config{Parallelism: 2, CheckpointEvery: 1})

	done := make(chan Status, 1)
	go func() {
		st, err := o.Run(context.Background(), Request{Kind: KindRecent})
		assert.NoError(t, err)
		done <- st
	}()

	var st Status
	select {
	case st = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("run kept waiting on an in-flight call after the quota ran out")
	}

	assert.Equal(t, PhaseQuotaAborted, st.Phase)
	assert.True(t, st.Resumable)
	assert.Equal(t, int64(0), st.Processed)
	assert.Equal(t, int64(3), st.Skipped, "the cancelled call is skipped, not failed")
	assert.Equal(t, int64(0), st.Failure)
	assert.NotContains(t, f.client.Queries(), "E3/2024-03")

	cp, err := f.checkpoints.Load(context.Background(), "donation-recent")
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, 0, cp.Position)
}

func TestOrchestrator_ChangedWindowRestartsFromTop(t *testing.T) {
	t.Parallel()

	april := time.Date(2024, 4, 2, 3, 20, 0, 0, time.UTC)

	tests := []struct {
		name        string
		first       Request
		second      Request
		secondClock time.Time
		want        []string
	}{
		{
			name:        "recent run after the month rolls over",
			first:       Request{Kind: KindRecent},
			second:      Request{Kind: KindRecent},
			secondClock: april,
			want:        []string{"E1/2024-04", "E2/2024-04", "E3/2024-04", "E4/2024-04", "E5/2024-04"},
		},
		{
			name:        "backfill over a different number of months",
			first:       Request{Kind: KindBackfill, Months: 1},
			second:      Request{Kind: KindBackfill, Months: 2},
			secondClock: fixedNow,
			want: []string{
				"E1/2024-03", "E1/2024-02", "E2/2024-03", "E2/2024-02", "E3/2024-03",
				"E3/2024-02", "E4/2024-03", "E4/2024-02", "E5/2024-03", "E5/2024-02",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t, listed("E1", "E2", "E3", "E4", "E5"))
			f.client.quotaAfter = 2

			o := f.orchestrator(t, Config{Parallelism: 1, CheckpointEvery: 1})
			st, err := o.Run(context.Background(), tt.first)
			require.NoError(t, err)
			require.Equal(t, PhaseQuotaAborted, st.Phase)
			require.Equal(t, 2, st.CheckpointPosition)

			next := newFakeClient()
			f.deps.Client = next
			clock := tt.secondClock
			o2 := f.orchestrator(t, Config{Parallelism: 1, CheckpointEvery: 1}, WithClock(func() time.Time { return clock }))
			st, err = o2.Run(context.Background(), tt.second)
			require.NoError(t, err)

			assert.Equal(t, PhaseCompleted, st.Phase)
			assert.Equal(t, int64(len(tt.want)), st.Total)
			assert.Equal(t, tt.want, next.Queries(), "top-ranked entities are collected for the new window")

			cp, err := f.checkpoints.Load(context.Background(), tt.second.Job())
			require.NoError(t, err)
			assert.Nil(t, cp)
		})
	}
}

func TestOrchestrator_FreshIgnoresCheckpoint(t *testing.T) {
	t.Parallel()

	f := newFixture(t, listed("E1", "E2"))
	require.NoError(t, f.checkpoints.Save(context.Background(), "donation-recent",
		checkpoint.Checkpoint{Job: "donation-recent", Position: 1, LastCode: "E1"}))

	o := f.orchestrator(t, Config{Parallelism: 1})
	st, err := o.Run(context.Background(), Request{Fresh: true})
	require.NoError(t, err)
	assert.Equal(t, int64(2), st.Total)
	assert.Equal(t, []string{"E1/2024-03", "E2/2024-03"}, f.client.Queries())
}

func TestOrchestrator_DocumentFailureFailsOnlyItsTask(t *testing.T) {
	t.Parallel()

	f := newFixture(t, listed("E1", "E2"))
	f.client.file("E1", "20240301000001", "사업보고서", "unused")
	f.client.docs = map[string]string{}

	o := f.orchestrator(t, Config{Parallelism: 1})
	st, err := o.Run(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, PhaseCompleted, st.Phase)
	assert.Equal(t, int64(1), st.Failure, "a missing document fails only its task")
	assert.Equal(t, int64(1), st.NoData)
}

func TestOrchestrator_DirectoryFailureFailsRun(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.source.EXPECT().FetchEntities(gomock.Any()).
		Return(nil, errors.Mark(errors.New("empty payload"), directory.ErrDirectoryFetch))

	saved := checkpoint.Checkpoint{Job: "donation-backfill", Position: 7, LastCode: "X"}
	require.NoError(t, f.checkpoints.Save(context.Background(), "donation-backfill", saved))

	o := f.orchestrator(t, Config{})
	st, err := o.Run(context.Background(), Request{Kind: KindBackfill, Months: 6})
	require.Error(t, err)
	assert.True(t, errors.Is(err, directory.ErrDirectoryFetch), "got %v", err)
	assert.Equal(t, PhaseFailed, st.Phase)
	assert.Contains(t, st.Error, "empty payload")
	assert.Empty(t, f.client.Queries())

	cp, err := f.checkpoints.Load(context.Background(), "donation-backfill")
	require.NoError(t, err)
	require.NotNil(t, cp, "checkpoint is untouched")
	assert.Equal(t, 7, cp.Position)
	assert.False(t, o.Running())
}

func TestOrchestrator_RegistryFailureIsNotFatal(t *testing.T) {
	t.Parallel()

	f := newFixture(t, listed("A"))
	registry := kpimocks.NewMockEntityRegistry(gomock.NewController(t))
	registry.EXPECT().UpsertEntities(gomock.Any(), gomock.Any()).Return(kpi.SyncResult{}, errors.New("database is locked"))
	f.deps.Registry = registry

	o := f.orchestrator(t, Config{})
	st, err := o.Run(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, PhaseCompleted, st.Phase)
	assert.Equal(t, int64(1), st.Total)
}

func TestOrchestrator_BackfillPeriods(t *testing.T) {
	t.Parallel()

	f := newFixture(t, listed("A"))
	o := f.orchestrator(t, Config{Parallelism: 1})

	st, err := o.Run(context.Background(), Request{Kind: KindBackfill, Months: 4})
	require.NoError(t, err)
	assert.Equal(t, 4, st.Periods)
	assert.Equal(t, []string{"A/2024-03", "A/2024-02", "A/2024-01", "A/2023-12"}, f.client.Queries())
}

func TestOrchestrator_MaxTargets(t *testing.T) {
	t.Parallel()

	f := newFixture(t, listed("5", "4", "3", "2", "1"))
	o := f.orchestrator(t, Config{Parallelism: 1, MaxTargets: 4, PriorityCodes: []string{"4"}})

	st, err := o.Run(context.Background(), Request{MaxTargets: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, st.Entities)
	assert.Equal(t, []string{"4/2024-03", "1/2024-03"}, f.client.Queries())
}

func TestOrchestrator_EntityRun(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	_, err := f.store.UpsertEntities(context.Background(), listed("00126380"))
	require.NoError(t, err)
	f.client.file("00126380", "20230331000001", "사업보고서 (2022.12)", "사회공헌 기부금 12억원")

	o := f.orchestrator(t, Config{Parallelism: 1, YearsBack: 3})
	st, err := o.Run(context.Background(), Request{Kind: KindEntity, EntityCode: "00126380"})
	require.NoError(t, err)

	assert.Equal(t, PhaseCompleted, st.Phase)
	assert.Equal(t, []string{"00126380/2024", "00126380/2023", "00126380/2022"}, f.client.Queries())
	assert.Equal(t, int64(3), st.Success, "every year sees the same canned filing")

	rec, err := f.store.Get(context.Background(), kpi.Key{OrgCode: "00126380", Metric: kpi.MetricDonationAmount, Year: 2023, Month: 3})
	require.NoError(t, err)
	assert.Equal(t, int64(1200000000), rec.Value)
}

func TestOrchestrator_EntityRunExplicitYears(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	o := f.orchestrator(t, Config{Parallelism: 1})

	_, err := o.Run(context.Background(), Request{Kind: KindEntity, EntityCode: "unknown", FromYear: 2020, ToYear: 2021})
	require.NoError(t, err)
	assert.Equal(t, []string{"unknown/2021", "unknown/2020"}, f.client.Queries())
}

func TestOrchestrator_ConcurrentStartRejected(t *testing.T) {
	t.Parallel()

	f := newFixture(t, listed("A"))
	gate := make(chan struct{})
	f.client.gate = gate
	o := f.orchestrator(t, Config{})

	st, err := o.Start(Request{})
	require.NoError(t, err)
	assert.Equal(t, PhaseRunning, st.Phase)
	assert.NotEmpty(t, st.RunID)
	<-f.client.entered

	_, err = o.Start(Request{})
	assert.ErrorIs(t, err, ErrAlreadyRunning)
	_, err = o.Run(context.Background(), Request{Kind: KindBackfill})
	assert.ErrorIs(t, err, ErrAlreadyRunning)
	assert.Equal(t, st.RunID, o.Status().RunID, "rejected requests do not replace the run")

	close(gate)
	require.Eventually(t, func() bool { return !o.Running() }, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, PhaseCompleted, o.Status().Phase)

	_, err = o.Start(Request{})
	assert.NoError(t, err, "a new run is admitted once the previous one finished")
}

func TestOrchestrator_CloseCancelsAndCheckpoints(t *testing.T) {
	t.Parallel()

	f := newFixture(t, listed("A", "B"))
	f.client.gate = make(chan struct{})
	o := f.orchestrator(t, Config{Parallelism: 1})

	_, err := o.Start(Request{Kind: KindBackfill, Months: 2})
	require.NoError(t, err)
	<-f.client.entered

	require.NoError(t, o.Close())

	st := o.Status()
	assert.Equal(t, PhaseCancelled, st.Phase)
	assert.True(t, st.Resumable)
	assert.Zero(t, st.Processed)
	assert.Equal(t, int64(4), st.Skipped)

	cp, err := f.checkpoints.Load(context.Background(), "donation-backfill")
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Zero(t, cp.Position)

	_, err = o.Start(Request{})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestOrchestrator_CloseRacesAdmission(t *testing.T) {
	t.Parallel()

	for range 20 {
		f := newFixture(t, listed("A"))
		o := f.orchestrator(t, Config{Parallelism: 1})

		var wg sync.WaitGroup
		for range 4 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for range 10 {
					_, err := o.Start(Request{})
					if errors.Is(err, ErrClosed) {
						return
					}
				}
			}()
		}

		require.NoError(t, o.Close())
		assert.False(t, o.Running(), "Close waits for every admitted run")
		wg.Wait()

		_, err := o.Start(Request{})
		assert.ErrorIs(t, err, ErrClosed)
	}
}

func TestOrchestrator_RunHonorsCallerContext(t *testing.T) {
	t.Parallel()

	f := newFixture(t, listed("A"))
	f.client.gate = make(chan struct{})
	o := f.orchestrator(t, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-f.client.entered
		cancel()
	}()

	st, err := o.Run(ctx, Request{})
	require.NoError(t, err)
	assert.Equal(t, PhaseCancelled, st.Phase)
}

func TestOrchestrator_TaskPanicCountsAsFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t, listed("A", "B"))
	f.client.file("A", "20240301000001", "사업보고서", "text")
	f.deps.Extractor = panicExtractor{}

	o := f.orchestrator(t, Config{Parallelism: 2})
	st, err := o.Run(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, PhaseCompleted, st.Phase)
	assert.Equal(t, int64(1), st.Failure)
	assert.Equal(t, int64(1), st.NoData)
}

func TestOrchestrator_PacesCalls(t *testing.T) {
	t.Parallel()

	f := newFixture(t, listed("A"))
	f.client.file("A", "20240301000001", "사업보고서", "none")
	f.client.file("A", "20240301000002", "반기보고서", "none")

	var (
		mu    sync.Mutex
		slept []time.Duration
	)
	sleep := func(_ context.Context, d time.Duration) error {
		mu.Lock()
		defer mu.Unlock()
		slept = append(slept, d)
		return nil
	}

	o := f.orchestrator(t, Config{CallDelay: 600 * time.Millisecond, CallJitter: 300 * time.Millisecond}, WithSleep(sleep))
	_, err := o.Run(context.Background(), Request{})
	require.NoError(t, err)

	require.Len(t, slept, 2, "one pause before each document")
	for _, d := range slept {
		assert.GreaterOrEqual(t, d, 600*time.Millisecond)
		assert.Less(t, d, 900*time.Millisecond)
	}
}

func TestConfigFrom(t *testing.T) {
	t.Parallel()

	cfg := ConfigFrom(nil, time.UTC)
	assert.Equal(t, DefaultParallelism, cfg.Parallelism)
	assert.Equal(t, DefaultReportKinds(), cfg.ReportKinds)
	assert.True(t, strings.HasPrefix(cfg.Metric, "DONATION"))
}
