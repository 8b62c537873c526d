package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/impactledger/impact-ingest/internal/config"
	"github.com/impactledger/impact-ingest/internal/ingest"
	"github.com/impactledger/impact-ingest/internal/scheduler/mocks"
)

func seoul(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Seoul")
	require.NoError(t, err)
	return loc
}

func weekday(d time.Weekday) *time.Weekday {
	return &d
}

func TestScheduleNext(t *testing.T) {
	t.Parallel()

	loc := seoul(t)
	daily := Schedule{Name: "recent", Hour: 3, Minute: 20, Location: loc}
	weekly := Schedule{Name: "backfill", Weekday: weekday(time.Monday), Hour: 4, Location: loc}

	tests := []struct {
		name     string
		schedule Schedule
		after    time.Time
		want     time.Time
	}{
		{
			name:     "later the same day",
			schedule: daily,
			after:    time.Date(2024, 3, 20, 1, 0, 0, 0, loc),
			want:     time.Date(2024, 3, 20, 3, 20, 0, 0, loc),
		},
		{
			name:     "already passed today",
			schedule: daily,
			after:    time.Date(2024, 3, 20, 3, 21, 0, 0, loc),
			want:     time.Date(2024, 3, 21, 3, 20, 0, 0, loc),
		},
		{
			name:     "exactly at firing time moves to tomorrow",
			schedule: daily,
			after:    time.Date(2024, 3, 20, 3, 20, 0, 0, loc),
			want:     time.Date(2024, 3, 21, 3, 20, 0, 0, loc),
		},
		{
			name:     "month rollover",
			schedule: daily,
			after:    time.Date(2024, 2, 29, 23, 0, 0, 0, loc),
			want:     time.Date(2024, 3, 1, 3, 20, 0, 0, loc),
		},
		{
			name:     "input in another zone",
			schedule: daily,
			after:    time.Date(2024, 3, 19, 17, 0, 0, 0, time.UTC), // 02:00 on the 20th in Seoul
			want:     time.Date(2024, 3, 20, 3, 20, 0, 0, loc),
		},
		{
			name:     "weekly from wednesday",
			schedule: weekly,
			after:    time.Date(2024, 3, 20, 12, 0, 0, 0, loc),
			want:     time.Date(2024, 3, 25, 4, 0, 0, 0, loc),
		},
		{
			name:     "weekly on monday before time",
			schedule: weekly,
			after:    time.Date(2024, 3, 25, 3, 0, 0, 0, loc),
			want:     time.Date(2024, 3, 25, 4, 0, 0, 0, loc),
		},
		{
			name:     "weekly on monday after time",
			schedule: weekly,
			after:    time.Date(2024, 3, 25, 5, 0, 0, 0, loc),
			want:     time.Date(2024, 4, 1, 4, 0, 0, 0, loc),
		},
		{
			name:     "nil location is utc",
			schedule: Schedule{Hour: 0, Minute: 0},
			after:    time.Date(2024, 3, 20, 12, 0, 0, 0, time.UTC),
			want:     time.Date(2024, 3, 21, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := tt.schedule.Next(tt.after)
			assert.True(t, tt.want.Equal(got), "want %s, got %s", tt.want, got)
		})
	}
}

func TestFromConfig(t *testing.T) {
	t.Parallel()

	t.Run("defaults", func(t *testing.T) {
		t.Parallel()

		schedules, err := FromConfig(&config.ScheduleConfig{})
		require.NoError(t, err)
		require.Len(t, schedules, 2)

		recent, backfill := schedules[0], schedules[1]
		assert.Equal(t, "recent", recent.Name)
		assert.Nil(t, recent.Weekday)
		assert.Equal(t, 3, recent.Hour)
		assert.Equal(t, 20, recent.Minute)
		assert.Equal(t, "Asia/Seoul", recent.Location.String())
		assert.Equal(t, ingest.Request{Kind: ingest.KindRecent, Months: 1}, recent.Request)

		require.NotNil(t, backfill.Weekday)
		assert.Equal(t, time.Monday, *backfill.Weekday)
		assert.Equal(t, 4, backfill.Hour)
		assert.Equal(t, ingest.Request{Kind: ingest.KindBackfill, Months: 24}, backfill.Request)
	})

	t.Run("overrides", func(t *testing.T) {
		t.Parallel()

		schedules, err := FromConfig(&config.ScheduleConfig{
			Timezone: "UTC",
			Recent:   &config.JobConfig{At: "06:05", Weekday: "fri", Months: 2, Parallelism: 4},
		})
		require.NoError(t, err)

		recent := schedules[0]
		require.NotNil(t, recent.Weekday)
		assert.Equal(t, time.Friday, *recent.Weekday)
		assert.Equal(t, 6, recent.Hour)
		assert.Equal(t, 5, recent.Minute)
		assert.Equal(t, 4, recent.Request.Parallelism)
		assert.Equal(t, 2, recent.Request.Months)
	})

	t.Run("invalid clock", func(t *testing.T) {
		t.Parallel()

		_, err := FromConfig(&config.ScheduleConfig{Recent: &config.JobConfig{At: "25:00"}})
		assert.ErrorContains(t, err, "invalid recent schedule")
	})

	t.Run("invalid zone", func(t *testing.T) {
		t.Parallel()

		_, err := FromConfig(&config.ScheduleConfig{Timezone: "Mars/Olympus"})
		assert.Error(t, err)
	})
}

func TestNextDue(t *testing.T) {
	t.Parallel()

	loc := time.UTC
	a := Schedule{Name: "a", Hour: 4, Location: loc}
	b := Schedule{Name: "b", Hour: 3, Location: loc}
	c := Schedule{Name: "c", Hour: 3, Location: loc}

	s := New(nil, []Schedule{a, b, c})
	due, at := s.nextDue(time.Date(2024, 3, 20, 1, 0, 0, 0, loc))

	require.Len(t, due, 2)
	assert.Equal(t, "b", due[0].Name)
	assert.Equal(t, "c", due[1].Name)
	assert.True(t, at.Equal(time.Date(2024, 3, 20, 3, 0, 0, 0, loc)))
}

func TestFire(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
	}{
		{name: "started"},
		{name: "already running is skipped", err: ingest.ErrAlreadyRunning},
		{name: "other errors are logged", err: errors.New("closed")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			trigger := mocks.NewMockTrigger(gomock.NewController(t))
			req := ingest.Request{Kind: ingest.KindRecent, Months: 1}
			trigger.EXPECT().Start(req).Return(ingest.Status{RunID: "r"}, tt.err)

			New(trigger, nil).fire("recent", req)
		})
	}
}

func TestScheduler_RunOnStartupAndStop(t *testing.T) {
	t.Parallel()

	trigger := mocks.NewMockTrigger(gomock.NewController(t))
	fired := make(chan struct{})
	req := ingest.Request{Kind: ingest.KindBackfill, Months: 24}
	trigger.EXPECT().Start(req).DoAndReturn(func(ingest.Request) (ingest.Status, error) {
		close(fired)
		return ingest.Status{RunID: "startup"}, nil
	})

	far := Schedule{Name: "weekly", Weekday: weekday(time.Sunday), Hour: 4, Location: time.UTC}
	s := New(trigger, []Schedule{far}, WithRunOnStartup(req))

	errCh := make(chan error, 1)
	go func() { errCh <- s.Start(context.Background()) }()

	select {
	case <-fired:
	case <-time.After(5 * time.Second):
		t.Fatal("startup run was not triggered")
	}

	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.cancelFunc != nil
	}, 5*time.Second, 5*time.Millisecond)
	require.NoError(t, s.Stop())
	assert.NoError(t, <-errCh)
}

func TestScheduler_StopsWithContext(t *testing.T) {
	t.Parallel()

	s := New(mocks.NewMockTrigger(gomock.NewController(t)), nil)
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() { errCh <- s.Start(ctx) }()
	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	assert.NoError(t, s.Stop(), "stop after exit is a no-op")
}
