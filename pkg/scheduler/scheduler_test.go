package scheduler_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/playbookd/playbookd/pkg/gateway"
	"github.com/playbookd/playbookd/pkg/models"
	"github.com/playbookd/playbookd/pkg/persistence"
	"github.com/playbookd/playbookd/pkg/persistence/memory"
	"github.com/playbookd/playbookd/pkg/scheduler"
	"github.com/playbookd/playbookd/pkg/triggers"
)

// fakeDirectory serves a fixed target list.
type fakeDirectory struct {
	targets []*gateway.TargetInfo
}

func (f *fakeDirectory) Resolve(_ context.Context, targetID string) (*gateway.TargetInfo, error) {
	return &gateway.TargetInfo{TargetID: targetID, Reachable: true}, nil
}

func (f *fakeDirectory) Targets(_ context.Context, query gateway.TargetQuery) ([]*gateway.TargetInfo, error) {
	if query.Limit > 0 && len(f.targets) > query.Limit {
		return f.targets[:query.Limit], nil
	}

	return f.targets, nil
}

func (f *fakeDirectory) AddTag(context.Context, string, string) error      { return nil }
func (f *fakeDirectory) RemoveTag(context.Context, string, string) error   { return nil }
func (f *fakeDirectory) UpdateLabel(context.Context, string, string) error { return nil }

// fakePool records submissions instead of executing.
type fakePool struct {
	mu        sync.Mutex
	submitted []string
}

func (f *fakePool) Submit(_ context.Context, instanceID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.submitted = append(f.submitted, instanceID)

	return true
}

func (f *fakePool) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.submitted)
}

type fixture struct {
	store     *memory.Persistence
	directory *fakeDirectory
	queue     *triggers.MemoryQueue
	pool      *fakePool
	stats     *scheduler.MemoryStats
	scheduler *scheduler.Scheduler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		store:     memory.NewPersistence(),
		directory: &fakeDirectory{},
		queue:     triggers.NewMemoryQueue(),
		pool:      &fakePool{},
		stats:     scheduler.NewMemoryStats(),
	}

	f.scheduler = scheduler.NewScheduler(f.store, f.directory, f.queue, f.pool, f.stats, scheduler.Config{})

	return f
}

func (f *fixture) savePlaybook(t *testing.T, playbook *models.Playbook) {
	t.Helper()
	require.NoError(t, f.store.SavePlaybook(context.Background(), playbook))
}

func activePlaybook(id string) *models.Playbook {
	return &models.Playbook{
		ID:     id,
		Name:   "Playbook " + id,
		Type:   models.PlaybookTypeCustom,
		Status: models.PlaybookStatusActive,
		Steps: []models.Step{{
			ID:      "s1",
			Name:    "Send",
			Action:  models.ActionSendText,
			Payload: map[string]any{"content": "hi"},
		}},
	}
}

func dueSchedule(t *testing.T, playbookID string, filter models.TargetFilter) *models.Schedule {
	t.Helper()

	schedule, err := models.NewSchedule("sch-"+playbookID, playbookID, "Daily", "0 9 * * *", filter)
	require.NoError(t, err)

	past := time.Now().UTC().Add(-time.Minute)
	schedule.NextExecutionAt = &past

	return schedule
}

func TestScheduler_FiresDueSchedule(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	f.savePlaybook(t, activePlaybook("pb-1"))
	f.directory.targets = []*gateway.TargetInfo{
		{TargetID: "t-1", ChannelID: "ch-1", Reachable: true},
		{TargetID: "t-2", ChannelID: "ch-1", Reachable: true},
	}
	require.NoError(t, f.store.SaveSchedule(ctx, dueSchedule(t, "pb-1", models.TargetFilter{})))

	f.scheduler.Tick(ctx)

	instances, err := f.store.ListInstances(ctx, persistence.ListInstancesOptions{PlaybookID: "pb-1"})
	require.NoError(t, err)
	assert.Len(t, instances, 2, "one instance per target")
	assert.Equal(t, 2, f.pool.count())

	// The schedule advanced past its firing and will not fire again now.
	saved, err := f.store.ScheduleByID(ctx, "sch-pb-1")
	require.NoError(t, err)
	assert.Equal(t, 1, saved.ExecutionCount)
	require.NotNil(t, saved.NextExecutionAt)
	assert.True(t, saved.NextExecutionAt.After(time.Now().UTC()))

	playbook, err := f.store.PlaybookByID(ctx, "pb-1")
	require.NoError(t, err)
	assert.Equal(t, 2, playbook.TotalInstances)

	last, _, ticks := f.stats.Snapshot()
	assert.Equal(t, 1, ticks)
	assert.Equal(t, 1, last.SchedulesFired)
	assert.Equal(t, 2, last.InstancesCreated)
}

func TestScheduler_FanOutIsIdempotent(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	f.savePlaybook(t, activePlaybook("pb-1"))
	f.directory.targets = []*gateway.TargetInfo{{TargetID: "t-1", ChannelID: "ch-1", Reachable: true}}
	require.NoError(t, f.store.SaveSchedule(ctx, dueSchedule(t, "pb-1", models.TargetFilter{})))

	f.scheduler.Tick(ctx)

	// Force the schedule due again while the first instance is still active.
	schedule, err := f.store.ScheduleByID(ctx, "sch-pb-1")
	require.NoError(t, err)

	past := time.Now().UTC().Add(-time.Minute)
	schedule.NextExecutionAt = &past
	require.NoError(t, f.store.SaveSchedule(ctx, schedule))

	f.scheduler.Tick(ctx)

	instances, err := f.store.ListInstances(ctx, persistence.ListInstancesOptions{PlaybookID: "pb-1"})
	require.NoError(t, err)
	assert.Len(t, instances, 1, "duplicate fan-out skipped")
}

func TestScheduler_ScheduleLimit(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	f.savePlaybook(t, activePlaybook("pb-1"))
	f.directory.targets = []*gateway.TargetInfo{
		{TargetID: "t-1"}, {TargetID: "t-2"}, {TargetID: "t-3"},
	}
	require.NoError(t, f.store.SaveSchedule(ctx, dueSchedule(t, "pb-1", models.TargetFilter{Limit: 2})))

	f.scheduler.Tick(ctx)

	instances, err := f.store.ListInstances(ctx, persistence.ListInstancesOptions{PlaybookID: "pb-1"})
	require.NoError(t, err)
	assert.Len(t, instances, 2)
}

func TestScheduler_InactivePlaybookSkipsFanOutButAdvancesSchedule(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	playbook := activePlaybook("pb-1")
	playbook.Status = models.PlaybookStatusPaused
	f.savePlaybook(t, playbook)
	f.directory.targets = []*gateway.TargetInfo{{TargetID: "t-1"}}
	require.NoError(t, f.store.SaveSchedule(ctx, dueSchedule(t, "pb-1", models.TargetFilter{})))

	f.scheduler.Tick(ctx)

	instances, err := f.store.ListInstances(ctx, persistence.ListInstancesOptions{PlaybookID: "pb-1"})
	require.NoError(t, err)
	assert.Empty(t, instances)

	saved, err := f.store.ScheduleByID(ctx, "sch-pb-1")
	require.NoError(t, err)
	require.NotNil(t, saved.NextExecutionAt)
	assert.True(t, saved.NextExecutionAt.After(time.Now().UTC()), "missed firing is not queued")
}

func TestScheduler_NewTargetEvent(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	welcoming := activePlaybook("pb-welcome")
	welcoming.Trigger.OnNewTarget = true
	f.savePlaybook(t, welcoming)
	f.savePlaybook(t, activePlaybook("pb-other"))

	require.NoError(t, f.queue.Enqueue(ctx, &models.TriggerEvent{
		Type:      models.TriggerNewTarget,
		TargetID:  "t-new",
		ChannelID: "ch-1",
	}))

	f.scheduler.Tick(ctx)

	created, err := f.store.ListInstances(ctx, persistence.ListInstancesOptions{TargetID: "t-new"})
	require.NoError(t, err)
	require.Len(t, created, 1, "only the opted-in playbook fires")
	assert.Equal(t, "pb-welcome", created[0].PlaybookID)
}

func TestScheduler_KeywordMessageEvent(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	keyed := activePlaybook("pb-pricing")
	keyed.Trigger.Keywords = []string{"pricing"}
	f.savePlaybook(t, keyed)

	require.NoError(t, f.queue.Enqueue(ctx, &models.TriggerEvent{
		Type:     models.TriggerMessageReceived,
		TargetID: "t-1",
		Message:  "what is your pricing?",
	}))

	f.scheduler.Tick(ctx)

	created, err := f.store.ListInstances(ctx, persistence.ListInstancesOptions{TargetID: "t-1"})
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, "what is your pricing?", created[0].Variables["trigger_message"])
}

func TestScheduler_MessageEventResumesWaitingInstance(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	f.savePlaybook(t, activePlaybook("pb-1"))

	future := time.Now().UTC().Add(24 * time.Hour)
	waiting := &models.Instance{
		ID:            "inst-wait",
		PlaybookID:    "pb-1",
		TargetID:      "t-1",
		CurrentStepID: "s1",
		Status:        models.InstanceStatusScheduled,
		ResumeAt:      &future,
		Variables:     map[string]any{"waiting_for_reply": true},
		CreatedAt:     time.Now().UTC(),
		UpdatedAt:     time.Now().UTC(),
	}
	require.NoError(t, f.store.CreateInstance(ctx, waiting))

	require.NoError(t, f.queue.Enqueue(ctx, &models.TriggerEvent{
		Type:     models.TriggerMessageReceived,
		TargetID: "t-1",
		Message:  "yes, I am interested",
	}))

	f.scheduler.Tick(ctx)

	resumed, err := f.store.InstanceByID(ctx, "inst-wait")
	require.NoError(t, err)
	assert.Equal(t, false, resumed.Variables["waiting_for_reply"], "flag flipped for the wait step")
	require.NotNil(t, resumed.ResumeAt)
	assert.True(t, resumed.ResumeAt.Before(time.Now().UTC().Add(time.Second)), "resumption forced to now")
	assert.Contains(t, f.pool.submitted, "inst-wait")
}

func TestScheduler_ManualEvent(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	f.savePlaybook(t, activePlaybook("pb-1"))

	require.NoError(t, f.queue.Enqueue(ctx, &models.TriggerEvent{
		Type:       models.TriggerManual,
		PlaybookID: "pb-1",
		Targets: []models.ManualTarget{
			{TargetID: "t-1", ChannelID: "ch-1"},
			{TargetID: "t-2", ChannelID: "ch-1"},
		},
	}))

	f.scheduler.Tick(ctx)

	instances, err := f.store.ListInstances(ctx, persistence.ListInstancesOptions{PlaybookID: "pb-1"})
	require.NoError(t, err)
	assert.Len(t, instances, 2)
}

func TestScheduler_ManualEventInactivePlaybook(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	playbook := activePlaybook("pb-1")
	playbook.Status = models.PlaybookStatusDraft
	f.savePlaybook(t, playbook)

	require.NoError(t, f.queue.Enqueue(ctx, &models.TriggerEvent{
		Type:       models.TriggerManual,
		PlaybookID: "pb-1",
		Targets:    []models.ManualTarget{{TargetID: "t-1"}},
	}))

	f.scheduler.Tick(ctx)

	instances, err := f.store.ListInstances(ctx, persistence.ListInstancesOptions{PlaybookID: "pb-1"})
	require.NoError(t, err)
	assert.Empty(t, instances)
}

func TestScheduler_ResumesDueInstances(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()

	past := now.Add(-time.Minute)
	due := &models.Instance{
		ID:            "inst-due",
		PlaybookID:    "pb-1",
		TargetID:      "t-1",
		CurrentStepID: "s1",
		Status:        models.InstanceStatusScheduled,
		ResumeAt:      &past,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	require.NoError(t, f.store.CreateInstance(ctx, due))

	future := now.Add(time.Hour)
	later := &models.Instance{
		ID:            "inst-later",
		PlaybookID:    "pb-1",
		TargetID:      "t-2",
		CurrentStepID: "s1",
		Status:        models.InstanceStatusScheduled,
		ResumeAt:      &future,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	require.NoError(t, f.store.CreateInstance(ctx, later))

	f.scheduler.Tick(ctx)

	assert.Equal(t, []string{"inst-due"}, f.pool.submitted)

	last, _, _ := f.stats.Snapshot()
	assert.Equal(t, 1, last.Resumed)
}

func TestScheduler_SweepsStuckInstances(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()

	stuck := &models.Instance{
		ID:            "inst-stuck",
		PlaybookID:    "pb-1",
		TargetID:      "t-1",
		CurrentStepID: "s1",
		Status:        models.InstanceStatusExecuting,
		CreatedAt:     now.Add(-72 * time.Hour),
		UpdatedAt:     now.Add(-72 * time.Hour),
	}
	require.NoError(t, f.store.CreateInstance(ctx, stuck))

	fresh := &models.Instance{
		ID:            "inst-fresh",
		PlaybookID:    "pb-1",
		TargetID:      "t-2",
		CurrentStepID: "s1",
		Status:        models.InstanceStatusExecuting,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	require.NoError(t, f.store.CreateInstance(ctx, fresh))

	f.scheduler.Tick(ctx)

	failed, err := f.store.InstanceByID(ctx, "inst-stuck")
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusFailed, failed.Status)
	assert.Equal(t, "execution timeout", failed.ErrorMessage)

	untouched, err := f.store.InstanceByID(ctx, "inst-fresh")
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusExecuting, untouched.Status)

	last, _, _ := f.stats.Snapshot()
	assert.Equal(t, 1, last.Expired)
}

func TestScheduler_StartStop(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	done := make(chan struct{})

	go func() {
		f.scheduler.Start(context.Background())
		close(done)
	}()

	// The first tick runs immediately on start.
	require.Eventually(t, func() bool {
		_, _, ticks := f.stats.Snapshot()

		return ticks >= 1
	}, time.Second, 10*time.Millisecond)

	f.scheduler.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}
