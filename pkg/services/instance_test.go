package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/playbookd/playbookd/pkg/models"
	"github.com/playbookd/playbookd/pkg/persistence"
	"github.com/playbookd/playbookd/pkg/persistence/memory"
	"github.com/playbookd/playbookd/pkg/triggers"
)

type recordingPool struct {
	submitted []string
}

func (p *recordingPool) Submit(_ context.Context, instanceID string) bool {
	p.submitted = append(p.submitted, instanceID)

	return true
}

type instanceFixture struct {
	store *memory.Persistence
	queue *triggers.MemoryQueue
	pool  *recordingPool
	svc   *Instance
}

func newInstanceFixture(t *testing.T, status models.PlaybookStatus) *instanceFixture {
	t.Helper()

	f := &instanceFixture{
		store: memory.NewPersistence(),
		queue: triggers.NewMemoryQueue(),
		pool:  &recordingPool{},
	}
	f.svc = NewInstance(f.store, f.queue, f.pool)

	savedPlaybook(t, f.store, status, textStep("s1", "Hi"), textStep("s2", "Follow up"))

	return f
}

func TestInstanceCreate(t *testing.T) {
	f := newInstanceFixture(t, models.PlaybookStatusActive)

	created, err := f.svc.Create(context.Background(), CreateRequest{
		PlaybookID: "pb-1",
		TargetID:   "t-1",
		ChannelID:  "ch-1",
		Variables:  map[string]any{"plan": "pro"},
	})
	require.NoError(t, err)

	assert.NotEmpty(t, created.ID)
	assert.Equal(t, models.InstanceStatusPending, created.Status)
	assert.Equal(t, "s1", created.CurrentStepID)
	assert.Equal(t, "Welcome sequence - t-1", created.Name)
	assert.Equal(t, []string{created.ID}, f.pool.submitted)
}

func TestInstanceCreateRequiresActivePlaybook(t *testing.T) {
	f := newInstanceFixture(t, models.PlaybookStatusDraft)

	_, err := f.svc.Create(context.Background(), CreateRequest{PlaybookID: "pb-1", TargetID: "t-1"})
	require.ErrorIs(t, err, ErrPlaybookNotActive)
	assert.Empty(t, f.pool.submitted)
}

func TestInstanceCreateDuplicateConflict(t *testing.T) {
	f := newInstanceFixture(t, models.PlaybookStatusActive)

	_, err := f.svc.Create(context.Background(), CreateRequest{PlaybookID: "pb-1", TargetID: "t-1"})
	require.NoError(t, err)

	_, err = f.svc.Create(context.Background(), CreateRequest{PlaybookID: "pb-1", TargetID: "t-1"})
	require.ErrorIs(t, err, ErrDuplicateActiveInstance)
	assert.True(t, IsConflictError(err))
}

func TestInstanceCreateBatchEnqueuesManualTrigger(t *testing.T) {
	f := newInstanceFixture(t, models.PlaybookStatusActive)

	targets := []models.ManualTarget{
		{TargetID: "t-1", ChannelID: "ch-1"},
		{TargetID: "t-2", ChannelID: "ch-1"},
	}
	require.NoError(t, f.svc.CreateBatch(context.Background(), "pb-1", targets))

	events, err := f.queue.Drain(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, models.TriggerManual, events[0].Type)
	assert.Equal(t, "pb-1", events[0].PlaybookID)
	assert.Equal(t, targets, events[0].Targets)
}

func TestInstanceCreateBatchRequiresTargets(t *testing.T) {
	f := newInstanceFixture(t, models.PlaybookStatusActive)

	err := f.svc.CreateBatch(context.Background(), "pb-1", nil)
	require.ErrorIs(t, err, ErrNoTargets)
	assert.True(t, IsValidationError(err))
}

func TestInstancePauseResumeCycle(t *testing.T) {
	f := newInstanceFixture(t, models.PlaybookStatusActive)

	created, err := f.svc.Create(context.Background(), CreateRequest{PlaybookID: "pb-1", TargetID: "t-1"})
	require.NoError(t, err)

	paused, err := f.svc.Pause(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusScheduled, paused.Status)
	assert.Nil(t, paused.ResumeAt)

	resumed, err := f.svc.Resume(context.Background(), created.ID)
	require.NoError(t, err)
	require.NotNil(t, resumed.ResumeAt)
	assert.False(t, resumed.ResumeAt.After(time.Now().UTC()))
	assert.Contains(t, f.pool.submitted, created.ID)
}

func TestInstanceResumeRequiresPaused(t *testing.T) {
	f := newInstanceFixture(t, models.PlaybookStatusActive)

	created, err := f.svc.Create(context.Background(), CreateRequest{PlaybookID: "pb-1", TargetID: "t-1"})
	require.NoError(t, err)

	_, err = f.svc.Resume(context.Background(), created.ID)
	require.ErrorIs(t, err, ErrInstanceNotPaused)
}

func TestInstanceCancel(t *testing.T) {
	f := newInstanceFixture(t, models.PlaybookStatusActive)

	created, err := f.svc.Create(context.Background(), CreateRequest{PlaybookID: "pb-1", TargetID: "t-1"})
	require.NoError(t, err)

	cancelled, err := f.svc.Cancel(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusCancelled, cancelled.Status)

	_, err = f.svc.Cancel(context.Background(), created.ID)
	require.ErrorIs(t, err, ErrInstanceTerminal)

	_, err = f.svc.Pause(context.Background(), created.ID)
	require.ErrorIs(t, err, ErrInstanceTerminal)
}

func TestInstanceListClampsLimit(t *testing.T) {
	f := newInstanceFixture(t, models.PlaybookStatusActive)

	for _, target := range []string{"t-1", "t-2", "t-3"} {
		_, err := f.svc.Create(context.Background(), CreateRequest{PlaybookID: "pb-1", TargetID: target})
		require.NoError(t, err)
	}

	listed, err := f.svc.List(context.Background(), persistence.ListInstancesOptions{Limit: -5})
	require.NoError(t, err)
	assert.Len(t, listed, 3)

	listed, err = f.svc.List(context.Background(), persistence.ListInstancesOptions{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, listed, 2)
}

func TestInstanceTasksRequiresInstance(t *testing.T) {
	f := newInstanceFixture(t, models.PlaybookStatusActive)

	_, err := f.svc.Tasks(context.Background(), "missing")
	require.ErrorIs(t, err, ErrInstanceNotFound)
}
