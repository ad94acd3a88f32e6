package memory_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/playbookd/playbookd/pkg/models"
	"github.com/playbookd/playbookd/pkg/persistence"
	"github.com/playbookd/playbookd/pkg/persistence/memory"
)

func newInstance(id, playbookID, targetID string, status models.InstanceStatus) *models.Instance {
	now := time.Now().UTC()

	return &models.Instance{
		ID:         id,
		PlaybookID: playbookID,
		TargetID:   targetID,
		Status:     status,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func TestPersistence_PlaybookRoundTrip(t *testing.T) {
	t.Parallel()

	store := memory.NewPersistence()
	ctx := context.Background()

	playbook := &models.Playbook{
		ID:     "pb-1",
		Name:   "Welcome",
		Type:   models.PlaybookTypeWelcome,
		Status: models.PlaybookStatusDraft,
	}

	require.NoError(t, store.SavePlaybook(ctx, playbook))

	loaded, err := store.PlaybookByID(ctx, "pb-1")
	require.NoError(t, err)
	assert.Equal(t, "Welcome", loaded.Name)

	// Mutating the loaded copy must not leak into the store.
	loaded.Name = "changed"

	again, err := store.PlaybookByID(ctx, "pb-1")
	require.NoError(t, err)
	assert.Equal(t, "Welcome", again.Name)

	_, err = store.PlaybookByID(ctx, "missing")
	require.ErrorIs(t, err, persistence.ErrPlaybookNotFound)
}

func TestPersistence_ActivePlaybooks(t *testing.T) {
	t.Parallel()

	store := memory.NewPersistence()
	ctx := context.Background()

	require.NoError(t, store.SavePlaybook(ctx, &models.Playbook{ID: "pb-1", Name: "A", Status: models.PlaybookStatusActive}))
	require.NoError(t, store.SavePlaybook(ctx, &models.Playbook{ID: "pb-2", Name: "B", Status: models.PlaybookStatusDraft}))
	require.NoError(t, store.SavePlaybook(ctx, &models.Playbook{ID: "pb-3", Name: "C", Status: models.PlaybookStatusPaused}))

	active, err := store.ActivePlaybooks(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "pb-1", active[0].ID)
}

func TestPersistence_DuplicateActiveInstance(t *testing.T) {
	t.Parallel()

	store := memory.NewPersistence()
	ctx := context.Background()

	require.NoError(t, store.CreateInstance(ctx, newInstance("i-1", "pb-1", "t-1", models.InstanceStatusPending)))

	err := store.CreateInstance(ctx, newInstance("i-2", "pb-1", "t-1", models.InstanceStatusPending))
	require.ErrorIs(t, err, persistence.ErrDuplicateActiveInstance)

	// Different target and different playbook are both fine.
	require.NoError(t, store.CreateInstance(ctx, newInstance("i-3", "pb-1", "t-2", models.InstanceStatusPending)))
	require.NoError(t, store.CreateInstance(ctx, newInstance("i-4", "pb-2", "t-1", models.InstanceStatusPending)))
}

func TestPersistence_DuplicateAllowedAfterTerminal(t *testing.T) {
	t.Parallel()

	store := memory.NewPersistence()
	ctx := context.Background()

	require.NoError(t, store.CreateInstance(ctx, newInstance("i-1", "pb-1", "t-1", models.InstanceStatusPending)))

	_, err := store.UpdateInstance(ctx, "i-1", func(i *models.Instance) error {
		i.MarkCompleted(time.Now().UTC())

		return nil
	})
	require.NoError(t, err)

	require.NoError(t, store.CreateInstance(ctx, newInstance("i-2", "pb-1", "t-1", models.InstanceStatusPending)))
}

func TestPersistence_DuplicateActiveInstance_Concurrent(t *testing.T) {
	t.Parallel()

	store := memory.NewPersistence()
	ctx := context.Background()

	const attempts = 50

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)

	for i := range attempts {
		wg.Add(1)

		go func(n int) {
			defer wg.Done()

			instance := newInstance(fmt.Sprintf("inst-%d", n), "pb-1", "t-1", models.InstanceStatusPending)

			if err := store.CreateInstance(ctx, instance); err == nil {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}(i)
	}

	wg.Wait()

	assert.Equal(t, 1, created, "exactly one of the concurrent creates wins")
}

func TestPersistence_UpdateInstance(t *testing.T) {
	t.Parallel()

	store := memory.NewPersistence()
	ctx := context.Background()

	require.NoError(t, store.CreateInstance(ctx, newInstance("i-1", "pb-1", "t-1", models.InstanceStatusPending)))

	updated, err := store.UpdateInstance(ctx, "i-1", func(i *models.Instance) error {
		i.Status = models.InstanceStatusExecuting
		i.SetVariable("plan", "pro")

		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusExecuting, updated.Status)

	loaded, err := store.InstanceByID(ctx, "i-1")
	require.NoError(t, err)
	assert.Equal(t, "pro", loaded.Variables["plan"])

	_, err = store.UpdateInstance(ctx, "missing", func(*models.Instance) error { return nil })
	require.ErrorIs(t, err, persistence.ErrInstanceNotFound)
}

func TestPersistence_UpdateInstance_MutateErrorDiscardsChanges(t *testing.T) {
	t.Parallel()

	store := memory.NewPersistence()
	ctx := context.Background()

	require.NoError(t, store.CreateInstance(ctx, newInstance("i-1", "pb-1", "t-1", models.InstanceStatusPending)))

	_, err := store.UpdateInstance(ctx, "i-1", func(i *models.Instance) error {
		i.Status = models.InstanceStatusFailed

		return assert.AnError
	})
	require.Error(t, err)

	loaded, err := store.InstanceByID(ctx, "i-1")
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusPending, loaded.Status)
}

func TestPersistence_ListInstances(t *testing.T) {
	t.Parallel()

	store := memory.NewPersistence()
	ctx := context.Background()

	require.NoError(t, store.CreateInstance(ctx, newInstance("i-1", "pb-1", "t-1", models.InstanceStatusPending)))
	require.NoError(t, store.CreateInstance(ctx, newInstance("i-2", "pb-1", "t-2", models.InstanceStatusExecuting)))
	require.NoError(t, store.CreateInstance(ctx, newInstance("i-3", "pb-2", "t-3", models.InstanceStatusPending)))

	byPlaybook, err := store.ListInstances(ctx, persistence.ListInstancesOptions{PlaybookID: "pb-1"})
	require.NoError(t, err)
	assert.Len(t, byPlaybook, 2)

	executing := models.InstanceStatusExecuting

	byStatus, err := store.ListInstances(ctx, persistence.ListInstancesOptions{Status: &executing})
	require.NoError(t, err)
	require.Len(t, byStatus, 1)
	assert.Equal(t, "i-2", byStatus[0].ID)

	limited, err := store.ListInstances(ctx, persistence.ListInstancesOptions{Limit: 1, Offset: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestPersistence_ResumableInstances(t *testing.T) {
	t.Parallel()

	store := memory.NewPersistence()
	ctx := context.Background()
	now := time.Now().UTC()

	due := newInstance("i-due", "pb-1", "t-1", models.InstanceStatusScheduled)
	due.ResumeAt = ptrTime(now.Add(-time.Minute))
	require.NoError(t, store.CreateInstance(ctx, due))

	notYet := newInstance("i-later", "pb-1", "t-2", models.InstanceStatusScheduled)
	notYet.ResumeAt = ptrTime(now.Add(time.Hour))
	require.NoError(t, store.CreateInstance(ctx, notYet))

	parked := newInstance("i-parked", "pb-1", "t-3", models.InstanceStatusScheduled)
	require.NoError(t, store.CreateInstance(ctx, parked))

	resumable, err := store.ResumableInstances(ctx, now)
	require.NoError(t, err)
	require.Len(t, resumable, 1)
	assert.Equal(t, "i-due", resumable[0].ID)
}

func TestPersistence_WaitingInstances(t *testing.T) {
	t.Parallel()

	store := memory.NewPersistence()
	ctx := context.Background()

	waiting := newInstance("i-wait", "pb-1", "t-1", models.InstanceStatusScheduled)
	waiting.SetVariable("waiting_for_reply", true)
	require.NoError(t, store.CreateInstance(ctx, waiting))

	other := newInstance("i-plain", "pb-1", "t-2", models.InstanceStatusScheduled)
	require.NoError(t, store.CreateInstance(ctx, other))

	found, err := store.WaitingInstances(ctx, "t-1")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "i-wait", found[0].ID)

	none, err := store.WaitingInstances(ctx, "t-2")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestPersistence_StuckAndOrphanedInstances(t *testing.T) {
	t.Parallel()

	store := memory.NewPersistence()
	ctx := context.Background()
	now := time.Now().UTC()

	executing := newInstance("i-exec", "pb-1", "t-1", models.InstanceStatusExecuting)
	require.NoError(t, store.CreateInstance(ctx, executing))

	orphaned, err := store.OrphanedInstances(ctx)
	require.NoError(t, err)
	require.Len(t, orphaned, 1)
	assert.Equal(t, "i-exec", orphaned[0].ID)

	// UpdatedAt is fresh, so nothing is stuck yet.
	stuck, err := store.StuckInstances(ctx, now.Add(-48*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, stuck)

	stuck, err = store.StuckInstances(ctx, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Len(t, stuck, 1)
}

func TestPersistence_TaskHistory(t *testing.T) {
	t.Parallel()

	store := memory.NewPersistence()
	ctx := context.Background()
	base := time.Now().UTC()

	for i, status := range []models.TaskStatus{models.TaskStatusFailed, models.TaskStatusFailed, models.TaskStatusCompleted} {
		task := &models.Task{
			ID:          "task-" + string(rune('a'+i)),
			InstanceID:  "i-1",
			StepID:      "step-1",
			Status:      status,
			ScheduledAt: base.Add(time.Duration(i) * time.Second),
		}
		require.NoError(t, store.SaveTask(ctx, task))
	}

	tasks, err := store.TasksByInstance(ctx, "i-1")
	require.NoError(t, err)
	require.Len(t, tasks, 3)
	assert.Equal(t, "task-a", tasks[0].ID, "ordered by scheduled time")

	failed, err := store.CountFailedAttempts(ctx, "i-1", "step-1")
	require.NoError(t, err)
	assert.Equal(t, 2, failed)

	failed, err = store.CountFailedAttempts(ctx, "i-1", "step-2")
	require.NoError(t, err)
	assert.Zero(t, failed)
}

func TestPersistence_Schedules(t *testing.T) {
	t.Parallel()

	store := memory.NewPersistence()
	ctx := context.Background()
	now := time.Now().UTC()

	due, err := models.NewSchedule("sch-due", "pb-1", "Due", "* * * * *", models.TargetFilter{})
	require.NoError(t, err)

	due.NextExecutionAt = ptrTime(now.Add(-time.Minute))
	require.NoError(t, store.SaveSchedule(ctx, due))

	later, err := models.NewSchedule("sch-later", "pb-1", "Later", "0 9 * * *", models.TargetFilter{})
	require.NoError(t, err)

	later.NextExecutionAt = ptrTime(now.Add(time.Hour))
	require.NoError(t, store.SaveSchedule(ctx, later))

	dueNow, err := store.DueSchedules(ctx, now)
	require.NoError(t, err)
	require.Len(t, dueNow, 1)
	assert.Equal(t, "sch-due", dueNow[0].ID)

	_, err = store.ScheduleByID(ctx, "missing")
	require.ErrorIs(t, err, persistence.ErrScheduleNotFound)
}

func ptrTime(t time.Time) *time.Time {
	return &t
}
