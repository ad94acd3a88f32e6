package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/playbookd/playbookd/pkg/models"
	"github.com/playbookd/playbookd/pkg/persistence/memory"
)

func newScheduleFixture(t *testing.T) (*memory.Persistence, *Schedule) {
	t.Helper()

	store := memory.NewPersistence()
	savedPlaybook(t, store, models.PlaybookStatusActive, textStep("s1", "Hi"))

	return store, NewSchedule(store)
}

func TestScheduleCreate(t *testing.T) {
	_, svc := newScheduleFixture(t)

	created, err := svc.Create(context.Background(), ScheduleRequest{
		PlaybookID:     "pb-1",
		Name:           "Morning nudge",
		CronExpression: "0 9 * * *",
		TargetFilter:   models.TargetFilter{Tags: []string{"trial"}, Limit: 50},
	})
	require.NoError(t, err)

	assert.NotEmpty(t, created.ID)
	assert.True(t, created.Active)
	require.NotNil(t, created.NextExecutionAt)
	assert.True(t, created.NextExecutionAt.After(time.Now().UTC()))
}

func TestScheduleCreateInvalidCron(t *testing.T) {
	_, svc := newScheduleFixture(t)

	_, err := svc.Create(context.Background(), ScheduleRequest{
		PlaybookID:     "pb-1",
		Name:           "Broken",
		CronExpression: "every tuesday",
	})
	require.ErrorIs(t, err, ErrInvalidCron)
	assert.True(t, IsValidationError(err))
}

func TestScheduleCreateRequiresPlaybook(t *testing.T) {
	_, svc := newScheduleFixture(t)

	_, err := svc.Create(context.Background(), ScheduleRequest{
		PlaybookID:     "missing",
		Name:           "Orphan",
		CronExpression: "0 9 * * *",
	})
	require.ErrorIs(t, err, ErrPlaybookNotFound)
}

func TestScheduleUpdateRecomputesOnCronChange(t *testing.T) {
	_, svc := newScheduleFixture(t)

	created, err := svc.Create(context.Background(), ScheduleRequest{
		PlaybookID:     "pb-1",
		Name:           "Morning nudge",
		CronExpression: "0 9 * * *",
	})
	require.NoError(t, err)

	updated, err := svc.Update(context.Background(), created.ID, ScheduleRequest{
		PlaybookID:     "pb-1",
		Name:           "Evening nudge",
		CronExpression: "0 18 * * *",
	})
	require.NoError(t, err)

	assert.Equal(t, "Evening nudge", updated.Name)
	require.NotNil(t, updated.NextExecutionAt)
	assert.Equal(t, 18, updated.NextExecutionAt.Hour())
}

func TestScheduleUpdateKeepsNextExecutionWhenCronUnchanged(t *testing.T) {
	_, svc := newScheduleFixture(t)

	created, err := svc.Create(context.Background(), ScheduleRequest{
		PlaybookID:     "pb-1",
		Name:           "Morning nudge",
		CronExpression: "0 9 * * *",
	})
	require.NoError(t, err)
	before := *created.NextExecutionAt

	updated, err := svc.Update(context.Background(), created.ID, ScheduleRequest{
		PlaybookID:     "pb-1",
		Name:           "Renamed",
		CronExpression: "0 9 * * *",
	})
	require.NoError(t, err)
	require.NotNil(t, updated.NextExecutionAt)
	assert.True(t, updated.NextExecutionAt.Equal(before))
}

func TestScheduleActivateRecomputesNextExecution(t *testing.T) {
	store, svc := newScheduleFixture(t)

	created, err := svc.Create(context.Background(), ScheduleRequest{
		PlaybookID:     "pb-1",
		Name:           "Morning nudge",
		CronExpression: "0 9 * * *",
	})
	require.NoError(t, err)

	deactivated, err := svc.Deactivate(context.Background(), created.ID)
	require.NoError(t, err)
	assert.False(t, deactivated.Active)

	// Simulate a long-deactivated schedule whose stored time went stale.
	stale := time.Now().UTC().Add(-48 * time.Hour)
	deactivated.NextExecutionAt = &stale
	require.NoError(t, store.SaveSchedule(context.Background(), deactivated))

	activated, err := svc.Activate(context.Background(), created.ID)
	require.NoError(t, err)
	assert.True(t, activated.Active)
	require.NotNil(t, activated.NextExecutionAt)
	assert.True(t, activated.NextExecutionAt.After(time.Now().UTC()))
}

func TestScheduleGetNotFound(t *testing.T) {
	_, svc := newScheduleFixture(t)

	_, err := svc.Get(context.Background(), "missing")
	require.ErrorIs(t, err, ErrScheduleNotFound)
}
