package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/playbookd/playbookd/pkg/models"
	"github.com/playbookd/playbookd/pkg/persistence/memory"
)

func textStep(id, content string) models.Step {
	return models.Step{
		ID:      id,
		Name:    "Send " + id,
		Action:  models.ActionSendText,
		Payload: map[string]any{"content": content},
	}
}

func savedPlaybook(t *testing.T, store *memory.Persistence, status models.PlaybookStatus, steps ...models.Step) *models.Playbook {
	t.Helper()

	playbook := &models.Playbook{
		ID:     "pb-1",
		Name:   "Welcome sequence",
		Type:   models.PlaybookTypeWelcome,
		Status: status,
		Steps:  steps,
	}
	require.NoError(t, store.SavePlaybook(context.Background(), playbook))

	return playbook
}

func TestPlaybookCreateDefaults(t *testing.T) {
	svc := NewPlaybook(memory.NewPersistence())

	created, err := svc.Create(context.Background(), &models.Playbook{
		Name:  "Welcome sequence",
		Steps: []models.Step{textStep("s1", "Hi")},
	})
	require.NoError(t, err)

	assert.NotEmpty(t, created.ID)
	assert.Equal(t, models.PlaybookStatusDraft, created.Status)
	assert.Equal(t, models.PlaybookTypeCustom, created.Type)
	assert.False(t, created.CreatedAt.IsZero())
}

func TestPlaybookCreateRejectsShortName(t *testing.T) {
	svc := NewPlaybook(memory.NewPersistence())

	_, err := svc.Create(context.Background(), &models.Playbook{Name: "ab"})
	require.Error(t, err)
	assert.True(t, IsValidationError(err))
}

func TestPlaybookCreateAllowsIncompleteSteps(t *testing.T) {
	// Drafts may carry structurally invalid steps; validation gates
	// activation, not creation.
	svc := NewPlaybook(memory.NewPersistence())

	created, err := svc.Create(context.Background(), &models.Playbook{
		Name: "Half-built draft",
		Steps: []models.Step{{
			ID:     "s1",
			Name:   "Empty send",
			Action: models.ActionSendText,
		}},
	})
	require.NoError(t, err)
	assert.Equal(t, models.PlaybookStatusDraft, created.Status)
}

func TestPlaybookActivateValidatesSteps(t *testing.T) {
	store := memory.NewPersistence()
	svc := NewPlaybook(store)

	savedPlaybook(t, store, models.PlaybookStatusDraft, models.Step{
		ID:     "s1",
		Name:   "Empty send",
		Action: models.ActionSendText,
	})

	_, err := svc.Activate(context.Background(), "pb-1")
	require.Error(t, err)
	assert.True(t, IsValidationError(err))

	current, err := svc.Get(context.Background(), "pb-1")
	require.NoError(t, err)
	assert.Equal(t, models.PlaybookStatusDraft, current.Status)
}

func TestPlaybookActivateTransitions(t *testing.T) {
	store := memory.NewPersistence()
	svc := NewPlaybook(store)

	savedPlaybook(t, store, models.PlaybookStatusDraft, textStep("s1", "Hi"))

	activated, err := svc.Activate(context.Background(), "pb-1")
	require.NoError(t, err)
	assert.Equal(t, models.PlaybookStatusActive, activated.Status)
}

func TestPlaybookUpdateRejectsStepEditsWhileActive(t *testing.T) {
	store := memory.NewPersistence()
	svc := NewPlaybook(store)

	savedPlaybook(t, store, models.PlaybookStatusActive, textStep("s1", "Hi"))

	_, err := svc.Update(context.Background(), "pb-1", func(p *models.Playbook) error {
		p.Steps = append(p.Steps, textStep("s2", "Follow up"))

		return nil
	})
	require.ErrorIs(t, err, ErrPlaybookNotEditable)
	assert.True(t, IsConflictError(err))
}

func TestPlaybookUpdateMutableFieldsWhileActive(t *testing.T) {
	store := memory.NewPersistence()
	svc := NewPlaybook(store)

	savedPlaybook(t, store, models.PlaybookStatusActive, textStep("s1", "Hi"))

	updated, err := svc.Update(context.Background(), "pb-1", func(p *models.Playbook) error {
		p.Description = "renamed"

		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "renamed", updated.Description)
}

func TestPlaybookPauseAndArchive(t *testing.T) {
	store := memory.NewPersistence()
	svc := NewPlaybook(store)

	savedPlaybook(t, store, models.PlaybookStatusActive, textStep("s1", "Hi"))

	paused, err := svc.Pause(context.Background(), "pb-1")
	require.NoError(t, err)
	assert.Equal(t, models.PlaybookStatusPaused, paused.Status)

	archived, err := svc.Archive(context.Background(), "pb-1")
	require.NoError(t, err)
	assert.Equal(t, models.PlaybookStatusArchived, archived.Status)
}

func TestPlaybookGetNotFound(t *testing.T) {
	svc := NewPlaybook(memory.NewPersistence())

	_, err := svc.Get(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, IsNotFoundError(err))
}
