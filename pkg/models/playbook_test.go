package models_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/playbookd/playbookd/pkg/models"
)

func now() time.Time {
	return time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
}

func buildPlaybook(steps ...models.Step) *models.Playbook {
	return &models.Playbook{
		ID:     "pb-1",
		Name:   "Welcome Sequence",
		Type:   models.PlaybookTypeWelcome,
		Status: models.PlaybookStatusActive,
		Steps:  steps,
	}
}

func sendStep(id string) models.Step {
	return models.Step{
		ID:     id,
		Name:   "Send " + id,
		Action: models.ActionSendText,
		Payload: map[string]any{
			"content": "Hello {contact_name}",
		},
	}
}

func TestPlaybook_NextStepID(t *testing.T) {
	t.Parallel()

	playbook := buildPlaybook(sendStep("a"), sendStep("b"), sendStep("c"))

	a, ok := playbook.StepByID("a")
	require.True(t, ok)
	assert.Equal(t, "b", playbook.NextStepID(a))

	c, ok := playbook.StepByID("c")
	require.True(t, ok)
	assert.Empty(t, playbook.NextStepID(c))
}

func TestPlaybook_NextStepID_ExplicitBranch(t *testing.T) {
	t.Parallel()

	branching := sendStep("a")
	branching.NextSteps = []string{"c"}

	playbook := buildPlaybook(branching, sendStep("b"), sendStep("c"))

	a, ok := playbook.StepByID("a")
	require.True(t, ok)
	assert.Equal(t, "c", playbook.NextStepID(a))
}

func TestPlaybook_FirstStepID(t *testing.T) {
	t.Parallel()

	assert.Empty(t, buildPlaybook().FirstStepID())
	assert.Equal(t, "a", buildPlaybook(sendStep("a"), sendStep("b")).FirstStepID())
}

func TestPlaybook_ValidateSteps(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		steps   []models.Step
		wantErr string
	}{
		{
			name:  "valid sequence",
			steps: []models.Step{sendStep("a"), sendStep("b")},
		},
		{
			name:    "no steps",
			steps:   nil,
			wantErr: "at least one step",
		},
		{
			name:    "duplicate step id",
			steps:   []models.Step{sendStep("a"), sendStep("a")},
			wantErr: "duplicate step id",
		},
		{
			name: "unknown action kind",
			steps: []models.Step{{
				ID:     "a",
				Name:   "Bad",
				Action: models.ActionKind("teleport"),
			}},
			wantErr: "unknown action kind",
		},
		{
			name: "dangling successor",
			steps: []models.Step{{
				ID:        "a",
				Name:      "Send a",
				Action:    models.ActionSendText,
				Payload:   map[string]any{"content": "hi"},
				NextSteps: []string{"ghost"},
			}},
			wantErr: "does not exist",
		},
		{
			name: "send_text without content or asset",
			steps: []models.Step{{
				ID:      "a",
				Name:    "Send a",
				Action:  models.ActionSendText,
				Payload: map[string]any{},
			}},
			wantErr: "payload",
		},
		{
			name: "add_tag without tag",
			steps: []models.Step{{
				ID:      "a",
				Name:    "Tag",
				Action:  models.ActionAddTag,
				Payload: map[string]any{},
			}},
			wantErr: "payload",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			playbook := buildPlaybook(tt.steps...)

			err := playbook.ValidateSteps()
			if tt.wantErr == "" {
				require.NoError(t, err)

				return
			}

			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestInstance_AdvanceAndProgress(t *testing.T) {
	t.Parallel()

	playbook := buildPlaybook(sendStep("a"), sendStep("b"), sendStep("c"), sendStep("d"))
	instance := &models.Instance{
		ID:            "inst-1",
		PlaybookID:    playbook.ID,
		CurrentStepID: "a",
		Status:        models.InstanceStatusExecuting,
	}

	require.True(t, instance.Advance(playbook))
	assert.Equal(t, "b", instance.CurrentStepID)
	assert.Equal(t, 25, instance.Progress)

	require.True(t, instance.Advance(playbook))
	require.True(t, instance.Advance(playbook))
	assert.Equal(t, "d", instance.CurrentStepID)
	assert.Equal(t, 75, instance.Progress)

	assert.False(t, instance.Advance(playbook), "last step has no successor")
}

func TestInstance_Terminal(t *testing.T) {
	t.Parallel()

	instance := &models.Instance{Status: models.InstanceStatusExecuting}
	assert.False(t, instance.IsTerminal())

	for _, status := range []models.InstanceStatus{
		models.InstanceStatusCompleted,
		models.InstanceStatusFailed,
		models.InstanceStatusCancelled,
	} {
		instance.Status = status
		assert.True(t, instance.IsTerminal(), string(status))
	}
}

func TestTask_RetryAccounting(t *testing.T) {
	t.Parallel()

	task := &models.Task{
		Status:     models.TaskStatusExecuting,
		RetryCount: 0,
		MaxRetries: 2,
	}

	task.MarkFailed(now(), "gateway timeout")
	assert.Equal(t, 1, task.RetryCount)
	assert.True(t, task.IsRetryable())

	task.MarkFailed(now(), "gateway timeout")
	assert.Equal(t, 2, task.RetryCount)
	assert.False(t, task.IsRetryable(), "retry budget exhausted")
}

func TestTriggerConfig_MatchesKeywords(t *testing.T) {
	t.Parallel()

	trigger := models.TriggerConfig{Keywords: []string{"pricing", "demo"}}

	assert.True(t, trigger.MatchesKeywords("can I get a demo next week"))
	assert.False(t, trigger.MatchesKeywords("hello there"))
	assert.False(t, models.TriggerConfig{}.MatchesKeywords("pricing"))
}
