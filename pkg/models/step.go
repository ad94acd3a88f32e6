package models

// ActionKind identifies the unit of work a step performs. The executor
// dispatches on this value; UnknownAction payloads fail validation before a
// playbook can be activated.
type ActionKind string

const (
	ActionSendText       ActionKind = "send_text"
	ActionSendImage      ActionKind = "send_image"
	ActionSendFile       ActionKind = "send_file"
	ActionPostBroadcast  ActionKind = "post_broadcast"
	ActionAddTag         ActionKind = "add_tag"
	ActionRemoveTag      ActionKind = "remove_tag"
	ActionUpdateLabel    ActionKind = "update_label"
	ActionNotifyHuman    ActionKind = "notify_human"
	ActionWaitReply      ActionKind = "wait_reply"
	ActionConditionCheck ActionKind = "condition_check"
)

func (a ActionKind) Valid() bool {
	switch a {
	case ActionSendText, ActionSendImage, ActionSendFile, ActionPostBroadcast,
		ActionAddTag, ActionRemoveTag, ActionUpdateLabel, ActionNotifyHuman,
		ActionWaitReply, ActionConditionCheck:
		return true
	default:
		return false
	}
}

// Step is one unit of work within a playbook.
type Step struct {
	ID     string     `json:"id"     validate:"required"`
	Name   string     `json:"name"   validate:"required"`
	Action ActionKind `json:"action" validate:"required"`

	// Payload holds the action-kind-specific configuration (content, asset
	// reference, tag name, timeout). Validated against the per-kind JSON
	// schema at activation time.
	Payload map[string]any `json:"payload,omitempty"`

	// DelayMinutes suspends the instance for this long after the step
	// completes, before the successor runs.
	DelayMinutes int `json:"delay_minutes,omitempty"`

	// Conditions gate execution of this step. A failing guard skips the step
	// but still advances the cursor.
	Conditions ConditionSet `json:"conditions,omitempty"`

	// NextSteps lists explicit successor step ids for branching. Empty means
	// next in list order.
	NextSteps []string `json:"next_steps,omitempty"`
}

// PayloadString returns a string payload field, or "" when absent.
func (s Step) PayloadString(key string) string {
	v, _ := s.Payload[key].(string)

	return v
}

// PayloadInt returns an integer payload field, tolerating the float64 that
// JSON decoding produces.
func (s Step) PayloadInt(key string, fallback int) int {
	switch v := s.Payload[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return fallback
	}
}
