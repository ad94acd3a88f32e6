package models

import (
	"strings"
	"time"
)

// TriggerEventType classifies entries in the trigger ingestion queue.
type TriggerEventType string

const (
	// TriggerNewTarget fires when a new contact is added to a channel.
	TriggerNewTarget TriggerEventType = "new_target"
	// TriggerMessageReceived fires on every inbound message; playbooks opt in
	// via keyword lists, and suspended wait-for-reply instances resume early.
	TriggerMessageReceived TriggerEventType = "message_received"
	// TriggerManual fires for operator-initiated batch runs.
	TriggerManual TriggerEventType = "manual"
)

// TriggerEvent is one entry of the append-only trigger ingestion queue
// produced by the surrounding API layer.
type TriggerEvent struct {
	Type      TriggerEventType `json:"type"`
	Timestamp time.Time        `json:"timestamp"`

	TargetID  string `json:"target_id,omitempty"`
	ChannelID string `json:"channel_id,omitempty"`

	// Message carries the inbound text for message_received events.
	Message string `json:"message,omitempty"`

	// PlaybookID and Targets are set for manual batch events.
	PlaybookID string         `json:"playbook_id,omitempty"`
	Targets    []ManualTarget `json:"targets,omitempty"`
}

// ManualTarget addresses one target of a manual batch trigger.
type ManualTarget struct {
	TargetID  string `json:"target_id"`
	ChannelID string `json:"channel_id"`
}

// MatchesKeywords reports whether any of the playbook's trigger keywords
// occurs in the message content. A playbook without keywords never matches.
func (t TriggerConfig) MatchesKeywords(message string) bool {
	for _, keyword := range t.Keywords {
		if keyword != "" && strings.Contains(message, keyword) {
			return true
		}
	}

	return false
}
