// Package gateway defines the outbound collaborator contracts of the
// execution engine: the messaging gateway, the target directory, the content
// asset store and the human notification channel.
package gateway

import (
	"context"
	"errors"
	"fmt"
)

// ContentKind selects the payload type of an outbound message.
type ContentKind string

const (
	ContentKindText  ContentKind = "text"
	ContentKindImage ContentKind = "image"
	ContentKindFile  ContentKind = "file"
)

// SendResult reports a successful gateway delivery.
type SendResult struct {
	ProviderMessageID string `json:"provider_message_id"`
}

// TargetInfo is the directory's view of one target.
type TargetInfo struct {
	TargetID    string   `json:"target_id"`
	ChannelID   string   `json:"channel_id"`
	DisplayName string   `json:"display_name"`
	Reachable   bool     `json:"reachable"`
	Tags        []string `json:"tags,omitempty"`
}

// TargetQuery narrows directory listings for schedule fan-out.
type TargetQuery struct {
	Tags       []string `json:"tags,omitempty"`
	ChannelIDs []string `json:"channel_ids,omitempty"`
	Limit      int      `json:"limit,omitempty"`
}

// Asset is a reusable content item referenced by send steps instead of a
// literal payload.
type Asset struct {
	ID      string      `json:"id"`
	Kind    ContentKind `json:"kind"`
	Content string      `json:"content,omitempty"`
	URL     string      `json:"url,omitempty"`
}

// Gateway delivers outbound messages. Errors from it are treated as
// transient and retried at the task level.
type Gateway interface {
	Send(ctx context.Context, channelID, targetID, content string, kind ContentKind) (*SendResult, error)
	PostBroadcast(ctx context.Context, channelID, content string, imageURLs []string) (*SendResult, error)
}

// Directory resolves targets to routing information and owns their label
// metadata. Tag and label mutations are idempotent.
type Directory interface {
	Resolve(ctx context.Context, targetID string) (*TargetInfo, error)
	Targets(ctx context.Context, query TargetQuery) ([]*TargetInfo, error)
	AddTag(ctx context.Context, targetID, tag string) error
	RemoveTag(ctx context.Context, targetID, tag string) error
	UpdateLabel(ctx context.Context, targetID, label string) error
}

// AssetStore resolves content asset references from send step payloads.
type AssetStore interface {
	AssetByID(ctx context.Context, id string) (*Asset, error)
}

// Notifier escalates an instance to a human operator. Delivery is
// fire-and-forget from the engine's perspective.
type Notifier interface {
	NotifyHuman(ctx context.Context, channelID, message, actionURL string) error
}

// ErrTargetNotFound is returned when the directory has no such target.
var ErrTargetNotFound = errors.New("target not found")

// ErrAssetNotFound is returned when an asset reference cannot be resolved.
var ErrAssetNotFound = errors.New("asset not found")

// ValidationError marks a request the collaborator rejected as malformed.
// It is never retried.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// IsValidationError reports whether the error is a non-retryable rejection.
func IsValidationError(err error) bool {
	var validationErr *ValidationError

	return errors.As(err, &validationErr)
}
