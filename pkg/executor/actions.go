package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/playbookd/playbookd/pkg/gateway"
	"github.com/playbookd/playbookd/pkg/models"
	"github.com/playbookd/playbookd/pkg/template"
)

// errInvalidPayload marks a step configuration defect. Never retried: no
// amount of retrying fixes a malformed payload.
var errInvalidPayload = errors.New("invalid step payload")

// actionResult is what a handler hands back to the step loop.
type actionResult struct {
	output    map[string]any
	variables map[string]any
	// clearVariables removes consumed keys from the bag, so the next step
	// of the same kind starts from a clean slate.
	clearVariables []string
	// suspendUntil parks the instance on the current step instead of
	// advancing (wait-for-reply).
	suspendUntil *time.Time
	reason       string
}

// dispatch routes the step to its action handler. The switch is exhaustive
// over the action kinds accepted by validation.
func (e *Executor) dispatch(ctx context.Context, instance *models.Instance, target *gateway.TargetInfo, step models.Step) (actionResult, error) {
	switch step.Action {
	case models.ActionSendText:
		return e.runSend(ctx, instance, target, step, gateway.ContentKindText)
	case models.ActionSendImage:
		return e.runSend(ctx, instance, target, step, gateway.ContentKindImage)
	case models.ActionSendFile:
		return e.runSend(ctx, instance, target, step, gateway.ContentKindFile)
	case models.ActionPostBroadcast:
		return e.runBroadcast(ctx, instance, target, step)
	case models.ActionAddTag:
		return e.runAddTag(ctx, instance, step)
	case models.ActionRemoveTag:
		return e.runRemoveTag(ctx, instance, step)
	case models.ActionUpdateLabel:
		return e.runUpdateLabel(ctx, instance, step)
	case models.ActionNotifyHuman:
		return e.runNotifyHuman(ctx, instance, target, step)
	case models.ActionWaitReply:
		return e.runWaitReply(instance, step)
	case models.ActionConditionCheck:
		return e.runConditionCheck(instance, step)
	default:
		return actionResult{}, fmt.Errorf("%w: unknown action kind %q", errInvalidPayload, step.Action)
	}
}

func (e *Executor) substitutionContext(instance *models.Instance, target *gateway.TargetInfo) template.Context {
	return template.Context{
		TargetName:      target.DisplayName,
		TargetID:        instance.TargetID,
		AccountNickname: e.config.AccountNickname,
		Now:             e.clock(),
		Variables:       instance.Variables,
	}
}

func (e *Executor) runSend(ctx context.Context, instance *models.Instance, target *gateway.TargetInfo, step models.Step, kind gateway.ContentKind) (actionResult, error) {
	content, err := e.resolveContent(ctx, step)
	if err != nil {
		return actionResult{}, err
	}

	content = template.Substitute(content, e.substitutionContext(instance, target))

	result, err := e.deps.Gateway.Send(ctx, instance.ChannelID, instance.TargetID, content, kind)
	if err != nil {
		return actionResult{}, fmt.Errorf("gateway send failed: %w", err)
	}

	now := e.clock()

	return actionResult{
		output: map[string]any{
			"provider_message_id": result.ProviderMessageID,
			"kind":                string(kind),
		},
		variables: map[string]any{
			"last_message_sent": content,
			"last_message_time": now.Format(time.RFC3339),
		},
	}, nil
}

func (e *Executor) runBroadcast(ctx context.Context, instance *models.Instance, target *gateway.TargetInfo, step models.Step) (actionResult, error) {
	content := step.PayloadString("content")
	if content == "" {
		return actionResult{}, fmt.Errorf("%w: post_broadcast requires content", errInvalidPayload)
	}

	content = template.Substitute(content, e.substitutionContext(instance, target))

	var imageURLs []string

	if raw, ok := step.Payload["images"].([]any); ok {
		for _, item := range raw {
			if url, ok := item.(string); ok {
				imageURLs = append(imageURLs, url)
			}
		}
	}

	result, err := e.deps.Gateway.PostBroadcast(ctx, instance.ChannelID, content, imageURLs)
	if err != nil {
		return actionResult{}, fmt.Errorf("gateway broadcast failed: %w", err)
	}

	return actionResult{
		output: map[string]any{"provider_message_id": result.ProviderMessageID},
	}, nil
}

func (e *Executor) runAddTag(ctx context.Context, instance *models.Instance, step models.Step) (actionResult, error) {
	tag := step.PayloadString("tag")
	if tag == "" {
		return actionResult{}, fmt.Errorf("%w: add_tag requires tag", errInvalidPayload)
	}

	if err := e.deps.Directory.AddTag(ctx, instance.TargetID, tag); err != nil {
		return actionResult{}, fmt.Errorf("failed to add tag: %w", err)
	}

	return actionResult{output: map[string]any{"tag": tag}}, nil
}

func (e *Executor) runRemoveTag(ctx context.Context, instance *models.Instance, step models.Step) (actionResult, error) {
	tag := step.PayloadString("tag")
	if tag == "" {
		return actionResult{}, fmt.Errorf("%w: remove_tag requires tag", errInvalidPayload)
	}

	if err := e.deps.Directory.RemoveTag(ctx, instance.TargetID, tag); err != nil {
		return actionResult{}, fmt.Errorf("failed to remove tag: %w", err)
	}

	return actionResult{output: map[string]any{"tag": tag}}, nil
}

func (e *Executor) runUpdateLabel(ctx context.Context, instance *models.Instance, step models.Step) (actionResult, error) {
	label := step.PayloadString("label")
	if label == "" {
		return actionResult{}, fmt.Errorf("%w: update_label requires label", errInvalidPayload)
	}

	if err := e.deps.Directory.UpdateLabel(ctx, instance.TargetID, label); err != nil {
		return actionResult{}, fmt.Errorf("failed to update label: %w", err)
	}

	return actionResult{output: map[string]any{"label": label}}, nil
}

// runNotifyHuman is fire-and-forget: a notification failure is logged and
// never fails the instance.
func (e *Executor) runNotifyHuman(ctx context.Context, instance *models.Instance, target *gateway.TargetInfo, step models.Step) (actionResult, error) {
	message := step.PayloadString("message")
	if message == "" {
		message = fmt.Sprintf("Instance %s needs attention", instance.ID)
	}

	message = template.Substitute(message, e.substitutionContext(instance, target))
	actionURL := e.config.InstanceBaseURL + "/instances/" + instance.ID

	delivered := true

	if e.deps.Notifier != nil {
		if err := e.deps.Notifier.NotifyHuman(ctx, instance.ChannelID, message, actionURL); err != nil {
			delivered = false

			e.logger.WarnContext(ctx, "Failed to notify human",
				"instance_id", instance.ID,
				"error", err)
		}
	}

	return actionResult{
		output: map[string]any{
			"message":    message,
			"action_url": actionURL,
			"delivered":  delivered,
		},
	}, nil
}

// runWaitReply parks the instance until a reply arrives or the timeout
// elapses. The first visit sets the waiting flag and suspends; the second
// visit (after resumption) clears the flag and advances. The timeout is the
// success path.
func (e *Executor) runWaitReply(instance *models.Instance, step models.Step) (actionResult, error) {
	if flag, present := instance.Variable(waitingForReplyVar); present {
		replyReceived, _ := flag.(bool)
		// A reply handler flips the flag to false before forcing early
		// resumption, so a false flag means the reply arrived.
		replyReceived = !replyReceived

		// The flag is removed, not set to false: a later wait step must
		// see an absent flag and suspend again.
		return actionResult{
			output:         map[string]any{"reply_received": replyReceived},
			variables:      map[string]any{replyReceivedVar: replyReceived},
			clearVariables: []string{waitingForReplyVar},
		}, nil
	}

	timeout := e.config.ReplyTimeout
	if minutes := step.PayloadInt("timeout_minutes", 0); minutes > 0 {
		timeout = time.Duration(minutes) * time.Minute
	}

	resumeAt := e.clock().Add(timeout)

	return actionResult{
		output:       map[string]any{"resume_at": resumeAt.Format(time.RFC3339)},
		variables:    map[string]any{waitingForReplyVar: true},
		suspendUntil: &resumeAt,
		reason:       "wait_for_reply",
	}, nil
}

// runConditionCheck evaluates the payload's conditions against the variable
// bag and records the boolean outcome. It always advances and never fails.
func (e *Executor) runConditionCheck(instance *models.Instance, step models.Step) (actionResult, error) {
	resultVariable := step.PayloadString("result_variable")
	if resultVariable == "" {
		resultVariable = "condition_result"
	}

	result := true

	if raw, ok := step.Payload["conditions"]; ok {
		var conditions models.ConditionSet

		encoded, err := json.Marshal(raw)
		if err == nil {
			err = json.Unmarshal(encoded, &conditions)
		}

		if err != nil {
			result = false
		} else if evaluated, evalErr := conditions.Evaluate(instance.Variables); evalErr != nil {
			result = false
		} else {
			result = evaluated
		}
	}

	return actionResult{
		output:    map[string]any{"result": result},
		variables: map[string]any{resultVariable: result},
	}, nil
}

// resolveContent picks the step's literal content, a referenced asset or a
// direct URL, in that order.
func (e *Executor) resolveContent(ctx context.Context, step models.Step) (string, error) {
	if content := step.PayloadString("content"); content != "" {
		return content, nil
	}

	if assetID := step.PayloadString("asset_id"); assetID != "" {
		if e.deps.Assets == nil {
			return "", fmt.Errorf("%w: asset reference without asset store", errInvalidPayload)
		}

		asset, err := e.deps.Assets.AssetByID(ctx, assetID)
		if err != nil {
			if errors.Is(err, gateway.ErrAssetNotFound) {
				return "", fmt.Errorf("%w: asset %s not found", errInvalidPayload, assetID)
			}

			return "", fmt.Errorf("failed to resolve asset: %w", err)
		}

		if asset.Content != "" {
			return asset.Content, nil
		}

		return asset.URL, nil
	}

	if url := step.PayloadString("url"); url != "" {
		return url, nil
	}

	return "", fmt.Errorf("%w: step has no content, asset_id or url", errInvalidPayload)
}
