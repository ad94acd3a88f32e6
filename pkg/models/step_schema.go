package models

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// Per-action-kind JSON schemas for step payloads. Validation runs at
// activation time so configuration defects surface before any instance
// exists; the executor treats schema violations as non-retryable.

var stepSchemas = map[ActionKind]map[string]any{
	ActionSendText: {
		"type": "object",
		"properties": map[string]any{
			"content":  map[string]any{"type": "string"},
			"asset_id": map[string]any{"type": "string"},
		},
		"anyOf": []any{
			map[string]any{"required": []any{"content"}},
			map[string]any{"required": []any{"asset_id"}},
		},
	},
	ActionSendImage: {
		"type": "object",
		"properties": map[string]any{
			"url":      map[string]any{"type": "string"},
			"asset_id": map[string]any{"type": "string"},
		},
		"anyOf": []any{
			map[string]any{"required": []any{"url"}},
			map[string]any{"required": []any{"asset_id"}},
		},
	},
	ActionSendFile: {
		"type": "object",
		"properties": map[string]any{
			"url":      map[string]any{"type": "string"},
			"asset_id": map[string]any{"type": "string"},
		},
		"anyOf": []any{
			map[string]any{"required": []any{"url"}},
			map[string]any{"required": []any{"asset_id"}},
		},
	},
	ActionPostBroadcast: {
		"type":     "object",
		"required": []any{"content"},
		"properties": map[string]any{
			"content": map[string]any{"type": "string"},
			"images": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string"},
			},
		},
	},
	ActionAddTag: {
		"type":     "object",
		"required": []any{"tag"},
		"properties": map[string]any{
			"tag": map[string]any{"type": "string", "minLength": 1},
		},
	},
	ActionRemoveTag: {
		"type":     "object",
		"required": []any{"tag"},
		"properties": map[string]any{
			"tag": map[string]any{"type": "string", "minLength": 1},
		},
	},
	ActionUpdateLabel: {
		"type":     "object",
		"required": []any{"label"},
		"properties": map[string]any{
			"label": map[string]any{"type": "string", "minLength": 1},
		},
	},
	ActionNotifyHuman: {
		"type": "object",
		"properties": map[string]any{
			"message": map[string]any{"type": "string"},
		},
	},
	ActionWaitReply: {
		"type": "object",
		"properties": map[string]any{
			"timeout_minutes": map[string]any{"type": "integer", "minimum": 1},
		},
	},
	ActionConditionCheck: {
		"type": "object",
		"properties": map[string]any{
			"result_variable": map[string]any{"type": "string"},
		},
	},
}

var (
	compiledSchemas     map[ActionKind]*gojsonschema.Schema
	compileSchemasOnce  sync.Once
	compileSchemasError error
)

func compileSchemas() {
	compiledSchemas = make(map[ActionKind]*gojsonschema.Schema, len(stepSchemas))

	for kind, raw := range stepSchemas {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(raw))
		if err != nil {
			compileSchemasError = fmt.Errorf("compile schema for %s: %w", kind, err)

			return
		}

		compiledSchemas[kind] = schema
	}
}

// ValidateStepPayload checks a step payload against the schema for its action
// kind.
func ValidateStepPayload(kind ActionKind, payload map[string]any) error {
	compileSchemasOnce.Do(compileSchemas)

	if compileSchemasError != nil {
		return compileSchemasError
	}

	schema, ok := compiledSchemas[kind]
	if !ok {
		return fmt.Errorf("no payload schema for action kind %q", kind)
	}

	if payload == nil {
		payload = map[string]any{}
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(payload))
	if err != nil {
		return fmt.Errorf("validate payload: %w", err)
	}

	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			details = append(details, desc.String())
		}

		return errors.New("invalid payload: " + strings.Join(details, "; "))
	}

	return nil
}
