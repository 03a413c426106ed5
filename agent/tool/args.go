package tool

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	contractx "github.com/voxkit/callflow/agent/contract"
)

// Argument coercion for LLM-produced tool calls. JSON numbers arrive as
// float64 and models occasionally quote them, so the integer and boolean
// readers accept both shapes.

func String(args contractx.ToolArgs, key string) (string, error) {
	raw, ok := args[key]
	if !ok {
		return "", fmt.Errorf("%w: %s is required", contractx.ErrValidation, key)
	}
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("%w: %s must be a string", contractx.ErrValidation, key)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("%w: %s is empty", contractx.ErrValidation, key)
	}
	return s, nil
}

func OptionalString(args contractx.ToolArgs, key string) string {
	if raw, ok := args[key]; ok {
		if s, ok := raw.(string); ok {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

func Int(args contractx.ToolArgs, key string) (int, error) {
	raw, ok := args[key]
	if !ok {
		return 0, fmt.Errorf("%w: %s is required", contractx.ErrValidation, key)
	}
	switch v := raw.(type) {
	case float64:
		if v != math.Trunc(v) {
			return 0, fmt.Errorf("%w: %s must be a whole number", contractx.ErrValidation, key)
		}
		return int(v), nil
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, fmt.Errorf("%w: %s must be an integer", contractx.ErrValidation, key)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("%w: %s must be an integer", contractx.ErrValidation, key)
	}
}

func OptionalInt(args contractx.ToolArgs, key string, fallback int) (int, error) {
	if _, ok := args[key]; !ok {
		return fallback, nil
	}
	return Int(args, key)
}

func Bool(args contractx.ToolArgs, key string) (bool, error) {
	raw, ok := args[key]
	if !ok {
		return false, fmt.Errorf("%w: %s is required", contractx.ErrValidation, key)
	}
	switch v := raw.(type) {
	case bool:
		return v, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return false, fmt.Errorf("%w: %s must be a boolean", contractx.ErrValidation, key)
		}
		return b, nil
	default:
		return false, fmt.Errorf("%w: %s must be a boolean", contractx.ErrValidation, key)
	}
}
