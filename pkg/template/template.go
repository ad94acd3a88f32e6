// Package template implements {variable} substitution for step payloads.
package template

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

var tokenPattern = regexp.MustCompile(`\{([a-zA-Z_][a-zA-Z0-9_]*)\}`)

// Context supplies the built-in substitution values. Instance variables
// overlay the built-ins; an unmatched token is left verbatim, never an error.
type Context struct {
	TargetName      string
	TargetID        string
	AccountNickname string
	Now             time.Time
	Variables       map[string]any
}

// Builtins returns the base substitution table for the context.
func (c Context) Builtins() map[string]any {
	now := c.Now
	if now.IsZero() {
		now = time.Now()
	}

	return map[string]any{
		"contact_name":     c.TargetName,
		"contact_id":       c.TargetID,
		"account_nickname": c.AccountNickname,
		"current_time":     now.Format("15:04"),
		"current_date":     now.Format("2006-01-02"),
	}
}

// Substitute replaces every {token} in the input with its resolved value.
func Substitute(input string, ctx Context) string {
	values := ctx.Builtins()

	for key, value := range ctx.Variables {
		values[key] = value
	}

	return tokenPattern.ReplaceAllStringFunc(input, func(match string) string {
		name := match[1 : len(match)-1]

		value, ok := values[name]
		if !ok {
			return match
		}

		return stringify(value)
	})
}

func stringify(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}
