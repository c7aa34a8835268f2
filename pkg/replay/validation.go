package replay

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/XiaoConstantine/retrace-go/pkg/core"
	"github.com/XiaoConstantine/retrace-go/pkg/errors"
)

// ResultText renders a tool result in its textual form, which is what
// validation checks evaluate against.
func ResultText(result core.ToolResult) string {
	if result.Data == nil {
		return ""
	}
	if s, ok := result.Data.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", result.Data)
}

// CheckValidation evaluates one expected validation against a tool result.
// Unknown kinds fail closed.
func CheckValidation(check core.ValidationCheck, result core.ToolResult) error {
	text := ResultText(result)

	switch check.Kind {
	case "nonempty":
		if strings.TrimSpace(text) == "" {
			return errors.New(errors.ValidationFailed, "expected non-empty tool result")
		}
	case "equals":
		if text != check.Value {
			return errors.WithFields(
				errors.New(errors.ValidationFailed, "tool result does not equal expected value"),
				errors.Fields{"expected": check.Value})
		}
	case "contains":
		if !strings.Contains(text, check.Value) {
			return errors.WithFields(
				errors.New(errors.ValidationFailed, "tool result does not contain expected value"),
				errors.Fields{"expected": check.Value})
		}
	case "matches":
		re, err := regexp.Compile(check.Value)
		if err != nil {
			return errors.WithFields(
				errors.Wrap(err, errors.ValidationFailed, "invalid validation pattern"),
				errors.Fields{"pattern": check.Value})
		}
		if !re.MatchString(text) {
			return errors.WithFields(
				errors.New(errors.ValidationFailed, "tool result does not match expected pattern"),
				errors.Fields{"pattern": check.Value})
		}
	default:
		return errors.WithFields(
			errors.New(errors.ValidationFailed, "unknown validation kind"),
			errors.Fields{"kind": check.Kind})
	}
	return nil
}
