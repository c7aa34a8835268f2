package config

import (
	"fmt"
	"strings"

	"github.com/XiaoConstantine/retrace-go/pkg/errors"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Validate checks struct tags plus the cross-field constraints the tags
// cannot express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok {
			var messages []string
			for _, fe := range verrs {
				messages = append(messages, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return errors.WithFields(
				errors.New(errors.InvalidInput, "config validation failed"),
				errors.Fields{"violations": strings.Join(messages, "; ")})
		}
		return errors.Wrap(err, errors.InvalidInput, "config validation failed")
	}

	// Cross-field constraints.
	if c.Confidence.Alpha <= c.Confidence.Beta {
		return errors.WithFields(
			errors.New(errors.InvalidInput, "confidence alpha must exceed beta"),
			errors.Fields{"alpha": c.Confidence.Alpha, "beta": c.Confidence.Beta})
	}
	if c.Dispatch.TauFollow <= c.Dispatch.TauMix {
		return errors.WithFields(
			errors.New(errors.InvalidInput, "tau_follow must exceed tau_mix"),
			errors.Fields{"tau_follow": c.Dispatch.TauFollow, "tau_mix": c.Dispatch.TauMix})
	}
	if c.Scorer.DraftCap >= c.Dispatch.TauFollow {
		return errors.WithFields(
			errors.New(errors.InvalidInput, "scorer draft_cap must stay below tau_follow"),
			errors.Fields{"draft_cap": c.Scorer.DraftCap, "tau_follow": c.Dispatch.TauFollow})
	}
	if c.Store.Type == "sqlite" && c.Store.Path == "" {
		return errors.New(errors.InvalidInput, "sqlite store requires a path")
	}
	if c.Outcome.Sink == "parquet" && c.Outcome.ParquetPath == "" {
		return errors.New(errors.InvalidInput, "parquet sink requires a parquet_path")
	}

	return nil
}
