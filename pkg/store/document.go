package store

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/XiaoConstantine/retrace-go/pkg/core"
	"github.com/XiaoConstantine/retrace-go/pkg/errors"
	"gopkg.in/yaml.v3"
)

// The persisted trace format is one document per trace: a yaml metadata
// header delimited by ---, then a sectioned body with one "## step N: tool"
// heading per step and its parameters and validations as a yaml block. The
// store parses it back; a human can audit it without tooling.

type documentHeader struct {
	TraceID      string    `yaml:"trace_id"`
	Signature    string    `yaml:"signature"`
	Goal         string    `yaml:"goal"`
	Status       string    `yaml:"status"`
	Confidence   float64   `yaml:"confidence"`
	UsageCount   int       `yaml:"usage_count"`
	SuccessCount int       `yaml:"success_count"`
	DriftCount   int       `yaml:"drift_count"`
	CreatedAt    time.Time `yaml:"created_at"`
	LastUsedAt   time.Time `yaml:"last_used_at"`
}

type documentStep struct {
	Parameters  map[string]interface{} `yaml:"parameters,omitempty"`
	Validations []core.ValidationCheck `yaml:"validations,omitempty"`
}

var stepHeading = regexp.MustCompile(`(?m)^## step (\d+): (.+)$`)

// EncodeDocument renders a trace record into its persisted document form.
func EncodeDocument(rec *core.TraceRecord) ([]byte, error) {
	header := documentHeader{
		TraceID:      rec.ID,
		Signature:    rec.Signature,
		Goal:         rec.GoalText,
		Status:       string(rec.Status),
		Confidence:   rec.Confidence,
		UsageCount:   rec.UsageCount,
		SuccessCount: rec.SuccessCount,
		DriftCount:   rec.DriftCount,
		CreatedAt:    rec.CreatedAt.UTC(),
		LastUsedAt:   rec.LastUsedAt.UTC(),
	}

	headerData, err := yaml.Marshal(&header)
	if err != nil {
		return nil, errors.Wrap(err, errors.StorageFailed, "failed to encode trace header")
	}

	var b bytes.Buffer
	b.WriteString("---\n")
	b.Write(headerData)
	b.WriteString("---\n")

	for i, step := range rec.Steps {
		fmt.Fprintf(&b, "\n## step %d: %s\n\n", i+1, step.Tool)
		body, err := yaml.Marshal(&documentStep{
			Parameters:  step.Parameters,
			Validations: step.Validations,
		})
		if err != nil {
			return nil, errors.WithFields(
				errors.Wrap(err, errors.StorageFailed, "failed to encode trace step"),
				errors.Fields{"step": i + 1})
		}
		b.Write(body)
	}

	return b.Bytes(), nil
}

// DecodeDocument parses a persisted trace document back into a record.
func DecodeDocument(data []byte) (*core.TraceRecord, error) {
	text := string(data)
	if !strings.HasPrefix(text, "---\n") {
		return nil, errors.New(errors.StorageFailed, "trace document missing header delimiter")
	}
	rest := text[len("---\n"):]
	end := strings.Index(rest, "\n---\n")
	if end < 0 {
		return nil, errors.New(errors.StorageFailed, "trace document header not terminated")
	}

	var header documentHeader
	if err := yaml.Unmarshal([]byte(rest[:end+1]), &header); err != nil {
		return nil, errors.Wrap(err, errors.StorageFailed, "failed to parse trace header")
	}

	body := rest[end+len("\n---\n"):]
	rec := &core.TraceRecord{
		ID:           header.TraceID,
		Signature:    header.Signature,
		GoalText:     header.Goal,
		Status:       core.TraceStatus(header.Status),
		Confidence:   header.Confidence,
		UsageCount:   header.UsageCount,
		SuccessCount: header.SuccessCount,
		DriftCount:   header.DriftCount,
		CreatedAt:    header.CreatedAt,
		LastUsedAt:   header.LastUsedAt,
	}

	headings := stepHeading.FindAllStringSubmatchIndex(body, -1)
	for i, loc := range headings {
		tool := body[loc[4]:loc[5]]
		blockStart := loc[1]
		blockEnd := len(body)
		if i+1 < len(headings) {
			blockEnd = headings[i+1][0]
		}

		var step documentStep
		if err := yaml.Unmarshal([]byte(body[blockStart:blockEnd]), &step); err != nil {
			return nil, errors.WithFields(
				errors.Wrap(err, errors.StorageFailed, "failed to parse trace step"),
				errors.Fields{"step": i + 1, "tool": tool})
		}
		rec.Steps = append(rec.Steps, core.TraceStep{
			Tool:        tool,
			Parameters:  step.Parameters,
			Validations: step.Validations,
		})
	}

	return rec, nil
}
