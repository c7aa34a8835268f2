package tools

import (
	"sort"
	"sync"

	"github.com/XiaoConstantine/retrace-go/pkg/core"
	"github.com/XiaoConstantine/retrace-go/pkg/errors"
)

// ToolType identifies how a tool is backed.
type ToolType string

const (
	ToolTypeFunc ToolType = "func"
	ToolTypeMCP  ToolType = "mcp"
)

// matchThreshold is the minimum intent-match score before a tool is
// considered relevant. See calculateToolMatchScore for the scale.
const matchThreshold = 0.3

// InMemoryToolRegistry is the standard map-backed ToolRegistry. Replay and
// learner executions resolve every step's tool through it.
type InMemoryToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]core.Tool
}

// NewInMemoryToolRegistry creates a new, empty InMemoryToolRegistry.
func NewInMemoryToolRegistry() *InMemoryToolRegistry {
	return &InMemoryToolRegistry{
		tools: make(map[string]core.Tool),
	}
}

// Register adds a tool under its name. Registering a second tool under an
// existing name fails: stored traces reference tools by name, so a name can
// never be rebound silently.
func (r *InMemoryToolRegistry) Register(tool core.Tool) error {
	if tool == nil {
		return errors.New(errors.InvalidInput, "cannot register a nil tool")
	}
	name := tool.Name()

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[name]; exists {
		return errors.WithFields(errors.New(errors.InvalidInput, "tool already registered"), errors.Fields{
			"tool_name": name,
		})
	}
	r.tools[name] = tool
	return nil
}

// Get retrieves a tool by its name.
func (r *InMemoryToolRegistry) Get(name string) (core.Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tool, exists := r.tools[name]
	if !exists {
		return nil, errors.WithFields(errors.New(errors.ResourceNotFound, "tool not found"), errors.Fields{
			"tool_name": name,
		})
	}
	return tool, nil
}

// List returns all registered tools in no particular order.
func (r *InMemoryToolRegistry) List() []core.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := make([]core.Tool, 0, len(r.tools))
	for _, tool := range r.tools {
		list = append(list, tool)
	}
	return list
}

// Match returns the tools relevant to an intent, strongest match first.
// Relevance is scored from the tool's name and capability tags, so a tool
// described as "fetch the forecast" matches "fetch tomorrow's weather" even
// when the intent never mentions the tool by name.
func (r *InMemoryToolRegistry) Match(intent string) []core.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	type scored struct {
		tool  core.Tool
		score float64
	}
	var matches []scored
	for _, tool := range r.tools {
		if score := calculateToolMatchScore(tool.Metadata(), intent); score >= matchThreshold {
			matches = append(matches, scored{tool: tool, score: score})
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].score != matches[j].score {
			return matches[i].score > matches[j].score
		}
		return matches[i].tool.Name() < matches[j].tool.Name()
	})

	out := make([]core.Tool, 0, len(matches))
	for _, m := range matches {
		out = append(out, m.tool)
	}
	return out
}

var _ core.ToolRegistry = (*InMemoryToolRegistry)(nil)
