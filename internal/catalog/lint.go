package catalog

import (
	"encoding/json"
	"fmt"

	"github.com/cexll/agentsdk-go/pkg/tool"
)

var propertyTypes = map[string]bool{
	"string":  true,
	"number":  true,
	"integer": true,
	"boolean": true,
	"array":   true,
	"object":  true,
}

// Issue is one problem found in a tool definition.
type Issue struct {
	Index   int
	Name    string
	Message string
}

func (i Issue) String() string {
	if i.Name != "" {
		return fmt.Sprintf("tools[%d] (%s): %s", i.Index, i.Name, i.Message)
	}
	return fmt.Sprintf("tools[%d]: %s", i.Index, i.Message)
}

// Lint checks tool definitions against the function-calling schema.
// Tools are still served verbatim whatever Lint reports.
func Lint(tools []json.RawMessage) []Issue {
	var issues []Issue
	seen := make(map[string]int)

	for i, raw := range tools {
		var schema tool.ToolSchema
		if err := json.Unmarshal(raw, &schema); err != nil {
			issues = append(issues, Issue{Index: i, Message: fmt.Sprintf("not a tool object: %v", err)})
			continue
		}
		add := func(name, format string, args ...any) {
			issues = append(issues, Issue{Index: i, Name: name, Message: fmt.Sprintf(format, args...)})
		}

		if schema.Type != "function" {
			add("", "type is %q, want \"function\"", schema.Type)
		}
		fn := schema.Function
		if fn == nil {
			add("", "missing function")
			continue
		}
		if fn.Name == "" {
			add("", "function name is empty")
		} else if first, dup := seen[fn.Name]; dup {
			add(fn.Name, "duplicate name (first defined at tools[%d])", first)
		} else {
			seen[fn.Name] = i
		}
		if fn.Description == "" {
			add(fn.Name, "function description is empty")
		}
		lintParameters(fn.Name, fn.Parameters, add)
	}
	return issues
}

func lintParameters(name string, params *tool.ParameterSchema, add func(string, string, ...any)) {
	if params == nil {
		return
	}
	if params.Type != "object" {
		add(name, "parameters type is %q, want \"object\"", params.Type)
	}
	for prop, p := range params.Properties {
		if p == nil {
			add(name, "property %q is null", prop)
			continue
		}
		if !propertyTypes[p.Type] {
			add(name, "property %q has unsupported type %q", prop, p.Type)
		}
		if p.Type == "array" && p.Items == nil {
			add(name, "array property %q has no items", prop)
		}
	}
	for _, req := range params.Required {
		if _, ok := params.Properties[req]; !ok {
			add(name, "required parameter %q is not declared", req)
		}
	}
}
