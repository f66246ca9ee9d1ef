package platform

import (
	"encoding/json"
	"runtime"
	"time"
)

const (
	capabilitiesDescription = "Unified AI platform capabilities combining multi-modal, memory, tool and planning systems"
	toolsDescription        = "Available tools from the unified AI platform"
)

// standardFeatures always appear in the health report, false when the
// configuration does not mention them.
var standardFeatures = []string{"multi_modal", "memory_system", "tool_system", "planning_system", "security"}

// MemoryUsage is read from the Go runtime. Sys is all memory obtained from
// the OS (heap, stacks and runtime structures), not the resident set size.
type MemoryUsage struct {
	HeapUsed   uint64 `json:"heapUsed"`
	HeapTotal  uint64 `json:"heapTotal"`
	Sys        uint64 `json:"sys"`
	StackInUse uint64 `json:"stackInUse"`
}

type Health struct {
	Status      string          `json:"status"`
	Platform    string          `json:"platform"`
	Version     string          `json:"version"`
	Timestamp   string          `json:"timestamp"`
	Uptime      float64         `json:"uptime"`
	Memory      MemoryUsage     `json:"memory"`
	Initialized bool            `json:"initialized"`
	Features    map[string]bool `json:"features"`
}

type ToolList struct {
	Tools       []json.RawMessage `json:"tools"`
	Count       int               `json:"count"`
	Description string            `json:"description"`
}

type Demo struct {
	Message         string   `json:"message"`
	Features        []string `json:"features"`
	SystemsCombined []string `json:"systems_combined"`
	Status          string   `json:"status"`
}

// Capabilities is every top-level section of the system configuration,
// passed through unchanged, plus a description. platform,
// core_capabilities and performance are always present (null when the
// configuration lacks them).
type Capabilities map[string]json.RawMessage

func (p *Platform) GetCapabilities() Capabilities {
	sys := p.catalog.System()
	out := make(Capabilities, len(sys.Sections)+4)
	for name, raw := range sys.Sections {
		out[name] = raw
	}
	for _, name := range []string{"platform", "core_capabilities", "performance"} {
		out[name] = sys.Section(name)
	}
	desc, _ := json.Marshal(capabilitiesDescription)
	out["description"] = desc
	return out
}

func (p *Platform) GetTools() *ToolList {
	tools := p.catalog.Tools()
	if tools == nil {
		tools = []json.RawMessage{}
	}
	return &ToolList{Tools: tools, Count: len(tools), Description: toolsDescription}
}

func (p *Platform) GetHealth() *Health {
	sys := p.catalog.System()

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	features := make(map[string]bool, len(standardFeatures)+len(sys.Capabilities))
	for _, name := range standardFeatures {
		features[name] = false
	}
	for name, enabled := range sys.Capabilities {
		features[name] = enabled
	}

	usage := MemoryUsage{
		HeapUsed:   ms.HeapAlloc,
		HeapTotal:  ms.HeapSys,
		Sys:        ms.Sys,
		StackInUse: ms.StackInuse,
	}

	now := p.now()
	return &Health{
		Status:      "healthy",
		Platform:    sys.Platform.Name,
		Version:     sys.Platform.Version,
		Timestamp:   FormatTime(now),
		Uptime:      now.Sub(p.started).Round(time.Millisecond).Seconds(),
		Memory:      usage,
		Initialized: p.Initialized(),
		Features:    features,
	}
}

func (p *Platform) GetDemo() *Demo {
	return &Demo{
		Message: "Unified AI Platform demo: memory, tools and planning behind one API",
		Features: []string{
			"Multi-modal input handling",
			"Key-value memory for context",
			"Tool catalog for function calling",
			"Task planning with ordered steps",
			"Health and capability introspection",
		},
		SystemsCombined: []string{
			"memory_system",
			"tool_system",
			"planning_system",
			"multi_modal",
			"security",
		},
		Status: "ready",
	}
}
