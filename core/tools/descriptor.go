// Package tools defines the fixed catalog of analysis tools the model may
// invoke, and the registry that resolves and validates invocations against
// their schemas. The registry is populated once at startup and read-only
// afterwards, so any number of concurrent loops can consult it without
// synchronization.
package tools

import (
	"time"

	"github.com/adalundhe/ascent/core/project"
)

// ParamType is the JSON-schema style type of a tool parameter.
type ParamType string

const (
	TypeString  ParamType = "string"
	TypeInteger ParamType = "integer"
	TypeNumber  ParamType = "number"
	TypeBoolean ParamType = "boolean"
	TypeArray   ParamType = "array"
)

// ParamSpec declares one named parameter of a tool's input schema.
type ParamSpec struct {
	Name        string    `json:"name"`
	Type        ParamType `json:"type"`
	Description string    `json:"description,omitempty"`
	Required    bool      `json:"required,omitempty"`

	// Enum restricts string parameters to a fixed value set.
	Enum []string `json:"enum,omitempty"`

	// Minimum/Maximum bound numeric parameters when non-nil.
	Minimum *float64 `json:"minimum,omitempty"`
	Maximum *float64 `json:"maximum,omitempty"`

	// Items is the element type for array parameters.
	Items ParamType `json:"items,omitempty"`
}

// SideEffects declares what a tool touches, so the loop can stage artifacts,
// gate network access, and advance the pipeline.
type SideEffects struct {
	// ReadsArtifacts names artifacts staged into the sandbox before the run.
	ReadsArtifacts []string `json:"reads_artifacts,omitempty"`

	// WritesArtifacts names artifacts collected into the store afterwards.
	// Exactly one new version is created per declared write on success.
	WritesArtifacts []string `json:"writes_artifacts,omitempty"`

	// RequiresNetwork opts the sandboxed process into network access.
	RequiresNetwork bool `json:"requires_network,omitempty"`

	// RequiresModel indicates the tool needs a trained model artifact.
	RequiresModel bool `json:"requires_model,omitempty"`
}

// Impl is the handle to a tool's implementation: the script the sandbox
// runtime executes, plus the runtime packages it needs.
type Impl struct {
	// Script is the entry module run by the sandbox runtime.
	Script string `json:"script"`

	// Packages lists runtime dependencies the single install-and-retry
	// remediation may install when missing.
	Packages []string `json:"packages,omitempty"`

	// Pure marks tools whose output depends only on inputs, making their
	// results cacheable.
	Pure bool `json:"pure,omitempty"`

	// Timeout overrides the sandbox default for long-running tools.
	Timeout time.Duration `json:"timeout,omitempty"`
}

// Descriptor is an immutable description of one registered tool.
type Descriptor struct {
	// Name is the unique registry key, also shown to the model.
	Name string `json:"name"`

	// Description is the natural-language contract shown to the model.
	Description string `json:"description"`

	// Params is the input schema.
	Params []ParamSpec `json:"params"`

	// Effects declares reads, writes, and capabilities.
	Effects SideEffects `json:"effects"`

	// Stage is the pipeline stage this tool is associated with. Dispatching
	// the tool advances a project at an earlier stage to this one.
	Stage project.Stage `json:"-"`

	// Impl is the implementation handle.
	Impl Impl `json:"-"`
}

// ParametersSchema renders the input schema as a JSON-schema object in the
// shape provider backends expect for callable-function metadata.
func (d Descriptor) ParametersSchema() map[string]any {
	properties := make(map[string]any, len(d.Params))
	var required []string

	for _, param := range d.Params {
		prop := map[string]any{"type": string(param.Type)}
		if param.Description != "" {
			prop["description"] = param.Description
		}
		if len(param.Enum) > 0 {
			prop["enum"] = param.Enum
		}
		if param.Minimum != nil {
			prop["minimum"] = *param.Minimum
		}
		if param.Maximum != nil {
			prop["maximum"] = *param.Maximum
		}
		if param.Type == TypeArray && param.Items != "" {
			prop["items"] = map[string]any{"type": string(param.Items)}
		}
		properties[param.Name] = prop

		if param.Required {
			required = append(required, param.Name)
		}
	}

	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// =============================================================================
// Invocations
// =============================================================================

// InvocationStatus tracks an invocation through its lifecycle.
type InvocationStatus string

const (
	StatusPending   InvocationStatus = "pending"
	StatusRunning   InvocationStatus = "running"
	StatusSucceeded InvocationStatus = "succeeded"
	StatusFailed    InvocationStatus = "failed"
)

// Invocation is one concrete request to run a tool: validated arguments bound
// to a descriptor, traced back to the turn that requested it.
type Invocation struct {
	// ID uniquely identifies this invocation.
	ID string `json:"id"`

	// CallID is the model-assigned tool-call id, echoed back in results.
	CallID string `json:"call_id"`

	// Tool is the descriptor name.
	Tool string `json:"tool"`

	// Arguments are the validated, coerced argument values.
	Arguments map[string]any `json:"arguments"`

	// ProjectID and TurnSeq identify the originating turn.
	ProjectID string `json:"project_id"`
	TurnSeq   int    `json:"turn_seq"`

	// Status is mutated by the sandbox as the invocation progresses.
	Status InvocationStatus `json:"status"`
}
