package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ValidationConfig holds configurable limits for request validation.
type ValidationConfig struct {
	MaxInputItems  int
	MaxContentSize int
	MaxTools       int
	MaxMetadata    int
}

// DefaultValidationConfig returns a ValidationConfig with sensible defaults.
func DefaultValidationConfig() ValidationConfig {
	return ValidationConfig{
		MaxInputItems:  1000,
		MaxContentSize: 10 * 1024 * 1024, // 10MB
		MaxTools:       128,
		MaxMetadata:    16,
	}
}

// DecodeRequest reads a CreateResponseRequest from r. Malformed JSON is
// reported as an invalid_request_error naming the offending field when the
// decoder can tell.
func DecodeRequest(r io.Reader) (*CreateResponseRequest, *APIError) {
	var req CreateResponseRequest
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field != "" {
			return nil, NewInvalidRequestError(typeErr.Field,
				fmt.Sprintf("%s must be of type %s", typeErr.Field, typeErr.Type))
		}
		return nil, NewInvalidRequestError("", "invalid JSON: "+err.Error())
	}
	return &req, nil
}

// ValidateRequest checks a CreateResponseRequest for validity. It returns an
// *APIError describing the first validation failure, or nil if the request
// is valid. It has no side effects.
func ValidateRequest(req *CreateResponseRequest, cfg ValidationConfig) *APIError {
	if strings.TrimSpace(req.Model) == "" {
		return NewInvalidRequestError("model", "model is required")
	}

	if req.Input == nil {
		return NewInvalidRequestError("input", "input is required")
	}
	if len(req.Input) == 0 && req.Instructions == "" && req.PreviousResponseID == "" {
		return NewInvalidRequestError("input", "input must contain at least one item")
	}
	if cfg.MaxInputItems > 0 && len(req.Input) > cfg.MaxInputItems {
		return NewInvalidRequestError("input",
			fmt.Sprintf("input exceeds maximum of %d items", cfg.MaxInputItems))
	}
	size := 0
	for i := range req.Input {
		if err := ValidateInputItem(&req.Input[i], fmt.Sprintf("input[%d]", i)); err != nil {
			return err
		}
		size += itemSize(&req.Input[i])
	}
	if cfg.MaxContentSize > 0 && size > cfg.MaxContentSize {
		return NewInvalidRequestError("input",
			fmt.Sprintf("input content exceeds maximum of %d bytes", cfg.MaxContentSize))
	}

	if cfg.MaxTools > 0 && len(req.Tools) > cfg.MaxTools {
		return NewInvalidRequestError("tools",
			fmt.Sprintf("tools exceeds maximum of %d", cfg.MaxTools))
	}
	names := make(map[string]bool, len(req.Tools))
	searchAt := -1
	for i, tool := range req.Tools {
		param := fmt.Sprintf("tools[%d]", i)
		switch tool.Type {
		case ToolTypeFunction:
		case ToolTypeWebSearch:
			if searchAt >= 0 {
				return NewInvalidRequestError(param+".type", "web_search may be listed only once")
			}
			searchAt = i
			continue
		default:
			return NewInvalidRequestError(param+".type",
				fmt.Sprintf("unsupported tool type %q: only function and web_search tools are supported", tool.Type))
		}
		if strings.TrimSpace(tool.Name) == "" {
			return NewInvalidRequestError(param+".name", "tool name is required")
		}
		if names[tool.Name] {
			return NewInvalidRequestError(param+".name",
				fmt.Sprintf("duplicate tool name %q", tool.Name))
		}
		names[tool.Name] = true
		if !isJSONObject(tool.Parameters) {
			return NewInvalidRequestError(param+".parameters", "parameters must be a JSON schema object")
		}
	}
	if searchAt >= 0 && names[WebSearchToolName] {
		return NewInvalidRequestError(fmt.Sprintf("tools[%d].type", searchAt),
			"web_search cannot be combined with a function tool of the same name")
	}

	if tc := req.ToolChoice; tc != nil {
		switch {
		case tc.Function != nil:
			if !names[tc.Function.Name] {
				return NewInvalidRequestError("tool_choice",
					fmt.Sprintf("tool_choice references unknown tool %q", tc.Function.Name))
			}
		case tc.String == "required" && len(req.Tools) == 0:
			return NewInvalidRequestError("tool_choice", "tool_choice is required but no tools are defined")
		case tc.String != "auto" && tc.String != "none" && tc.String != "required":
			return NewInvalidRequestError("tool_choice",
				fmt.Sprintf("invalid tool_choice %q", tc.String))
		}
	}

	if req.MaxOutputTokens != nil && *req.MaxOutputTokens <= 0 {
		return NewInvalidRequestError("max_output_tokens", "max_output_tokens must be positive")
	}
	if req.Temperature != nil && (*req.Temperature < 0.0 || *req.Temperature > 2.0) {
		return NewInvalidRequestError("temperature", "temperature must be between 0.0 and 2.0")
	}
	if req.TopP != nil && (*req.TopP < 0.0 || *req.TopP > 1.0) {
		return NewInvalidRequestError("top_p", "top_p must be between 0.0 and 1.0")
	}
	if r := req.Reasoning; r != nil && r.Effort != nil {
		switch *r.Effort {
		case "low", "medium", "high":
		default:
			return NewInvalidRequestError("reasoning.effort", "reasoning.effort must be low, medium or high")
		}
	}
	if cfg.MaxMetadata > 0 && len(req.Metadata) > cfg.MaxMetadata {
		return NewInvalidRequestError("metadata",
			fmt.Sprintf("metadata exceeds maximum of %d keys", cfg.MaxMetadata))
	}

	if req.PreviousResponseID != "" {
		if !ValidateResponseID(req.PreviousResponseID) {
			return NewInvalidRequestError("previous_response_id", "invalid response id format")
		}
		if !ResolveStore(req) {
			return NewInvalidRequestError("previous_response_id",
				"previous_response_id cannot be used with store=false")
		}
	}

	return nil
}

// ValidateInputItem checks the structure of one input item. param is the
// field path used in the error.
func ValidateInputItem(item *Item, param string) *APIError {
	switch item.Type {
	case ItemTypeMessage:
		if item.Message == nil {
			return NewInvalidRequestError(param, "message item has no content")
		}
		switch item.Message.Role {
		case RoleUser, RoleAssistant, RoleSystem, RoleDeveloper:
		case "":
			return NewInvalidRequestError(param+".role", "role is required")
		default:
			return NewInvalidRequestError(param+".role",
				fmt.Sprintf("unsupported role %q", item.Message.Role))
		}
		for j, part := range item.Message.Content {
			switch part.Type {
			case "input_text", "output_text", "text":
			default:
				return NewInvalidRequestError(fmt.Sprintf("%s.content[%d].type", param, j),
					fmt.Sprintf("unsupported content type %q", part.Type))
			}
		}
	case ItemTypeFunctionCall:
		fc := item.FunctionCall
		if fc == nil || fc.CallID == "" {
			return NewInvalidRequestError(param+".call_id", "call_id is required")
		}
		if fc.Name == "" {
			return NewInvalidRequestError(param+".name", "name is required")
		}
	case ItemTypeFunctionCallOutput:
		if item.FunctionCallOutput == nil || item.FunctionCallOutput.CallID == "" {
			return NewInvalidRequestError(param+".call_id", "call_id is required")
		}
	case ItemTypeReasoning, ItemTypeWebSearchCall:
	case "":
		return NewInvalidRequestError(param+".type", "item type is required")
	default:
		return NewInvalidRequestError(param+".type",
			fmt.Sprintf("unsupported item type %q", item.Type))
	}
	return nil
}

// ResolveStore returns the effective store value, defaulting to true when nil.
func ResolveStore(req *CreateResponseRequest) bool {
	if req.Store != nil {
		return *req.Store
	}
	return true
}

// DebugEnabled reports whether metadata.__debug is set to a truthy value.
func DebugEnabled(metadata map[string]any) bool {
	switch v := metadata["__debug"].(type) {
	case bool:
		return v
	case string:
		return v != "" && v != "false" && v != "0"
	case float64:
		return v != 0
	}
	return false
}

func isJSONObject(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return false
	}
	return json.Valid(raw)
}

func itemSize(item *Item) int {
	switch {
	case item.Message != nil:
		return len(item.Message.Text())
	case item.FunctionCall != nil:
		return len(item.FunctionCall.Arguments)
	case item.FunctionCallOutput != nil:
		return len(item.FunctionCallOutput.Output)
	case item.Reasoning != nil:
		return len(item.Reasoning.Text)
	}
	return 0
}
