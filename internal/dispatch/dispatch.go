// Package dispatch implements §4.7's MCP action dispatcher: the memory,
// chat, todo, pattern, graph and cache tools, each taking an action
// field and routing into the coordinator or retrieval pipeline.
//
// Dispatch does not switch on the raw action string directly. Each
// tool first parses its params into one of a small, closed set of typed
// operation variants (one per action), validating required fields as
// part of the parse; only the resulting variant is switched on. An
// unrecognized action or a variant that fails validation never reaches
// the coordinator — it is turned into a ValidationError envelope at the
// parse boundary.
package dispatch

import (
	ltmcerrors "ltmc/internal/errors"
)

// Envelope is the tool response shape every handler returns, per §6:
// {success: true, result: ...} or {success: false, error: {...}}.
type Envelope struct {
	Success bool          `json:"success"`
	Result  interface{}   `json:"result,omitempty"`
	Error   *ErrorPayload `json:"error,omitempty"`
}

// ErrorPayload is the structured error shape clients key their retry
// logic off of.
type ErrorPayload struct {
	Kind    string      `json:"kind"`
	Message string      `json:"message"`
	Backend string      `json:"backend,omitempty"`
	Details interface{} `json:"details,omitempty"`
}

func ok(result interface{}) *Envelope {
	return &Envelope{Success: true, Result: result}
}

func fail(err error) *Envelope {
	if e, isLTMC := ltmcerrors.As(err); isLTMC {
		return &Envelope{Success: false, Error: &ErrorPayload{
			Kind:    string(e.Kind),
			Message: e.Message,
			Backend: string(e.Backend),
			Details: e.Details,
		}}
	}
	return &Envelope{Success: false, Error: &ErrorPayload{
		Kind:    string(ltmcerrors.KindInternal),
		Message: err.Error(),
	}}
}

// actionOf extracts and validates the required "action" field shared by
// every tool in this dispatcher.
func actionOf(params map[string]interface{}) (string, error) {
	action, _ := params["action"].(string)
	if action == "" {
		return "", ltmcerrors.Validation("action field is required")
	}
	return action, nil
}

func strVal(params map[string]interface{}, key string) string {
	v, _ := params[key].(string)
	return v
}

func requiredStr(params map[string]interface{}, key string) (string, error) {
	v := strVal(params, key)
	if v == "" {
		return "", ltmcerrors.Validation("%s is required", key)
	}
	return v, nil
}

func intVal(params map[string]interface{}, key string, def int) int {
	if v, ok := params[key].(float64); ok {
		return int(v)
	}
	return def
}

func int64Val(params map[string]interface{}, key string) (int64, bool) {
	v, ok := params[key].(float64)
	if !ok {
		return 0, false
	}
	return int64(v), true
}

func requiredInt64(params map[string]interface{}, key string) (int64, error) {
	v, ok := int64Val(params, key)
	if !ok {
		return 0, ltmcerrors.Validation("%s is required", key)
	}
	return v, nil
}

func floatVal(params map[string]interface{}, key string, def float64) float64 {
	if v, ok := params[key].(float64); ok {
		return v
	}
	return def
}

func boolVal(params map[string]interface{}, key string, def bool) bool {
	if v, ok := params[key].(bool); ok {
		return v
	}
	return def
}

func mapVal(params map[string]interface{}, key string) map[string]interface{} {
	v, _ := params[key].(map[string]interface{})
	return v
}

func stringSlice(params map[string]interface{}, key string) []string {
	raw, ok := params[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func int64Slice(params map[string]interface{}, key string) ([]int64, error) {
	raw, ok := params[key].([]interface{})
	if !ok {
		return nil, ltmcerrors.Validation("%s must be an array of resource ids", key)
	}
	out := make([]int64, 0, len(raw))
	for _, v := range raw {
		n, ok := v.(float64)
		if !ok {
			return nil, ltmcerrors.Validation("%s must contain only numeric resource ids", key)
		}
		out = append(out, int64(n))
	}
	return out, nil
}
