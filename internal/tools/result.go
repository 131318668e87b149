package tools

import "encoding/json"

// MaxResultChars caps what a single tool result may feed back to the
// model; larger output is truncated with a marker.
const MaxResultChars = 20000

// Result is the unified return type from tool execution.
type Result struct {
	ForLLM  string `json:"for_llm"`  // content sent to the model
	IsError bool   `json:"is_error"` // marks error
	Err     error  `json:"-"`        // internal error (not serialized)
}

func NewResult(forLLM string) *Result {
	return &Result{ForLLM: forLLM}
}

func ErrorResult(message string) *Result {
	return &Result{ForLLM: message, IsError: true}
}

func (r *Result) WithError(err error) *Result {
	r.Err = err
	return r
}

// FailedPayload renders the wire shape tool failures take in the event
// log: {"error": ..., "status": "failed"}.
func FailedPayload(message string) map[string]interface{} {
	return map[string]interface{}{"error": message, "status": "failed"}
}

// Truncate clips a tool result to MaxResultChars, appending a marker so
// the model knows output was dropped.
func Truncate(s string) string {
	if len(s) <= MaxResultChars {
		return s
	}
	return s[:MaxResultChars] + "\n... [output truncated]"
}

// EncodeResult renders a result as the JSON object stored in the
// function_response event part.
func EncodeResult(r *Result) map[string]interface{} {
	if r.IsError {
		return FailedPayload(Truncate(r.ForLLM))
	}
	return map[string]interface{}{"result": Truncate(r.ForLLM)}
}

// CompactJSON renders args for logs and previews.
func CompactJSON(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}
