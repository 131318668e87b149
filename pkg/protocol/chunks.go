package protocol

// Chunk types streamed over /api/chat as newline-delimited JSON,
// one {"chunk": {...}} object per line.
const (
	ChunkText       = "text"
	ChunkThought    = "thought"
	ChunkToolCall   = "tool_call"
	ChunkToolResult = "tool_result"
	ChunkSwarmEvent = "swarm_event"
)

// Swarm sub-stream phases (Chunk.SubType when Type == ChunkSwarmEvent).
const (
	SwarmInit   = "init"
	SwarmChunk  = "chunk"
	SwarmFinish = "finish"
	SwarmFail   = "fail"
)

// Chunk is one streamed output unit from a session run.
// Type selects which fields are meaningful.
type Chunk struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`

	// tool_call / tool_result
	ToolName string                 `json:"tool_name,omitempty"`
	Args     map[string]interface{} `json:"args,omitempty"`
	Clean    bool                   `json:"clean,omitempty"` // tool_result carries no error

	// swarm_event
	SubType     string `json:"sub_type,omitempty"`
	WorkerPort  int    `json:"worker_port,omitempty"`
	TaskPreview string `json:"task_preview,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Line is the wire envelope for one ndjson line.
type Line struct {
	Chunk Chunk `json:"chunk"`
}

// Text returns a text chunk.
func Text(content string) Chunk {
	return Chunk{Type: ChunkText, Content: content}
}

// Thought returns a thought chunk.
func Thought(content string) Chunk {
	return Chunk{Type: ChunkThought, Content: content}
}

// ToolCallChunk announces a tool invocation.
func ToolCallChunk(name string, args map[string]interface{}) Chunk {
	return Chunk{Type: ChunkToolCall, ToolName: name, Args: args}
}

// ToolResultChunk reports a tool's outcome. clean=false marks an error result.
func ToolResultChunk(name, content string, clean bool) Chunk {
	return Chunk{Type: ChunkToolResult, ToolName: name, Content: content, Clean: clean}
}

// SwarmEvent reports progress of a delegated sub-task.
func SwarmEvent(subType string, workerPort int, taskPreview, content, errMsg string) Chunk {
	return Chunk{
		Type:        ChunkSwarmEvent,
		SubType:     subType,
		WorkerPort:  workerPort,
		TaskPreview: taskPreview,
		Content:     content,
		Error:       errMsg,
	}
}

// WebSocket event names pushed from the node to observing UIs.
const (
	EventRun      = "run"
	EventSwarm    = "swarm"
	EventShutdown = "shutdown"
)

// Run event subtypes (in payload.type).
const (
	RunStarted   = "run.started"
	RunCompleted = "run.completed"
	RunFailed    = "run.failed"
	RunCancelled = "run.cancelled"
)
