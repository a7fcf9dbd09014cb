// Package types provides the core data structures persisted across LTMC's
// storage engines: resources, chunks, chat history, todos, code patterns
// and the typed links between them.
package types

import (
	"time"
)

// ResourceType classifies the kind of artifact a Resource represents.
type ResourceType string

const (
	ResourceTypeDocument  ResourceType = "document"
	ResourceTypeCode      ResourceType = "code"
	ResourceTypeChat      ResourceType = "chat"
	ResourceTypePattern   ResourceType = "pattern"
	ResourceTypeBlueprint ResourceType = "blueprint"
)

// Valid reports whether rt is one of the recognized resource types.
func (rt ResourceType) Valid() bool {
	switch rt {
	case ResourceTypeDocument, ResourceTypeCode, ResourceTypeChat, ResourceTypePattern, ResourceTypeBlueprint:
		return true
	}
	return false
}

// Role identifies the speaker of a ChatMessage.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// Priority is a Todo's priority band.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// TodoStatus tracks a Todo's lifecycle.
type TodoStatus string

const (
	TodoPending   TodoStatus = "pending"
	TodoCompleted TodoStatus = "completed"
)

// PatternResult records whether a logged code pattern worked.
type PatternResult string

const (
	PatternPass    PatternResult = "pass"
	PatternFail    PatternResult = "fail"
	PatternPartial PatternResult = "partial"
)

func (r PatternResult) Valid() bool {
	switch r {
	case PatternPass, PatternFail, PatternPartial:
		return true
	}
	return false
}

// Resource is a logical document that owns one or more Chunks.
type Resource struct {
	ID           int64        `json:"id"`
	FileName     string       `json:"file_name"`
	ResourceType ResourceType `json:"resource_type"`
	CreatedAt    time.Time    `json:"created_at"`
}

// Chunk is a fixed-size-by-tokens slice of a Resource's content.
type Chunk struct {
	ID         int64  `json:"id"`
	ResourceID int64  `json:"resource_id"`
	ChunkText  string `json:"chunk_text"`
	// VectorID is the unique, monotonic id linking this chunk to its
	// embedding in the vector index. Invariant I1/I2: it exists in the
	// index if and only if this row exists.
	VectorID int64 `json:"vector_id"`
	Position int   `json:"position"`
	// Orphaned marks a chunk whose vector went missing from the index;
	// the consistency sweep schedules it for re-embedding.
	Orphaned bool `json:"orphaned_chunk,omitempty"`
}

// ChunkHydrated pairs a Chunk with its owning Resource and a retrieval
// distance/rank, the shape the retrieval pipeline returns.
type ChunkHydrated struct {
	Chunk
	Resource Resource `json:"resource"`
	Distance float32  `json:"distance"`
	Rank     int      `json:"rank"`
}

// ChatMessage is a single conversation turn.
type ChatMessage struct {
	ID             int64     `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Role           Role      `json:"role"`
	Content        string    `json:"content"`
	Timestamp      time.Time `json:"timestamp"`
	SourceTool     string    `json:"source_tool,omitempty"`
}

// ContextLink binds a ChatMessage to a Chunk that informed it.
type ContextLink struct {
	ID        int64 `json:"id"`
	MessageID int64 `json:"message_id"`
	ChunkID   int64 `json:"chunk_id"`
}

// Todo is a structured task.
type Todo struct {
	ID          int64      `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Priority    Priority   `json:"priority"`
	Status      TodoStatus `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// CodePattern records one code-generation attempt and its outcome.
type CodePattern struct {
	ID               int64         `json:"id"`
	InputPrompt      string        `json:"input_prompt"`
	GeneratedCode    string        `json:"generated_code"`
	Result           PatternResult `json:"result"`
	FunctionName     string        `json:"function_name,omitempty"`
	FileName         string        `json:"file_name,omitempty"`
	ModuleName       string        `json:"module_name,omitempty"`
	ExecutionTimeMs  *int64        `json:"execution_time_ms,omitempty"`
	ErrorMessage     string        `json:"error_message,omitempty"`
	Tags             []string      `json:"tags,omitempty"`
	VectorID         int64         `json:"vector_id"`
	CreatedAt        time.Time     `json:"created_at"`
}

// ResourceLink is a typed, weighted edge between two Resources, mirrored
// in both the relational store and the graph adapter. LinkType is
// free-form and MUST be used verbatim as the graph edge's type label —
// never collapsed onto a fixed constant.
type ResourceLink struct {
	ID               int64                  `json:"id"`
	SourceResourceID int64                  `json:"source_resource_id"`
	TargetResourceID int64                  `json:"target_resource_id"`
	LinkType         string                 `json:"link_type"`
	Weight           float64                `json:"weight"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt        time.Time              `json:"created_at"`
}

// GraphNode is a neighbor returned from graph (or relational-fallback)
// neighborhood queries.
type GraphNode struct {
	ResourceID int64                  `json:"resource_id"`
	Properties map[string]interface{} `json:"properties,omitempty"`
}

// GraphEdge is a typed edge returned from graph queries.
type GraphEdge struct {
	SourceResourceID int64   `json:"source_resource_id"`
	TargetResourceID int64   `json:"target_resource_id"`
	LinkType         string  `json:"link_type"`
	Weight           float64 `json:"weight"`
}
