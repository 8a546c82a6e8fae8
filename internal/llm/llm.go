// Package llm defines the provider-neutral contracts for structured LLM
// calls and text embeddings.
package llm

import (
	"context"
	"time"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role
	Content string
}

func System(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

func User(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// Request is a single structured-output call.
type Request struct {
	Messages []Message
	Schema   *Schema
	// Tags label the call in traces and logs.
	Tags            []string
	ReasoningEffort string
	MaxOutputTokens int
}

// Metadata describes a completed call.
type Metadata struct {
	Provider         string
	Model            string
	PromptTokens     int
	CompletionTokens int
	Latency          time.Duration
	Tags             []string
	Raw              string
}

// StructuredClient produces JSON output that satisfies Request.Schema and
// decodes it into out.
type StructuredClient interface {
	InvokeStructured(ctx context.Context, req Request, out any) (*Metadata, error)
	Provider() string
	Model() string
}

// Embedder turns texts into vectors, one per input, in input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Provider() string
	Model() string
}
