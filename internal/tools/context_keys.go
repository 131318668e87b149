package tools

import (
	"context"

	"github.com/nextlevelbuilder/goswarm/internal/cancel"
	"github.com/nextlevelbuilder/goswarm/internal/store"
	"github.com/nextlevelbuilder/goswarm/pkg/protocol"
)

// Tool execution context keys. The runtime injects the session key, the
// session's tool registry, the cancellation mailbox, the chunk emitter,
// and the node's own port into context before each Execute call; tools
// read them back here instead of holding mutable per-call state.

type toolContextKey string

const (
	ctxSessionKey toolContextKey = "tool_session_key"
	ctxRegistry   toolContextKey = "tool_registry"
	ctxMailbox    toolContextKey = "tool_mailbox"
	ctxEmit       toolContextKey = "tool_emit"
	ctxNodePort   toolContextKey = "tool_node_port"
	ctxWorkspace  toolContextKey = "tool_workspace"
)

func WithSessionKey(ctx context.Context, key store.SessionKey) context.Context {
	return context.WithValue(ctx, ctxSessionKey, key)
}

func SessionKeyFromCtx(ctx context.Context) store.SessionKey {
	v, _ := ctx.Value(ctxSessionKey).(store.SessionKey)
	return v
}

func WithRegistry(ctx context.Context, reg *Registry) context.Context {
	return context.WithValue(ctx, ctxRegistry, reg)
}

func RegistryFromCtx(ctx context.Context) *Registry {
	v, _ := ctx.Value(ctxRegistry).(*Registry)
	return v
}

func WithMailbox(ctx context.Context, box *cancel.Mailbox) context.Context {
	return context.WithValue(ctx, ctxMailbox, box)
}

func MailboxFromCtx(ctx context.Context) *cancel.Mailbox {
	v, _ := ctx.Value(ctxMailbox).(*cancel.Mailbox)
	return v
}

// Emitter forwards chunks into the parent session's output stream.
// The dispatcher uses it to merge swarm_event chunks inline.
type Emitter func(protocol.Chunk)

func WithEmitter(ctx context.Context, emit Emitter) context.Context {
	return context.WithValue(ctx, ctxEmit, emit)
}

func EmitterFromCtx(ctx context.Context) Emitter {
	v, _ := ctx.Value(ctxEmit).(Emitter)
	return v
}

func WithNodePort(ctx context.Context, port int) context.Context {
	return context.WithValue(ctx, ctxNodePort, port)
}

func NodePortFromCtx(ctx context.Context) int {
	v, _ := ctx.Value(ctxNodePort).(int)
	return v
}

func WithWorkspace(ctx context.Context, dir string) context.Context {
	return context.WithValue(ctx, ctxWorkspace, dir)
}

func WorkspaceFromCtx(ctx context.Context) string {
	v, _ := ctx.Value(ctxWorkspace).(string)
	return v
}
