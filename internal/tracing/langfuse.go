// Package tracing wires the optional Langfuse observability integration.
// Tracing is enabled purely by environment configuration and never affects
// request handling when disabled.
package tracing

import (
	"os"

	"github.com/cloudwego/eino-ext/callbacks/langfuse"
	"github.com/cloudwego/eino/callbacks"
)

// defaultHost is used when LANGFUSE_HOST is unset, matching a local
// self-hosted Langfuse instance.
const defaultHost = "http://localhost:3000"

// Setup builds the Langfuse callback handler when both LANGFUSE_PUBLIC_KEY
// and LANGFUSE_SECRET_KEY are present. The returned flush function must run
// before process exit so buffered traces are not lost. When the keys are
// absent the third return value is false and tracing stays off.
func Setup() (callbacks.Handler, func(), bool) {
	publicKey := os.Getenv("LANGFUSE_PUBLIC_KEY")
	secretKey := os.Getenv("LANGFUSE_SECRET_KEY")
	if publicKey == "" || secretKey == "" {
		return nil, nil, false
	}

	host := os.Getenv("LANGFUSE_HOST")
	if host == "" {
		host = defaultHost
	}

	handler, flusher := langfuse.NewLangfuseHandler(&langfuse.Config{
		Host:      host,
		PublicKey: publicKey,
		SecretKey: secretKey,
	})
	return handler, flusher, true
}
