package provider

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
)

// CLIGateway implements Gateway by piping the conversation through a local
// command. The transcript goes to stdin, stdout becomes the completion.
// Useful for air-gapped setups and for wiring in model CLIs that have no
// HTTP surface.
type CLIGateway struct {
	command string
	args    []string
}

// NewCLIGateway creates a gateway backed by a local command.
func NewCLIGateway(command string, args ...string) *CLIGateway {
	return &CLIGateway{
		command: command,
		args:    args,
	}
}

// Name returns the backend name.
func (g *CLIGateway) Name() string {
	return "cli"
}

// Invoke runs the command once with the rendered transcript on stdin.
func (g *CLIGateway) Invoke(ctx context.Context, req Request) (*Response, error) {
	if err := req.Validate(); err != nil {
		return nil, &Error{Provider: g.Name(), Kind: KindInvalidRequest, Message: err.Error()}
	}
	if g.command == "" {
		return nil, &Error{Provider: g.Name(), Kind: KindInvalidRequest, Message: "command cannot be empty"}
	}
	if len(req.Tools) > 0 {
		return nil, &Error{Provider: g.Name(), Kind: KindInvalidRequest, Message: "cli backend does not support tool calls"}
	}

	ctx, cancel := callContext(ctx, req)
	defer cancel()

	cmd := exec.CommandContext(ctx, g.command, g.args...)
	cmd.Stdin = strings.NewReader(renderTranscript(req))

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, g.mapRunError(ctx, err, stderr.String())
	}

	return &Response{
		Content:      strings.TrimSpace(stdout.String()),
		FinishReason: "stop",
	}, nil
}

// renderTranscript flattens the conversation into a plain-text prompt.
func renderTranscript(req Request) string {
	var b strings.Builder
	if req.SystemPrompt != "" {
		b.WriteString(req.SystemPrompt)
		b.WriteString("\n\n")
	}
	for _, msg := range req.Messages {
		switch msg.Role {
		case "system":
			b.WriteString(msg.Content)
			b.WriteString("\n\n")
		case "user":
			b.WriteString("User: ")
			b.WriteString(msg.Content)
			b.WriteString("\n")
		case "assistant":
			b.WriteString("Assistant: ")
			b.WriteString(msg.Content)
			b.WriteString("\n")
		case "tool":
			b.WriteString("Tool result: ")
			b.WriteString(msg.Content)
			b.WriteString("\n")
		}
	}
	b.WriteString("Assistant:")
	return b.String()
}

// mapRunError converts process failures into the unified taxonomy.
func (g *CLIGateway) mapRunError(ctx context.Context, err error, stderr string) error {
	if ctx.Err() == context.DeadlineExceeded {
		return &Error{Provider: g.Name(), Kind: KindTransient, Message: "command timed out: " + err.Error()}
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		msg := strings.TrimSpace(stderr)
		if msg == "" {
			msg = err.Error()
		}
		kind := classifyByMessage(msg)
		if kind == KindInvalidRequest {
			// Exit failures without a specific hint are treated as
			// retryable; a fresh process often succeeds.
			kind = KindTransient
		}
		return &Error{Provider: g.Name(), Kind: kind, Message: msg}
	}

	// Command not found or not startable.
	return &Error{Provider: g.Name(), Kind: KindInvalidRequest, Message: err.Error()}
}
