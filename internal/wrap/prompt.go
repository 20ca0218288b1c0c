package wrap

import "strings"

// SystemPromptBuilder assembles the global-identity and model-identity wrap
// sources (spec §4.5's canonical priority-0 and priority-10 sources) from
// three layers: a fixed environment description, the addressed model's
// identity, and an optional room-vibe layer.
type SystemPromptBuilder struct{}

// GlobalLayer is the fixed environment/communication-style/function-usage
// text shared by every model turn regardless of room or model.
func (SystemPromptBuilder) GlobalLayer() string {
	return `You are an AI participant in a shared, multi-user terminal session where humans and AI models collaborate in real time.

## Environment
- A text interface reached over a secure remote shell; rooms hold interleaved chat, tool calls, and model output
- Multiple users and models may share a room simultaneously
- Tools are resolved through a router; available tools are listed in your tool manifest

## Communication Style
- Be conversational and collaborative
- Keep responses concise; this is a chat interface, not a document
- Use markdown sparingly

## Using Your Tools
- Use tools proactively when they help accomplish a goal
- If a tool call fails, explain what went wrong and suggest an alternative`
}

// ModelLayer describes the addressed model's identity and optional
// operator-provided system prompt.
func (SystemPromptBuilder) ModelLayer(displayName, systemPrompt string) string {
	var b strings.Builder
	b.WriteString("## Your Identity\nYou are **")
	b.WriteString(displayName)
	b.WriteString("**.\n")
	if systemPrompt != "" {
		b.WriteString("\n")
		b.WriteString(systemPrompt)
	}
	return b.String()
}

// RoomLayer describes the room's vibe and present participants.
func (SystemPromptBuilder) RoomLayer(roomName, vibe string, participants, models []string) string {
	var b strings.Builder
	b.WriteString("**Room:** ")
	b.WriteString(roomName)
	b.WriteString("\n")
	if vibe != "" {
		b.WriteString("**Vibe:** ")
		b.WriteString(vibe)
		b.WriteString("\n")
	}
	if len(participants) > 0 {
		b.WriteString("**Present:** ")
		b.WriteString(strings.Join(participants, ", "))
		b.WriteString("\n")
	}
	if len(models) > 0 {
		b.WriteString("**Models:** ")
		b.WriteString(strings.Join(models, ", "))
		b.WriteString("\n")
	}
	return b.String()
}

// Build assembles the full layered system prompt for a single model turn.
func (b SystemPromptBuilder) Build(displayName, modelSystemPrompt, roomName, roomVibe string, participants, models []string, username string) string {
	var out strings.Builder
	out.WriteString(b.GlobalLayer())
	out.WriteString("\n\n")
	out.WriteString(b.ModelLayer(displayName, modelSystemPrompt))
	if roomName != "" {
		out.WriteString("\n\n## Room Context\n")
		out.WriteString(b.RoomLayer(roomName, roomVibe, participants, models))
	}
	out.WriteString("\n\n## Current User\nYou are talking with **")
	out.WriteString(username)
	out.WriteString("**.\n")
	return out.String()
}
