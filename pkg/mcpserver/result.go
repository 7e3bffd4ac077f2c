package mcpserver

import (
	"encoding/json"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// okResult renders a successful Dispatcher response as a single JSON
// text content part.
func (a *Adapter) okResult(payload map[string]any) *mcpsdk.CallToolResult {
	return &mcpsdk.CallToolResult{Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: marshal(payload)}}}
}

// errorResult renders a §7 error envelope built by the caller (usually
// Dispatcher.ErrorResponse, which knows how to attach a hint), marked
// IsError so the upstream client can distinguish it from a successful
// response carrying the same JSON-text shape.
func (a *Adapter) errorResult(envelope map[string]any) *mcpsdk.CallToolResult {
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: marshal(envelope)}},
		IsError: true,
	}
}

// malformedArgsResult renders a decode failure that happened before
// any Dispatcher call, so no bridgeerr.Error/hint machinery applies.
func (a *Adapter) malformedArgsResult(err error) *mcpsdk.CallToolResult {
	return a.errorResult(map[string]any{
		"error": "invalid arguments: " + err.Error(),
		"hint":  "arguments must be a JSON object",
	})
}

func marshal(v map[string]any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return `{"error":"failed to encode response"}`
	}
	return string(b)
}
