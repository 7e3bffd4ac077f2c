package dispatcher

import (
	"encoding/json"
	"fmt"
	"strings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// extractText concatenates every TextContent part of result, in the
// style of the teacher's extractTextContent, for use in
// DownstreamToolError messages.
func extractText(result *mcpsdk.CallToolResult) string {
	var parts []string
	for _, c := range result.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// extractPayload implements §4.5's call_mcp_tool payload extraction
// and resolves Open Question (a): if the downstream response carries
// text content, attempt a JSON decode and fall back to the raw
// string; non-text content parts are reduced to a placeholder naming
// their Go type, so a response is never silently dropped.
func extractPayload(result *mcpsdk.CallToolResult) any {
	if len(result.Content) == 0 {
		return nil
	}

	parts := make([]any, 0, len(result.Content))
	for _, c := range result.Content {
		parts = append(parts, extractContentPart(c))
	}

	if len(parts) == 1 {
		return parts[0]
	}
	return parts
}

func extractContentPart(c mcpsdk.Content) any {
	tc, ok := c.(*mcpsdk.TextContent)
	if !ok {
		return map[string]any{"_unsupported_content_type": fmt.Sprintf("%T", c)}
	}

	var decoded any
	if err := json.Unmarshal([]byte(tc.Text), &decoded); err == nil {
		return decoded
	}
	return tc.Text
}
