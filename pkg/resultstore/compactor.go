// Package resultstore implements §4.4: classifying downstream tool
// results as large or small, producing a bounded preview for large
// ones, and holding the full payload until it is fetched or expires.
package resultstore

import (
	"encoding/json"
	"fmt"
	"sort"
)

// CompactorConfig holds the thresholds from §4.4. The zero value is
// not usable; construct one via DefaultCompactorConfig.
type CompactorConfig struct {
	SizeThreshold   int
	RowThreshold    int
	MaxPreviewChars int
	MaxPreviewRows  int
}

// DefaultCompactorConfig returns §4.4's documented defaults.
func DefaultCompactorConfig() CompactorConfig {
	return CompactorConfig{
		SizeThreshold:   2000,
		RowThreshold:    20,
		MaxPreviewChars: 500,
		MaxPreviewRows:  5,
	}
}

// payloadSize returns the byte length of payload's UTF-8 JSON
// encoding, the quantity §4.4's size_threshold is measured against.
func payloadSize(payload any) (int, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return 0, err
	}
	return len(b), nil
}

// IsLarge reports whether payload crosses either of §4.4's
// thresholds: its JSON-encoded size exceeds SizeThreshold, or it (or
// any mapping value) is a sequence longer than RowThreshold. Both
// comparisons are strict: a value exactly at a threshold is not large.
func IsLarge(payload any, cfg CompactorConfig) bool {
	if size, err := payloadSize(payload); err == nil && size > cfg.SizeThreshold {
		return true
	}

	switch v := payload.(type) {
	case []any:
		if len(v) > cfg.RowThreshold {
			return true
		}
	case map[string]any:
		for _, val := range v {
			if seq, ok := val.([]any); ok && len(seq) > cfg.RowThreshold {
				return true
			}
		}
	}
	return false
}

// Preview builds the bounded preview shown alongside a compacted
// response: strings truncate, sequences get a preview envelope,
// mapping values are previewed recursively, everything else passes
// through unchanged.
func Preview(payload any, cfg CompactorConfig) any {
	switch v := payload.(type) {
	case string:
		return truncateString(v, cfg.MaxPreviewChars)
	case []any:
		return previewSequence(v, cfg)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, val := range v {
			out[k] = previewValue(val, cfg)
		}
		return out
	default:
		return payload
	}
}

func previewValue(val any, cfg CompactorConfig) any {
	switch v := val.(type) {
	case string:
		return truncateString(v, cfg.MaxPreviewChars)
	case []any:
		if len(v) > cfg.MaxPreviewRows {
			return previewSequence(v, cfg)
		}
		return v
	case map[string]any:
		return Preview(v, cfg)
	default:
		return val
	}
}

func truncateString(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "... [truncated]"
}

func previewSequence(v []any, cfg CompactorConfig) map[string]any {
	n := len(v)
	showing := n
	if showing > cfg.MaxPreviewRows {
		showing = cfg.MaxPreviewRows
	}
	return map[string]any{
		"_preview":    true,
		"total_items": n,
		"showing":     showing,
		"items":       v[:showing],
		"_note":       "fetch the rest via get_result(result_id)",
	}
}

// Summary builds §4.4's result_id-less summary block: always
// server/tool/size_bytes/size_human, plus type-specific fields.
func Summary(payload any, server, tool string, sizeBytes int) map[string]any {
	summary := map[string]any{
		"server":     server,
		"tool":       tool,
		"size_bytes": sizeBytes,
		"size_human": sizeHuman(sizeBytes),
	}

	switch v := payload.(type) {
	case []any:
		summary["type"] = "array"
		summary["item_count"] = len(v)
	case map[string]any:
		summary["type"] = "object"
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		summary["keys"] = keys

		if seq, ok := v["rows"].([]any); ok {
			summary["row_count"] = len(seq)
		}
		if seq, ok := v["data"].([]any); ok {
			summary["data_count"] = len(seq)
		}
		if seq, ok := v["results"].([]any); ok {
			summary["results_count"] = len(seq)
		}
	case string:
		summary["type"] = "string"
		summary["length"] = len([]rune(v))
	default:
		summary["type"] = scalarType(v)
	}

	return summary
}

func scalarType(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case float64, int, int64:
		return "number"
	default:
		return fmt.Sprintf("%T", v)
	}
}

func sizeHuman(n int) string {
	if n >= 1024 {
		return fmt.Sprintf("%.1fKB", float64(n)/1024)
	}
	return fmt.Sprintf("%dB", n)
}
