package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
)

// ActivityHashFields are the attributes that identify an exchange's input
// when it has not been linked.
var ActivityHashFields = []string{"name", "categories", "unit", "reference product", "location", "code"}

// Generate creates a deterministic fingerprint for data.
// The fingerprint is a SHA256 hash of the canonicalized JSON.
func Generate(data map[string]any) string {
	hash := sha256.Sum256([]byte(canonicalize(data)))
	return hex.EncodeToString(hash[:])
}

// ActivityHash fingerprints only the ActivityHashFields of data. Missing
// fields hash as empty strings so sparse records stay comparable.
func ActivityHash(data map[string]any) string {
	selected := make(map[string]any, len(ActivityHashFields))
	for _, field := range ActivityHashFields {
		value, ok := data[field]
		if !ok || value == nil {
			value = ""
		}
		selected[field] = value
	}
	return Generate(selected)
}

// canonicalize renders data as JSON with sorted object keys.
func canonicalize(data any) string {
	var sb strings.Builder
	writeCanonical(&sb, data)
	return sb.String()
}

func writeCanonical(sb *strings.Builder, data any) {
	switch v := data.(type) {
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		sb.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				sb.WriteByte(',')
			}
			keyJSON, _ := json.Marshal(k)
			sb.Write(keyJSON)
			sb.WriteByte(':')
			writeCanonical(sb, v[k])
		}
		sb.WriteByte('}')
	case []any:
		sb.WriteByte('[')
		for i, item := range v {
			if i > 0 {
				sb.WriteByte(',')
			}
			writeCanonical(sb, item)
		}
		sb.WriteByte(']')
	case []string:
		items := make([]any, len(v))
		for i, s := range v {
			items[i] = s
		}
		writeCanonical(sb, items)
	default:
		b, _ := json.Marshal(v)
		sb.Write(b)
	}
}
