package dataaccess

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// CacheKey builds the deterministic cache key for one query execution:
//
//	namespace:qr:<op>:<query_id>:<hash16>:<schema_version>
//
// hash16 is the first 16 hex characters of sha256 over the canonical JSON
// of the parameters. Two parameter maps with the same logical content
// always produce the same key, across processes.
func CacheKey(namespace, op, queryID string, params map[string]any, schemaVersion string) string {
	return fmt.Sprintf("%s:qr:%s:%s:%s:%s", namespace, op, queryID, paramsHash(params), schemaVersion)
}

// CacheKeyPrefix returns the key prefix covering every cached entry of one
// query, used for data-load invalidation.
func CacheKeyPrefix(namespace, op, queryID string) string {
	return fmt.Sprintf("%s:qr:%s:%s:", namespace, op, queryID)
}

// paramsHash returns the 16-hex-char digest of the canonical parameters.
func paramsHash(params map[string]any) string {
	sum := sha256.Sum256([]byte(CanonicalJSON(params)))
	return hex.EncodeToString(sum[:])[:16]
}

// ParamsHash exposes the digest for audit logging.
func ParamsHash(params map[string]any) string { return paramsHash(params) }

// CanonicalJSON renders a value as JSON with recursively sorted object keys,
// dates in ISO-8601, and numbers in minimal form. This is the only
// serialization ever hashed for cache keys.
func CanonicalJSON(v any) string {
	var sb strings.Builder
	writeCanonical(&sb, v)
	return sb.String()
}

func writeCanonical(sb *strings.Builder, v any) {
	switch val := v.(type) {
	case nil:
		sb.WriteString("null")
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				sb.WriteByte(',')
			}
			writeJSONString(sb, k)
			sb.WriteByte(':')
			writeCanonical(sb, val[k])
		}
		sb.WriteByte('}')
	case []any:
		sb.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				sb.WriteByte(',')
			}
			writeCanonical(sb, item)
		}
		sb.WriteByte(']')
	case time.Time:
		writeJSONString(sb, val.UTC().Format(time.RFC3339))
	case string:
		writeJSONString(sb, val)
	case bool:
		if val {
			sb.WriteString("true")
		} else {
			sb.WriteString("false")
		}
	case int:
		fmt.Fprintf(sb, "%d", val)
	case int64:
		fmt.Fprintf(sb, "%d", val)
	case float64:
		// json.Marshal renders floats in their minimal form (1 not 1.0
		// only when integral values were ints; 2.5 stays 2.5).
		b, _ := json.Marshal(val)
		sb.Write(b)
	case float32:
		b, _ := json.Marshal(float64(val))
		sb.Write(b)
	default:
		// Fallback for uncommon types; json.Marshal is deterministic for
		// scalars and sorts map[string]T keys.
		b, err := json.Marshal(val)
		if err != nil {
			writeJSONString(sb, fmt.Sprintf("%v", val))
			return
		}
		sb.Write(b)
	}
}

func writeJSONString(sb *strings.Builder, s string) {
	b, _ := json.Marshal(s)
	sb.Write(b)
}
