package triage

import (
	"encoding/json"
	"math"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"

	"gopkg.in/yaml.v3"
)

const truncationMarker = "\n... [truncated]"

// parseSidecars reads metadata files among the extracted files. Malformed
// JSON, YAML, or non-UTF-8 text is skipped.
func parseSidecars(root string, files []string, textLimit int) map[string]any {
	metadata := make(map[string]any)
	for _, rel := range files {
		name := path.Base(rel)
		ext := strings.ToLower(path.Ext(name))
		stem := strings.TrimSuffix(name, path.Ext(name))
		full := filepath.Join(root, filepath.FromSlash(rel))

		switch {
		case ext == ".json":
			data, err := os.ReadFile(full)
			if err != nil {
				continue
			}
			var content any
			if err := json.Unmarshal(data, &content); err != nil {
				continue
			}
			metadata["json_"+stem] = content
		case ext == ".yml" || ext == ".yaml":
			data, err := os.ReadFile(full)
			if err != nil {
				continue
			}
			var content any
			if err := yaml.Unmarshal(data, &content); err != nil || content == nil {
				continue
			}
			metadata["yaml_"+stem] = normalizeYAML(content)
		case isTextSidecar(name):
			data, err := os.ReadFile(full)
			if err != nil || !utf8.Valid(data) {
				continue
			}
			metadata["text_"+strings.ReplaceAll(name, ".", "_")] = truncateText(string(data), textLimit)
		}
	}
	return metadata
}

func isTextSidecar(name string) bool {
	if strings.HasSuffix(name, ".txt") {
		return true
	}
	for _, prefix := range []string{"README", "readme", "LICENSE", "license"} {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

// truncateText limits content to limit characters plus a marker.
func truncateText(content string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(content) <= limit {
		return content
	}
	runes := []rune(content)
	return string(runes[:limit]) + truncationMarker
}

// normalizeYAML converts map[any]any nodes and non-finite floats so the
// notes stay JSON encodable.
func normalizeYAML(value any) any {
	switch v := value.(type) {
	case map[string]any:
		for key, item := range v {
			v[key] = normalizeYAML(item)
		}
		return v
	case map[any]any:
		out := make(map[string]any, len(v))
		for key, item := range v {
			out[stringKey(key)] = normalizeYAML(item)
		}
		return out
	case []any:
		for i, item := range v {
			v[i] = normalizeYAML(item)
		}
		return v
	case float64:
		if math.IsInf(v, 0) || math.IsNaN(v) {
			return strconv.FormatFloat(v, 'g', -1, 64)
		}
		return v
	default:
		return v
	}
}

func stringKey(key any) string {
	if s, ok := key.(string); ok {
		return s
	}
	data, err := json.Marshal(key)
	if err != nil {
		return ""
	}
	return string(data)
}
