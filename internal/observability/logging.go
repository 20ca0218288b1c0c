package observability

import (
	"encoding/json"
	"log/slog"
	"regexp"
	"strings"
)

// DefaultRedactPatterns matches common secret shapes that show up in tool
// call arguments and results: API keys, bearer tokens, passwords, and
// provider-specific key formats. Applied by Redact/RedactArgs before a
// value reaches a log line.
var DefaultRedactPatterns = []string{
	`(?i)(api[_-]?key|apikey)[\s:=]+["']?([a-zA-Z0-9_\-]{16,})["']?`,
	`(?i)(bearer|token)[\s:]+([a-zA-Z0-9_\-\.]{16,})`,
	`(?i)(secret|password|passwd|pwd)[\s:=]+["']?([^\s"']{8,})["']?`,
	`sk-ant-[a-zA-Z0-9_-]{95,}`,
	`sk-[a-zA-Z0-9]{48,}`,
	`eyJ[a-zA-Z0-9_-]*\.eyJ[a-zA-Z0-9_-]*\.[a-zA-Z0-9_-]*`,
	`(?i)(secret|key|token)[\s:=]+["']?([a-fA-F0-9]{32,})["']?`,
}

var redactRegexps = compileRedactPatterns(DefaultRedactPatterns)

func compileRedactPatterns(patterns []string) []*regexp.Regexp {
	res := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		if re, err := regexp.Compile(p); err == nil {
			res = append(res, re)
		}
	}
	return res
}

// sensitiveArgKeys are map keys whose value is always redacted outright,
// regardless of whether it matches a pattern.
var sensitiveArgKeys = map[string]bool{
	"password":      true,
	"passwd":        true,
	"secret":        true,
	"token":         true,
	"api_key":       true,
	"apikey":        true,
	"private_key":   true,
	"privatekey":    true,
	"auth":          true,
	"authorization": true,
}

// Redact replaces substrings of s matching DefaultRedactPatterns with
// "[REDACTED]". Used before tool call arguments or provider error bodies
// reach a log line.
func Redact(s string) string {
	for _, re := range redactRegexps {
		s = re.ReplaceAllString(s, "[REDACTED]")
	}
	return s
}

// RedactArgs returns a copy of args with sensitive keys blanked and string
// values passed through Redact. Non-string, non-map values that aren't
// JSON-marshalable are passed through unchanged.
func RedactArgs(args map[string]any) map[string]any {
	out := make(map[string]any, len(args))
	for k, v := range args {
		lowerKey := strings.ToLower(strings.ReplaceAll(k, "-", "_"))
		if sensitiveArgKeys[lowerKey] {
			out[k] = "[REDACTED]"
			continue
		}
		out[k] = redactValue(v)
	}
	return out
}

func redactValue(v any) any {
	switch val := v.(type) {
	case string:
		return Redact(val)
	case error:
		return Redact(val.Error())
	case []byte:
		return Redact(string(val))
	case map[string]any:
		return RedactArgs(val)
	default:
		if b, err := json.Marshal(v); err == nil {
			return Redact(string(b))
		}
		return v
	}
}

// LogLevelFromString converts a string to a slog.Level.
// Returns LevelInfo if the string is not recognized.
func LogLevelFromString(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
