package telemetry

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Phase identifies where in a remote call an error surfaced.
type Phase string

const (
	PhaseNone      Phase = ""
	PhasePreflight Phase = "preflight" // before the call left the process
	PhaseRequest   Phase = "request"   // transport-level failure
	PhaseResponse  Phase = "response"  // the control plane answered with an error
)

// Kind is the classified error category. Part of the telemetry signature,
// so values are stable wire strings.
type Kind string

const (
	KindNotReady      Kind = "not_ready"
	KindAuthorization Kind = "authorization_error"
	KindValidation    Kind = "validation_error"
	KindRuntime       Kind = "runtime_error"
	KindTimeout       Kind = "timeout"
	KindNetwork       Kind = "network_error"
	KindRequestFailed Kind = "request_failed"
	KindResponseError Kind = "response_error"
	KindUnknown       Kind = "unknown"
)

// Source is where the error originated, derived purely from the phase.
type Source string

const (
	SourceExtension Source = "extension"
	SourceTransport Source = "transport"
	SourceServer    Source = "server"
	SourceUnknown   Source = "unknown"
)

// ExtractMessage pulls a message string out of an arbitrary error value.
// Priority: error → string → map "error" field → map "message" field →
// stringified fallback.
func ExtractMessage(v any) string {
	switch e := v.(type) {
	case nil:
		return ""
	case error:
		return e.Error()
	case string:
		return e
	case map[string]any:
		if s, ok := e["error"].(string); ok && s != "" {
			return s
		}
		if s, ok := e["message"].(string); ok && s != "" {
			return s
		}
	case json.RawMessage:
		var obj struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		if err := json.Unmarshal(e, &obj); err == nil {
			if obj.Error != "" {
				return obj.Error
			}
			if obj.Message != "" {
				return obj.Message
			}
		}
		return string(e)
	}
	return fmt.Sprintf("%v", v)
}

// Normalization patterns. Order matters: URLs first (they contain slashes
// and often embed UUIDs), then paths, then bare UUIDs and long hex tokens.
var (
	urlPattern  = regexp.MustCompile(`https?://[^\s"']+`)
	pathPattern = regexp.MustCompile(`(?:[A-Za-z]:)?(?:[\\/][\w.+~-]+){2,}[\\/]?`)
	uuidPattern = regexp.MustCompile(`[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`)
	hexPattern  = regexp.MustCompile(`[0-9a-fA-F]{32,}`)
)

// Normalize strips volatile, potentially private substrings from an error
// message so that two occurrences of the same failure hash identically.
// URLs, filesystem paths, UUIDs and long hex tokens become fixed
// placeholders; the result is lowercased and trimmed.
func Normalize(msg string) string {
	msg = urlPattern.ReplaceAllString(msg, "<url>")
	msg = pathPattern.ReplaceAllString(msg, "<path>")
	msg = uuidPattern.ReplaceAllString(msg, "<uuid>")
	msg = hexPattern.ReplaceAllString(msg, "<hex>")
	return strings.TrimSpace(strings.ToLower(msg))
}

// Hash returns a 16-character lowercase hex digest of the normalized
// message. Only this digest ever leaves the process, never the message.
func Hash(msg string) string {
	sum := sha256.Sum256([]byte(Normalize(msg)))
	return hex.EncodeToString(sum[:8])
}

// Classify maps a raw error message and call phase to a (kind, source)
// pair. Keyword checks run against the lowercased but non-normalized
// message, in priority order; the fallback kind depends on the phase.
func Classify(msg string, phase Phase) (Kind, Source) {
	lower := strings.ToLower(msg)

	kind := KindUnknown
	switch {
	case strings.Contains(lower, "not ready") || strings.Contains(lower, "not initialized"):
		kind = KindNotReady
	case strings.Contains(lower, "authorization") || strings.Contains(lower, "401"):
		kind = KindAuthorization
	case strings.Contains(lower, "validationerror"):
		kind = KindValidation
	case strings.Contains(lower, "runtimeerror"):
		kind = KindRuntime
	case strings.Contains(lower, "timeout") || strings.Contains(lower, "etimedout"):
		kind = KindTimeout
	case strings.Contains(lower, "econnrefused") || strings.Contains(lower, "enotfound") ||
		strings.Contains(lower, "network") || strings.Contains(lower, "ssl"):
		kind = KindNetwork
	default:
		switch phase {
		case PhasePreflight:
			kind = KindNotReady
		case PhaseResponse:
			kind = KindResponseError
		case PhaseRequest:
			kind = KindRequestFailed
		}
	}

	source := SourceUnknown
	switch phase {
	case PhasePreflight:
		source = SourceExtension
	case PhaseRequest:
		source = SourceTransport
	case PhaseResponse:
		source = SourceServer
	}

	return kind, source
}
