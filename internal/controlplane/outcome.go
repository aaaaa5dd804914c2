package controlplane

import (
	"encoding/json"
	"regexp"
	"strings"

	"mlbridge/sidecar/internal/version"
)

// VersionMismatch carries both version strings so the user can
// self-diagnose an upgrade need.
type VersionMismatch struct {
	ClientVersion string `json:"clientVersion"`
	ServerVersion string `json:"serverVersion"`
}

// Outcome is the tagged result of one remote call. Exactly one variant
// is populated: Payload on success, Err on failure, Mismatch on version
// skew between this sidecar and the control plane.
type Outcome struct {
	Payload  json.RawMessage
	Err      string
	Mismatch *VersionMismatch
}

// Success wraps a payload.
func Success(payload json.RawMessage) Outcome {
	return Outcome{Payload: payload}
}

// Failure wraps an error message.
func Failure(msg string) Outcome {
	return Outcome{Err: msg}
}

// Mismatched wraps a version skew result.
func Mismatched(client, server string) Outcome {
	return Outcome{Mismatch: &VersionMismatch{ClientVersion: client, ServerVersion: server}}
}

// IsSuccess reports whether the call returned a usable payload.
func (o Outcome) IsSuccess() bool {
	return o.Err == "" && o.Mismatch == nil
}

// Decode unmarshals a success payload into v.
func (o Outcome) Decode(v any) error {
	return json.Unmarshal(o.Payload, v)
}

// semverPattern extracts the version substring from textual server
// errors. Fixed by the control plane's error format.
var semverPattern = regexp.MustCompile(`\d+\.\d+\.\d+`)

// VersionUnknown is the sentinel used when a mismatch error carries no
// parseable version substring.
const VersionUnknown = "N/A"

// errorProbe is the error-ish shape a response payload may carry even
// when the transport call itself succeeded.
type errorProbe struct {
	Error         string `json:"error"`
	Message       string `json:"message"`
	ClientVersion string `json:"clientVersion"`
	ServerVersion string `json:"serverVersion"`
}

// interpret turns a raw response payload into an Outcome. A payload that
// carries an `error` field is a failure regardless of transport success;
// known version-skew patterns (an explicit clientVersion/serverVersion
// pair, a ValidationError, or a RuntimeError naming a revision) become
// a VersionMismatch with the server version extracted from the text.
func interpret(payload json.RawMessage) Outcome {
	var probe errorProbe
	if err := json.Unmarshal(payload, &probe); err != nil || probe.Error == "" {
		return Success(payload)
	}

	if probe.ClientVersion != "" || probe.ServerVersion != "" {
		return Mismatched(orUnknown(probe.ClientVersion), orUnknown(probe.ServerVersion))
	}

	text := probe.Error
	if probe.Message != "" {
		text = text + " " + probe.Message
	}
	found := semverPattern.FindString(text)
	switch {
	case strings.Contains(text, "ValidationError"):
		return Mismatched(version.Version, orUnknown(found))
	case strings.Contains(text, "RuntimeError") && found != "":
		return Mismatched(version.Version, found)
	}

	return Failure(probe.Error)
}

func orUnknown(s string) string {
	if s == "" {
		return VersionUnknown
	}
	return s
}
