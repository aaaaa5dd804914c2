package telemetry

import (
	"errors"
	"regexp"
	"testing"
)

func TestHashWidth(t *testing.T) {
	msgs := []string{"", "short", "Stack not found", "HTTP 401 Unauthorized"}
	hexRe := regexp.MustCompile(`^[0-9a-f]{16}$`)
	for _, msg := range msgs {
		h := Hash(msg)
		if !hexRe.MatchString(h) {
			t.Errorf("Hash(%q) = %q, want 16 lowercase hex chars", msg, h)
		}
	}
}

func TestHashStableUnderVolatileSubstrings(t *testing.T) {
	cases := []struct {
		name   string
		m1, m2 string
	}{
		{
			name: "uuid",
			m1:   "Stack a1b2c3d4-e5f6-7890-abcd-ef1234567890 not found",
			m2:   "Stack 12345678-abcd-ef12-3456-789012345678 not found",
		},
		{
			name: "url",
			m1:   "failed to reach https://zen.example.com:8237/api/v1/stacks",
			m2:   "failed to reach http://10.0.0.7/api/v1/stacks",
		},
		{
			name: "path",
			m1:   "cannot read /home/alice/.config/zen/settings.yaml",
			m2:   "cannot read /var/lib/zen/profiles/settings.yaml",
		},
		{
			name: "hex token",
			m1:   "invalid token 0123456789abcdef0123456789abcdef",
			m2:   "invalid token ffffffffffffffffffffffffffffffffffff",
		},
	}

	for _, tc := range cases {
		h1, h2 := Hash(tc.m1), Hash(tc.m2)
		if h1 != h2 {
			t.Errorf("%s: Hash(%q) = %q, Hash(%q) = %q, want equal", tc.name, tc.m1, h1, tc.m2, h2)
		}
	}
}

func TestHashDistinguishesDifferentMessages(t *testing.T) {
	if Hash("stack not found") == Hash("component not found") {
		t.Error("distinct messages should not collide")
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		msg        string
		phase      Phase
		wantKind   Kind
		wantSource Source
	}{
		{"LSClient is not ready yet.", PhasePreflight, KindNotReady, SourceExtension},
		{"HTTP 401 Unauthorized", PhaseRequest, KindAuthorization, SourceTransport},
		{"ValidationError: invalid stack spec", PhaseResponse, KindValidation, SourceServer},
		{"RuntimeError: revision 0.58.1 required", PhaseResponse, KindRuntime, SourceServer},
		{"request timeout exceeded", PhaseRequest, KindTimeout, SourceTransport},
		{"connect ETIMEDOUT 10.0.0.1:8237", PhaseRequest, KindTimeout, SourceTransport},
		{"connect ECONNREFUSED 127.0.0.1:8237", PhaseRequest, KindNetwork, SourceTransport},
		{"getaddrinfo ENOTFOUND zen.internal", PhaseRequest, KindNetwork, SourceTransport},
		{"SSL certificate verify failed", PhaseRequest, KindNetwork, SourceTransport},
		{"component not initialized", PhaseNone, KindNotReady, SourceUnknown},
		// Phase-dependent fallbacks for unrecognized messages.
		{"mysterious failure", PhasePreflight, KindNotReady, SourceExtension},
		{"mysterious failure", PhaseRequest, KindRequestFailed, SourceTransport},
		{"mysterious failure", PhaseResponse, KindResponseError, SourceServer},
		{"mysterious failure", PhaseNone, KindUnknown, SourceUnknown},
	}

	for _, tc := range cases {
		kind, source := Classify(tc.msg, tc.phase)
		if kind != tc.wantKind || source != tc.wantSource {
			t.Errorf("Classify(%q, %q) = (%s, %s), want (%s, %s)",
				tc.msg, tc.phase, kind, source, tc.wantKind, tc.wantSource)
		}
	}
}

func TestClassifyDeterministic(t *testing.T) {
	for i := 0; i < 5; i++ {
		kind, source := Classify("Stack deadbeef not found", PhaseResponse)
		if kind != KindResponseError || source != SourceServer {
			t.Fatalf("iteration %d: got (%s, %s)", i, kind, source)
		}
	}
}

func TestExtractMessage(t *testing.T) {
	cases := []struct {
		in   any
		want string
	}{
		{errors.New("boom"), "boom"},
		{"plain string", "plain string"},
		{map[string]any{"error": "from error field"}, "from error field"},
		{map[string]any{"message": "from message field"}, "from message field"},
		{map[string]any{"error": "error wins", "message": "not me"}, "error wins"},
		{42, "42"},
		{nil, ""},
	}
	for _, tc := range cases {
		if got := ExtractMessage(tc.in); got != tc.want {
			t.Errorf("ExtractMessage(%v) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestNormalizePlaceholders(t *testing.T) {
	got := Normalize("GET https://zen.example.com/api failed for run a1b2c3d4-e5f6-7890-abcd-ef1234567890")
	want := "get <url> failed for run <uuid>"
	if got != want {
		t.Errorf("Normalize = %q, want %q", got, want)
	}
}
