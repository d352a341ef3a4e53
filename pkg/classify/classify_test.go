package classify

import (
	"testing"

	"github.com/fleetserve/gateway/pkg/auth"
)

func TestParseModelRequest(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		model string
		want  ModelRequest
	}{
		{
			name:  "specific id",
			model: "llama-7b",
			want:  ModelRequest{Specific: "llama-7b"},
		},
		{
			name:  "class big",
			model: "class:big",
			want:  ModelRequest{Class: TierBig},
		},
		{
			name:  "class fast",
			model: "class:fast",
			want:  ModelRequest{Class: TierFast},
		},
		{
			name:  "unknown class falls through to specific",
			model: "class:medium",
			want:  ModelRequest{Specific: "class:medium"},
		},
		{
			name:  "empty",
			model: "",
			want:  ModelRequest{Specific: ""},
		},
		{
			name:  "class prefix only",
			model: "class:",
			want:  ModelRequest{Specific: "class:"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := ParseModelRequest(tt.model); got != tt.want {
				t.Errorf("ParseModelRequest(%q) = %+v, want %+v", tt.model, got, tt.want)
			}
		})
	}
}

func TestParseRoundTrip(t *testing.T) {
	t.Parallel()
	for _, model := range []string{"llama-7b", "class:big", "class:fast"} {
		if got := ParseModelRequest(model).String(); got != model {
			t.Errorf("round trip %q = %q", model, got)
		}
	}
}

func TestClassifyCaseInsensitive(t *testing.T) {
	t.Parallel()
	c := NewClassifier([]string{"LLaMA-70B"}, []string{"phi-3", "llama-7b"})

	tests := []struct {
		model    string
		wantTier Tier
		wantOK   bool
	}{
		{"llama-70b", TierBig, true},
		{"LLAMA-70B", TierBig, true},
		{"Phi-3", TierFast, true},
		{"llama-7b", TierFast, true},
		{"gpt-oss", "", false},
	}
	for _, tt := range tests {
		tier, ok := c.Classify(tt.model)
		if tier != tt.wantTier || ok != tt.wantOK {
			t.Errorf("Classify(%q) = (%q, %v), want (%q, %v)", tt.model, tier, ok, tt.wantTier, tt.wantOK)
		}
	}
}

func TestClassifyFirstListWins(t *testing.T) {
	t.Parallel()
	c := NewClassifier([]string{"shared"}, []string{"shared"})
	tier, ok := c.Classify("shared")
	if !ok || tier != TierBig {
		t.Errorf("Classify(shared) = (%q, %v), want big", tier, ok)
	}
}

func TestCanRequestModel(t *testing.T) {
	t.Parallel()
	classReq := ModelRequest{Class: TierFast}
	specificReq := ModelRequest{Specific: "llama-7b"}

	if !CanRequestModel(nil, classReq) {
		t.Error("class request denied for empty roles")
	}
	if !CanRequestModel([]string{"model:class"}, classReq) {
		t.Error("class request denied for class-only role")
	}
	if CanRequestModel([]string{"model:class"}, specificReq) {
		t.Error("specific request allowed without model:specific")
	}
	if !CanRequestModel([]string{auth.RoleSpecificModels}, specificReq) {
		t.Error("specific request denied despite model:specific")
	}
	if !CanRequestModel([]string{auth.RoleSpecificModels}, classReq) {
		t.Error("class request denied for model:specific holder")
	}
}
