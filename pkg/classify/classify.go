// Package classify maps model identifiers onto routing tiers and parses the
// class-prefixed form of the request's model field. It is pure: no I/O, no
// clock, no registry access.
package classify

import (
	"strings"

	"github.com/fleetserve/gateway/pkg/auth"
)

// Tier is a routing class grouping specific model ids.
type Tier string

const (
	TierBig  Tier = "big"
	TierFast Tier = "fast"
)

// classPrefix marks a model field that requests a tier instead of a specific
// model, e.g. "class:fast".
const classPrefix = "class:"

// ModelRequest is the parsed form of an incoming model field: either a
// specific model id or a tier.
type ModelRequest struct {
	// Specific is the requested model id; empty for class requests.
	Specific string
	// Class is the requested tier; empty for specific requests.
	Class Tier
}

// IsClass reports whether the request targets a tier.
func (m ModelRequest) IsClass() bool {
	return m.Class != ""
}

// String returns the wire form of the request.
func (m ModelRequest) String() string {
	if m.IsClass() {
		return classPrefix + string(m.Class)
	}
	return m.Specific
}

// ParseModelRequest interprets the model field of an incoming request.
// "class:big" and "class:fast" yield class requests; everything else,
// including unknown class suffixes, is treated as a specific model id.
func ParseModelRequest(model string) ModelRequest {
	if rest, ok := strings.CutPrefix(model, classPrefix); ok {
		switch Tier(rest) {
		case TierBig, TierFast:
			return ModelRequest{Class: Tier(rest)}
		}
	}
	return ModelRequest{Specific: model}
}

// CanRequestModel applies the permission rule: holders of the
// model:specific role may request anything, everyone else only classes.
func CanRequestModel(roles []string, req ModelRequest) bool {
	if req.IsClass() {
		return true
	}
	for _, r := range roles {
		if r == auth.RoleSpecificModels {
			return true
		}
	}
	return false
}

// Classifier assigns model ids to tiers from configured id lists.
type Classifier struct {
	// tiers maps lower-cased model ids to their tier. Big wins over fast
	// when an id is (mis)configured in both.
	tiers map[string]Tier
}

// NewClassifier builds a classifier from the configured big and fast model
// lists. Matching is case-insensitive.
func NewClassifier(big, fast []string) *Classifier {
	tiers := make(map[string]Tier, len(big)+len(fast))
	for _, id := range fast {
		tiers[strings.ToLower(id)] = TierFast
	}
	for _, id := range big {
		tiers[strings.ToLower(id)] = TierBig
	}
	return &Classifier{tiers: tiers}
}

// Classify returns the tier for a model id, or false when the id is not in
// any configured list.
func (c *Classifier) Classify(model string) (Tier, bool) {
	tier, ok := c.tiers[strings.ToLower(model)]
	return tier, ok
}
