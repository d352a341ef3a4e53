// Package routing selects runners for inference requests and proxies the
// request bodies to them, rewriting the model field to each runner's local
// alias.
package routing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync/atomic"
	"time"

	"github.com/fleetserve/gateway/pkg/classify"
	"github.com/fleetserve/gateway/pkg/fleet"
	"github.com/fleetserve/gateway/pkg/logging"
)

// RequestTimeout bounds a single proxied request. Long generations on large
// models routinely take minutes.
const RequestTimeout = 300 * time.Second

// completionsPath is the OpenAI-compatible endpoint every runner serves.
const completionsPath = "/v1/chat/completions"

// Config tunes runner selection.
type Config struct {
	// DefaultPolicy is used by the direct (non-batched) path.
	DefaultPolicy Policy
	// AffinityMachineType is preferred by the affinity policy.
	AffinityMachineType string
	// TierMachineTypes maps a tier to machine types eligible to load models
	// of that tier on demand.
	TierMachineTypes map[string][]string
	// TierModels maps a tier to its configured model ids, in configuration
	// order. The first entry is the load-on-demand target when a class
	// request reaches a runner with nothing of that tier loaded.
	TierModels map[classify.Tier][]string
}

// Router resolves model requests to runners and forwards request bodies.
type Router struct {
	log        logging.Logger
	registry   *fleet.Registry
	classifier *classify.Classifier
	cfg        Config
	client     *http.Client
	rr         atomic.Uint64
}

// NewRouter creates a router. A nil client gets a default one bounded by
// RequestTimeout.
func NewRouter(log logging.Logger, registry *fleet.Registry, classifier *classify.Classifier, cfg Config, client *http.Client) *Router {
	if client == nil {
		client = &http.Client{Timeout: RequestTimeout}
	}
	if cfg.DefaultPolicy == "" {
		cfg.DefaultPolicy = PolicyRoundRobin
	}
	return &Router{
		log:        log,
		registry:   registry,
		classifier: classifier,
		cfg:        cfg,
		client:     client,
	}
}

// Candidates resolves a model request to the sorted list of runners eligible
// to serve it, applying the load-on-demand fallbacks.
func (r *Router) Candidates(req classify.ModelRequest) ([]fleet.Runner, error) {
	var candidates []fleet.Runner
	if req.IsClass() {
		candidates = r.classCandidates(req.Class)
	} else {
		candidates = r.registry.WithModel(req.Specific)
		if len(candidates) == 0 {
			// No runner has the model loaded; any operational runner may
			// load it on demand.
			candidates = r.registry.Operational()
		}
	}
	if len(candidates) == 0 {
		return nil, ErrNoRunners
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].ID < candidates[j].ID })
	return candidates, nil
}

func (r *Router) classCandidates(tier classify.Tier) []fleet.Runner {
	operational := r.registry.Operational()

	var loaded []fleet.Runner
	for _, runner := range operational {
		for _, m := range runner.Status.LoadedModels() {
			if t, ok := r.classifier.Classify(m); ok && t == tier {
				loaded = append(loaded, runner)
				break
			}
		}
	}
	if len(loaded) > 0 {
		return loaded
	}

	// Nothing of this tier is loaded anywhere. Restrict to machine types
	// configured as eligible for the tier, when such configuration exists.
	eligible := r.cfg.TierMachineTypes[string(tier)]
	if len(eligible) == 0 {
		return operational
	}
	var matched []fleet.Runner
	for _, runner := range operational {
		for _, mt := range eligible {
			if runner.MachineType == mt {
				matched = append(matched, runner)
				break
			}
		}
	}
	if len(matched) == 0 {
		return operational
	}
	return matched
}

// Route selects a runner for the request using the default policy and
// forwards the body to it. It returns the response body and the id of the
// runner that served the request.
func (r *Router) Route(ctx context.Context, req classify.ModelRequest, body []byte) ([]byte, string, error) {
	return r.RouteWithPolicy(ctx, req, body, r.cfg.DefaultPolicy)
}

// RouteWithPolicy is Route with an explicit selection policy. The batch
// dispatcher always passes PolicyLeastLoaded.
func (r *Router) RouteWithPolicy(ctx context.Context, req classify.ModelRequest, body []byte, policy Policy) ([]byte, string, error) {
	candidates, err := r.Candidates(req)
	if err != nil {
		return nil, "", err
	}
	runner := r.selectRunner(policy, candidates)
	resp, err := r.Forward(ctx, runner, r.TargetModel(runner, req), body)
	return resp, runner.ID, err
}

// TargetModel resolves the concrete model id a request should name on the
// selected runner. Class requests resolve to a loaded model of the tier, or
// to the tier's first configured model as a load-on-demand target.
func (r *Router) TargetModel(runner fleet.Runner, req classify.ModelRequest) string {
	if !req.IsClass() {
		return req.Specific
	}
	for _, m := range runner.Status.LoadedModels() {
		if t, ok := r.classifier.Classify(m); ok && t == req.Class {
			return m
		}
	}
	if configured := r.cfg.TierModels[req.Class]; len(configured) > 0 {
		return configured[0]
	}
	return req.String()
}

// Forward posts the body to the runner with the runner's active-request
// counter held for the duration of the call. This is the direct (non-batched)
// path; the batch dispatcher holds the counter across a whole batch and uses
// Proxy directly.
func (r *Router) Forward(ctx context.Context, runner fleet.Runner, model string, body []byte) ([]byte, error) {
	r.registry.IncrementActive(runner.ID)
	defer r.registry.DecrementActive(runner.ID)
	return r.Proxy(ctx, runner, model, body)
}

// Proxy posts the body to the runner's chat-completions endpoint with the
// model field rewritten to the runner-local alias. Active-request counters
// are the caller's responsibility.
func (r *Router) Proxy(ctx context.Context, runner fleet.Runner, model string, body []byte) ([]byte, error) {
	if runner.BaseURL == "" {
		return nil, fmt.Errorf("%w: runner %s has no HTTP endpoint", ErrNoRunners, runner.ID)
	}

	rewritten, err := rewriteModel(body, runner.Status.LocalModelName(model))
	if err != nil {
		return nil, fmt.Errorf("rewrite request body: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, RequestTimeout)
	defer cancel()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, runner.BaseURL+completionsPath, bytes.NewReader(rewritten))
	if err != nil {
		return nil, fmt.Errorf("build runner request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", ErrConnectionFailed, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &RunnerError{StatusCode: resp.StatusCode, Body: respBody}
	}
	return respBody, nil
}

// rewriteModel overwrites the model field of a JSON request body, leaving
// every other field untouched.
func rewriteModel(body []byte, model string) ([]byte, error) {
	var payload map[string]json.RawMessage
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, err
	}
	encoded, err := json.Marshal(model)
	if err != nil {
		return nil, err
	}
	payload["model"] = encoded
	return json.Marshal(payload)
}
