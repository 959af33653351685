// Package registry implements the request registry & scheduler (C7): it maps
// request ids to RestApiScript records, runs scripts in parallel, deduplicates
// in-flight one-shot requests, and publishes each script's last result.
package registry

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/wavesplatform/ride-evaluator/internal/chain"
	"github.com/wavesplatform/ride-evaluator/internal/rideeval"
	"github.com/wavesplatform/ride-evaluator/internal/scriptblockchain"
)

// RequestKey identifies one registered (account, request) script.
type RequestKey struct {
	Address     chain.Address
	RequestJSON string
}

// Tag deterministically maps the key onto a chain.Tag, so the same key
// always tags the same dependency-tracking identity across restarts of the
// same request (spec.md I4).
func (k RequestKey) Tag() chain.Tag {
	sum := sha256.Sum256([]byte(k.Address.String() + "\x00" + k.RequestJSON))
	return chain.Tag(hex.EncodeToString(sum[:]))
}

// RestApiScript is {key, view, request, last_result}. view is constructed
// fresh for every run rather than stored, since it must be pinned to the
// height of the round that is running it.
type RestApiScript struct {
	mu sync.RWMutex

	Key     RequestKey
	Request rideeval.Request

	lastResult  json.RawMessage
	lastUpdated int64 // epoch milliseconds
}

func (s *RestApiScript) setResult(result json.RawMessage, updatedAtMillis int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastResult = result
	s.lastUpdated = updatedAtMillis
}

// LastResult returns the last published result, wrapped with __lastUpdated.
func (s *RestApiScript) LastResult() (json.RawMessage, error) {
	s.mu.RLock()
	result, updated := s.lastResult, s.lastUpdated
	s.mu.RUnlock()
	return withLastUpdated(result, updated)
}

func withLastUpdated(result json.RawMessage, updatedAtMillis int64) (json.RawMessage, error) {
	var merged map[string]json.RawMessage
	if err := json.Unmarshal(result, &merged); err != nil {
		// Result is not a JSON object (e.g. a bare error); leave it untouched.
		return result, nil
	}
	stamp, err := json.Marshal(updatedAtMillis)
	if err != nil {
		return nil, err
	}
	merged["__lastUpdated"] = stamp
	return json.Marshal(merged)
}

// NowFunc returns the current time in epoch milliseconds; overridable in
// tests. Production code uses wallclock time, which is fine here: unlike the
// events/tagged packages, __lastUpdated is informational metadata, not a
// height or ordering key the invariants in spec.md §3/§8 depend on.
type NowFunc func() int64

// DataProvider is what the registry needs from the shared blockchain data to
// build a per-request adapter and to know the current authoritative height.
type DataProvider interface {
	Data() *chain.SharedBlockchainData
	Height() chain.Height
}

// Registry is the request registry & scheduler (C7).
type Registry struct {
	mu      sync.RWMutex
	scripts map[RequestKey]*RestApiScript
	byTag   map[chain.Tag]*RestApiScript

	admission singleflight.Group

	evaluator   rideeval.Evaluator
	provider    DataProvider
	now         NowFunc
	concurrency int

	runsMeter     metrics.Meter
	evalErrsMeter metrics.Meter
}

// New builds an empty Registry. concurrency bounds the evaluator worker
// pool's parallel fan-out within one runScripts round.
func New(evaluator rideeval.Evaluator, provider DataProvider, concurrency int) *Registry {
	return &Registry{
		scripts:       make(map[RequestKey]*RestApiScript),
		byTag:         make(map[chain.Tag]*RestApiScript),
		evaluator:     evaluator,
		provider:      provider,
		now:           func() int64 { return time.Now().UnixMilli() },
		concurrency:   concurrency,
		runsMeter:     metrics.NewRegisteredMeter("registry/runs", nil),
		evalErrsMeter: metrics.NewRegisteredMeter("registry/eval_errors", nil),
	}
}

// PreloadKnownRequests seeds the registry from a persisted request list at
// startup (spec.md §4.6: "On construction, storage is prefilled from a
// persistent request list").
func (r *Registry) PreloadKnownRequests(requests []RequestKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, key := range requests {
		if _, exists := r.scripts[key]; exists {
			continue
		}
		script := &RestApiScript{Key: key}
		if err := json.Unmarshal([]byte(key.RequestJSON), &script.Request); err != nil {
			log.Warn("Skipping malformed preloaded request", "key", key, "err", err)
			continue
		}
		r.scripts[key] = script
		r.byTag[key.Tag()] = script
	}
}

// RunScripts runs evaluate(view, address, request) in parallel across the
// target set, writing each new JSON into the script's last_result.
// forceAll=true targets every registered script (used by Starting's warm-up
// round); otherwise only affected targets. Affected tags with no registered
// script are skipped and not kept for a later round. Returns the error of
// the fan-out group; individual evaluation errors are stored as the
// script's result, not returned.
func (r *Registry) RunScripts(ctx context.Context, forceAll bool, affected map[chain.Tag]struct{}) error {
	targets := r.targetsFor(forceAll, affected)
	if len(targets) == 0 {
		return nil
	}

	height := r.provider.Height()
	data := r.provider.Data()

	group, gctx := errgroup.WithContext(ctx)
	if r.concurrency > 0 {
		group.SetLimit(r.concurrency)
	}

	for _, script := range targets {
		script := script
		group.Go(func() error {
			r.runOne(gctx, data, height, script)
			return nil
		})
	}
	return group.Wait()
}

func (r *Registry) targetsFor(forceAll bool, affected map[chain.Tag]struct{}) []*RestApiScript {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if forceAll {
		out := make([]*RestApiScript, 0, len(r.scripts))
		for _, s := range r.scripts {
			out = append(out, s)
		}
		return out
	}

	out := make([]*RestApiScript, 0, len(affected))
	for tag := range affected {
		if s, ok := r.byTag[tag]; ok {
			out = append(out, s)
		}
	}
	return out
}

func (r *Registry) runOne(ctx context.Context, data *chain.SharedBlockchainData, height chain.Height, script *RestApiScript) {
	select {
	case <-ctx.Done():
		return
	default:
	}

	view := scriptblockchain.New(data, script.Key.Tag(), height)
	result, err := r.evaluator.Evaluate(view, script.Key.Address, script.Request)
	if err != nil {
		r.evalErrsMeter.Mark(1)
		log.Error("Evaluation failed", "address", script.Key.Address, "err", err)
		result, _ = json.Marshal(rideeval.ErrorResult{Error: 500, Message: err.Error()})
	}
	script.setResult(result, r.now())
	r.runsMeter.Mark(1)
}

// GetCachedResultOrRun returns the last published result for (address,
// requestJSON) if the request is already registered; otherwise it admits the
// request exactly once across any concurrent duplicate callers, verifies the
// address carries a script, registers it, and runs it a single time.
func (r *Registry) GetCachedResultOrRun(ctx context.Context, address chain.Address, requestJSON string) (json.RawMessage, error) {
	key := RequestKey{Address: address, RequestJSON: requestJSON}

	r.mu.RLock()
	script, exists := r.scripts[key]
	r.mu.RUnlock()
	if exists {
		return script.LastResult()
	}

	admissionKey := fmt.Sprintf("%s|%s", address, requestJSON)
	result, err, _ := r.admission.Do(admissionKey, func() (any, error) {
		// Re-check under the singleflight key in case a concurrent admission
		// already finished while we were waiting to enter Do.
		r.mu.RLock()
		script, exists := r.scripts[key]
		r.mu.RUnlock()
		if exists {
			return script.LastResult()
		}

		if _, ok, err := r.provider.Data().View().AccountScript(address); err != nil {
			return nil, err
		} else if !ok {
			raw, err := json.Marshal(rideeval.ErrorResult{Error: 306, Message: fmt.Sprintf("Address %s is not a dApp", address)})
			return json.RawMessage(raw), err
		}

		var req rideeval.Request
		if err := json.Unmarshal([]byte(requestJSON), &req); err != nil {
			return nil, fmt.Errorf("registry: malformed request JSON: %w", err)
		}

		newScript := &RestApiScript{Key: key, Request: req}
		r.runOne(ctx, r.provider.Data(), r.provider.Height(), newScript)

		r.mu.Lock()
		if existing, ok := r.scripts[key]; ok {
			r.mu.Unlock()
			return existing.LastResult()
		}
		r.scripts[key] = newScript
		r.byTag[key.Tag()] = newScript
		r.mu.Unlock()

		return newScript.LastResult()
	})
	if err != nil {
		return nil, err
	}
	return result.(json.RawMessage), nil
}
