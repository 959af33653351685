// Package rideeval defines the boundary to the RIDE compiler/evaluator,
// which spec.md treats as an opaque external collaborator
// (evaluate(blockchain_view, address, request) -> JSON). It also ships a
// small reference Evaluator, grounded on the teacher's go-bexpr dependency,
// that handles the comparison-style expressions spec.md's worked examples
// use (e.g. "getIntegerValue(Address(...), \"x\") > 0") without pretending
// to be a full RIDE compiler.
package rideeval

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"

	"github.com/hashicorp/go-bexpr"

	"github.com/wavesplatform/ride-evaluator/internal/chain"
)

// Request is the body of POST /utils/script/evaluate/{address}.
type Request struct {
	Expr string `json:"expr"`
}

// ErrorResult is the validation-error response envelope for dApp-absence and
// evaluation failures (spec.md §6, §7 error kind 4).
type ErrorResult struct {
	Error   int    `json:"error"`
	Message string `json:"message"`
}

// Result is the successful evaluation envelope.
type Result struct {
	Result     json.RawMessage `json:"result"`
	Complexity int64           `json:"complexity,omitempty"`
	Trace      []string        `json:"trace,omitempty"`
}

// Evaluator is the opaque collaborator: evaluate(view, address, request).
type Evaluator interface {
	Evaluate(view chain.Blockchain, address chain.Address, request Request) (json.RawMessage, error)
}

const (
	errorCodeNotADApp     = 306
	errorCodeScriptFailed = 307
)

var comparisonPattern = regexp.MustCompile(`^getIntegerValue\(Address\(([0-9a-fA-F]{52})\),\s*"([^"]+)"\)\s*(>=|<=|==|!=|>|<)\s*(-?\d+)\s*$`)

// comparisonDatum is the struct go-bexpr evaluates the parsed comparison
// against: a single named field carrying the looked-up integer value.
type comparisonDatum struct {
	Value int64 `bexpr:"value"`
}

// ReferenceEvaluator implements Evaluator for the subset of RIDE spec.md's
// worked examples exercise: integer-valued getIntegerValue comparisons
// against a dApp's account data. Any other expression form, or a read of an
// account without a script, evaluates to an error result rather than
// attempting a full RIDE evaluation.
type ReferenceEvaluator struct{}

func NewReferenceEvaluator() *ReferenceEvaluator { return &ReferenceEvaluator{} }

func (ReferenceEvaluator) Evaluate(view chain.Blockchain, address chain.Address, request Request) (json.RawMessage, error) {
	if _, ok, err := view.AccountScript(address); err != nil {
		return nil, err
	} else if !ok {
		return marshalError(errorCodeNotADApp, fmt.Sprintf("Address %s is not a dApp", address))
	}

	match := comparisonPattern.FindStringSubmatch(request.Expr)
	if match == nil {
		return marshalError(errorCodeScriptFailed, "unsupported expression: "+request.Expr)
	}

	key := match[2]
	op := match[3]
	threshold, err := strconv.ParseInt(match[4], 10, 64)
	if err != nil {
		return marshalError(errorCodeScriptFailed, "malformed literal: "+match[4])
	}

	entry, ok, err := view.AccountData(address, key)
	if err != nil {
		return nil, err
	}
	if !ok || entry.Type != chain.DataEntryInteger {
		return marshalError(errorCodeScriptFailed, fmt.Sprintf("data entry %q not found or not an Integer", key))
	}

	expr := fmt.Sprintf("value %s %d", op, threshold)
	evaluator, err := bexpr.CreateEvaluator(expr)
	if err != nil {
		return marshalError(errorCodeScriptFailed, "internal comparison error: "+err.Error())
	}
	result, err := evaluator.Evaluate(comparisonDatum{Value: entry.IntegerValue})
	if err != nil {
		return marshalError(errorCodeScriptFailed, "internal comparison error: "+err.Error())
	}

	payload, err := json.Marshal(struct {
		Type  string `json:"type"`
		Value bool   `json:"value"`
	}{Type: "Boolean", Value: result})
	if err != nil {
		return nil, err
	}
	return json.Marshal(Result{Result: payload})
}

func marshalError(code int, message string) (json.RawMessage, error) {
	return json.Marshal(ErrorResult{Error: code, Message: message})
}
