// Package api implements the HTTP façade (spec.md §6's "HTTP surface"):
// POST /utils/script/evaluate/{address} and the supplemental /status
// endpoint. Routing follows the routes/controllers split of the
// orbas1-Synnergy pack member's walletserver.
package api

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/wavesplatform/ride-evaluator/internal/chain"
	"github.com/wavesplatform/ride-evaluator/internal/health"
	"github.com/wavesplatform/ride-evaluator/internal/rideeval"
)

// evaluateBodyLimit bounds the evaluate request body; spec.md's requests are
// a small JSON object, never a bulk payload.
const evaluateBodyLimit = 1 << 16

var errInvalidAddressLength = errors.New("address must be 26 bytes hex-encoded")

// Scheduler is what the evaluate endpoint needs from the registry.
type Scheduler interface {
	GetCachedResultOrRun(ctx context.Context, address chain.Address, requestJSON string) (json.RawMessage, error)
}

// Controller holds the evaluate/status handlers' dependencies.
type Controller struct {
	scheduler Scheduler
	tracker   *health.Tracker
}

func NewController(scheduler Scheduler, tracker *health.Tracker) *Controller {
	return &Controller{scheduler: scheduler, tracker: tracker}
}

// Evaluate serves POST /utils/script/evaluate/{address}.
func (c *Controller) Evaluate(w http.ResponseWriter, r *http.Request) {
	addrHex := mux.Vars(r)["address"]
	address, err := parseAddress(addrHex)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, rideeval.ErrorResult{Error: 199, Message: "invalid address: " + err.Error()})
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, evaluateBodyLimit))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, rideeval.ErrorResult{Error: 198, Message: "invalid request body: " + err.Error()})
		return
	}

	result, err := c.scheduler.GetCachedResultOrRun(r.Context(), address, string(body))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, rideeval.ErrorResult{Error: 500, Message: err.Error()})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(result)
}

// Status serves GET /status.
func (c *Controller) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, c.tracker.Status())
}

func parseAddress(addrHex string) (chain.Address, error) {
	var addr chain.Address
	decoded, err := hex.DecodeString(addrHex)
	if err != nil {
		return addr, err
	}
	if len(decoded) != len(addr) {
		return addr, errInvalidAddressLength
	}
	copy(addr[:], decoded)
	return addr, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// NewRouter registers the HTTP surface and wraps it with the configured CORS
// policy (spec.md §9 supplement, teacher's rs/cors usage).
func NewRouter(c *Controller, allowedOrigins []string) http.Handler {
	r := mux.NewRouter()
	r.Use(requestLogger)
	r.HandleFunc("/utils/script/evaluate/{address}", c.Evaluate).Methods(http.MethodPost)
	r.HandleFunc("/status", c.Status).Methods(http.MethodGet)

	corsMiddleware := cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Content-Type"},
	})
	return corsMiddleware.Handler(r)
}

// requestLogger tags every request with a correlation id and logs method,
// path, and duration, the same per-request logging shape as the
// orbas1-Synnergy walletserver's middleware.Logger.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := uuid.NewString()
		next.ServeHTTP(w, r)
		log.Debug("http request", "id", requestID, "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}
