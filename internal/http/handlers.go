package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/fleet-dispatch/internal/clock"
	"github.com/example/fleet-dispatch/internal/config"
	"github.com/example/fleet-dispatch/internal/dispatch"
	"github.com/example/fleet-dispatch/internal/geo"
	"github.com/example/fleet-dispatch/internal/ingest"
	"github.com/example/fleet-dispatch/internal/models"
	"github.com/example/fleet-dispatch/internal/observability"
	"github.com/example/fleet-dispatch/internal/offer"
	"github.com/example/fleet-dispatch/internal/points"
	"github.com/example/fleet-dispatch/internal/review"
	"github.com/example/fleet-dispatch/internal/ride"
	"github.com/example/fleet-dispatch/internal/storage"
)

type Server struct {
	Engine *dispatch.Engine
	Review *review.Service
	Ledger *points.Ledger
	Store  storage.Store
	Geo    geo.Geo
	Kafka  *ingest.KafkaProducer
	WSReg  *dispatch.WSRegistry
	Clock  clock.Clock

	cfg    config.ServerConfig
	logger *slog.Logger
	mux    *mux.Router
}

// NewServer wires the full dispatch stack from config: Redis geo index and
// Postgres store when configured, in-memory fallbacks otherwise.
func NewServer(cfg config.ServerConfig, logger *slog.Logger) *Server {
	var ggeo geo.Geo
	if cfg.RedisAddr != "" {
		ggeo = geo.NewRedisGeo(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisGeoKey)
	} else {
		ggeo = geo.NewIndex()
	}

	var store storage.Store
	if cfg.PGDSN != "" {
		if ps, err := storage.NewPostgresStore(cfg.PGDSN); err == nil {
			store = ps
		} else {
			logger.Warn("postgres unavailable, using memory store", "error", err)
		}
	}
	if store == nil {
		store = storage.NewMemoryStore()
	}

	var kp *ingest.KafkaProducer
	if len(cfg.KafkaBrokers) > 0 {
		kp = ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
	}

	c := clock.System{}
	wsreg := dispatch.NewWSRegistry()
	reg := offer.NewRegistry(c)
	engine := dispatch.NewEngine(reg, store, store, ggeo, wsreg, c, logger, cfg.OfferTTL, cfg.EligibilityRadiusM, cfg.OfferFanOut)
	ledger := points.NewLedger(store, c)
	rev := review.NewService(store, store, ledger, c, logger, cfg.ScoreThresholdM, cfg.ScoreMaxPoints)

	s := &Server{
		Engine: engine,
		Review: rev,
		Ledger: ledger,
		Store:  store,
		Geo:    ggeo,
		Kafka:  kp,
		WSReg:  wsreg,
		Clock:  c,
		cfg:    cfg,
		logger: logger,
		mux:    mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/v1/rides/request", s.handleRideRequest).Methods("POST")
	s.mux.HandleFunc("/api/v1/rides/{ride_id}", s.handleRideStatus).Methods("GET")
	s.mux.HandleFunc("/api/v1/rides/{ride_id}/accept", s.handleAccept).Methods("POST")
	s.mux.HandleFunc("/api/v1/rides/{ride_id}/reject", s.handleReject).Methods("POST")
	s.mux.HandleFunc("/api/v1/rides/{ride_id}/pickup", s.handlePickup).Methods("POST")
	s.mux.HandleFunc("/api/v1/rides/{ride_id}/complete", s.handleComplete).Methods("POST")
	s.mux.HandleFunc("/api/v1/operators", s.handleRegisterOperator).Methods("POST")
	s.mux.HandleFunc("/api/v1/operators/{operator_id}/offers", s.handleOperatorOffers).Methods("GET")
	s.mux.HandleFunc("/api/v1/operators/{operator_id}/profile", s.handleOperatorProfile).Methods("GET")
	s.mux.HandleFunc("/internal/operator/locations", s.handleOperatorLocation).Methods("POST")
	s.mux.HandleFunc("/api/v1/admin/reviews", s.handleAdminReviews).Methods("GET")
	s.mux.HandleFunc("/api/v1/admin/reviews/{review_id}/resolve", s.handleAdminResolve).Methods("POST")
	s.mux.HandleFunc("/api/v1/admin/analytics", s.handleAnalytics).Methods("GET")
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/ws/{operator_id}", s.handleWS)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) handleRideRequest(w http.ResponseWriter, r *http.Request) {
	var req models.RideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	rd, err := s.Engine.RequestRide(req)
	if errors.Is(err, dispatch.ErrNoEligibleOperators) {
		// the ride keeps waiting in requested; tell the rider to retry
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]any{"ride_id": rd.ID, "status": rd.Status, "error": "no operators available"})
		return
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rd)
}

func (s *Server) handleRideStatus(w http.ResponseWriter, r *http.Request) {
	rd, err := s.Store.GetRide(mux.Vars(r)["ride_id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rd)
}

type acceptRequest struct {
	OperatorID string `json:"operator_id"`
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	var req acceptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.OperatorID == "" {
		http.Error(w, "operator_id required", http.StatusBadRequest)
		return
	}
	if err := s.Engine.Accept(mux.Vars(r)["ride_id"], req.OperatorID); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"accepted": true})
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	var req acceptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.OperatorID == "" {
		http.Error(w, "operator_id required", http.StatusBadRequest)
		return
	}
	if err := s.Engine.Reject(mux.Vars(r)["ride_id"], req.OperatorID); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePickup(w http.ResponseWriter, r *http.Request) {
	if err := s.Engine.Pickup(mux.Vars(r)["ride_id"]); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": models.RideInProgress})
}

type completeRequest struct {
	Dropoff models.Coord `json:"dropoff"`
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	var req completeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	rd, err := s.Engine.Complete(mux.Vars(r)["ride_id"], req.Dropoff)
	if err != nil {
		s.writeError(w, err)
		return
	}
	res, err := s.Review.Score(rd.ID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ride_id":          rd.ID,
		"distance_error_m": res.DistanceErrorM,
		"points_awarded":   res.Points,
		"needs_review":     res.NeedsReview,
	})
}

func (s *Server) handleRegisterOperator(w http.ResponseWriter, r *http.Request) {
	var op models.Operator
	if err := json.NewDecoder(r.Body).Decode(&op); err != nil || op.ID == "" {
		http.Error(w, "operator id required", http.StatusBadRequest)
		return
	}
	if op.Status == "" {
		op.Status = models.OperatorAvailable
	}
	op.Updated = s.Clock.Now()
	if err := s.Store.SaveOperator(&op); err != nil {
		s.writeError(w, err)
		return
	}
	s.Geo.Upsert(op)
	if op.Status == models.OperatorAvailable {
		observability.OperatorsAvailable.Inc()
	}
	writeJSON(w, http.StatusCreated, op)
}

func (s *Server) handleOperatorOffers(w http.ResponseWriter, r *http.Request) {
	alerts := s.Engine.AlertsFor(mux.Vars(r)["operator_id"])
	writeJSON(w, http.StatusOK, map[string]any{"offers": alerts})
}

type profileResponse struct {
	OperatorID string  `json:"operator_id"`
	Name       string  `json:"name"`
	Status     string  `json:"status"`
	Rating     float64 `json:"rating"`
	Points     int     `json:"points"`
	TotalRides int     `json:"total_rides"`
	// nil means the decay projection does not apply, not zero
	PointsExpiringSoon *int         `json:"points_expiring_soon,omitempty"`
	RecentRides        []recentRide `json:"recent_rides"`
}

type recentRide struct {
	RideID      string `json:"ride_id"`
	Status      string `json:"status"`
	Points      *int   `json:"points,omitempty"`
	CompletedAt string `json:"completed_at,omitempty"`
}

func (s *Server) handleOperatorProfile(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["operator_id"]
	op, err := s.Store.GetOperator(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	balance, err := s.Ledger.Balance(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	resp := profileResponse{
		OperatorID: op.ID,
		Name:       op.Name,
		Status:     string(op.Status),
		Rating:     op.Rating,
		Points:     balance,
		TotalRides: op.TotalRides,
	}
	if exp, err := s.Ledger.ExpiringSoon(id, s.cfg.PointsExpiryAge); err == nil && exp > 0 {
		resp.PointsExpiringSoon = &exp
	}
	if rides, err := s.Store.RidesByOperator(id, 10); err == nil {
		for _, rd := range rides {
			rr := recentRide{RideID: rd.ID, Status: string(rd.Status), Points: rd.Points}
			if rd.CompletedAt != nil {
				rr.CompletedAt = rd.CompletedAt.UTC().Format("2006-01-02T15:04:05Z")
			}
			resp.RecentRides = append(resp.RecentRides, rr)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleOperatorLocation(w http.ResponseWriter, r *http.Request) {
	var op models.Operator
	if err := json.NewDecoder(r.Body).Decode(&op); err != nil || op.ID == "" {
		http.Error(w, "operator id required", http.StatusBadRequest)
		return
	}
	if op.Status == "" {
		op.Status = models.OperatorAvailable
	}
	op.Updated = s.Clock.Now()
	// publish to kafka if configured; the consumer keeps Redis in sync
	if s.Kafka != nil {
		_ = s.Kafka.PublishLocation(op)
	}
	s.Geo.Upsert(op)
	if existing, err := s.Store.GetOperator(op.ID); err == nil {
		if existing.Status == models.OperatorAvailable && op.Status != models.OperatorAvailable {
			observability.OperatorsAvailable.Dec()
		}
		if existing.Status != models.OperatorAvailable && op.Status == models.OperatorAvailable {
			observability.OperatorsAvailable.Inc()
		}
		existing.Loc = op.Loc
		existing.Status = op.Status
		existing.Updated = op.Updated
		_ = s.Store.UpdateOperator(existing)
	} else {
		_ = s.Store.SaveOperator(&op)
		if op.Status == models.OperatorAvailable {
			observability.OperatorsAvailable.Inc()
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAdminReviews(w http.ResponseWriter, r *http.Request) {
	items, err := s.Review.Pending()
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reviews": items})
}

type resolveRequest struct {
	Action         string `json:"action"`
	OverridePoints *int   `json:"override_points,omitempty"`
	AdminID        string `json:"admin_id"`
}

func (s *Server) handleAdminResolve(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	action := review.Action(req.Action)
	if action != review.ActionApprove && action != review.ActionAdjust {
		http.Error(w, "action must be approve or adjust", http.StatusBadRequest)
		return
	}
	if err := s.Review.Resolve(mux.Vars(r)["review_id"], action, req.OverridePoints, req.AdminID); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"resolved": true})
}

func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	counts, err := s.Store.CountByStatus()
	if err != nil {
		s.writeError(w, err)
		return
	}
	total := 0
	for _, n := range counts {
		total += n
	}
	resolved := counts[models.RideResolved]
	rate := 0.0
	if total > 0 {
		rate = float64(resolved) / float64(total) * 100
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total_rides":     total,
		"resolved_rides":  resolved,
		"pending_reviews": counts[models.RidePendingReview],
		"completion_rate": rate,
		"by_status":       counts,
	})
}

var upgrader = websocket.Upgrader{}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["operator_id"]
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, "upgrade failed", http.StatusBadRequest)
		return
	}
	s.WSReg.Add(id, conn)
	// reader drains control frames and drops the session when the peer closes
	go func() {
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				s.WSReg.Remove(id)
				return
			}
		}
	}()
}

// writeError maps the typed domain errors onto HTTP statuses. Offer races
// and expiries all read as "offer no longer available" to the operator.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, offer.ErrExpired), errors.Is(err, offer.ErrAlreadyConsumed), errors.Is(err, offer.ErrNotFound):
		writeJSON(w, http.StatusConflict, map[string]any{"error": "offer no longer available"})
	case errors.Is(err, offer.ErrNotEligible):
		writeJSON(w, http.StatusForbidden, map[string]any{"error": "not eligible for this offer"})
	case errors.Is(err, offer.ErrConflict):
		writeJSON(w, http.StatusConflict, map[string]any{"error": "offer already open"})
	case errors.Is(err, ride.ErrInvalidTransition):
		s.logger.Error("invalid ride transition", "error", err)
		writeJSON(w, http.StatusConflict, map[string]any{"error": "ride state changed, refresh"})
	case errors.Is(err, review.ErrInvalidPoints):
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "override points out of range"})
	case errors.Is(err, review.ErrAlreadyResolved):
		writeJSON(w, http.StatusConflict, map[string]any{"error": "review already resolved"})
	case errors.Is(err, review.ErrNotScorable):
		writeJSON(w, http.StatusConflict, map[string]any{"error": "ride not scorable"})
	case errors.Is(err, storage.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "not found"})
	default:
		s.logger.Error("internal error", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
