package gateway

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"tokensale/config"
	"tokensale/native/sale"
	"tokensale/native/vesting"
)

// Server exposes a read-only HTTP view over the sale and vesting engines.
// All settlement mutations happen through the engines directly; the gateway
// never writes state.
type Server struct {
	sale    *sale.Engine
	vesting *vesting.Engine
	logger  *slog.Logger
	handler http.Handler
}

type Config struct {
	RateLimitPerSecond float64
	RateLimitBurst     int
}

func NewServer(saleEngine *sale.Engine, vestingEngine *vesting.Engine, cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		sale:    saleEngine,
		vesting: vestingEngine,
		logger:  logger,
	}

	obs := NewObservability(logger)
	limiter := NewRateLimiter(cfg.RateLimitPerSecond, cfg.RateLimitBurst)

	r := chi.NewRouter()
	r.Use(requestID)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", obs.MetricsHandler())

	r.Route("/v1", func(v1 chi.Router) {
		v1.Use(limiter.Middleware)
		v1.With(obs.Middleware("sale")).Get("/sale", s.handleSaleSummary)
		v1.With(obs.Middleware("tiers")).Get("/sale/tiers/{tier}", s.handleTierLimit)
		v1.With(obs.Middleware("contributions")).Get("/sale/contributions/{address}", s.handleContribution)
		v1.With(obs.Middleware("vesting")).Get("/vesting/schedules/{address}", s.handleSchedule)
	})

	s.handler = r
	return s
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler { return s.handler }

type saleSummary struct {
	Phase           string `json:"phase"`
	TargetRaised    string `json:"targetRaised"`
	TotalRaised     string `json:"totalRaised"`
	SalePrice       string `json:"salePrice"`
	ProjectToken    string `json:"projectToken"`
	ProjectDecimals uint8  `json:"projectDecimals"`
	MerkleRoot      string `json:"merkleRoot"`
}

func (s *Server) handleSaleSummary(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.sale.Config()
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, saleSummary{
		Phase:           cfg.Phase.String(),
		TargetRaised:    bigString(cfg.TargetRaised),
		TotalRaised:     bigString(cfg.TotalRaised),
		SalePrice:       bigString(cfg.SalePrice),
		ProjectToken:    hexAddress(cfg.ProjectToken),
		ProjectDecimals: cfg.ProjectDecimals,
		MerkleRoot:      "0x" + hex.EncodeToString(cfg.MerkleRoot[:]),
	})
}

type tierLimitResponse struct {
	Tier  uint8  `json:"tier"`
	Limit string `json:"limit"`
}

func (s *Server) handleTierLimit(w http.ResponseWriter, r *http.Request) {
	tier, err := strconv.ParseUint(chi.URLParam(r, "tier"), 10, 8)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid tier")
		return
	}
	limit, lookupErr := s.sale.TierLimit(uint8(tier))
	switch {
	case errors.Is(lookupErr, sale.ErrInvalidTier):
		writeError(w, http.StatusBadRequest, "invalid tier")
	case errors.Is(lookupErr, sale.ErrTierNotConfigured):
		writeError(w, http.StatusNotFound, "tier not configured")
	case lookupErr != nil:
		s.internalError(w, r, lookupErr)
	default:
		writeJSON(w, http.StatusOK, tierLimitResponse{Tier: uint8(tier), Limit: bigString(limit)})
	}
}

type contributionResponse struct {
	Participant  string `json:"participant"`
	Token        string `json:"token"`
	Amount       string `json:"amount"`
	Decimals     uint8  `json:"decimals"`
	RefundAmount string `json:"refundAmount"`
	Claimed      bool   `json:"claimed"`
}

func (s *Server) handleContribution(w http.ResponseWriter, r *http.Request) {
	participant, err := config.ParseAddress(chi.URLParam(r, "address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid address")
		return
	}
	record, ok, lookupErr := s.sale.Contribution(participant)
	if lookupErr != nil {
		s.internalError(w, r, lookupErr)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "no contribution")
		return
	}
	writeJSON(w, http.StatusOK, contributionResponse{
		Participant:  hexAddress(record.Participant),
		Token:        hexAddress(record.Token),
		Amount:       bigString(record.Amount),
		Decimals:     record.Decimals,
		RefundAmount: bigString(record.RefundAmount),
		Claimed:      record.Claimed,
	})
}

type scheduleResponse struct {
	Beneficiary string `json:"beneficiary"`
	Total       string `json:"total"`
	Released    string `json:"released"`
	Releasable  string `json:"releasable"`
	Start       int64  `json:"start"`
	Cliff       int64  `json:"cliff"`
	Duration    int64  `json:"duration"`
}

func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	beneficiary, err := config.ParseAddress(chi.URLParam(r, "address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid address")
		return
	}
	sched, ok, lookupErr := s.vesting.Schedule(beneficiary)
	if lookupErr != nil {
		s.internalError(w, r, lookupErr)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "no schedule")
		return
	}
	releasable, relErr := s.vesting.Releasable(beneficiary)
	if relErr != nil {
		s.internalError(w, r, relErr)
		return
	}
	writeJSON(w, http.StatusOK, scheduleResponse{
		Beneficiary: hexAddress(sched.Beneficiary),
		Total:       bigString(sched.Total),
		Released:    bigString(sched.Released),
		Releasable:  bigString(releasable),
		Start:       sched.Start,
		Cliff:       sched.Cliff,
		Duration:    sched.Duration,
	})
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, err error) {
	s.logger.Error("gateway query failed", "path", r.URL.Path, "error", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func hexAddress(addr [20]byte) string {
	return "0x" + hex.EncodeToString(addr[:])
}
