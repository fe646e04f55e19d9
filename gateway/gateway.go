package gateway

import (
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pegstable/gateway/middleware"
	"pegstable/native/psm"
)

// Config wires the read-only HTTP surface to the stability module.
type Config struct {
	Module        *psm.PegStabilityModule
	RateLimiter   *middleware.RateLimiter
	Observability *middleware.Observability
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

// New builds the gateway handler: health, metrics, and the psm status,
// quote, and receipt endpoints.
func New(cfg Config) (http.Handler, error) {
	if cfg.Module == nil {
		return nil, errors.New("gateway: module required")
	}
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	metricsHandler := http.Handler(promhttp.Handler())
	if cfg.Observability != nil {
		gatherers := prometheus.Gatherers{prometheus.DefaultGatherer, cfg.Observability.Gatherer()}
		metricsHandler = promhttp.HandlerFor(gatherers, promhttp.HandlerOpts{})
	}
	r.Handle("/metrics", metricsHandler)

	r.Route("/v1/psm", func(sub chi.Router) {
		if cfg.RateLimiter != nil {
			sub.Use(cfg.RateLimiter.Middleware("psm"))
		}
		sub.With(observe(cfg.Observability, "/v1/psm/status")).Get("/status", handleStatus(cfg.Module))
		sub.With(observe(cfg.Observability, "/v1/psm/quote")).Get("/quote", handleQuote(cfg.Module))
		sub.With(observe(cfg.Observability, "/v1/psm/receipts")).Get("/receipts", handleReceipts(cfg.Module))
	})
	return r, nil
}

func observe(obs *middleware.Observability, route string) func(http.Handler) http.Handler {
	if obs == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return obs.Middleware(route)
}

func handleStatus(module *psm.PegStabilityModule) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		status, err := module.Status()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, status)
	}
}

type quoteResponse struct {
	Direction string `json:"direction"`
	AmountIn  string `json:"amountIn"`
	AmountOut string `json:"amountOut"`
}

func handleQuote(module *psm.PegStabilityModule) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		direction := strings.ToLower(strings.TrimSpace(req.URL.Query().Get("direction")))
		amountParam := strings.TrimSpace(req.URL.Query().Get("amountIn"))
		amountIn, ok := new(big.Int).SetString(amountParam, 10)
		if !ok || amountIn.Sign() <= 0 {
			writeError(w, http.StatusBadRequest, errors.New("amountIn must be a positive integer"))
			return
		}
		var out *big.Int
		var err error
		switch direction {
		case string(psm.DirectionMint):
			out, err = module.GetMintAmountOut(amountIn)
		case string(psm.DirectionRedeem):
			out, err = module.GetRedeemAmountOut(amountIn)
		default:
			writeError(w, http.StatusBadRequest, errors.New("direction must be mint or redeem"))
			return
		}
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, psm.ErrInvalidOracle) {
				status = http.StatusServiceUnavailable
			}
			writeError(w, status, err)
			return
		}
		writeJSON(w, http.StatusOK, quoteResponse{
			Direction: direction,
			AmountIn:  amountIn.String(),
			AmountOut: out.String(),
		})
	}
}

type receiptsResponse struct {
	Receipts   []receiptView `json:"receipts"`
	NextCursor string        `json:"nextCursor,omitempty"`
}

type receiptView struct {
	ReceiptID  string `json:"receiptId"`
	Direction  string `json:"direction"`
	AmountIn   string `json:"amountIn"`
	AmountOut  string `json:"amountOut"`
	Rate       string `json:"rate"`
	ObservedAt int64  `json:"observedAt"`
}

func handleReceipts(module *psm.PegStabilityModule) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		query := req.URL.Query()
		startTs, err := parseOptionalInt(query.Get("start"))
		if err != nil {
			writeError(w, http.StatusBadRequest, errors.New("start must be a unix timestamp"))
			return
		}
		endTs, err := parseOptionalInt(query.Get("end"))
		if err != nil {
			writeError(w, http.StatusBadRequest, errors.New("end must be a unix timestamp"))
			return
		}
		limit := 0
		if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed < 0 {
				writeError(w, http.StatusBadRequest, errors.New("limit must be a non-negative integer"))
				return
			}
			limit = parsed
		}
		receipts, cursor, err := module.Ledger().List(startTs, endTs, query.Get("cursor"), limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		resp := receiptsResponse{Receipts: make([]receiptView, 0, len(receipts)), NextCursor: cursor}
		for _, receipt := range receipts {
			resp.Receipts = append(resp.Receipts, receiptView{
				ReceiptID:  receipt.ReceiptID,
				Direction:  string(receipt.Direction),
				AmountIn:   receipt.AmountIn.String(),
				AmountOut:  receipt.AmountOut.String(),
				Rate:       receipt.Rate,
				ObservedAt: receipt.ObservedAt,
			})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func parseOptionalInt(raw string) (int64, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, nil
	}
	return strconv.ParseInt(trimmed, 10, 64)
}
