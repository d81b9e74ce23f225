package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	redis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/divvyhq/divvy/internal/apperr"
	"github.com/divvyhq/divvy/internal/config"
	"github.com/divvyhq/divvy/internal/currency"
	"github.com/divvyhq/divvy/internal/service"
	"github.com/divvyhq/divvy/internal/storage/sqlite"
	"github.com/divvyhq/divvy/pkg/logging"
)

func main() {
	logging.Setup()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}
	defer store.Close()
	slog.Info("Storage initialized", "database", cfg.DBPath)

	rates, err := cfg.ParseStaticRates()
	if err != nil {
		slog.Error("Failed to parse static rates", "error", err)
		os.Exit(1)
	}

	var cache currency.Cache = currency.NewMemoryCache()
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer client.Close()
		cache = currency.NewRedisCache(client)
		slog.Info("Rate cache using redis", "addr", cfg.RedisAddr)
	}

	converter := currency.NewService(
		currency.NewStaticSource(rates),
		cache,
		store,
		cfg.RateTTL,
		cfg.ConversionTimeout,
	)

	ledger := service.NewLedgerService(store, converter)
	settlements := service.NewSettlementService(store, converter)

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	// Read-only debug routes; the engine is a library contract and the
	// real transport sits elsewhere.
	mux.HandleFunc("GET /groups/{id}/balances", func(w http.ResponseWriter, r *http.Request) {
		balances, err := ledger.GetGroupBalances(r.Context(), r.PathValue("id"), r.URL.Query().Get("currency"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, balances)
	})
	mux.HandleFunc("GET /groups/{id}/debts", func(w http.ResponseWriter, r *http.Request) {
		debts, err := ledger.GetSimplifiedDebts(r.Context(), r.PathValue("id"), r.URL.Query().Get("currency"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, debts)
	})
	mux.HandleFunc("POST /groups/{id}/settlements", func(w http.ResponseWriter, r *http.Request) {
		var in service.CreateSettlementInput
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			http.Error(w, "malformed settlement body", http.StatusBadRequest)
			return
		}
		in.GroupID = r.PathValue("id")
		st, err := settlements.Create(r.Context(), in)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, st)
	})
	mux.HandleFunc("POST /settlements/{id}/complete", func(w http.ResponseWriter, r *http.Request) {
		st, err := settlements.Complete(r.Context(), r.PathValue("id"), r.URL.Query().Get("actor"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, st)
	})
	mux.HandleFunc("POST /settlements/{id}/cancel", func(w http.ResponseWriter, r *http.Request) {
		st, err := settlements.Cancel(r.Context(), r.PathValue("id"), r.URL.Query().Get("actor"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, st)
	})
	mux.HandleFunc("DELETE /settlements/{id}", func(w http.ResponseWriter, r *http.Request) {
		if err := settlements.Delete(r.Context(), r.PathValue("id"), r.URL.Query().Get("actor")); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	handler := loggingMiddleware(mux)
	slog.Info("Server starting", "address", cfg.ListenAddr)
	if err := http.ListenAndServe(cfg.ListenAddr, handler); err != nil {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch apperr.KindOf(err) {
	case apperr.KindNotFound:
		status = http.StatusNotFound
	case apperr.KindPermission:
		status = http.StatusForbidden
	case apperr.KindValidation, apperr.KindInvalidStateTransition:
		status = http.StatusBadRequest
	case apperr.KindConversion:
		status = http.StatusBadGateway
	}
	var appErr *apperr.Error
	msg := err.Error()
	if errors.As(err, &appErr) {
		msg = appErr.Msg
	}
	http.Error(w, msg, status)
}

// loggingMiddleware logs all incoming requests
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		next.ServeHTTP(w, r)

		slog.Info("Request completed",
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}
