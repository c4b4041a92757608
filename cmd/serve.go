package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hirelens/calibration-cli/internal/alerting"
	"github.com/hirelens/calibration-cli/internal/analytics"
	"github.com/hirelens/calibration-cli/internal/baseline"
	"github.com/hirelens/calibration-cli/internal/model"
	"github.com/hirelens/calibration-cli/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the read-only reporting API and background alert checker",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		rules, err := alerting.Load(cfg)
		if err != nil {
			return err
		}

		resolver := baseline.NewResolver(st, cfg.Calibration.MinN, cfg.Calibration.MaxN)
		drift := analytics.NewDriftReporter(st, cfg.Drift, rules)
		health := analytics.NewHealthAnalyzer(st, cfg.Health, cfg.Quality, rules)

		if cfg.Alerting.WebhookURL != "" {
			checker := alerting.NewChecker(alerting.NewNotifier(cfg.Alerting), cfg.Alerting, drift, health)
			go checker.Run(ctx)
		}

		r := chi.NewRouter()
		r.Use(middleware.RequestID)
		r.Use(middleware.Recoverer)
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.Server.AllowedOrigins,
			AllowedMethods: []string{http.MethodGet},
		}))

		r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})

		r.Route("/api/v1", func(r chi.Router) {
			r.Get("/baseline", handleBaseline(resolver))
			r.Get("/drift", handleDrift(drift))
			r.Get("/model-health", handleModelHealth(health))
		})

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			_ = srv.Close()
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}
		return nil
	},
}

func handleBaseline(resolver *baseline.Resolver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		dims := model.Dimensions{
			Version:      r.URL.Query().Get("version"),
			Language:     r.URL.Query().Get("language"),
			PositionCode: r.URL.Query().Get("position"),
			IndustryCode: r.URL.Query().Get("industry"),
		}
		if dims.Version == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "version is required"})
			return
		}

		res, err := resolver.Resolve(r.Context(), dims)
		if eris.Is(err, baseline.ErrInsufficientData) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "no baseline with sufficient data"})
			return
		}
		if err != nil {
			zap.L().Error("baseline lookup failed", zap.String("dims", dims.Key()), zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "baseline lookup failed"})
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func handleDrift(reporter *analytics.DriftReporter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		window := 14
		if raw := r.URL.Query().Get("window"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "window must be a positive integer"})
				return
			}
			window = n
		}

		dims := model.Dimensions{
			Version:      r.URL.Query().Get("version"),
			Language:     r.URL.Query().Get("language"),
			PositionCode: r.URL.Query().Get("position"),
			IndustryCode: r.URL.Query().Get("industry"),
		}

		report, err := reporter.Report(r.Context(), window, dims)
		if err != nil {
			zap.L().Error("drift report failed", zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "drift report failed"})
			return
		}
		writeJSON(w, http.StatusOK, report)
	}
}

func handleModelHealth(analyzer *analytics.HealthAnalyzer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter := store.AssessmentFilter{
			Dims: model.Dimensions{
				Version:      r.URL.Query().Get("version"),
				Language:     r.URL.Query().Get("language"),
				PositionCode: r.URL.Query().Get("position"),
				IndustryCode: r.URL.Query().Get("industry"),
			},
		}
		if raw := r.URL.Query().Get("since_days"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "since_days must be a positive integer"})
				return
			}
			filter.Since = time.Now().UTC().AddDate(0, 0, -n)
		}

		report, err := analyzer.Report(r.Context(), filter)
		if err != nil {
			zap.L().Error("model health report failed", zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "model health report failed"})
			return
		}
		writeJSON(w, http.StatusOK, report)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
