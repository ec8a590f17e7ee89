package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/silveradrian/cylvy-analyze-mkt-researchv1-sub001/internal/engine"
	"github.com/silveradrian/cylvy-analyze-mkt-researchv1-sub001/internal/model"
	"github.com/silveradrian/cylvy-analyze-mkt-researchv1-sub001/internal/monitor"
	"github.com/silveradrian/cylvy-analyze-mkt-researchv1-sub001/internal/notify"
	"github.com/silveradrian/cylvy-analyze-mkt-researchv1-sub001/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the pipeline API server",
	Long:  "Serves the execution API (start, status, cancel, resume) and runs the watchdog in-process.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		items, _ := cmd.Flags().GetInt("simulate-items")
		eng, st, err := initEngine(ctx, simulationRunners(items))
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		go monitor.New(cfg, st, notify.ForConfig(cfg.Notify.WebhookURL)).Run(ctx)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: apiRouter(eng),
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
			eng.Wait()
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}
		return nil
	},
}

// apiRouter builds the execution API.
func apiRouter(eng *engine.Engine) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/executions", func(r chi.Router) {
		r.Post("/", func(w http.ResponseWriter, req *http.Request) {
			var body struct {
				Phases  []string `json:"phases"`
				Trigger string   `json:"trigger"`
			}
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
				writeError(w, http.StatusBadRequest, "invalid request body")
				return
			}

			trigger := model.TriggerManual
			if body.Trigger != "" {
				trigger = model.TriggerMode(body.Trigger)
			}
			if trigger != model.TriggerManual && trigger != model.TriggerScheduled {
				writeError(w, http.StatusBadRequest, "unknown trigger mode")
				return
			}
			phases := make([]model.PhaseName, 0, len(body.Phases))
			for _, p := range body.Phases {
				phases = append(phases, model.PhaseName(p))
			}

			exec, err := eng.Start(req.Context(), trigger, phases)
			if err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			writeJSON(w, http.StatusAccepted, exec)
		})

		r.Get("/", func(w http.ResponseWriter, req *http.Request) {
			filter := store.ExecutionFilter{
				Status: model.ExecutionStatus(req.URL.Query().Get("status")),
				Limit:  50,
			}
			execs, err := eng.List(req.Context(), filter)
			if err != nil {
				writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
			writeJSON(w, http.StatusOK, execs)
		})

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", func(w http.ResponseWriter, req *http.Request) {
				report, err := eng.Status(req.Context(), chi.URLParam(req, "id"))
				if err != nil {
					writeError(w, http.StatusNotFound, err.Error())
					return
				}
				writeJSON(w, http.StatusOK, report)
			})

			r.Post("/cancel", func(w http.ResponseWriter, req *http.Request) {
				id := chi.URLParam(req, "id")
				if err := eng.Cancel(req.Context(), id); err != nil {
					writeError(w, http.StatusConflict, err.Error())
					return
				}
				writeJSON(w, http.StatusAccepted, map[string]string{"id": id, "status": "cancelling"})
			})

			r.Post("/resume", func(w http.ResponseWriter, req *http.Request) {
				id := chi.URLParam(req, "id")
				go func() {
					ctx, cancel := context.WithTimeout(context.Background(), time.Hour)
					defer cancel()
					if _, err := eng.Resume(ctx, id); err != nil {
						zap.L().Error("resume failed",
							zap.String("execution_id", id),
							zap.Error(err),
						)
					}
				}()
				writeJSON(w, http.StatusAccepted, map[string]string{"id": id, "status": "resuming"})
			})
		})
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	serveCmd.Flags().Int("simulate-items", 5, "synthetic items per phase for the built-in runners")
	rootCmd.AddCommand(serveCmd)
}
