package main

import (
	"context"
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

	"github.com/harrow-realty/listings-cli/internal/fault"
	"github.com/harrow-realty/listings-cli/internal/model"
	"github.com/harrow-realty/listings-cli/internal/pipeline"
	"github.com/harrow-realty/listings-cli/internal/review"
	"github.com/harrow-realty/listings-cli/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long:  "Serves the pipeline over HTTP: transcript upload, run execution, requirement edits, review decisions, and sending.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		machine, err := initMachine(st)
		if err != nil {
			return err
		}
		gate := initGate(st)

		api := &apiServer{store: st, machine: machine, gate: gate}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           api.routes(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

type apiServer struct {
	store   store.Store
	machine *pipeline.Machine
	gate    *review.Gate
}

func (s *apiServer) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/transcripts", s.handleCreateTranscript)
		r.Get("/transcripts/{id}", s.handleGetTranscript)
		r.Get("/transcripts/{id}/requirement", s.handleGetRequirement)
		r.Patch("/requirements/{id}", s.handleUpdateRequirement)

		r.Post("/runs", s.handleCreateRun)
		r.Get("/runs", s.handleListRuns)
		r.Get("/runs/{id}", s.handleGetRun)
		r.Post("/runs/{id}/pipeline", s.handleRunPipeline)
		r.Post("/runs/{id}/stages/{stage}", s.handleRunStage)
		r.Get("/runs/{id}/listings", s.handleListListings)
		r.Get("/runs/{id}/rankings", s.handleListRankings)
		r.Post("/runs/{id}/approve", s.handleDecision(true))
		r.Post("/runs/{id}/reject", s.handleDecision(false))
		r.Post("/runs/{id}/send", s.handleSend)
		r.Get("/runs/{id}/send", s.handleGetReceipt)
	})

	return r
}

func (s *apiServer) handleCreateTranscript(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RawText  string `json:"raw_text"`
		Filename string `json:"filename"`
		ClientID *int64 `json:"client_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fault.New(fault.KindValidation, "invalid request body"))
		return
	}
	if req.RawText == "" {
		writeError(w, fault.New(fault.KindValidation, "raw_text is required"))
		return
	}

	method := model.UploadMethodPaste
	if req.Filename != "" {
		method = model.UploadMethodFile
	}
	transcript, err := s.store.CreateTranscript(r.Context(), &model.Transcript{
		RawText:      req.RawText,
		Filename:     req.Filename,
		ClientID:     req.ClientID,
		UploadMethod: method,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, transcript)
}

func (s *apiServer) handleGetTranscript(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	transcript, err := s.store.GetTranscript(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, transcript)
}

func (s *apiServer) handleGetRequirement(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	req, err := s.store.GetRequirementByTranscript(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *apiServer) handleUpdateRequirement(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	var update store.RequirementUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		writeError(w, fault.New(fault.KindValidation, "invalid request body"))
		return
	}
	req, err := s.store.UpdateRequirement(r.Context(), id, update)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *apiServer) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TranscriptID int64 `json:"transcript_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TranscriptID == 0 {
		writeError(w, fault.New(fault.KindValidation, "transcript_id is required"))
		return
	}
	run, err := s.machine.StartRun(r.Context(), req.TranscriptID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, run)
}

func (s *apiServer) handleListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.RunFilter{
		Status: model.StageStatus(q.Get("status")),
		Stage:  model.Stage(q.Get("stage")),
	}
	if limit, err := strconv.Atoi(q.Get("limit")); err == nil {
		filter.Limit = limit
	}
	if offset, err := strconv.Atoi(q.Get("offset")); err == nil {
		filter.Offset = offset
	}
	runs, err := s.store.ListRuns(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *apiServer) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	run, err := s.store.GetRun(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *apiServer) handleRunPipeline(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	run, err := s.machine.RunPipeline(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *apiServer) handleRunStage(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	stage, err := model.ParseStage(chi.URLParam(r, "stage"))
	if err != nil {
		writeError(w, fault.Wrap(fault.KindValidation, err, "parse stage"))
		return
	}
	run, err := s.machine.RunStage(r.Context(), id, stage)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *apiServer) handleListListings(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	listings, err := s.store.ListListingsByRun(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listings)
}

func (s *apiServer) handleListRankings(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	rankings, err := s.gate.Pending(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rankings)
}

func (s *apiServer) handleDecision(approve bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "id")
		if err != nil {
			writeError(w, err)
			return
		}
		var req struct {
			RankingIDs []int64 `json:"ranking_ids"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, fault.New(fault.KindValidation, "invalid request body"))
			return
		}

		var rankings []model.RankedListing
		if approve {
			rankings, err = s.gate.Approve(r.Context(), id, req.RankingIDs)
		} else {
			rankings, err = s.gate.Reject(r.Context(), id, req.RankingIDs)
		}
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rankings)
	}
}

func (s *apiServer) handleSend(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	var req struct {
		Recipient string `json:"recipient"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fault.New(fault.KindValidation, "invalid request body"))
		return
	}
	result, err := s.gate.Send(r.Context(), id, req.Recipient)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *apiServer) handleGetReceipt(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	receipt, err := s.gate.Receipt(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil {
		return 0, fault.Newf(fault.KindValidation, "invalid %s", name)
	}
	return id, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps fault kinds onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case fault.Is(err, fault.KindValidation):
		status = http.StatusBadRequest
	case fault.Is(err, fault.KindNotFound):
		status = http.StatusNotFound
	case fault.Is(err, fault.KindPrecondition):
		status = http.StatusPreconditionFailed
	case fault.Is(err, fault.KindConflict):
		status = http.StatusConflict
	case fault.Is(err, fault.KindExternal):
		status = http.StatusBadGateway
	}

	if status >= 500 {
		zap.L().Error("api: request failed", zap.Error(err))
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
