// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package httpapi exposes ingestion jobs, invoices and the standalone
// categorizer over HTTP for the surrounding application.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/spendlens/ingestion/internal/categorize"
	"github.com/spendlens/ingestion/internal/jobs"
	"github.com/spendlens/ingestion/internal/models"
	"github.com/spendlens/ingestion/internal/store"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// JobService submits and polls ingestion jobs. Implemented by
// jobs.Dispatcher.
type JobService interface {
	Submit(ctx context.Context, userID, dateRange string) (*models.IngestionJob, error)
	Poll(ctx context.Context, jobID string) (*models.IngestionJob, error)
}

// InvoiceService reads and corrects invoices. Implemented by store.Store.
type InvoiceService interface {
	List(ctx context.Context, userID string, f store.Filter) ([]models.Invoice, error)
	UpdateCategory(ctx context.Context, userID, messageID string, category models.Category) (*models.Invoice, error)
}

// Categorizer scores free text. Implemented by categorize.Categorizer.
type Categorizer interface {
	Categorize(merchant, text string) categorize.Result
}

// HealthCheck is a named dependency probe.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Handler serves the API.
type Handler struct {
	jobs        JobService
	invoices    InvoiceService
	categorizer Categorizer
	checks      []HealthCheck
}

// NewHandler creates an API handler.
func NewHandler(jobSvc JobService, invoices InvoiceService, categorizer Categorizer, checks ...HealthCheck) *Handler {
	return &Handler{
		jobs:        jobSvc,
		invoices:    invoices,
		categorizer: categorizer,
		checks:      checks,
	}
}

// Routes returns the API mux.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /jobs", h.submitJob)
	mux.HandleFunc("GET /jobs/{id}", h.pollJob)
	mux.HandleFunc("GET /users/{user}/invoices", h.listInvoices)
	mux.HandleFunc("PATCH /users/{user}/invoices/{message}/category", h.updateCategory)
	mux.HandleFunc("POST /categorize", h.categorize)
	mux.HandleFunc("GET /health", h.health)
	return mux
}

type submitRequest struct {
	UserID    string `json:"user_id"`
	DateRange string `json:"date_range"`
}

type submitResponse struct {
	JobID string          `json:"job_id"`
	State models.JobState `json:"state"`
}

func (h *Handler) submitJob(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	job, err := h.jobs.Submit(r.Context(), req.UserID, req.DateRange)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, submitResponse{JobID: job.ID, State: job.State})
}

func (h *Handler) pollJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.jobs.Poll(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (h *Handler) listInvoices(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	invoices, err := h.invoices.List(r.Context(), r.PathValue("user"), f)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"invoices": invoices})
}

type categoryRequest struct {
	Category string `json:"category"`
}

func (h *Handler) updateCategory(w http.ResponseWriter, r *http.Request) {
	var req categoryRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	category, err := models.ParseCategory(req.Category)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	inv, err := h.invoices.UpdateCategory(r.Context(), r.PathValue("user"), r.PathValue("message"), category)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	slog.Info("invoice category corrected",
		"user", inv.UserID,
		"message_id", inv.MessageID,
		"category", inv.Category,
	)
	writeJSON(w, http.StatusOK, inv)
}

type categorizeRequest struct {
	Merchant string `json:"merchant"`
	Text     string `json:"text"`
}

func (h *Handler) categorize(w http.ResponseWriter, r *http.Request) {
	var req categorizeRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Merchant == "" && req.Text == "" {
		writeError(w, http.StatusBadRequest, "merchant or text is required")
		return
	}
	writeJSON(w, http.StatusOK, h.categorizer.Categorize(req.Merchant, req.Text))
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	for _, c := range h.checks {
		if err := c.Check(r.Context()); err != nil {
			slog.Warn("health check failed", "dependency", c.Name, "error", err)
			http.Error(w, c.Name+" unhealthy", http.StatusServiceUnavailable)
			return
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status": "healthy"}`))
}

// parseFilter reads category, from, to (YYYY-MM-DD), limit and offset.
func parseFilter(r *http.Request) (store.Filter, error) {
	q := r.URL.Query()
	var f store.Filter

	if v := q.Get("category"); v != "" {
		c, err := models.ParseCategory(v)
		if err != nil {
			return f, err
		}
		f.Category = c
	}
	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.DateOnly, v)
		if err != nil {
			return f, fmt.Errorf("invalid from date %q", v)
		}
		f.From = t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.DateOnly, v)
		if err != nil {
			return f, fmt.Errorf("invalid to date %q", v)
		}
		// Inclusive of the whole day.
		f.To = t.Add(24*time.Hour - time.Nanosecond)
	}
	var err error
	if f.Limit, err = intParam(q.Get("limit")); err != nil {
		return f, fmt.Errorf("invalid limit: %w", err)
	}
	if f.Offset, err = intParam(q.Get("offset")); err != nil {
		return f, fmt.Errorf("invalid offset: %w", err)
	}
	return f, nil
}

func intParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%q is not a non-negative integer", v)
	}
	return n, nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, jobs.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, models.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		slog.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// Serve starts the API server on port and closes it when ctx is done. The
// returned channel is closed once the listener is bound.
func Serve(ctx context.Context, port int, handler *Handler) (<-chan struct{}, error) {
	server := &http.Server{
		Handler:      handler.Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("bind api port %d: %w", port, err)
	}

	ready := make(chan struct{})

	go func() {
		<-ctx.Done()
		slog.Info("api server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("api server shutdown error", "error", err)
		}
	}()

	go func() {
		slog.Info("api server listening", "port", port)
		close(ready)
		if err := server.Serve(ln); err != http.ErrServerClosed {
			slog.Error("api server error", "error", err)
		}
	}()

	return ready, nil
}
