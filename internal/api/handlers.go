// Package api exposes the detector's alert history and feedback intake
// over HTTP, in the same gorilla/mux + graceful-shutdown shape as the
// teacher's own API server.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"ddosguard/internal/model"
	"ddosguard/internal/trie"
)

// AlertHistory is the read side of the alert store, satisfied by
// history.ClickHouseWriter.
type AlertHistory interface {
	Query(ctx context.Context, dstIP uint32, since time.Time, limit int) ([]model.Alert, error)
}

// FeedbackSink accepts operator-filed false-positive reports.
type FeedbackSink interface {
	PushFeedback(model.FeedbackRecord)
}

// ThresholdSource answers a live per-column CUSUM state lookup. The
// ddos-detector process is a separate binary from ddos-api, so the only
// implementation in this repo (transport.ThresholdsClient) reaches it
// over a NATS request/reply subject rather than in-process; err reports a
// transport failure (timeout, connection loss), not an unknown column.
type ThresholdSource interface {
	Thresholds(col uint32) (model.ColumnThresholds, bool, error)
}

// Handler holds the dependencies shared by the API's routes.
type Handler struct {
	history    AlertHistory
	feedback   FeedbackSink
	thresholds ThresholdSource
}

// NewRouter builds the mux.Router for the status/feedback API. thresholds
// may be nil if no NATS thresholds subject is configured, in which case
// the thresholds endpoint answers 503.
func NewRouter(history AlertHistory, feedback FeedbackSink, thresholds ThresholdSource) *mux.Router {
	h := &Handler{history: history, feedback: feedback, thresholds: thresholds}
	r := mux.NewRouter()
	r.HandleFunc("/api/v1/alerts/recent", h.listAlerts).Methods("GET")
	r.HandleFunc("/api/v1/feedback", h.fileFeedback).Methods("POST")
	r.HandleFunc("/api/v1/thresholds/{column}", h.thresholdsForColumn).Methods("GET")
	r.HandleFunc("/healthz", h.health).Methods("GET")
	return r
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// listAlerts handles GET /api/v1/alerts/recent?dst=<ip>&since=<RFC3339>&limit=<n>.
func (h *Handler) listAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	dstStr := q.Get("dst")
	ip := net.ParseIP(dstStr)
	if ip == nil || ip.To4() == nil {
		http.Error(w, fmt.Sprintf("invalid dst address %q", dstStr), http.StatusBadRequest)
		return
	}

	since := time.Now().Add(-24 * time.Hour)
	if s := q.Get("since"); s != "" {
		parsed, err := time.Parse(time.RFC3339, s)
		if err != nil {
			http.Error(w, fmt.Sprintf("invalid since timestamp: %v", err), http.StatusBadRequest)
			return
		}
		since = parsed
	}

	limit := 100
	if l := q.Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	alerts, err := h.history.Query(r.Context(), trie.IPToUint32(ip), since, limit)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to query alerts: %v", err), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(alerts)
}

// thresholdsForColumn handles GET /api/v1/thresholds/{column}, returning
// the live CUSUM thresholds and means/variances for that destination-
// sketch column, for operator visibility while the detector is still in
// its learning phase.
func (h *Handler) thresholdsForColumn(w http.ResponseWriter, r *http.Request) {
	if h.thresholds == nil {
		http.Error(w, "thresholds source not configured", http.StatusServiceUnavailable)
		return
	}

	columnStr := mux.Vars(r)["column"]
	col, err := strconv.ParseUint(columnStr, 10, 32)
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid column %q", columnStr), http.StatusBadRequest)
		return
	}

	th, ok, err := h.thresholds.Thresholds(uint32(col))
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to query thresholds: %v", err), http.StatusServiceUnavailable)
		return
	}
	if !ok {
		http.Error(w, fmt.Sprintf("no such column %d", col), http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(th)
}

// feedbackRequest is the JSON body accepted by fileFeedback.
type feedbackRequest struct {
	DstIP                 string  `json:"dst_ip"`
	CusumID               uint32  `json:"cusum_id"`
	MeasuredBytes         float64 `json:"measured_bytes"`
	MeasuredPackets       float64 `json:"measured_packets"`
	MeasuredEntropy       float64 `json:"measured_entropy"`
	MeasuredRecvSentBytes float64 `json:"measured_recv_sent_bytes"`
	MeasuredRecvSentFlows float64 `json:"measured_recv_sent_flows"`
}

// fileFeedback handles POST /api/v1/feedback, reporting a previously
// raised alert as a false positive.
func (h *Handler) fileFeedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("failed to decode request: %v", err), http.StatusBadRequest)
		return
	}

	ip := net.ParseIP(req.DstIP)
	if ip == nil || ip.To4() == nil {
		http.Error(w, fmt.Sprintf("invalid dst_ip %q", req.DstIP), http.StatusBadRequest)
		return
	}

	fb := model.FeedbackRecord{
		ID:                    model.NewID(),
		FiledAt:               time.Now(),
		DstIP:                 trie.IPToUint32(ip),
		CusumID:               req.CusumID,
		MeasuredBytes:         req.MeasuredBytes,
		MeasuredPackets:       req.MeasuredPackets,
		MeasuredEntropy:       req.MeasuredEntropy,
		MeasuredRecvSentBytes: req.MeasuredRecvSentBytes,
		MeasuredRecvSentFlows: req.MeasuredRecvSentFlows,
	}
	h.feedback.PushFeedback(fb)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(fb)
}

// Serve runs the API server on addr until the process receives SIGINT or
// SIGTERM, then shuts it down gracefully.
func Serve(addr string, router *mux.Router) error {
	server := &http.Server{Addr: addr, Handler: router}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case <-quit:
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(ctx)
}
