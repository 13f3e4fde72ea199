package httpapi

import (
	"io"
	"net/http"
	"strconv"

	"dialysis-ledger/internal/blob"
	"dialysis-ledger/internal/export"
	"dialysis-ledger/internal/service"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// LedgerHandler read-side views: dashboard, history, exports, trends and images.
type LedgerHandler struct {
	dashboard *service.DashboardService
	history   *service.HistoryService
	trends    *service.TrendService
	blobs     blob.Storage
	logger    *zap.Logger
}

func NewLedgerHandler(
	dashboard *service.DashboardService,
	history *service.HistoryService,
	trends *service.TrendService,
	blobs blob.Storage,
	logger *zap.Logger,
) *LedgerHandler {
	return &LedgerHandler{dashboard: dashboard, history: history, trends: trends, blobs: blobs, logger: logger}
}

func (h *LedgerHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	sum, err := h.dashboard.Summary(r.Context(), PatientID(r.Context()))
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(sum))
}

func historyQuery(r *http.Request) service.HistoryQuery {
	q := r.URL.Query()
	return service.HistoryQuery{
		WeightCategory: q.Get("weight_category"),
		UFMin:          q.Get("uf_min"),
		UFMax:          q.Get("uf_max"),
		Strength:       q.Get("strength"),
		Date:           q.Get("date"),
	}
}

func (h *LedgerHandler) History(w http.ResponseWriter, r *http.Request) {
	cfg, err := historyQuery(r).FilterConfig()
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	view, err := h.history.View(r.Context(), PatientID(r.Context()), cfg)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(view))
}

func (h *LedgerHandler) ExportHistory(w http.ResponseWriter, r *http.Request) {
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeJSON(w, http.StatusOK, Fail("format must be xlsx or pdf"))
		return
	}
	cfg, err := historyQuery(r).FilterConfig()
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	body, filename, err := h.history.Export(r.Context(), PatientID(r.Context()), format, cfg)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (h *LedgerHandler) Trends(w http.ResponseWriter, r *http.Request) {
	series, err := h.trends.Series(r.Context(), PatientID(r.Context()), r.URL.Query().Get("window"))
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(TrendResponse{TrendSeries: series, Empty: series.Empty()}))
}

// Image streams a stored attachment.
func (h *LedgerHandler) Image(w http.ResponseWriter, r *http.Request) {
	rc, obj, err := h.blobs.Open(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	defer rc.Close()
	w.Header().Set("Content-Type", obj.ContentType)
	w.Header().Set("Cache-Control", "private, max-age=86400")
	if _, err := io.Copy(w, rc); err != nil {
		h.logger.Warn("Image stream interrupted", zap.String("image_id", obj.ID), zap.Error(err))
	}
}
