package httpapi

import (
	"net/http"

	"dialysis-ledger/internal/blob"
	"dialysis-ledger/internal/service"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// Deps everything the API needs.
type Deps struct {
	Identity      *service.IdentityService
	PD            *service.PDService
	HD            *service.HDService
	Dashboard     *service.DashboardService
	History       *service.HistoryService
	Trends        *service.TrendService
	Blobs         blob.Storage
	MaxImageBytes int64
	CORSOrigins   []string
	Logger        *zap.Logger
}

// NewRouter mounts every route under /api/v1.
func NewRouter(d Deps) http.Handler {
	r := mux.NewRouter()
	r.Use(accessLog(d.Logger))

	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, Ok("ok"))
	}).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()

	auth := NewAuthHandler(d.Identity, d.Logger)
	api.HandleFunc("/auth/signup", auth.Signup).Methods(http.MethodPost)
	api.HandleFunc("/auth/login", auth.Login).Methods(http.MethodPost)

	ledgerH := NewLedgerHandler(d.Dashboard, d.History, d.Trends, d.Blobs, d.Logger)
	// image URLs are embedded in records and fetched without a bearer header
	api.HandleFunc("/images/{id}", ledgerH.Image).Methods(http.MethodGet)

	secured := api.NewRoute().Subrouter()
	secured.Use(requirePatient(d.Identity, d.Logger))

	secured.HandleFunc("/profile", auth.Profile).Methods(http.MethodGet)

	ex := NewExchangeHandler(d.PD, d.HD, d.MaxImageBytes, d.Logger)
	secured.HandleFunc("/pd-exchanges", ex.ListPD).Methods(http.MethodGet)
	secured.HandleFunc("/pd-exchanges", ex.CreatePD).Methods(http.MethodPost)
	secured.HandleFunc("/pd-exchanges/{id}", ex.UpdatePD).Methods(http.MethodPut)
	secured.HandleFunc("/pd-exchanges/{id}", ex.DeletePD).Methods(http.MethodDelete)
	secured.HandleFunc("/hd-exchanges", ex.ListHD).Methods(http.MethodGet)
	secured.HandleFunc("/hd-exchanges", ex.CreateHD).Methods(http.MethodPost)
	secured.HandleFunc("/hd-exchanges/{id}", ex.DeleteHD).Methods(http.MethodDelete)

	secured.HandleFunc("/dashboard", ledgerH.Dashboard).Methods(http.MethodGet)
	secured.HandleFunc("/history", ledgerH.History).Methods(http.MethodGet)
	secured.HandleFunc("/history/export", ledgerH.ExportHistory).Methods(http.MethodGet)
	secured.HandleFunc("/trends", ledgerH.Trends).Methods(http.MethodGet)

	origins := d.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return handlers.CORS(
		handlers.AllowedOrigins(origins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Authorization", "Content-Type", "X-Request-ID"}),
	)(r)
}
