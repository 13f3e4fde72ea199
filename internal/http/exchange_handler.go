package httpapi

import (
	"mime"
	"net/http"
	"strconv"
	"strings"

	"dialysis-ledger/internal/service"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

type ExchangeHandler struct {
	pd            *service.PDService
	hd            *service.HDService
	maxImageBytes int64
	logger        *zap.Logger
}

const defaultMaxImageBytes = 10 << 20

func NewExchangeHandler(pd *service.PDService, hd *service.HDService, maxImageBytes int64, logger *zap.Logger) *ExchangeHandler {
	if maxImageBytes <= 0 {
		maxImageBytes = defaultMaxImageBytes
	}
	return &ExchangeHandler{pd: pd, hd: hd, maxImageBytes: maxImageBytes, logger: logger}
}

func (h *ExchangeHandler) ListPD(w http.ResponseWriter, r *http.Request) {
	out, err := h.pd.List(r.Context(), PatientID(r.Context()))
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(out))
}

// CreatePD accepts JSON, or multipart/form-data with an optional "image" file part.
func (h *ExchangeHandler) CreatePD(w http.ResponseWriter, r *http.Request) {
	var req service.CreatePDRequest
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	if mediaType == "multipart/form-data" {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxImageBytes+maxJSONBody)
		if err := r.ParseMultipartForm(h.maxImageBytes); err != nil {
			writeJSON(w, http.StatusBadRequest, Fail("invalid multipart body"))
			return
		}
		var err error
		if req, err = pdRequestFromForm(r); err != nil {
			writeJSON(w, http.StatusOK, Fail(err.Error()))
			return
		}
		if file, header, err := r.FormFile("image"); err == nil {
			defer file.Close()
			req.Image = &service.ImageUpload{
				Filename:    header.Filename,
				ContentType: header.Header.Get("Content-Type"),
				Data:        file,
			}
		}
	} else if err := readBodyJSON(r, maxJSONBody, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid request body"))
		return
	}

	req.PatientID = PatientID(r.Context())
	rec, err := h.pd.Create(r.Context(), req)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(rec))
}

func pdRequestFromForm(r *http.Request) (service.CreatePDRequest, error) {
	req := service.CreatePDRequest{
		Timestamp:      r.FormValue("timestamp"),
		BaxterStrength: r.FormValue("baxter_strength"),
		Notes:          r.FormValue("notes"),
	}
	fields := []struct {
		name string
		dst  **float64
	}{
		{"bag_volume", &req.BagVolume},
		{"leftover_volume", &req.LeftoverVolume},
		{"drain_volume", &req.DrainVolume},
		{"weight", &req.Weight},
	}
	for _, f := range fields {
		v, err := optionalFloat(r.FormValue(f.name))
		if err != nil {
			return req, errInvalidNumber(f.name)
		}
		*f.dst = v
	}
	return req, nil
}

type errInvalidNumber string

func (e errInvalidNumber) Error() string { return string(e) + " must be a number" }

func optionalFloat(raw string) (*float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (h *ExchangeHandler) UpdatePD(w http.ResponseWriter, r *http.Request) {
	var req service.UpdatePDRequest
	if err := readBodyJSON(r, maxJSONBody, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid request body"))
		return
	}
	rec, err := h.pd.Update(r.Context(), PatientID(r.Context()), mux.Vars(r)["id"], req)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(rec))
}

func (h *ExchangeHandler) DeletePD(w http.ResponseWriter, r *http.Request) {
	if err := h.pd.Delete(r.Context(), PatientID(r.Context()), mux.Vars(r)["id"]); err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok[any](nil))
}

func (h *ExchangeHandler) ListHD(w http.ResponseWriter, r *http.Request) {
	out, err := h.hd.List(r.Context(), PatientID(r.Context()))
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(out))
}

func (h *ExchangeHandler) CreateHD(w http.ResponseWriter, r *http.Request) {
	var req service.CreateHDRequest
	if err := readBodyJSON(r, maxJSONBody, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid request body"))
		return
	}
	req.PatientID = PatientID(r.Context())
	rec, err := h.hd.Create(r.Context(), req)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(rec))
}

func (h *ExchangeHandler) DeleteHD(w http.ResponseWriter, r *http.Request) {
	if err := h.hd.Delete(r.Context(), PatientID(r.Context()), mux.Vars(r)["id"]); err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok[any](nil))
}
