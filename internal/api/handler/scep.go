package handler

import (
	"mime"
	"net/http"
	"strings"

	"github.com/remiblancher/qscep/internal/api/dto"
	"github.com/remiblancher/qscep/internal/api/service"
)

// PEMContentType is served when the client asks for the bare message.
const PEMContentType = "application/x-pem-file"

// SCEPHandler handles the PKCSReq endpoints.
type SCEPHandler struct {
	service *service.SCEPService
}

// NewSCEPHandler creates a new SCEPHandler.
func NewSCEPHandler(svc *service.SCEPService) *SCEPHandler {
	return &SCEPHandler{service: svc}
}

// Request handles POST /api/v1/scep/request.
func (h *SCEPHandler) Request(w http.ResponseWriter, r *http.Request) {
	var req dto.SCEPRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	msg, err := h.service.Build(r.Context(), &req)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	if wantsPEM(r) {
		pemBytes, err := msg.PEM()
		if err != nil {
			handleServiceError(w, err)
			return
		}
		w.Header().Set("Content-Type", PEMContentType)
		w.Header().Set("X-SCEP-Transaction-ID", msg.TransactionID)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(pemBytes)
		return
	}

	resp, err := service.Respond(msg)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// Inspect handles POST /api/v1/scep/inspect.
func (h *SCEPHandler) Inspect(w http.ResponseWriter, r *http.Request) {
	var req dto.InspectRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	resp, err := h.service.Inspect(r.Context(), &req)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

func wantsPEM(r *http.Request) bool {
	for _, part := range strings.Split(r.Header.Get("Accept"), ",") {
		mt, _, err := mime.ParseMediaType(strings.TrimSpace(part))
		if err == nil && mt == PEMContentType {
			return true
		}
	}
	return false
}
