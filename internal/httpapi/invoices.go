package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"

	chi "github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

func invoiceID(r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	return id, err == nil
}

// GET /v1/invoices/{id}
func (s *Server) getInvoice(w http.ResponseWriter, r *http.Request) {
	id, ok := invoiceID(r)
	if !ok {
		badRequest(w, "invalid invoice id")
		return
	}
	inv, err := s.deps.Invoices.Invoice(r.Context(), id)
	if err != nil {
		s.writeServiceErr(w, r, err)
		return
	}
	toJSON(w, http.StatusOK, toInvoiceResponse(inv))
}

// POST /v1/invoices/{id}/paid with an optional {"paid_at": RFC3339} body.
// Marking a paid invoice again returns it unchanged.
func (s *Server) postInvoicePaid(w http.ResponseWriter, r *http.Request) {
	id, ok := invoiceID(r)
	if !ok {
		badRequest(w, "invalid invoice id")
		return
	}
	var req markPaidRequest
	if r.ContentLength != 0 {
		if ct := r.Header.Get("Content-Type"); ct != "" {
			if mt, _, err := mime.ParseMediaType(ct); err != nil || mt != "application/json" {
				writeErr(w, http.StatusUnsupportedMediaType, "unsupported_media_type", "unsupported_media_type")
				return
			}
		}
		dec := json.NewDecoder(r.Body)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			badRequest(w, "invalid JSON: "+err.Error())
			return
		}
	}
	at := s.now().UTC()
	if req.PaidAt != nil {
		at = req.PaidAt.UTC()
	}
	inv, err := s.deps.Invoices.MarkInvoicePaid(r.Context(), id, at)
	if err != nil {
		s.writeServiceErr(w, r, err)
		return
	}
	toJSON(w, http.StatusOK, toInvoiceResponse(inv))
}
