package http

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"equiprent-backend/internal/domain"
	"equiprent-backend/internal/service"
)

// ScanHandler serves the scanner endpoints used at the warehouse gate.
type ScanHandler struct {
	scans service.ScanService
}

func NewScanHandler(scans service.ScanService) *ScanHandler {
	return &ScanHandler{scans: scans}
}

type quickRentRequest struct {
	Serial    string `json:"serial" validate:"required"`
	ProjectID int32  `json:"project_id" validate:"required,gt=0"`
	Location  string `json:"location"`
}

type quickReturnRequest struct {
	Serial      string   `json:"serial" validate:"required"`
	Condition   string   `json:"condition" validate:"omitempty,oneof=good minor_damage damaged lost"`
	Location    string   `json:"location"`
	Notes       string   `json:"notes"`
	DamageFee   *float64 `json:"damage_fee" validate:"omitempty,gte=0"`
	DamageNotes string   `json:"damage_notes"`
}

func (h *ScanHandler) Lookup(w http.ResponseWriter, r *http.Request) {
	detail, err := h.scans.LookupSerial(r.Context(), mux.Vars(r)["serial"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "", detail)
}

// Identifier streams the unit's identifier image as PNG.
func (h *ScanHandler) Identifier(w http.ResponseWriter, r *http.Request) {
	detail, err := h.scans.LookupSerial(r.Context(), mux.Vars(r)["serial"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !detail.Unit.HasImage() {
		writeError(w, r, domain.NewNotFoundError("Identifier image for serial", detail.Unit.SerialNumber))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(detail.Unit.IdentifierImage)))
	w.Header().Set("Content-Disposition", `inline; filename="`+detail.Filename+`"`)
	w.WriteHeader(http.StatusOK)
	w.Write(detail.Unit.IdentifierImage)
}

func (h *ScanHandler) QuickRent(w http.ResponseWriter, r *http.Request) {
	var req quickRentRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	detail, err := h.scans.QuickRent(r.Context(), service.QuickRentRequest{
		Serial:     req.Serial,
		ProjectID:  req.ProjectID,
		ActingUser: ActingUserFrom(r.Context()),
		Location:   req.Location,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Serial "+detail.Unit.SerialNumber+" rented", detail)
}

func (h *ScanHandler) QuickReturn(w http.ResponseWriter, r *http.Request) {
	var req quickReturnRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	detail, err := h.scans.QuickReturn(r.Context(), service.QuickReturnRequest{
		Serial:      req.Serial,
		Condition:   domain.ReturnCondition(req.Condition),
		ActingUser:  ActingUserFrom(r.Context()),
		Location:    req.Location,
		Notes:       req.Notes,
		DamageFee:   req.DamageFee,
		DamageNotes: req.DamageNotes,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Serial "+detail.Unit.SerialNumber+" returned", detail)
}
