package http

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"equiprent-backend/internal/domain"
	"equiprent-backend/internal/service"
)

type UnitHandler struct {
	units   service.UnitService
	reports service.ReportService
}

func NewUnitHandler(units service.UnitService, reports service.ReportService) *UnitHandler {
	return &UnitHandler{units: units, reports: reports}
}

type unitActionRequest struct {
	Notes string `json:"notes"`
}

type auditReport struct {
	Consistent bool                       `json:"consistent"`
	Issues     []service.ConsistencyIssue `json:"issues"`
}

func (h *UnitHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	detail, err := h.units.GetUnit(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "", detail)
}

// Action applies an administrative status change such as set_damaged or release.
func (h *UnitHandler) Action(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	action := domain.UnitAction(mux.Vars(r)["action"])
	if _, ok := action.Target(); !ok {
		writeBadRequest(w, "Unknown action "+string(action))
		return
	}
	var req unitActionRequest
	if r.ContentLength != 0 && !decodeAndValidate(w, r, &req) {
		return
	}

	u, err := h.units.ApplyAction(r.Context(), id, action, ActingUserFrom(r.Context()), req.Notes)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Serial "+u.SerialNumber+" is now "+u.Status.Label(), u)
}

// Delete removes a unit, or deactivates it when rental history must be kept.
// Deleting a clean unit needs ?confirm=true.
func (h *UnitHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	confirmed, _ := strconv.ParseBool(r.URL.Query().Get("confirm"))

	outcome, err := h.units.SmartDelete(r.Context(), id, confirmed)
	if err != nil {
		writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if outcome.ConfirmationRequired {
		status = http.StatusConflict
	}
	writeSuccess(w, status, outcome.Message, outcome)
}

func (h *UnitHandler) Audit(w http.ResponseWriter, r *http.Request) {
	issues, err := h.units.AuditConsistency(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if issues == nil {
		issues = []service.ConsistencyIssue{}
	}
	writeSuccess(w, http.StatusOK, "", auditReport{Consistent: len(issues) == 0, Issues: issues})
}

// Export downloads the unit register workbook, for one equipment when equipment_id is given.
func (h *UnitHandler) Export(w http.ResponseWriter, r *http.Request) {
	equipmentID, err := queryInt32(r, "equipment_id")
	if err != nil {
		writeBadRequest(w, "Invalid equipment_id")
		return
	}
	data, err := h.reports.UnitRegister(r.Context(), equipmentID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeFile(w, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", "unit-register.xlsx", data)
}

func (h *UnitHandler) History(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	entries, err := h.units.History(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []domain.StatusHistoryEntry{}
	}
	writeSuccess(w, http.StatusOK, "", entries)
}
