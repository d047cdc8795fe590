package http

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"equiprent-backend/internal/domain"
	"equiprent-backend/internal/service"
)

const dateLayout = "2006-01-02"

type ProjectHandler struct {
	projects service.ProjectService
	returns  service.ReturnService
}

func NewProjectHandler(projects service.ProjectService, returns service.ReturnService) *ProjectHandler {
	return &ProjectHandler{projects: projects, returns: returns}
}

type lineRequest struct {
	EquipmentID int32   `json:"equipment_id" validate:"required,gt=0"`
	Quantity    int     `json:"quantity" validate:"required,gt=0"`
	UnitIDs     []int32 `json:"unit_ids"`
}

type createProjectRequest struct {
	CustomerName   string        `json:"customer_name" validate:"required"`
	Reference      string        `json:"reference"`
	StartDate      string        `json:"start_date" validate:"omitempty,datetime=2006-01-02"`
	EndDate        string        `json:"end_date" validate:"omitempty,datetime=2006-01-02"`
	LateFeeEnabled bool          `json:"late_fee_enabled"`
	Discount       float64       `json:"discount" validate:"gte=0"`
	InternalNotes  string        `json:"internal_notes"`
	Lines          []lineRequest `json:"lines" validate:"dive"`
}

type updateProjectRequest struct {
	CustomerName   string   `json:"customer_name" validate:"required"`
	Reference      string   `json:"reference"`
	StartDate      string   `json:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate        string   `json:"end_date" validate:"required,datetime=2006-01-02"`
	LateFeeEnabled bool     `json:"late_fee_enabled"`
	Discount       float64  `json:"discount" validate:"gte=0"`
	PaymentStatus  string   `json:"payment_status" validate:"omitempty,oneof=unpaid partial paid"`
	InternalNotes  string   `json:"internal_notes"`
	PhotoRefs      []string `json:"photo_refs"`
}

type updateLineRequest struct {
	Quantity *int    `json:"quantity" validate:"omitempty,gte=0"`
	UnitIDs  []int32 `json:"unit_ids"`
}

type startRequest struct {
	Signature string `json:"signature"`
}

type pickupRequest struct {
	UnitIDs    []int32 `json:"unit_ids" validate:"required,min=1"`
	PickupDate string  `json:"pickup_date" validate:"omitempty,datetime=2006-01-02"`
}

type returnLineRequest struct {
	UnitID      int32    `json:"unit_id" validate:"required,gt=0"`
	Condition   string   `json:"condition" validate:"omitempty,oneof=good minor_damage damaged lost"`
	DamageFee   *float64 `json:"damage_fee" validate:"omitempty,gte=0"`
	DamageNotes string   `json:"damage_notes"`
	PhotoRefs   []string `json:"photo_refs"`
}

type returnRequest struct {
	ReturnDate string              `json:"return_date" validate:"omitempty,datetime=2006-01-02"`
	Signature  string              `json:"signature"`
	Lines      []returnLineRequest `json:"lines" validate:"dive"`
}

type projectList struct {
	Projects []domain.Project `json:"projects"`
	Total    int32            `json:"total"`
	Page     int32            `json:"page"`
}

func parseDate(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	// validated by the datetime tag
	t, _ := time.Parse(dateLayout, raw)
	return t
}

func (l returnLineRequest) toReturnLine() service.ReturnLine {
	condition := domain.ReturnCondition(l.Condition)
	if condition == "" {
		condition = domain.ConditionGood
	}
	return service.ReturnLine{
		UnitID:      l.UnitID,
		Condition:   condition,
		DamageFee:   l.DamageFee,
		DamageNotes: l.DamageNotes,
		PhotoRefs:   l.PhotoRefs,
	}
}

func (h *ProjectHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.ProjectFilter{Customer: q.Get("customer")}
	if raw := q.Get("state"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			filter.States = append(filter.States, domain.ProjectState(strings.TrimSpace(s)))
		}
	}
	if page, err := strconv.Atoi(q.Get("page")); err == nil && page > 0 {
		filter.Page = int32(page)
	}
	if size, err := strconv.Atoi(q.Get("page_size")); err == nil && size > 0 {
		filter.PageSize = int32(size)
	}

	projects, total, err := h.projects.ListProjects(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "", projectList{Projects: projects, Total: total, Page: max(filter.Page, 1)})
}

func (h *ProjectHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createProjectRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	p := &domain.Project{
		CustomerName:   req.CustomerName,
		Reference:      req.Reference,
		StartDate:      parseDate(req.StartDate),
		EndDate:        parseDate(req.EndDate),
		LateFeeEnabled: req.LateFeeEnabled,
		Discount:       req.Discount,
		InternalNotes:  req.InternalNotes,
	}
	for _, l := range req.Lines {
		p.LineItems = append(p.LineItems, domain.LineItem{EquipmentID: l.EquipmentID, Quantity: l.Quantity, UnitIDs: l.UnitIDs})
	}
	if err := h.projects.CreateProject(r.Context(), p); err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusCreated, "Project "+p.Number+" created", p)
}

func (h *ProjectHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	p, err := h.projects.GetProject(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "", p)
}

// Update edits project details. Dates and customer only change while the project is a draft.
func (h *ProjectHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req updateProjectRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	p, err := h.projects.UpdateProject(r.Context(), &domain.Project{
		ID:             id,
		CustomerName:   req.CustomerName,
		Reference:      req.Reference,
		StartDate:      parseDate(req.StartDate),
		EndDate:        parseDate(req.EndDate),
		LateFeeEnabled: req.LateFeeEnabled,
		Discount:       req.Discount,
		PaymentStatus:  domain.PaymentStatus(req.PaymentStatus),
		InternalNotes:  req.InternalNotes,
		PhotoRefs:      req.PhotoRefs,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Project updated", p)
}

func (h *ProjectHandler) AddLine(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req lineRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	li, err := h.projects.AddLineItem(r.Context(), id, req.EquipmentID, req.Quantity)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if len(req.UnitIDs) > 0 {
		if li, err = h.projects.SelectUnits(r.Context(), id, li.ID, req.UnitIDs); err != nil {
			writeError(w, r, err)
			return
		}
	}
	writeSuccess(w, http.StatusCreated, "Line added", li)
}

// UpdateLine changes the quantity and, when unit_ids is sent, the manual unit selection.
// A quantity of zero removes the line.
func (h *ProjectHandler) UpdateLine(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	lineID, ok := pathID(w, r, "lineID")
	if !ok {
		return
	}
	var req updateLineRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	ctx := r.Context()

	if req.Quantity != nil && *req.Quantity == 0 {
		if err := h.projects.RemoveLineItem(ctx, id, lineID); err != nil {
			writeError(w, r, err)
			return
		}
		writeSuccess(w, http.StatusOK, "Line removed", nil)
		return
	}

	if req.Quantity == nil && req.UnitIDs == nil {
		writeBadRequest(w, "quantity or unit_ids is required")
		return
	}
	var (
		li  *domain.LineItem
		err error
	)
	if req.Quantity != nil {
		if li, err = h.projects.UpdateLineQuantity(ctx, id, lineID, *req.Quantity); err != nil {
			writeError(w, r, err)
			return
		}
	}
	if req.UnitIDs != nil {
		if li, err = h.projects.SelectUnits(ctx, id, lineID, req.UnitIDs); err != nil {
			writeError(w, r, err)
			return
		}
	}
	writeSuccess(w, http.StatusOK, "Line updated", li)
}

// transition runs a project action that needs only the path ID and the acting user.
func (h *ProjectHandler) transition(w http.ResponseWriter, r *http.Request, message string,
	action func(id int32, actingUser string) (*domain.Project, error)) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	p, err := action(id, ActingUserFrom(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, message, p)
}

func (h *ProjectHandler) Reserve(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "Project reserved", func(id int32, user string) (*domain.Project, error) {
		return h.projects.Reserve(r.Context(), id, user)
	})
}

func (h *ProjectHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if r.ContentLength != 0 && !decodeAndValidate(w, r, &req) {
		return
	}
	h.transition(w, r, "Rental started", func(id int32, user string) (*domain.Project, error) {
		return h.projects.Start(r.Context(), id, user, req.Signature)
	})
}

func (h *ProjectHandler) Pickup(w http.ResponseWriter, r *http.Request) {
	var req pickupRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	h.transition(w, r, "Pickup recorded", func(id int32, user string) (*domain.Project, error) {
		return h.projects.Pickup(r.Context(), id, req.UnitIDs, parseDate(req.PickupDate), user)
	})
}

// Return books every rented unit back in. Units not listed in the body come back in good condition.
func (h *ProjectHandler) Return(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req returnRequest
	if r.ContentLength != 0 && !decodeAndValidate(w, r, &req) {
		return
	}
	ctx := r.Context()

	session, err := h.returns.Begin(ctx, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	for _, l := range req.Lines {
		i := indexOfUnit(session.Lines, l.UnitID)
		if i < 0 {
			writeError(w, r, domain.NewValidationError("UNIT_NOT_RENTED",
				"Unit %d is not rented on project %s.", l.UnitID, session.ProjectNumber))
			return
		}
		line := l.toReturnLine()
		line.SerialNumber = session.Lines[i].SerialNumber
		line.EquipmentName = session.Lines[i].EquipmentName
		session.Lines[i] = line
	}
	if d := parseDate(req.ReturnDate); !d.IsZero() {
		session.ReturnDate = d
	}
	session.Signature = req.Signature

	p, err := h.returns.Commit(ctx, session, ActingUserFrom(ctx))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Return completed", p)
}

func indexOfUnit(lines []service.ReturnLine, unitID int32) int {
	for i, l := range lines {
		if l.UnitID == unitID {
			return i
		}
	}
	return -1
}

func (h *ProjectHandler) PartialReturn(w http.ResponseWriter, r *http.Request) {
	var req returnRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	lines := make([]service.ReturnLine, 0, len(req.Lines))
	for _, l := range req.Lines {
		lines = append(lines, l.toReturnLine())
	}
	h.transition(w, r, "Partial return recorded", func(id int32, user string) (*domain.Project, error) {
		return h.returns.PartialReturn(r.Context(), id, lines, parseDate(req.ReturnDate), user)
	})
}

func (h *ProjectHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "Project cancelled", func(id int32, user string) (*domain.Project, error) {
		return h.projects.Cancel(r.Context(), id, user)
	})
}

func (h *ProjectHandler) ResetToDraft(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "Project reset to draft", func(id int32, user string) (*domain.Project, error) {
		return h.projects.ResetToDraft(r.Context(), id, user)
	})
}

func (h *ProjectHandler) Invoice(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "Invoice created", func(id int32, _ string) (*domain.Project, error) {
		return h.projects.CreateInvoice(r.Context(), id)
	})
}
