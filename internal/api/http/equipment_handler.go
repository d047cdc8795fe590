package http

import (
	"net/http"
	"strconv"

	"equiprent-backend/internal/domain"
	"equiprent-backend/internal/service"
)

type EquipmentHandler struct {
	equipment service.EquipmentService
	units     service.UnitService
	bulk      service.BulkSerialService
	reports   service.ReportService
}

func NewEquipmentHandler(equipment service.EquipmentService, units service.UnitService,
	bulk service.BulkSerialService, reports service.ReportService) *EquipmentHandler {
	return &EquipmentHandler{equipment: equipment, units: units, bulk: bulk, reports: reports}
}

type createEquipmentRequest struct {
	Name                string   `json:"name" validate:"required"`
	Code                string   `json:"code"`
	Description         string   `json:"description"`
	CategoryID          *int32   `json:"category_id" validate:"omitempty,gt=0"`
	ItemValue           float64  `json:"item_value" validate:"gte=0"`
	DailyRate           float64  `json:"daily_rate" validate:"gte=0"`
	WeeklyRate          float64  `json:"weekly_rate" validate:"gte=0"`
	MonthlyRate         float64  `json:"monthly_rate" validate:"gte=0"`
	HasSerials          *bool    `json:"has_serials"`
	AutoGenerateSerials *bool    `json:"auto_generate_serials"`
	Serials             []string `json:"serials" validate:"dive,required"`
}

type bulkSerialRequest struct {
	Quantity    int    `json:"quantity" validate:"required"`
	Prefix      string `json:"prefix" validate:"omitempty,max=32"`
	StartNumber int    `json:"start_number" validate:"gte=0"`
	Preview     bool   `json:"preview"`
}

type categoryRequest struct {
	Name     string `json:"name" validate:"required"`
	ParentID *int32 `json:"parent_id" validate:"omitempty,gt=0"`
}

func (h *EquipmentHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	categoryID, err := queryInt32(r, "category_id")
	if err != nil {
		writeBadRequest(w, "Invalid category_id")
		return
	}
	filter := domain.EquipmentFilter{Search: q.Get("search"), CategoryID: categoryID, ActiveOnly: true}
	if active, err := strconv.ParseBool(q.Get("active_only")); err == nil {
		filter.ActiveOnly = active
	}

	list, err := h.equipment.ListEquipment(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if list == nil {
		list = []domain.Equipment{}
	}
	writeSuccess(w, http.StatusOK, "", list)
}

func (h *EquipmentHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	e, err := h.equipment.GetEquipment(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "", e)
}

// Create registers equipment and, when serials are listed, one unit per serial.
func (h *EquipmentHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createEquipmentRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	ctx := r.Context()

	e := &domain.Equipment{
		Name:        req.Name,
		Code:        req.Code,
		Description: req.Description,
		CategoryID:  req.CategoryID,
		ItemValue:   req.ItemValue,
		DailyRate:   req.DailyRate,
		WeeklyRate:  req.WeeklyRate,
		MonthlyRate: req.MonthlyRate,
		HasSerials:  req.HasSerials == nil || *req.HasSerials,
	}
	if req.AutoGenerateSerials != nil {
		e.AutoGenerateSerials = *req.AutoGenerateSerials
	}
	if err := h.equipment.CreateEquipment(ctx, e); err != nil {
		writeError(w, r, err)
		return
	}

	for _, serial := range req.Serials {
		u := &domain.Unit{EquipmentID: e.ID, SerialNumber: serial}
		if err := h.units.CreateUnit(ctx, u, ActingUserFrom(ctx)); err != nil {
			writeError(w, r, err)
			return
		}
	}
	if len(req.Serials) > 0 {
		fresh, err := h.equipment.GetEquipment(ctx, e.ID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		e = fresh
	}
	writeSuccess(w, http.StatusCreated, "Equipment "+e.Code+" created", e)
}

// BulkSerials previews or generates serialized units for the equipment.
func (h *EquipmentHandler) BulkSerials(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req bulkSerialRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	bulkReq := service.BulkSerialRequest{EquipmentID: id, Quantity: req.Quantity, Prefix: req.Prefix, StartNumber: req.StartNumber}

	if req.Preview {
		names, err := h.bulk.Preview(r.Context(), bulkReq)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeSuccess(w, http.StatusOK, "Preview of the first serials", names)
		return
	}

	result, err := h.bulk.Generate(r.Context(), bulkReq)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, strconv.Itoa(len(result.Succeeded))+" serials created", result)
}

func (h *EquipmentHandler) RegenerateIdentifiers(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	missingOnly, _ := strconv.ParseBool(r.URL.Query().Get("missing_only"))
	if _, err := h.equipment.GetEquipment(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}

	result, err := h.units.RegenerateIdentifiers(r.Context(), domain.UnitFilter{EquipmentID: &id, MissingImage: missingOnly})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, strconv.Itoa(len(result.Succeeded))+" identifiers regenerated", result)
}

// Labels returns a printable PDF sheet of the equipment's identifier labels.
func (h *EquipmentHandler) Labels(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	pdf, err := h.reports.LabelSheet(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeFile(w, "application/pdf", "labels-"+strconv.Itoa(int(id))+".pdf", pdf)
}

func (h *EquipmentHandler) ListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.equipment.ListCategories(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if categories == nil {
		categories = []domain.Category{}
	}
	writeSuccess(w, http.StatusOK, "", categories)
}

func (h *EquipmentHandler) CreateCategory(w http.ResponseWriter, r *http.Request) {
	var req categoryRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	c := &domain.Category{Name: req.Name, ParentID: req.ParentID}
	if err := h.equipment.CreateCategory(r.Context(), c); err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusCreated, "Category created", c)
}

func writeFile(w http.ResponseWriter, contentType, filename string, data []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}
