package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"equiprent-backend/internal/domain"

	"github.com/shopspring/decimal"
)

func cloneUnit(u domain.Unit) domain.Unit {
	u.IdentifierImage = slices.Clone(u.IdentifierImage)
	return u
}

func cloneProject(p domain.Project) domain.Project {
	p.PhotoRefs = slices.Clone(p.PhotoRefs)
	p.LineItems = nil
	return p
}

func cloneLineItem(li domain.LineItem) domain.LineItem {
	li.UnitIDs = slices.Clone(li.UnitIDs)
	return li
}

func sortUnits(units []domain.Unit) {
	sort.Slice(units, func(i, j int) bool {
		if units[i].Sequence != units[j].Sequence {
			return units[i].Sequence < units[j].Sequence
		}
		return units[i].ID < units[j].ID
	})
}

type equipmentRepo struct{ *session }

func (r *equipmentRepo) Create(ctx context.Context, e *domain.Equipment) error {
	return r.do(func(d *dataset) error {
		for _, other := range d.equipment {
			if other.Code == e.Code {
				return domain.NewValidationError("CODE_DUPLICATE", "Equipment code %s already exists.", e.Code)
			}
		}
		e.ID = d.nextID()
		e.CreatedOn, e.UpdatedOn = time.Now(), time.Now()
		stored := *e
		stored.Stock = domain.StockCounts{}
		d.equipment[e.ID] = stored
		return nil
	})
}

func (r *equipmentRepo) GetByID(ctx context.Context, id int32) (*domain.Equipment, error) {
	var out *domain.Equipment
	err := r.do(func(d *dataset) error {
		e, ok := d.equipment[id]
		if !ok {
			return domain.NewNotFoundError("equipment", id)
		}
		out = &e
		return nil
	})
	return out, err
}

func (r *equipmentRepo) LockByID(ctx context.Context, id int32) (*domain.Equipment, error) {
	return r.GetByID(ctx, id)
}

func (r *equipmentRepo) Update(ctx context.Context, e *domain.Equipment) error {
	return r.do(func(d *dataset) error {
		if _, ok := d.equipment[e.ID]; !ok {
			return domain.NewNotFoundError("equipment", e.ID)
		}
		e.UpdatedOn = time.Now()
		stored := *e
		stored.Stock = domain.StockCounts{}
		d.equipment[e.ID] = stored
		return nil
	})
}

func (r *equipmentRepo) List(ctx context.Context, filter domain.EquipmentFilter) ([]domain.Equipment, error) {
	var out []domain.Equipment
	err := r.do(func(d *dataset) error {
		search := strings.ToLower(filter.Search)
		for _, e := range d.equipment {
			if search != "" && !strings.Contains(strings.ToLower(e.Name), search) && !strings.Contains(strings.ToLower(e.Code), search) {
				continue
			}
			if filter.CategoryID != nil && (e.CategoryID == nil || *e.CategoryID != *filter.CategoryID) {
				continue
			}
			if filter.ActiveOnly && !e.Active {
				continue
			}
			out = append(out, e)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, err
}

func (r *equipmentRepo) StockCounts(ctx context.Context, equipmentID int32) (domain.StockCounts, error) {
	var c domain.StockCounts
	err := r.do(func(d *dataset) error {
		for _, u := range d.units {
			if u.EquipmentID != equipmentID || !u.Active {
				continue
			}
			c.Total++
			switch u.Status {
			case domain.UnitStatusAvailable:
				c.Available++
			case domain.UnitStatusReserved:
				c.Reserved++
			case domain.UnitStatusRented:
				c.Rented++
			}
		}
		return nil
	})
	return c, err
}

type categoryRepo struct{ *session }

func (r *categoryRepo) Create(ctx context.Context, c *domain.Category) error {
	return r.do(func(d *dataset) error {
		c.ID = d.nextID()
		d.categories[c.ID] = *c
		return nil
	})
}

func (r *categoryRepo) GetByID(ctx context.Context, id int32) (*domain.Category, error) {
	var out *domain.Category
	err := r.do(func(d *dataset) error {
		c, ok := d.categories[id]
		if !ok {
			return domain.NewNotFoundError("category", id)
		}
		out = &c
		return nil
	})
	return out, err
}

func (r *categoryRepo) Update(ctx context.Context, c *domain.Category) error {
	return r.do(func(d *dataset) error {
		if _, ok := d.categories[c.ID]; !ok {
			return domain.NewNotFoundError("category", c.ID)
		}
		d.categories[c.ID] = *c
		return nil
	})
}

func (r *categoryRepo) List(ctx context.Context) ([]domain.Category, error) {
	var out []domain.Category
	err := r.do(func(d *dataset) error {
		for _, c := range d.categories {
			out = append(out, c)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, err
}

type unitRepo struct{ *session }

func serialTaken(d *dataset, serial string, exceptID int32) bool {
	for _, u := range d.units {
		if u.SerialNumber == serial && u.ID != exceptID {
			return true
		}
	}
	return false
}

func (r *unitRepo) Create(ctx context.Context, u *domain.Unit) error {
	return r.do(func(d *dataset) error {
		if _, ok := d.equipment[u.EquipmentID]; !ok {
			return domain.NewNotFoundError("equipment", u.EquipmentID)
		}
		if serialTaken(d, u.SerialNumber, 0) {
			return domain.NewValidationError("SERIAL_DUPLICATE", "Serial number %s already exists.", u.SerialNumber)
		}
		u.ID = d.nextID()
		u.CreatedOn, u.UpdatedOn = time.Now(), time.Now()
		d.units[u.ID] = cloneUnit(*u)
		return nil
	})
}

func (r *unitRepo) GetByID(ctx context.Context, id int32) (*domain.Unit, error) {
	var out *domain.Unit
	err := r.do(func(d *dataset) error {
		u, ok := d.units[id]
		if !ok {
			return domain.NewNotFoundError("serial", id)
		}
		u = cloneUnit(u)
		out = &u
		return nil
	})
	return out, err
}

func (r *unitRepo) GetBySerial(ctx context.Context, serial string) (*domain.Unit, error) {
	var out *domain.Unit
	err := r.do(func(d *dataset) error {
		for _, u := range d.units {
			if u.SerialNumber == serial {
				u = cloneUnit(u)
				out = &u
				return nil
			}
		}
		return domain.NewNotFoundError("serial", serial)
	})
	return out, err
}

func (r *unitRepo) Update(ctx context.Context, u *domain.Unit) error {
	return r.do(func(d *dataset) error {
		if _, ok := d.units[u.ID]; !ok {
			return domain.NewNotFoundError("serial", u.ID)
		}
		if serialTaken(d, u.SerialNumber, u.ID) {
			return domain.NewValidationError("SERIAL_DUPLICATE", "Serial number %s already exists.", u.SerialNumber)
		}
		u.UpdatedOn = time.Now()
		d.units[u.ID] = cloneUnit(*u)
		return nil
	})
}

func (r *unitRepo) UpdateIdentifierImage(ctx context.Context, id int32, img []byte) error {
	return r.do(func(d *dataset) error {
		u, ok := d.units[id]
		if !ok {
			return domain.NewNotFoundError("serial", id)
		}
		u.IdentifierImage = slices.Clone(img)
		u.UpdatedOn = time.Now()
		d.units[id] = u
		return nil
	})
}

func (r *unitRepo) Delete(ctx context.Context, id int32) error {
	return r.do(func(d *dataset) error {
		for _, li := range d.lineItems {
			if li.HasUnit(id) {
				return fmt.Errorf("unit %d is still referenced by line item %d", id, li.ID)
			}
		}
		for _, h := range d.history {
			if h.UnitID != nil && *h.UnitID == id {
				return fmt.Errorf("unit %d is still referenced by status history", id)
			}
		}
		delete(d.units, id)
		return nil
	})
}

func (r *unitRepo) List(ctx context.Context, filter domain.UnitFilter) ([]domain.Unit, error) {
	var out []domain.Unit
	err := r.do(func(d *dataset) error {
		for _, u := range d.units {
			if filter.EquipmentID != nil && u.EquipmentID != *filter.EquipmentID {
				continue
			}
			if filter.ProjectID != nil && (u.ProjectID == nil || *u.ProjectID != *filter.ProjectID) {
				continue
			}
			if len(filter.Statuses) > 0 && !slices.Contains(filter.Statuses, u.Status) {
				continue
			}
			if filter.ActiveOnly && !u.Active {
				continue
			}
			if filter.MissingImage && u.HasImage() {
				continue
			}
			out = append(out, cloneUnit(u))
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.EquipmentID != b.EquipmentID {
			return a.EquipmentID < b.EquipmentID
		}
		if a.Sequence != b.Sequence {
			return a.Sequence < b.Sequence
		}
		return a.ID < b.ID
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, err
}

func (r *unitRepo) ListByIDs(ctx context.Context, ids []int32) ([]domain.Unit, error) {
	var out []domain.Unit
	err := r.do(func(d *dataset) error {
		for _, id := range ids {
			if u, ok := d.units[id]; ok {
				out = append(out, cloneUnit(u))
			}
		}
		return nil
	})
	sortUnits(out)
	return out, err
}

func (r *unitRepo) LockByIDs(ctx context.Context, ids []int32) ([]domain.Unit, error) {
	return r.ListByIDs(ctx, ids)
}

func (r *unitRepo) LockAvailable(ctx context.Context, equipmentID int32, excludeIDs []int32, limit int) ([]domain.Unit, error) {
	if limit <= 0 {
		return nil, nil
	}
	var out []domain.Unit
	err := r.do(func(d *dataset) error {
		for _, u := range d.units {
			if u.EquipmentID == equipmentID && u.Status == domain.UnitStatusAvailable && u.Active && !slices.Contains(excludeIDs, u.ID) {
				out = append(out, cloneUnit(u))
			}
		}
		return nil
	})
	sortUnits(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, err
}

func (r *unitRepo) SerialExists(ctx context.Context, serial string) (bool, error) {
	var exists bool
	err := r.do(func(d *dataset) error {
		exists = serialTaken(d, serial, 0)
		return nil
	})
	return exists, err
}

func (r *unitRepo) CountByEquipment(ctx context.Context, equipmentID int32) (int, error) {
	n := 0
	err := r.do(func(d *dataset) error {
		for _, u := range d.units {
			if u.EquipmentID == equipmentID {
				n++
			}
		}
		return nil
	})
	return n, err
}

type projectRepo struct{ *session }

func (r *projectRepo) Create(ctx context.Context, p *domain.Project) error {
	return r.do(func(d *dataset) error {
		p.ID = d.nextID()
		p.CreatedOn, p.UpdatedOn = time.Now(), time.Now()
		d.projects[p.ID] = cloneProject(*p)
		return nil
	})
}

func (r *projectRepo) GetByID(ctx context.Context, id int32) (*domain.Project, error) {
	var out *domain.Project
	err := r.do(func(d *dataset) error {
		p, ok := d.projects[id]
		if !ok {
			return domain.NewNotFoundError("project", id)
		}
		p = cloneProject(p)
		out = &p
		return nil
	})
	return out, err
}

func (r *projectRepo) LockByID(ctx context.Context, id int32) (*domain.Project, error) {
	return r.GetByID(ctx, id)
}

func (r *projectRepo) Update(ctx context.Context, p *domain.Project) error {
	return r.do(func(d *dataset) error {
		if _, ok := d.projects[p.ID]; !ok {
			return domain.NewNotFoundError("project", p.ID)
		}
		p.UpdatedOn = time.Now()
		d.projects[p.ID] = cloneProject(*p)
		return nil
	})
}

func (r *projectRepo) List(ctx context.Context, filter domain.ProjectFilter) ([]domain.Project, int32, error) {
	var all []domain.Project
	err := r.do(func(d *dataset) error {
		customer := strings.ToLower(filter.Customer)
		for _, p := range d.projects {
			if len(filter.States) > 0 && !slices.Contains(filter.States, p.State) {
				continue
			}
			if customer != "" && !strings.Contains(strings.ToLower(p.CustomerName), customer) {
				continue
			}
			all = append(all, cloneProject(p))
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].StartDate.Equal(all[j].StartDate) {
			return all[i].StartDate.After(all[j].StartDate)
		}
		return all[i].ID > all[j].ID
	})

	page, pageSize := int(filter.Page), int(filter.PageSize)
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 50
	}
	start := (page - 1) * pageSize
	if start >= len(all) {
		return nil, int32(len(all)), nil
	}
	end := min(start+pageSize, len(all))
	return all[start:end], int32(len(all)), nil
}

type lineItemRepo struct{ *session }

func withEquipmentName(d *dataset, li domain.LineItem) domain.LineItem {
	li = cloneLineItem(li)
	if e, ok := d.equipment[li.EquipmentID]; ok {
		li.EquipmentName = e.Name
	}
	if li.UnitIDs == nil {
		li.UnitIDs = []int32{}
	}
	return li
}

func (r *lineItemRepo) Create(ctx context.Context, li *domain.LineItem) error {
	return r.do(func(d *dataset) error {
		if _, ok := d.projects[li.ProjectID]; !ok {
			return domain.NewNotFoundError("project", li.ProjectID)
		}
		if _, ok := d.equipment[li.EquipmentID]; !ok {
			return domain.NewNotFoundError("equipment", li.EquipmentID)
		}
		li.ID = d.nextID()
		d.lineItems[li.ID] = cloneLineItem(*li)
		return nil
	})
}

func (r *lineItemRepo) GetByID(ctx context.Context, id int32) (*domain.LineItem, error) {
	var out *domain.LineItem
	err := r.do(func(d *dataset) error {
		li, ok := d.lineItems[id]
		if !ok {
			return domain.NewNotFoundError("line item", id)
		}
		li = withEquipmentName(d, li)
		out = &li
		return nil
	})
	return out, err
}

func (r *lineItemRepo) Update(ctx context.Context, li *domain.LineItem) error {
	return r.do(func(d *dataset) error {
		stored, ok := d.lineItems[li.ID]
		if !ok {
			return domain.NewNotFoundError("line item", li.ID)
		}
		stored.Quantity = li.Quantity
		stored.UnitPrice = li.UnitPrice
		stored.Subtotal = li.Subtotal
		d.lineItems[li.ID] = stored
		return nil
	})
}

func (r *lineItemRepo) Delete(ctx context.Context, id int32) error {
	return r.do(func(d *dataset) error {
		delete(d.lineItems, id)
		return nil
	})
}

func (r *lineItemRepo) ListByProject(ctx context.Context, projectID int32) ([]domain.LineItem, error) {
	var out []domain.LineItem
	err := r.do(func(d *dataset) error {
		for _, li := range d.lineItems {
			if li.ProjectID == projectID {
				out = append(out, withEquipmentName(d, li))
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, err
}

func (r *lineItemRepo) SetUnits(ctx context.Context, lineItemID int32, unitIDs []int32) error {
	return r.do(func(d *dataset) error {
		li, ok := d.lineItems[lineItemID]
		if !ok {
			return domain.NewNotFoundError("line item", lineItemID)
		}
		for _, id := range unitIDs {
			if _, ok := d.units[id]; !ok {
				return domain.NewNotFoundError("serial", id)
			}
		}
		li.UnitIDs = slices.Clone(unitIDs)
		d.lineItems[lineItemID] = li
		return nil
	})
}

type historyRepo struct{ *session }

func (r *historyRepo) Create(ctx context.Context, e *domain.StatusHistoryEntry) error {
	return r.do(func(d *dataset) error {
		e.ID = d.nextID()
		if e.CreatedOn.IsZero() {
			e.CreatedOn = time.Now()
		}
		stored := *e
		stored.PhotoRefs = slices.Clone(e.PhotoRefs)
		d.history = append(d.history, stored)
		return nil
	})
}

func (r *historyRepo) filter(match func(domain.StatusHistoryEntry) bool) ([]domain.StatusHistoryEntry, error) {
	var out []domain.StatusHistoryEntry
	err := r.do(func(d *dataset) error {
		for _, e := range d.history {
			if match(e) {
				e.PhotoRefs = slices.Clone(e.PhotoRefs)
				out = append(out, e)
			}
		}
		return nil
	})
	return out, err
}

func (r *historyRepo) ListByUnit(ctx context.Context, unitID int32) ([]domain.StatusHistoryEntry, error) {
	return r.filter(func(e domain.StatusHistoryEntry) bool { return e.UnitID != nil && *e.UnitID == unitID })
}

func (r *historyRepo) ListByProject(ctx context.Context, projectID int32) ([]domain.StatusHistoryEntry, error) {
	return r.filter(func(e domain.StatusHistoryEntry) bool { return e.ProjectID != nil && *e.ProjectID == projectID })
}

func (r *historyRepo) CountByUnit(ctx context.Context, unitID int32) (int, error) {
	entries, err := r.ListByUnit(ctx, unitID)
	return len(entries), err
}

type scanLogRepo struct{ *session }

func (r *scanLogRepo) Create(ctx context.Context, s *domain.ScanLog) error {
	return r.do(func(d *dataset) error {
		s.ID = d.nextID()
		if s.ScannedAt.IsZero() {
			s.ScannedAt = time.Now()
		}
		d.scanLogs = append(d.scanLogs, *s)
		return nil
	})
}

func (r *scanLogRepo) ListByUnit(ctx context.Context, unitID int32, limit int) ([]domain.ScanLog, error) {
	var out []domain.ScanLog
	err := r.do(func(d *dataset) error {
		for i := len(d.scanLogs) - 1; i >= 0; i-- {
			if d.scanLogs[i].UnitID == unitID {
				out = append(out, d.scanLogs[i])
			}
		}
		return nil
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, err
}

type sequenceRepo struct{ *session }

func (r *sequenceRepo) Next(ctx context.Context, code string) (int64, error) {
	var v int64
	err := r.do(func(d *dataset) error {
		d.sequences[code]++
		v = d.sequences[code]
		return nil
	})
	return v, err
}

type invoiceRepo struct{ *session }

func (r *invoiceRepo) Create(ctx context.Context, inv *domain.Invoice) error {
	return r.do(func(d *dataset) error {
		if _, ok := d.invoices[inv.Reference]; ok {
			return domain.NewValidationError("INVOICE_DUPLICATE", "Invoice %s already exists.", inv.Reference)
		}
		total := decimal.Zero
		for _, l := range inv.Lines {
			total = total.Add(l.Amount())
		}
		inv.Total = total.Round(2)
		inv.ID = d.nextID()
		inv.CreatedOn = time.Now()
		stored := *inv
		stored.Lines = slices.Clone(inv.Lines)
		d.invoices[inv.Reference] = stored
		return nil
	})
}

func (r *invoiceRepo) GetByReference(ctx context.Context, ref string) (*domain.Invoice, error) {
	var out *domain.Invoice
	err := r.do(func(d *dataset) error {
		inv, ok := d.invoices[ref]
		if !ok {
			return domain.NewNotFoundError("invoice", ref)
		}
		inv.Lines = slices.Clone(inv.Lines)
		out = &inv
		return nil
	})
	return out, err
}

type activityRepo struct{ *session }

func (r *activityRepo) Create(ctx context.Context, a *domain.Activity) error {
	return r.do(func(d *dataset) error {
		a.ID = d.nextID()
		a.CreatedOn = time.Now()
		d.activities = append(d.activities, *a)
		return nil
	})
}

func (r *activityRepo) List(ctx context.Context, projectID *int32, limit, offset int32) ([]domain.Activity, int32, error) {
	var matched []domain.Activity
	err := r.do(func(d *dataset) error {
		for i := len(d.activities) - 1; i >= 0; i-- {
			a := d.activities[i]
			if projectID != nil && (a.ProjectID == nil || *a.ProjectID != *projectID) {
				continue
			}
			matched = append(matched, a)
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	total := int32(len(matched))
	if offset >= total {
		return nil, total, nil
	}
	end := total
	if limit > 0 {
		end = min(offset+limit, total)
	}
	return matched[offset:end], total, nil
}

type apiKeyRepo struct{ *session }

func (r *apiKeyRepo) Create(ctx context.Context, k *domain.APIKey) error {
	return r.do(func(d *dataset) error {
		for _, other := range d.apiKeys {
			if other.Prefix == k.Prefix {
				return domain.NewValidationError("APIKEY_DUPLICATE", "API key prefix %s already exists.", k.Prefix)
			}
		}
		k.ID = d.nextID()
		k.CreatedOn = time.Now()
		d.apiKeys[k.ID] = *k
		return nil
	})
}

func (r *apiKeyRepo) GetByPrefix(ctx context.Context, prefix string) (*domain.APIKey, error) {
	var out *domain.APIKey
	err := r.do(func(d *dataset) error {
		for _, k := range d.apiKeys {
			if k.Prefix == prefix {
				out = &k
				return nil
			}
		}
		return domain.NewNotFoundError("api key", prefix)
	})
	return out, err
}

func (r *apiKeyRepo) TouchLastUsed(ctx context.Context, id int32) error {
	return r.do(func(d *dataset) error {
		k, ok := d.apiKeys[id]
		if !ok {
			return domain.NewNotFoundError("api key", id)
		}
		now := time.Now()
		k.LastUsedOn = &now
		d.apiKeys[id] = k
		return nil
	})
}
