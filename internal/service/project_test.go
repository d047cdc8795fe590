package service_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"equiprent-backend/internal/domain"
	"equiprent-backend/internal/repository"
	"equiprent-backend/internal/service"
)

// returnedProject builds a project that went out and came back in good condition.
func (f *fixture) returnedProject(t *testing.T, name string) *domain.Project {
	t.Helper()
	_, p := f.rentedProject(t, equipmentSpec{name: name, units: 1}, 1, days(1))
	session, err := f.returns.Begin(f.ctx, p.ID)
	require.NoError(t, err)
	p, err = f.returns.Commit(f.ctx, session, "tester")
	require.NoError(t, err)
	require.Equal(t, domain.ProjectStateReturned, p.State)
	return p
}

// projectsOn builds a project service over another store.
func (f *fixture) projectsOn(store repository.Store) service.ProjectService {
	deps := f.deps
	deps.Store = store
	return service.NewProjectService(deps, service.NewAllocator(deps))
}

func TestProjectService_ReserveAutoCreatesUnits(t *testing.T) {
	f := newFixture(t)
	e := f.addEquipment(t, equipmentSpec{name: "Speaker", daily: 20, autoGen: true})
	p := f.addProject(t, days(0), days(9), line(e.ID, 3))

	assert.Equal(t, "RNT/00001", p.Number)
	assert.Equal(t, 10, p.DurationDays)
	assert.Empty(t, p.LineItems[0].UnitIDs)

	p, err := f.projects.Reserve(f.ctx, p.ID, "tester")
	require.NoError(t, err)

	assert.Equal(t, domain.ProjectStateReserved, p.State)
	li := p.LineItems[0]
	assert.Equal(t, 200.0, li.UnitPrice)
	assert.Equal(t, 600.0, li.Subtotal)
	assert.Equal(t, 600.0, p.TotalAmount)
	require.Len(t, li.UnitIDs, 3)

	var serials []string
	for _, u := range f.unitsOf(t, p) {
		serials = append(serials, u.SerialNumber)
		assert.Equal(t, domain.UnitStatusReserved, u.Status)
		require.NotNil(t, u.ProjectID)
		assert.Equal(t, p.ID, *u.ProjectID)
		assert.True(t, u.HasImage())
	}
	assert.Equal(t, []string{"EQ-0001-0001", "EQ-0001-0002", "EQ-0001-0003"}, serials)

	stock, err := f.equipment.StockCounts(f.ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StockCounts{Reserved: 3, Total: 3}, stock)
}

func TestProjectService_ReserveIsIdempotent(t *testing.T) {
	f := newFixture(t)
	e := f.addEquipment(t, equipmentSpec{name: "Light", units: 4})
	p := f.addProject(t, days(0), days(2), line(e.ID, 2))

	first, err := f.projects.Reserve(f.ctx, p.ID, "tester")
	require.NoError(t, err)
	second, err := f.projects.Reserve(f.ctx, p.ID, "tester")
	require.NoError(t, err)

	assert.Equal(t, first.LineItems[0].UnitIDs, second.LineItems[0].UnitIDs)
	history, err := f.store.Repos().History.ListByProject(f.ctx, p.ID)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestProjectService_ReserveAllocatesDistinctUnits(t *testing.T) {
	f := newFixture(t)
	e := f.addEquipment(t, equipmentSpec{name: "Mixer", units: 4})

	p1 := f.addProject(t, days(0), days(2), line(e.ID, 2))
	p2 := f.addProject(t, days(0), days(2), line(e.ID, 2))
	p3 := f.addProject(t, days(0), days(2), line(e.ID, 1))

	r1, err := f.projects.Reserve(f.ctx, p1.ID, "tester")
	require.NoError(t, err)
	r2, err := f.projects.Reserve(f.ctx, p2.ID, "tester")
	require.NoError(t, err)

	for _, id := range r1.LineItems[0].UnitIDs {
		assert.NotContains(t, r2.LineItems[0].UnitIDs, id)
	}

	t.Run("insufficient stock", func(t *testing.T) {
		_, err := f.projects.Reserve(f.ctx, p3.ID, "tester")
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrInsufficientStock)
		assert.True(t, domain.IsUserError(err))
		assert.Equal(t, "Insufficient serials for Mixer. Need 1, found 0. Please add more serials or enable auto-generation.", err.Error())

		got, err := f.projects.GetProject(f.ctx, p3.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.ProjectStateDraft, got.State)
	})
}

func TestProjectService_ReserveRollsBackOnFailure(t *testing.T) {
	f := newFixture(t)
	ok := f.addEquipment(t, equipmentSpec{name: "Chair", units: 2})
	short := f.addEquipment(t, equipmentSpec{name: "Table", units: 1})
	p := f.addProject(t, days(0), days(1), line(ok.ID, 2), line(short.ID, 2))

	_, err := f.projects.Reserve(f.ctx, p.ID, "tester")
	require.ErrorIs(t, err, domain.ErrInsufficientStock)

	stock, err := f.equipment.StockCounts(f.ctx, ok.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stock.Available)
	assert.Zero(t, stock.Reserved)
}

func TestProjectService_ReserveReplacesUnitsTakenSinceDraft(t *testing.T) {
	f := newFixture(t)
	e := f.addEquipment(t, equipmentSpec{name: "Tent", units: 3})
	draft := f.addProject(t, days(0), days(1), line(e.ID, 1))
	other := f.addProject(t, days(0), days(1), line(e.ID, 1))

	// both drafts point at the first unit
	assert.Equal(t, draft.LineItems[0].UnitIDs, other.LineItems[0].UnitIDs)

	_, err := f.projects.Reserve(f.ctx, other.ID, "tester")
	require.NoError(t, err)
	reserved, err := f.projects.Reserve(f.ctx, draft.ID, "tester")
	require.NoError(t, err)

	assert.NotEqual(t, other.LineItems[0].UnitIDs, reserved.LineItems[0].UnitIDs)
	assert.Len(t, reserved.LineItems[0].UnitIDs, 1)
}

func TestProjectService_ReserveWithoutLines(t *testing.T) {
	f := newFixture(t)
	p := f.addProject(t, days(0), days(1))

	_, err := f.projects.Reserve(f.ctx, p.ID, "tester")
	assert.ErrorIs(t, err, domain.ErrNoLineItems)
}

func TestProjectService_CreateProjectValidation(t *testing.T) {
	f := newFixture(t)

	err := f.projects.CreateProject(f.ctx, &domain.Project{CustomerName: "Acme", StartDate: days(3), EndDate: days(1)})
	assert.True(t, domain.IsValidation(err))

	p := &domain.Project{CustomerName: "Acme", StartDate: days(0)}
	require.NoError(t, f.projects.CreateProject(f.ctx, p))
	assert.Equal(t, days(6), p.EndDate)
	assert.Equal(t, 7, p.DurationDays)
	assert.Equal(t, domain.PaymentUnpaid, p.PaymentStatus)
}

func TestProjectService_DraftLineEditsFollowQuantity(t *testing.T) {
	f := newFixture(t)
	e := f.addEquipment(t, equipmentSpec{name: "Camera", daily: 50, units: 5})
	p := f.addProject(t, days(0), days(1))

	li, err := f.projects.AddLineItem(f.ctx, p.ID, e.ID, 2)
	require.NoError(t, err)
	assert.Len(t, li.UnitIDs, 2)
	assert.Equal(t, 100.0, li.UnitPrice)
	first := li.UnitIDs

	li, err = f.projects.UpdateLineQuantity(f.ctx, p.ID, li.ID, 4)
	require.NoError(t, err)
	require.Len(t, li.UnitIDs, 4)
	assert.Equal(t, first, li.UnitIDs[:2])

	li, err = f.projects.UpdateLineQuantity(f.ctx, p.ID, li.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, first[:1], li.UnitIDs)

	got, err := f.projects.GetProject(f.ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 100.0, got.TotalAmount)

	for _, u := range f.unitsOf(t, got) {
		assert.Equal(t, domain.UnitStatusAvailable, u.Status, "draft links do not reserve")
	}

	t.Run("quantity must be positive", func(t *testing.T) {
		_, err := f.projects.UpdateLineQuantity(f.ctx, p.ID, li.ID, 0)
		assert.True(t, domain.IsValidation(err))
	})

	t.Run("remove", func(t *testing.T) {
		require.NoError(t, f.projects.RemoveLineItem(f.ctx, p.ID, li.ID))
		got, err := f.projects.GetProject(f.ctx, p.ID)
		require.NoError(t, err)
		assert.Empty(t, got.LineItems)
		assert.Zero(t, got.TotalAmount)
	})
}

func TestProjectService_UpdateDatesReprices(t *testing.T) {
	f := newFixture(t)
	e := f.addEquipment(t, equipmentSpec{name: "Stage", daily: 10, units: 1})
	p := f.addProject(t, days(0), days(1), line(e.ID, 1))
	assert.Equal(t, 20.0, p.TotalAmount)

	p.EndDate = days(4)
	p.Discount = 5
	updated, err := f.projects.UpdateProject(f.ctx, p)
	require.NoError(t, err)
	assert.Equal(t, 50.0, updated.TotalAmount)
	assert.Equal(t, 45.0, updated.GrandTotal)

	_, err = f.projects.Reserve(f.ctx, p.ID, "tester")
	require.NoError(t, err)
	updated.EndDate = days(9)
	_, err = f.projects.UpdateProject(f.ctx, updated)
	assert.True(t, domain.IsValidation(err))
}

func TestProjectService_SelectUnits(t *testing.T) {
	f := newFixture(t)
	e := f.addEquipment(t, equipmentSpec{name: "Projector", units: 4})
	p := f.addProject(t, days(0), days(1), line(e.ID, 2))
	all, err := f.store.Repos().Units.List(f.ctx, domain.UnitFilter{EquipmentID: &e.ID})
	require.NoError(t, err)

	_, err = f.projects.SelectUnits(f.ctx, p.ID, p.LineItems[0].ID, []int32{all[2].ID})
	assert.True(t, domain.IsValidation(err), "count must match quantity")

	li, err := f.projects.SelectUnits(f.ctx, p.ID, p.LineItems[0].ID, []int32{all[2].ID, all[3].ID})
	require.NoError(t, err)
	assert.Equal(t, []int32{all[2].ID, all[3].ID}, li.UnitIDs)

	reserved, err := f.projects.Reserve(f.ctx, p.ID, "tester")
	require.NoError(t, err)
	assert.Equal(t, []int32{all[2].ID, all[3].ID}, reserved.LineItems[0].UnitIDs)

	t.Run("swap while reserved", func(t *testing.T) {
		_, err := f.projects.SelectUnits(f.ctx, p.ID, p.LineItems[0].ID, []int32{all[0].ID, all[3].ID})
		require.NoError(t, err)
		assert.Equal(t, domain.UnitStatusReserved, f.unit(t, all[0].ID).Status)
		assert.Equal(t, domain.UnitStatusAvailable, f.unit(t, all[2].ID).Status)
		assert.Nil(t, f.unit(t, all[2].ID).ProjectID)
	})
}

func TestProjectService_StartRentsEveryUnit(t *testing.T) {
	f := newFixture(t)
	_, p := f.rentedProject(t, equipmentSpec{name: "Generator", units: 2}, 2, days(3))

	assert.Equal(t, domain.ProjectStateOngoing, p.State)
	for _, u := range f.unitsOf(t, p) {
		assert.Equal(t, domain.UnitStatusRented, u.Status)
		require.NotNil(t, u.ActualPickupDate)
		assert.Equal(t, day0, *u.ActualPickupDate)
	}

	_, err := f.projects.Start(f.ctx, p.ID, "tester", "")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestProjectService_PartialPickup(t *testing.T) {
	f := newFixture(t)
	e := f.addEquipment(t, equipmentSpec{name: "Truss", units: 2})
	p := f.addProject(t, days(0), days(5), line(e.ID, 2))
	p, err := f.projects.Reserve(f.ctx, p.ID, "tester")
	require.NoError(t, err)
	ids := p.LineItems[0].UnitIDs

	_, err = f.projects.Pickup(f.ctx, p.ID, ids[:1], days(6), "tester")
	assert.True(t, domain.IsValidation(err), "pickup after end date")

	p, err = f.projects.Pickup(f.ctx, p.ID, ids[:1], days(1), "tester")
	require.NoError(t, err)
	assert.Equal(t, domain.ProjectStateOngoing, p.State)
	assert.Equal(t, domain.UnitStatusRented, f.unit(t, ids[0]).Status)
	assert.Equal(t, days(1), *f.unit(t, ids[0]).ActualPickupDate)
	assert.Equal(t, domain.UnitStatusReserved, f.unit(t, ids[1]).Status)

	_, err = f.projects.Pickup(f.ctx, p.ID, ids[:1], days(1), "tester")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition, "already rented")

	p, err = f.projects.Pickup(f.ctx, p.ID, ids[1:], days(2), "tester")
	require.NoError(t, err)
	assert.Equal(t, domain.UnitStatusRented, f.unit(t, ids[1]).Status)
}

func TestProjectService_Cancel(t *testing.T) {
	t.Run("ongoing fails", func(t *testing.T) {
		f := newFixture(t)
		_, p := f.rentedProject(t, equipmentSpec{name: "Heater", units: 1}, 1, days(2))

		_, err := f.projects.Cancel(f.ctx, p.ID, "tester")
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrCancelOngoing)
		assert.True(t, domain.IsUserError(err))
		assert.Equal(t, "Cannot cancel ongoing rental. Please return equipment first.", err.Error())

		got, err := f.projects.GetProject(f.ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.ProjectStateOngoing, got.State)
		assert.Equal(t, domain.UnitStatusRented, f.unitsOf(t, got)[0].Status)
	})

	t.Run("reserved releases units", func(t *testing.T) {
		f := newFixture(t)
		e := f.addEquipment(t, equipmentSpec{name: "Heater", units: 2})
		p := f.addProject(t, days(0), days(2), line(e.ID, 2))
		p, err := f.projects.Reserve(f.ctx, p.ID, "tester")
		require.NoError(t, err)
		ids := p.LineItems[0].UnitIDs

		p, err = f.projects.Cancel(f.ctx, p.ID, "tester")
		require.NoError(t, err)
		assert.Equal(t, domain.ProjectStateCancelled, p.State)
		assert.Empty(t, p.LineItems[0].UnitIDs)
		for _, id := range ids {
			u := f.unit(t, id)
			assert.Equal(t, domain.UnitStatusAvailable, u.Status)
			assert.Nil(t, u.ProjectID)
		}

		_, err = f.projects.Reserve(f.ctx, p.ID, "tester")
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	})
}

func TestProjectService_ResetToDraft(t *testing.T) {
	f := newFixture(t)
	e := f.addEquipment(t, equipmentSpec{name: "Fan", units: 1})
	p := f.addProject(t, days(0), days(2), line(e.ID, 1))

	_, err := f.projects.ResetToDraft(f.ctx, p.ID, "tester")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition, "only reserved projects reset")

	_, err = f.projects.Reserve(f.ctx, p.ID, "tester")
	require.NoError(t, err)
	p, err = f.projects.ResetToDraft(f.ctx, p.ID, "tester")
	require.NoError(t, err)
	assert.Equal(t, domain.ProjectStateDraft, p.State)

	stock, err := f.equipment.StockCounts(f.ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stock.Available)
}

func TestProjectService_Overdue(t *testing.T) {
	f := newFixture(t, func(s *service.Settings) {
		s.Pricing.LateFeeDailyRate = 10
		s.LateFeeEnabledDefault = true
	})
	_, p := f.rentedProject(t, equipmentSpec{name: "Boat", daily: 100, units: 1}, 1, days(2))
	assert.False(t, p.IsOverdue)

	f.clock = days(6)
	got, err := f.projects.GetProject(f.ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, got.IsOverdue)
	assert.Equal(t, 4, got.DaysOverdue)
	assert.Equal(t, 40.0, got.LateFee)
	assert.Equal(t, 340.0, got.GrandTotal)

	changed, err := f.projects.RefreshOverdue(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, changed)
	stored, err := f.store.Repos().Projects.GetByID(f.ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, stored.DaysOverdue)

	changed, err = f.projects.RefreshOverdue(f.ctx)
	require.NoError(t, err)
	assert.Zero(t, changed)
}

func TestProjectService_RefreshOverdueCountsOnlySavedProjects(t *testing.T) {
	f := newFixture(t, func(s *service.Settings) {
		s.Pricing.LateFeeDailyRate = 10
		s.LateFeeEnabledDefault = true
	})
	_, p := f.rentedProject(t, equipmentSpec{name: "Kayak", daily: 50, units: 1}, 1, days(2))
	f.clock = days(5)

	store := &interleavingStore{Store: f.store, wrap: func(r repository.Repositories) repository.Repositories {
		r.Projects = failingProjects{r.Projects}
		return r
	}}
	changed, err := f.projectsOn(store).RefreshOverdue(f.ctx)
	require.NoError(t, err)
	assert.Zero(t, changed)
	stored, err := f.store.Repos().Projects.GetByID(f.ctx, p.ID)
	require.NoError(t, err)
	assert.Zero(t, stored.DaysOverdue)

	changed, err = f.projects.RefreshOverdue(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, changed)
}

func TestProjectService_CreateInvoice(t *testing.T) {
	f := newFixture(t, func(s *service.Settings) {
		s.Pricing.LateFeeDailyRate = 15
		s.LateFeeEnabledDefault = true
	})
	e, p := f.rentedProject(t, equipmentSpec{name: "Camera", daily: 30, units: 2}, 2, days(1))
	p.Discount = 10
	_, err := f.projects.UpdateProject(f.ctx, p)
	require.NoError(t, err)

	_, err = f.projects.CreateInvoice(f.ctx, p.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition, "not returned yet")

	f.clock = days(3)
	session, err := f.returns.Begin(f.ctx, p.ID)
	require.NoError(t, err)
	session.Lines[0].Condition = domain.ConditionMinorDamage
	_, err = f.returns.Commit(f.ctx, session, "tester")
	require.NoError(t, err)

	invoiced, err := f.projects.CreateInvoice(f.ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ProjectStateInvoiced, invoiced.State)
	require.NotNil(t, invoiced.InvoiceRef)
	assert.Equal(t, "INV/000001", *invoiced.InvoiceRef)

	inv, err := f.store.Repos().Invoices.GetByReference(f.ctx, *invoiced.InvoiceRef)
	require.NoError(t, err)
	var descriptions []string
	for _, l := range inv.Lines {
		descriptions = append(descriptions, l.Description)
	}
	assert.Equal(t, []string{
		e.Name + " - Rental (2 days)",
		"Late Fee (2 days overdue)",
		"Damage/Repair Fee",
		"Discount",
	}, descriptions)
	// 2 x 60 + 30 late + 100 damage - 10 discount
	assert.Equal(t, "240.00", inv.Total.StringFixed(2))
	assert.Equal(t, 240.0, invoiced.GrandTotal)

	_, err = f.projects.CreateInvoice(f.ctx, p.ID)
	assert.ErrorIs(t, err, domain.ErrInvoiceExists)
}

func TestProjectService_CreateInvoiceConcurrentRequests(t *testing.T) {
	f := newFixture(t)
	p := f.returnedProject(t, "Generator")

	store := &interleavingStore{Store: f.store, beforeTx: func() {
		_, err := f.projects.CreateInvoice(f.ctx, p.ID)
		require.NoError(t, err)
	}}
	_, err := f.projectsOn(store).CreateInvoice(f.ctx, p.ID)
	require.ErrorIs(t, err, domain.ErrInvoiceExists)

	got, err := f.projects.GetProject(f.ctx, p.ID)
	require.NoError(t, err)
	require.NotNil(t, got.InvoiceRef)
	assert.Equal(t, "INV/000001", *got.InvoiceRef)
	assert.Equal(t, domain.ProjectStateInvoiced, got.State)

	_, err = f.store.Repos().Invoices.GetByReference(f.ctx, "INV/000001")
	require.NoError(t, err)
	_, err = f.store.Repos().Invoices.GetByReference(f.ctx, "INV/000002")
	assert.True(t, domain.IsNotFound(err), "the refused request must not book an invoice")
}

func TestProjectService_CreateInvoiceRollsBackBooking(t *testing.T) {
	f := newFixture(t)
	p := f.returnedProject(t, "Pump")

	store := &interleavingStore{Store: f.store, wrap: func(r repository.Repositories) repository.Repositories {
		r.Projects = failingProjects{r.Projects}
		return r
	}}
	_, err := f.projectsOn(store).CreateInvoice(f.ctx, p.ID)
	require.Error(t, err)

	_, err = f.store.Repos().Invoices.GetByReference(f.ctx, "INV/000001")
	assert.True(t, domain.IsNotFound(err))

	// the sequence rolled back too, so the next booking reuses the number
	invoiced, err := f.projects.CreateInvoice(f.ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "INV/000001", *invoiced.InvoiceRef)
}

func TestInvoiceBook_CreateInvoice(t *testing.T) {
	f := newFixture(t)
	book := service.NewInvoiceBook(f.store)
	date := time.Date(2026, 5, 4, 16, 30, 0, 0, time.UTC)

	_, err := book.CreateInvoice(f.ctx, "Acme Events", date, "RP/0001", nil)
	assert.ErrorIs(t, err, domain.ErrNoLineItems)

	lines := []domain.InvoiceLine{{Description: "Tent - Rental (2 days)", Quantity: decimal.NewFromInt(2), UnitPrice: decimal.NewFromInt(35)}}
	ref, err := book.CreateInvoice(f.ctx, "Acme Events", date, "RP/0001", lines)
	require.NoError(t, err)
	assert.Equal(t, "INV/000001", ref)

	inv, err := f.store.Repos().Invoices.GetByReference(f.ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, "RP/0001", inv.Origin)
	assert.Equal(t, day0, inv.InvoiceDate)
	assert.Equal(t, "70.00", inv.Total.StringFixed(2))
}

func TestProjectService_CreateInvoiceCollaboratorFailure(t *testing.T) {
	f := newFixture(t)
	invoicing := new(MockInvoicingClient)
	f.deps.Invoicing = invoicing
	f.rebuild()

	_, p := f.rentedProject(t, equipmentSpec{name: "Drone", units: 1}, 1, days(1))
	session, err := f.returns.Begin(f.ctx, p.ID)
	require.NoError(t, err)
	_, err = f.returns.Commit(f.ctx, session, "tester")
	require.NoError(t, err)

	invoicing.On("CreateInvoice", mock.Anything, "Acme Events", day0, p.Number, mock.MatchedBy(func(lines []domain.InvoiceLine) bool {
		return len(lines) == 1 && lines[0].UnitPrice.StringFixed(2) == "40.00"
	})).Return("", assert.AnError).Once()

	_, err = f.projects.CreateInvoice(f.ctx, p.ID)
	require.ErrorIs(t, err, assert.AnError)

	got, err := f.projects.GetProject(f.ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ProjectStateReturned, got.State)
	assert.Nil(t, got.InvoiceRef)
	invoicing.AssertExpectations(t)
}
