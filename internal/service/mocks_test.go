package service_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"equiprent-backend/internal/domain"
	"equiprent-backend/internal/repository"
	"equiprent-backend/internal/repository/memory"
	"equiprent-backend/internal/service"
)

type MockInvoicingClient struct {
	mock.Mock
}

func (m *MockInvoicingClient) CreateInvoice(ctx context.Context, customer string, date time.Time, origin string, lines []domain.InvoiceLine) (string, error) {
	args := m.Called(ctx, customer, date, origin, lines)
	return args.String(0), args.Error(1)
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, u *domain.Unit) error {
	args := m.Called(ctx, u)
	return args.Error(0)
}

// fakeRenderer returns a recognisable payload instead of a PNG. Serials in fail are refused.
type fakeRenderer struct {
	fail map[string]bool
}

func (r *fakeRenderer) Generate(data string, logo []byte, size int) ([]byte, error) {
	if r.fail[data] {
		return nil, errors.New("render failed")
	}
	return []byte("png:" + data), nil
}

// interleavingStore runs beforeTx ahead of the next transaction, standing in for another
// request that commits between a service's reads and its writes. wrap, when set, replaces the
// repositories handed to every transaction.
type interleavingStore struct {
	repository.Store
	beforeTx func()
	wrap     func(repository.Repositories) repository.Repositories
}

func (s *interleavingStore) WithinTx(ctx context.Context, fn func(ctx context.Context, r repository.Repositories) error) error {
	if hook := s.beforeTx; hook != nil {
		s.beforeTx = nil
		hook()
	}
	return s.Store.WithinTx(ctx, func(ctx context.Context, r repository.Repositories) error {
		if s.wrap != nil {
			r = s.wrap(r)
		}
		return fn(ctx, r)
	})
}

// failingProjects refuses every project update.
type failingProjects struct {
	repository.ProjectRepository
}

func (failingProjects) Update(ctx context.Context, p *domain.Project) error {
	return errors.New("connection reset")
}

var day0 = time.Date(2026, 5, 4, 0, 0, 0, 0, time.UTC)

func days(n int) time.Time {
	return day0.AddDate(0, 0, n)
}

type fixture struct {
	ctx      context.Context
	store    *memory.Store
	clock    time.Time
	renderer *fakeRenderer
	deps     service.Deps

	equipment service.EquipmentService
	units     service.UnitService
	projects  service.ProjectService
	returns   service.ReturnService
	scans     service.ScanService
	bulk      service.BulkSerialService
}

func newFixture(t *testing.T, tweak ...func(*service.Settings)) *fixture {
	t.Helper()
	f := &fixture{
		ctx:      context.Background(),
		store:    memory.NewStore(),
		clock:    day0,
		renderer: &fakeRenderer{fail: map[string]bool{}},
	}
	settings := service.DefaultSettings()
	for _, fn := range tweak {
		fn(&settings)
	}
	f.deps = service.Deps{
		Store:      f.store,
		Settings:   settings,
		Renderer:   f.renderer,
		Invoicing:  service.NewInvoiceBook(f.store),
		Activities: service.NewActivityLog(f.store),
		Now:        func() time.Time { return f.clock },
	}
	f.rebuild()
	return f
}

// rebuild recreates the services after deps were changed by a test.
func (f *fixture) rebuild() {
	f.equipment = service.NewEquipmentService(f.deps)
	f.units = service.NewUnitService(f.deps)
	f.projects = service.NewProjectService(f.deps, service.NewAllocator(f.deps))
	f.returns = service.NewReturnService(f.deps, f.projects)
	f.scans = service.NewScanService(f.deps, f.projects)
	f.bulk = service.NewBulkSerialService(f.deps)
}

type equipmentSpec struct {
	name      string
	daily     float64
	itemValue float64
	autoGen   bool
	units     int
}

func (f *fixture) addEquipment(t *testing.T, spec equipmentSpec) *domain.Equipment {
	t.Helper()
	if spec.daily == 0 {
		spec.daily = 20
	}
	e := &domain.Equipment{
		Name:                spec.name,
		DailyRate:           spec.daily,
		ItemValue:           spec.itemValue,
		HasSerials:          true,
		AutoGenerateSerials: spec.autoGen,
	}
	require.NoError(t, f.equipment.CreateEquipment(f.ctx, e))
	for i := 1; i <= spec.units; i++ {
		u := &domain.Unit{EquipmentID: e.ID, SerialNumber: fmt.Sprintf("%s-%04d", e.Code, i)}
		require.NoError(t, f.units.CreateUnit(f.ctx, u, "tester"))
	}
	return e
}

func (f *fixture) addProject(t *testing.T, start, end time.Time, lines ...domain.LineItem) *domain.Project {
	t.Helper()
	p := &domain.Project{CustomerName: "Acme Events", StartDate: start, EndDate: end, LineItems: lines}
	require.NoError(t, f.projects.CreateProject(f.ctx, p))
	got, err := f.projects.GetProject(f.ctx, p.ID)
	require.NoError(t, err)
	return got
}

func line(equipmentID int32, qty int) domain.LineItem {
	return domain.LineItem{EquipmentID: equipmentID, Quantity: qty}
}

func (f *fixture) unit(t *testing.T, id int32) *domain.Unit {
	t.Helper()
	u, err := f.store.Repos().Units.GetByID(f.ctx, id)
	require.NoError(t, err)
	return u
}

func (f *fixture) unitsOf(t *testing.T, p *domain.Project) []domain.Unit {
	t.Helper()
	units, err := f.store.Repos().Units.ListByIDs(f.ctx, p.AllUnitIDs())
	require.NoError(t, err)
	return units
}

// rentedProject builds an ongoing project renting qty units of a fresh equipment.
func (f *fixture) rentedProject(t *testing.T, spec equipmentSpec, qty int, end time.Time) (*domain.Equipment, *domain.Project) {
	t.Helper()
	e := f.addEquipment(t, spec)
	p := f.addProject(t, day0, end, line(e.ID, qty))
	_, err := f.projects.Reserve(f.ctx, p.ID, "tester")
	require.NoError(t, err)
	p, err = f.projects.Start(f.ctx, p.ID, "tester", "")
	require.NoError(t, err)
	return e, p
}
