package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"equiprent-backend/internal/domain"
	"equiprent-backend/internal/security"
	"equiprent-backend/internal/service"
)

type MockAvailabilityCache struct {
	mock.Mock
}

func (m *MockAvailabilityCache) Get(ctx context.Context, equipmentID int32) (domain.StockCounts, bool) {
	args := m.Called(ctx, equipmentID)
	return args.Get(0).(domain.StockCounts), args.Bool(1)
}

func (m *MockAvailabilityCache) Set(ctx context.Context, equipmentID int32, counts domain.StockCounts) {
	m.Called(ctx, equipmentID, counts)
}

func (m *MockAvailabilityCache) Invalidate(ctx context.Context, equipmentIDs ...int32) {
	m.Called(ctx, equipmentIDs)
}

func TestEquipmentService_CreateEquipment(t *testing.T) {
	f := newFixture(t, func(s *service.Settings) { s.AutoGenerateSerialsDefault = true })

	first := &domain.Equipment{Name: "Tent", DailyRate: 40, HasSerials: true}
	require.NoError(t, f.equipment.CreateEquipment(f.ctx, first))
	assert.Equal(t, "EQ-0001", first.Code)
	assert.True(t, first.Active)
	assert.True(t, first.AutoGenerateSerials)

	second := &domain.Equipment{Name: "Pole", Code: "POLE", WeeklyRate: 10}
	require.NoError(t, f.equipment.CreateEquipment(f.ctx, second))
	assert.Equal(t, "POLE", second.Code)

	err := f.equipment.CreateEquipment(f.ctx, &domain.Equipment{Name: "Free"})
	require.Error(t, err)
	assert.Equal(t, "Please set at least one rental rate (Daily, Weekly, or Monthly).", err.Error())

	missing := int32(999)
	err = f.equipment.CreateEquipment(f.ctx, &domain.Equipment{Name: "Orphan", DailyRate: 1, CategoryID: &missing})
	assert.True(t, domain.IsNotFound(err))
}

func TestEquipmentService_UpdateKeepsSerialTracking(t *testing.T) {
	f := newFixture(t)
	e := f.addEquipment(t, equipmentSpec{name: "Heater", units: 1})

	e.HasSerials = false
	err := f.equipment.UpdateEquipment(f.ctx, e)
	assert.True(t, domain.IsValidation(err))

	e.HasSerials = true
	e.DailyRate = 35
	require.NoError(t, f.equipment.UpdateEquipment(f.ctx, e))
	got, err := f.equipment.GetEquipment(f.ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, 35.0, got.DailyRate)
	assert.Equal(t, domain.StockCounts{Available: 1, Total: 1}, got.Stock)
}

func TestEquipmentService_CheckAvailability(t *testing.T) {
	f := newFixture(t)
	e := f.addEquipment(t, equipmentSpec{name: "Grill", units: 2})
	auto := f.addEquipment(t, equipmentSpec{name: "Plate", autoGen: true})

	ok, counts, err := f.equipment.CheckAvailability(f.ctx, e.ID, 2)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2, counts.Available)

	ok, _, err = f.equipment.CheckAvailability(f.ctx, e.ID, 3)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, _, err = f.equipment.CheckAvailability(f.ctx, auto.ID, 50)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEquipmentService_StockCountsUseCache(t *testing.T) {
	f := newFixture(t)
	cache := new(MockAvailabilityCache)
	f.deps.Cache = cache
	f.rebuild()

	cache.On("Invalidate", mock.Anything, mock.Anything).Return()
	e := f.addEquipment(t, equipmentSpec{name: "Bench", units: 1})

	cache.On("Get", mock.Anything, e.ID).Return(domain.StockCounts{}, false).Once()
	cache.On("Set", mock.Anything, e.ID, domain.StockCounts{Available: 1, Total: 1}).Return().Once()
	counts, err := f.equipment.StockCounts(f.ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Available)

	cached := domain.StockCounts{Available: 9, Total: 9}
	cache.On("Get", mock.Anything, e.ID).Return(cached, true).Once()
	counts, err = f.equipment.StockCounts(f.ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, cached, counts)

	p := f.addProject(t, days(0), days(1), line(e.ID, 1))
	_, err = f.projects.Reserve(f.ctx, p.ID, "tester")
	require.NoError(t, err)
	cache.AssertCalled(t, "Invalidate", mock.Anything, []int32{e.ID})
	cache.AssertExpectations(t)
}

func TestEquipmentService_Categories(t *testing.T) {
	f := newFixture(t)

	audio := &domain.Category{Name: "Audio"}
	require.NoError(t, f.equipment.CreateCategory(f.ctx, audio))
	speakers := &domain.Category{Name: "Speakers", ParentID: &audio.ID}
	require.NoError(t, f.equipment.CreateCategory(f.ctx, speakers))
	assert.Equal(t, "Audio / Speakers", speakers.FullName)

	t.Run("cycle", func(t *testing.T) {
		loop := *audio
		loop.ParentID = &speakers.ID
		err := f.equipment.UpdateCategory(f.ctx, &loop)
		require.Error(t, err)
		assert.Equal(t, "You cannot create recursive categories.", err.Error())
	})

	t.Run("self parent", func(t *testing.T) {
		loop := *audio
		loop.ParentID = &audio.ID
		assert.True(t, domain.IsValidation(f.equipment.UpdateCategory(f.ctx, &loop)))
	})

	renamed := *audio
	renamed.Name = "Sound"
	require.NoError(t, f.equipment.UpdateCategory(f.ctx, &renamed))

	all, err := f.equipment.ListCategories(f.ctx)
	require.NoError(t, err)
	names := map[string]string{}
	for _, c := range all {
		names[c.Name] = c.FullName
	}
	assert.Equal(t, map[string]string{"Sound": "Sound", "Speakers": "Sound / Speakers"}, names)
}

func TestAuthService(t *testing.T) {
	f := newFixture(t)
	tokens := security.NewTokenManager("test-secret", time.Minute)
	auth := service.NewAuthService(f.deps, tokens)

	plaintext, key, err := auth.IssueAPIKey(f.ctx, "front desk", "")
	require.NoError(t, err)
	assert.Equal(t, "front desk", key.ActingUser)
	assert.NotContains(t, key.SecretHash, plaintext)

	got, err := auth.Authenticate(f.ctx, plaintext)
	require.NoError(t, err)
	assert.Equal(t, key.ID, got.ID)

	token, expires, err := auth.ExchangeToken(f.ctx, plaintext)
	require.NoError(t, err)
	assert.True(t, expires.After(time.Now()))
	claims, err := tokens.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, key.ID, claims.KeyID)
	assert.Equal(t, "front desk", claims.ActingUser)

	for _, bad := range []string{"", "garbage", plaintext + "x", "rk_000000000000.c2VjcmV0"} {
		_, err := auth.Authenticate(f.ctx, bad)
		assert.ErrorIs(t, err, domain.ErrUnauthorized, bad)
	}

	_, _, err = auth.IssueAPIKey(f.ctx, "  ", "")
	assert.True(t, domain.IsValidation(err))
}
