package service_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"equiprent-backend/internal/domain"
	"equiprent-backend/internal/service"
)

func TestScanService_QuickRentReservedUnit(t *testing.T) {
	f := newFixture(t)
	e := f.addEquipment(t, equipmentSpec{name: "Speaker", daily: 15, units: 2})
	p := f.addProject(t, days(0), days(2), line(e.ID, 2))
	p, err := f.projects.Reserve(f.ctx, p.ID, "tester")
	require.NoError(t, err)
	first := f.unit(t, p.LineItems[0].UnitIDs[0])

	f.clock = days(1)
	detail, err := f.scans.QuickRent(f.ctx, service.QuickRentRequest{
		Serial:     " " + first.SerialNumber + " ",
		ProjectID:  p.ID,
		ActingUser: "gate",
		Location:   "dock 2",
	})
	require.NoError(t, err)

	assert.Equal(t, domain.UnitStatusRented, detail.Unit.Status)
	assert.Equal(t, "Rented", detail.StatusLabel)
	assert.Equal(t, p.Number, detail.ProjectNumber)
	assert.Equal(t, "[Speaker] EQ-0001-0001 (Rented)", detail.DisplayName)
	assert.Equal(t, 1, detail.RentalDays)
	assert.Equal(t, 15.0, detail.RentalCharge)
	require.Len(t, detail.RecentScans, 1)
	scan := detail.RecentScans[0]
	assert.Equal(t, domain.ScanHandover, scan.ScanType)
	assert.Equal(t, domain.UnitStatusReserved, scan.PreviousStatus)
	assert.Equal(t, domain.UnitStatusRented, scan.NewStatus)
	assert.Equal(t, "dock 2", scan.Location)

	got, err := f.projects.GetProject(f.ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ProjectStateOngoing, got.State)
}

func TestScanService_QuickRentAvailableUnit(t *testing.T) {
	f := newFixture(t)
	e := f.addEquipment(t, equipmentSpec{name: "Chair", units: 3})
	p := f.addProject(t, days(0), days(2), line(e.ID, 2))
	all, err := f.store.Repos().Units.List(f.ctx, domain.UnitFilter{EquipmentID: &e.ID})
	require.NoError(t, err)

	p, err = f.projects.Reserve(f.ctx, p.ID, "tester")
	require.NoError(t, err)
	held := p.LineItems[0].UnitIDs
	assert.Equal(t, []int32{all[0].ID, all[1].ID}, held)

	// taking a reserved unit back frees a slot on the line
	_, err = f.units.ApplyAction(f.ctx, all[1].ID, domain.UnitActionSetAvailable, "tester", "")
	require.NoError(t, err)

	detail, err := f.scans.QuickRent(f.ctx, service.QuickRentRequest{Serial: all[2].SerialNumber, ProjectID: p.ID, ActingUser: "gate"})
	require.NoError(t, err)
	assert.Equal(t, domain.UnitStatusRented, detail.Unit.Status)

	got, err := f.projects.GetProject(f.ctx, p.ID)
	require.NoError(t, err)
	assert.Contains(t, got.LineItems[0].UnitIDs, all[2].ID)

	t.Run("line full", func(t *testing.T) {
		_, err := f.scans.QuickRent(f.ctx, service.QuickRentRequest{Serial: all[1].SerialNumber, ProjectID: p.ID, ActingUser: "gate"})
		assert.ErrorIs(t, err, domain.ErrUnitInUse)
		assert.Equal(t, domain.UnitStatusAvailable, f.unit(t, all[1].ID).Status)
	})
}

func TestScanService_QuickRentFillsLineWithRoom(t *testing.T) {
	f := newFixture(t)
	e := f.addEquipment(t, equipmentSpec{name: "Light", units: 2})
	p := f.addProject(t, days(0), days(2), line(e.ID, 1), line(e.ID, 1))
	p, err := f.projects.Reserve(f.ctx, p.ID, "tester")
	require.NoError(t, err)
	require.Len(t, p.LineItems, 2)
	kept := p.LineItems[0].UnitIDs
	freed := p.LineItems[1].UnitIDs[0]

	_, err = f.units.ApplyAction(f.ctx, freed, domain.UnitActionSetAvailable, "tester", "")
	require.NoError(t, err)

	detail, err := f.scans.QuickRent(f.ctx, service.QuickRentRequest{Serial: f.unit(t, freed).SerialNumber, ProjectID: p.ID, ActingUser: "gate"})
	require.NoError(t, err)
	assert.Equal(t, domain.UnitStatusRented, detail.Unit.Status)

	got, err := f.projects.GetProject(f.ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, kept, got.LineItems[0].UnitIDs)
	assert.Equal(t, []int32{freed}, got.LineItems[1].UnitIDs)
}

func TestScanService_QuickRentRejectsEquipmentNotOnProject(t *testing.T) {
	f := newFixture(t)
	e := f.addEquipment(t, equipmentSpec{name: "Table", units: 1})
	stray := f.addEquipment(t, equipmentSpec{name: "Heater", units: 1})
	p := f.addProject(t, days(0), days(2), line(e.ID, 1))
	_, err := f.projects.Reserve(f.ctx, p.ID, "tester")
	require.NoError(t, err)

	units, err := f.store.Repos().Units.List(f.ctx, domain.UnitFilter{EquipmentID: &stray.ID})
	require.NoError(t, err)
	_, err = f.scans.QuickRent(f.ctx, service.QuickRentRequest{Serial: units[0].SerialNumber, ProjectID: p.ID, ActingUser: "gate"})
	assert.True(t, domain.IsValidation(err))

	_, err = f.scans.QuickRent(f.ctx, service.QuickRentRequest{Serial: "NOPE", ProjectID: p.ID})
	assert.True(t, domain.IsNotFound(err))
}

func TestScanService_QuickReturn(t *testing.T) {
	f := newFixture(t)
	_, p := f.rentedProject(t, equipmentSpec{name: "Mic", itemValue: 250, units: 2}, 2, days(3))
	units := f.unitsOf(t, p)

	f.clock = days(5)
	detail, err := f.scans.QuickReturn(f.ctx, service.QuickReturnRequest{Serial: units[0].SerialNumber, ActingUser: "gate"})
	require.NoError(t, err)
	assert.Equal(t, domain.UnitStatusReturned, detail.Unit.Status)
	assert.Equal(t, domain.ScanReturn, detail.RecentScans[0].ScanType)

	got, err := f.projects.GetProject(f.ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ProjectStateOngoing, got.State)

	detail, err = f.scans.QuickReturn(f.ctx, service.QuickReturnRequest{
		Serial:     units[1].SerialNumber,
		Condition:  domain.ConditionLost,
		ActingUser: "gate",
		Notes:      "not in the case",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.UnitStatusDisposed, detail.Unit.Status)
	assert.False(t, detail.Unit.Active)
	assert.Equal(t, domain.ScanDamaged, detail.RecentScans[0].ScanType)
	assert.Equal(t, "not in the case", detail.RecentScans[0].Notes)

	got, err = f.projects.GetProject(f.ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ProjectStateReturned, got.State)
	assert.Equal(t, days(5), *got.ActualReturnDate)
	assert.Equal(t, 250.0, got.DamageFee)
	assert.Equal(t, 2, got.DaysOverdue)

	t.Run("not rented", func(t *testing.T) {
		_, err := f.scans.QuickReturn(f.ctx, service.QuickReturnRequest{Serial: units[0].SerialNumber})
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	})
}

func TestScanService_RecordScanAndLookup(t *testing.T) {
	f := newFixture(t)
	e := f.addEquipment(t, equipmentSpec{name: "Tripod", units: 1})
	units, err := f.store.Repos().Units.List(f.ctx, domain.UnitFilter{EquipmentID: &e.ID})
	require.NoError(t, err)
	serial := units[0].SerialNumber

	require.NoError(t, f.scans.RecordScan(f.ctx, serial, "", "auditor", "warehouse", "shelf B"))

	detail, err := f.scans.LookupSerial(f.ctx, serial)
	require.NoError(t, err)
	assert.Equal(t, "Tripod", detail.EquipmentName)
	assert.Equal(t, "QR_EQ-0001-0001.png", detail.Filename)
	assert.Zero(t, detail.RentalDays)
	require.Len(t, detail.RecentScans, 1)
	assert.Equal(t, domain.ScanVerify, detail.RecentScans[0].ScanType)
	assert.Equal(t, domain.UnitStatusAvailable, detail.RecentScans[0].NewStatus)

	_, err = f.scans.LookupSerial(f.ctx, "missing")
	assert.True(t, domain.IsNotFound(err))
}
