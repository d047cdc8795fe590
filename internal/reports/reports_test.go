package reports

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestUnitRegisterXLSX(t *testing.T) {
	picked := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	rows := []RegisterRow{
		{Equipment: "Drill", Code: "EQ-0001", Serial: "EQ-0001-0001", Sequence: 1, Status: "Rented", Project: "RNT/00004", Active: true, PickupDate: &picked},
		{Equipment: "Drill", Code: "EQ-0001", Serial: "EQ-0001-0002", Sequence: 2, Status: "Available", Active: true},
		{Equipment: "Ladder: 3m", Code: "EQ-0002", Serial: "EQ-0002-0001", Sequence: 1, Status: "Disposed"},
	}

	data, err := UnitRegisterXLSX(rows)
	require.NoError(t, err)

	xl, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer xl.Close()

	assert.Equal(t, []string{"EQ-0001 Drill", "EQ-0002 Ladder_ 3m"}, xl.GetSheetList())

	drills, err := xl.GetRows("EQ-0001 Drill")
	require.NoError(t, err)
	require.Len(t, drills, 3)
	assert.Equal(t, "serial", drills[0][0])
	assert.Equal(t, "EQ-0001-0001", drills[1][0])
	assert.Equal(t, "2026-03-02", drills[1][5])
}

func TestUnitRegisterXLSXEmpty(t *testing.T) {
	data, err := UnitRegisterXLSX(nil)
	require.NoError(t, err)
	assert.NotEmpty(t, data)
}

func TestSanitizeSheetName(t *testing.T) {
	assert.Equal(t, "a_b_c", sanitizeSheetName("a/b?c"))
	assert.Len(t, []rune(sanitizeSheetName("a very long equipment name that keeps going")), 31)
}

func TestLabelSheetPDF(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 8, 8))
	img.SetGray(2, 2, color.Gray{Y: 255})
	var png8 bytes.Buffer
	require.NoError(t, png.Encode(&png8, img))

	var labels []Label
	for i := 0; i < 14; i++ {
		labels = append(labels, Label{Serial: "EQ-0001-000" + string(rune('0'+i%10)), Caption: "Drill", Image: png8.Bytes()})
	}
	labels = append(labels, Label{Serial: "NO-IMAGE", Caption: "Drill"})

	data, err := LabelSheetPDF("Drill labels", labels)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("%PDF")))

	empty, err := LabelSheetPDF("Nothing", nil)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(empty, []byte("%PDF")))
}
