package reports

import (
	"bytes"
	"fmt"

	"github.com/jung-kurt/gofpdf/v2"
)

// Label is one printable identifier: the image and the text printed under it.
type Label struct {
	Serial  string
	Caption string
	Image   []byte
}

const (
	labelCols   = 3
	labelRows   = 4
	labelWidth  = 63.0
	labelHeight = 68.0
	imageSize   = 48.0
)

// LabelSheetPDF lays the labels out on A4 pages, three across and four down.
// Labels without an image are printed as text only.
func LabelSheetPDF(title string, labels []Label) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(10, 10, 10)
	pdf.SetAutoPageBreak(false, 10)

	perPage := labelCols * labelRows
	for i, l := range labels {
		if i%perPage == 0 {
			pdf.AddPage()
			pdf.SetFont("Arial", "B", 12)
			pdf.CellFormat(190, 8, title, "", 1, "C", false, 0, "")
		}
		slot := i % perPage
		x := 10 + float64(slot%labelCols)*labelWidth
		y := 20 + float64(slot/labelCols)*labelHeight

		pdf.Rect(x, y, labelWidth-2, labelHeight-2, "D")
		if len(l.Image) > 0 {
			name := fmt.Sprintf("label-%d", i)
			opts := gofpdf.ImageOptions{ImageType: "PNG", ReadDpi: false}
			pdf.RegisterImageOptionsReader(name, opts, bytes.NewReader(l.Image))
			pdf.ImageOptions(name, x+(labelWidth-2-imageSize)/2, y+2, imageSize, imageSize, false, opts, 0, "")
		}

		pdf.SetXY(x, y+imageSize+3)
		pdf.SetFont("Arial", "B", 10)
		pdf.CellFormat(labelWidth-2, 5, l.Serial, "", 2, "C", false, 0, "")
		pdf.SetFont("Arial", "", 8)
		pdf.CellFormat(labelWidth-2, 4, l.Caption, "", 0, "C", false, 0, "")
	}
	if len(labels) == 0 {
		pdf.AddPage()
		pdf.SetFont("Arial", "", 11)
		pdf.CellFormat(190, 8, "No serials to print.", "", 1, "C", false, 0, "")
	}

	if err := pdf.Error(); err != nil {
		return nil, fmt.Errorf("failed to build label sheet: %w", err)
	}
	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
