package noterender

import (
	"fmt"
	"io"

	"github.com/jung-kurt/gofpdf"
)

const (
	pdfFont       = "Helvetica"
	pdfLineHeight = 5.5
	pdfLabelWidth = 60.0
)

// PDFRenderer lays a Document out on A4 pages.
type PDFRenderer struct{}

func (PDFRenderer) ContentType() string { return "application/pdf" }

func (PDFRenderer) Render(w io.Writer, doc *Document) error {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle(doc.Title, true)
	pdf.SetAutoPageBreak(true, 20)
	pdf.AliasNbPages("{nb}")
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.SetFooterFunc(func() {
		pdf.SetY(-15)
		pdf.SetFont(pdfFont, "I", 8)
		pdf.CellFormat(0, 10, tr(fmt.Sprintf("Visit %s  -  generated %s", doc.VisitID,
			doc.GeneratedAt.Format("2006-01-02 15:04"))), "", 0, "L", false, 0, "")
		pdf.CellFormat(0, 10, fmt.Sprintf("Page %d of {nb}", pdf.PageNo()), "", 0, "R", false, 0, "")
	})

	pdf.AddPage()
	pageWidth, _ := pdf.GetPageSize()
	left, _, right, _ := pdf.GetMargins()
	contentWidth := pageWidth - left - right

	pdf.SetFont(pdfFont, "B", 16)
	pdf.CellFormat(0, 10, tr(doc.Title), "", 1, "L", false, 0, "")

	pdf.SetFont(pdfFont, "", 10)
	for _, f := range doc.Header {
		pdfField(pdf, tr, f, contentWidth)
	}
	pdf.Ln(4)

	for _, sec := range doc.Sections {
		pdf.SetFont(pdfFont, "B", 12)
		pdf.SetFillColor(230, 230, 230)
		pdf.CellFormat(0, 8, tr(sec.Title), "B", 1, "L", true, 0, "")
		pdf.Ln(1)

		if sec.Placeholder != "" {
			pdf.SetFont(pdfFont, "I", 10)
			pdf.CellFormat(0, pdfLineHeight, tr(sec.Placeholder), "", 1, "L", false, 0, "")
		}

		if len(sec.Vitals) > 0 {
			col := contentWidth / 3
			pdf.SetFont(pdfFont, "B", 10)
			for _, h := range []string{"Vital", "At Rest", "After Exertion"} {
				pdf.CellFormat(col, 6, h, "1", 0, "L", false, 0, "")
			}
			pdf.Ln(-1)
			pdf.SetFont(pdfFont, "", 10)
			for _, row := range sec.Vitals {
				pdf.CellFormat(col, 6, tr(row.Label), "1", 0, "L", false, 0, "")
				pdf.CellFormat(col, 6, tr(row.AtRest), "1", 0, "L", false, 0, "")
				pdf.CellFormat(col, 6, tr(row.AfterExertion), "1", 0, "L", false, 0, "")
				pdf.Ln(-1)
			}
			pdf.Ln(2)
		}

		pdf.SetFont(pdfFont, "", 10)
		for _, f := range sec.Fields {
			pdfField(pdf, tr, f, contentWidth)
		}
		for _, g := range sec.Groups {
			pdf.SetFont(pdfFont, "B", 10)
			pdf.CellFormat(0, 7, tr(g.Title), "", 1, "L", false, 0, "")
			if g.Placeholder != "" {
				pdf.SetFont(pdfFont, "I", 10)
				pdf.CellFormat(0, pdfLineHeight, tr(g.Placeholder), "", 1, "L", false, 0, "")
			}
			pdf.SetFont(pdfFont, "", 10)
			for _, f := range g.Fields {
				pdfField(pdf, tr, f, contentWidth)
			}
		}
		pdf.Ln(3)
	}

	if err := pdf.Error(); err != nil {
		return fmt.Errorf("render pdf: %w", err)
	}
	return pdf.Output(w)
}

func pdfField(pdf *gofpdf.Fpdf, tr func(string) string, f Field, width float64) {
	pdf.SetFont(pdfFont, "B", 10)
	pdf.CellFormat(pdfLabelWidth, pdfLineHeight, tr(f.Label+":"), "", 0, "L", false, 0, "")
	pdf.SetFont(pdfFont, "", 10)
	pdf.MultiCell(width-pdfLabelWidth, pdfLineHeight, tr(f.Value), "", "L", false)
}
