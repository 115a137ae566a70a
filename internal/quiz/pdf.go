package quiz

import (
	"bytes"
	"fmt"

	"github.com/jung-kurt/gofpdf"
)

// ExportPDF renders a printable quiz sheet: every question with lettered
// options, followed by an answer key on its own page.
func ExportPDF(q Quiz) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	// Core fonts are cp1252; translate so accented text survives.
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetTitle(q.Title, true)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 16)
	pdf.MultiCell(0, 8, tr(q.Title), "", "L", false)
	if q.Description != "" {
		pdf.SetFont("Helvetica", "I", 11)
		pdf.MultiCell(0, 6, tr(q.Description), "", "L", false)
	}
	if q.SourceURL != "" {
		pdf.SetFont("Helvetica", "", 9)
		pdf.WriteLinkString(5, q.SourceURL, q.SourceURL)
		pdf.Ln(5)
	}
	pdf.Ln(4)

	for i, item := range q.Questions {
		pdf.SetFont("Helvetica", "B", 11)
		pdf.MultiCell(0, 6, tr(fmt.Sprintf("%d. %s", i+1, item.Question)), "", "L", false)
		pdf.SetFont("Helvetica", "", 11)
		for j, opt := range item.Options {
			pdf.MultiCell(0, 6, tr(fmt.Sprintf("   %s) %s", optionLetter(j), opt)), "", "L", false)
		}
		pdf.Ln(3)
	}

	pdf.AddPage()
	pdf.SetFont("Helvetica", "B", 14)
	pdf.CellFormat(0, 8, "Answer key", "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 11)
	for i, item := range q.Questions {
		line := fmt.Sprintf("%d. %s", i+1, optionLetter(item.CorrectAnswer))
		if item.Explanation != "" {
			line += " - " + item.Explanation
		}
		pdf.MultiCell(0, 6, tr(line), "", "L", false)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

// optionLetter maps 0 → "A", 1 → "B" and so on.
func optionLetter(i int) string {
	if i < 0 || i >= 26 {
		return fmt.Sprint(i + 1)
	}
	return string(rune('A' + i))
}
