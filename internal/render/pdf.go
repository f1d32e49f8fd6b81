package render

import (
	"bytes"
	"context"
	"fmt"

	"github.com/jung-kurt/gofpdf"
)

// PDFColor represents an RGB color.
type PDFColor struct {
	R int
	G int
	B int
}

// PDFOptions configures artifact generation.
type PDFOptions struct {
	PageSize    string
	Orientation string
	FontFamily  string
	AccentColor PDFColor
	DateFormat  string
}

// DefaultPDFOptions returns the default artifact layout options.
func DefaultPDFOptions() PDFOptions {
	return PDFOptions{
		PageSize:    "A4",
		Orientation: "L",
		FontFamily:  "Helvetica",
		AccentColor: PDFColor{R: 68, G: 114, B: 196},
		DateFormat:  "January 2, 2006",
	}
}

// PDFRenderer renders certificate artifacts with gofpdf.
type PDFRenderer struct {
	options PDFOptions
}

// NewPDFRenderer creates a renderer with the given options.
func NewPDFRenderer(options PDFOptions) *PDFRenderer {
	return &PDFRenderer{options: options}
}

// Render lays out a single-page landscape certificate and returns the PDF
// bytes.
func (r *PDFRenderer) Render(ctx context.Context, data CertificateData) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pdf := gofpdf.New(r.options.Orientation, "mm", r.options.PageSize, "")
	pdf.SetMargins(20, 25, 20)
	pdf.AddPage()
	pageW, _ := pdf.GetPageSize()

	accent := r.options.AccentColor
	pdf.SetDrawColor(accent.R, accent.G, accent.B)
	pdf.SetLineWidth(1.2)
	pdf.Rect(10, 10, pageW-20, 190, "D")

	pdf.SetFont(r.options.FontFamily, "B", 30)
	pdf.SetTextColor(accent.R, accent.G, accent.B)
	pdf.CellFormat(0, 22, data.Title, "", 1, "C", false, 0, "")

	pdf.SetTextColor(60, 60, 60)
	pdf.SetFont(r.options.FontFamily, "", 13)
	pdf.CellFormat(0, 10, "This certificate is proudly presented to", "", 1, "C", false, 0, "")

	pdf.SetFont(r.options.FontFamily, "B", 24)
	pdf.SetTextColor(30, 30, 30)
	pdf.CellFormat(0, 16, data.RecipientName, "", 1, "C", false, 0, "")

	if data.Description != "" {
		pdf.SetFont(r.options.FontFamily, "", 12)
		pdf.SetTextColor(60, 60, 60)
		pdf.MultiCell(0, 7, data.Description, "", "C", false)
	}
	if data.CourseName != "" {
		line := fmt.Sprintf("for completing %s", data.CourseName)
		if data.Grade != "" {
			line = fmt.Sprintf("%s with grade %s", line, data.Grade)
		}
		pdf.SetFont(r.options.FontFamily, "I", 12)
		pdf.CellFormat(0, 9, line, "", 1, "C", false, 0, "")
	}

	pdf.Ln(8)
	pdf.SetFont(r.options.FontFamily, "", 11)
	issuer := data.IssuerName
	if data.OrganizationName != "" {
		issuer = fmt.Sprintf("%s, %s", issuer, data.OrganizationName)
	}
	pdf.CellFormat(0, 7, fmt.Sprintf("Issued by %s on %s", issuer, data.IssuedAt.Format(r.options.DateFormat)), "", 1, "C", false, 0, "")

	pdf.Ln(6)
	pdf.SetFont("Courier", "", 10)
	pdf.SetTextColor(100, 100, 100)
	pdf.CellFormat(0, 6, fmt.Sprintf("Verification code: %s", data.VerificationCode), "", 1, "C", false, 0, "")
	pdf.CellFormat(0, 6, fmt.Sprintf("Verification ID: %s", data.VerificationID), "", 1, "C", false, 0, "")
	if data.VerifyURL != "" {
		pdf.CellFormat(0, 6, fmt.Sprintf("Verify at %s", data.VerifyURL), "", 1, "C", false, 0, "")
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("writing pdf: %w", err)
	}
	return buf.Bytes(), nil
}
