package export

import (
	"fmt"
	"strings"
)

// Supported export formats.
const (
	FormatCSV = "csv"
	FormatPDF = "pdf"
)

// Dataset defines tabular export content.
type Dataset struct {
	Headers []string
	Rows    [][]string
}

// File is a rendered export ready to be served.
type File struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Render turns the dataset into a file of the requested format. baseName is
// used for the download filename and, for PDF, the document title.
func Render(format, baseName string, data Dataset) (File, error) {
	switch strings.ToLower(format) {
	case "", FormatCSV:
		out, err := NewCSVExporter().Render(data)
		if err != nil {
			return File{}, err
		}
		return File{Filename: baseName + ".csv", ContentType: "text/csv", Data: out}, nil
	case FormatPDF:
		out, err := NewPDFExporter().Render(data, strings.ReplaceAll(baseName, "_", " "))
		if err != nil {
			return File{}, err
		}
		return File{Filename: baseName + ".pdf", ContentType: "application/pdf", Data: out}, nil
	default:
		return File{}, fmt.Errorf("unsupported export format %q", format)
	}
}
