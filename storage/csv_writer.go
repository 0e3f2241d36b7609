package storage

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gapfill/models"
)

// CSVWriter writes a snapshot of the listings inserted during a run.
// Best-effort: a failed snapshot never fails the run.
type CSVWriter struct {
	file   *os.File
	writer *csv.Writer
}

// NewCSVWriter creates (or truncates) the CSV file at the given path and
// writes the header row. Intermediate directories are created automatically.
func NewCSVWriter(path string) (*CSVWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("csv: create output dir: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("csv: create file %q: %w", path, err)
	}

	w := csv.NewWriter(f)
	if err := w.Write([]string{
		"slug", "name", "category", "city", "state", "zip",
		"phone", "website", "rating", "source", "source_id", "created_at",
	}); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("csv: write header: %w", err)
	}
	w.Flush()

	return &CSVWriter{file: f, writer: w}, nil
}

// WriteListings appends one row per listing.
func (c *CSVWriter) WriteListings(listings []*models.Listing) error {
	now := time.Now().UTC().Format(time.RFC3339)
	for _, l := range listings {
		row := []string{
			l.Slug,
			l.Name,
			l.Category,
			l.City,
			l.State,
			l.Zip,
			l.Phone,
			l.Website,
			strconv.FormatFloat(l.Rating, 'f', 2, 64),
			l.Source,
			l.SourceID,
			now,
		}
		if err := c.writer.Write(row); err != nil {
			return fmt.Errorf("csv: write row: %w", err)
		}
	}
	c.writer.Flush()
	return c.writer.Error()
}

// Close flushes and closes the underlying file.
func (c *CSVWriter) Close() error {
	c.writer.Flush()
	return c.file.Close()
}
