package encoder

import (
	"encoding/csv"
	"fmt"
	"os"

	"github.com/jittakal/dumpshard/pkg/encoder"
	"github.com/jittakal/dumpshard/pkg/record"
)

// Ensure implementation satisfies interface at compile time.
var _ encoder.Encoder = (*CSVEncoder)(nil)

// CSVEncoder implements encoder.Encoder for comma separated files with a
// header row.
type CSVEncoder struct{}

// NewCSVEncoder creates a new CSV encoder.
func NewCSVEncoder() *CSVEncoder {
	return &CSVEncoder{}
}

// Create opens filePath and writes the header row.
func (e *CSVEncoder) Create(filePath string) (encoder.RowWriter, error) {
	file, err := os.Create(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}

	w := csv.NewWriter(file)
	if err := w.Write(Columns); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to write header: %w", err)
	}

	return &csvRowWriter{file: file, w: w}, nil
}

// Format returns the file format.
func (e *CSVEncoder) Format() record.FileFormat {
	return record.FormatCSV
}

// FileExtension returns the file extension.
func (e *CSVEncoder) FileExtension() string {
	return ".csv"
}

type csvRowWriter struct {
	file  *os.File
	w     *csv.Writer
	count int
}

func (r *csvRowWriter) Write(posts []record.Post) error {
	for _, p := range posts {
		if err := r.w.Write(row(p)); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}
	r.count += len(posts)
	return nil
}

func (r *csvRowWriter) Close() (*record.FileStats, error) {
	r.w.Flush()
	if err := r.w.Error(); err != nil {
		r.file.Close()
		return nil, fmt.Errorf("failed to flush rows: %w", err)
	}
	return closeFile(r.file, r.count)
}

// closeFile closes file and returns its statistics.
func closeFile(file *os.File, count int) (*record.FileStats, error) {
	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("failed to close file: %w", err)
	}

	info, err := os.Stat(file.Name())
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}

	return &record.FileStats{
		RecordCount: count,
		SizeBytes:   info.Size(),
	}, nil
}
