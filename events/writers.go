package events

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/atmosphericc/stockwatch/purchase"
)

// Writer defines the interface for transition log output.
type Writer interface {
	Write(transitions []purchase.Transition) error
	Close() error
}

// NewWriter builds a writer for the given format: jsonl, csv, or dual.
func NewWriter(format, filename string) (Writer, error) {
	switch format {
	case "jsonl":
		return NewJSONLWriter(filename)
	case "csv":
		return NewCSVWriter(filename)
	case "dual":
		csvName := filename[:len(filename)-len(filepath.Ext(filename))] + ".csv"
		return NewDualWriter(filename, csvName)
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}

// JSONLWriter appends one JSON object per transition.
type JSONLWriter struct {
	file *os.File
	buf  *bufio.Writer
	mu   sync.Mutex
}

// NewJSONLWriter opens (appending) a JSON-lines transition log.
func NewJSONLWriter(filename string) (*JSONLWriter, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open jsonl file: %w", err)
	}
	return &JSONLWriter{file: f, buf: bufio.NewWriter(f)}, nil
}

// Write appends transitions to the log.
func (w *JSONLWriter) Write(transitions []purchase.Transition) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	enc := json.NewEncoder(w.buf)
	for _, tr := range transitions {
		if err := enc.Encode(tr); err != nil {
			return fmt.Errorf("encode transition: %w", err)
		}
	}
	if err := w.buf.Flush(); err != nil {
		return fmt.Errorf("flush jsonl: %w", err)
	}
	return nil
}

// Close flushes and closes the file handle.
func (w *JSONLWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.buf.Flush(); err != nil {
		return fmt.Errorf("flush jsonl writer: %w", err)
	}
	return w.file.Close()
}

// CSVWriter writes transitions to CSV.
type CSVWriter struct {
	file   *os.File
	writer *csv.Writer
	mu     sync.Mutex
}

// NewCSVWriter initialises a CSV writer and writes the header row.
func NewCSVWriter(filename string) (*CSVWriter, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}

	f, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("create csv file: %w", err)
	}

	writer := csv.NewWriter(f)
	header := []string{"at", "tcin", "from", "to", "title", "order_number", "price", "failure_reason", "attempt_count"}
	if err := writer.Write(header); err != nil {
		f.Close()
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		f.Close()
		return nil, fmt.Errorf("flush csv header: %w", err)
	}

	return &CSVWriter{file: f, writer: writer}, nil
}

// Write appends transitions to the CSV output.
func (w *CSVWriter) Write(transitions []purchase.Transition) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, tr := range transitions {
		record := []string{
			tr.At.Format(time.RFC3339),
			tr.TCIN,
			string(tr.From),
			string(tr.To),
			tr.Record.Title,
			tr.Record.OrderNumber,
			strconv.FormatFloat(tr.Record.Price, 'f', 2, 64),
			tr.Record.FailureReason,
			strconv.Itoa(tr.Record.AttemptCount),
		}
		if err := w.writer.Write(record); err != nil {
			return fmt.Errorf("write csv record: %w", err)
		}
	}
	w.writer.Flush()
	if err := w.writer.Error(); err != nil {
		return fmt.Errorf("flush csv records: %w", err)
	}
	return nil
}

// Close flushes and closes the file handle.
func (w *CSVWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.writer.Flush()
	if err := w.writer.Error(); err != nil {
		return fmt.Errorf("flush csv writer: %w", err)
	}
	return w.file.Close()
}

// DualWriter fans out to JSONL and CSV outputs.
type DualWriter struct {
	jsonl *JSONLWriter
	csv   *CSVWriter
}

// NewDualWriter builds both writers.
func NewDualWriter(jsonlName, csvName string) (*DualWriter, error) {
	jw, err := NewJSONLWriter(jsonlName)
	if err != nil {
		return nil, err
	}
	cw, err := NewCSVWriter(csvName)
	if err != nil {
		jw.Close()
		return nil, err
	}
	return &DualWriter{jsonl: jw, csv: cw}, nil
}

// Write sends transitions to both outputs.
func (w *DualWriter) Write(transitions []purchase.Transition) error {
	if err := w.jsonl.Write(transitions); err != nil {
		return err
	}
	return w.csv.Write(transitions)
}

// Close closes both outputs, returning the first error.
func (w *DualWriter) Close() error {
	jerr := w.jsonl.Close()
	cerr := w.csv.Close()
	if jerr != nil {
		return jerr
	}
	return cerr
}

func ensureDir(filename string) error {
	dir := filepath.Dir(filename)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	return nil
}
