// Package csvx streams CSV exports with CRLF line endings and periodic flushing.
package csvx

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const (
	flushEvery = 200
	bufferSize = 32 * 1024
)

// Streamer writes CSV rows through a buffered writer.
type Streamer struct {
	buf          *bufio.Writer
	csv          *csv.Writer
	flushEvery   int
	pendingLines int
}

// NewStreamer wraps w.
func NewStreamer(w io.Writer) *Streamer {
	buf := bufio.NewWriterSize(w, bufferSize)
	writer := csv.NewWriter(buf)
	writer.UseCRLF = true
	return &Streamer{buf: buf, csv: writer, flushEvery: flushEvery}
}

// WriteComment writes a raw line, terminated with CRLF.
func (s *Streamer) WriteComment(line string) error {
	if s == nil || s.buf == nil {
		return fmt.Errorf("csv streamer not initialised")
	}
	if err := s.csv.Error(); err != nil {
		return err
	}
	s.csv.Flush()
	line = strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r")
	_, err := s.buf.WriteString("# " + line + "\r\n")
	return err
}

// WriteRow writes a single record.
func (s *Streamer) WriteRow(row []string) error {
	if s == nil || s.csv == nil {
		return fmt.Errorf("csv streamer not initialised")
	}
	if err := s.csv.Write(row); err != nil {
		return err
	}
	s.pendingLines++
	if s.flushEvery > 0 && s.pendingLines >= s.flushEvery {
		return s.Flush()
	}
	return nil
}

// Flush pushes buffered rows to the underlying writer.
func (s *Streamer) Flush() error {
	if s == nil || s.csv == nil || s.buf == nil {
		return fmt.Errorf("csv streamer not initialised")
	}
	s.csv.Flush()
	if err := s.csv.Error(); err != nil {
		return err
	}
	if err := s.buf.Flush(); err != nil {
		return err
	}
	s.pendingLines = 0
	return nil
}

// Close flushes everything.
func (s *Streamer) Close() error {
	return s.Flush()
}

var titleCaser = cases.Title(language.English)

// Label turns a snake_case key into a column heading ("job_number" -> "Job Number").
func Label(key string) string {
	return titleCaser.String(strings.ReplaceAll(strings.TrimSpace(key), "_", " "))
}
