package processor

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
)

const DefaultDelimiter = ','

// PixelTable is the long format output: one row per pixel of every
// polygon, in polygon processing order.
type PixelTable struct {
	MetaColumns  []string
	BandNames    []string
	DerivedNames []string
	Rows         []PixelRow
}

// Header returns the fixed column order: metadata, cover_frac, polyPxID,
// B_1..B_N, then derived expression columns.
func (t *PixelTable) Header() []string {
	header := make([]string, 0, len(t.MetaColumns)+2+len(t.BandNames)+len(t.DerivedNames))
	header = append(header, t.MetaColumns...)
	header = append(header, CoverFracColumn, PixelIDColumn)
	header = append(header, t.BandNames...)
	header = append(header, t.DerivedNames...)
	return header
}

func (t *PixelTable) Len() int {
	return len(t.Rows)
}

func (t *PixelTable) record(row *PixelRow, buf []string) []string {
	buf = buf[:0]
	for _, v := range row.Meta {
		buf = append(buf, FormatAttr(v))
	}
	buf = append(buf, formatFloat(row.CoverFrac), strconv.Itoa(row.PxID))
	for _, v := range row.Bands {
		buf = append(buf, formatFloat(v))
	}
	for _, v := range row.Derived {
		buf = append(buf, formatFloat(v))
	}
	return buf
}

// WriteDelimited writes the table with a header line and without a row
// index column.
func (t *PixelTable) WriteDelimited(w io.Writer, delim rune) error {
	if delim == 0 {
		delim = DefaultDelimiter
	}
	cw := csv.NewWriter(w)
	cw.Comma = delim

	header := t.Header()
	if err := cw.Write(header); err != nil {
		return err
	}

	buf := make([]string, 0, len(header))
	for i := range t.Rows {
		if len(t.Rows[i].Meta) != len(t.MetaColumns) || len(t.Rows[i].Bands) != len(t.BandNames) {
			return fmt.Errorf("%w: row %d does not match the table columns", ErrInternalInvariant, i)
		}
		buf = t.record(&t.Rows[i], buf)
		if err := cw.Write(buf); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteFile persists the table at path, replacing any existing file.
// The table is written to a temporary file in the same directory and
// renamed into place, so a failed write leaves path untouched.
func (t *PixelTable) WriteFile(path string, delim rune) (err error) {
	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(tmp)
		}
	}()

	bw := bufio.NewWriterSize(f, 1<<20)
	if err = t.WriteDelimited(bw, delim); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err = bw.Flush(); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err = f.Chmod(0644); err != nil {
		return err
	}
	if err = f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// ReadDelimited reads back a file produced by WriteDelimited. Values are
// returned as text.
func ReadDelimited(r io.Reader, delim rune) ([]string, [][]string, error) {
	if delim == 0 {
		delim = DefaultDelimiter
	}
	cr := csv.NewReader(r)
	cr.Comma = delim
	cr.ReuseRecord = false

	header, err := cr.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("reading header: %w", err)
	}
	cr.FieldsPerRecord = len(header)

	records, err := cr.ReadAll()
	if err != nil {
		return nil, nil, err
	}
	return header, records, nil
}

func formatFloat(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
