// Package manifest loads the tab-separated sample sheet that drives an
// assembly run.
//
// The sheet has a header row naming at least the Sample, Path1 and Path2
// columns. Path cells may list several comma-separated raw files when a
// sample's reads are split across runs:
//
//	Sample	Path1	Path2
//	S1	/zone/s1_R1.fastq.gz	/zone/s1_R2.fastq.gz
//	S2	/zone/a_R1.fastq.gz,/zone/b_R1.fastq.gz	/zone/a_R2.fastq.gz,/zone/b_R2.fastq.gz
package manifest

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/gocarina/gocsv"
)

const (
	ColumnSample = "Sample"
	ColumnPath1  = "Path1"
	ColumnPath2  = "Path2"
)

var requiredColumns = []string{ColumnSample, ColumnPath1, ColumnPath2}

type Sample struct {
	Name    string
	Forward []string
	Reverse []string
}

// Mismatched reports whether the sample lists a different number of forward
// and reverse read files.
func (s Sample) Mismatched() bool {
	return len(s.Forward) != len(s.Reverse)
}

type ParseError struct {
	Path    string
	Line    int
	Missing []string
	Err     error
}

func (e *ParseError) Error() string {
	var where string
	if e.Path != "" {
		where = e.Path
	} else {
		where = "manifest"
	}
	if e.Line > 0 {
		where = fmt.Sprintf("%s:%d", where, e.Line)
	}

	if len(e.Missing) > 0 {
		return fmt.Sprintf("%s: missing required column(s) %s", where, strings.Join(e.Missing, ", "))
	}
	return fmt.Sprintf("%s: %v", where, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

type row struct {
	Sample string `csv:"Sample"`
	Path1  string `csv:"Path1"`
	Path2  string `csv:"Path2"`
}

func Load(path string) ([]Sample, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open manifest %s: %w", path, err)
	}
	defer f.Close()

	samples, err := Parse(f)
	if err != nil {
		var perr *ParseError
		if errors.As(err, &perr) {
			perr.Path = path
		}
		return nil, err
	}
	return samples, nil
}

// Parse decodes a manifest. Samples are returned in row order.
func Parse(r io.Reader) ([]Sample, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	header, err := newReader(data).Read()
	if err != nil {
		if err == io.EOF {
			return nil, &ParseError{Line: 1, Missing: requiredColumns}
		}
		return nil, &ParseError{Line: 1, Err: err}
	}
	if missing := missingColumns(header); len(missing) > 0 {
		return nil, &ParseError{Line: 1, Missing: missing}
	}

	var rows []row
	if err := gocsv.UnmarshalCSV(newReader(data), &rows); err != nil {
		return nil, &ParseError{Err: err}
	}

	samples := make([]Sample, 0, len(rows))
	seen := make(map[string]int, len(rows))
	for i, r := range rows {
		line := i + 2
		name := strings.TrimSpace(r.Sample)
		if err := validateName(name); err != nil {
			return nil, &ParseError{Line: line, Err: err}
		}
		if prev, ok := seen[name]; ok {
			return nil, &ParseError{Line: line, Err: fmt.Errorf("duplicate sample %q (first seen on line %d)", name, prev)}
		}
		seen[name] = line

		samples = append(samples, Sample{
			Name:    name,
			Forward: SplitPaths(r.Path1),
			Reverse: SplitPaths(r.Path2),
		})
	}

	return samples, nil
}

// SplitPaths splits a comma-delimited cell, dropping blanks.
func SplitPaths(cell string) []string {
	var paths []string
	for _, p := range strings.Split(cell, ",") {
		if p = strings.TrimSpace(p); p != "" {
			paths = append(paths, p)
		}
	}
	return paths
}

func newReader(data []byte) *csv.Reader {
	r := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))))
	r.Comma = '\t'
	r.LazyQuotes = true
	r.FieldsPerRecord = -1
	return r
}

func missingColumns(header []string) []string {
	present := make(map[string]bool, len(header))
	for _, h := range header {
		present[strings.TrimSpace(h)] = true
	}

	var missing []string
	for _, col := range requiredColumns {
		if !present[col] {
			missing = append(missing, col)
		}
	}
	return missing
}

// Sample names become directory names under the temp and result dirs.
func validateName(name string) error {
	switch {
	case name == "":
		return errors.New("empty sample name")
	case name == "." || name == "..":
		return fmt.Errorf("invalid sample name %q", name)
	case strings.ContainsAny(name, `/\`):
		return fmt.Errorf("sample name %q must not contain path separators", name)
	}
	return nil
}
