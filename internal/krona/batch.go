package krona

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

const (
	DefaultPattern     = "*.report.krona"
	DefaultMaxPerBatch = 27
)

// Report is a single taxonomy report passed to the renderer as "file,label".
type Report struct {
	File  string
	Label string
}

type Batch struct {
	// Index is 1-based and names the output file.
	Index   int
	Reports []Report
}

// ListReports returns the files in dir matching pattern in lexicographic order.
func ListReports(dir, pattern string) ([]string, error) {
	if pattern == "" {
		pattern = DefaultPattern
	}
	if _, err := filepath.Match(pattern, ""); err != nil {
		return nil, fmt.Errorf("invalid report pattern %q: %w", pattern, err)
	}

	files, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return nil, fmt.Errorf("error listing reports in %s: %w", dir, err)
	}
	sort.Strings(files)
	return files, nil
}

// Label is the part of the file's base name before the first underscore.
func Label(file string) string {
	base := filepath.Base(file)
	if i := strings.IndexByte(base, '_'); i >= 0 {
		return base[:i]
	}
	return base
}

// MakeBatches groups files into batches of at most max reports, preserving
// order. No files yields no batches.
func MakeBatches(files []string, max int) []Batch {
	if max < 1 {
		max = DefaultMaxPerBatch
	}

	batches := make([]Batch, 0, (len(files)+max-1)/max)
	for start := 0; start < len(files); start += max {
		end := min(start+max, len(files))
		batch := Batch{Index: len(batches) + 1, Reports: make([]Report, 0, end-start)}
		for _, file := range files[start:end] {
			batch.Reports = append(batch.Reports, Report{File: file, Label: Label(file)})
		}
		batches = append(batches, batch)
	}
	return batches
}

func OutputName(prefix string, n int) string {
	return fmt.Sprintf("%s_krona%d.html", prefix, n)
}

func (b Batch) Output(prefix string) string {
	return OutputName(prefix, b.Index)
}

// Args are the renderer arguments: "-o <output>" followed by one "file,label"
// pair per report.
func (b Batch) Args(prefix string) []string {
	args := make([]string, 0, len(b.Reports)+2)
	args = append(args, "-o", b.Output(prefix))
	for _, r := range b.Reports {
		args = append(args, r.File+","+r.Label)
	}
	return args
}
