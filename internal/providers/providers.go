// Package providers declares the optional external collaborators a
// trainer may consume — a document search backend for dataset assembly,
// and a feedback sample source for continuous learning — plus simple
// in-process fallbacks used when no real backend is configured.
//
// The interface-first shape (small, consumer-defined interface; a
// filesystem- or memory-backed implementation satisfying it) matches the
// corpus's convention for external storage/search collaborators.
package providers

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// SearchResult is one document surfaced by a SearchProvider.
type SearchResult struct {
	DocumentID      string
	Content         string
	QualityScore    float64
	RelevanceScore  float64
	Metadata        map[string]string
}

// SearchProvider is consumed by the DatasetAssembly trainer to gather
// candidate documents. Implementations may call out to a real search
// backend; none is required.
type SearchProvider interface {
	Search(ctx context.Context, query string) ([]SearchResult, error)
}

// FeedbackSample is one unit of feedback consumed by the Continuous
// trainer.
type FeedbackSample struct {
	Text      string
	Score     float64
	Timestamp time.Time
}

// FeedbackProvider is consumed by the Continuous trainer to drain
// accumulated feedback. DrainFeedback removes at most limit samples and
// returns them in submission order.
type FeedbackProvider interface {
	DrainFeedback(ctx context.Context, limit int) ([]FeedbackSample, error)
}

// FilesystemSearch is the fallback SearchProvider used by DatasetAssembly
// when no real search backend is configured: it reads every regular file
// directly under root, in ascending name order, ignoring query text entirely
// (an ordered read, not a ranked search).
type FilesystemSearch struct {
	root string
}

// NewFilesystemSearch returns a SearchProvider that reads files under root.
func NewFilesystemSearch(root string) *FilesystemSearch {
	return &FilesystemSearch{root: root}
}

func (f *FilesystemSearch) Search(ctx context.Context, query string) ([]SearchResult, error) {
	entries, err := os.ReadDir(f.root)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	out := make([]SearchResult, 0, len(names))
	for _, name := range names {
		select {
		case <-ctx.Done():
			return out, ctx.Err()
		default:
		}
		data, err := os.ReadFile(filepath.Join(f.root, name))
		if err != nil {
			continue
		}
		out = append(out, SearchResult{
			DocumentID:     name,
			Content:        string(data),
			QualityScore:   1,
			RelevanceScore: 1,
			Metadata:       map[string]string{"source": "filesystem"},
		})
	}
	return out, nil
}

// MemoryFeedback is an in-process FeedbackProvider: an append-only buffer
// that DrainFeedback consumes FIFO. Suitable for the no-external-backend
// deployment the Continuous trainer falls back to.
type MemoryFeedback struct {
	mu      sync.Mutex
	samples []FeedbackSample
}

// NewMemoryFeedback returns an empty MemoryFeedback buffer.
func NewMemoryFeedback() *MemoryFeedback {
	return &MemoryFeedback{}
}

// Submit appends a sample to the buffer. The Request Surface has no
// endpoint that calls it.
func (m *MemoryFeedback) Submit(sample FeedbackSample) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples = append(m.samples, sample)
}

func (m *MemoryFeedback) DrainFeedback(ctx context.Context, limit int) ([]FeedbackSample, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 || limit > len(m.samples) {
		limit = len(m.samples)
	}
	out := make([]FeedbackSample, limit)
	copy(out, m.samples[:limit])
	m.samples = m.samples[limit:]
	return out, nil
}

// Pending returns the number of samples currently buffered, for metrics
// and tests.
func (m *MemoryFeedback) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.samples)
}

// writeLines writes each string in lines to path as given, one per
// LF-terminated line, creating parent directories as needed. Used by the
// DatasetAssembly trainer for its export and descriptor files.
func writeLines(path string, lines []string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, line := range lines {
		if _, err := w.WriteString(line); err != nil {
			return err
		}
		if err := w.WriteByte('\n'); err != nil {
			return err
		}
	}
	return w.Flush()
}

// WriteLines is the exported form of writeLines, used by trainer
// implementations that live in a separate package.
func WriteLines(path string, lines []string) error {
	return writeLines(path, lines)
}
