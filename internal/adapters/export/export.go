// Package export writes canonical records to JSON files, splitting large
// exports into chunks listed by a manifest.
package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/okian/bikeharvest/internal/domain/model"
	"github.com/okian/bikeharvest/pkg/logger"
	"github.com/okian/bikeharvest/pkg/metrics"
)

// Defaults for chunking.
const (
	DefaultThreshold          = 1000
	DefaultChunkSize          = 500
	DefaultEmergencyChunkSize = 50
	DefaultParallelism        = 4
	DefaultMaxFileBytes       = 64 << 20

	timestampLayout = "20060102_150405"
)

// Manifest describes one export. It is written to disk only for chunked
// exports.
type Manifest struct {
	ChunkCount   int      `json:"chunk_count"`
	ChunkSize    int      `json:"chunk_size"`
	TotalItems   int      `json:"total_items"`
	Timestamp    string   `json:"timestamp"`
	Files        []string `json:"files"`
	ManifestFile string   `json:"-"`
}

// Exporter writes exports into one directory.
type Exporter struct {
	dir           string
	threshold     int
	chunkSize     int
	emergencySize int
	parallelism   int
	maxBytes      int
	writer        Writer
	now           func() time.Time
	log           logger.Logger
}

// New creates an Exporter writing into dir.
func New(dir string, opts ...Option) *Exporter {
	e := &Exporter{
		dir:           dir,
		threshold:     DefaultThreshold,
		chunkSize:     DefaultChunkSize,
		emergencySize: DefaultEmergencyChunkSize,
		parallelism:   DefaultParallelism,
		maxBytes:      DefaultMaxFileBytes,
		writer:        FileWriter{},
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.log == nil {
		e.log = logger.Get().Named("export")
	}
	return e
}

// Export writes items under base. Up to the threshold that is a single file;
// above it, ceil(n/chunk) chunk files plus a manifest. A chunk that fails is
// re-split at the emergency size before it is given up. Files that were
// written are listed in the manifest even when an error is returned.
func (e *Exporter) Export(ctx context.Context, base string, items []*model.CanonicalRecord) (Manifest, error) {
	ts := e.now().UTC().Format(timestampLayout)
	m := Manifest{TotalItems: len(items), Timestamp: ts}

	if len(items) <= e.threshold {
		name := fmt.Sprintf("%s_%s.json", base, ts)
		if err := e.write(ctx, name, items); err != nil {
			return m, err
		}
		m.Files = []string{name}
		e.log.Info(ctx, "export written", logger.String("file", name), logger.Int("items", len(items)))
		return m, nil
	}

	chunks := split(items, e.chunkSize)
	m.ChunkCount = len(chunks)
	m.ChunkSize = e.chunkSize

	written := make([][]string, len(chunks))
	failed := make([]error, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.parallelism)
	for i, chunk := range chunks {
		g.Go(func() error {
			files, err := e.writeChunk(gctx, base, ts, i+1, chunk)
			written[i], failed[i] = files, err
			// a failed chunk does not stop the others
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		failed = append(failed, err)
	}
	for _, files := range written {
		m.Files = append(m.Files, files...)
	}

	m.ManifestFile = fmt.Sprintf("%s_manifest_%s.json", base, ts)
	body, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return m, fmt.Errorf("encode manifest: %w", err)
	}
	if err := e.store(ctx, m.ManifestFile, body); err != nil {
		failed = append(failed, fmt.Errorf("write manifest: %w", err))
	}

	err = errors.Join(failed...)
	if err != nil {
		e.log.Error(ctx, "export incomplete",
			logger.Int("chunks", m.ChunkCount),
			logger.Int("files", len(m.Files)),
			logger.Error(err))
		return m, err
	}
	e.log.Info(ctx, "chunked export written",
		logger.String("manifest", m.ManifestFile),
		logger.Int("chunks", m.ChunkCount),
		logger.Int("items", m.TotalItems))
	return m, nil
}

func (e *Exporter) writeChunk(ctx context.Context, base, ts string, i int, chunk []*model.CanonicalRecord) ([]string, error) {
	name := fmt.Sprintf("%s_chunk_%d_%s.json", base, i, ts)
	err := e.write(ctx, name, chunk)
	if err == nil {
		return []string{name}, nil
	}
	if ctx.Err() != nil {
		return nil, err
	}

	metrics.RecordExportEmergencySplit()
	e.log.Warn(ctx, "chunk write failed, re-splitting",
		logger.String("file", name),
		logger.Int("items", len(chunk)),
		logger.Int("part_size", e.emergencySize),
		logger.Error(err))

	var files []string
	for j, part := range split(chunk, e.emergencySize) {
		pname := fmt.Sprintf("%s_chunk_%d_part_%d_%s.json", base, i, j+1, ts)
		if err := e.write(ctx, pname, part); err != nil {
			return files, fmt.Errorf("%w: chunk %d part %d: %w", ErrChunkFailed, i, j+1, err)
		}
		files = append(files, pname)
	}
	return files, nil
}

func (e *Exporter) write(ctx context.Context, name string, items []*model.CanonicalRecord) error {
	if items == nil {
		items = []*model.CanonicalRecord{}
	}
	body, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	if e.maxBytes > 0 && len(body) > e.maxBytes {
		return fmt.Errorf("%w: %s is %d bytes", ErrTooLarge, name, len(body))
	}
	return e.store(ctx, name, body)
}

func (e *Exporter) store(ctx context.Context, name string, body []byte) error {
	if err := e.writer.WriteFile(ctx, filepath.Join(e.dir, name), body); err != nil {
		metrics.RecordErrorByComponent("export", "write_error")
		return err
	}
	metrics.RecordExportFile(len(body))
	return nil
}

func split[T any](items []T, size int) [][]T {
	var out [][]T
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		out = append(out, items[start:end])
	}
	return out
}
