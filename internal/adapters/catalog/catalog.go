// Package catalog reads the list of pages to harvest and drops entries that
// fail validation.
package catalog

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/okian/bikeharvest/internal/domain/model"
	"github.com/okian/bikeharvest/pkg/logger"
)

const maxLineBytes = 4 << 20

// Source provides raw catalog entries.
type Source interface {
	Catalog(ctx context.Context) ([]model.CatalogEntry, error)
}

// FileSource reads a JSON array or JSON-lines file.
type FileSource struct {
	Path string
}

// Catalog implements Source.
func (f FileSource) Catalog(ctx context.Context) ([]model.CatalogEntry, error) {
	file, err := os.Open(f.Path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	defer file.Close()
	entries, err := Decode(ctx, file)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", f.Path, err)
	}
	return entries, nil
}

// Decode reads entries from r. A leading '[' means a JSON array, anything
// else is read as one JSON object per line. Blank lines and lines starting
// with '#' are ignored.
func Decode(ctx context.Context, r io.Reader) ([]model.CatalogEntry, error) {
	br := bufio.NewReader(r)
	first, err := peekNonSpace(br)
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if first == '[' {
		var entries []model.CatalogEntry
		if err := json.NewDecoder(br).Decode(&entries); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrFormat, err)
		}
		return entries, nil
	}
	if first != '{' && first != '#' {
		return nil, fmt.Errorf("%w: unexpected %q", ErrFormat, first)
	}

	var entries []model.CatalogEntry
	sc := bufio.NewScanner(br)
	sc.Buffer(make([]byte, 0, 64<<10), maxLineBytes)
	line := 0
	for sc.Scan() {
		line++
		if line%1000 == 0 && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		text := bytes.TrimSpace(sc.Bytes())
		if len(text) == 0 || text[0] == '#' {
			continue
		}
		var e model.CatalogEntry
		if err := json.Unmarshal(text, &e); err != nil {
			return nil, fmt.Errorf("%w: line %d: %w", ErrFormat, line, err)
		}
		entries = append(entries, e)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func peekNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.ReadByte()
		if err != nil {
			return 0, err
		}
		switch b {
		case ' ', '\t', '\r', '\n', 0xEF, 0xBB, 0xBF: // whitespace and a UTF-8 BOM
			continue
		}
		return b, br.UnreadByte()
	}
}

// Rejection is an entry dropped by validation.
type Rejection struct {
	Index  int    `json:"index"`
	Key    string `json:"key"`
	Reason string `json:"reason"`
}

// Catalog is a validated catalog.
type Catalog struct {
	Entries  []model.CatalogEntry
	Rejected []Rejection
}

// Loader validates catalog entries.
type Loader struct {
	validate *validator.Validate
	log      logger.Logger
}

// NewLoader creates a Loader.
func NewLoader(opts ...Option) *Loader {
	l := &Loader{validate: validator.New(validator.WithRequiredStructEnabled())}
	for _, opt := range opts {
		opt(l)
	}
	if l.log == nil {
		l.log = logger.Get().Named("catalog")
	}
	return l
}

// Load reads src, trims every field and keeps the entries that validate.
// Entry order is preserved; it is the order of the never-scraped bucket.
func (l *Loader) Load(ctx context.Context, src Source) (Catalog, error) {
	if src == nil {
		return Catalog{}, ErrNoSource
	}
	raw, err := src.Catalog(ctx)
	if err != nil {
		return Catalog{}, err
	}

	out := Catalog{Entries: make([]model.CatalogEntry, 0, len(raw))}
	for i, e := range raw {
		e = trim(e)
		if err := l.validate.Struct(e); err != nil {
			out.Rejected = append(out.Rejected, Rejection{Index: i, Key: e.Key, Reason: describe(err)})
			continue
		}
		out.Entries = append(out.Entries, e)
	}

	if len(out.Rejected) > 0 {
		l.log.Warn(ctx, "catalog entries rejected",
			logger.Int("rejected", len(out.Rejected)),
			logger.String("first", out.Rejected[0].Key+": "+out.Rejected[0].Reason))
	}
	l.log.Info(ctx, "catalog loaded",
		logger.Int("entries", len(out.Entries)),
		logger.Int("rejected", len(out.Rejected)))
	return out, nil
}

func trim(e model.CatalogEntry) model.CatalogEntry {
	e.Key = strings.TrimSpace(e.Key)
	e.URL = strings.TrimSpace(e.URL)
	e.Make = strings.TrimSpace(e.Make)
	e.Model = strings.TrimSpace(e.Model)
	e.Variant = strings.TrimSpace(e.Variant)
	e.MakerID = strings.TrimSpace(e.MakerID)
	return e
}

func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %s", strings.ToLower(fe.Field()), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}
