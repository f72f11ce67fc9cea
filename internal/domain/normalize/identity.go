package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/okian/bikeharvest/internal/domain/model"
)

const (
	minYear = 1900
	maxYear = 2100

	syntheticKeyPrefix = "bk_"
	syntheticKeyHexLen = 16
)

var (
	fourDigitYear = regexp.MustCompile(`\b((?:19|20)\d{2})\b`)
	modelYearCode = regexp.MustCompile(`(?i)\bMY[- ]?(\d{2}|\d{4})\b`)
)

// ParseYear accepts 2024, "2024", "MY24", "MY2024" and text containing a
// four-digit year.
func ParseYear(v any) (int, bool) {
	switch t := v.(type) {
	case float64:
		if t == math.Trunc(t) {
			return checkYear(int(t))
		}
	case int:
		return checkYear(t)
	case string:
		s := strings.TrimSpace(t)
		if n, err := strconv.Atoi(s); err == nil {
			return checkYear(n)
		}
		if m := modelYearCode.FindStringSubmatch(s); m != nil {
			n, _ := strconv.Atoi(m[1])
			if len(m[1]) == 2 {
				n += 2000
			}
			return checkYear(n)
		}
		if m := fourDigitYear.FindStringSubmatch(s); m != nil {
			n, _ := strconv.Atoi(m[1])
			return checkYear(n)
		}
	default:
		if s := asString(v); s != "" {
			return ParseYear(s)
		}
	}
	return 0, false
}

func checkYear(n int) (int, bool) {
	if n < minYear || n > maxYear {
		return 0, false
	}
	return n, true
}

// SyntheticKey derives the stable canonical key from a work-item key.
func SyntheticKey(itemKey string) string {
	sum := sha256.Sum256([]byte(itemKey))
	return syntheticKeyPrefix + hex.EncodeToString(sum[:])[:syntheticKeyHexLen]
}

// MakerDirectory resolves maker identifiers.
type MakerDirectory interface {
	// Known reports whether id is a canonical maker identifier.
	Known(id string) bool
	// Lookup finds the identifier for a manufacturer name.
	Lookup(name string) (string, bool)
}

// StaticDirectory is an in-memory MakerDirectory. It is safe for concurrent use.
type StaticDirectory struct {
	mu     sync.RWMutex
	byName map[string]string
	ids    map[string]struct{}
}

// NewStaticDirectory builds a directory from manufacturer name to maker id.
func NewStaticDirectory(makers map[string]string) *StaticDirectory {
	d := &StaticDirectory{byName: map[string]string{}, ids: map[string]struct{}{}}
	d.Add(makers)
	return d
}

// Add merges more name to id entries into the directory.
func (d *StaticDirectory) Add(makers map[string]string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for name, id := range makers {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		d.byName[foldName(name)] = id
		d.ids[id] = struct{}{}
	}
}

// Known implements MakerDirectory.
func (d *StaticDirectory) Known(id string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.ids[strings.TrimSpace(id)]
	return ok
}

// Lookup implements MakerDirectory.
func (d *StaticDirectory) Lookup(name string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	id, ok := d.byName[foldName(name)]
	return id, ok
}

// Len returns the number of known names.
func (d *StaticDirectory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.byName)
}

func foldName(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r > 127 {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Missing field names reported by Sufficiency.
const (
	MissingMake           = "make"
	MissingModel          = "model"
	MissingYear           = "year"
	MissingMakerID        = "maker_id"
	MissingUnknownMakerID = "maker_id_unresolved"
)

// Sufficiency is the minimum bar a resolved record must clear: make, model,
// year and a maker id the directory recognizes.
type Sufficiency struct {
	Makers MakerDirectory
}

// Missing lists what id lacks. An empty result means sufficient.
func (s Sufficiency) Missing(id model.Identity) []string {
	var missing []string
	if strings.TrimSpace(id.Make) == "" {
		missing = append(missing, MissingMake)
	}
	if strings.TrimSpace(id.Model) == "" {
		missing = append(missing, MissingModel)
	}
	if id.Year == 0 {
		missing = append(missing, MissingYear)
	}
	switch {
	case strings.TrimSpace(id.MakerID) == "":
		missing = append(missing, MissingMakerID)
	case s.Makers == nil || !s.Makers.Known(id.MakerID):
		missing = append(missing, MissingUnknownMakerID)
	}
	return missing
}

// Sufficient reports whether id clears the bar.
func (s Sufficiency) Sufficient(id model.Identity) bool {
	return len(s.Missing(id)) == 0
}
