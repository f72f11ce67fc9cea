package resolve

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/jmespath/go-jmespath"

	"github.com/okian/bikeharvest/internal/domain/model"
	"github.com/okian/bikeharvest/internal/domain/normalize"
	"github.com/okian/bikeharvest/internal/domain/types"
)

const maxStringLayers = 3

// DefaultPaths are the sub-object paths tried, in order, on tier-1 payloads.
// "@" is the payload root.
var DefaultPaths = []string{
	"product",
	"bike",
	"data.product",
	"props.pageProps.product",
	"pageProps.product",
	"payload.product",
	"@",
}

// productFields are the keys of which at least one must be present for a
// sub-object to count as a product.
var productFields = []string{"name", "brand", "make", "manufacturer", "model", "specifications", "specs"}

// Decoder extracts the product object nested in tier-1 records. Compiled
// expressions are cached; it is safe for concurrent use.
type Decoder struct {
	paths []string
	mu    sync.RWMutex
	cache map[string]*jmespath.JMESPath
}

// NewDecoder creates a Decoder over paths, or DefaultPaths when none are given.
func NewDecoder(paths ...string) *Decoder {
	if len(paths) == 0 {
		paths = DefaultPaths
	}
	return &Decoder{paths: paths, cache: make(map[string]*jmespath.JMESPath)}
}

// Decode returns a successful tier-1 raw record holding a structured payload.
func (d *Decoder) Decode(rec *model.ComprehensiveRecord) (*model.RawRecord, error) {
	if rec == nil || len(rec.Payload) == 0 {
		return nil, ErrUndecodable
	}
	var root any
	if err := json.Unmarshal(rec.Payload, &root); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrUndecodable, rec.Key, err)
	}
	root = unwrapString(root, maxStringLayers)

	for _, path := range d.paths {
		compiled, err := d.compile(path)
		if err != nil {
			return nil, err
		}
		found, err := compiled.Search(root)
		if err != nil || found == nil {
			continue
		}
		product, ok := unwrapString(found, maxStringLayers).(map[string]any)
		if !ok || !hasProductField(product) {
			continue
		}
		doc, _ := root.(map[string]any)
		raw := &model.RawRecord{
			Key:         rec.Key,
			Source:      types.SourceTier1,
			ExtractedAt: rec.ExtractedAt,
			Success:     true,
			Payload:     model.StructuredPayload{Origin: "tier1:" + path, Product: product, Document: doc},
		}
		raw.Stats = normalize.Stats(raw)
		return raw, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNoProduct, rec.Key)
}

func (d *Decoder) compile(expr string) (*jmespath.JMESPath, error) {
	d.mu.RLock()
	c, ok := d.cache[expr]
	d.mu.RUnlock()
	if ok {
		return c, nil
	}
	c, err := jmespath.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid path %q: %w", expr, err)
	}
	d.mu.Lock()
	d.cache[expr] = c
	d.mu.Unlock()
	return c, nil
}

// unwrapString decodes string values that hold JSON objects or arrays, up to
// layers times.
func unwrapString(v any, layers int) any {
	for i := 0; i < layers; i++ {
		s, ok := v.(string)
		if !ok {
			return v
		}
		s = strings.TrimSpace(s)
		if s == "" || (s[0] != '{' && s[0] != '[' && s[0] != '"') {
			return v
		}
		var next any
		if json.Unmarshal([]byte(s), &next) != nil {
			return v
		}
		v = next
	}
	return v
}

func hasProductField(m map[string]any) bool {
	for _, k := range productFields {
		if _, ok := m[k]; ok {
			return true
		}
	}
	return false
}
