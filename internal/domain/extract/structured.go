package extract

import (
	"encoding/json"
	"html"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/okian/bikeharvest/internal/domain/model"
)

// Script origins recorded on structured payloads.
const (
	OriginLDJSON   = "ld+json"
	OriginNextData = "__NEXT_DATA__"
	OriginJSON     = "json"
	OriginInline   = "inline"
)

var inlineAssignment = regexp.MustCompile(`(?:window\.[\w$.]+|(?:var|let|const)\s+[\w$]+)\s*=\s*[{\[]`)

type candidate struct {
	origin string
	text   string
}

// scanStructured returns the first embedded block holding a product object.
func (e *Extractor) scanStructured(doc *goquery.Document) (*model.StructuredPayload, model.Diagnostics) {
	var diag model.Diagnostics
	var found *model.StructuredPayload

	doc.Find("script").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		for _, c := range candidatesFrom(s) {
			diag.ScriptBlocks++
			value, shrunk, ok := e.parse(c.text)
			if !ok {
				diag.MalformedPayload = true
				continue
			}
			product, decoded := e.findProduct(value, 0, 0)
			if product == nil {
				product, decoded = e.findProduct(value, 0, e.maxDecodeDepth)
			}
			if product == nil {
				continue
			}
			diag.ShrinkRecovered = shrunk
			diag.DoubleEncoded = decoded
			found = &model.StructuredPayload{
				Origin:   c.origin,
				Product:  e.sanitize(product).(map[string]any),
				Document: asDocument(value),
			}
			return false
		}
		return true
	})
	if found != nil {
		diag.MalformedPayload = false
	}
	return found, diag
}

func candidatesFrom(s *goquery.Selection) []candidate {
	text := strings.TrimSpace(s.Text())
	if text == "" {
		return nil
	}
	typ := strings.ToLower(strings.TrimSpace(s.AttrOr("type", "")))
	id, _ := s.Attr("id")
	switch {
	case strings.Contains(typ, "ld+json"):
		return []candidate{{origin: OriginLDJSON, text: text}}
	case id == OriginNextData:
		return []candidate{{origin: OriginNextData, text: text}}
	case strings.Contains(typ, "json"):
		return []candidate{{origin: OriginJSON, text: text}}
	case typ != "" && !strings.Contains(typ, "javascript") && typ != "module":
		return nil
	}

	var out []candidate
	for _, loc := range inlineAssignment.FindAllStringIndex(text, -1) {
		out = append(out, candidate{origin: OriginInline, text: text[loc[1]-1:]})
	}
	return out
}

// parse decodes text, falling back to decreasing-length prefixes that end in
// a closing brace or bracket. shrunk reports that a prefix was used.
func (e *Extractor) parse(text string) (value any, shrunk bool, ok bool) {
	if json.Unmarshal([]byte(text), &value) == nil {
		return value, false, true
	}
	if text == "" || (text[0] != '{' && text[0] != '[') {
		return nil, false, false
	}

	attempts := 0
	for end := len(text) - 1; end+1 >= e.minShrinkLength; end-- {
		if text[end] != '}' && text[end] != ']' {
			continue
		}
		if end == len(text)-1 {
			continue
		}
		if attempts >= e.maxShrinkAttempts {
			break
		}
		attempts++
		var v any
		if json.Unmarshal([]byte(text[:end+1]), &v) == nil {
			return v, true, true
		}
	}
	return nil, false, false
}

// findProduct searches v for a product object. While decode > 0, string
// values that look like JSON are decoded, at most decode layers deep.
func (e *Extractor) findProduct(v any, depth, decode int) (map[string]any, bool) {
	if depth > maxSearchDepth {
		return nil, false
	}
	switch t := v.(type) {
	case map[string]any:
		if isProduct(t) {
			return t, false
		}
		for _, key := range productKeys {
			if sub, ok := t[key].(map[string]any); ok && isProduct(sub) {
				return sub, false
			}
		}
		for _, k := range sortedMapKeys(t) {
			if p, dec := e.findProduct(t[k], depth+1, decode); p != nil {
				return p, dec
			}
		}
	case []any:
		for _, item := range t {
			if p, dec := e.findProduct(item, depth+1, decode); p != nil {
				return p, dec
			}
		}
	case string:
		if decode > 0 {
			return e.decodeString(t, decode)
		}
	}
	return nil, false
}

func (e *Extractor) decodeString(s string, budget int) (map[string]any, bool) {
	if budget <= 0 {
		return nil, false
	}
	s = strings.TrimSpace(s)
	if len(s) < 2 {
		return nil, false
	}
	var inner any
	switch s[0] {
	case '{', '[':
		if json.Unmarshal([]byte(s), &inner) != nil {
			return nil, false
		}
	case '"':
		// a JSON string literal holding more JSON
		var str string
		if json.Unmarshal([]byte(s), &str) != nil {
			return nil, false
		}
		return e.decodeString(str, budget-1)
	default:
		return nil, false
	}
	if p, _ := e.findProduct(inner, 0, budget-1); p != nil {
		return p, true
	}
	return nil, false
}

var productKeys = []string{"product", "bike", "productData", "item"}

var productMarkers = []string{"brand", "manufacturer", "make", "sku", "offers", "specifications", "specs", "model", "modelYear"}

func isProduct(m map[string]any) bool {
	switch t := m["@type"].(type) {
	case string:
		if t == "Product" || t == "ProductModel" || t == "Vehicle" {
			return true
		}
	case []any:
		for _, v := range t {
			if v == "Product" || v == "ProductModel" {
				return true
			}
		}
	}
	if _, ok := m["name"].(string); !ok {
		return false
	}
	hits := 0
	for _, k := range productMarkers {
		if _, ok := m[k]; ok {
			hits++
		}
	}
	return hits >= 2
}

func asDocument(v any) map[string]any {
	switch t := v.(type) {
	case map[string]any:
		return t
	case []any:
		return map[string]any{"@graph": t}
	}
	return nil
}

// sanitize strips markup from every string that contains a tag.
func (e *Extractor) sanitize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = e.sanitize(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = e.sanitize(val)
		}
		return out
	case string:
		if !strings.Contains(t, "<") {
			return t
		}
		return strings.TrimSpace(html.UnescapeString(e.policy.Sanitize(t)))
	}
	return v
}
