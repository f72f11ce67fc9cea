package normalize

import (
	"strings"
)

// Logical field names understood by the alias registry.
const (
	FieldMake         = "make"
	FieldModel        = "model"
	FieldYear         = "year"
	FieldVariant      = "variant"
	FieldMakerID      = "maker_id"
	FieldName         = "name"
	FieldDescription  = "description"
	FieldCategory     = "category"
	FieldMaterial     = "material"
	FieldWheelSize    = "wheel_size"
	FieldDrivetrain   = "drivetrain"
	FieldSpecs        = "specs"
	FieldComponents   = "components"
	FieldGeometry     = "geometry"
	FieldFlatGeometry = "flat_geometry"
	FieldSizes        = "sizes"
	FieldImages       = "images"
	FieldFeatures     = "features"
	FieldReviews      = "reviews"
	FieldRiderNotes   = "rider_notes"
	FieldSimilarBikes = "similar_bikes"
	FieldBreadcrumbs  = "breadcrumbs"
)

// Registry maps a logical field to candidate dotted paths. Path segments
// match object keys ignoring case and the separators in keySeparators.
type Registry map[string][]string

// DefaultRegistry is the alias set used when no other is configured.
func DefaultRegistry() Registry {
	return Registry{
		FieldMake:         {"brand.name", "brand", "manufacturer.name", "manufacturer", "make", "maker", "product:brand", "og:brand"},
		FieldModel:        {"model.name", "model", "modelName", "bikeModel", "family"},
		FieldYear:         {"modelYear", "year", "releaseYear", "productionDate"},
		FieldVariant:      {"variant", "trim", "build", "specLevel", "edition"},
		FieldMakerID:      {"makerId", "brand.identifier", "brand.id", "manufacturer.identifier", "manufacturer.id", "brandId"},
		FieldName:         {"name", "productName", "title", "og:title"},
		FieldDescription:  {"description", "summary", "og:description"},
		FieldCategory:     {"bikeCategory", "category", "productType", "type"},
		FieldMaterial:     {"material", "frameMaterial", "frame material"},
		FieldWheelSize:    {"wheelSize", "wheel size", "wheels.size"},
		FieldDrivetrain:   {"drivetrain", "groupset", "group set"},
		FieldSpecs:        {"specifications", "specs", "techSpecs", "additionalProperty"},
		FieldComponents:   {"components", "componentGroups", "build.components"},
		FieldGeometry:     {"geometry.sizes", "geometryBySize", "sizeGeometry", "geometry"},
		FieldFlatGeometry: {"flatGeometry", "geometry.flat"},
		FieldSizes:        {"sizes", "availableSizes", "frameSizes", "size"},
		FieldImages:       {"images", "image", "media", "gallery"},
		FieldFeatures:     {"features", "highlights", "keyFeatures"},
		FieldReviews:      {"reviews", "review"},
		FieldRiderNotes:   {"riderNotes", "riderNote"},
		FieldSimilarBikes: {"similarBikes", "relatedProducts", "isSimilarTo"},
		FieldBreadcrumbs:  {"breadcrumbs", "breadcrumb"},
	}
}

const keySeparators = "_- :"

func canonicalKey(k string) string {
	var b strings.Builder
	b.Grow(len(k))
	for _, r := range strings.ToLower(k) {
		if strings.ContainsRune(keySeparators, r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// findKey returns m[k] matching k by canonical form. Exact matches win;
// among several spellings of the same key the first in sorted order wins.
func findKey(m map[string]any, k string) any {
	if v, ok := m[k]; ok {
		return v
	}
	want := canonicalKey(k)
	for _, key := range sortedKeys(m) {
		if canonicalKey(key) == want {
			return m[key]
		}
	}
	return nil
}

func walk(doc map[string]any, path string) any {
	var cur any = doc
	for _, seg := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = findKey(m, seg)
		if cur == nil {
			return nil
		}
	}
	return cur
}

// Lookup returns the first non-empty value among field's paths.
func (r Registry) Lookup(doc map[string]any, field string) (any, bool) {
	if doc == nil {
		return nil, false
	}
	for _, path := range r[field] {
		v := walk(doc, path)
		if !empty(v) {
			return v, true
		}
	}
	return nil, false
}

// String resolves field to a scalar string.
func (r Registry) String(doc map[string]any, field string) string {
	for _, path := range r[field] {
		if s := asString(walk(doc, path)); s != "" {
			return s
		}
	}
	return ""
}

func empty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	}
	return false
}
