package normalize

import (
	"regexp"
	"strings"

	"github.com/okian/bikeharvest/internal/domain/model"
	"github.com/okian/bikeharvest/internal/domain/types"
)

// Fields is the single intermediate view of a raw record, whichever payload
// variant it holds.
type Fields struct {
	Identity     model.Identity
	Name         string
	Description  string
	Category     string
	Breadcrumbs  []string
	Material     string
	WheelSize    string
	Drivetrain   string
	Specs        map[string]string
	Components   map[string]map[string]string
	FlatGeometry map[string]string
	Sizes        []string
	Geometry     map[string]map[string]string
	Prices       []model.PriceToken
	Images       []string
	Features     []string
	Reviews      []string
	RiderNotes   []string
	SimilarBikes []string
}

// Reconcile maps rec into Fields using the default alias registry.
func Reconcile(rec *model.RawRecord) Fields {
	return DefaultRegistry().Reconcile(rec)
}

// Reconcile maps rec into Fields. Identity values already set on the record
// envelope take precedence over values found in the payload.
func (r Registry) Reconcile(rec *model.RawRecord) Fields {
	var f Fields
	if rec == nil {
		return f
	}
	switch p := rec.Payload.(type) {
	case model.StructuredPayload:
		f = r.fromStructured(p)
	case model.DomScraped:
		f = r.fromDom(p)
	}
	f.Identity = mergeIdentity(rec.Identity, f.Identity)
	if f.Identity.Model == "" {
		f.Identity.Model = deriveModel(f.Name, f.Identity.Make)
	}
	if f.Identity.Year == 0 {
		f.Identity.Year, _ = ParseYear(f.Name)
	}
	return f
}

// IdentityOf returns the reconciled identity of rec.
func IdentityOf(rec *model.RawRecord) model.Identity {
	return Reconcile(rec).Identity
}

// Stats counts populated fields per category.
func Stats(rec *model.RawRecord) model.ExtractionStats {
	return Reconcile(rec).Stats()
}

// Stats counts populated fields per category.
func (f Fields) Stats() model.ExtractionStats {
	components := 0
	for _, group := range f.Components {
		components += len(group)
	}
	return model.ExtractionStats{
		Specs:         len(f.Specs),
		Components:    components,
		FlatGeometry:  len(f.FlatGeometry),
		GeometrySizes: len(f.Geometry),
		Prices:        len(f.Prices),
		Images:        len(f.Images),
		Features:      len(f.Features),
		Reviews:       len(f.Reviews),
		RiderNotes:    len(f.RiderNotes),
		SimilarBikes:  len(f.SimilarBikes),
	}
}

func (r Registry) fromStructured(p model.StructuredPayload) Fields {
	doc := p.Product
	f := Fields{
		Identity: model.Identity{
			Make:    r.String(doc, FieldMake),
			Model:   r.String(doc, FieldModel),
			Variant: r.String(doc, FieldVariant),
			MakerID: r.String(doc, FieldMakerID),
		},
		Name:        r.String(doc, FieldName),
		Description: r.String(doc, FieldDescription),
		Category:    r.String(doc, FieldCategory),
		Material:    r.String(doc, FieldMaterial),
		WheelSize:   r.String(doc, FieldWheelSize),
		Drivetrain:  r.String(doc, FieldDrivetrain),
	}
	if v, ok := r.Lookup(doc, FieldYear); ok {
		f.Identity.Year, _ = ParseYear(v)
	}
	if v, ok := r.Lookup(doc, FieldSpecs); ok {
		f.Specs = asStringMap(v)
	}
	if v, ok := r.Lookup(doc, FieldComponents); ok {
		f.Components = asNestedMap(v)
	}
	if v, ok := r.Lookup(doc, FieldGeometry); ok {
		f.Geometry = asNestedMap(v)
	}
	if v, ok := r.Lookup(doc, FieldFlatGeometry); ok {
		f.FlatGeometry = asStringMap(v)
	}
	if v, ok := r.Lookup(doc, FieldSizes); ok {
		f.Sizes = dedupeStrings(asStrings(v))
	}
	if v, ok := r.Lookup(doc, FieldImages); ok {
		f.Images = dedupeStrings(asStrings(v))
	}
	if v, ok := r.Lookup(doc, FieldFeatures); ok {
		f.Features = asStrings(v)
	}
	if v, ok := r.Lookup(doc, FieldReviews); ok {
		f.Reviews = asStrings(v)
	}
	if v, ok := r.Lookup(doc, FieldRiderNotes); ok {
		f.RiderNotes = asStrings(v)
	}
	if v, ok := r.Lookup(doc, FieldSimilarBikes); ok {
		f.SimilarBikes = asStrings(v)
	}
	if v, ok := r.Lookup(doc, FieldBreadcrumbs); ok {
		f.Breadcrumbs = asStrings(v)
	}
	f.Prices = structuredPrices(doc)
	if len(f.Sizes) == 0 {
		f.Sizes = sortedKeys(f.Geometry)
	}
	return f
}

func (r Registry) fromDom(p model.DomScraped) Fields {
	// specs and meta tags share one lookup document
	doc := make(map[string]any, len(p.Specs)+len(p.Meta))
	for k, v := range p.Meta {
		doc[k] = v
	}
	for k, v := range p.Specs {
		doc[k] = v
	}

	f := Fields{
		Identity: model.Identity{
			Make:    r.String(doc, FieldMake),
			Model:   r.String(doc, FieldModel),
			Variant: r.String(doc, FieldVariant),
			MakerID: r.String(doc, FieldMakerID),
		},
		Name:         firstNonEmpty(p.Name, p.Title, r.String(doc, FieldName)),
		Description:  firstNonEmpty(p.Description, r.String(doc, FieldDescription)),
		Category:     r.String(doc, FieldCategory),
		Breadcrumbs:  p.Breadcrumbs,
		Material:     r.String(doc, FieldMaterial),
		WheelSize:    r.String(doc, FieldWheelSize),
		Drivetrain:   r.String(doc, FieldDrivetrain),
		Specs:        p.Specs,
		Components:   p.Components,
		FlatGeometry: p.FlatGeometry,
		Sizes:        p.Sizes,
		Geometry:     p.SizeGeometry,
		Prices:       p.Prices,
		Images:       dedupeStrings(p.Images),
		Features:     p.Features,
		Reviews:      p.Reviews,
		RiderNotes:   p.RiderNotes,
		SimilarBikes: p.SimilarBikes,
	}
	if v, ok := r.Lookup(doc, FieldYear); ok {
		f.Identity.Year, _ = ParseYear(v)
	}
	if len(f.Sizes) == 0 {
		f.Sizes = sortedKeys(f.Geometry)
	}
	return f
}

// structuredPrices turns offer objects and price-like keys into tokens.
func structuredPrices(doc map[string]any) []model.PriceToken {
	var out []model.PriceToken
	add := func(kind types.PriceKind, amount, currency any) {
		raw := asString(amount)
		if raw == "" {
			return
		}
		if cur := asString(currency); cur != "" {
			raw += " " + cur
		}
		out = append(out, model.PriceToken{Kind: kind, Raw: raw})
	}

	var offers []any
	switch o := findKey(doc, "offers").(type) {
	case map[string]any:
		offers = []any{o}
	case []any:
		offers = o
	}
	for _, item := range offers {
		offer, ok := item.(map[string]any)
		if !ok {
			continue
		}
		currency := findKey(offer, "priceCurrency")
		if v := findKey(offer, "price"); v != nil {
			add(types.PriceCurrent, v, currency)
		} else if v := findKey(offer, "lowPrice"); v != nil {
			add(types.PriceCurrent, v, currency)
		}
		if spec, ok := findKey(offer, "priceSpecification").(map[string]any); ok {
			add(types.PriceMSRP, findKey(spec, "price"), findKey(spec, "priceCurrency"))
		}
	}

	currency := findKey(doc, "currency")
	add(types.PriceMSRP, findKey(doc, "msrp"), currency)
	add(types.PriceMSRP, findKey(doc, "listPrice"), currency)
	add(types.PriceSale, findKey(doc, "salePrice"), currency)
	if len(offers) == 0 {
		add(types.PriceCurrent, findKey(doc, "price"), currency)
	}
	return out
}

func mergeIdentity(primary, fallback model.Identity) model.Identity {
	if primary.Make == "" {
		primary.Make = fallback.Make
	}
	if primary.Model == "" {
		primary.Model = fallback.Model
	}
	if primary.Year == 0 {
		primary.Year = fallback.Year
	}
	if primary.Variant == "" {
		primary.Variant = fallback.Variant
	}
	if primary.MakerID == "" {
		primary.MakerID = fallback.MakerID
	}
	return primary
}

// MergeIdentity fills the empty fields of primary from fallback.
func MergeIdentity(primary, fallback model.Identity) model.Identity {
	return mergeIdentity(primary, fallback)
}

var yearToken = regexp.MustCompile(`\b(?:19|20)\d{2}\b|\bMY\d{2}\b`)

// deriveModel strips the make and any year tokens from a product name.
func deriveModel(name, brand string) string {
	if name == "" || brand == "" {
		return ""
	}
	rest := strings.TrimSpace(name)
	if len(rest) < len(brand) || !strings.EqualFold(rest[:len(brand)], brand) {
		return ""
	}
	rest = yearToken.ReplaceAllString(rest[len(brand):], "")
	return strings.Join(strings.Fields(rest), " ")
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
