// Package normalize maps raw records of either payload shape into the
// canonical bike schema.
package normalize

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/okian/bikeharvest/internal/domain/model"
	"github.com/okian/bikeharvest/pkg/logger"
)

const defaultCurrency = "USD"

// Normalizer converts resolved raw records into canonical records.
type Normalizer struct {
	registry Registry
	currency string
	makers   MakerDirectory
	now      func() time.Time
	log      logger.Logger
}

// New creates a Normalizer.
func New(opts ...Option) *Normalizer {
	n := &Normalizer{
		registry: DefaultRegistry(),
		currency: defaultCurrency,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.log == nil {
		n.log = logger.Get().Named("normalize")
	}
	return n
}

// Normalize converts raw. It returns nil and an error wrapping
// ErrMissingIdentity when make, model or year is missing; callers must not
// persist a nil result.
func (n *Normalizer) Normalize(ctx context.Context, raw *model.RawRecord) (*model.CanonicalRecord, error) {
	if raw == nil {
		return nil, ErrNilRecord
	}
	f := n.registry.Reconcile(raw)
	id := f.Identity
	if id.MakerID == "" && n.makers != nil && id.Make != "" {
		id.MakerID, _ = n.makers.Lookup(id.Make)
	}

	var missing []string
	if id.Make == "" {
		missing = append(missing, MissingMake)
	}
	if id.Model == "" {
		missing = append(missing, MissingModel)
	}
	if id.Year == 0 {
		missing = append(missing, MissingYear)
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s missing %s", ErrMissingIdentity, raw.Key, strings.Join(missing, ","))
	}

	rec := &model.CanonicalRecord{
		SyntheticKey: SyntheticKey(raw.Key),
		Make:         id.Make,
		Model:        id.Model,
		Year:         id.Year,
		Variant:      id.Variant,
		MakerID:      id.MakerID,
		Name:         f.Name,
		Category:     f.category(),
		Material:     firstNonEmpty(f.Material, inferMaterial(f)),
		WheelSize:    firstNonEmpty(f.WheelSize, inferWheelSize(f)),
		Drivetrain:   firstNonEmpty(f.Drivetrain, componentValue(f, "drivetrain", "groupset", "shifters")),
		Electric:     Electric(f),
		Specs:        f.Specs,
		Components:   f.Components,
		FlatGeometry: f.FlatGeometry,
		Sizes:        f.Sizes,
		Geometry:     f.Geometry,
		Media:        f.Images,
		SourceURL:    raw.URL,
		RawKey:       raw.Key,
		UpdatedAt:    n.now().UTC(),
	}
	rec.Pricing = n.prices(ctx, raw.Key, f)
	return rec, nil
}

func (n *Normalizer) prices(ctx context.Context, key string, f Fields) []model.Price {
	var out []model.Price
	seen := map[model.Price]struct{}{}
	for _, tok := range f.Prices {
		amount, currency, err := ParseMoney(tok.Raw, n.currency)
		if err != nil {
			n.log.Debug(ctx, "unparseable price", logger.String("key", key), logger.String("raw", tok.Raw))
			continue
		}
		p := model.Price{Kind: tok.Kind, AmountMinor: amount, Currency: currency}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}

var materials = []struct {
	word  string
	value string
}{
	{"carbon", "carbon"},
	{"titanium", "titanium"},
	{"steel", "steel"},
	{"chromoly", "steel"},
	{"aluminium", "aluminum"},
	{"aluminum", "aluminum"},
	{"alloy", "aluminum"},
}

func inferMaterial(f Fields) string {
	frame := strings.ToLower(componentValue(f, "frame", "frameset"))
	for _, m := range materials {
		if strings.Contains(frame, m.word) {
			return m.value
		}
	}
	return ""
}

var wheelSizePattern = regexp.MustCompile(`(?i)\b(29|27\.5|26|24|20)(?:"|''|\s?in(?:ch)?\b|er\b)|\b(700c|650b)\b`)

func inferWheelSize(f Fields) string {
	text := componentValue(f, "wheels", "wheelset", "rims", "tires", "tyres")
	m := wheelSizePattern.FindStringSubmatch(text)
	switch {
	case m == nil:
		return ""
	case m[1] != "":
		return m[1] + `"`
	default:
		return strings.ToLower(m[2])
	}
}

// componentValue returns the first spec or component value whose key
// contains one of words.
func componentValue(f Fields, words ...string) string {
	match := func(m map[string]string) string {
		for _, w := range words {
			for _, k := range sortedKeys(m) {
				if strings.Contains(strings.ToLower(k), w) {
					return m[k]
				}
			}
		}
		return ""
	}
	if v := match(f.Specs); v != "" {
		return v
	}
	groups := sortedKeys(f.Components)
	sort.SliceStable(groups, func(i, j int) bool {
		return groupRank(groups[i], words) < groupRank(groups[j], words)
	})
	for _, g := range groups {
		if v := match(f.Components[g]); v != "" {
			return v
		}
	}
	return ""
}

// groupRank sorts groups named after one of words first.
func groupRank(group string, words []string) int {
	g := strings.ToLower(group)
	for _, w := range words {
		if strings.Contains(g, w) {
			return 0
		}
	}
	return 1
}
