package normalize

import (
	"regexp"
	"strings"

	"github.com/okian/bikeharvest/internal/domain/types"
)

type categoryRule struct {
	category types.Category
	pattern  *regexp.Regexp
}

func rule(c types.Category, words ...string) categoryRule {
	quoted := make([]string, len(words))
	for i, w := range words {
		quoted[i] = regexp.QuoteMeta(w)
	}
	return categoryRule{category: c, pattern: regexp.MustCompile(`(?i)\b(?:` + strings.Join(quoted, "|") + `)\b`)}
}

// inference order matters: the first matching rule wins
var categoryRules = []categoryRule{
	rule(types.CategoryMountain, "mountain", "mtb", "trail", "enduro", "downhill", "cross country", "full suspension", "hardtail"),
	rule(types.CategoryRoad, "road", "aero", "endurance", "race bike", "criterium", "time trial", "triathlon"),
	rule(types.CategoryGravel, "gravel", "adventure", "cyclocross", "all-road", "bikepacking"),
	rule(types.CategoryHybrid, "hybrid", "fitness", "commuter", "city", "urban", "comfort", "trekking"),
	rule(types.CategoryElectric, "electric", "e-bike", "ebike", "pedal assist", "pedelec"),
}

// ParseCategory maps an explicit category value onto a Category using the
// same keyword rules. Values that match nothing return CategoryOther.
func ParseCategory(explicit string) types.Category {
	return InferCategory(explicit)
}

// InferCategory tries the rules mountain, road, gravel, hybrid, electric over
// all texts together. The first matching rule wins.
func InferCategory(texts ...string) types.Category {
	joined := strings.Join(texts, " \n ")
	for _, r := range categoryRules {
		if r.pattern.MatchString(joined) {
			return r.category
		}
	}
	return types.CategoryOther
}

func (f Fields) category() types.Category {
	if f.Category != "" {
		if c := ParseCategory(f.Category); c != types.CategoryOther {
			return c
		}
	}
	texts := append([]string{f.Name, f.Description}, f.Breadcrumbs...)
	return InferCategory(texts...)
}
