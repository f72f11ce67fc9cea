package extract

import (
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/okian/bikeharvest/internal/domain/types"
)

// component groups, checked in order
var componentGroups = []struct {
	group string
	words []string
}{
	{"electric", []string{"motor", "battery", "display", "charger", "drive unit"}},
	{"suspension", []string{"shock", "suspension", "travel", "damper"}},
	{"frame", []string{"frame", "fork", "headset", "seat clamp"}},
	{"drivetrain", []string{"shifter", "derailleur", "crank", "cassette", "chain", "bottom bracket", "groupset", "drivetrain", "freewheel"}},
	{"brakes", []string{"brake", "rotor", "caliper"}},
	{"wheels", []string{"wheel", "rim", "hub", "tire", "tyre", "spoke"}},
	{"cockpit", []string{"handlebar", "stem", "grip", "bar tape", "saddle", "seatpost", "pedal"}},
}

func componentGroup(key string) string {
	k := strings.ToLower(key)
	for _, g := range componentGroups {
		for _, w := range g.words {
			if strings.Contains(k, w) {
				return g.group
			}
		}
	}
	return ""
}

var geometryWords = []string{
	"reach", "stack", "head tube", "seat tube", "top tube", "wheelbase", "chainstay", "chain stay",
	"bb drop", "bottom bracket drop", "bb height", "bottom bracket height", "fork offset", "rake",
	"trail", "standover", "head angle", "seat angle", "front center",
}

func isGeometryKey(key string) bool {
	k := strings.ToLower(key)
	for _, w := range geometryWords {
		if strings.Contains(k, w) {
			return true
		}
	}
	return false
}

var (
	letterSize  = regexp.MustCompile(`(?i)^(?:XXS|XS|S|SM|M|MD|L|LG|XL|XXL|2XL|3XL)$`)
	numericSize = regexp.MustCompile(`(?i)^\d{2}(?:\.\d)?\s?(?:cm)?$`)
	slashSize   = regexp.MustCompile(`(?i)^(?:XXS|XS|S|SM|M|MD|L|LG|XL|XXL)(?:\s?/\s?(?:XXS|XS|S|SM|M|MD|L|LG|XL|XXL))+$`)
)

// isSizeLabel reports whether a header cell names a frame size.
func isSizeLabel(s string) bool {
	s = strings.TrimSpace(s)
	return letterSize.MatchString(s) || numericSize.MatchString(s) || slashSize.MatchString(s)
}

var (
	priceToken = regexp.MustCompile(`\$\s?\d[\d,]*(?:\.\d{1,2})?`)
	msrpWords  = []string{"msrp", "rrp", "list", "was", "original", "retail", "regular"}
	saleWords  = []string{"sale", "now", "save", "discount", "special", "offer", "reduced"}
)

// priceKind classifies a price from the words just before it and the
// element's class names.
func priceKind(context string) types.PriceKind {
	c := strings.ToLower(context)
	for _, w := range msrpWords {
		if containsWord(c, w) {
			return types.PriceMSRP
		}
	}
	for _, w := range saleWords {
		if containsWord(c, w) {
			return types.PriceSale
		}
	}
	return types.PriceCurrent
}

func containsWord(text, word string) bool {
	for i := strings.Index(text, word); i >= 0; {
		before := i == 0 || !isLetter(text[i-1])
		after := i+len(word) >= len(text) || !isLetter(text[i+len(word)])
		if before && after {
			return true
		}
		next := strings.Index(text[i+1:], word)
		if next < 0 {
			break
		}
		i += next + 1
	}
	return false
}

func isLetter(b byte) bool { return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') }

var skipImagePaths = []string{"logo", "icon", "sprite", "placeholder", "spinner", "loader", "avatar", "badge", "flag", "pixel", "tracking", "favicon", "payment"}

func skipImagePath(src string) bool {
	s := strings.ToLower(src)
	if strings.HasPrefix(s, "data:") || strings.HasSuffix(s, ".svg") {
		return true
	}
	for _, w := range skipImagePaths {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

// dimension parses "640", "640px"; 0 means unknown.
func dimension(s string) int {
	s = strings.TrimSuffix(strings.TrimSpace(s), "px")
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

func resolveURL(base *url.URL, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	if base == nil {
		return u.String()
	}
	return base.ResolveReference(u).String()
}

// firstSrcset returns the first URL of a srcset attribute.
func firstSrcset(srcset string) string {
	first, _, _ := strings.Cut(strings.TrimSpace(srcset), ",")
	fields := strings.Fields(first)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func sortedMapKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func appendUnique(list []string, seen map[string]struct{}, v string) []string {
	if v == "" {
		return list
	}
	if _, ok := seen[v]; ok {
		return list
	}
	seen[v] = struct{}{}
	return append(list, v)
}
