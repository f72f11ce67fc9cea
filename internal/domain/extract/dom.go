package extract

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/okian/bikeharvest/internal/domain/model"
	"github.com/okian/bikeharvest/internal/domain/types"
)

const (
	featureSelector    = `[class*="feature"] li, [id*="feature"] li, [class*="highlight"] li`
	reviewSelector     = `[class*="review"] li, [id*="review"] li, [class*="review"] blockquote`
	riderNoteSelector  = `[class*="rider-note"] li, [class*="rider_note"] li, [class*="ridernote"] li, [id*="rider-note"] li`
	similarSelector    = `[class*="similar"] a[href], [id*="similar"] a[href], [class*="related"] a[href]`
	breadcrumbSelector = `nav[aria-label*="readcrumb"] a, .breadcrumb a, .breadcrumbs a, [itemtype$="BreadcrumbList"] [itemprop="name"]`
	priceSelector      = `[class*="price"], [id*="price"], [itemprop="price"]`
	geometryMarkers    = `[id*="geometry"], [class*="geometry"], [data-tab*="geometry"], [href*="geometry"]`
	headingSelector    = `h1, h2, h3, h4, h5, h6, button, summary, caption, th, a, [role="tab"]`
	priceContextChars  = 32
	minGeometryRows    = 2
)

var (
	// geometryMention marks a geometry section that may simply have failed to parse.
	geometryMention = regexp.MustCompile(`(?i)geometry\s+(?:chart|diagram|image|drawing)|see\s+(?:the\s+)?(?:geometry\s+)?(?:image|chart)\s+(?:below|above)`)
	// geometryAsImage is the page telling us geometry only exists as a picture.
	geometryAsImage = regexp.MustCompile(`(?i)geometr(?:y|ies)\b[^.!?]{0,80}?\b(?:shown|presented|available|displayed|provided|depicted|illustrated)\b[^.!?]{0,40}?\b(?:image|picture|graphic|drawing|diagram)s?\b|see\s+(?:the\s+)?geometry\s+(?:image|picture|drawing)`)
)

// scrapeDom builds the fallback payload from tables, lists, prices and images.
func (e *Extractor) scrapeDom(doc *goquery.Document, pageURL string) model.DomScraped {
	base, _ := url.Parse(pageURL)
	d := model.DomScraped{
		Name:        cleanText(doc.Find("h1").First().Text()),
		Title:       cleanText(doc.Find("title").First().Text()),
		Description: strings.TrimSpace(doc.Find(`meta[name="description"]`).AttrOr("content", "")),
	}

	d.Meta = map[string]string{}
	doc.Find("meta").Each(func(_ int, s *goquery.Selection) {
		name := s.AttrOr("property", s.AttrOr("name", ""))
		content := strings.TrimSpace(s.AttrOr("content", ""))
		if content == "" || !strings.Contains(name, ":") {
			return
		}
		if strings.HasPrefix(name, "og:") || strings.HasPrefix(name, "product:") {
			d.Meta[name] = content
		}
	})
	if len(d.Meta) == 0 {
		d.Meta = nil
	}

	seen := map[string]struct{}{}
	doc.Find(breadcrumbSelector).Each(func(_ int, s *goquery.Selection) {
		d.Breadcrumbs = appendUnique(d.Breadcrumbs, seen, cleanText(s.Text()))
	})

	e.scrapeTables(doc, &d)
	d.Features = collectText(doc, featureSelector)
	d.Reviews = collectText(doc, reviewSelector)
	d.RiderNotes = collectText(doc, riderNoteSelector)
	d.SimilarBikes = collectLinks(doc, similarSelector, base)
	d.Prices = collectPrices(doc)
	d.Images = e.collectImages(doc, base)
	return d
}

func (e *Extractor) scrapeTables(doc *goquery.Document, d *model.DomScraped) {
	specs := map[string]string{}
	components := map[string]map[string]string{}
	flat := map[string]string{}
	bySize := map[string]map[string]string{}
	seenSize := map[string]struct{}{}

	addPair := func(key, val string, geometryTable bool) {
		if key == "" || val == "" {
			return
		}
		if geometryTable && isGeometryKey(key) {
			flat[key] = val
			return
		}
		specs[key] = val
		if g := componentGroup(key); g != "" {
			if components[g] == nil {
				components[g] = map[string]string{}
			}
			components[g][key] = val
		}
	}

	doc.Find("table").Each(func(_ int, table *goquery.Selection) {
		rows := rowsOf(table)
		if len(rows) == 0 {
			return
		}
		if sizes := sizeHeader(rows[0]); sizes != nil {
			for _, size := range sizes {
				d.Sizes = appendUnique(d.Sizes, seenSize, size)
			}
			for _, row := range rows[1:] {
				if len(row) < 2 {
					continue
				}
				measure := row[0]
				for i, size := range sizes {
					if i+1 >= len(row) || row[i+1] == "" || measure == "" {
						continue
					}
					if bySize[size] == nil {
						bySize[size] = map[string]string{}
					}
					bySize[size][measure] = row[i+1]
				}
			}
			return
		}

		geometryRows := 0
		for _, row := range rows {
			if len(row) == 2 && isGeometryKey(row[0]) {
				geometryRows++
			}
		}
		for _, row := range rows {
			if len(row) == 2 {
				addPair(row[0], row[1], geometryRows >= minGeometryRows)
			}
		}
	})

	doc.Find("dl").Each(func(_ int, dl *goquery.Selection) {
		dl.Find("dt").Each(func(_ int, dt *goquery.Selection) {
			addPair(cleanText(dt.Text()), cleanText(dt.NextFiltered("dd").Text()), false)
		})
	})

	if len(specs) > 0 {
		d.Specs = specs
	}
	if len(components) > 0 {
		d.Components = components
	}
	if len(flat) > 0 {
		d.FlatGeometry = flat
	}
	if len(bySize) > 0 {
		d.SizeGeometry = bySize
	}
}

func rowsOf(table *goquery.Selection) [][]string {
	var rows [][]string
	table.Find("tr").Each(func(_ int, tr *goquery.Selection) {
		var cells []string
		tr.Find("th, td").Each(func(_ int, c *goquery.Selection) {
			cells = append(cells, cleanText(c.Text()))
		})
		if len(cells) > 0 {
			rows = append(rows, cells)
		}
	})
	return rows
}

// sizeHeader returns the size labels of a geometry header row, or nil when
// fewer than two cells after the first look like sizes.
func sizeHeader(row []string) []string {
	if len(row) < 3 {
		return nil
	}
	sizes := make([]string, 0, len(row)-1)
	matches := 0
	for _, cell := range row[1:] {
		if isSizeLabel(cell) {
			matches++
		}
		sizes = append(sizes, cell)
	}
	if matches < 2 || matches < len(sizes)/2 {
		return nil
	}
	return sizes
}

func collectText(doc *goquery.Document, selector string) []string {
	var out []string
	seen := map[string]struct{}{}
	doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
		out = appendUnique(out, seen, cleanText(s.Text()))
	})
	return out
}

func collectLinks(doc *goquery.Document, selector string, base *url.URL) []string {
	var out []string
	seen := map[string]struct{}{}
	doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
		out = appendUnique(out, seen, resolveURL(base, s.AttrOr("href", "")))
	})
	return out
}

// collectPrices reads $-prefixed tokens from the innermost price elements,
// or from the whole body when the page has none.
func collectPrices(doc *goquery.Document) []model.PriceToken {
	var out []model.PriceToken
	seen := map[model.PriceToken]struct{}{}
	add := func(text, classes string) {
		for _, loc := range priceToken.FindAllStringIndex(text, -1) {
			start := max(0, loc[0]-priceContextChars)
			tok := model.PriceToken{
				Kind: priceKind(text[start:loc[0]] + " " + classes),
				Raw:  strings.ReplaceAll(text[loc[0]:loc[1]], " ", ""),
			}
			if _, dup := seen[tok]; dup {
				continue
			}
			seen[tok] = struct{}{}
			out = append(out, tok)
		}
	}

	doc.Find(priceSelector).Each(func(_ int, s *goquery.Selection) {
		if s.Find(priceSelector).Length() > 0 {
			return
		}
		classes := s.AttrOr("class", "") + " " + s.AttrOr("id", "")
		if p := s.Parent(); p.Length() > 0 {
			classes += " " + p.AttrOr("class", "")
		}
		add(cleanText(s.Text()), classes)
	})
	if len(out) == 0 {
		body := doc.Find("body").Clone()
		body.Find("script, style, noscript").Remove()
		add(cleanText(body.Text()), "")
	}
	return out
}

func (e *Extractor) collectImages(doc *goquery.Document, base *url.URL) []string {
	var skip *html.Node
	if geo := geometryImage(doc); geo != nil {
		skip = geo.Get(0)
	}
	var out []string
	seen := map[string]struct{}{}
	doc.Find("img").Each(func(_ int, s *goquery.Selection) {
		src := imageSrc(s)
		if src == "" || skipImagePath(src) || s.Get(0) == skip || isGeometryImage(s) {
			return
		}
		w, h := dimension(s.AttrOr("width", "")), dimension(s.AttrOr("height", ""))
		if (w > 0 && w < e.minImageWidth) || (h > 0 && h < e.minImageHeight) {
			return
		}
		out = appendUnique(out, seen, resolveURL(base, src))
	})
	return out
}

func imageSrc(s *goquery.Selection) string {
	src := s.AttrOr("src", "")
	if src == "" || strings.HasPrefix(src, "data:") {
		src = s.AttrOr("data-src", firstSrcset(s.AttrOr("srcset", "")))
	}
	return src
}

func isGeometryImage(s *goquery.Selection) bool {
	text := strings.ToLower(s.AttrOr("src", "") + " " + s.AttrOr("alt", "") + " " + s.AttrOr("data-src", ""))
	return strings.Contains(text, "geometry") || strings.Contains(text, "geo-chart")
}

// geometryImage finds the picture carrying geometry: an image named for it,
// else the first image after a "geometry is shown as an image" message, else
// the largest image on such a page. Nil when the page has neither signal.
func geometryImage(doc *goquery.Document) *goquery.Selection {
	var found *goquery.Selection
	doc.Find("img").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if isGeometryImage(s) && imageSrc(s) != "" {
			found = s
			return false
		}
		return true
	})
	if found != nil {
		return found
	}

	msg := geometryMessage(doc)
	if msg == nil {
		return nil
	}
	passed := false
	doc.Find("body *").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		n := s.Get(0)
		if n == msg {
			passed = true
			return true
		}
		if passed && goquery.NodeName(s) == "img" && imageSrc(s) != "" && !skipImagePath(imageSrc(s)) {
			found = s
			return false
		}
		return true
	})
	if found != nil {
		return found
	}

	best := 0
	doc.Find("img").Each(func(_ int, s *goquery.Selection) {
		if imageSrc(s) == "" {
			return
		}
		w, h := dimension(s.AttrOr("width", "")), dimension(s.AttrOr("height", ""))
		area := w * max(h, 1)
		if area > best {
			best, found = area, s
		}
	})
	return found
}

// geometryMessage returns the innermost visible element saying geometry is
// given as an image.
func geometryMessage(doc *goquery.Document) *html.Node {
	var msg *html.Node
	doc.Find("body *").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		switch goquery.NodeName(s) {
		case "script", "style", "noscript", "template":
			return true
		}
		if !geometryAsImage.MatchString(cleanText(s.Text())) {
			return true
		}
		inner := s.Children().FilterFunction(func(_ int, c *goquery.Selection) bool {
			return geometryAsImage.MatchString(cleanText(c.Text()))
		})
		if inner.Length() == 0 {
			msg = s.Get(0)
			return false
		}
		return true
	})
	return msg
}

// diagnoseGeometry keeps an extraction miss apart from a page that never
// mentions geometry, and both apart from geometry published as an image.
func (e *Extractor) diagnoseGeometry(doc *goquery.Document, pageURL string, st model.ExtractionStats) (types.GeometryState, string) {
	if st.GeometrySizes > 0 || st.FlatGeometry > 0 {
		return types.GeometryFound, ""
	}
	base, _ := url.Parse(pageURL)

	if img := geometryImage(doc); img != nil {
		return types.GeometryImageOnly, resolveURL(base, imageSrc(img))
	}
	if geometryMessage(doc) != nil {
		return types.GeometryImageOnly, ""
	}

	marked := doc.Find(geometryMarkers).Length() > 0 ||
		doc.Find(headingSelector).FilterFunction(func(_ int, s *goquery.Selection) bool {
			return strings.Contains(strings.ToLower(s.Text()), "geometry")
		}).Length() > 0 ||
		geometryMention.MatchString(visibleBodyText(doc))
	if marked {
		return types.GeometryExtractionMiss, ""
	}
	return types.GeometryAbsent, ""
}

func visibleBodyText(doc *goquery.Document) string {
	body := doc.Find("body").Clone()
	body.Find("script, style, noscript, template").Remove()
	return cleanText(body.Text())
}
