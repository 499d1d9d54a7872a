package extractor

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog/log"

	"github.com/mokutsu/mfcscraper-go/internal/types"
)

// ParseRecord extracts the structured item record from page HTML. Every
// sub-field is best-effort: a field that fails to parse is simply absent,
// the record itself is still valid.
func ParseRecord(pageHTML, url, fingerprint string) *types.Record {
	rec := &types.Record{
		Fingerprint: fingerprint,
		URL:         url,
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(pageHTML))
	if err != nil {
		log.Warn().Err(err).Str("fingerprint", fingerprint).Msg("Item page HTML did not parse, returning bare record")
		return rec
	}

	rec.Name = itemName(doc)
	rec.ImageURL = itemImage(doc)

	fields := map[string]string{}
	doc.Find(".data-field").Each(func(_ int, field *goquery.Selection) {
		label := cleanText(field.Find(".data-label").First().Text())
		value := field.Find(".data-value").First()
		if label == "" || value.Length() == 0 {
			return
		}
		switch strings.ToLower(label) {
		case "character", "characters":
			rec.Characters = append(rec.Characters, anchorTexts(value)...)
		case "company", "companies":
			rec.Companies = append(rec.Companies, parseCompanies(value)...)
		case "artist", "artists":
			rec.Artists = append(rec.Artists, anchorTexts(value)...)
		case "origin", "origins":
			rec.Origin = cleanText(value.Text())
		case "scale":
			rec.Scale = cleanText(value.Text())
		case "release", "releases":
			rec.Releases = append(rec.Releases, parseReleases(value)...)
		default:
			if v := cleanText(value.Text()); v != "" {
				fields[label] = v
			}
		}
	})
	if len(fields) > 0 {
		rec.Fields = fields
	}

	rec.Manufacturer = manufacturerOf(rec.Companies)
	return rec
}

// itemName prefers the page headline, falling back to the itemprop span
// some layouts use.
func itemName(doc *goquery.Document) string {
	if name := cleanText(doc.Find("h1.title").First().Text()); name != "" {
		return name
	}
	return cleanText(doc.Find("span[itemprop='name']").First().Text())
}

// itemImage returns the main picture URL, falling back to the OpenGraph
// image when the gallery markup is absent.
func itemImage(doc *goquery.Document) string {
	if src, ok := doc.Find(".item-picture .main img").First().Attr("src"); ok && src != "" {
		return src
	}
	if content, ok := doc.Find("meta[property='og:image']").First().Attr("content"); ok {
		return content
	}
	return ""
}

// parseCompanies pairs each company link with the role annotation that
// follows it ("As Manufacturer", "As Distributor").
func parseCompanies(sel *goquery.Selection) []types.Company {
	var out []types.Company
	sel.Find("a").Each(func(_ int, a *goquery.Selection) {
		name := cleanText(a.Text())
		if name == "" {
			return
		}
		out = append(out, types.Company{Name: name, Role: roleOf(a)})
	})
	return out
}

func roleOf(a *goquery.Selection) string {
	small := a.NextFiltered("small")
	if small.Length() == 0 {
		return ""
	}
	return cleanText(strings.TrimPrefix(cleanText(small.Text()), "As "))
}

// parseReleases walks the release anchors; siblings between one date anchor
// and the next annotate that release.
func parseReleases(sel *goquery.Selection) []types.Release {
	var out []types.Release
	sel.Find("a.time").Each(func(_ int, a *goquery.Selection) {
		rel := types.Release{Date: NormalizeReleaseDate(cleanText(a.Text()))}
		a.NextUntil("a.time").Each(func(_ int, sib *goquery.Selection) {
			switch {
			case sib.Is("small"):
				if txt := cleanText(sib.Text()); txt != "" {
					rel.Event = cleanText(strings.TrimPrefix(txt, "As "))
				}
			case sib.Is(".item-price"):
				rel.Price = cleanText(sib.Text())
			case sib.Is(".item-barcode"):
				rel.Barcode = cleanText(sib.Text())
			}
		})
		out = append(out, rel)
	})
	return out
}

// manufacturerOf picks the convenience manufacturer field: the first company
// in a manufacturer role, or the sole company when roles are missing.
func manufacturerOf(companies []types.Company) string {
	for _, c := range companies {
		if strings.Contains(strings.ToLower(c.Role), "manufacturer") {
			return c.Name
		}
	}
	if len(companies) == 1 {
		return companies[0].Name
	}
	return ""
}

// NormalizeReleaseDate converts the site's US-order date spellings to ISO
// order at the same precision: "12/31/2024" becomes "2024-12-31", "08/2014"
// becomes "2014-08". Bare years pass through; anything unparsable ("TBA")
// is returned as printed.
func NormalizeReleaseDate(s string) string {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, "/")
	switch len(parts) {
	case 3:
		if isYear(parts[2]) && isMonthDay(parts[0]) && isMonthDay(parts[1]) {
			return parts[2] + "-" + pad2(parts[0]) + "-" + pad2(parts[1])
		}
	case 2:
		if isYear(parts[1]) && isMonthDay(parts[0]) {
			return parts[1] + "-" + pad2(parts[0])
		}
	}
	return s
}

func isYear(s string) bool {
	if len(s) != 4 {
		return false
	}
	return digitsOnly(s)
}

func isMonthDay(s string) bool {
	if len(s) == 0 || len(s) > 2 {
		return false
	}
	return digitsOnly(s)
}

func digitsOnly(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func pad2(s string) string {
	if len(s) == 1 {
		return "0" + s
	}
	return s
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func anchorTexts(sel *goquery.Selection) []string {
	var out []string
	sel.Find("a").Each(func(_ int, a *goquery.Selection) {
		if txt := cleanText(a.Text()); txt != "" {
			out = append(out, txt)
		}
	})
	return out
}
