// Package cachettl computes how long a scraped record stays fresh.
//
// Frequently-changing items (unreleased or just released) expire quickly;
// items years past release barely change and keep long TTLs. Everything
// here is a pure function of the release date string and a clock value, so
// the downstream sync layer can reuse it without touching scraper state.
package cachettl

import "time"

// Category buckets a record by its release date relative to now.
type Category string

const (
	CategoryFuture      Category = "future"
	CategoryRecent      Category = "recent"
	CategoryCurrentYear Category = "current_year"
	CategoryEstablished Category = "established"
	CategoryLegacy      Category = "legacy"
	CategoryUnknown     Category = "unknown"
)

// Category boundary windows.
const (
	recentWindow      = 90 * 24 * time.Hour  // released within the last quarter
	establishedWindow = 730 * 24 * time.Hour // released within two years
)

// TTL per category, in days.
var categoryTTLDays = map[Category]int{
	CategoryFuture:      7,
	CategoryRecent:      14,
	CategoryCurrentYear: 30,
	CategoryEstablished: 60,
	CategoryLegacy:      90,
	CategoryUnknown:     90,
}

// releaseDateFormats lists the accepted layouts, most specific first.
// Month and year precision resolve to the first day of the period.
var releaseDateFormats = []string{
	"2006-01-02",
	"2006-01",
	"2006",
}

// ParseReleaseDate parses a release date string at day, month, or year
// precision. The second return is false for anything unparseable ("TBA",
// empty, free text), which callers treat as the unknown category.
func ParseReleaseDate(s string) (time.Time, bool) {
	for _, layout := range releaseDateFormats {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Categorize buckets a release date string relative to now. It is total:
// every input maps to exactly one category.
func Categorize(release string, now time.Time) Category {
	t, ok := ParseReleaseDate(release)
	if !ok {
		return CategoryUnknown
	}
	switch {
	case t.After(now):
		return CategoryFuture
	case now.Sub(t) <= recentWindow:
		return CategoryRecent
	case t.Year() == now.Year():
		return CategoryCurrentYear
	case now.Sub(t) <= establishedWindow:
		return CategoryEstablished
	default:
		return CategoryLegacy
	}
}

// TTL returns the cache lifetime for a category. Unrecognized categories
// get the unknown TTL.
func TTL(c Category) time.Duration {
	days, ok := categoryTTLDays[c]
	if !ok {
		days = categoryTTLDays[CategoryUnknown]
	}
	return time.Duration(days) * 24 * time.Hour
}

// IsCacheValid reports whether a record cached at cachedAt is still fresh
// for an item with the given release date: true iff now-cachedAt is under
// the category TTL.
func IsCacheValid(cachedAt time.Time, release string, now time.Time) bool {
	return now.Sub(cachedAt) < TTL(Categorize(release, now))
}
