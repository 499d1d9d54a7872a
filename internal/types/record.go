package types

// Record is the structured result of scraping one item page. Every field is
// optional: sub-extractor failures leave their fields zero and the record is
// still delivered to subscribers.
type Record struct {
	Fingerprint string `json:"fingerprint"`
	URL         string `json:"url"`

	Name         string `json:"name,omitempty"`
	ImageURL     string `json:"imageUrl,omitempty"`
	Manufacturer string `json:"manufacturer,omitempty"`
	Scale        string `json:"scale,omitempty"`
	Origin       string `json:"origin,omitempty"`

	Characters []string  `json:"characters,omitempty"`
	Companies  []Company `json:"companies,omitempty"`
	Artists    []string  `json:"artists,omitempty"`
	Releases   []Release `json:"releases,omitempty"`

	// Fields holds labelled values from the item details table that have no
	// dedicated field (version, material, dimensions, JAN and the like).
	Fields map[string]string `json:"fields,omitempty"`

	// ScrapedAt is the completion time in unix milliseconds.
	ScrapedAt int64 `json:"scrapedAt"`
}

// Company is a company credit with its role on the item page
// (Manufacturer, Distributor, ...).
type Company struct {
	Name string `json:"name"`
	Role string `json:"role,omitempty"`
}

// Release is one release line: an item can have several (original run,
// re-releases, event editions).
type Release struct {
	Date    string `json:"date,omitempty"` // as printed: "2024-12", "2024-12-01" or "TBA"
	Price   string `json:"price,omitempty"`
	Barcode string `json:"barcode,omitempty"`
	Event   string `json:"event,omitempty"`
}

// PrimaryReleaseDate returns the first release date string, or empty when no
// release is known. Cache-TTL categorisation keys off this value.
func (r *Record) PrimaryReleaseDate() string {
	if len(r.Releases) == 0 {
		return ""
	}
	return r.Releases[0].Date
}
