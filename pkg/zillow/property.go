package zillow

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

// Property is one search result. The scraped payload is loosely typed:
// numbers arrive as numbers or as display strings like "1,010 sqft", and
// the address is sometimes a string and sometimes an object.
type Property struct {
	ID               string     `json:"id"`
	Zpid             FlexString `json:"zpid"`
	Address          Address    `json:"address"`
	Price            FlexString `json:"price"`
	UnformattedPrice float64    `json:"unformattedPrice"`
	Beds             FlexNumber `json:"beds"`
	Baths            FlexNumber `json:"baths"`
	LivingArea       FlexString `json:"livingArea"`
	Area             FlexString `json:"area"`
	DaysOnZillow     FlexString `json:"daysOnZillow"`
	ImgSrc           string     `json:"imgSrc"`
	HiResImageLink   string     `json:"hiResImageLink"`
	DetailURL        string     `json:"detailUrl"`
	HomeType         string     `json:"homeType"`
	StatusText       string     `json:"statusText"`
}

// FlexString decodes a JSON string, number, or null into a string.
type FlexString string

func (f *FlexString) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" {
		*f = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err == nil {
		*f = FlexString(n.String())
		return nil
	}
	*f = FlexString(trimmed)
	return nil
}

func (f FlexString) String() string { return string(f) }

// FlexNumber decodes a JSON number, numeric string, or null into a float.
// Zero with OK false means the value was absent or unparsable.
type FlexNumber struct {
	Value float64
	OK    bool
}

func (f *FlexNumber) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" {
		return nil
	}
	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		f.Value, f.OK = n, true
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if v, perr := parseFloat(s); perr == nil {
			f.Value, f.OK = v, true
		}
	}
	return nil
}

// Address decodes either a plain string or the structured form
// {"street", "city", "state", "zipcode"}.
type Address struct {
	Street  string `json:"street"`
	City    string `json:"city"`
	State   string `json:"state"`
	Zipcode string `json:"zipcode"`

	raw string
}

func (a *Address) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		a.raw = s
		return nil
	}
	type plain Address
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*a = Address(p)
	return nil
}

// String joins the address parts into a single display line.
func (a Address) String() string {
	if a.raw != "" {
		return a.raw
	}
	parts := make([]string, 0, 4)
	for _, p := range []string{a.Street, a.City, a.State, a.Zipcode} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

// PriceValue prefers the numeric unformattedPrice field and falls back to
// parsing the display price ("$450,000").
func (p Property) PriceValue() (float64, bool) {
	if p.UnformattedPrice > 0 {
		return p.UnformattedPrice, true
	}
	if v, err := parseFloat(p.Price.String()); err == nil && v > 0 {
		return v, true
	}
	return 0, false
}

// SqftValue parses livingArea or area, whichever is present, tolerating
// display strings like "1,010 sqft".
func (p Property) SqftValue() (int, bool) {
	for _, raw := range []string{p.LivingArea.String(), p.Area.String()} {
		if v, ok := parseLeadingInt(raw); ok {
			return v, true
		}
	}
	return 0, false
}

// DaysOnMarket parses daysOnZillow, tolerating strings like "1 day".
func (p Property) DaysOnMarket() (int, bool) {
	return parseLeadingInt(p.DaysOnZillow.String())
}

// ListingURL returns an absolute detail URL; the API sometimes returns a
// path relative to zillow.com.
func (p Property) ListingURL() string {
	u := p.DetailURL
	if u == "" {
		return ""
	}
	if strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://") {
		return u
	}
	if !strings.HasPrefix(u, "/") {
		u = "/" + u
	}
	return "https://www.zillow.com" + u
}

// NormalizedHomeType lowercases the Zillow enum and replaces underscores,
// so SINGLE_FAMILY becomes "single family".
func (p Property) NormalizedHomeType() string {
	return strings.ReplaceAll(strings.ToLower(p.HomeType), "_", " ")
}

// ExternalID returns the stable identifier for dedup, preferring zpid.
func (p Property) ExternalID() string {
	if z := p.Zpid.String(); z != "" {
		return z
	}
	return p.ID
}

// ImageURL prefers the high resolution image when present.
func (p Property) ImageURL() string {
	if p.HiResImageLink != "" {
		return p.HiResImageLink
	}
	return p.ImgSrc
}

var leadingIntRe = regexp.MustCompile(`[\d,]+`)

func parseLeadingInt(raw string) (int, bool) {
	m := leadingIntRe.FindString(raw)
	if m == "" {
		return 0, false
	}
	v, err := strconv.Atoi(strings.ReplaceAll(m, ",", ""))
	if err != nil {
		return 0, false
	}
	return v, true
}

func parseFloat(raw string) (float64, error) {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, "$")
	cleaned = strings.ReplaceAll(cleaned, ",", "")
	return strconv.ParseFloat(cleaned, 64)
}
