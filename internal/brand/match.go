// Package brand cleans OCR text and matches it against an ordered list of
// known beverage brands.
package brand

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// DefaultBrands is used when no catalog is configured. Order is match
// priority.
var DefaultBrands = []string{
	"Coca-Cola", "Coke", "Pepsi", "Fanta", "Sprite", "Dr Pepper",
	"Mountain Dew", "7UP", "Lipton", "Nestea", "Gatorade",
	"Powerade", "Red Bull", "Monster", "Evian", "Volvic",
	"Dasani", "Aquafina", "Perrier", "San Pellegrino",
	"Heineken", "Guinness", "Corona", "Budweiser", "Carlsberg",
}

var (
	noise      = regexp.MustCompile(`[^a-zA-Z0-9\s.,-]`)
	whitespace = regexp.MustCompile(`\s+`)
)

// List is the set of brands to match against. The zero value uses
// DefaultBrands.
type List struct {
	names []string
}

// UseDefault matches against DefaultBrands
func UseDefault() List {
	return List{}
}

// Brands matches against names in the given order. With no names it falls
// back to DefaultBrands.
func Brands(names ...string) List {
	return List{names: append([]string(nil), names...)}
}

// IsDefault reports whether the list resolves to DefaultBrands
func (l List) IsDefault() bool {
	return len(l.names) == 0
}

// Names returns the brands in priority order
func (l List) Names() []string {
	if l.IsDefault() {
		return DefaultBrands
	}
	return l.names
}

// Result is the outcome of matching OCR text against a List.
// IdentifiedBrand is nil when nothing matched; it is then up to the caller to
// ask the user for the brand.
type Result struct {
	CleanedText     string  `json:"cleaned_text"`
	IdentifiedBrand *string `json:"identified_brand"`
}

// Matched reports whether a brand was identified
func (r Result) Matched() bool {
	return r.IdentifiedBrand != nil
}

// Match cleans rawText and returns the first brand in list order that
// appears in it, case-insensitively. The brand is returned exactly as spelled
// in the list.
func Match(rawText string, brands List) Result {
	cleaned := Clean(rawText)
	if cleaned == "" {
		return Result{}
	}

	lower := strings.ToLower(cleaned)
	for _, name := range brands.Names() {
		if strings.TrimSpace(name) == "" {
			// an empty name is a substring of everything
			continue
		}
		if strings.Contains(lower, strings.ToLower(name)) {
			found := name
			return Result{CleanedText: cleaned, IdentifiedBrand: &found}
		}
	}
	return Result{CleanedText: cleaned}
}

// Clean folds accented letters to ASCII, drops everything except letters,
// digits, whitespace, periods, commas and hyphens, collapses whitespace and
// trims. Clean(Clean(s)) == Clean(s).
func Clean(s string) string {
	s = foldAccents(s)
	s = strings.Map(spaceToASCII, s)
	s = noise.ReplaceAllString(s, "")
	s = whitespace.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// spaceToASCII turns every Unicode space (NBSP, em space, vertical tab)
// into a plain space so noise removal keeps it as a word break.
func spaceToASCII(r rune) rune {
	if unicode.IsSpace(r) {
		return ' '
	}
	return r
}

func foldAccents(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return folded
}
