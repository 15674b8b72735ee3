// Package relevance decides whether a listing title belongs to the tracked
// hobby and which brand it names.
package relevance

import "strings"

// Filter is a case-insensitive allow/deny keyword predicate. Deny terms win.
type Filter struct {
	allow []string
	deny  []string
}

func New(allow, deny []string) *Filter {
	return &Filter{allow: normalize(allow), deny: normalize(deny)}
}

func (f *Filter) IsRelevant(title string) bool {
	t := strings.ToLower(title)
	if t == "" {
		return false
	}
	for _, d := range f.deny {
		if strings.Contains(t, d) {
			return false
		}
	}
	for _, a := range f.allow {
		if strings.Contains(t, a) {
			return true
		}
	}
	return false
}

// Brand is a label plus the title keywords that identify it.
type Brand struct {
	Name     string   `yaml:"name"`
	Keywords []string `yaml:"keywords"`
}

const OtherBrand = "Other"

// Brands labels titles by the first brand whose keyword they contain.
type Brands struct {
	brands []Brand
}

func NewBrands(brands []Brand) *Brands {
	out := make([]Brand, 0, len(brands))
	for _, b := range brands {
		kw := normalize(b.Keywords)
		if len(kw) == 0 {
			kw = normalize([]string{b.Name})
		}
		out = append(out, Brand{Name: b.Name, Keywords: kw})
	}
	return &Brands{brands: out}
}

func (b *Brands) Label(title string) string {
	t := strings.ToLower(title)
	for _, br := range b.brands {
		for _, k := range br.Keywords {
			if strings.Contains(t, k) {
				return br.Name
			}
		}
	}
	return OtherBrand
}

func normalize(terms []string) []string {
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}
