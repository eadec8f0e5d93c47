package export

import (
	"fmt"
	"strings"
)

const maxSlugLen = 100

// Slugify turns a source into a safe file name stem. Characters outside
// [A-Za-z0-9._-] become "_", runs of "_" collapse to one, and the result
// is trimmed and capped at 100 characters.
func Slugify(source string) string {
	var b strings.Builder
	b.Grow(len(source))
	lastUnderscore := false
	for _, r := range source {
		ok := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') ||
			r == '.' || r == '_' || r == '-'
		if !ok || r == '_' {
			if !lastUnderscore {
				b.WriteByte('_')
			}
			lastUnderscore = true
			continue
		}
		b.WriteRune(r)
		lastUnderscore = false
	}

	slug := strings.Trim(b.String(), "_.-")
	if len(slug) > maxSlugLen {
		slug = strings.TrimRight(slug[:maxSlugLen], "_.-")
	}
	if slug == "" {
		slug = "image"
	}
	return slug
}

// SlugRegistry hands out slugs that are unique within one run
type SlugRegistry struct {
	used map[string]bool
}

// NewSlugRegistry creates an empty registry for one run
func NewSlugRegistry() *SlugRegistry {
	return &SlugRegistry{used: make(map[string]bool)}
}

// Unique returns Slugify(source), suffixed -2, -3, ... on collision
func (r *SlugRegistry) Unique(source string) string {
	base := Slugify(source)
	slug := base
	for n := 2; r.used[slug]; n++ {
		slug = fmt.Sprintf("%s-%d", base, n)
	}
	r.used[slug] = true
	return slug
}
