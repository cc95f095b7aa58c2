package catalog

import (
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
)

// Card is one image in a version set. ID is "<version>::<name>".
type Card struct {
	ID      string `json:"id"`
	Version string `json:"version"`
	Name    string `json:"name"`
	RelPath string `json:"-"`
}

// Catalog is built once at startup from the image root and treated as
// read-only afterwards.
type Catalog struct {
	versions  []string
	byVersion map[string][]Card
	byID      map[string]Card
	all       []Card
}

func MakeCardID(version, name string) string {
	return version + "::" + name
}

func hasImageExt(name string) bool {
	lower := strings.ToLower(name)
	for _, ext := range []string{".png", ".jpg", ".jpeg", ".webp"} {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

func trimImageExt(name string) string {
	lower := strings.ToLower(name)
	for _, ext := range []string{".png", ".jpg", ".jpeg", ".webp"} {
		if strings.HasSuffix(lower, ext) {
			return name[:len(name)-len(ext)]
		}
	}
	return name
}

// Scan enumerates root/<version>/<file> and builds the catalog.
// A missing root is not an error: it yields an empty catalog, and room
// creation fails against that later with ErrNoVersions.
func Scan(root string) (*Catalog, error) {
	c := &Catalog{
		byVersion: make(map[string][]Card),
		byID:      make(map[string]Card),
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return nil, err
	}

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		version := e.Name()

		files, err := os.ReadDir(root + "/" + version)
		if err != nil {
			continue
		}

		var cards []Card
		for _, f := range files {
			if f.IsDir() || !hasImageExt(f.Name()) {
				continue
			}
			name := trimImageExt(f.Name())
			cards = append(cards, Card{
				ID:      MakeCardID(version, name),
				Version: version,
				Name:    name,
				RelPath: version + "/" + f.Name(),
			})
		}
		sort.Slice(cards, func(i, j int) bool { return cards[i].Name < cards[j].Name })

		c.versions = append(c.versions, version)
		c.byVersion[version] = cards
		for _, card := range cards {
			c.byID[card.ID] = card
		}
		c.all = append(c.all, cards...)
	}
	sort.Strings(c.versions)

	return c, nil
}

func (c *Catalog) Versions() []string {
	return append([]string(nil), c.versions...)
}

func (c *Catalog) HasVersion(version string) bool {
	_, ok := c.byVersion[version]
	return ok
}

// CardsFor returns the pool for a version, falling back to every card
// when the version is unknown (compat behaviour, kept deliberately).
func (c *Catalog) CardsFor(version string) []Card {
	if cards, ok := c.byVersion[version]; ok {
		return cards
	}
	return c.all
}

func (c *Catalog) CardByID(id string) (Card, bool) {
	card, ok := c.byID[id]
	return card, ok
}

// Resolver builds absolute image URLs for cards. Image URLs are always
// serialized fully resolved so clients never have to guess the host,
// including the ones pushed over the websocket with no request around.
type Resolver struct {
	// PublicBaseURL pins the scheme+host (e.g. behind a CDN). When empty
	// the request's forwarded headers are used instead.
	PublicBaseURL string

	// LocalBaseURL is the last resort when there is no request to derive
	// a host from, typically the server's own listen address.
	LocalBaseURL string
}

const defaultLocalBaseURL = "http://localhost:4000"

func (rv Resolver) ImageURL(r *http.Request, relPath string) string {
	safeRel := "/images/" + encodePathSegments(relPath)

	if rv.PublicBaseURL != "" {
		return strings.TrimRight(rv.PublicBaseURL, "/") + safeRel
	}
	if r == nil {
		base := rv.LocalBaseURL
		if base == "" {
			base = defaultLocalBaseURL
		}
		return strings.TrimRight(base, "/") + safeRel
	}

	proto := r.Header.Get("X-Forwarded-Proto")
	if proto == "" {
		if r.TLS != nil {
			proto = "https"
		} else {
			proto = "http"
		}
	}
	host := r.Header.Get("X-Forwarded-Host")
	if host == "" {
		host = r.Host
	}
	return proto + "://" + host + safeRel
}

func encodePathSegments(relPath string) string {
	segs := strings.Split(relPath, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return strings.Join(segs, "/")
}
