package audimeta

import (
	"errors"
	"strings"

	"audiobook-feed/internal/domain"
	"audiobook-feed/internal/domain/provider/remote"
)

type person struct {
	ASIN string `json:"asin"`
	Name string `json:"name"`
}

type genre struct {
	ASIN string `json:"asin"`
	Name string `json:"name"`
	Type string `json:"type"`
}

type series struct {
	ASIN     string `json:"asin"`
	Name     string `json:"name"`
	Position string `json:"position"`
}

// book is one catalog B product.
type book struct {
	ASIN          string   `json:"asin"`
	Title         string   `json:"title"`
	Subtitle      string   `json:"subtitle"`
	Authors       []person `json:"authors"`
	Narrators     []person `json:"narrators"`
	Publisher     string   `json:"publisher"`
	Description   string   `json:"description"`
	Summary       string   `json:"summary"`
	ImageURL      string   `json:"imageUrl"`
	Link          string   `json:"link"`
	Genres        []genre  `json:"genres"`
	Series        []series `json:"series"`
	ReleaseDate   string   `json:"releaseDate"`
	Language      string   `json:"language"`
	Region        string   `json:"region"`
	Explicit      bool     `json:"explicit"`
	IsListenable  bool     `json:"isListenable"`
	LengthMinutes int      `json:"lengthMinutes"`
}

// Validate rejects lookup bodies without a product identity.
func (b *book) Validate() error {
	if strings.TrimSpace(b.ASIN) == "" {
		return errors.New("missing asin")
	}
	return nil
}

// searchResponse is the bare array returned by /search.
type searchResponse []book

// Validate rejects a null body.
func (r *searchResponse) Validate() error {
	if *r == nil {
		return errors.New("expected a JSON array")
	}
	return nil
}

// playable reports whether the product can be listened to and shown.
func (b book) playable() bool {
	return b.IsListenable && b.ImageURL != ""
}

func (b book) toRecord(country, affiliateTag string) domain.Record {
	authors := make([]string, 0, len(b.Authors))
	for _, a := range b.Authors {
		authors = append(authors, a.Name)
	}
	narrators := make([]string, 0, len(b.Narrators))
	for _, n := range b.Narrators {
		narrators = append(narrators, n.Name)
	}

	var genres []string
	for _, g := range b.Genres {
		if g.Name != "" {
			genres = append(genres, g.Name)
		}
	}
	var primaryGenre string
	if len(genres) > 0 {
		primaryGenre = genres[0]
	}

	var ss domain.SeriesSet
	for _, s := range b.Series {
		name := s.Name
		if name == "" {
			name = "Unknown"
		}
		ss = ss.Union(domain.SeriesSet{{Name: name, Position: s.Position}})
	}

	region := strings.ToLower(b.Region)
	if region == "" {
		region = country
	}

	purchase := b.Link
	if purchase == "" {
		purchase = domain.PurchaseLink(b.ASIN, region, affiliateTag)
	}

	return domain.Record{
		CatalogBID:  b.ASIN,
		Title:       strings.TrimSpace(b.Title),
		Subtitle:    strings.TrimSpace(b.Subtitle),
		Authors:     domain.NewStringSet(authors...),
		Narrators:   domain.NewStringSet(narrators...),
		Publisher:   b.Publisher,
		Genre:       primaryGenre,
		Genres:      domain.NewStringSet(genres...),
		Series:      ss,
		CoverURL:    b.ImageURL,
		PurchaseURL: purchase,
		Description: remote.HTMLToText(b.Description),
		Summary:     remote.HTMLToText(b.Summary),
		ReleaseDate: b.ReleaseDate,
		Language:    b.Language,
		Region:      region,
		Explicit:    b.Explicit,
		Source:      ID,
	}
}
