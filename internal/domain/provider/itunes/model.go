package itunes

import (
	"errors"
	"regexp"
	"strings"

	"audiobook-feed/internal/domain"
	"audiobook-feed/internal/domain/provider/remote"
)

// searchResponse is the envelope of both /search and /lookup.
type searchResponse struct {
	ResultCount *int    `json:"resultCount"`
	Results     []entry `json:"results"`
}

// Validate rejects bodies that are not a search envelope.
func (r *searchResponse) Validate() error {
	if r.ResultCount == nil || r.Results == nil {
		return errors.New("missing resultCount or results")
	}
	return nil
}

// entry is one audiobook result.
type entry struct {
	WrapperType            string `json:"wrapperType"`
	CollectionID           int64  `json:"collectionId"`
	CollectionName         string `json:"collectionName"`
	CollectionCensoredName string `json:"collectionCensoredName"`
	ArtistName             string `json:"artistName"`
	CollectionViewURL      string `json:"collectionViewUrl"`
	PreviewURL             string `json:"previewUrl"`
	ArtworkURL100          string `json:"artworkUrl100"`
	ArtworkURL60           string `json:"artworkUrl60"`
	PrimaryGenreName       string `json:"primaryGenreName"`
	ReleaseDate            string `json:"releaseDate"`
	Description            string `json:"description"`
	CollectionExplicitness string `json:"collectionExplicitness"`
}

var (
	unabridgedPattern = regexp.MustCompile(`(?i)\s*[\(\[\{]\s*unabridged\s*[\)\]\}]\s*`)
	artworkSize       = regexp.MustCompile(`/\d+x\d+(bb)?\.(jpg|png)$`)
)

// splitTitle removes "(Unabridged)" markers and splits "Title: Subtitle".
func splitTitle(raw string) (title, subtitle string) {
	cleaned := strings.TrimSpace(unabridgedPattern.ReplaceAllString(raw, " "))
	cleaned = strings.Join(strings.Fields(cleaned), " ")
	if i := strings.Index(cleaned, ":"); i > 0 {
		title = strings.TrimSpace(cleaned[:i])
		subtitle = strings.TrimSpace(cleaned[i+1:])
		if title != "" {
			return title, subtitle
		}
	}
	return cleaned, ""
}

// upgradeArtwork rewrites a thumbnail URL to the 600x600 rendition.
func upgradeArtwork(raw string) string {
	if raw == "" {
		return ""
	}
	return artworkSize.ReplaceAllString(raw, "/600x600bb.$2")
}

func (e entry) toRecord() domain.Record {
	name := e.CollectionName
	if name == "" {
		name = e.CollectionCensoredName
	}
	title, subtitle := splitTitle(name)

	artwork := e.ArtworkURL100
	if artwork == "" {
		artwork = e.ArtworkURL60
	}

	return domain.Record{
		CatalogAID:  e.CollectionID,
		Title:       title,
		Subtitle:    subtitle,
		Authors:     domain.NewStringSet(e.ArtistName),
		Genre:       e.PrimaryGenreName,
		Genres:      domain.NewStringSet(e.PrimaryGenreName),
		CoverURL:    upgradeArtwork(artwork),
		SampleURL:   e.PreviewURL,
		CatalogAURL: e.CollectionViewURL,
		Description: remote.HTMLToText(e.Description),
		ReleaseDate: e.ReleaseDate,
		Explicit:    e.CollectionExplicitness == "explicit",
		Source:      ID,
	}
}
