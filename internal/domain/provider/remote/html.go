package remote

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var lineBreaks = strings.NewReplacer("<br>", "\n", "<br/>", "\n", "<br />", "\n", "</p>", "</p>\n")

// HTMLToText converts a catalog description fragment to plain text, keeping
// line breaks and paragraph ends as newlines.
func HTMLToText(fragment string) string {
	if !strings.ContainsAny(fragment, "<&") {
		return strings.TrimSpace(fragment)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(lineBreaks.Replace(fragment)))
	if err != nil {
		return strings.TrimSpace(fragment)
	}
	lines := strings.Split(doc.Text(), "\n")
	out := lines[:0]
	for _, l := range lines {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}
