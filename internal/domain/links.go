package domain

import (
	"net/url"
	"strings"
)

// regionStores maps a country code to its catalog B storefront.
var regionStores = map[string]string{
	"us": "audible.com",
	"uk": "audible.co.uk",
	"gb": "audible.co.uk",
	"de": "audible.de",
	"fr": "audible.fr",
	"au": "audible.com.au",
	"ca": "audible.ca",
	"in": "audible.in",
	"it": "audible.it",
	"jp": "audible.co.jp",
	"es": "audible.es",
}

// StoreForCountry returns the storefront host of a country, audible.com when unknown.
func StoreForCountry(country string) string {
	if store, ok := regionStores[strings.ToLower(strings.TrimSpace(country))]; ok {
		return store
	}
	return "audible.com"
}

// PurchaseLink builds the product page URL of a catalog B id in the
// storefront of country. The affiliate tag is appended when non-empty.
func PurchaseLink(catalogBID, country, affiliateTag string) string {
	if catalogBID == "" {
		return ""
	}
	u := url.URL{
		Scheme: "https",
		Host:   "www." + StoreForCountry(country),
		Path:   "/pd/" + catalogBID,
	}
	if affiliateTag != "" {
		u.RawQuery = url.Values{"tag": {affiliateTag}}.Encode()
	}
	return u.String()
}
