package models

import "slices"

// Locale identifies an auction market.
type Locale string

const (
	LocaleEnUS Locale = "en-US"
	LocaleEnGB Locale = "en-GB"
	LocaleDeDE Locale = "de-DE"
	LocaleFrFR Locale = "fr-FR"
	LocaleEsES Locale = "es-ES"
)

// Placement identifies the surface a boost is shown on.
type Placement string

const (
	PlacementDiscover Placement = "discover"
	PlacementNearby   Placement = "nearby"
)

// SupportedLocales is the closed set of locales that run boost auctions.
var SupportedLocales = []Locale{
	LocaleEnUS,
	LocaleEnGB,
	LocaleDeDE,
	LocaleFrFR,
	LocaleEsES,
}

// SupportedPlacements is the closed set of placements that run boost auctions.
var SupportedPlacements = []Placement{
	PlacementDiscover,
	PlacementNearby,
}

// Supported reports whether the locale is part of the auction catalog.
func (l Locale) Supported() bool {
	return slices.Contains(SupportedLocales, l)
}

// Supported reports whether the placement is part of the auction catalog.
func (p Placement) Supported() bool {
	return slices.Contains(SupportedPlacements, p)
}
