package model

import "strings"

// Locale enumerates the four content languages.
type Locale string

const (
	LocaleUZL Locale = "UZL" // Uzbek, Latin script
	LocaleUZC Locale = "UZC" // Uzbek, Cyrillic script
	LocaleRU  Locale = "RU"
	LocaleEN  Locale = "EN"
)

// DefaultLocale is returned whenever a locale signal cannot be resolved.
const DefaultLocale = LocaleUZL

// Locales lists every supported locale in slot order.
var Locales = []Locale{LocaleUZL, LocaleUZC, LocaleRU, LocaleEN}

type localeInfo struct {
	displayName string
	suffix      string
}

var localeTable = map[Locale]localeInfo{
	LocaleUZL: {displayName: "O'zbekcha", suffix: "uzl"},
	LocaleUZC: {displayName: "Ўзбекча", suffix: "uzc"},
	LocaleRU:  {displayName: "Русский", suffix: "ru"},
	LocaleEN:  {displayName: "English", suffix: "en"},
}

// localeAliases maps normalized signals (lower case, '-' separated) to a locale.
var localeAliases = map[string]Locale{
	"uzl":     LocaleUZL,
	"uz-latn": LocaleUZL,
	"uzbek":   LocaleUZL,
	"uzc":     LocaleUZC,
	"uz-cyrl": LocaleUZC,
	"ru":      LocaleRU,
	"ru-ru":   LocaleRU,
	"rus":     LocaleRU,
	"russian": LocaleRU,
	"en":      LocaleEN,
	"en-us":   LocaleEN,
	"eng":     LocaleEN,
	"english": LocaleEN,
}

// DisplayName returns the locale's self-name, e.g. "Русский".
func (l Locale) DisplayName() string {
	return localeTable[l].displayName
}

// Suffix returns the column suffix used by the content tables (question_text_ru, ...).
func (l Locale) Suffix() string {
	return localeTable[l].suffix
}

// Valid reports whether l is one of the four supported locales.
func (l Locale) Valid() bool {
	_, ok := localeTable[l]
	return ok
}

// ResolveLocale maps a raw locale signal to a Locale. It never fails:
// blank or unrecognized input yields DefaultLocale.
func ResolveLocale(signal string) Locale {
	norm := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(signal)), "_", "-")
	if norm == "" {
		return DefaultLocale
	}

	if l, ok := localeAliases[norm]; ok {
		return l
	}

	for _, l := range Locales {
		if strings.EqualFold(strings.TrimSpace(signal), l.DisplayName()) {
			return l
		}
	}

	return DefaultLocale
}

// ResolveAcceptLanguage resolves the first tag of an Accept-Language style
// header ("ru-RU,ru;q=0.9,en;q=0.8"). Tags that do not resolve are skipped.
func ResolveAcceptLanguage(header string) (Locale, bool) {
	for _, part := range strings.Split(header, ",") {
		tag := strings.TrimSpace(part)
		if semi := strings.Index(tag, ";"); semi >= 0 {
			tag = strings.TrimSpace(tag[:semi])
		}
		if tag == "" || tag == "*" {
			continue
		}
		norm := strings.ReplaceAll(strings.ToLower(tag), "_", "-")
		if l, ok := localeAliases[norm]; ok {
			return l, true
		}
		// "uz-Cyrl-UZ" keeps its script before the region is dropped.
		subtags := strings.Split(norm, "-")
		if len(subtags) > 2 {
			if l, ok := localeAliases[subtags[0]+"-"+subtags[1]]; ok {
				return l, true
			}
		}
		// "ru-KZ" still means Russian; "uz" alone is Latin script.
		norm = subtags[0]
		if norm == "uz" {
			return LocaleUZL, true
		}
		if l, ok := localeAliases[norm]; ok {
			return l, true
		}
	}
	return DefaultLocale, false
}
