package model

// LocalizedText holds one text in all four content locales.
// Values are immutable; build them with NewLocalizedText.
type LocalizedText struct {
	UZL string `json:"uzl"`
	UZC string `json:"uzc"`
	RU  string `json:"ru"`
	EN  string `json:"en"`
}

// NewLocalizedText builds a LocalizedText where every omitted (nil or empty)
// translation falls back to the primary Latin-script text.
func NewLocalizedText(primary string, uzc, ru, en *string) LocalizedText {
	pick := func(v *string) string {
		if v == nil || *v == "" {
			return primary
		}
		return *v
	}
	return LocalizedText{
		UZL: primary,
		UZC: pick(uzc),
		RU:  pick(ru),
		EN:  pick(en),
	}
}

// Get projects the text for one locale, falling back to the primary slot.
func (t LocalizedText) Get(l Locale) string {
	var v string
	switch l {
	case LocaleUZC:
		v = t.UZC
	case LocaleRU:
		v = t.RU
	case LocaleEN:
		v = t.EN
	default:
		v = t.UZL
	}
	if v == "" {
		return t.UZL
	}
	return v
}

// IsZero reports whether no slot carries text.
func (t LocalizedText) IsZero() bool {
	return t == LocalizedText{}
}
