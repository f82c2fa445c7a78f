package counterparty

import (
	"strings"
	"unicode"
)

// Patronymic particles that follow the patronymic in Turkic names and
// never become an initial.
var patronymicParticles = map[string]bool{
	"оглы": true,
	"кызы": true,
	"углы": true,
	"кизы": true,
}

// ShortName renders "Surname Name Patronymic" as "N.P. Surname". A leading
// "ИП " is ignored. Single-word input is returned as is.
func ShortName(full string) string {
	s := strings.TrimSpace(full)
	if strings.HasPrefix(s, SoleProprietorMark+" ") {
		s = strings.TrimSpace(strings.TrimPrefix(s, SoleProprietorMark+" "))
	}
	parts := strings.Fields(s)
	if len(parts) < 2 {
		return s
	}

	var initials strings.Builder
	for _, p := range parts[1:] {
		if patronymicParticles[strings.ToLower(p)] {
			continue
		}
		r := []rune(p)
		initials.WriteRune(unicode.ToUpper(r[0]))
		initials.WriteByte('.')
	}
	if initials.Len() == 0 {
		return parts[0]
	}
	return initials.String() + " " + parts[0]
}

// CanonicalTitle maps the free-text position returned by the registry
// lookup onto the spelling used in agreements.
func CanonicalTitle(title string) string {
	t := strings.TrimSpace(title)
	if t == "" {
		return ""
	}
	lower := strings.ToLower(t)
	switch {
	case strings.Contains(lower, "генераль") && strings.Contains(lower, "директор"):
		return "Генеральный директор"
	case strings.Contains(lower, "директор"):
		return "Директор"
	}
	r := []rune(lower)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}

// SafeFileName makes a display name usable as a file name: path-hostile
// characters become spaces, runs of whitespace collapse, and the result is
// cut to maxFileNameRunes.
func SafeFileName(name string) string {
	const maxFileNameRunes = 140
	s := strings.Map(func(r rune) rune {
		switch r {
		case '\\', '/', ':', '*', '?', '"', '<', '>', '|', '\r', '\n', '\t':
			return ' '
		}
		return r
	}, name)
	s = strings.Join(strings.Fields(s), " ")
	s = strings.Trim(s, " .")
	if r := []rune(s); len(r) > maxFileNameRunes {
		s = strings.TrimRight(string(r[:maxFileNameRunes]), " .")
	}
	if s == "" {
		return "counterparty"
	}
	return s
}
