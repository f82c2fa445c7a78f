package focus

import (
	"sort"
	"strings"

	"github.com/dusk-indust/edoagree/internal/counterparty"
)

// The lookup API returns loosely shaped JSON: a list holding one object with
// either a "UL" (organization) or an "IP" (sole proprietor) section. Field
// names vary between endpoints, so extraction walks plain maps.

var (
	titleKeys = []string{"position", "post", "role"}
	nameKeys  = []string{"fio", "name", "fullName"}
)

// firstRecord unwraps the one-element list the API answers with.
func firstRecord(v any) map[string]any {
	if list, ok := v.([]any); ok {
		if len(list) == 0 {
			return nil
		}
		v = list[0]
	}
	m, _ := v.(map[string]any)
	return m
}

// extractRecord reads the representative from the top-level sections only.
func extractRecord(rec map[string]any) (counterparty.Representative, bool) {
	if rec == nil {
		return counterparty.Representative{}, false
	}
	if ul, ok := rec["UL"].(map[string]any); ok {
		if r, ok := fromOrganization(ul); ok {
			return r, true
		}
	}
	if ip, ok := rec["IP"].(map[string]any); ok {
		if r, ok := fromSoleProprietor(ip); ok {
			return r, true
		}
	}
	return counterparty.Representative{}, false
}

func fromOrganization(ul map[string]any) (counterparty.Representative, bool) {
	if heads, ok := ul["heads"].([]any); ok && len(heads) > 0 {
		if h, ok := heads[0].(map[string]any); ok {
			if r, ok := titledPerson(h); ok {
				return r, true
			}
		}
	}
	for _, key := range []string{"management", "manager", "generalManager"} {
		if m, ok := ul[key].(map[string]any); ok {
			return titledPerson(m)
		}
	}
	return counterparty.Representative{}, false
}

func titledPerson(m map[string]any) (counterparty.Representative, bool) {
	title := firstString(m, titleKeys)
	name := firstString(m, nameKeys)
	if title == "" || name == "" {
		return counterparty.Representative{}, false
	}
	return counterparty.Representative{Title: counterparty.CanonicalTitle(title), FullName: name}, true
}

func fromSoleProprietor(ip map[string]any) (counterparty.Representative, bool) {
	var name string
	if s, ok := ip["fio"].(string); ok {
		name = s
	} else if sf, ok := ip["structuredFio"].(map[string]any); ok {
		name = joinNameParts(sf)
	} else {
		name = joinNameParts(ip)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return counterparty.Representative{}, false
	}
	return counterparty.Representative{Title: counterparty.SoleProprietorMark, FullName: name}, true
}

func joinNameParts(m map[string]any) string {
	var parts []string
	for _, k := range []string{"lastName", "firstName", "middleName"} {
		if s, ok := m[k].(string); ok && strings.TrimSpace(s) != "" {
			parts = append(parts, strings.TrimSpace(s))
		}
	}
	return strings.Join(parts, " ")
}

func firstString(m map[string]any, keys []string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

// deepScan is the last resort: it walks the whole document depth-first,
// keys in sorted order, and returns the first section or title/name pair
// it can read.
func deepScan(v any) (counterparty.Representative, bool) {
	switch n := v.(type) {
	case map[string]any:
		if r, ok := extractRecord(n); ok {
			return r, true
		}
		if r, ok := titledPerson(n); ok {
			return r, true
		}
		keys := make([]string, 0, len(n))
		for k := range n {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if r, ok := deepScan(n[k]); ok {
				return r, true
			}
		}
	case []any:
		for _, item := range n {
			if r, ok := deepScan(item); ok {
				return r, true
			}
		}
	}
	return counterparty.Representative{}, false
}
