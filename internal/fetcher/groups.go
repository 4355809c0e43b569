package fetcher

import (
	"strings"

	"github.com/voyagen/iptvwatch/internal/models"
)

type groupRule struct {
	label    string
	prefixes []string
	contains []string
}

// groupRules fold free-text categories onto the canonical taxonomy. First match wins.
var groupRules = []groupRule{
	{label: models.GroupPublic, prefixes: []string{"Обще", "Общи"}},
	{label: models.GroupMovies, prefixes: []string{"Кино", "Фильм"}, contains: []string{"кино"}},
	{label: models.GroupKids, prefixes: []string{"Детск"}},
	{label: models.GroupMusic, prefixes: []string{"Музык"}},
	{label: models.GroupEntertainment, prefixes: []string{"Развлека"}},
	{label: models.GroupSports, prefixes: []string{"Спорт"}},
	{label: models.GroupHobby, prefixes: []string{"Хобб"}},
	{label: models.GroupEducational, prefixes: []string{"Познава"}},
	{label: models.GroupReligious, prefixes: []string{"Религи"}},
}

// NormalizeGroup maps a raw group-title onto the canonical taxonomy.
// Unknown categories pass through trimmed; blank ones become models.GroupMisc.
func NormalizeGroup(raw string) string {
	group := strings.TrimSpace(raw)
	if group == "" {
		return models.GroupMisc
	}
	for _, r := range groupRules {
		if r.matches(group) {
			return r.label
		}
	}
	return group
}

func (r groupRule) matches(group string) bool {
	for _, p := range r.prefixes {
		if strings.HasPrefix(group, p) {
			return true
		}
	}
	for _, c := range r.contains {
		if strings.Contains(group, c) {
			return true
		}
	}
	return false
}
