package coordinator

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/FamilySearch/pewpew/internal/config"
)

func TestParseFiltersEqAndNe(t *testing.T) {
	rules, err := parseFilters([]string{"method=GET", "url!=*/health"})
	require.NoError(t, err)
	require.Len(t, rules, 2)
	require.Equal(t, filterRule{key: "method", glob: "GET"}, rules[0])
	require.Equal(t, filterRule{key: "url", glob: "*/health", negated: true}, rules[1])
}

func TestParseFiltersRejectsMissingOperator(t *testing.T) {
	_, err := parseFilters([]string{"method"})
	require.Error(t, err)
}

func TestFilterRuleMatchesGlobAndNegation(t *testing.T) {
	eq := filterRule{key: "name", glob: "user-*"}
	require.True(t, eq.matches(map[string]string{"name": "user-create"}))
	require.False(t, eq.matches(map[string]string{"name": "order-create"}))

	ne := filterRule{key: "name", glob: "user-*", negated: true}
	require.False(t, ne.matches(map[string]string{"name": "user-create"}))
	require.True(t, ne.matches(map[string]string{"name": "order-create"}))
}

func TestMatchEndpointsAnyOfRulesIncludingImplicitTags(t *testing.T) {
	eps := []*config.EndpointSpec{
		{Method: "GET", RawURL: "http://x/health", Tags: map[string]string{"name": "health"}},
		{Method: "POST", RawURL: "http://x/users", Tags: map[string]string{"name": "create-user"}},
	}

	// No rules: everything matches.
	require.Equal(t, eps, matchEndpoints(eps, nil))

	matched := matchEndpoints(eps, []filterRule{{key: "method", glob: "GET"}})
	require.Len(t, matched, 1)
	require.Equal(t, "health", matched[0].Tags["name"])

	matched = matchEndpoints(eps, []filterRule{{key: "url", glob: "*/users"}})
	require.Len(t, matched, 1)
	require.Equal(t, "create-user", matched[0].Tags["name"])
}

func TestResolveResultsPath(t *testing.T) {
	require.Equal(t, "", resolveResultsPath("/out", ""))
	require.Equal(t, "/abs/stats.json", resolveResultsPath("/out", "/abs/stats.json"))
	require.Equal(t, "stats.json", resolveResultsPath("", "stats.json"))
	require.Equal(t, "/out/stats.json", resolveResultsPath("/out", "stats.json"))
}
