package settings

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/boostclear/internal/auction"
	"github.com/wolfeidau/boostclear/internal/models"
)

const testDocument = `
placements:
  discover:
    default: {enabled: false, min_bid_credits: 10}
    locales:
      en-US: true
      de-DE: {enabled: true, max_winners: 3}
    rollout:
      - locales: [fr-FR]
        user_keys: [beta-tester]
        value: {enabled: true, window_minutes: 30}
      - locales: [es-ES]
        percent: 100
        value: true
  nearby:
    default: true
`

func resolve(t *testing.T, src *FileSource, locale models.Locale, placement models.Placement, userKey string) auction.Settings {
	t.Helper()
	s, err := auction.NewLayeredResolver(src).Resolve(context.Background(), locale, placement, userKey)
	require.NoError(t, err)
	return s
}

func TestFileSourceResolve(t *testing.T) {
	src, err := Parse([]byte(testDocument))
	require.NoError(t, err)

	t.Run("placement default applies", func(t *testing.T) {
		s := resolve(t, src, models.LocaleEnGB, models.PlacementDiscover, "u1")
		require.False(t, s.Enabled)
		require.Equal(t, int64(10), s.MinBidCredits)
	})

	t.Run("boolean locale override resets to defaults", func(t *testing.T) {
		s := resolve(t, src, models.LocaleEnUS, models.PlacementDiscover, "u1")
		require.True(t, s.Enabled)
		require.Equal(t, auction.DefaultMinBidCredits, s.MinBidCredits)
	})

	t.Run("object locale override merges", func(t *testing.T) {
		s := resolve(t, src, models.LocaleDeDE, models.PlacementDiscover, "u1")
		require.True(t, s.Enabled)
		require.Equal(t, int64(10), s.MinBidCredits)
		require.Equal(t, 3, s.MaxWinners)
	})

	t.Run("listed user is in the rollout", func(t *testing.T) {
		s := resolve(t, src, models.LocaleFrFR, models.PlacementDiscover, "beta-tester")
		require.True(t, s.Enabled)
		require.Equal(t, 30, s.WindowMinutes)

		other := resolve(t, src, models.LocaleFrFR, models.PlacementDiscover, "someone-else")
		require.False(t, other.Enabled)
	})

	t.Run("system key sees every partial rollout", func(t *testing.T) {
		s := resolve(t, src, models.LocaleFrFR, models.PlacementDiscover, auction.SystemUserKey)
		require.True(t, s.Enabled)
		require.Equal(t, 30, s.WindowMinutes)
	})

	t.Run("full percentage includes everyone", func(t *testing.T) {
		for i := range 20 {
			s := resolve(t, src, models.LocaleEsES, models.PlacementDiscover, fmt.Sprintf("user-%d", i))
			require.True(t, s.Enabled)
		}
	})

	t.Run("unconfigured placement is disabled", func(t *testing.T) {
		empty, err := Parse(nil)
		require.NoError(t, err)
		s := resolve(t, empty, models.LocaleEnUS, models.PlacementDiscover, "u1")
		require.Equal(t, auction.DefaultSettings(), s)
	})

	t.Run("other placement has its own layers", func(t *testing.T) {
		s := resolve(t, src, models.LocaleDeDE, models.PlacementNearby, "u1")
		require.True(t, s.Enabled)
		require.Equal(t, auction.DefaultMaxWinners, s.MaxWinners)
	})
}

func TestRolloutPercent(t *testing.T) {
	rule := RolloutRule{Percent: 50, Value: &Flag{}}

	included := 0
	for i := range 1000 {
		ec := auction.EvalContext{Locale: models.LocaleEnUS, Placement: models.PlacementDiscover, UserKey: fmt.Sprintf("user-%d", i)}
		if rule.matches(ec) {
			included++
		}
		require.Equal(t, rule.matches(ec), rule.matches(ec), "bucketing is stable")
	}

	require.InDelta(t, 500, included, 150)

	none := RolloutRule{Percent: 0, Value: &Flag{}}
	require.False(t, none.matches(auction.EvalContext{Placement: models.PlacementDiscover, UserKey: "u1"}))
	require.False(t, none.matches(auction.EvalContext{Placement: models.PlacementDiscover, UserKey: auction.SystemUserKey}))
}

func TestBucketRange(t *testing.T) {
	for i := range 200 {
		b := bucket(models.PlacementNearby, fmt.Sprintf("u%d", i))
		require.GreaterOrEqual(t, b, 0)
		require.Less(t, b, 100)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"unknown placement", "placements:\n  homepage:\n    default: true\n"},
		{"unknown locale", "placements:\n  discover:\n    locales:\n      xx-XX: true\n"},
		{"flag is a string", "placements:\n  discover:\n    default: maybe\n"},
		{"flag is a list", "placements:\n  discover:\n    default: [true]\n"},
		{"rollout without value", "placements:\n  discover:\n    rollout:\n      - percent: 10\n"},
		{"rollout percent out of range", "placements:\n  discover:\n    rollout:\n      - percent: 101\n        value: true\n"},
		{"rollout unknown locale", "placements:\n  discover:\n    rollout:\n      - locales: [xx-XX]\n        value: true\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			require.Error(t, err)
		})
	}
}

func TestParseRejectsDivergentCohorts(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantErr string
	}{
		{
			name: "partial rollout disables an enabled auction",
			doc: `
placements:
  discover:
    default: {enabled: true}
    rollout:
      - percent: 25
        value: false
`,
			wantErr: "clearing resolves the auction as disabled",
		},
		{
			name: "partial rollout changes the window length",
			doc: `
placements:
  discover:
    default: true
    rollout:
      - percent: 25
        value: {window_minutes: 30}
`,
			wantErr: "bid in 15 minute windows but clearing uses 30",
		},
		{
			name: "listed users get a different boost duration",
			doc: `
placements:
  nearby:
    default: true
    rollout:
      - locales: [de-DE]
        user_keys: [beta-tester]
        value: {duration_minutes: 60}
`,
			wantErr: "placement nearby locale de-DE",
		},
		{
			name: "bare true resets winners an enabled locale overrides",
			doc: `
placements:
  discover:
    locales:
      en-US: {enabled: true, max_winners: 3}
    rollout:
      - locales: [en-US]
        percent: 50
        value: true
`,
			wantErr: "expect 3 winners but clearing picks 5",
		},
		{
			name: "later cohort disagrees with the first matching rule",
			doc: `
placements:
  discover:
    rollout:
      - percent: 10
        value: {enabled: true}
      - percent: 100
        value: {enabled: true, max_winners: 2}
`,
			wantErr: "rollout rule 1 expect 2 winners",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			require.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestParseAcceptsConsistentCohorts(t *testing.T) {
	doc := `
placements:
  discover:
    default: {enabled: true, window_minutes: 30}
    rollout:
      - percent: 25
        value: {min_bid_credits: 50}
      - locales: [fr-FR]
        user_keys: [beta-tester]
        value: {enabled: true, window_minutes: 30, min_bid_credits: 1}
  nearby:
    rollout:
      - percent: 25
        value: {enabled: true, window_minutes: 30}
`
	src, err := Parse([]byte(doc))
	require.NoError(t, err)

	// Bidders within and outside the rollout bid into the windows clearing settles.
	system := resolve(t, src, models.LocaleEnUS, models.PlacementDiscover, auction.SystemUserKey)
	for i := range 20 {
		s := resolve(t, src, models.LocaleEnUS, models.PlacementDiscover, fmt.Sprintf("user-%d", i))
		require.True(t, s.Enabled)
		require.Equal(t, system.WindowMinutes, s.WindowMinutes)
		require.Equal(t, system.MaxWinners, s.MaxWinners)
		require.Equal(t, system.DurationMinutes, s.DurationMinutes)
	}

	// A disabled base lets the cohort pick its own parameters.
	nearby := resolve(t, src, models.LocaleEnUS, models.PlacementNearby, auction.SystemUserKey)
	require.True(t, nearby.Enabled)
	require.Equal(t, 30, nearby.WindowMinutes)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testDocument), 0o600))

	src, err := Load(path)
	require.NoError(t, err)
	require.True(t, resolve(t, src, models.LocaleEnUS, models.PlacementDiscover, "u1").Enabled)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
