// Package settings implements the auction configuration source backed by a
// YAML document with global defaults, per-locale overrides and staged rollout
// rules evaluated per user.
//
//	placements:
//	  discover:
//	    default: {enabled: false, min_bid_credits: 10}
//	    locales:
//	      en-US: true
//	      de-DE: {enabled: true, max_winners: 3}
//	    rollout:
//	      - locales: [fr-FR]
//	        percent: 25
//	        value: true
package settings

import (
	"context"
	"fmt"
	"os"
	"slices"

	"github.com/minio/crc64nvme"
	"github.com/wolfeidau/boostclear/internal/auction"
	"github.com/wolfeidau/boostclear/internal/models"
	"gopkg.in/yaml.v3"
)

var _ auction.Source = (*FileSource)(nil)

// Flag is a configuration layer that is either a bare boolean or a mapping of
// parameter overrides.
type Flag struct {
	value auction.FlagValue
}

type flagFields struct {
	Enabled         *bool  `yaml:"enabled"`
	MinBidCredits   *int64 `yaml:"min_bid_credits"`
	WindowMinutes   *int   `yaml:"window_minutes"`
	DurationMinutes *int   `yaml:"duration_minutes"`
	MaxWinners      *int   `yaml:"max_winners"`
}

// UnmarshalYAML accepts `true`/`false` or a mapping of flagFields.
func (f *Flag) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var b bool
		if err := node.Decode(&b); err != nil {
			return fmt.Errorf("line %d: flag must be a boolean or a mapping: %w", node.Line, err)
		}
		f.value = auction.FlagValue{Bool: &b}
		return nil

	case yaml.MappingNode:
		var fields flagFields
		if err := node.Decode(&fields); err != nil {
			return fmt.Errorf("line %d: %w", node.Line, err)
		}
		f.value = auction.FlagValue{
			Enabled:         fields.Enabled,
			MinBidCredits:   fields.MinBidCredits,
			WindowMinutes:   fields.WindowMinutes,
			DurationMinutes: fields.DurationMinutes,
			MaxWinners:      fields.MaxWinners,
		}
		return nil

	default:
		return fmt.Errorf("line %d: flag must be a boolean or a mapping", node.Line)
	}
}

// Value returns the layer this flag contributes, or nil for a nil flag.
func (f *Flag) Value() *auction.FlagValue {
	if f == nil {
		return nil
	}
	v := f.value
	return &v
}

// RolloutRule turns a flag on for a subset of users. UserKeys are always
// included; other users are included when their bucket falls under Percent.
type RolloutRule struct {
	Locales  []models.Locale `yaml:"locales"`
	UserKeys []string        `yaml:"user_keys"`
	Percent  int             `yaml:"percent"`
	Value    *Flag           `yaml:"value"`
}

// PlacementConfig holds the layers for one placement.
type PlacementConfig struct {
	Default *Flag                   `yaml:"default"`
	Locales map[models.Locale]*Flag `yaml:"locales"`
	Rollout []RolloutRule           `yaml:"rollout"`
}

// Document is the root of the settings file.
type Document struct {
	Placements map[models.Placement]PlacementConfig `yaml:"placements"`
}

// Validate checks every referenced locale and placement is in the catalog.
func (d *Document) Validate() error {
	for placement, pc := range d.Placements {
		if !placement.Supported() {
			return fmt.Errorf("unsupported placement %q", placement)
		}
		for locale := range pc.Locales {
			if !locale.Supported() {
				return fmt.Errorf("placement %s: unsupported locale %q", placement, locale)
			}
		}
		for i, rule := range pc.Rollout {
			if rule.Value == nil {
				return fmt.Errorf("placement %s: rollout rule %d has no value", placement, i)
			}
			if rule.Percent < 0 || rule.Percent > 100 {
				return fmt.Errorf("placement %s: rollout rule %d percent %d outside 0..100", placement, i, rule.Percent)
			}
			for _, locale := range rule.Locales {
				if !locale.Supported() {
					return fmt.Errorf("placement %s: rollout rule %d: unsupported locale %q", placement, i, locale)
				}
			}
		}
		for _, locale := range models.SupportedLocales {
			if err := pc.checkCohorts(locale); err != nil {
				return fmt.Errorf("placement %s locale %s: %w", placement, locale, err)
			}
		}
	}
	return nil
}

// checkCohorts rejects rollouts that let some users bid under window, boost
// or winner parameters other than the ones clearing resolves. Clearing
// evaluates as SystemUserKey, which takes the first rule anyone can match, so
// every cohort that accepts bids must agree with that evaluation.
func (pc PlacementConfig) checkCohorts(locale models.Locale) error {
	base := pc.Default.Value().Apply(auction.DefaultSettings())
	base = pc.Locales[locale].Value().Apply(base)

	var (
		clearing *auction.Settings
		cohorts  []auction.Settings
		names    []string
		covered  bool
	)

	for i, rule := range pc.Rollout {
		if len(rule.Locales) > 0 && !slices.Contains(rule.Locales, locale) {
			continue
		}
		if rule.Percent == 0 && len(rule.UserKeys) == 0 {
			continue
		}

		s := rule.Value.Value().Apply(base)
		cohorts = append(cohorts, s)
		names = append(names, fmt.Sprintf("rollout rule %d", i))
		if clearing == nil {
			first := s
			clearing = &first
		}

		if rule.Percent >= 100 {
			covered = true
			break
		}
	}

	if !covered {
		cohorts = append(cohorts, base)
		names = append(names, "users outside the rollout")
	}
	if clearing == nil {
		clearing = &base
	}

	for i, s := range cohorts {
		if !s.Enabled {
			continue
		}
		switch {
		case !clearing.Enabled:
			return fmt.Errorf("%s accept bids but clearing resolves the auction as disabled", names[i])
		case s.WindowMinutes != clearing.WindowMinutes:
			return fmt.Errorf("%s bid in %d minute windows but clearing uses %d", names[i], s.WindowMinutes, clearing.WindowMinutes)
		case s.DurationMinutes != clearing.DurationMinutes:
			return fmt.Errorf("%s expect %d minute boosts but clearing grants %d", names[i], s.DurationMinutes, clearing.DurationMinutes)
		case s.MaxWinners != clearing.MaxWinners:
			return fmt.Errorf("%s expect %d winners but clearing picks %d", names[i], s.MaxWinners, clearing.MaxWinners)
		}
	}

	return nil
}

// FileSource serves layers from a parsed settings Document.
type FileSource struct {
	doc Document
}

// Load reads and parses a settings file.
func Load(path string) (*FileSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read settings file: %w", err)
	}
	return Parse(data)
}

// Parse builds a FileSource from YAML.
func Parse(data []byte) (*FileSource, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse settings: %w", err)
	}
	if err := doc.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}
	return &FileSource{doc: doc}, nil
}

// Layers returns the placement default, the locale override and the first
// matching rollout rule.
func (s *FileSource) Layers(ctx context.Context, ec auction.EvalContext) (auction.Layers, error) {
	if err := ctx.Err(); err != nil {
		return auction.Layers{}, err
	}

	pc, ok := s.doc.Placements[ec.Placement]
	if !ok {
		return auction.Layers{}, nil
	}

	layers := auction.Layers{
		Global: pc.Default.Value(),
		Locale: pc.Locales[ec.Locale].Value(),
	}

	for _, rule := range pc.Rollout {
		if rule.matches(ec) {
			layers.Contextual = rule.Value.Value()
			break
		}
	}

	return layers, nil
}

func (r RolloutRule) matches(ec auction.EvalContext) bool {
	if len(r.Locales) > 0 && !slices.Contains(r.Locales, ec.Locale) {
		return false
	}

	// The system context clears every window a partial rollout accepts bids for.
	if ec.UserKey == auction.SystemUserKey {
		return r.Percent > 0 || len(r.UserKeys) > 0
	}

	if slices.Contains(r.UserKeys, ec.UserKey) {
		return true
	}

	return bucket(ec.Placement, ec.UserKey) < r.Percent
}

// bucket maps a user to 0..99, stable across processes and releases.
func bucket(placement models.Placement, userKey string) int {
	h := crc64nvme.New()
	_, _ = h.Write([]byte(string(placement) + ":" + userKey))
	return int(h.Sum64() % 100)
}
