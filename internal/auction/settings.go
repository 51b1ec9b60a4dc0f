package auction

import (
	"context"
	"fmt"

	"github.com/wolfeidau/boostclear/internal/models"
)

// Hard-coded parameters used when a flag is a bare boolean or omits a field.
const (
	DefaultMinBidCredits   int64 = 5
	DefaultWindowMinutes         = 15
	DefaultDurationMinutes       = 120
	DefaultMaxWinners            = 5

	// MaxBidCredits is the global cap on a single bid.
	MaxBidCredits int64 = 500
)

// SystemUserKey is the evaluation key used by clearing, which acts for no user.
const SystemUserKey = ""

// Settings are the effective auction parameters for one (locale, placement).
type Settings struct {
	Enabled         bool  `json:"enabled"`
	MinBidCredits   int64 `json:"minBidCredits"`
	WindowMinutes   int   `json:"windowMinutes"`
	DurationMinutes int   `json:"durationMinutes"`
	MaxWinners      int   `json:"maxWinners"`
}

// DefaultSettings returns the hard-coded parameters with the auction disabled.
func DefaultSettings() Settings {
	return Settings{
		Enabled:         false,
		MinBidCredits:   DefaultMinBidCredits,
		WindowMinutes:   DefaultWindowMinutes,
		DurationMinutes: DefaultDurationMinutes,
		MaxWinners:      DefaultMaxWinners,
	}
}

// Validate checks the parameters are usable.
func (s Settings) Validate() error {
	switch {
	case s.MinBidCredits < 1 || s.MinBidCredits > MaxBidCredits:
		return fmt.Errorf("%w: min bid %d outside 1..%d", ErrInvalidSettings, s.MinBidCredits, MaxBidCredits)
	case s.WindowMinutes < 1:
		return fmt.Errorf("%w: window minutes must be positive, got %d", ErrInvalidSettings, s.WindowMinutes)
	case s.DurationMinutes < 1:
		return fmt.Errorf("%w: duration minutes must be positive, got %d", ErrInvalidSettings, s.DurationMinutes)
	case s.MaxWinners < 1:
		return fmt.Errorf("%w: max winners must be positive, got %d", ErrInvalidSettings, s.MaxWinners)
	}
	return nil
}

// FlagValue is one configuration layer. A boolean flag (Bool set) replaces
// everything below it with the hard-coded defaults; an object flag overrides
// only the fields it sets.
type FlagValue struct {
	Bool *bool

	Enabled         *bool
	MinBidCredits   *int64
	WindowMinutes   *int
	DurationMinutes *int
	MaxWinners      *int
}

// Apply layers f over base.
func (f *FlagValue) Apply(base Settings) Settings {
	if f == nil {
		return base
	}

	if f.Bool != nil {
		s := DefaultSettings()
		s.Enabled = *f.Bool
		return s
	}

	s := base
	if f.Enabled != nil {
		s.Enabled = *f.Enabled
	}
	if f.MinBidCredits != nil {
		s.MinBidCredits = *f.MinBidCredits
	}
	if f.WindowMinutes != nil {
		s.WindowMinutes = *f.WindowMinutes
	}
	if f.DurationMinutes != nil {
		s.DurationMinutes = *f.DurationMinutes
	}
	if f.MaxWinners != nil {
		s.MaxWinners = *f.MaxWinners
	}
	return s
}

// EvalContext is what the flag system evaluates against.
type EvalContext struct {
	Locale    models.Locale
	Placement models.Placement
	UserKey   string
}

// Layers are the configuration layers for one evaluation, lowest precedence first.
// A nil layer is absent.
type Layers struct {
	Global     *FlagValue
	Locale     *FlagValue
	Contextual *FlagValue
}

// Source is the external configuration / feature-flag system.
type Source interface {
	Layers(ctx context.Context, ec EvalContext) (Layers, error)
}

// SettingsResolver resolves effective auction parameters.
type SettingsResolver interface {
	Resolve(ctx context.Context, locale models.Locale, placement models.Placement, userKey string) (Settings, error)
}

var _ SettingsResolver = (*LayeredResolver)(nil)

// LayeredResolver merges defaults, global, per-locale and per-context layers.
type LayeredResolver struct {
	source Source
}

func NewLayeredResolver(source Source) *LayeredResolver {
	return &LayeredResolver{source: source}
}

// Resolve returns the effective settings. A source failure is returned as an
// error, never as a disabled auction.
func (r *LayeredResolver) Resolve(ctx context.Context, locale models.Locale, placement models.Placement, userKey string) (Settings, error) {
	layers, err := r.source.Layers(ctx, EvalContext{Locale: locale, Placement: placement, UserKey: userKey})
	if err != nil {
		return Settings{}, fmt.Errorf("failed to load auction settings for %s/%s: %w", locale, placement, err)
	}

	s := DefaultSettings()
	s = layers.Global.Apply(s)
	s = layers.Locale.Apply(s)
	s = layers.Contextual.Apply(s)

	if err := s.Validate(); err != nil {
		return Settings{}, fmt.Errorf("auction settings for %s/%s: %w", locale, placement, err)
	}

	return s, nil
}
