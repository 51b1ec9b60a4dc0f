package commands

import (
	"context"

	"github.com/wolfeidau/boostclear/internal/auction"
	"github.com/wolfeidau/boostclear/internal/models"
)

type BidCmd struct {
	User         string            `help:"user submitting the bid" required:""`
	Placement    string            `help:"placement to boost" default:"discover"`
	Locale       string            `help:"locale of the auction" default:"en-US"`
	Amount       int64             `help:"bid amount in credits" required:""`
	AutoRollover bool              `help:"carry a losing bid into the next window"`
	Meta         map[string]string `help:"extra context stored with the session (key=value)"`

	Deps DependencyFlags `embed:""`
}

func (c *BidCmd) Run(ctx context.Context, globals *Globals) error {
	appLogger := setupLogging(globals)

	deps, err := c.Deps.Build(ctx, appLogger)
	if err != nil {
		return err
	}
	defer deps.Close()

	res, err := auction.NewBidService(deps.Settings, deps.Sessions, deps.Credits, deps.Sink).SubmitBid(ctx, auction.SubmitBidInput{
		UserID:           c.User,
		Placement:        models.Placement(c.Placement),
		Locale:           models.Locale(c.Locale),
		BidAmountCredits: c.Amount,
		AutoRollover:     c.AutoRollover,
		Extra:            c.Meta,
	})
	if err != nil {
		return err
	}

	return printJSON(res)
}
