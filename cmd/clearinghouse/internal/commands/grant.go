package commands

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/boostclear/internal/ledger"
)

type GrantCmd struct {
	User   string `help:"user receiving the credits" required:""`
	Amount int64  `help:"credits to grant" required:""`
	Reason string `help:"reason recorded in the journal" default:"manual_grant"`

	Redis RedisLedgerFlags `embed:"" prefix:"redis-"`
}

func (c *GrantCmd) Run(ctx context.Context, globals *Globals) error {
	setupLogging(globals)

	cfg := c.Redis.config()
	client, err := ledger.NewRedisClient(ctx, cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	var granter ledger.Granter = ledger.NewRedisLedger(client, cfg)

	balance, err := granter.Grant(ctx, c.User, c.Amount, c.Reason)
	if err != nil {
		return fmt.Errorf("failed to grant credits: %w", err)
	}

	log.Info().Str("user_id", c.User).Int64("amount", c.Amount).Int64("balance", balance).Msg("Credits granted")
	return nil
}
