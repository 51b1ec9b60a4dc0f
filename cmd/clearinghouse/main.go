package main

import (
	"context"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
	"github.com/wolfeidau/boostclear/cmd/clearinghouse/internal/commands"
)

var (
	version = "dev"
	cli     struct {
		Debug   bool `help:"Enable debug mode."`
		Version kong.VersionFlag
		Serve   commands.ServeCmd   `cmd:"" help:"Start the bidding API and the clearing worker"`
		Clear   commands.ClearCmd   `cmd:"" help:"Clear due auction windows once and exit"`
		Migrate commands.MigrateCmd `cmd:"" help:"Apply PostgreSQL schema migrations"`
		Bid     commands.BidCmd     `cmd:"" help:"Submit a bid for the current window"`
		Grant   commands.GrantCmd   `cmd:"" help:"Grant credits to a user"`
	}
)

func main() {
	// A missing .env file is fine; real environment variables still apply.
	_ = godotenv.Load()

	ctx := context.Background()
	cmd := kong.Parse(&cli,
		kong.Vars{
			"version": version,
		},
		kong.BindTo(ctx, (*context.Context)(nil)))
	err := cmd.Run(&commands.Globals{Debug: cli.Debug, Version: version})
	cmd.FatalIfErrorf(err)
}
