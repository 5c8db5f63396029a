// cmd/tenantctl/main.go
//
// Operator CLI for tenant maintenance.
//
//	tenantctl migrate-core          apply pending core migrations
//	tenantctl migrate [--org ID]    bring tenant databases up to date
//	tenantctl resume ORG            retry a failed provisioning attempt
//	tenantctl status ORG            show status, database and pending count
//	tenantctl create --name --owner provision a new organization
//
// Configuration is loaded exactly as cmd/web loads it, so the CLI talks to
// the same cluster and core database as the running server.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
)

var (
	version = "dev"
	cli     struct {
		MigrateCore MigrateCoreCmd `cmd:"" help:"Apply pending core schema migrations."`
		Migrate     MigrateCmd     `cmd:"" help:"Migrate tenant databases (all, or one with --org)."`
		Resume      ResumeCmd      `cmd:"" help:"Resume provisioning of an organization."`
		Status      StatusCmd      `cmd:"" help:"Show an organization's provisioning state."`
		Create      CreateCmd      `cmd:"" help:"Create and provision an organization."`
		Debug       bool           `help:"Log at debug level."`
		Version     kong.VersionFlag
	}
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := kong.Parse(&cli,
		kong.Name("tenantctl"),
		kong.Description("Tenant database maintenance."),
		kong.Vars{"version": version},
		kong.BindTo(ctx, (*context.Context)(nil)))
	err := cmd.Run(&Globals{Debug: cli.Debug, Out: os.Stdout})
	cmd.FatalIfErrorf(err)
}
