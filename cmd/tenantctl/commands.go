package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/yanizio/tenancy/internal/app"
	"github.com/yanizio/tenancy/internal/config"
	"github.com/yanizio/tenancy/internal/logger"
	"github.com/yanizio/tenancy/internal/provision"
	"github.com/yanizio/tenancy/internal/vault"
)

// Globals is shared by every command.
type Globals struct {
	Debug bool
	Out   io.Writer
}

// session loads config and builds the object graph.  The caller closes it.
func (g *Globals) session(ctx context.Context) (*app.App, error) {
	cfg, err := config.Load(ctx, vault.NewLazy(ctx, nil))
	if err != nil {
		return nil, err
	}
	level := cfg.Log.Level
	if g.Debug {
		level = "debug"
	}
	log, err := logger.New(cfg.Paths.Root, true, level)
	if err != nil {
		return nil, err
	}
	return app.Build(ctx, cfg, log)
}

type MigrateCoreCmd struct{}

func (c *MigrateCoreCmd) Run(ctx context.Context, g *Globals) error {
	a, err := g.session(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.MigrateCore(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(g.Out, "core: version %d, applied %s\n", res.Current, versions(res.Applied))
	return nil
}

type MigrateCmd struct {
	Org string `help:"Only migrate this organization." placeholder:"ID"`
}

func (c *MigrateCmd) Run(ctx context.Context, g *Globals) error {
	a, err := g.session(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	reports, err := a.Provisioner.MigrateTenants(ctx, c.Org)
	printReports(g.Out, reports)
	if err != nil {
		return fmt.Errorf("%d of %d organizations failed: %w", failed(reports), len(reports), err)
	}
	return nil
}

type ResumeCmd struct {
	Org string `arg:"" help:"Organization ID."`
}

func (c *ResumeCmd) Run(ctx context.Context, g *Globals) error {
	a, err := g.session(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	o, at, err := a.Provisioner.Resume(ctx, c.Org)
	if err != nil {
		return err
	}
	if at == nil {
		fmt.Fprintf(g.Out, "%s: already active\n", o.ID)
		return nil
	}
	fmt.Fprintf(g.Out, "%s: %s, applied %s\n", o.ID, o.Status, versions(at.Applied))
	return nil
}

type StatusCmd struct {
	Org string `arg:"" help:"Organization ID."`
}

func (c *StatusCmd) Run(ctx context.Context, g *Globals) error {
	a, err := g.session(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	in, err := a.Provisioner.Inspect(ctx, c.Org)
	if in != nil {
		printInspection(g.Out, in)
	}
	return err
}

type CreateCmd struct {
	Name  string `required:"" help:"Display name."`
	Owner string `required:"" help:"Owner account ID."`
	Slug  string `help:"URL slug (derived from the name when empty)."`
	ID    string `help:"Organization ID (generated when empty)."`
}

func (c *CreateCmd) Run(ctx context.Context, g *Globals) error {
	a, err := g.session(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	o, at, err := a.Provisioner.CreateOrganization(ctx, provision.Request{
		ID: c.ID, Name: c.Name, Slug: c.Slug, OwnerID: c.Owner,
	})
	if o != nil {
		fmt.Fprintf(g.Out, "%s (%s): %s, database %s\n", o.ID, o.Slug, o.Status, o.DatabaseName)
	}
	if at != nil {
		fmt.Fprintf(g.Out, "steps: %s\n", steps(at))
	}
	return err
}

func printReports(w io.Writer, reports []provision.Report) {
	for _, r := range reports {
		line := fmt.Sprintf("%s: %s, applied %s", r.OrganizationID, r.Status, versions(r.Applied))
		if r.Resumed {
			line += " (resumed)"
		}
		if r.Err != nil {
			line += ": " + r.Err.Error()
		}
		fmt.Fprintln(w, line)
	}
}

func printInspection(w io.Writer, in *provision.Inspection) {
	o := in.Organization
	fmt.Fprintf(w, "organization: %s (%s)\n", o.ID, o.Name)
	fmt.Fprintf(w, "status:       %s\n", o.Status)
	if o.FailureReason != "" {
		fmt.Fprintf(w, "reason:       %s\n", o.FailureReason)
	}
	fmt.Fprintf(w, "database:     %s (exists: %t)\n", o.DatabaseName, in.DatabaseExists)
	if in.Pending >= 0 {
		fmt.Fprintf(w, "pending:      %d\n", in.Pending)
	} else {
		fmt.Fprintln(w, "pending:      unknown")
	}
}

func failed(reports []provision.Report) int {
	n := 0
	for _, r := range reports {
		if r.Err != nil {
			n++
		}
	}
	return n
}

func versions(v []int64) string {
	if len(v) == 0 {
		return "none"
	}
	s := make([]string, len(v))
	for i, n := range v {
		s[i] = fmt.Sprint(n)
	}
	return strings.Join(s, ",")
}

func steps(a *provision.Attempt) string {
	s := make([]string, len(a.States))
	for i, st := range a.States {
		s[i] = string(st)
	}
	return strings.Join(s, " → ")
}
