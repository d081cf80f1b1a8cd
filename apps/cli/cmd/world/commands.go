package world

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/zenGate-Global/palmyra-worlds/domains/gameworlds/be/service"
	platformauth "github.com/zenGate-Global/palmyra-worlds/platform/go/auth"
	"github.com/zenGate-Global/palmyra-worlds/platform/go/authz"
	"github.com/zenGate-Global/palmyra-worlds/platform/go/requesttrace"
)

func listCommand(withApp runner) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registry rows, newest first (retired rows included)",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			worlds, err := a.worlds.List(cmd.Context())
			if err != nil {
				return err
			}
			if len(worlds) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No worlds registered.")
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tWORLD\tNAME\tSPEED\tSTART\tDAYS\tFLAGS\tVERSION")
			for _, w := range worlds {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%sx\t%s\t%d\t%s\t%d\n",
					w.ID, w.WorldID, w.Name, humanize.Comma(w.Speed),
					w.StartTime.UTC().Format(service.StartTimeLayout), w.RoundLength, flags(w), w.RowVersion)
			}
			return tw.Flush()
		}),
	}
}

func flags(w service.World) string {
	var set []string
	for _, f := range []struct {
		name string
		on   bool
	}{
		{"archived", w.Archived},
		{"finished", w.Finished},
		{"hidden", w.Hidden},
		{"registerClosed", w.RegisterClosed},
		{"activation", w.Activation},
		{"promoted", w.Promoted},
		{"preregistrationKeyOnly", w.PreregistrationKeyOnly},
	} {
		if f.on {
			set = append(set, f.name)
		}
	}
	if len(set) == 0 {
		return "-"
	}
	return strings.Join(set, ",")
}

func checkCommand(withApp runner) *cobra.Command {
	return &cobra.Command{
		Use:   "check <world-id>",
		Short: "Normalize a world ID and report whether its tree exists",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			check, err := a.worlds.CheckWorld(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s exists=%t\n", check.WorldID, check.Exists)
			return nil
		}),
	}
}

func createCommand(withApp runner) *cobra.Command {
	req := service.DefaultProvisionRequest(time.Now())

	c := &cobra.Command{
		Use:   "create",
		Short: "Provision a world: tree, database, descriptor, installer, updater and registry row",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			ctx := requesttrace.IntoContext(cmd.Context(), requesttrace.System("", "worlds-cli"))
			result, err := a.worlds.Provision(ctx, req)
			if result.WorldUniqueID != 0 || result.Installer.Output != "" {
				printResult(cmd.OutOrStdout(), result)
			}
			if err != nil {
				return err
			}
			if !result.Success {
				return fmt.Errorf("world %s provisioned but the installer or updater exited non-zero", req.WorldID)
			}
			return nil
		}),
	}

	f := c.Flags()
	f.StringVar(&req.WorldID, "world-id", "", "world slug, 1-32 chars [a-z0-9-]")
	f.StringVar(&req.ServerName, "name", "", "display name")
	f.Int64Var(&req.Speed, "speed", req.Speed, "speed multiplier")
	f.IntVar(&req.RoundLength, "round-length", req.RoundLength, "round length in days")
	f.IntVar(&req.MapSize, "map-size", req.MapSize, "map size")
	f.StringVar(&req.StartTime, "start-time", req.StartTime, "UTC start time as YYYY-MM-DDTHH:MM")
	f.StringVar(&req.Database.Host, "db-host", "", "tenant MySQL host[:port]")
	f.StringVar(&req.Database.User, "db-user", "", "tenant MySQL user")
	f.StringVar(&req.Database.Password, "db-password", "", "tenant MySQL password")
	f.StringVar(&req.Database.Name, "db-name", "", "tenant database name (defaults to worlds_<slug>)")
	f.StringVar(&req.AdminPassword, "admin-password", "", "password passed to the installer")
	f.BoolVar(&req.IsPromoted, "promoted", req.IsPromoted, "list the world as promoted")
	f.BoolVar(&req.NeedPreregistrationCode, "preregistration-only", req.NeedPreregistrationCode, "require a preregistration key")
	f.BoolVar(&req.ServerHidden, "hidden", req.ServerHidden, "hide the world from the public list")
	f.BoolVar(&req.Activation, "activation", req.Activation, "require account activation")
	f.IntVar(&req.StartGold, "start-gold", req.StartGold, "gold granted to new players")
	f.IntVar(&req.ProtectionHours, "protection-hours", req.ProtectionHours, "beginner protection in hours")
	f.BoolVar(&req.AutoReinstall, "auto-reinstall", req.AutoReinstall, "reinstall automatically after the round")
	f.Int64Var(&req.AutoReinstallStartAfter, "auto-reinstall-after", req.AutoReinstallStartAfter, "seconds before an automatic reinstall starts")
	f.BoolVar(&req.DevMode, "dev-mode", req.DevMode, "enable engine dev mode")

	_ = c.MarkFlagRequired("world-id")
	_ = c.MarkFlagRequired("name")
	_ = c.MarkFlagRequired("admin-password")
	return c
}

func printResult(out io.Writer, r service.ProvisioningResult) {
	fmt.Fprintf(out, "World unique ID: %d\nURL: %s\nDatabase: %s\n", r.WorldUniqueID, r.GameWorldURL, r.DatabaseName)
	if r.ArchivedTo != "" {
		fmt.Fprintf(out, "Previous tree archived to: %s\n", r.ArchivedTo)
	}
	fmt.Fprintf(out, "--- installer (exit %d)\n%s\n", r.Installer.ExitCode, r.Installer.Output)
	fmt.Fprintf(out, "--- updater (exit %d)\n%s\n", r.Updater.ExitCode, r.Updater.Output)
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 1 {
		return 0, fmt.Errorf("invalid world record id %q", raw)
	}
	return id, nil
}

func printWorld(out io.Writer, w service.World) {
	fmt.Fprintf(out, "%d %s finished=%t hidden=%t registerClosed=%t activation=%t start=%s days=%d version=%d\n",
		w.ID, w.WorldID, w.Finished, w.Hidden, w.RegisterClosed, w.Activation,
		w.StartTime.UTC().Format(service.StartTimeLayout), w.RoundLength, w.RowVersion)
}

func toggleCommand(withApp runner) *cobra.Command {
	return &cobra.Command{
		Use:   "toggle <id> <field>",
		Short: "Flip a lifecycle flag (finished, hidden, registerClosed, activation)",
		Args:  cobra.ExactArgs(2),
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			w, err := a.worlds.ToggleFlag(cmd.Context(), id, args[1])
			if err != nil {
				return err
			}
			printWorld(cmd.OutOrStdout(), w)
			return nil
		}),
	}
}

func setFlagCommand(withApp runner) *cobra.Command {
	var expectedVersion int64

	c := &cobra.Command{
		Use:   "set-flag <id> <field> <true|false>",
		Short: "Set a lifecycle flag, optionally guarded by the row version",
		Args:  cobra.ExactArgs(3),
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			value, err := strconv.ParseBool(args[2])
			if err != nil {
				return fmt.Errorf("invalid flag value %q", args[2])
			}
			var expected *int64
			if cmd.Flags().Changed("expected-version") {
				expected = &expectedVersion
			}
			w, err := a.worlds.SetFlag(cmd.Context(), id, args[1], value, expected)
			if err != nil {
				return err
			}
			printWorld(cmd.OutOrStdout(), w)
			return nil
		}),
	}
	c.Flags().Int64Var(&expectedVersion, "expected-version", 0, "fail with a conflict unless the row is at this version")
	return c
}

func editTimesCommand(withApp runner) *cobra.Command {
	var (
		startTime   string
		roundLength int
	)

	c := &cobra.Command{
		Use:   "edit-times <id>",
		Short: "Change the start time and round length in the registry and the world database",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			w, err := a.worlds.EditTimes(cmd.Context(), id, startTime, roundLength)
			if err != nil {
				var partial *service.PartialUpdateError
				if errors.As(err, &partial) {
					printWorld(cmd.OutOrStdout(), partial.World)
				}
				return err
			}
			printWorld(cmd.OutOrStdout(), w)
			return nil
		}),
	}
	c.Flags().StringVar(&startTime, "start-time", "", "UTC start time as YYYY-MM-DDTHH:MM")
	c.Flags().IntVar(&roundLength, "round-length", 0, "round length in days")
	_ = c.MarkFlagRequired("start-time")
	_ = c.MarkFlagRequired("round-length")
	return c
}

func activateCommand(withApp runner) *cobra.Command {
	var (
		actor string
		roles []string
	)

	c := &cobra.Command{
		Use:   "activate <world-id> [operation]",
		Short: "Enter a world as its super operator and print the operation output as HTML",
		Args:  cobra.RangeArgs(1, 2),
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			op := ""
			if len(args) == 2 {
				op = args[1]
			}
			creds := &platformauth.UserCredentials{Id: actor, Email: actor, RoleNames: roles}
			ctx := platformauth.WithUser(cmd.Context(), creds)
			audit, err := requesttrace.FromCredentials(creds, "")
			if err != nil {
				return err
			}
			ctx = requesttrace.IntoContext(ctx, audit)

			out, err := a.board.Activate(ctx, args[0], op)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), out.HTML())
			if out.Failed {
				return fmt.Errorf("operation %s failed inside world %s", out.Operation, out.WorldID)
			}
			return nil
		}),
	}
	c.Flags().StringVar(&actor, "as", "cli@localhost", "operator identity recorded in the world audit log")
	c.Flags().StringSliceVar(&roles, "roles", []string{authz.RoleOperator}, "operator roles checked against the operation policy")
	return c
}
