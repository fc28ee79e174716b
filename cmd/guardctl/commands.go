package main

import (
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"tg-guardian/internal/gban"
	"tg-guardian/internal/models"
	"tg-guardian/internal/storage"
)

func (c *cli) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update every table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := storage.MigrateAll(c.db); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Migration completed successfully")
			return nil
		},
	}
}

var statusTables = []struct {
	name  string
	model any
}{
	{"group_settings", &models.GroupSettings{}},
	{"welcome_configs", &models.WelcomeConfig{}},
	{"role_assignments", &models.RoleAssignment{}},
	{"permission_overrides", &models.PermissionOverride{}},
	{"gban_entries", &models.GBanEntry{}},
	{"gban_admins", &models.GBanAdmin{}},
	{"gban_subscriptions", &models.GBanSubscription{}},
	{"verification_records", &models.VerificationRecord{}},
	{"pending_messages", &models.PendingMessage{}},
	{"moderation_logs", &models.ModerationLog{}},
	{"keyword_entries", &models.KeywordEntry{}},
}

func (c *cli) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show row counts per table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := c.context(cmd)
			defer cancel()

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "TABLE\tROWS\n")
			for _, t := range statusTables {
				if !c.db.Migrator().HasTable(t.model) {
					fmt.Fprintf(w, "%s\tmissing\n", t.name)
					continue
				}
				var n int64
				if err := c.db.WithContext(ctx).Model(t.model).Count(&n).Error; err != nil {
					return fmt.Errorf("count %s: %w", t.name, err)
				}
				fmt.Fprintf(w, "%s\t%d\n", t.name, n)
			}
			return w.Flush()
		},
	}
}

func (c *cli) registry(cmd *cobra.Command) (*gban.Registry, error) {
	ctx, cancel := c.context(cmd)
	defer cancel()
	r := gban.NewRegistry(nil, storage.NewGBanRepository(c.db), nil, gban.Config{Admins: c.cfg.GBan.Admins})
	if err := r.Load(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

func (c *cli) gbanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gban",
		Short: "Inspect global bans",
	}

	list := &cobra.Command{
		Use:   "list [query]",
		Short: "List active global bans, optionally filtered by ID, name or reason",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := c.registry(cmd)
			if err != nil {
				return err
			}
			entries := r.List()
			if len(args) == 1 {
				entries = r.Search(args[0])
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "USER\tNAME\tREASON\tBY\tEXPIRES\n")
			for _, e := range entries {
				expires := "never"
				if !e.IsPermanent {
					expires = e.ExpiresAt.UTC().Format(time.DateTime)
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\n", e.UserID, displayName(e), e.Reason, e.BannedBy, expires)
			}
			return w.Flush()
		},
	}

	var output string
	export := &cobra.Command{
		Use:   "export",
		Short: "Write the ban list as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := c.registry(cmd)
			if err != nil {
				return err
			}
			data, err := r.Export()
			if err != nil {
				return err
			}
			if output == "" || output == "-" {
				_, err = cmd.OutOrStdout().Write(append(data, '\n'))
				return err
			}
			if err := os.WriteFile(output, data, 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported %d bans to %s\n", len(r.List()), output)
			return nil
		},
	}
	export.Flags().StringVarP(&output, "output", "o", "-", "Output file, - for stdout")

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Show ban, admin and subscription counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := c.registry(cmd)
			if err != nil {
				return err
			}
			s := r.Stats()
			fmt.Fprintf(cmd.OutOrStdout(), "bans: %d (permanent %d, temporary %d)\nadmins: %d\nsubscribed groups: %d\n",
				s.Total, s.Permanent, s.Temporary, s.Admins, s.Subscribed)
			return nil
		},
	}

	cmd.AddCommand(list, export, stats)
	return cmd
}

func displayName(e gban.Entry) string {
	switch {
	case e.Username != "":
		return "@" + e.Username
	case e.DisplayName != "":
		return e.DisplayName
	default:
		return "-"
	}
}

func (c *cli) logsCmd() *cobra.Command {
	var limit int
	var userID int64
	cmd := &cobra.Command{
		Use:   "logs <group-id>",
		Short: "Show recent moderation actions in a group",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			groupID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid group id %q", args[0])
			}
			ctx, cancel := c.context(cmd)
			defer cancel()

			repo := storage.NewModerationLogRepository(c.db)
			var rows []models.ModerationLog
			if userID != 0 {
				rows, err = repo.ByUser(ctx, groupID, userID)
			} else {
				rows, err = repo.Recent(ctx, groupID, limit)
			}
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "TIME\tACTION\tUSER\tACTOR\tREASON\n")
			for _, r := range rows {
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n", r.CreatedAt.UTC().Format(time.DateTime), r.Action, r.UserID, r.ActorID, r.Reason)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of entries")
	cmd.Flags().Int64Var(&userID, "user", 0, "Only actions against this user")
	return cmd
}

func (c *cli) purgeLogsCmd() *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "purge-logs",
		Short: "Delete moderation log entries older than a duration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThan <= 0 {
				olderThan = c.cfg.Maintenance.LogRetention
			}
			if olderThan <= 0 {
				return fmt.Errorf("--older-than is required when maintenance.log_retention is zero")
			}
			ctx, cancel := c.context(cmd)
			defer cancel()

			n, err := storage.NewModerationLogRepository(c.db).Purge(ctx, time.Now().Add(-olderThan))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Purged %d moderation log entries\n", n)
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "Age threshold, defaults to maintenance.log_retention")
	return cmd
}
