package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"tradiehub/internal/db"
	"tradiehub/internal/participant"
	"tradiehub/internal/user"
)

func NewMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the relational tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.Memory {
				return fmt.Errorf("nothing to migrate in memory mode")
			}
			database, err := db.NewDatabase(cfg.DatabaseDSN)
			if err != nil {
				return fmt.Errorf("connect to DB: %w", err)
			}
			defer database.Close()

			if err := database.AutoMigrate(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "✅ Database Schema Initialized")
			return nil
		},
	}
}

func NewReconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile <threadID>",
		Short: "Backfill a thread's missing messages into the relational mirror",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.coordinator.ReconcileFromRealtimeStore(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✅ %s: %d message(s) inserted\n", args[0], n)
			return nil
		},
	}
}

func NewLegacyLookupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "legacy-lookup <participant> <participant>",
		Short: "Find a thread created before canonical thread ids (e.g. tradie:5 homeowner:12)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, b, err := parsePair(args)
			if err != nil {
				return err
			}
			env, err := setup(cmd)
			if err != nil {
				return err
			}
			defer env.Close()

			thread, err := env.registry.FindLegacyThread(cmd.Context(), a, b)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(thread)
		},
	}
}

func NewIssueTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "issue-token <participant>",
		Short: "Sign a participant token for local testing (e.g. tradie:5)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := participant.Parse(args[0])
			if err != nil {
				return err
			}
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ttl, _ := cmd.Flags().GetDuration("ttl")
			token, err := user.NewTokenService(cfg.JwtSecret).IssueToken(p, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().Duration("ttl", 24*time.Hour, "token lifetime")
	return cmd
}

func parsePair(args []string) (participant.Participant, participant.Participant, error) {
	a, err := participant.Parse(args[0])
	if err != nil {
		return participant.Participant{}, participant.Participant{}, err
	}
	b, err := participant.Parse(args[1])
	if err != nil {
		return participant.Participant{}, participant.Participant{}, err
	}
	return a, b, nil
}
