package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/digitalopd/opd/internal/config"
	"github.com/digitalopd/opd/internal/game"
	"github.com/digitalopd/opd/internal/store"
)

func newDBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Local database management commands",
	}

	cmd.AddCommand(newDBInitCmd())
	cmd.AddCommand(newDBResetCmd())
	cmd.AddCommand(newDBWipeCmd())
	return cmd
}

func newDBInitCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize the local database",
		Long:  "Creates the schema, migrates all tables, and seeds the patient cases.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDBInit(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "opd.yaml", "path to config file")
	return cmd
}

func runDBInit(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	st, err := store.Open(cfg.Database)
	if err != nil {
		return err
	}
	defer st.Close()
	fmt.Fprintf(out, "Migrated %d tables (%s)\n", len(store.AllModels()), cfg.Database.Driver)

	cases := game.DefaultCases()
	if err := st.SeedCases(cases); err != nil {
		return err
	}
	fmt.Fprintf(out, "Seeded %d patient cases\n", len(cases))

	fmt.Fprintln(out, "Database initialized successfully.")
	return nil
}

func newDBResetCmd() *cobra.Command {
	var (
		configPath string
		yes        bool
	)

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete all game progress",
		Long: `Deletes all sessions, transcripts, and queued actions.

Patient cases are kept. Queued actions that have not been synced are lost.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDBReset(cmd, configPath, yes)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "opd.yaml", "path to config file")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip confirmation prompt")
	return cmd
}

func runDBReset(cmd *cobra.Command, configPath string, yes bool) error {
	out := cmd.OutOrStdout()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if !yes && !confirm(cmd, "This deletes all sessions, messages, and any unsynced queued actions. Continue? [y/N] ") {
		fmt.Fprintln(out, "Aborted.")
		return nil
	}

	st, err := store.Open(cfg.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.ResetGameData(); err != nil {
		return err
	}
	fmt.Fprintln(out, "Game data reset. Patient cases kept.")
	return nil
}

func newDBWipeCmd() *cobra.Command {
	var (
		configPath string
		yes        bool
	)

	cmd := &cobra.Command{
		Use:   "wipe <patient-id>",
		Short: "Delete one patient's session and transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDBWipe(cmd, configPath, args[0], yes)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "opd.yaml", "path to config file")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip confirmation prompt")
	return cmd
}

func runDBWipe(cmd *cobra.Command, configPath, patientID string, yes bool) error {
	out := cmd.OutOrStdout()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if !yes && !confirm(cmd, fmt.Sprintf("Delete session and transcript for patient %s? [y/N] ", patientID)) {
		fmt.Fprintln(out, "Aborted.")
		return nil
	}

	st, err := store.Open(cfg.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.ClearPatientData(patientID); err != nil {
		return err
	}
	fmt.Fprintf(out, "Cleared data for patient %s.\n", patientID)
	return nil
}

// confirm prompts on the command's input stream and accepts y/yes.
func confirm(cmd *cobra.Command, prompt string) bool {
	fmt.Fprint(cmd.OutOrStdout(), prompt)
	scanner := bufio.NewScanner(cmd.InOrStdin())
	if !scanner.Scan() {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(scanner.Text()))
	return answer == "y" || answer == "yes"
}
