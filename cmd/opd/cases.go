package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/digitalopd/opd/internal/config"
	"github.com/digitalopd/opd/internal/store"
)

func newCasesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cases",
		Short: "Inspect the seeded patient cases",
	}

	cmd.AddCommand(newCasesListCmd())
	cmd.AddCommand(newCasesShowCmd())
	return cmd
}

func newCasesListCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List patient cases with session progress",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCasesList(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "opd.yaml", "path to config file")
	return cmd
}

func runCasesList(cmd *cobra.Command, configPath string) error {
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

	cases, err := st.PatientCases()
	if err != nil {
		return err
	}
	if len(cases) == 0 {
		fmt.Fprintln(out, "No patient cases seeded. Run: opd db init")
		return nil
	}

	for _, pc := range cases {
		p, err := pc.Patient()
		if err != nil {
			return err
		}
		progress := "not started"
		session, err := st.SessionByPatient(pc.ID)
		if err != nil {
			return err
		}
		switch {
		case session == nil:
		case session.IsCompleted:
			progress = fmt.Sprintf("completed, %d/10 points", session.TotalPoints)
		default:
			progress = fmt.Sprintf("in progress, %d points", session.TotalPoints)
		}
		fmt.Fprintf(out, "%s  %d-year-old %s  %s  [%s]\n",
			pc.ID, p.Age, p.Gender, p.Symptoms, progress)
	}
	return nil
}

func newCasesShowCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "show <patient-id>",
		Short: "Show one case's details and transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCasesShow(cmd, configPath, args[0])
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "opd.yaml", "path to config file")
	return cmd
}

func runCasesShow(cmd *cobra.Command, configPath, patientID string) error {
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

	pc, err := st.PatientCase(patientID)
	if err != nil {
		return err
	}
	if pc == nil {
		return fmt.Errorf("no patient case with id %s", patientID)
	}
	p, err := pc.Patient()
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Patient %s: %d-year-old %s\n", pc.ID, p.Age, p.Gender)
	fmt.Fprintf(out, "History:    %s\n", p.History)
	fmt.Fprintf(out, "Symptoms:   %s\n", p.Symptoms)
	if p.AdditionalInfo != "" {
		fmt.Fprintf(out, "Findings:   %s\n", p.AdditionalInfo)
	}

	session, err := st.SessionByPatient(patientID)
	if err != nil {
		return err
	}
	if session != nil {
		fmt.Fprintf(out, "Progress:   test %d attempt(s) %d pts, diagnosis %d attempt(s) %d pts, total %d/10\n",
			session.TestAttempts, session.LabTestPoints,
			session.DiagnosisAttempts, session.DiagnosisPoints, session.TotalPoints)
	}

	msgs, err := st.Messages(patientID)
	if err != nil {
		return err
	}
	if len(msgs) > 0 {
		fmt.Fprintln(out, "\nTranscript:")
		for _, m := range msgs {
			printMessage(out, m)
		}
	}
	return nil
}
