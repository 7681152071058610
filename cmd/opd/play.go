package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/digitalopd/opd/internal/game"
	"github.com/digitalopd/opd/internal/models"
	"github.com/digitalopd/opd/internal/syncer"
)

func newPlayCmd() *cobra.Command {
	var (
		configPath string
		patientID  string
	)

	cmd := &cobra.Command{
		Use:   "play",
		Short: "Play a diagnostic case interactively",
		Long: `Opens a patient case and starts the chat loop with the senior doctor.

Everything you type is submitted as a lab-test request until the test phase
is passed, then as a diagnosis. Slash commands: /score, /status, /retry,
/next, /quit.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlay(cmd, configPath, patientID)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "opd.yaml", "path to config file")
	cmd.Flags().StringVarP(&patientID, "patient", "p", "1", "patient case id to open")
	return cmd
}

func runPlay(cmd *cobra.Command, configPath, patientID string) error {
	eng, err := buildEngine(configPath)
	if err != nil {
		return err
	}
	defer eng.close()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	out := cmd.OutOrStdout()

	// Status banner on every sync state transition.
	unsub := eng.syncer.Subscribe(func(s syncer.Snapshot) {
		fmt.Fprintf(out, "-- %s (network=%s, queued=%d)\n", s.Status, s.ConnectionType, s.QueuedCount)
	})
	defer unsub()

	eng.monitor.Start(ctx)
	go eng.syncer.Run(ctx)

	return playLoop(ctx, out, cmd.InOrStdin(), eng.game, eng.syncer, patientID)
}

// playLoop runs the interactive session against one patient case.
func playLoop(ctx context.Context, out io.Writer, in io.Reader, ctrl *game.Controller, orc *syncer.Orchestrator, patientID string) error {
	session, msgs, err := ctrl.Open(ctx, patientID)
	if err != nil {
		return err
	}
	for _, m := range msgs {
		printMessage(out, m)
	}

	scanner := bufio.NewScanner(in)
	fmt.Fprint(out, "> ")
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			fmt.Fprint(out, "> ")
			continue
		}

		switch {
		case line == "/quit":
			return nil
		case line == "/score":
			b, err := ctrl.Breakdown(patientID)
			if err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
			} else {
				fmt.Fprintf(out, "Lab test: %d/%d  Diagnosis: %d/%d  Total: %d/%d\n",
					b.LabTest, b.MaxPhase, b.Diagnosis, b.MaxPhase, b.Total, b.MaxTotal)
			}
		case line == "/status":
			s := orc.Snapshot()
			fmt.Fprintf(out, "network=%v type=%s channel=%v status=%s queued=%d\n",
				s.NetworkOnline, s.ConnectionType, s.ChannelConnected, s.Status, s.QueuedCount)
		case line == "/retry":
			orc.RetrySync()
			fmt.Fprintln(out, "Sync retry scheduled.")
		case line == "/next":
			next, err := ctrl.RequestNextPatient(ctx, patientID)
			if err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
				break
			}
			patientID = next
			session, msgs, err = ctrl.Open(ctx, patientID)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "-- Now seeing patient %s --\n", patientID)
			for _, m := range msgs {
				printMessage(out, m)
			}
		default:
			var res *game.Result
			var err error
			if !session.TestPassed() {
				res, err = ctrl.SubmitTestRequest(ctx, patientID, line)
			} else {
				res, err = ctrl.SubmitDiagnosis(ctx, patientID, line)
			}
			if err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
			}
			if res != nil {
				session = res.Session
				// Skip the user echo; the user just typed it.
				for _, m := range res.Messages[1:] {
					printMessage(out, m)
				}
				if res.Queued {
					fmt.Fprintln(out, "(queued for sync; will be sent when the connection returns)")
				}
				if session.IsCompleted {
					fmt.Fprintf(out, "Case complete! Final score %d/10. Type /next for another patient.\n",
						session.TotalPoints)
				}
			}
		}
		fmt.Fprint(out, "> ")
	}
	return scanner.Err()
}

func printMessage(out io.Writer, m models.Message) {
	label := m.Sender
	if m.Sender == models.SenderDoctor {
		label = "senior doctor"
	}
	if m.Points != nil {
		fmt.Fprintf(out, "[%s] %s (+%d points)\n", label, m.Content, *m.Points)
		return
	}
	fmt.Fprintf(out, "[%s] %s\n", label, m.Content)
}
