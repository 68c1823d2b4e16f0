package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"gradi/internal/dlq"
	"gradi/internal/logging"
	"gradi/internal/queue"
)

func newDLQCommand(ctx *commandContext) *cobra.Command {
	var dlqURL string

	cmd := &cobra.Command{
		Use:   "dlq",
		Short: "Inspect and drain the input dead-letter queue",
	}
	cmd.PersistentFlags().StringVar(&dlqURL, "dlq", "", "Dead-letter queue URL (defaults to queue.dlq_url or {input}-dlq)")

	open := func(cmd *cobra.Command) (*dlq.Tool, *queue.Topology, error) {
		cfg, err := ctx.ensureConfig()
		if err != nil {
			return nil, nil, err
		}
		if url := strings.TrimSpace(dlqURL); url != "" {
			cfg.Queue.DLQURL = url
		}
		_, topo, err := ctx.openTopology(cmd.Context())
		if err != nil {
			return nil, nil, err
		}
		tool, err := dlq.New(topo.Input, topo.DeadLetter, logging.NewNop())
		if err != nil {
			_ = topo.Close()
			return nil, nil, err
		}
		return tool, topo, nil
	}

	cmd.AddCommand(newDLQStatusCommand(open))
	cmd.AddCommand(newDLQPeekCommand(open))
	cmd.AddCommand(newDLQPurgeCommand(open))
	cmd.AddCommand(newDLQRedriveCommand(open))
	cmd.AddCommand(newDLQSetupCommand(ctx))
	return cmd
}

type dlqOpener func(*cobra.Command) (*dlq.Tool, *queue.Topology, error)

func newDLQStatusCommand(open dlqOpener) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show approximate depths of the input and dead-letter queues",
		RunE: func(cmd *cobra.Command, args []string) error {
			tool, topo, err := open(cmd)
			if err != nil {
				return err
			}
			defer topo.Close()

			out := cmd.OutOrStdout()
			p := newPalette(out)
			rows := make([][]string, 0, 2)
			for _, s := range tool.Status(cmd.Context()) {
				if s.Err != nil {
					rows = append(rows, []string{s.Role, s.Name, p.bad.Sprint("error"), "", "", "", s.Err.Error()})
					continue
				}
				visible := humanize.Comma(s.Stats.Visible)
				if s.Role == "dead-letter" && s.Stats.Visible > 0 {
					visible = p.warn.Sprint(visible)
				}
				rows = append(rows, []string{
					s.Role,
					s.Name,
					visible,
					humanize.Comma(s.Stats.InFlight),
					humanize.Comma(s.Stats.Delayed),
					s.Created(),
					s.Modified(),
				})
			}
			fmt.Fprintln(out, renderTable("", []string{"Role", "Queue", "Visible", "In flight", "Delayed", "Created", "Modified"}, rows,
				[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignRight, alignLeft, alignLeft}))
			return nil
		},
	}
}

func newDLQPeekCommand(open dlqOpener) *cobra.Command {
	var max int
	var showBody bool

	cmd := &cobra.Command{
		Use:   "peek",
		Short: "Show dead-lettered messages without removing them",
		RunE: func(cmd *cobra.Command, args []string) error {
			if max < 1 || max > dlq.MaxPeek {
				return fmt.Errorf("--max must be between 1 and %d", dlq.MaxPeek)
			}
			tool, topo, err := open(cmd)
			if err != nil {
				return err
			}
			defer topo.Close()

			msgs, err := tool.Peek(cmd.Context(), max)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(msgs) == 0 {
				fmt.Fprintln(out, "Dead-letter queue is empty")
				return nil
			}
			rows := make([][]string, 0, len(msgs))
			for _, m := range msgs {
				sent := "-"
				if !m.SentAt.IsZero() {
					sent = humanize.Time(m.SentAt)
				}
				rows = append(rows, []string{m.ID, m.EventType, m.ExamCode, m.Filename, strconv.Itoa(m.ReceiveCount), sent})
			}
			fmt.Fprintln(out, renderTable("", []string{"Message", "Event", "Exam", "File", "Receives", "Sent"}, rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft}))
			if showBody {
				for _, m := range msgs {
					fmt.Fprintf(out, "%s: %s\n", m.ID, m.Body)
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&max, "max", 5, "Messages to show (1-10)")
	cmd.Flags().BoolVar(&showBody, "body", false, "Print raw message bodies")
	return cmd
}

func newDLQPurgeCommand(open dlqOpener) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete every message in the dead-letter queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			tool, topo, err := open(cmd)
			if err != nil {
				return err
			}
			defer topo.Close()

			out := cmd.OutOrStdout()
			if !yes {
				ok, err := confirm(cmd.InOrStdin(), out, fmt.Sprintf("Purge every message in %s?", topo.DeadLetter.Name()))
				if err != nil {
					return err
				}
				if !ok {
					fmt.Fprintln(out, "Purge cancelled")
					return nil
				}
			}
			if err := tool.Purge(cmd.Context()); err != nil {
				if errors.Is(err, queue.ErrPurgeInProgress) {
					fmt.Fprintln(out, "A purge is already in progress; SQS allows one purge per 60 seconds")
					return nil
				}
				return err
			}
			fmt.Fprintln(out, "Dead-letter queue purged")
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip the confirmation prompt")
	return cmd
}

func newDLQRedriveCommand(open dlqOpener) *cobra.Command {
	var max int

	cmd := &cobra.Command{
		Use:   "redrive",
		Short: "Move dead-lettered messages back to the input queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			tool, topo, err := open(cmd)
			if err != nil {
				return err
			}
			defer topo.Close()

			report, err := tool.Redrive(cmd.Context(), max)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Redrove %s message(s) to %s\n", humanize.Comma(int64(report.Moved)), topo.Input.Name())
			if report.Failed > 0 {
				return fmt.Errorf("%d message(s) could not be redriven", report.Failed)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&max, "max", 0, "Maximum messages to move (0 moves everything)")
	return cmd
}

func newDLQSetupCommand(ctx *commandContext) *cobra.Command {
	var maxReceive int

	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Create the dead-letter queue and attach the redrive policy",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, topo, err := ctx.openTopology(cmd.Context())
			if err != nil {
				return err
			}
			defer topo.Close()

			if maxReceive <= 0 {
				maxReceive = cfg.Queue.DLQMaxReceiveCount
			}
			provisioner, _ := topo.Input.(queue.Provisioner)
			url, err := dlq.Setup(cmd.Context(), provisioner, cfg.Queue.InputURL, maxReceive)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Dead-letter queue ready: %s (maxReceiveCount=%d)\n", url, maxReceive)
			return nil
		},
	}
	cmd.Flags().IntVar(&maxReceive, "max-receive", 0, "Receives before a message is dead-lettered (defaults to queue.dlq_max_receive_count)")
	return cmd
}

func confirm(in io.Reader, out io.Writer, question string) (bool, error) {
	p := newPalette(out)
	fmt.Fprintf(out, "%s [y/N]: ", p.warn.Sprint(question))
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, fmt.Errorf("read confirmation: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}
