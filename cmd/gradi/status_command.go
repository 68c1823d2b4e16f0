package main

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"gradi/internal/daemon"
)

func (c *commandContext) apiClient() (*daemon.Client, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	return daemon.NewClient(cfg.Paths.APIBind, cfg.Paths.APIToken)
}

func wrapAPIError(err error) error {
	if errors.Is(err, daemon.ErrAPIUnavailable) {
		return fmt.Errorf("%w; start the worker with `gradi run` or check paths.api_bind", err)
	}
	return err
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the health of a running worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			health, err := client.Health(cmd.Context())
			if err != nil {
				return wrapAPIError(err)
			}
			if asJSON {
				return writeJSON(cmd, health)
			}
			renderHealth(cmd, health)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the raw health document")
	return cmd
}

func renderHealth(cmd *cobra.Command, health daemon.HealthReport) {
	out := cmd.OutOrStdout()
	p := newPalette(out)

	status := health.Status
	switch status {
	case "ok":
		status = p.ok.Sprint(status)
	case "degraded":
		status = p.warn.Sprint(status)
	default:
		status = p.bad.Sprint(status)
	}
	fmt.Fprintf(out, "%s %s\n", p.bold.Sprint("Worker:"), status)
	fmt.Fprintf(out, "Running: %s\n", yesNo(health.Running))
	if len(health.LoadedExams) > 0 {
		fmt.Fprintf(out, "Rosters: %s\n", strings.Join(health.LoadedExams, ", "))
	} else {
		fmt.Fprintln(out, "Rosters: none loaded")
	}
	if health.Workflow.LastError != "" {
		fmt.Fprintf(out, "Last error: %s\n", p.bad.Sprint(health.Workflow.LastError))
	}
	if msg := health.Workflow.LastMessage; msg != nil {
		fmt.Fprintf(out, "Last message: %s %s/%s → %s\n", msg.EventType, msg.ExamCode, msg.Filename, msg.Outcome)
	}
	if len(health.Workflow.ActiveBatches) > 0 {
		fmt.Fprintf(out, "Answer batches: %s\n", strings.Join(health.Workflow.ActiveBatches, ", "))
	}

	stageRows := make([][]string, 0, len(health.Stages))
	for _, s := range health.Stages {
		stageRows = append(stageRows, []string{s.Name, p.state(s.Ready), s.Detail})
	}
	fmt.Fprintln(out, renderTable("Stages", []string{"Stage", "State", "Detail"}, stageRows, nil))

	names := make([]string, 0, len(health.Workflow.Queues))
	for name := range health.Workflow.Queues {
		names = append(names, name)
	}
	slices.Sort(names)
	queueRows := make([][]string, 0, len(names))
	for _, name := range names {
		q := health.Workflow.Queues[name]
		queueRows = append(queueRows, []string{
			name,
			strconv.FormatInt(q.Visible, 10),
			strconv.FormatInt(q.InFlight, 10),
			strconv.FormatInt(q.Delayed, 10),
		})
	}
	if len(queueRows) > 0 {
		fmt.Fprintln(out, renderTable("Queues", []string{"Queue", "Visible", "In flight", "Delayed"}, queueRows,
			[]columnAlignment{alignLeft, alignRight, alignRight, alignRight}))
	}

	outcomes := make([]string, 0, len(health.Workflow.Outcomes))
	for name := range health.Workflow.Outcomes {
		outcomes = append(outcomes, name)
	}
	slices.Sort(outcomes)
	if len(outcomes) > 0 {
		rows := make([][]string, 0, len(outcomes))
		for _, name := range outcomes {
			rows = append(rows, []string{name, strconv.Itoa(health.Workflow.Outcomes[name])})
		}
		fmt.Fprintln(out, renderTable("Outcomes", []string{"Outcome", "Messages"}, rows, []columnAlignment{alignLeft, alignRight}))
	}
}

func newExamsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "exams",
		Short: "List exams with a loaded roster or answer key",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			exams, err := client.Exams(cmd.Context())
			if err != nil {
				return wrapAPIError(err)
			}
			if len(exams) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No exams loaded")
				return nil
			}
			rows := make([][]string, 0, len(exams))
			for _, exam := range exams {
				rows = append(rows, []string{exam.ExamCode, strconv.Itoa(exam.StudentCount), yesNo(exam.HasMetadata)})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable("", []string{"Exam", "Students", "Answer key"}, rows,
				[]columnAlignment{alignLeft, alignRight, alignLeft}))
			return nil
		},
	}
}

func newCorrectCommand(ctx *commandContext) *cobra.Command {
	var exam string

	cmd := &cobra.Command{
		Use:   "correct FILE=STUDENT_ID...",
		Short: "Assign student ids to images the worker could not identify",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := daemon.CorrectionRequest{ExamCode: strings.TrimSpace(exam)}
			for _, arg := range args {
				file, sid, ok := strings.Cut(arg, "=")
				if !ok || strings.TrimSpace(file) == "" {
					return fmt.Errorf("expected FILE=STUDENT_ID, got %q", arg)
				}
				req.Images = append(req.Images, daemon.CorrectionImage{FileName: strings.TrimSpace(file), StudentID: strings.TrimSpace(sid)})
			}
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			result, err := client.Correct(cmd.Context(), req)
			if err != nil {
				return wrapAPIError(err)
			}
			out := cmd.OutOrStdout()
			for _, key := range result.Keys {
				fmt.Fprintf(out, "copied %s\n", key)
			}
			fmt.Fprintln(out, result.Message)
			if !result.Success {
				return fmt.Errorf("%d of %d corrections failed", len(result.Errors), len(req.Images))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&exam, "exam", "", "Exam code the images belong to")
	_ = cmd.MarkFlagRequired("exam")
	return cmd
}
