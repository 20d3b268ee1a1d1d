package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"edutrack/internal/graph"
)

var rejectReason string

// adminCmd groups the manual-review operations.
var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "Review parked ingestion jobs and inspect runs",
}

var adminJobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List ingestion jobs parked for manual review",
	RunE:  runAdminJobs,
}

var adminApproveCmd = &cobra.Command{
	Use:   "approve [job-id]",
	Short: "Approve a parked job for re-ingestion",
	Args:  cobra.ExactArgs(1),
	RunE:  runAdminApprove,
}

var adminRejectCmd = &cobra.Command{
	Use:   "reject [job-id]",
	Short: "Reject a parked job",
	Args:  cobra.ExactArgs(1),
	RunE:  runAdminReject,
}

var adminRunCmd = &cobra.Command{
	Use:   "run [request-id]",
	Short: "Show the persisted state of a past graph run",
	Args:  cobra.ExactArgs(1),
	RunE:  runAdminRun,
}

func init() {
	adminRejectCmd.Flags().StringVar(&rejectReason, "reason", "rejected by operator", "rejection reason recorded on the job")
	adminCmd.AddCommand(adminJobsCmd, adminApproveCmd, adminRejectCmd, adminRunCmd)
}

func runAdminJobs(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	app, err := openApp()
	if err != nil {
		return err
	}
	defer app.Close()

	jobs, err := app.store.ListPendingJobs(ctx)
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		fmt.Println(dimStyle.Render("no jobs pending review"))
		return nil
	}

	fmt.Println(headerStyle.Render(fmt.Sprintf("%d job(s) pending review", len(jobs))))
	for _, job := range jobs {
		fmt.Printf("%s  %s\n", nodeStyle.Render(job.JobID), job.SourceURL)
		if job.Reason != "" {
			fmt.Println(dimStyle.Render("    " + job.Reason))
		}
	}
	return nil
}

func runAdminApprove(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	app, err := openApp()
	if err != nil {
		return err
	}
	defer app.Close()

	if err := app.store.ApproveJob(ctx, args[0]); err != nil {
		return err
	}
	fmt.Println(successStyle.Render("approved: ") + args[0])
	return nil
}

func runAdminReject(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	app, err := openApp()
	if err != nil {
		return err
	}
	defer app.Close()

	if err := app.store.RejectJob(ctx, args[0], rejectReason); err != nil {
		return err
	}
	fmt.Println(warnStyle.Render("rejected: ") + args[0])
	return nil
}

func runAdminRun(cmd *cobra.Command, args []string) error {
	app, err := openApp()
	if err != nil {
		return err
	}
	defer app.Close()

	status, st, err := graph.LoadSnapshot(storageDir(app.cfg), args[0])
	if err != nil {
		return fmt.Errorf("loading run snapshot: %w", err)
	}

	fmt.Println(headerStyle.Render("run "+st.RequestID) + "  " + string(status))
	fmt.Println(dimStyle.Render("prompt: " + st.RawPrompt))
	for _, exec := range st.History {
		line := fmt.Sprintf("  %-20s %s", exec.Node, exec.Status)
		if exec.Error != "" {
			line += dimStyle.Render("  " + exec.Error)
		}
		fmt.Println(line)
	}
	if st.HasError {
		fmt.Println(errorStyle.Render(st.ErrorCode+": ") + st.ErrorMessage)
	}
	fmt.Printf("cost: $%.4f over %d model calls\n", st.Cost.EstimatedCostUSD, st.Cost.ModelCalls)
	return nil
}
