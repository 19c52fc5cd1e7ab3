package main

import (
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/campusgrid/campusgrid/pkg/security"
	"github.com/campusgrid/campusgrid/pkg/store"
	"github.com/campusgrid/campusgrid/pkg/types"
)

// openStore opens the manager database for an admin command. These commands
// run on the manager host; WAL mode lets them read alongside a live manager.
func openStore(cmd *cobra.Command) (*store.SQLStore, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("db") {
		cfg.Manager.DBPath, _ = cmd.Flags().GetString("db")
	}
	return store.Open(cfg.Manager.DBPath, store.Options{
		StartingCredits: cfg.Manager.StartingCredits,
		MinJobCost:      cfg.Manager.MinJobCost,
		MaxJobAttempts:  cfg.Manager.MaxJobRetries,
	})
}

func newTabWriter() *tabwriter.Writer {
	return tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
}

func shortTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}

// User commands
var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage grid user accounts",
}

var userCreateCmd = &cobra.Command{
	Use:   "create USERNAME",
	Short: "Create a user account with the starting credit balance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		username := args[0]
		password, _ := cmd.Flags().GetString("password")
		email, _ := cmd.Flags().GetString("email")
		role, _ := cmd.Flags().GetString("role")

		hash, err := security.HashPassword(password)
		if err != nil {
			return err
		}

		st, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer st.Close()

		user, err := st.CreateUser(username, hash, email, types.UserRole(role))
		if err != nil {
			return fmt.Errorf("failed to create user: %w", err)
		}

		fmt.Printf("✓ User created: %s (ID: %s, credits: %d)\n",
			user.Username, user.ID, user.Credits)
		return nil
	},
}

var userShowCmd = &cobra.Command{
	Use:   "show USERNAME",
	Short: "Show a user's balance and recent transactions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer st.Close()

		user, err := st.GetUserByUsername(args[0])
		if err != nil {
			return err
		}

		fmt.Printf("User: %s (%s)\n", user.Username, user.Role)
		fmt.Printf("Credits: %d\n", user.Credits)
		fmt.Printf("Member since: %s\n", shortTime(user.CreatedAt))
		fmt.Println()

		txns, err := st.ListUserTransactions(user.ID)
		if err != nil {
			return err
		}

		w := newTabWriter()
		fmt.Fprintln(w, "WHEN\tAMOUNT\tTYPE\tDESCRIPTION")
		for _, tx := range txns {
			fmt.Fprintf(w, "%s\t%+d\t%s\t%s\n",
				shortTime(tx.CreatedAt), tx.Amount, tx.Type, tx.Description)
		}
		return w.Flush()
	},
}

var userCreditsCmd = &cobra.Command{
	Use:   "credits USERNAME AMOUNT",
	Short: "Grant credits to a user",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		amount, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("amount must be an integer: %v", args[1])
		}
		reason, _ := cmd.Flags().GetString("reason")

		st, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer st.Close()

		user, err := st.GetUserByUsername(args[0])
		if err != nil {
			return err
		}
		if err := st.GrantCredits(user.ID, amount, reason); err != nil {
			return fmt.Errorf("failed to grant credits: %w", err)
		}

		fmt.Printf("✓ Granted %d credits to %s\n", amount, user.Username)
		return nil
	},
}

// Job commands
var jobCmd = &cobra.Command{
	Use:   "job",
	Short: "Submit and inspect jobs",
}

var jobSubmitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a Python job to the grid",
	Long: `Submit a Python script for execution on the grid.

The job is charged to the submitting user up front; the cost depends on
the CPU, RAM, GPU and timeout requested.

Examples:
  # A small job with defaults (1 CPU, 1 GB RAM, 5 minute timeout)
  campusgrid job submit --user alice --file train.py --title "quick run"

  # A GPU job with extra resources
  campusgrid job submit --user alice --file train.py --title "training" \
    --cpu 4 --ram 8 --gpu --timeout 600 --requirements requirements.txt`,
	RunE: func(cmd *cobra.Command, args []string) error {
		username, _ := cmd.Flags().GetString("user")
		file, _ := cmd.Flags().GetString("file")
		title, _ := cmd.Flags().GetString("title")
		reqFile, _ := cmd.Flags().GetString("requirements")
		cpu, _ := cmd.Flags().GetInt("cpu")
		ram, _ := cmd.Flags().GetFloat64("ram")
		gpu, _ := cmd.Flags().GetBool("gpu")
		timeout, _ := cmd.Flags().GetInt("timeout")
		priority, _ := cmd.Flags().GetInt("priority")

		code, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("failed to read script: %w", err)
		}

		var requirements string
		if reqFile != "" {
			data, err := os.ReadFile(reqFile)
			if err != nil {
				return fmt.Errorf("failed to read requirements: %w", err)
			}
			requirements = string(data)
		}

		st, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer st.Close()

		user, err := st.GetUserByUsername(username)
		if err != nil {
			return err
		}

		job, err := st.SubmitJob(types.JobRequest{
			Title:          title,
			SubmitterID:    user.ID,
			Code:           string(code),
			Requirements:   requirements,
			CPURequired:    cpu,
			RAMRequiredGb:  ram,
			GPURequired:    gpu,
			TimeoutSeconds: timeout,
			Priority:       priority,
		})
		if err != nil {
			return fmt.Errorf("failed to submit job: %w", err)
		}

		fmt.Printf("✓ Job submitted: %s\n", job.ID)
		fmt.Printf("  Cost: %d credits (reward %d on completion)\n",
			job.CreditCost, job.CreditReward)
		return nil
	},
}

var jobListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")

		st, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer st.Close()

		jobs, err := st.ListJobs(types.JobStatus(status), limit)
		if err != nil {
			return err
		}

		w := newTabWriter()
		fmt.Fprintln(w, "ID\tTITLE\tSTATUS\tPRI\tSUBMITTER\tWORKER\tCREATED")
		for _, j := range jobs {
			worker := j.WorkerName
			if worker == "" {
				worker = "-"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
				j.ID, j.Title, j.Status, j.Priority,
				j.SubmitterName, worker, shortTime(j.CreatedAt))
		}
		return w.Flush()
	},
}

var jobShowCmd = &cobra.Command{
	Use:   "show JOB_ID",
	Short: "Show a job's details and result",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer st.Close()

		job, err := st.GetJob(args[0])
		if err != nil {
			return err
		}

		fmt.Printf("Job: %s\n", job.ID)
		fmt.Printf("  Title: %s\n", job.Title)
		fmt.Printf("  Status: %s (attempt %d)\n", job.Status, job.Attempts)
		fmt.Printf("  Priority: %d\n", job.Priority)
		fmt.Printf("  Resources: %d CPU, %.1f GB RAM, GPU: %v, timeout %ds\n",
			job.CPURequired, job.RAMRequiredGb, job.GPURequired, job.TimeoutSeconds)
		fmt.Printf("  Cost/Reward: %d/%d credits\n", job.CreditCost, job.CreditReward)
		fmt.Printf("  Created: %s\n", shortTime(job.CreatedAt))
		if job.WorkerName != "" {
			fmt.Printf("  Worker: %s\n", job.WorkerName)
		}
		if !job.CompletedAt.IsZero() {
			fmt.Printf("  Completed: %s (%.2fs execution)\n",
				shortTime(job.CompletedAt), job.ExecutionTime)
		}
		if job.ResultOutput != "" {
			fmt.Printf("\nOutput:\n%s\n", job.ResultOutput)
		}
		if job.ErrorLog != "" {
			fmt.Printf("\nErrors:\n%s\n", job.ErrorLog)
		}
		return nil
	},
}

// Worker admin commands (under the same "worker" group as start)
var workerListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered workers",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer st.Close()

		workers, err := st.ListWorkers()
		if err != nil {
			return err
		}

		w := newTabWriter()
		fmt.Fprintln(w, "ID\tNAME\tOWNER\tSTATUS\tCPU\tRAM\tGPU\tJOBS\tLAST SEEN")
		for _, wk := range workers {
			owner := wk.OwnerName
			if owner == "" {
				owner = "-"
			}
			gpu := wk.Specs.GPUName
			if gpu == "" {
				gpu = "-"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%.0fGB\t%s\t%d\t%s\n",
				wk.ID, wk.Name, owner, wk.Status,
				wk.Specs.CPUCores, wk.Specs.RAMGb, gpu,
				wk.JobsCompleted, shortTime(wk.LastHeartbeat))
		}
		return w.Flush()
	},
}

var workerPauseCmd = &cobra.Command{
	Use:   "pause WORKER_ID",
	Short: "Pause a worker so it receives no new jobs",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.PauseWorker(args[0]); err != nil {
			return err
		}
		fmt.Printf("✓ Worker paused: %s\n", args[0])
		return nil
	},
}

var workerResumeCmd = &cobra.Command{
	Use:   "resume WORKER_ID",
	Short: "Resume a paused worker",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.ResumeWorker(args[0]); err != nil {
			return err
		}
		fmt.Printf("✓ Worker resumed: %s\n", args[0])
		return nil
	},
}

var workerRemoveCmd = &cobra.Command{
	Use:   "remove WORKER_ID",
	Short: "Remove a worker from the grid",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.RemoveWorker(args[0]); err != nil {
			return err
		}
		fmt.Printf("✓ Worker removed: %s\n", args[0])
		return nil
	},
}

// Grid-wide views
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show queue and worker statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer st.Close()

		stats, err := st.QueueStats()
		if err != nil {
			return err
		}

		fmt.Println("Grid status:")
		fmt.Printf("  Pending jobs: %d\n", stats.Pending)
		fmt.Printf("  Running jobs: %d\n", stats.Running)
		fmt.Printf("  Completed jobs: %d\n", stats.Completed)
		fmt.Printf("  Failed jobs: %d\n", stats.Failed)
		fmt.Printf("  Online workers: %d\n", stats.OnlineWorkers)
		return nil
	},
}

var leaderboardCmd = &cobra.Command{
	Use:   "leaderboard",
	Short: "Show the top credit earners",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		st, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer st.Close()

		entries, err := st.Leaderboard(limit)
		if err != nil {
			return err
		}

		w := newTabWriter()
		fmt.Fprintln(w, "RANK\tUSER\tCREDITS\tWORKERS\tJOBS DONE")
		for i, e := range entries {
			fmt.Fprintf(w, "%d\t%s\t%d\t%d\t%d\n",
				i+1, e.Username, e.Credits, e.ActiveWorkers, e.JobsCompleted)
		}
		return w.Flush()
	},
}

var activityCmd = &cobra.Command{
	Use:   "activity",
	Short: "Show recent grid activity",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		st, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer st.Close()

		entries, err := st.RecentActivity(limit)
		if err != nil {
			return err
		}

		w := newTabWriter()
		fmt.Fprintln(w, "WHEN\tEVENT\tDETAILS")
		for _, a := range entries {
			fmt.Fprintf(w, "%s\t%s\t%s\n",
				shortTime(a.CreatedAt), a.EventType, a.Details)
		}
		return w.Flush()
	},
}

func init() {
	userCmd.AddCommand(userCreateCmd)
	userCmd.AddCommand(userShowCmd)
	userCmd.AddCommand(userCreditsCmd)

	jobCmd.AddCommand(jobSubmitCmd)
	jobCmd.AddCommand(jobListCmd)
	jobCmd.AddCommand(jobShowCmd)

	workerCmd.AddCommand(workerListCmd)
	workerCmd.AddCommand(workerPauseCmd)
	workerCmd.AddCommand(workerResumeCmd)
	workerCmd.AddCommand(workerRemoveCmd)

	for _, c := range []*cobra.Command{
		userCreateCmd, userShowCmd, userCreditsCmd,
		jobSubmitCmd, jobListCmd, jobShowCmd,
		workerListCmd, workerPauseCmd, workerResumeCmd, workerRemoveCmd,
		statsCmd, leaderboardCmd, activityCmd,
	} {
		c.Flags().String("db", "campus_compute.db", "SQLite database path")
	}

	userCreateCmd.Flags().String("password", "", "Account password")
	userCreateCmd.Flags().String("email", "", "Contact email")
	userCreateCmd.Flags().String("role", "user", "Account role (user, coordinator)")
	userCreateCmd.MarkFlagRequired("password")

	userCreditsCmd.Flags().String("reason", "admin grant", "Ledger description")

	jobSubmitCmd.Flags().String("user", "", "Submitting username")
	jobSubmitCmd.Flags().StringP("file", "f", "", "Python script to run")
	jobSubmitCmd.Flags().String("title", "", "Job title")
	jobSubmitCmd.Flags().String("requirements", "", "pip requirements file")
	jobSubmitCmd.Flags().Int("cpu", 1, "CPU cores required")
	jobSubmitCmd.Flags().Float64("ram", 1, "RAM required in GB")
	jobSubmitCmd.Flags().Bool("gpu", false, "Require a GPU")
	jobSubmitCmd.Flags().Int("timeout", 300, "Timeout in seconds")
	jobSubmitCmd.Flags().Int("priority", 5, "Priority 1-10, higher runs first")
	jobSubmitCmd.MarkFlagRequired("user")
	jobSubmitCmd.MarkFlagRequired("file")
	jobSubmitCmd.MarkFlagRequired("title")

	jobListCmd.Flags().String("status", "", "Filter by status (pending, running, completed, failed)")
	jobListCmd.Flags().Int("limit", 20, "Maximum rows")

	leaderboardCmd.Flags().Int("limit", 10, "Maximum rows")
	activityCmd.Flags().Int("limit", 20, "Maximum rows")
}
