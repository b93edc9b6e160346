package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/trident-re/mailroom/internal/actions"
	"github.com/trident-re/mailroom/internal/ai"
	"github.com/trident-re/mailroom/internal/config"
	"github.com/trident-re/mailroom/internal/email"
	"github.com/trident-re/mailroom/internal/extract"
	"github.com/trident-re/mailroom/internal/mailbox"
	"github.com/trident-re/mailroom/internal/match"
	"github.com/trident-re/mailroom/internal/pipeline"
	"github.com/trident-re/mailroom/internal/property"
	"github.com/trident-re/mailroom/internal/queue"
	"github.com/trident-re/mailroom/internal/respond"
	"github.com/trident-re/mailroom/internal/web"
)

var cfgFile string

func resolveConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return config.DefaultConfigPath()
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "mailroom",
		Short: "Mailroom - transaction email pipeline for Trident Properties",
		Long: `Mailroom watches a shared transaction inbox, classifies incoming email,
files documents against the matching property, and generates follow-up
tasks, calendar events, and notes.

It runs as a single process: an IMAP poll loop, a local admin API for
the dashboard, and a sqlite store.`,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.mailroom/config.yaml)")

	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(queueCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(reprocessCmd())
	rootCmd.AddCommand(assignCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize configuration interactively",
		Long:  "Create a new configuration file with mailbox, SMTP, and AI service settings.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit()
		},
	}
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the pipeline and admin API",
		Long:  "Start the mailbox poll loop and serve the admin API until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline()
		},
	}
}

func queueCmd() *cobra.Command {
	var status string
	var limit int

	cmd := &cobra.Command{
		Use:   "queue",
		Short: "List queued emails",
		Long:  "Show emails in the processing queue, optionally filtered by status.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQueue(status, limit)
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "filter by status (pending, processing, processed, failed, ignored, manual_review)")
	cmd.Flags().IntVar(&limit, "limit", 20, "number of emails to show")
	return cmd
}

func statsCmd() *cobra.Command {
	var hours int

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show queue statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats(hours)
		},
	}

	cmd.Flags().IntVar(&hours, "hours", 0, "only count emails received in the last N hours (0 = all)")
	return cmd
}

func reprocessCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reprocess <email-id>",
		Short: "Reprocess a failed or review-parked email",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid email id %q", args[0])
			}
			return runReprocess(id)
		},
	}
}

func assignCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "assign <email-id> <property-id>",
		Short: "Manually assign an email to a property",
		Long:  "Pin an email to a property with full confidence and generate its artifacts.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid email id %q", args[0])
			}
			return runAssign(id, args[1])
		},
	}
}

func prompt(reader *bufio.Reader, label string) string {
	fmt.Print(label)
	line, _ := reader.ReadString('\n')
	return strings.TrimSpace(line)
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("Mailroom Configuration Setup")
	fmt.Println("============================")
	fmt.Println()

	cfg := &config.Config{}

	fmt.Println("Mailbox (IMAP) settings for the shared transaction inbox:")
	fmt.Println("  (use an app password, not the account password)")
	fmt.Println()
	cfg.Mailbox.Provider = prompt(reader, "  Provider (gmail/outlook/imap) [gmail]: ")
	if cfg.Mailbox.Provider == "" {
		cfg.Mailbox.Provider = "gmail"
	}
	cfg.Mailbox.Email = prompt(reader, "  Email address: ")
	cfg.Mailbox.Password = prompt(reader, "  App password: ")
	if cfg.Mailbox.Provider == "imap" {
		cfg.Mailbox.Server = prompt(reader, "  IMAP server: ")
		if port := prompt(reader, "  IMAP port [993]: "); port != "" {
			cfg.Mailbox.Port, _ = strconv.Atoi(port)
		} else {
			cfg.Mailbox.Port = 993
		}
	}

	fmt.Println()
	fmt.Println("Outbound mail (SMTP):")
	fmt.Println()
	cfg.SMTP.Host = prompt(reader, "  SMTP host [smtp.gmail.com]: ")
	if cfg.SMTP.Host == "" {
		cfg.SMTP.Host = "smtp.gmail.com"
	}
	if port := prompt(reader, "  SMTP port [465]: "); port != "" {
		cfg.SMTP.Port, _ = strconv.Atoi(port)
	} else {
		cfg.SMTP.Port = 465
	}
	cfg.SMTP.UseTLS = true
	cfg.SMTP.Username = cfg.Mailbox.Email
	cfg.SMTP.Password = prompt(reader, "  SMTP app password (blank to reuse mailbox password): ")
	if cfg.SMTP.Password == "" {
		cfg.SMTP.Password = cfg.Mailbox.Password
	}
	cfg.SMTP.From = cfg.Mailbox.Email

	fmt.Println()
	fmt.Println("AI service:")
	fmt.Println()
	cfg.AI.Endpoint = prompt(reader, "  Endpoint URL: ")
	cfg.AI.APIKey = prompt(reader, "  API key: ")
	cfg.AI.Model = prompt(reader, "  Model identifier: ")

	cfg.ApplyDefaults()

	configPath := resolveConfigPath()
	if err := config.Save(configPath, cfg); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	fmt.Println()
	fmt.Printf("Configuration saved to: %s\n", configPath)
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Println("  1. Review and edit the config file if needed")
	fmt.Println("  2. Run 'mailroom run' to start the pipeline")
	fmt.Printf("  3. Open the dashboard against http://127.0.0.1:%d/api\n", cfg.Admin.Port)

	return nil
}

// buildStack assembles the stores and pipeline components shared by the run
// and admin commands.
func buildStack(cfg *config.Config) (*queue.Store, *property.Store, *pipeline.Orchestrator, *respond.Dispatcher, error) {
	qs, err := queue.NewStore(cfg.Store.Path)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	ps, err := property.NewStore(qs.DB())
	if err != nil {
		qs.Close()
		return nil, nil, nil, nil, err
	}

	engine, err := respond.NewEngine()
	if err != nil {
		qs.Close()
		return nil, nil, nil, nil, err
	}

	client := ai.NewClient(cfg.AI)
	sender := email.NewSMTPSender(cfg.SMTP)
	dispatcher := respond.NewDispatcher(engine, sender, qs, cfg.SMTP, cfg.Respond)

	orch := pipeline.New(cfg, qs, ps,
		mailbox.NewClient(cfg.Mailbox),
		client,
		extract.NewExtractor(cfg.Pipeline, client),
		match.NewMatcher(ps),
		actions.NewGenerator(qs, ps),
		dispatcher)

	return qs, ps, orch, dispatcher, nil
}

func runPipeline() error {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return fmt.Errorf("failed to load config (run 'mailroom init' first): %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	qs, ps, orch, dispatcher, err := buildStack(cfg)
	if err != nil {
		return err
	}
	defer qs.Close()

	orch.Start()

	server := web.NewServer(cfg, qs, ps, orch, dispatcher)
	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		fmt.Printf("\nReceived %v, shutting down...\n", sig)
	case err := <-errCh:
		if err != nil {
			orch.Stop()
			return err
		}
	}

	orch.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(ctx)
}

func runQueue(status string, limit int) error {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return err
	}

	qs, err := queue.NewStore(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer qs.Close()

	records, err := qs.ListEmails(queue.Status(status), limit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("No emails in the queue.")
		return nil
	}

	fmt.Printf("%-6s %-14s %-30s %-36s %s\n", "ID", "STATUS", "FROM", "SUBJECT", "RECEIVED")
	for _, r := range records {
		subject := r.Subject
		if len(subject) > 34 {
			subject = subject[:31] + "..."
		}
		from := r.From
		if len(from) > 28 {
			from = from[:25] + "..."
		}
		fmt.Printf("%-6d %-14s %-30s %-36s %s\n",
			r.ID, r.Status, from, subject, r.ReceivedAt.Format("Jan 2 15:04"))
		if r.Error != "" {
			fmt.Printf("       error: %s\n", r.Error)
		}
	}
	return nil
}

func runStats(hours int) error {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return err
	}

	qs, err := queue.NewStore(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer qs.Close()

	var since time.Time
	if hours > 0 {
		since = time.Now().Add(-time.Duration(hours) * time.Hour)
	}

	stats, err := qs.Stats(since)
	if err != nil {
		return err
	}

	total := 0
	for _, n := range stats {
		total += n
	}

	fmt.Printf("Queue statistics")
	if hours > 0 {
		fmt.Printf(" (last %dh)", hours)
	}
	fmt.Println(":")
	for _, status := range []queue.Status{
		queue.StatusPending, queue.StatusProcessing, queue.StatusProcessed,
		queue.StatusManualReview, queue.StatusIgnored, queue.StatusFailed,
	} {
		fmt.Printf("  %-14s %d\n", status, stats[status])
	}
	fmt.Printf("  %-14s %d\n", "total", total)
	return nil
}

func runReprocess(emailID int64) error {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return err
	}

	qs, _, orch, _, err := buildStack(cfg)
	if err != nil {
		return err
	}
	defer qs.Close()

	if err := orch.Reprocess(context.Background(), emailID); err != nil {
		return err
	}

	rec, err := qs.GetEmail(emailID)
	if err != nil {
		return err
	}
	fmt.Printf("Email %d reprocessed: %s\n", emailID, rec.Status)
	return nil
}

func runAssign(emailID int64, propertyID string) error {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return err
	}

	qs, _, orch, _, err := buildStack(cfg)
	if err != nil {
		return err
	}
	defer qs.Close()

	if err := orch.AssignProperty(context.Background(), emailID, propertyID); err != nil {
		return err
	}
	fmt.Printf("Email %d assigned to property %s\n", emailID, propertyID)
	return nil
}
