// Command tome drives human-reviewed book generation from the terminal.
//
// Usage:
//
//	tome [-config file] [-verbose] <command> [arguments]
//
// The commands are:
//
//	start    begin a new book session
//	check    consume pending reviewer feedback for a session
//	status   list sessions
//	show     print one session in detail
//	resume   re-drive a session after a crash or a frozen failure
//	abandon  force-fail a session
//	watch    poll for reviewer feedback until interrupted
//
// Configuration is read from -config, or from $TOME_CONFIG when the flag is
// absent; see internal/config for the file format and the TOME_* environment
// overrides.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
	_ "modernc.org/sqlite"

	"github.com/jmakela/tome"
	"github.com/jmakela/tome/internal/config"
)

func main() {
	configPath := flag.String("config", "", "configuration file (default $TOME_CONFIG)")
	verbose := flag.Bool("verbose", false, "enable debug logging")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath, logger, flag.Arg(0), flag.Args()[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "tome: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprint(os.Stderr, `Usage: tome [-config file] [-verbose] <command> [arguments]

Commands:
  start    begin a new book session
  check    consume pending reviewer feedback for a session
  status   list sessions
  show     print one session in detail
  resume   re-drive a session after a crash or a frozen failure
  abandon  force-fail a session
  watch    poll for reviewer feedback until interrupted

Flags:
`)
	flag.PrintDefaults()
}

func run(ctx context.Context, configPath string, logger *slog.Logger, command string, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	switch command {
	case "start":
		return cmdStart(ctx, cfg, logger, args)
	case "check":
		return cmdCheck(ctx, cfg, logger, args)
	case "status":
		return cmdStatus(ctx, cfg, logger, args)
	case "show":
		return cmdShow(ctx, cfg, logger, args)
	case "resume":
		return cmdResume(ctx, cfg, logger, args)
	case "abandon":
		return cmdAbandon(ctx, cfg, logger, args)
	case "watch":
		return cmdWatch(ctx, cfg, logger, args)
	default:
		return fmt.Errorf("unknown command %q (run tome without arguments for usage)", command)
	}
}

// buildOrchestrator assembles the orchestrator described by cfg. The
// returned cleanup closes whatever connection the store driver opened.
func buildOrchestrator(cfg *config.Config, logger *slog.Logger) (tome.Orchestrator, func(), error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	gen, err := tome.NewOpenAIGenerator(tome.GeneratorOptions{
		Model:       cfg.LLM.Model,
		APIKey:      cfg.LLM.APIKey,
		BaseURL:     cfg.LLM.BaseURL,
		Temperature: cfg.LLM.Temperature,
	})
	if err != nil {
		return nil, nil, err
	}

	channel, err := tome.NewWorkbookChannel(cfg.Review.Workbook)
	if err != nil {
		return nil, nil, err
	}

	sink := tome.NewLoggingSink(logger)
	if cfg.Notify.Host != "" {
		smtp, err := tome.NewSMTPSink(tome.SMTPConfig{
			Host:     cfg.Notify.Host,
			Port:     cfg.Notify.Port,
			Username: cfg.Notify.Username,
			Password: cfg.Notify.Password,
			From:     cfg.Notify.From,
			To:       cfg.Notify.To,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		sink = tome.NewMultiSink(smtp, sink)
	}

	opts := tome.Options{
		Generator:   gen,
		Channel:     channel,
		Sink:        sink,
		Observer:    tome.NewLoggingObserver(logger),
		Retry:       cfg.RetryPolicy(),
		Logger:      logger,
		FinalReview: cfg.Workflow.FinalReview,
	}

	switch cfg.Store.Driver {
	case "memory":
		orch, err := tome.NewInMemoryOrchestrator(opts)
		return orch, func() {}, err
	case "sqlite":
		db, err := sql.Open("sqlite", cfg.Store.DSN)
		if err != nil {
			return nil, nil, err
		}
		orch, err := tome.NewSQLiteOrchestrator(db, opts)
		if err != nil {
			db.Close()
			return nil, nil, err
		}
		return orch, func() { db.Close() }, nil
	case "postgres":
		db, err := sql.Open("pgx", cfg.Store.DSN)
		if err != nil {
			return nil, nil, err
		}
		orch, err := tome.NewPostgresOrchestrator(db, opts)
		if err != nil {
			db.Close()
			return nil, nil, err
		}
		return orch, func() { db.Close() }, nil
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.Store.DSN})
		orch, err := tome.NewRedisOrchestrator(client, "tome", opts)
		if err != nil {
			client.Close()
			return nil, nil, err
		}
		return orch, func() { client.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

func cmdStart(ctx context.Context, cfg *config.Config, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	title := fs.String("title", "", "book title (required)")
	notes := fs.String("notes", "", "free-form notes folded into the outline prompt")
	notesFile := fs.String("notes-file", "", "read notes from a file instead of -notes")
	id := fs.String("id", "", "session ID (default: random)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *notesFile != "" {
		data, err := os.ReadFile(*notesFile)
		if err != nil {
			return err
		}
		*notes = string(data)
	}

	orch, cleanup, err := buildOrchestrator(cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	sess, err := orch.StartSession(ctx, tome.StartRequest{ID: *id, Title: *title, Notes: *notes})
	if err != nil {
		return err
	}
	fmt.Printf("session %s started: %q is at %s\n", sess.ID, sess.Title, sess.Stage)
	return nil
}

func cmdCheck(ctx context.Context, cfg *config.Config, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	all := fs.Bool("all", false, "check every active session awaiting review")
	if err := fs.Parse(args); err != nil {
		return err
	}

	orch, cleanup, err := buildOrchestrator(cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	if !*all {
		id := fs.Arg(0)
		if id == "" {
			return errors.New("usage: tome check <session> | tome check -all")
		}
		sess, err := orch.CheckPendingFeedback(ctx, id)
		if err != nil {
			return err
		}
		fmt.Println(describe(sess))
		return nil
	}

	sessions, err := orch.ListSessions(ctx, tome.SessionListOptions{ActiveOnly: true})
	if err != nil {
		return err
	}
	for _, sess := range sessions {
		if !sess.Stage.Review() {
			continue
		}
		updated, err := orch.CheckPendingFeedback(ctx, sess.ID)
		switch {
		case errors.Is(err, tome.ErrSessionBusy):
			continue
		case err != nil:
			return fmt.Errorf("session %s: %w", sess.ID, err)
		}
		fmt.Println(describe(updated))
	}
	return nil
}

func cmdStatus(ctx context.Context, cfg *config.Config, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	active := fs.Bool("active", false, "only sessions still in flight")
	stage := fs.String("stage", "", "filter by stage, e.g. OUTLINE_REVIEW")
	if err := fs.Parse(args); err != nil {
		return err
	}

	orch, cleanup, err := buildOrchestrator(cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	sessions, err := orch.ListSessions(ctx, tome.SessionListOptions{
		ActiveOnly: *active,
		Stage:      tome.Stage(strings.ToUpper(strings.TrimSpace(*stage))),
	})
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tSTAGE\tCHAPTER\tUPDATED")
	for _, sess := range sessions {
		chapter := "-"
		if sess.Chapter > 0 {
			chapter = fmt.Sprintf("%d", sess.Chapter)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			sess.ID, sess.Title, sess.Stage, chapter,
			sess.UpdatedAt.Local().Format(time.RFC3339))
	}
	return w.Flush()
}

func cmdShow(ctx context.Context, cfg *config.Config, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	id := fs.Arg(0)
	if id == "" {
		return errors.New("usage: tome show <session>")
	}

	orch, cleanup, err := buildOrchestrator(cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	sess, err := orch.GetSession(ctx, id)
	if err != nil {
		return err
	}

	fmt.Printf("ID:       %s\n", sess.ID)
	fmt.Printf("Title:    %s\n", sess.Title)
	fmt.Printf("Stage:    %s\n", sess.Stage)
	if sess.Chapter > 0 {
		fmt.Printf("Chapter:  %d\n", sess.Chapter)
	}
	if sess.OutlineRevision > 0 {
		fmt.Printf("Outline:  revision %d\n", sess.OutlineRevision)
	}
	if len(sess.ChapterRevisions) > 0 {
		chapters := make([]int, 0, len(sess.ChapterRevisions))
		for ch := range sess.ChapterRevisions {
			chapters = append(chapters, ch)
		}
		sort.Ints(chapters)
		parts := make([]string, 0, len(chapters))
		for _, ch := range chapters {
			parts = append(parts, fmt.Sprintf("%d (rev %d)", ch, sess.ChapterRevisions[ch]))
		}
		fmt.Printf("Drafts:   %s\n", strings.Join(parts, ", "))
	}
	if sess.FailureReason != "" {
		fmt.Printf("Failure:  %s\n", sess.FailureReason)
	}
	if sess.Notes != "" {
		fmt.Printf("Notes:    %s\n", sess.Notes)
	}
	fmt.Printf("Created:  %s\n", sess.CreatedAt.Local().Format(time.RFC3339))
	fmt.Printf("Updated:  %s\n", sess.UpdatedAt.Local().Format(time.RFC3339))
	return nil
}

func cmdResume(ctx context.Context, cfg *config.Config, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("resume", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	id := fs.Arg(0)
	if id == "" {
		return errors.New("usage: tome resume <session>")
	}

	orch, cleanup, err := buildOrchestrator(cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	sess, err := orch.Resume(ctx, id)
	if err != nil {
		return err
	}
	fmt.Println(describe(sess))
	return nil
}

func cmdAbandon(ctx context.Context, cfg *config.Config, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("abandon", flag.ContinueOnError)
	reason := fs.String("reason", "", "why the session is being abandoned")
	if err := fs.Parse(args); err != nil {
		return err
	}
	id := fs.Arg(0)
	if id == "" {
		return errors.New("usage: tome abandon [-reason text] <session>")
	}

	orch, cleanup, err := buildOrchestrator(cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	sess, err := orch.Abandon(ctx, id, *reason)
	if err != nil {
		return err
	}
	fmt.Printf("session %s abandoned: %s\n", sess.ID, sess.FailureReason)
	return nil
}

func cmdWatch(ctx context.Context, cfg *config.Config, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	interval := fs.Duration("interval", cfg.Workflow.PollInterval.Std(), "poll interval")
	retryFrozen := fs.Bool("retry-frozen", false, "also resume sessions frozen between checkpoints")
	if err := fs.Parse(args); err != nil {
		return err
	}

	orch, cleanup, err := buildOrchestrator(cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	poller := tome.NewPoller(orch, tome.PollerConfig{
		Interval:    *interval,
		RetryFrozen: *retryFrozen,
		Logger:      logger,
	})
	if err := poller.Start(ctx); err != nil {
		return err
	}
	defer poller.Stop()

	logger.InfoContext(ctx, "watching for reviewer feedback",
		slog.Duration("interval", *interval))
	<-ctx.Done()
	return nil
}

// describe renders a one-line session summary for command output.
func describe(sess *tome.Session) string {
	switch {
	case sess.Stage == tome.StageChapterReview:
		return fmt.Sprintf("session %s is at %s (chapter %d, revision %d)",
			sess.ID, sess.Stage, sess.Chapter, sess.ChapterRevision(sess.Chapter))
	case sess.Stage == tome.StageOutlineReview:
		return fmt.Sprintf("session %s is at %s (revision %d)",
			sess.ID, sess.Stage, sess.OutlineRevision)
	case sess.Stage == tome.StageFailed:
		return fmt.Sprintf("session %s FAILED: %s", sess.ID, sess.FailureReason)
	default:
		return fmt.Sprintf("session %s is at %s", sess.ID, sess.Stage)
	}
}
