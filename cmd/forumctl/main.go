// Package main provides forumctl, a command line client for the forum backend.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"forumclient/internal/api"
	"forumclient/internal/config"
	"forumclient/internal/featureflags"
	"forumclient/internal/media"
	"forumclient/internal/observability"
	"forumclient/internal/service"
	"forumclient/internal/session"
	"forumclient/internal/storage"
	"forumclient/internal/viewstate"
)

const serviceVersion = "0.1.0"

// app carries the wired client for the duration of one command.
type app struct {
	cfg    *config.Config
	store  *session.Store
	client *api.Client
	auth   *service.AuthService
	table  *viewstate.Table
	flags  *featureflags.Flags
	out    *printer
}

type command struct {
	usage string
	auth  bool
	run   func(ctx context.Context, a *app, args []string) error
}

var commands = map[string]command{
	"login":          {usage: "login <username|email> <password>", run: runLogin},
	"register":       {usage: "register <username> <email> <password>", run: runRegister},
	"logout":         {usage: "logout", run: runLogout},
	"whoami":         {usage: "whoami", run: runWhoami},
	"profile":        {usage: "profile set [-username u] [-email e] [-bio b] [-picture url]", auth: true, run: runProfile},
	"feed":           {usage: "feed [-q term] [-pages n]", run: runFeed},
	"show":           {usage: "show <post_id>", run: runShow},
	"post":           {usage: "post -title t -content c [-image path]", auth: true, run: runPost},
	"like":           {usage: "like <post_id>", auth: true, run: runLike},
	"favorite":       {usage: "favorite <post_id>", auth: true, run: runFavorite},
	"delete-post":    {usage: "delete-post <post_id>", auth: true, run: runDeletePost},
	"comment":        {usage: "comment <post_id> <text>", auth: true, run: runComment},
	"edit-comment":   {usage: "edit-comment <post_id> <comment_id> <text>", auth: true, run: runEditComment},
	"delete-comment": {usage: "delete-comment <post_id> <comment_id>", auth: true, run: runDeleteComment},
	"flags":          {usage: "flags", run: runFlags},
}

var commandOrder = []string{
	"login", "register", "logout", "whoami", "profile",
	"feed", "show", "post", "like", "favorite", "delete-post",
	"comment", "edit-comment", "delete-comment", "flags",
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  forumctl [-o text|json|yaml] <command> [args]")
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "Commands:")
	for _, name := range commandOrder {
		fmt.Fprintf(os.Stderr, "  %s\n", commands[name].usage)
	}
}

func main() {
	global := flag.NewFlagSet("forumctl", flag.ExitOnError)
	format := global.String("o", formatText, "output format: text, json or yaml")
	global.Usage = usage
	_ = global.Parse(os.Args[1:])

	args := global.Args()
	if len(args) == 0 {
		usage()
		os.Exit(1)
	}
	cmd, ok := commands[args[0]]
	if !ok {
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
		usage()
		os.Exit(1)
	}
	out, err := newPrinter(os.Stdout, *format)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	observability.InitLogger(cfg.Env, cfg.LogLevel)

	os.Exit(run(cfg, out, cmd, args[1:]))
}

func run(cfg *config.Config, out *printer, cmd command, args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, _ = observability.EnsureCorrelationID(ctx)

	shutdown, err := observability.InitTracing(observability.TracingConfig{
		ServiceName:    "forumctl",
		ServiceVersion: serviceVersion,
		Environment:    cfg.Env,
		Enabled:        cfg.TracingEnabled,
		Exporter:       cfg.TracingExporter,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SampleRatio:    cfg.TracingSampleRatio,
	})
	if err != nil {
		observability.GlobalLogger.ErrorContext(ctx, "failed to initialize tracing", "error", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(sctx); err != nil {
			observability.GlobalLogger.WarnContext(sctx, "tracing shutdown failed", "error", err)
		}
	}()

	st, err := storage.Open(ctx, cfg)
	if err != nil {
		observability.GlobalLogger.ErrorContext(ctx, "failed to open session storage", "driver", cfg.StorageDriver, "error", err)
		return 1
	}
	defer func() {
		if err := st.Close(); err != nil {
			observability.GlobalLogger.WarnContext(ctx, "failed to close session storage", "error", err)
		}
	}()
	defer func() {
		if err := observability.WriteMetricsTextfile(cfg.MetricsTextfile); err != nil {
			observability.GlobalLogger.WarnContext(ctx, "failed to write metrics textfile", "path", cfg.MetricsTextfile, "error", err)
		}
	}()

	a := newApp(cfg, st, out)
	sess := a.store.Restore(ctx)
	if uid, ok := a.store.CurrentUserID(); ok {
		ctx = observability.WithUserID(ctx, uid)
	}

	if cmd.auth && !sess.Authenticated() {
		fmt.Fprintln(os.Stderr, "Not signed in. Run: forumctl login <username|email> <password>")
		return 1
	}

	if err := cmd.run(ctx, a, args); err != nil {
		if a.flags.Enabled(featureflags.ForcedSignOut, a.userID()) && a.store.SignOutOnAuthFailure(ctx, err) {
			fmt.Fprintln(os.Stderr, "Session expired. Please log in again.")
			return 1
		}
		var usageErr usageError
		if errors.As(err, &usageErr) {
			fmt.Fprintf(os.Stderr, "Usage: forumctl %s\n", commands[usageErr.command].usage)
			return 2
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func newApp(cfg *config.Config, st storage.Storage, out *printer) *app {
	store := session.NewStore(st)
	client := api.NewClient(cfg.APIURL,
		api.WithTimeout(time.Duration(cfg.HTTPTimeoutSeconds)*time.Second),
		api.WithTokenSource(store),
		api.WithAssetBaseURL(cfg.AssetURL),
	)
	return &app{
		cfg:    cfg,
		store:  store,
		client: client,
		auth:   service.NewAuthService(client, store),
		table:  viewstate.NewTable(),
		flags:  featureflags.Parse(cfg.FeatureFlags),
		out:    out,
	}
}

func (a *app) userID() uint {
	uid, _ := a.store.CurrentUserID()
	return uid
}

func (a *app) preparer() *media.Preparer {
	format := a.cfg.MediaFormat
	if a.flags.Enabled(featureflags.WebPUploads, a.userID()) {
		format = media.FormatWebP
	}
	return media.NewPreparer(a.cfg.MediaMaxEdge, format)
}

func (a *app) feed() *viewstate.Feed {
	return viewstate.NewFeed(a.client, a.table, a.store, a.flags,
		viewstate.WithPageSize(a.cfg.PageSize),
		viewstate.WithPreparer(a.preparer()),
	)
}

func (a *app) detail(postID uint) *viewstate.Detail {
	return viewstate.NewDetail(a.client, a.table, a.store, a.flags, postID)
}
