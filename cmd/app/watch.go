package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/starford/carenotes/internal"
	"github.com/starford/carenotes/internal/apperr"
	"github.com/starford/carenotes/internal/client"
	"github.com/starford/carenotes/internal/debounce"
	"github.com/starford/carenotes/internal/feed"
	"github.com/starford/carenotes/internal/feedview"
	"github.com/starford/carenotes/internal/mediaurl"
	"github.com/starford/carenotes/internal/parser"
	pkgconfig "github.com/starford/carenotes/pkg/config"
)

const reconnectBackoff = 5 * time.Second

func watchCmd() *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "Interactive feed that follows changes on the server",
		Flags: append(feedFlags(),
			configFlag(),
			&cli.DurationFlag{Name: "debounce", Usage: "Quiet period before a search runs"},
			&cli.StringFlag{Name: "refresh", Usage: `Background refresh schedule, e.g. "@every 30s"`},
		),
		Action: watch,
	}
}

// feedSettings reads the feed section of the config file when one exists
// and applies flag overrides.
func feedSettings(cmd *cli.Command) (internal.FeedConfig, error) {
	cfg := internal.NewDefaultConfig()
	if path := cmd.String("config"); path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := pkgconfig.Load(path, cfg); err != nil {
				return cfg.Feed, err
			}
		}
	}
	fc := cfg.Feed
	if cmd.IsSet("debounce") {
		fc.Debounce = cmd.Duration("debounce")
	}
	if cmd.IsSet("refresh") {
		fc.Refresh = cmd.String("refresh")
	}
	return fc, fc.Validate()
}

func pageSize() int {
	_, h, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || h <= 0 {
		return feedview.DefaultPageSize
	}
	// Two lines per entry plus header and footer.
	return max(5, (h-4)/2)
}

func watch(ctx context.Context, cmd *cli.Command) error {
	settings, err := feedSettings(cmd)
	if err != nil {
		return err
	}
	c, creds, err := connect(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	media := mediaurl.New(c, mediaurl.WithLogger(logger))
	defer media.Clear()
	cache := feed.NewSessionCache()
	fetcher := feed.NewFetcher(c, c, feed.Session{UserID: creds.UserID, Name: creds.Name}, settings.Limit, logger)
	engine, err := feed.NewEngine(feed.Options{
		Loader:      fetcher,
		Mutator:     c,
		Cache:       cache,
		Media:       media,
		RefreshSpec: settings.Refresh,
		Logger:      logger,
	})
	if err != nil {
		return err
	}
	defer engine.Close()

	view := feedview.New(os.Stdout, nil, feedview.WithMedia(media), feedview.WithPageSize(pageSize()))
	restorer := feed.NewRestorer(0, 0)

	filter := filterFrom(cmd, "")
	// Settled search terms are merged into filter by the loop below.
	terms := make(chan string, 1)
	search := debounce.New(settings.Debounce, func(term string) {
		select {
		case <-terms:
		default:
		}
		terms <- term
	})
	defer search.Close()

	// Closed when the server stops accepting the session token.
	revoked := make(chan struct{})
	go func() {
		err := c.ListenLoop(ctx, reconnectBackoff, func(client.Event) { engine.Refresh() })
		if err != nil {
			logger.Warn("live updates stopped", slog.String("error", err.Error()))
			if errors.Is(err, apperr.ErrUnauthorized) {
				close(revoked)
			}
		}
	}()
	go readCommands(os.Stdin, view)

	engine.Mount(filter)

	var (
		latest  feed.State
		reading bool
		notices = engine.Notices()
	)
	for {
		select {
		case <-ctx.Done():
			return nil

		case st, ok := <-engine.States():
			if !ok {
				return nil
			}
			latest = st
			if !reading {
				view.Render(st)
			}

		case <-revoked:
			endSession(cache, media)
			return explain(apperr.Authorization("watch", apperr.ErrUnauthorized))

		case term := <-terms:
			filter.Term = term
			engine.SetFilter(filter)

		case n, ok := <-notices:
			if !ok {
				notices = nil
				continue
			}
			view.Notify(n)

		case in, ok := <-view.Intents():
			if !ok {
				return nil
			}
			switch in := in.(type) {
			case feedview.Quit:
				return nil
			case feedview.Logout:
				// The local session goes away even if the server is unreachable.
				_ = c.Logout(ctx)
				endSession(cache, media)
				if err := client.RemoveCredentials(cmd.String("credentials")); err != nil {
					return err
				}
				fmt.Println("signed out")
				return nil
			case feedview.Search:
				search.Push(in.Term)
			case feedview.FilterTag:
				filter.Tag = in.Tag
				engine.SetFilter(filter)
			case feedview.SetScope:
				filter.Scope = in.Scope
				engine.SetFilter(filter)
			case feedview.Refresh:
				if latest.Status == feed.StatusErrored {
					engine.Retry()
				} else {
					engine.Refresh()
				}
			case feedview.ToggleStar:
				engine.ToggleStar(in.ID)
			case feedview.Delete:
				engine.Delete(in.ID)
			case feedview.Edit:
				engine.Edit(in.ID, in.Content)
			case feedview.Open:
				restorer.Save(view.Offset(), view.RenderedCount())
				if err := openNote(ctx, c, view, in.ID); err != nil {
					view.Notify(feed.Notice{Kind: apperr.KindOf(err), Op: "open note", NoteID: in.ID, Message: apperr.UserMessage(err), Err: err})
					continue
				}
				reading = true
			case feedview.Back:
				if !reading {
					continue
				}
				reading = false
				view.Render(engine.Current())
				go restorer.Restore(ctx, view)
			}
		}
	}
}

// endSession forgets everything cached for the signed-in user.
func endSession(cache *feed.SessionCache, media *mediaurl.Cache) {
	cache.Clear()
	media.Clear()
}

func openNote(ctx context.Context, c *client.Client, view *feedview.View, id string) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	n, err := c.GetNote(ctx, id)
	if err != nil {
		return err
	}
	title, _ := parser.Summarize(n.Content, 0)
	view.ShowNote(title, n.Content, n.Tags)
	return nil
}

// readCommands feeds stdin lines to the view until EOF.
func readCommands(r io.Reader, view *feedview.View) {
	defer view.Close()
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if err := view.Handle(sc.Text()); err != nil {
			fmt.Fprintln(os.Stderr, explainInput(err))
		}
	}
}

func explainInput(err error) string {
	if errors.Is(err, feedview.ErrUnknownCommand) {
		return err.Error() + " (try: /text, #tag, all, mine, open N, star N, del N, edit N text, n, p, r, logout, q)"
	}
	return err.Error()
}
