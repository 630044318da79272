package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/starford/carenotes/internal/apperr"
	"github.com/starford/carenotes/internal/client"
	"github.com/starford/carenotes/internal/feed"
	"github.com/starford/carenotes/internal/feedview"
)

const defaultServer = "http://localhost:8080/api"

func clientFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "server",
			Aliases: []string{"s"},
			Usage:   "API root of the carenotes server",
			Sources: cli.EnvVars("CARENOTES_SERVER"),
		},
		&cli.StringFlag{
			Name:        "credentials",
			Usage:       "Where the login session is stored",
			DefaultText: "~/.carenotes/client.yaml",
			Value:       client.DefaultCredentialsPath(),
			Sources:     cli.EnvVars("CARENOTES_CREDENTIALS"),
		},
	}
}

// connect builds a client from the stored session. --server overrides the
// stored server.
func connect(cmd *cli.Command) (*client.Client, client.Credentials, error) {
	creds, err := client.LoadCredentials(cmd.String("credentials"))
	if err != nil {
		if errors.Is(err, client.ErrNotLoggedIn) {
			return nil, creds, errors.New("not logged in, run: carenotes login")
		}
		return nil, creds, err
	}
	if s := cmd.String("server"); s != "" {
		creds.Server = s
	}
	c, err := client.New(creds.Server, client.WithToken(creds.Token))
	if err != nil {
		return nil, creds, err
	}
	return c, creds, nil
}

// explain turns a classified failure into the message shown to the user.
func explain(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, apperr.ErrUnauthorized) {
		return errors.New("session expired or invalid, run: carenotes login")
	}
	return errors.New(apperr.UserMessage(err))
}

func loginCmd() *cli.Command {
	return &cli.Command{
		Name:  "login",
		Usage: "Sign in and store the session",
		Flags: append(clientFlags(),
			&cli.StringFlag{Name: "name", Aliases: []string{"u"}, Usage: "User name", Required: true},
			&cli.StringFlag{Name: "password", Usage: "Password (prompted when omitted)", Sources: cli.EnvVars("CARENOTES_PASSWORD")},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			server := cmd.String("server")
			if server == "" {
				server = defaultServer
			}
			c, err := client.New(server)
			if err != nil {
				return err
			}
			password := cmd.String("password")
			if password == "" {
				if password, err = promptPassword("Password: "); err != nil {
					return err
				}
			}
			res, err := c.Login(ctx, cmd.String("name"), password)
			if err != nil {
				if apperr.KindOf(err) == apperr.KindAuthorization {
					return errors.New("invalid name or password")
				}
				return explain(err)
			}
			creds := client.Credentials{Server: server, Token: res.Token, UserID: res.UserID, Name: res.Name}
			if err := client.SaveCredentials(cmd.String("credentials"), creds); err != nil {
				return err
			}
			fmt.Printf("logged in as %s\n", res.Name)
			return nil
		},
	}
}

func logoutCmd() *cli.Command {
	return &cli.Command{
		Name:  "logout",
		Usage: "Revoke the session and forget it",
		Flags: clientFlags(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			c, _, err := connect(cmd)
			if err == nil && c.Token() != "" {
				// The local session goes away even if the server is unreachable.
				_ = c.Logout(ctx)
			}
			return client.RemoveCredentials(cmd.String("credentials"))
		},
	}
}

func addCmd() *cli.Command {
	return &cli.Command{
		Name:      "add",
		Usage:     "Create a note from the arguments or stdin",
		ArgsUsage: "[text...]",
		Flags: append(clientFlags(),
			&cli.StringFlag{Name: "tags", Aliases: []string{"t"}, Usage: "Comma-separated tags"},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			c, _, err := connect(cmd)
			if err != nil {
				return err
			}
			content := strings.Join(cmd.Args().Slice(), " ")
			if content == "" && !term.IsTerminal(int(os.Stdin.Fd())) {
				data, err := io.ReadAll(os.Stdin)
				if err != nil {
					return err
				}
				content = string(data)
			}
			n, err := c.CreateNote(ctx, content, parseTags(cmd.String("tags")))
			if err != nil {
				return explain(err)
			}
			fmt.Println(n.ID)
			return nil
		},
	}
}

func feedFlags() []cli.Flag {
	return append(clientFlags(),
		&cli.BoolFlag{Name: "all", Aliases: []string{"a"}, Usage: "Include notes shared by others"},
		&cli.StringFlag{Name: "tag", Usage: "Only notes with this tag"},
	)
}

func filterFrom(cmd *cli.Command, query string) feed.Filter {
	f := feed.Filter{Scope: feed.ScopeMine, Term: query, Tag: cmd.String("tag")}
	if cmd.Bool("all") {
		f.Scope = feed.ScopeAll
	}
	return f.Normalize()
}

// printFeed fetches one snapshot and renders it in full.
func printFeed(ctx context.Context, cmd *cli.Command, filter feed.Filter) error {
	c, creds, err := connect(cmd)
	if err != nil {
		return err
	}
	f := feed.NewFetcher(c, c, feed.Session{UserID: creds.UserID, Name: creds.Name}, feed.DefaultLimit, nil)
	snap, err := f.Fetch(ctx, filter)
	if err != nil {
		return explain(err)
	}
	v := feedview.New(os.Stdout, nil, feedview.WithPageSize(max(len(snap), 1)))
	v.Render(feed.State{Status: feed.StatusPopulated, Filter: filter, Snapshot: snap})
	return nil
}

func listCmd() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "Print the feed",
		Flags: feedFlags(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return printFeed(ctx, cmd, filterFrom(cmd, ""))
		},
	}
}

func searchCmd() *cli.Command {
	return &cli.Command{
		Name:      "search",
		Usage:     "Print notes matching a full-text query",
		ArgsUsage: "<query>",
		Flags:     feedFlags(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			q := strings.Join(cmd.Args().Slice(), " ")
			if strings.TrimSpace(q) == "" {
				return errors.New("query is required")
			}
			return printFeed(ctx, cmd, filterFrom(cmd, q))
		},
	}
}

func noteID(cmd *cli.Command) (string, error) {
	id := strings.TrimSpace(cmd.Args().First())
	if id == "" {
		return "", errors.New("note id is required")
	}
	return id, nil
}

func starCmd(name string, starred bool) *cli.Command {
	return &cli.Command{
		Name:      name,
		Usage:     name + " a note",
		ArgsUsage: "<id>",
		Flags:     clientFlags(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			id, err := noteID(cmd)
			if err != nil {
				return err
			}
			c, _, err := connect(cmd)
			if err != nil {
				return err
			}
			return explain(c.UpdateNote(ctx, id, feed.NotePatch{IsStarred: &starred}))
		},
	}
}

func shareCmd(name string, shared bool) *cli.Command {
	usage := "Publish a note at a secret link"
	if !shared {
		usage = "Revoke the public link of a note"
	}
	return &cli.Command{
		Name:      name,
		Usage:     usage,
		ArgsUsage: "<id>",
		Flags:     clientFlags(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			id, err := noteID(cmd)
			if err != nil {
				return err
			}
			c, _, err := connect(cmd)
			if err != nil {
				return err
			}
			n, err := c.ShareNote(ctx, id, shared)
			if err != nil {
				return explain(err)
			}
			if shared {
				fmt.Println(c.ShareURL(n.ShareToken))
			}
			return nil
		},
	}
}

func deleteCmd() *cli.Command {
	return &cli.Command{
		Name:      "delete",
		Usage:     "Delete a note and its attachments",
		ArgsUsage: "<id>",
		Flags:     clientFlags(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			id, err := noteID(cmd)
			if err != nil {
				return err
			}
			c, _, err := connect(cmd)
			if err != nil {
				return err
			}
			return explain(c.DeleteNote(ctx, id))
		},
	}
}

// parseTags splits a comma-separated list, dropping blanks.
func parseTags(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	var tags []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}
