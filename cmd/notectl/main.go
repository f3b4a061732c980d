// Command notectl is a terminal client for the collaborative notes
// service: log in, list and edit notes, and join a note's realtime
// session with live roster and document output.
package main

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	collab "github.com/collabnotes/collabnotes.go"
	"github.com/collabnotes/collabnotes.go/pkg/auth"
	"github.com/collabnotes/collabnotes.go/pkg/config"
	"github.com/collabnotes/collabnotes.go/pkg/logger"
	slogadapter "github.com/collabnotes/collabnotes.go/pkg/logger/slog"
	"github.com/collabnotes/collabnotes.go/pkg/notes"
	"github.com/collabnotes/collabnotes.go/pkg/notes/cache"
	"github.com/collabnotes/collabnotes.go/pkg/presence"
	"github.com/collabnotes/collabnotes.go/pkg/wire"
)

var (
	configPath string
	logFormat  string
)

func main() {
	root := &cobra.Command{
		Use:           "notectl",
		Short:         "collaborative notes client",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath(), "path to TOML config file")
	root.PersistentFlags().StringVar(&logFormat, "log-format", "json", "log output format: json or text")

	root.AddCommand(loginCmd(), listCmd(), getCmd(), saveCmd(), joinCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "notectl:", err)
		os.Exit(1)
	}
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return home + "/.config/collabnotes/config.toml"
}

func loadConfig() (config.Config, error) {
	return config.Load(configPath)
}

// newLogger builds the session logger: zerolog JSON lines by default,
// or a text slog handler with --log-format=text.
func newLogger() logger.Logger {
	if logFormat == "text" {
		return slogadapter.New(slog.NewTextHandler(os.Stderr, nil))
	}
	return logger.New(os.Stderr)
}

func loginCmd() *cobra.Command {
	var email, password string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "authenticate and print a token",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			client := auth.NewClient(cfg.APIURL)
			sess, err := client.Login(cmd.Context(), auth.Credentials{Email: email, Password: password})
			if err != nil {
				return err
			}

			fmt.Printf("logged in as %s (%s)\n", sess.User.Username, sess.User.ID)
			fmt.Printf("export %s=%s\n", config.EnvToken, sess.Token)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password")
	for _, name := range []string{"email", "password"} {
		if err := cmd.MarkFlagRequired(name); err != nil {
			panic(err)
		}
	}
	return cmd
}

func listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "list notes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			store := notes.NewClient(cfg.APIURL, notes.StaticToken(cfg.Token))
			all, err := store.List(cmd.Context())
			if err != nil {
				return err
			}
			for _, n := range all {
				folder := "-"
				if n.Folder != nil {
					folder = n.Folder.Name
				}
				fmt.Printf("%s\t%s\t%s\n", n.ID, folder, n.Title)
			}
			return nil
		},
	}
}

func getCmd() *cobra.Command {
	var offline bool

	cmd := &cobra.Command{
		Use:   "get <note-id>",
		Short: "print one note",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			if offline {
				return printCached(cfg, args[0])
			}

			store := notes.NewClient(cfg.APIURL, notes.StaticToken(cfg.Token))
			n, err := store.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("# %s\n\n%s\n", n.Title, n.Content)
			return nil
		},
	}
	cmd.Flags().BoolVar(&offline, "offline", false, "read from the local snapshot cache")
	return cmd
}

func printCached(cfg config.Config, noteID string) error {
	if cfg.CachePath == "" {
		return fmt.Errorf("no cache_path configured")
	}
	store, err := cache.Open(cfg.CachePath)
	if err != nil {
		return err
	}
	defer store.Close()

	snap, err := store.Get(noteID)
	if err != nil {
		return err
	}
	fmt.Printf("# %s (cached %s)\n\n%s\n", snap.Note.Title,
		snap.SeenAt.Format("2006-01-02 15:04:05"), snap.Note.Content)
	return nil
}

func saveCmd() *cobra.Command {
	var title string

	cmd := &cobra.Command{
		Use:   "save <note-id>",
		Short: "save note content from stdin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			body, err := readAll(os.Stdin)
			if err != nil {
				return err
			}

			store := notes.NewClient(cfg.APIURL, notes.StaticToken(cfg.Token))
			req := notes.UpdateRequest{Content: &body}
			if title != "" {
				req.Title = &title
			}
			n, err := store.Update(cmd.Context(), args[0], req)
			if err != nil {
				return err
			}
			fmt.Printf("saved %s (%s)\n", n.ID, n.UpdatedAt)
			return nil
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "new note title")
	return cmd
}

func joinCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "join <note-id>",
		Short: "join a note's realtime session; stdin lines become edits, :save saves, :quit leaves",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			noteID := args[0]
			log := newLogger()

			opts := []collab.Option{collab.WithLogger(log)}

			store := notes.NewClient(cfg.APIURL, notes.StaticToken(cfg.Token))
			opts = append(opts, collab.WithNotesClient(store))

			if cfg.CachePath != "" {
				snapshots, err := cache.Open(cfg.CachePath)
				if err != nil {
					return err
				}
				defer snapshots.Close()
				opts = append(opts, collab.WithCache(snapshots))
			}

			session := collab.NewSession(cfg, collab.Handlers{
				OnRosterChange: func(ps []presence.Participant) {
					names := make([]string, 0, len(ps))
					for _, p := range ps {
						tag := p.Username
						if p.Typing {
							tag += "*"
						}
						names = append(names, tag)
					}
					fmt.Printf("[roster] %s\n", strings.Join(names, ", "))
				},
				OnDocumentChange: func(doc collab.DocumentSnapshot) {
					fmt.Printf("[update] %s: %s\n", doc.Title, doc.Body)
				},
				OnSaveConfirmed: func(by wire.User) {
					fmt.Printf("[saved] by %s\n", by.Username)
				},
				OnStatusChange: func(status string) {
					fmt.Printf("[status] %s\n", status)
				},
				OnError: func(err error) {
					fmt.Fprintf(os.Stderr, "[error] %v\n", err)
				},
			}, opts...)
			defer session.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := session.Open(ctx, noteID); err != nil {
				return err
			}

			// Seed the local view from the durable copy.
			if n, err := store.Get(ctx, noteID); err == nil {
				fmt.Printf("[note] %s: %s\n", n.Title, n.Content)
			}

			lines := make(chan string)
			go func() {
				scanner := bufio.NewScanner(os.Stdin)
				for scanner.Scan() {
					lines <- scanner.Text()
				}
				close(lines)
			}()

			var body string
			for {
				select {
				case <-ctx.Done():
					return nil
				case line, ok := <-lines:
					if !ok {
						return nil
					}
					switch line {
					case ":quit":
						return nil
					case ":save":
						doc := session.Document()
						if err := session.RequestSave(ctx, doc.Title, doc.Body); err != nil {
							fmt.Fprintf(os.Stderr, "[error] save: %v\n", err)
						}
					case ":status":
						fmt.Printf("[status] %s, save %s\n", session.Status(), session.SaveStatus())
					default:
						if body != "" {
							body += "\n"
						}
						body += line
						session.EditTitleOrBody(session.Document().Title, body, len(body))
					}
				}
			}
		},
	}
}

func readAll(f *os.File) (string, error) {
	var sb strings.Builder
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if sb.Len() > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return sb.String(), nil
}
