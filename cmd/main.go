package main

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/emersion/go-ical"
	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
	"golang.org/x/oauth2"

	"negosync/internal/calendar"
	"negosync/internal/config"
	"negosync/internal/google"
	"negosync/internal/icloud"
	"negosync/internal/ics"
	"negosync/internal/models"
	"negosync/internal/store"
	"negosync/internal/syncer"
)

func main() {
	// Load .env file first, but don't error if it doesn't exist.
	_ = godotenv.Load()

	if err := newApp().Run(os.Args); err != nil {
		slog.Error("Application failed", "error", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "negosync",
		Usage: "Keep negotiation schedules in sync with an external calendar.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Value: "negosync.yaml", Usage: "Path to the YAML config file.", EnvVars: []string{"NEGOSYNC_CONFIG"}},
		},
		Commands: []*cli.Command{
			authCommand(),
			calendarsCommand(),
			accountCommand(),
			eventsCommand(),
			newCommand(),
			listCommand(),
			editCommand(),
			pushCommand(),
			removeCommand(),
			duplicateCommand(),
			exportCommand(),
			syncCommand(),
		},
	}
}

// env bundles what every command needs once configuration is loaded.
type env struct {
	cfg     *config.Config
	logger  *slog.Logger
	adapter *calendar.Adapter
	repo    store.Repository
	closers []func()
}

func (e *env) Close() {
	for _, c := range e.closers {
		c()
	}
}

func loadConfig(c *cli.Context) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, setupLogger(cfg.LogLevel), nil
}

// setup wires the provider and adapter selected by config on top of setupStore.
func setup(c *cli.Context) (*env, error) {
	e, err := setupStore(c)
	if err != nil {
		return nil, err
	}
	cfg, logger := e.cfg, e.logger

	var (
		provider    calendar.Provider
		accountType string
	)
	switch cfg.Backend {
	case config.BackendCalDAV:
		provider, err = icloud.NewClient(logger, icloud.Options{
			Endpoint:     cfg.CalDAVEndpoint,
			Username:     cfg.CalDAVUsername,
			Password:     cfg.CalDAVPassword,
			CalendarName: cfg.CalDAVCalendarName,
			TimeZone:     cfg.Timezone,
		})
		accountType = icloud.AccountType
	default:
		provider, err = google.NewClient(c.Context, logger, cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.TokenDir)
		accountType = calendar.GoogleAccountType
	}
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("failed to create %s client: %w", cfg.Backend, err)
	}
	if cfg.AccountType != "" {
		accountType = cfg.AccountType
	}
	e.adapter = calendar.NewAdapter(logger, provider, calendar.Options{
		AccountType: accountType,
		StrictReads: cfg.StrictReads,
	})
	return e, nil
}

// setupStore wires only the repository, for commands that never reach a calendar.
func setupStore(c *cli.Context) (*env, error) {
	cfg, logger, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	e := &env{cfg: cfg, logger: logger}
	if cfg.Store == config.StorePostgres {
		pg, err := store.NewPostgresRepository(c.Context, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := pg.EnsureSchema(c.Context); err != nil {
			pg.Close()
			return nil, err
		}
		e.repo = pg
		e.closers = append(e.closers, pg.Close)
	} else {
		e.repo = store.NewFileRepository(cfg.DataFile)
	}
	return e, nil
}

func authCommand() *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Authenticate with a Google account to get an API token.",
		Action: func(c *cli.Context) error {
			cfg, logger, err := loadConfig(c)
			if err != nil {
				return err
			}
			logger.Info("Starting Google authentication flow.")

			oauthConfig, err := google.GetOAuthConfigForAuthFlow(cfg.GoogleClientID, cfg.GoogleClientSecret)
			if err != nil {
				return fmt.Errorf("failed to get google oauth config: %w", err)
			}

			authURL := oauthConfig.AuthCodeURL("state-token", oauth2.AccessTypeOffline)
			fmt.Printf("Go to the following link in your browser then type the "+
				"authorization code: \n%v\n", authURL)

			fmt.Print("Enter Authorization Code: ")
			reader := bufio.NewReader(os.Stdin)
			authCode, _ := reader.ReadString('\n')
			authCode = strings.TrimSpace(authCode)

			token, err := google.TokenFromWeb(c.Context, oauthConfig, authCode)
			if err != nil {
				return fmt.Errorf("unable to retrieve token from web: %w", err)
			}

			fmt.Print("Enter the account email: ")
			accountName, _ := reader.ReadString('\n')
			accountName = strings.TrimSpace(accountName)
			if accountName == "" {
				return errors.New("account email is required")
			}

			tokenFile, err := google.SaveToken(cfg.TokenDir, accountName, token)
			if err != nil {
				return fmt.Errorf("failed to save token: %w", err)
			}

			logger.Info("Successfully authenticated and saved token.", "file", tokenFile)
			return nil
		},
	}
}

func calendarsCommand() *cli.Command {
	return &cli.Command{
		Name:  "calendars",
		Usage: "List the calendars visible to the configured account.",
		Action: func(c *cli.Context) error {
			e, err := setup(c)
			if err != nil {
				return err
			}
			defer e.Close()

			cals, err := e.adapter.ListAvailableCalendars(c.Context)
			if err != nil {
				return err
			}
			for _, cal := range cals {
				fmt.Printf("%s\t%s\t%s\t%s\n", cal.ID, cal.Name, cal.OwnerAccount, cal.TimeZone)
			}
			return nil
		},
	}
}

func accountCommand() *cli.Command {
	return &cli.Command{
		Name:  "account",
		Usage: "Show the calendar negotiations are written to.",
		Action: func(c *cli.Context) error {
			e, err := setup(c)
			if err != nil {
				return err
			}
			defer e.Close()

			acc, err := e.adapter.ResolveDefaultAccount(c.Context)
			if err != nil {
				return err
			}
			if acc == nil {
				fmt.Println("No calendar account available.")
				return nil
			}
			fmt.Printf("Account:  %s\nCalendar: %s\nTimezone: %s\n", acc.Email, acc.CalendarID, acc.TimeZone)
			return nil
		},
	}
}

func eventsCommand() *cli.Command {
	return &cli.Command{
		Name:  "events",
		Usage: "List events of the default calendar in a date range.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "from", Usage: "First day (YYYY-MM-DD). Defaults to today."},
			&cli.IntFlag{Name: "days", Value: 7, Usage: "Number of days to list."},
		},
		Action: func(c *cli.Context) error {
			e, err := setup(c)
			if err != nil {
				return err
			}
			defer e.Close()

			loc := e.cfg.Location
			now := time.Now().In(loc)
			begin := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
			if from := c.String("from"); from != "" {
				begin, err = time.ParseInLocation(time.DateOnly, from, loc)
				if err != nil {
					return fmt.Errorf("invalid --from: %w", err)
				}
			}
			end := begin.AddDate(0, 0, c.Int("days"))

			acc, err := e.adapter.ResolveDefaultAccount(c.Context)
			if err != nil {
				return err
			}
			if acc == nil {
				return errors.New("no calendar account available")
			}
			events, err := e.adapter.ListEventsInRange(c.Context, begin, end, acc)
			if err != nil {
				return err
			}
			for _, ev := range events {
				fmt.Printf("%s  %s  %s\n", ev.StartTime.In(loc).Format("2006-01-02 15:04"), ev.EndTime.In(loc).Format("15:04"), ev.Title)
			}
			return nil
		},
	}
}

func newCommand() *cli.Command {
	return &cli.Command{
		Name:  "new",
		Usage: "Create a negotiation record.",
		Flags: recordFlags(),
		Action: func(c *cli.Context) error {
			if c.String("name") == "" {
				return errors.New("--name is required")
			}
			e, err := setupStore(c)
			if err != nil {
				return err
			}
			defer e.Close()

			n := models.NewNegotiation()
			n.IsDraft = false
			n.Initialized = true
			if err := editFromFlags(c).apply(n, e.cfg.Location); err != nil {
				return err
			}
			if err := e.repo.Save(c.Context, n); err != nil {
				return err
			}
			fmt.Fprintln(c.App.Writer, n.ID)
			return nil
		},
	}
}

func listCommand() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List stored negotiations.",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "archived", Usage: "Include archived negotiations."},
		},
		Action: func(c *cli.Context) error {
			e, err := setupStore(c)
			if err != nil {
				return err
			}
			defer e.Close()

			records, err := e.repo.List(c.Context)
			if err != nil {
				return err
			}
			listRecords(c.App.Writer, records, e.cfg.Location, c.Bool("archived"))
			return nil
		},
	}
}

func editCommand() *cli.Command {
	flags := append(recordFlags(),
		&cli.BoolFlag{Name: "archived"},
		&cli.BoolFlag{Name: "completed"},
		&cli.BoolFlag{Name: "clear-date", Usage: "Remove date and time."},
		&cli.BoolFlag{Name: "clear-time", Usage: "Remove the time, keeping the day."},
	)
	return &cli.Command{
		Name:      "edit",
		Usage:     "Change fields of a negotiation. The next sync updates its event.",
		ArgsUsage: "<id>",
		Flags:     flags,
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return errors.New("exactly one negotiation id is required")
			}
			e, err := setupStore(c)
			if err != nil {
				return err
			}
			defer e.Close()

			n, err := e.repo.Get(c.Context, c.Args().First())
			if err != nil {
				return err
			}
			if err := editFromFlags(c).apply(n, e.cfg.Location); err != nil {
				return err
			}
			if err := e.repo.Save(c.Context, n); err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "Updated negotiation %s\n", n.ID)
			return nil
		},
	}
}

func pushCommand() *cli.Command {
	return &cli.Command{
		Name:      "push",
		Usage:     "Create or update the calendar event of a negotiation.",
		ArgsUsage: "<id>",
		Action: func(c *cli.Context) error {
			e, n, err := setupWithRecord(c)
			if err != nil {
				return err
			}
			defer e.Close()

			s := syncer.NewSyncer(e.logger, e.repo, e.adapter, false)
			before := n.CalendarEventID
			ok, err := s.Push(c.Context, n)
			if err != nil {
				return err
			}
			if !ok {
				return errors.New("no calendar account available, negotiation not synced")
			}
			if before != "" && before == n.CalendarEventID {
				fmt.Printf("Updated event %s\n", n.CalendarEventID)
			} else {
				fmt.Printf("Created event %s\n", n.CalendarEventID)
			}
			return nil
		},
	}
}

func removeCommand() *cli.Command {
	return &cli.Command{
		Name:      "remove",
		Usage:     "Delete the calendar event of a negotiation.",
		ArgsUsage: "<id>",
		Action: func(c *cli.Context) error {
			e, n, err := setupWithRecord(c)
			if err != nil {
				return err
			}
			defer e.Close()

			if err := syncer.NewSyncer(e.logger, e.repo, e.adapter, false).Remove(c.Context, n); err != nil {
				return err
			}
			fmt.Println("Event deleted.")
			return nil
		},
	}
}

func duplicateCommand() *cli.Command {
	return &cli.Command{
		Name:      "duplicate",
		Usage:     "Copy a negotiation under a new identity.",
		ArgsUsage: "<id>",
		Action: func(c *cli.Context) error {
			e, err := setupStore(c)
			if err != nil {
				return err
			}
			defer e.Close()

			n, err := e.repo.Get(c.Context, c.Args().First())
			if err != nil {
				return err
			}
			dup := n.CopyWithNewID()
			if err := e.repo.Save(c.Context, dup); err != nil {
				return err
			}
			fmt.Println(dup.ID)
			return nil
		},
	}
}

func exportCommand() *cli.Command {
	return &cli.Command{
		Name:      "export",
		Usage:     "Write a negotiation as an iCalendar file.",
		ArgsUsage: "<id>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "Output file. Defaults to stdout."},
		},
		Action: func(c *cli.Context) error {
			e, err := setupStore(c)
			if err != nil {
				return err
			}
			defer e.Close()

			n, err := e.repo.Get(c.Context, c.Args().First())
			if err != nil {
				return err
			}
			interval, ok := n.TimeInterval()
			if !ok {
				return fmt.Errorf("negotiation %s has no date", n.ID)
			}
			values := calendar.ValuesFor(n, interval, models.CalendarAccount{TimeZone: e.cfg.Timezone})

			out := os.Stdout
			if path := c.String("out"); path != "" {
				f, err := os.Create(path)
				if err != nil {
					return err
				}
				defer f.Close()
				out = f
			}
			return ical.NewEncoder(out).Encode(ics.NewCalendar(n.ID, values))
		},
	}
}

func syncCommand() *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "Push every scheduled negotiation to the calendar.",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "once", Usage: "Run the sync cycle once and exit."},
			&cli.BoolFlag{Name: "dry-run", Usage: "Log what would be synced without making changes."},
			&cli.StringFlag{Name: "schedule", Usage: "Cron schedule for repeated runs. Overrides the config value."},
		},
		Action: func(c *cli.Context) error {
			e, err := setup(c)
			if err != nil {
				return err
			}
			defer e.Close()

			dryRun := c.Bool("dry-run") || e.cfg.DryRun
			if dryRun {
				e.logger.Info("Performing a dry run. No changes will be made.")
			}
			s := syncer.NewSyncer(e.logger, e.repo, e.adapter, dryRun)

			if c.Bool("once") {
				e.logger.Info("Running a single sync cycle.")
				if _, err := s.Reconcile(c.Context); err != nil {
					return fmt.Errorf("single sync cycle failed: %w", err)
				}
				return nil
			}

			schedule := e.cfg.Schedule
			if c.IsSet("schedule") {
				schedule = c.String("schedule")
			}
			session := syncer.NewSession(e.logger, s, schedule)
			if err := session.Start(); err != nil {
				return err
			}
			defer session.Stop()

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()
			<-ctx.Done()
			return nil
		},
	}
}

func setupWithRecord(c *cli.Context) (*env, *models.Negotiation, error) {
	if c.NArg() != 1 {
		return nil, nil, errors.New("exactly one negotiation id is required")
	}
	e, err := setup(c)
	if err != nil {
		return nil, nil, err
	}
	n, err := e.repo.Get(c.Context, c.Args().First())
	if err != nil {
		e.Close()
		return nil, nil, err
	}
	return e, n, nil
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
}
