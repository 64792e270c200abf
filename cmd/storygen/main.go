package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/electron-rare/le-mystere-professeur-zacus-sub000/internal/bundle"
	"github.com/electron-rare/le-mystere-professeur-zacus-sub000/internal/config"
	"github.com/electron-rare/le-mystere-professeur-zacus-sub000/internal/events"
	"github.com/electron-rare/le-mystere-professeur-zacus-sub000/internal/logging"
	"github.com/electron-rare/le-mystere-professeur-zacus-sub000/internal/mqtt"
	"github.com/electron-rare/le-mystere-professeur-zacus-sub000/internal/orchestrator"
	"github.com/electron-rare/le-mystere-professeur-zacus-sub000/internal/storage/postgres"
	"github.com/electron-rare/le-mystere-professeur-zacus-sub000/internal/story"
	"github.com/electron-rare/le-mystere-professeur-zacus-sub000/internal/version"
)

// Exit codes.
const (
	exitOK         = 0
	exitValidation = 1
	exitConfig     = 2
)

// autoArchive is the --archive value used when the flag has no argument.
const autoArchive = "auto"

// errDrift is returned by sync-screens --check when files are out of date.
var errDrift = errors.New("screen files are out of date")

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// cli holds flag values shared by the subcommands.
type cli struct {
	stdout io.Writer
	stderr io.Writer

	overrides config.Overrides
	logLevel  string
	ledgerDSN string

	outDir       string
	bundleOutDir string
	archive      string
	announce     bool
	broker       string
	topic        string
	check        bool
	watch        bool
	limit        int
}

func run(args []string, stdout, stderr io.Writer) int {
	c := &cli{stdout: stdout, stderr: stderr}
	root := c.rootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.Execute()
	code := exitCode(err)
	if err != nil {
		c.report(err)
	}
	return code
}

func (c *cli) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "storygen",
		Short: "Validate story scenario specs and generate firmware sources and flash bundles",
		Long: `storygen turns the YAML story scenarios of the escape game into the
artifacts consumed by the ESP32 firmware: C++ scenario tables compiled into
the firmware and a JSON bundle deployed to the device flash.

Examples:
  storygen validate
  storygen generate-cpp --out-dir src/story/generated
  storygen generate-bundle --archive
  storygen all --announce`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return logging.Init(c.logLevel, c.stderr)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&c.overrides.SpecDir, "spec-dir", "", "Story spec directory or single YAML file")
	pf.StringVar(&c.overrides.GameDir, "game-dir", "", "Game scenario directory")
	pf.StringVar(&c.overrides.ContentDir, "content-dir", "", "Content authoring directory (screens/audio/actions)")
	pf.StringVar(&c.overrides.FirmwareRoot, "firmware-root", "", "Firmware root (default: nearest parent holding platformio.ini)")
	pf.StringVar(&c.overrides.ConfigFile, "config", "", "Tool config file (default: <firmware-root>/storygen.yaml)")
	pf.StringVar(&c.logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	pf.StringVar(&c.ledgerDSN, "ledger-dsn", "", "Postgres DSN of the generation ledger")

	root.AddCommand(
		c.validateCmd(),
		c.generateCPPCmd(),
		c.generateBundleCmd(),
		c.syncScreensCmd(),
		c.allCmd(),
		c.historyCmd(),
		c.versionCmd(),
	)
	return root
}

func (c *cli) validateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Load, check and normalize the story specs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, _, err := c.pipeline()
			if err != nil {
				return err
			}
			if c.watch {
				return c.runWatch(cmd.Context(), p)
			}
			res, err := p.Validate()
			if err != nil {
				return err
			}
			c.printValidated(res)
			return nil
		},
	}
	cmd.Flags().BoolVar(&c.watch, "watch", false, "Re-validate whenever a spec file changes")
	return cmd
}

func (c *cli) generateCPPCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "generate-cpp",
		Aliases: []string{"generate"},
		Short:   "Validate then emit the C++ scenario and app-binding sources",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, _, err := c.pipeline()
			if err != nil {
				return err
			}
			out, err := p.GenerateCPP(c.outDir)
			if err != nil {
				return err
			}
			c.printFiles("C++", out.SpecHash, out.Files)
			return nil
		},
	}
	cmd.Flags().StringVar(&c.outDir, "out-dir", "", "C++ output directory (default: <firmware-root>/src/story/generated)")
	return cmd
}

func (c *cli) generateBundleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "generate-bundle",
		Aliases: []string{"deploy"},
		Short:   "Validate then emit the JSON flash bundle",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, cfg, err := c.pipeline()
			if err != nil {
				return err
			}
			opts := c.bundleOptions(p, cfg, c.outDir)
			out, err := p.GenerateBundle(c.outDir, opts)
			if err != nil {
				return err
			}
			c.printBundle(out, opts)
			return nil
		},
	}
	cmd.Flags().StringVar(&c.outDir, "out-dir", "", "Deploy root (default: <firmware-root>/artifacts/story_fs/deploy)")
	c.bundleFlags(cmd)
	return cmd
}

func (c *cli) syncScreensCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync-screens",
		Short: "Project the screen palette into the bundle screens directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, _, err := c.pipeline()
			if err != nil {
				return err
			}
			report, err := p.SyncScreens(c.outDir, c.check)
			if err != nil {
				return err
			}
			return c.printSync(report)
		},
	}
	cmd.Flags().StringVar(&c.outDir, "out-dir", "", "Deploy root (default: <firmware-root>/artifacts/story_fs/deploy)")
	cmd.Flags().BoolVar(&c.check, "check", false, "Report drift without writing; exit 1 when files are out of date")
	return cmd
}

func (c *cli) allCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "all",
		Short: "Run generate-cpp, generate-bundle and sync-screens in order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, cfg, err := c.pipeline()
			if err != nil {
				return err
			}
			opts := c.bundleOptions(p, cfg, c.bundleOutDir)
			out, err := p.All(c.outDir, c.bundleOutDir, opts)
			if out != nil && out.CPP != nil && out.CPP.Files != nil {
				c.printFiles("C++", out.CPP.SpecHash, out.CPP.Files)
			}
			if err != nil {
				return err
			}
			c.printBundle(out.Bundle, opts)
			if out.Screens != nil {
				return c.printSync(out.Screens)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&c.outDir, "cpp-out-dir", "", "C++ output directory")
	cmd.Flags().StringVar(&c.bundleOutDir, "bundle-out-dir", "", "Deploy root")
	c.bundleFlags(cmd)
	return cmd
}

func (c *cli) historyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List the most recent generation runs from the ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, cfg, err := c.resolve()
			if err != nil {
				return err
			}
			params, ok, err := ledgerParams(cfg, paths.FirmwareRoot, c.ledgerDSN)
			if err != nil {
				return err
			}
			if !ok {
				return story.NewConfigurationError("history", "",
					errors.New("no ledger configured (use --ledger-dsn or the ledger section of storygen.yaml)"))
			}
			client, err := postgres.New(params)
			if err != nil {
				return story.NewConfigurationError("open ledger", params.Redacted(), err)
			}
			defer client.Close()

			runs, err := client.Query(c.limit)
			if err != nil {
				return story.NewConfigurationError("query ledger", "", err)
			}
			for _, r := range runs {
				status := "ok"
				if !r.OK {
					status = "failed"
				}
				hash := r.SpecHash
				if hash == "" {
					hash = "-"
				}
				fmt.Fprintf(c.stdout, "%s %s %-15s %-6s spec_hash=%s scenarios=%d artifacts=%d\n",
					r.Timestamp.UTC().Format("2006-01-02T15:04:05Z"), r.RunID, r.Command, status,
					hash, r.ScenarioCount, len(r.Artifacts))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&c.limit, "limit", 20, "Number of runs to show")
	return cmd
}

func (c *cli) versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the storygen version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(c.stdout, "storygen %s (bundle format %d)\n", version.Version, version.BundleFormat)
		},
	}
}

func (c *cli) bundleFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&c.archive, "archive", "", "Also write a .tar.gz of the deploy root (optional path)")
	cmd.Flags().Lookup("archive").NoOptDefVal = autoArchive
	cmd.Flags().BoolVar(&c.announce, "announce", false, "Publish the bundle spec hash on the room MQTT bus")
	cmd.Flags().StringVar(&c.broker, "broker", "", "MQTT broker URL for --announce")
	cmd.Flags().StringVar(&c.topic, "topic", "", "MQTT topic for --announce (default: "+config.DefaultAnnounceTopic+")")
}

func (c *cli) bundleOptions(p *orchestrator.Pipeline, cfg *config.ToolConfig, root string) orchestrator.BundleOptions {
	var opts orchestrator.BundleOptions
	switch c.archive {
	case "":
	case autoArchive:
		opts.Archive = p.DefaultArchivePath(root)
	default:
		opts.Archive = c.archive
	}

	if c.announce {
		broker := firstNonEmpty(c.broker, cfg.Announce.Broker, mqtt.DefaultBroker)
		topic := firstNonEmpty(c.topic, cfg.AnnounceTopic())
		client := mqtt.NewClient(broker, mqtt.ClientID(cfg.Announce.ClientID))
		opts.Announcer = mqtt.NewAnnouncer(client, topic)
	}
	return opts
}

func (c *cli) resolve() (*config.Paths, *config.ToolConfig, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, nil, story.NewConfigurationError("getwd", "", err)
	}
	return config.Resolve(cwd, c.overrides)
}

// pipeline resolves paths and opens the ledger when one is configured.
// An unreachable ledger only disables recording.
func (c *cli) pipeline() (*orchestrator.Pipeline, *config.ToolConfig, error) {
	paths, cfg, err := c.resolve()
	if err != nil {
		return nil, nil, err
	}
	p := orchestrator.New(paths)
	log.Debug().Str("paths", p.String()).Msg("resolved paths")

	params, ok, err := ledgerParams(cfg, paths.FirmwareRoot, c.ledgerDSN)
	if err != nil {
		events.Emit("warn", "ledger.error", "ledger disabled", map[string]interface{}{"error": err.Error()})
		return p, cfg, nil
	}
	if ok {
		client, err := postgres.New(params)
		if err != nil {
			events.Emit("warn", "ledger.error", "ledger unavailable, runs are not recorded", map[string]interface{}{
				"ledger": params.Redacted(),
				"error":  err.Error(),
			})
		} else {
			p.SetLedger(client)
		}
	}
	return p, cfg, nil
}

// ledgerParams builds the ledger connection from the tool config, with
// dsn overriding it. password_file is relative to the firmware root.
func ledgerParams(cfg *config.ToolConfig, root, dsn string) (postgres.Params, bool, error) {
	l := cfg.Ledger
	if dsn != "" {
		l.DSN = dsn
	}
	if !l.Enabled() {
		return postgres.Params{}, false, nil
	}
	password, err := config.ReadSecretFile(root, l.PasswordFile)
	if err != nil {
		return postgres.Params{}, false, err
	}
	return postgres.Params{
		DSN:      l.DSN,
		Host:     l.Host,
		Port:     l.Port,
		User:     l.User,
		Password: password,
		DBName:   l.DBName,
		SSLMode:  l.SSLMode,
	}, true, nil
}

func (c *cli) runWatch(ctx context.Context, p *orchestrator.Pipeline) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	return p.Watch(ctx, func(res *story.Result, err error) {
		if err != nil {
			c.report(err)
			return
		}
		c.printValidated(res)
	})
}

func (c *cli) printValidated(res *story.Result) {
	for _, sc := range res.Scenarios {
		fmt.Fprintf(c.stdout, "OK %s: scenario=%s version=%d steps=%d transitions=%d\n",
			sc.Source, sc.ID, sc.Version, len(sc.Steps), sc.TransitionCount())
	}
	fmt.Fprintf(c.stdout, "validated %d scenario(s), spec_hash=%s\n", len(res.Scenarios), res.SpecHash)
}

func (c *cli) printFiles(kind, specHash string, files []string) {
	for _, f := range files {
		fmt.Fprintf(c.stdout, "wrote %s\n", f)
	}
	fmt.Fprintf(c.stdout, "%s: %d file(s), spec_hash=%s\n", kind, len(files), specHash)
}

func (c *cli) printBundle(out *orchestrator.BundleResult, opts orchestrator.BundleOptions) {
	m := out.Manifest
	fmt.Fprintf(c.stdout, "bundle: %d file(s), spec_hash=%s scenarios=%d apps=%d screens=%d audio=%d actions=%d\n",
		len(out.Files), m.SpecHash, m.Counts.Scenarios, m.Counts.Apps, m.Counts.Screens, m.Counts.Audio, m.Counts.Actions)
	if opts.Archive != "" {
		fmt.Fprintf(c.stdout, "archive: %s (%d entries)\n", opts.Archive, len(out.ArchiveEntries))
	}
	if out.Announcement != nil && opts.Announcer != nil {
		fmt.Fprintf(c.stdout, "announced spec_hash=%s on %s\n", out.Announcement.SpecHash, opts.Announcer.Topic())
	}
}

func (c *cli) printSync(report *bundle.SyncReport) error {
	for _, d := range report.Drift {
		fmt.Fprintf(c.stdout, "%s %s\n", d.Kind, d.Path)
	}
	if c.check {
		if len(report.Drift) > 0 {
			return errDrift
		}
		fmt.Fprintf(c.stdout, "screens: %d palette entries up to date\n", report.Screens)
		return nil
	}
	fmt.Fprintf(c.stdout, "screens: %d palette entries, %d file(s) written\n", report.Screens, len(report.Written))
	return nil
}

// report prints err to stderr; validation issues get one line each.
func (c *cli) report(err error) {
	var verr *story.ValidationError
	if errors.As(err, &verr) {
		for _, issue := range verr.Issues {
			fmt.Fprintln(c.stderr, issue.String())
		}
		fmt.Fprintf(c.stderr, "validation failed: %d issue(s)\n", len(verr.Issues))
		return
	}
	fmt.Fprintf(c.stderr, "error: %v\n", err)
}

func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var verr *story.ValidationError
	if errors.As(err, &verr) || errors.Is(err, errDrift) {
		return exitValidation
	}
	return exitConfig
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
