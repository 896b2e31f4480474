package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ZebulonRouseFrantzich/stealthdriver/internal/browser"
	"github.com/ZebulonRouseFrantzich/stealthdriver/internal/config"
	"github.com/ZebulonRouseFrantzich/stealthdriver/internal/driver"
	"github.com/ZebulonRouseFrantzich/stealthdriver/internal/platform"
	"github.com/ZebulonRouseFrantzich/stealthdriver/internal/procutil"
)

// deps are the host-facing pieces the commands use. Tests swap them out.
type deps struct {
	detector   platform.Detector
	procs      *procutil.System
	httpClient *http.Client
}

func defaultDeps() deps {
	return deps{
		detector: platform.NewDetector(),
		procs:    procutil.NewSystem(),
	}
}

// CLI represents the stealthdriver command line interface.
type CLI struct {
	deps    deps
	rootCmd *cobra.Command

	configPath string
	verbose    bool
}

// New creates the CLI with every subcommand attached.
func New(d deps) *CLI {
	rootCmd := &cobra.Command{
		Use:           "stealthdriver",
		Short:         "Provision patched chromedriver binaries",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	c := &CLI{deps: d, rootCmd: rootCmd}

	rootCmd.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "Config file (default: $STEALTHDRIVER_CONFIG or the user config directory)")
	rootCmd.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(c.newProvisionCmd())
	rootCmd.AddCommand(c.newPatchCmd())
	rootCmd.AddCommand(c.newStatusCmd())
	rootCmd.AddCommand(c.newCleanCmd())
	rootCmd.AddCommand(c.newStatsCmd())
	rootCmd.AddCommand(c.newInitCmd())
	rootCmd.AddCommand(c.newVersionCmd())

	return c
}

// Execute runs the root command with the given context.
func (c *CLI) Execute(ctx context.Context) error {
	c.rootCmd.SetContext(ctx)
	return c.rootCmd.Execute()
}

// SetArgs sets the arguments for the root command. Used for testing.
func (c *CLI) SetArgs(args []string) {
	c.rootCmd.SetArgs(args)
}

// SetOutput sets the output and error streams for the root command.
func (c *CLI) SetOutput(out, err io.Writer) {
	c.rootCmd.SetOut(out)
	c.rootCmd.SetErr(err)
}

// session bundles what a command needs after loading configuration.
type session struct {
	cfg         *config.Config
	log         *slog.Logger
	target      platform.Target
	provisioner *driver.Provisioner
}

func (c *CLI) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := config.ResolvePath(c.configPath)
	if err != nil {
		return nil, err
	}
	parser := config.NewParser(c.deps.detector).WithLogger(c.logger(cmd, nil))
	return parser.Load(cmd.Context(), path)
}

// logger writes text logs to the command's error stream. --verbose wins over
// the configured level.
func (c *CLI) logger(cmd *cobra.Command, cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	if cfg != nil {
		switch cfg.LogLevel {
		case config.LogDebug:
			level = slog.LevelDebug
		case config.LogWarn:
			level = slog.LevelWarn
		case config.LogError:
			level = slog.LevelError
		}
	}
	if c.verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
}

func (c *CLI) newSession(cmd *cobra.Command) (*session, error) {
	cfg, err := c.loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return c.sessionFor(cmd, cfg)
}

func (c *CLI) sessionFor(cmd *cobra.Command, cfg *config.Config) (*session, error) {
	ctx := cmd.Context()
	log := c.logger(cmd, cfg)

	info, err := c.deps.detector.Detect(ctx)
	if err != nil {
		return nil, fmt.Errorf("detect platform: %w", err)
	}

	var downloader *driver.Downloader
	if c.deps.httpClient != nil {
		downloader = driver.NewDownloader(driver.WithRetries(cfg.FetchRetries), driver.WithHTTPClient(c.deps.httpClient))
	}

	var installer browser.Installer
	if len(cfg.Browser.Install) > 0 {
		installer = browser.NewCommandInstaller(cfg.Browser.Install)
	}

	var procs driver.ProcessKiller
	if c.deps.procs != nil {
		procs = c.deps.procs
	}

	p, err := driver.NewProvisioner(driver.Config{
		CacheRoot:      cfg.CacheRoot,
		Target:         info.Target(),
		Caching:        driver.CachingMode(cfg.Caching),
		SourceMode:     driver.SourceMode(cfg.VersionSource),
		Endpoints:      cfg.Endpoints.DriverEndpoints(),
		Prober:         browser.NewCommandProber(cfg.Browser.Commands...),
		Installer:      installer,
		InstallBrowser: cfg.InstallBrowser,
		Processes:      procs,
		Downloader:     downloader,
		FetchRetries:   cfg.FetchRetries,
		LockTimeout:    cfg.LockTimeout,
		ReleaseTimeout: cfg.ReleaseTimeout,
		AllowUnpatched: !cfg.RequirePatched,
		Logger:         log,
	})
	if err != nil {
		return nil, fmt.Errorf("create provisioner: %w", err)
	}

	return &session{cfg: cfg, log: log, target: info.Target(), provisioner: p}, nil
}

// addOutputFlag registers -o/--output for commands that can emit YAML.
func addOutputFlag(cmd *cobra.Command, dst *string) {
	cmd.Flags().StringVarP(dst, "output", "o", "text", "Output format: text or yaml")
}

func checkOutputFormat(format string) error {
	switch format {
	case "text", "yaml":
		return nil
	default:
		return fmt.Errorf("unknown output format %q (expected text or yaml)", format)
	}
}

func writeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode yaml: %w", err)
	}
	return enc.Close()
}
