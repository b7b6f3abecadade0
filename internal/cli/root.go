package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/you/carebook/internal/config"
	"github.com/you/carebook/internal/infrastructure/api"
	"github.com/you/carebook/internal/infrastructure/cache"
	"github.com/you/carebook/internal/logger"
	"github.com/you/carebook/internal/services"
)

// deviceID names the single user agent a CLI process represents
const deviceID = "cli"

// Prompter asks the user for a value. Secret values are masked.
type Prompter interface {
	Ask(label string, secret bool) (string, error)
}

type ptermPrompter struct{}

func (ptermPrompter) Ask(label string, secret bool) (string, error) {
	input := pterm.DefaultInteractiveTextInput
	if secret {
		return input.WithMask("*").Show(label)
	}
	return input.Show(label)
}

// Options lets callers preset what the root command would otherwise load
type Options struct {
	Config *config.Config
	Logger *slog.Logger
	Prompt Prompter
}

// runtime is shared by every subcommand of one invocation
type runtime struct {
	opts     Options
	apiURL   string
	cacheDir string
	verbose  bool

	cfg     *config.Config
	cache   *cache.FileCache
	session *services.SessionContext
}

// NewRootCmd builds the carebookctl command tree
func NewRootCmd(opts Options) *cobra.Command {
	rt := &runtime{opts: opts}
	if rt.opts.Prompt == nil {
		rt.opts.Prompt = ptermPrompter{}
	}

	root := &cobra.Command{
		Use:   "carebookctl",
		Short: "Carebook CLI - sign in, register and inspect your session",
		Long: `carebookctl is a command-line user agent for the Carebook platform.
Credentials are kept in a private cache directory so a session started by
one invocation is resumed by the next.`,
		SilenceUsage:      true,
		PersistentPreRunE: rt.setup,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if rt.session != nil {
				rt.session.Close()
			}
		},
	}

	root.PersistentFlags().StringVar(&rt.apiURL, "api", "", "Platform API base URL (overrides config)")
	root.PersistentFlags().StringVar(&rt.cacheDir, "cache-dir", "", "Credential cache directory (default ~/.carebook)")
	root.PersistentFlags().BoolVarP(&rt.verbose, "verbose", "v", false, "Log session activity to stderr")

	root.AddCommand(newLoginCmd(rt))
	root.AddCommand(newLogoutCmd(rt))
	root.AddCommand(newStatusCmd(rt))
	root.AddCommand(newWhoamiCmd(rt))
	root.AddCommand(newRegisterCmd(rt))
	return root
}

// Execute runs the CLI and exits non-zero on failure
func Execute(ctx context.Context) {
	if err := NewRootCmd(Options{}).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func (rt *runtime) setup(cmd *cobra.Command, args []string) error {
	cfg := rt.opts.Config
	if cfg == nil {
		loaded, err := config.Load()
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if rt.apiURL != "" {
		cfg.APIBaseURL = rt.apiURL
	}
	if rt.cacheDir != "" {
		cfg.CLICacheDir = rt.cacheDir
	}
	rt.cfg = cfg

	log := rt.opts.Logger
	if log == nil {
		level := "error"
		if rt.verbose {
			level = "debug"
		}
		log = logger.New(cmd.ErrOrStderr(), level)
	}

	fc, err := cache.NewFileCache(cfg.CLICacheDir, log)
	if err != nil {
		return err
	}
	rt.cache = fc

	client := api.NewClient(cfg.APIBaseURL, cfg.APITimeout)
	rt.session = services.NewSessionContext(deviceID, fc, api.NewSessionValidator(client, fc), services.SessionDeps{
		Auth:         client,
		Registration: client,
		Settings:     services.SettingsFromConfig(cfg),
		Logger:       log,
		Audit:        logger.NewAuditLogger(log),
	})
	return nil
}

// resolve mounts the session and waits for the server's verdict
func (rt *runtime) resolve(ctx context.Context) services.SessionView {
	rt.session.Start(ctx)
	ctx, cancel := context.WithTimeout(ctx, rt.cfg.ValidateTimeout+time.Second)
	defer cancel()
	view, _ := rt.session.Wait(ctx)
	return view
}

func (rt *runtime) ask(label string, secret bool) (string, error) {
	value, err := rt.opts.Prompt.Ask(label, secret)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", label, err)
	}
	return value, nil
}

// printers bound to the command's output
type printers struct {
	section *pterm.SectionPrinter
	info    *pterm.PrefixPrinter
	success *pterm.PrefixPrinter
	warning *pterm.PrefixPrinter
	errorP  *pterm.PrefixPrinter
}

func printersFor(w io.Writer) printers {
	return printers{
		section: pterm.DefaultSection.WithWriter(w),
		info:    pterm.Info.WithWriter(w),
		success: pterm.Success.WithWriter(w),
		warning: pterm.Warning.WithWriter(w),
		errorP:  pterm.Error.WithWriter(w),
	}
}
