package cli

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"

	"messenger-client/internal/app"
	"messenger-client/internal/config"
	"messenger-client/internal/message"
)

var (
	cfgFile     string
	envFile     string
	flagServer  string
	flagDataDir string
	flagSecret  string
	flagTZ      string
	flagWebAddr string
	flagNoColor bool
	flagNotify  bool
	flagVerbose bool

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:               "messenger",
	Short:             "Terminal and browser client for the messenger backend",
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

func Execute() error {
	return rootCmd.Execute()
}

func GetRootCmd() *cobra.Command {
	return rootCmd
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default is "+config.DefaultPath()+")")
	pf.StringVar(&envFile, "env-file", "", "dotenv file with MESSENGER_* variables (default .env when present)")
	pf.StringVar(&flagServer, "server", "", "backend base url")
	pf.StringVar(&flagDataDir, "data-dir", "", "directory for the session cache and downloads")
	pf.StringVar(&flagSecret, "secret", "", "passphrase encrypting the cached session")
	pf.StringVar(&flagTZ, "timezone", "", "IANA zone used to group messages by day")
	pf.StringVar(&flagWebAddr, "web-addr", "", "listen address of the web ui")
	pf.BoolVar(&flagNoColor, "no-color", false, "disable ANSI colors")
	pf.BoolVar(&flagNotify, "notify", true, "desktop notifications for new messages")
	pf.BoolVarP(&flagVerbose, "verbose", "v", false, "log to stderr instead of the log file")
}

func loadConfig(cmd *cobra.Command, _ []string) error {
	var err error
	cfg, err = config.Load(cfgFile, envFile, cmd.Flags().Changed("config"))
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("server") {
		cfg.ServerURL = flagServer
	}
	if flags.Changed("data-dir") {
		cfg.DataDir = flagDataDir
	}
	if flags.Changed("secret") {
		cfg.Secret = flagSecret
	}
	if flags.Changed("timezone") {
		cfg.Timezone = flagTZ
	}
	if flags.Changed("web-addr") {
		cfg.WebAddr = flagWebAddr
	}
	if flags.Changed("no-color") {
		cfg.NoColor = flagNoColor
	}
	if flags.Changed("notify") {
		cfg.Notify = flagNotify
	}
	if err := cfg.Finalize(); err != nil {
		return err
	}
	if !flagVerbose {
		quietLog(cfg.LogFile)
	}
	return nil
}

func quietLog(path string) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		log.SetOutput(io.Discard)
		return
	}
	log.SetOutput(f)
}

// withApp builds the app for one command and tears it down afterwards.
func withApp(fn func(ctx context.Context, a *app.App) error) error {
	a, err := app.New(cfg)
	if err != nil {
		return err
	}
	defer a.Shutdown()
	return fn(app.WaitForShutdown(a), a)
}

// loggedIn is withApp for commands that need the cached session.
func loggedIn(fn func(ctx context.Context, a *app.App, me message.Identity) error) error {
	return withApp(func(ctx context.Context, a *app.App) error {
		me, err := a.RequireLogin(ctx)
		if err != nil {
			return err
		}
		return fn(ctx, a, me)
	})
}

func describe(id message.Identity) string {
	name := id.DisplayName()
	if name == id.Username {
		return fmt.Sprintf("%s (id %d)", id.Username, id.ID)
	}
	return fmt.Sprintf("%s [%s] (id %d)", id.Username, name, id.ID)
}
