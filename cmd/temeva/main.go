package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/jmerrifield20/temeva/internal/config"
	"github.com/jmerrifield20/temeva/pkg/client"
	"github.com/jmerrifield20/temeva/pkg/logging"
)

// version is overridden by goreleaser via -ldflags "-X main.version=...".
var version = "dev"

var (
	cfgFile string
	v       = config.New()
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "temeva",
	Short:   "Temeva licensing service CLI",
	Version: version,
	Long: `temeva calls the Temeva licensing service REST API.

It logs in with your username and password, then sends one request to the
endpoint you name and prints the reply:

  temeva version
  temeva get /iam/users
  temeva get /lic/checkouts --param organization_id=<org> --param application_id=stc

Credentials can come from flags, TEMEVA_USERNAME / TEMEVA_PASSWORD, or
~/.temeva/config.yaml.`,
	SilenceUsage: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default ~/.temeva/config.yaml)")
	pf.String("username", "", "licensing service username")
	pf.String("password", "", "licensing service password")
	pf.String("org", "", "organization ID (looked up when empty)")
	pf.String("base-url", client.DefaultBaseURL, "licensing service root URL")
	pf.String("log-level", "INFO", "log level: DEBUG, INFO, WARNING, ERROR or CRITICAL")
	pf.String("log-path", "", "directory the logs/ folder is created in (default current directory)")
	pf.Duration("timeout", client.DefaultTimeout, "HTTP timeout per request; 0 disables it")

	if err := config.BindFlags(v, pf); err != nil {
		panic(err)
	}

	rootCmd.AddCommand(versionCmd)
	for _, verb := range []string{"get", "put", "post", "delete"} {
		rootCmd.AddCommand(newVerbCmd(verb))
	}
}

// connect loads configuration, opens the log file and logs in. The returned
// func flushes the log.
func connect(ctx context.Context, vp *viper.Viper) (*client.Client, func(), error) {
	cfg, err := config.Load(vp, cfgFile)
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	logger, path, err := logging.NewFileLogger(logging.Config{Level: cfg.LogLevel, Dir: cfg.LogPath})
	if err != nil {
		return nil, nil, err
	}
	flush := func() { _ = logger.Sync() }

	opts := append(cfg.ClientOptions(), client.WithLogger(logger))
	c, err := client.New(ctx, cfg.Username, cfg.Password, opts...)
	if err != nil {
		logger.Error("login failed", zap.Error(err))
		flush()
		return nil, nil, fmt.Errorf("login (log: %s): %w", path, err)
	}
	return c, flush, nil
}

// ── version ──────────────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the licensing platform build number",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, flush, err := connect(cmd.Context(), v)
		if err != nil {
			return err
		}
		defer flush()

		build, err := c.Version(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), build)
		return nil
	},
}
