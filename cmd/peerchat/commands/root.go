package commands

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"peerchat/internal/app"
)

var (
	cfgFile  string
	home     string
	debug    bool
	password string

	appCtx *app.App
	logger *zap.Logger
)

// Execute runs the root command.
func Execute() error {
	root := &cobra.Command{
		Use:           "peerchat",
		Short:         "Serverless end-to-end encrypted LAN chat",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			set := map[string]any{}
			if home != "" {
				set["home"] = home
			}
			if cmd.Flags().Changed("debug") {
				set["log.debug"] = debug
			}
			cfg, err := app.Load(cfgFile, set)
			if err != nil {
				return err
			}
			logger, err = app.NewLogger(cfg.Log.Debug)
			if err != nil {
				return err
			}
			appCtx, err = app.New(cfg, logger)
			return err
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logger != nil {
				_ = logger.Sync()
			}
		},
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./peerchat.yaml or ~/.peerchat/peerchat.yaml)")
	root.PersistentFlags().StringVar(&home, "home", "", "data dir (default ~/.peerchat)")
	root.PersistentFlags().BoolVar(&debug, "debug", false, "verbose logging")

	root.AddCommand(registerCmd(), runCmd(), fingerprintCmd(), historyCmd(), readCmd())
	return root.Execute()
}

// readPassword returns the --password flag, $PEERCHAT_PASSWORD or a line
// read from in.
func readPassword(in io.Reader, out io.Writer) (string, error) {
	if password != "" {
		return password, nil
	}
	if p := os.Getenv(app.EnvPrefix + "_PASSWORD"); p != "" {
		return p, nil
	}
	fmt.Fprint(out, "Password: ")
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
