package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/chaos-io/pixfix/config"
	"github.com/chaos-io/pixfix/logger"
)

var (
	envFile  string
	logLevel string
	logJSON  bool

	// 由 PersistentPreRunE 填充，子命令直接使用
	cfg *config.Config
	log *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "pixfix",
	Short: "pixfix - background removal, enhancement, resizing, inpainting and perspective correction",
	Long: "pixfix runs image operations on single files, whole directories, or over HTTP.\n" +
		"Configuration comes from defaults, a .env file and PIXFIX_* environment variables; flags win.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(envFile)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("log-level") {
			loaded.Log.Level = logLevel
		}
		if cmd.Flags().Changed("log-json") {
			loaded.Log.JSON = logJSON
		}
		if err := loaded.Validate(); err != nil {
			return err
		}
		cfg = loaded
		log = logger.Init(&logger.Config{
			Level:  cfg.Log.Level,
			JSON:   cfg.Log.JSON,
			Output: os.Stderr,
		})
		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.SetHelpCommand(&cobra.Command{Hidden: true})

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the environment, ignored if missing")
	flags.StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	flags.BoolVar(&logJSON, "log-json", false, "emit JSON logs")
}
