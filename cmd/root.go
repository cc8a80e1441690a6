package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/kozaktomas/camflow/internal/config"
	"github.com/kozaktomas/camflow/internal/logger"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var rootCmd = &cobra.Command{
	Use:   "camflow",
	Short: "Analyse camera photos with AI and deliver the results",
	Long: `CamFlow runs batches of photos through a vision model or face recognition
in the background and delivers a digest with the original photos to a
Telegram chat or an e-mail inbox.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		log, err := logger.NewLogger(cfg.Logging.Env, cfg.Logging.Level)
		if err != nil {
			return err
		}
		cmd.SetContext(logger.ContextWithLogger(cmd.Context(), log))
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
	cobra.OnInitialize(initConfig)
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}

// loadApp builds the application for a command from the environment.
// Commands other than serve read local images below the working directory
// unless CAMFLOW_IMAGE_ROOT says otherwise.
func loadApp(cmd *cobra.Command) (*app, *zap.Logger, error) {
	ctx := cmd.Context()
	cfg := config.Load()
	if cfg.Web.ImageRoot == "" && cmd.Name() != "serve" {
		if wd, err := os.Getwd(); err == nil {
			cfg.Web.ImageRoot = wd
		}
	}
	a, err := newApp(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return a, logger.FromContext(ctx), nil
}
