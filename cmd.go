package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"consultchat/global/config"
	"consultchat/logger"
	"consultchat/tools/security"

	"github.com/spf13/cobra"
)

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "consultchat",
	Short: "Real-time consultation chat gateway",
	Long: `consultchat serves the consultation websocket gateway, the room REST API
and file uploads, backed by memory, MongoDB or PostgreSQL storage.`,
	SilenceUsage: true,
}

// Execute is called by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path (yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log.level (debug, info, warn, error)")

	tokenCmd.Flags().StringVar(&tokenSub, "sub", "", "subject (user id), required")
	tokenCmd.Flags().StringVar(&tokenRole, "role", security.RoleDoctor, "doctor | admin")
	tokenCmd.Flags().Int64Var(&tokenDoctorID, "doctor-id", -1, "doctor id claim; omitted when negative")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 0, "token lifetime (default auth.tokenTTL)")
	_ = tokenCmd.MarkFlagRequired("sub")

	rootCmd.AddCommand(serveCmd, tokenCmd, migrateCmd)
}

// loadConfig 读取配置并初始化日志级别
func loadConfig() (*config.AppConfig, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	logger.Init(cfg.Log.Level)
	return cfg, nil
}

// ===== serve =====

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP/websocket and gRPC health servers",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		defer logger.Sync()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := buildApp(ctx, cfg)
		if err != nil {
			return err
		}
		logger.Infof("consultchat node %d started, store=%s upload=%s", cfg.NodeID, cfg.Store.Driver, cfg.Upload.Driver)
		return a.run(ctx)
	},
}

// ===== token =====

var (
	tokenSub      string
	tokenRole     string
	tokenDoctorID int64
	tokenTTL      time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a development token with the configured secret",
	Example: `  consultchat token --sub u7 --role doctor --doctor-id 7
  consultchat token --sub root --role admin`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		switch tokenRole {
		case security.RoleDoctor, security.RoleAdmin:
		default:
			return fmt.Errorf("unknown role %q", tokenRole)
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		opts := security.DefaultOptions([]byte(cfg.Auth.JWTSecret))
		opts.Alg = cfg.Auth.JWTAlg
		opts.TTL = cfg.Auth.TokenTTL
		if tokenTTL > 0 {
			opts.TTL = tokenTTL
		}
		jwt, err := security.NewJWT(opts)
		if err != nil {
			return err
		}
		tok, exp, err := jwt.Generate(tokenSub, tokenRole, tokenDoctorID)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), tok)
		fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", exp.Format(time.RFC3339))
		return nil
	},
}

// ===== migrate =====

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create PostgreSQL tables or MongoDB indexes for the configured store",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		defer logger.Sync()
		if cfg.Store.Driver == config.StoreMemory {
			logger.Info("memory store needs no migration")
			return nil
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
		defer cancel()
		st, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer func() { _ = st.Close(context.Background()) }()
		if err := st.Migrate(ctx); err != nil {
			return err
		}
		logger.Infof("%s store migrated", cfg.Store.Driver)
		return nil
	},
}
