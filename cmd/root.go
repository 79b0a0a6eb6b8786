package cmd

import (
	"context"
	"fmt"
	"io"
	u "net/url"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tanq16/keeper/internal/config"
	"github.com/tanq16/keeper/internal/manager"
	"github.com/tanq16/keeper/internal/metrics"
	"github.com/tanq16/keeper/internal/output"
	"github.com/tanq16/keeper/internal/store"
	"github.com/tanq16/keeper/internal/utils"
)

var (
	configPath  string
	dataDir     string
	logFile     string
	debug       bool
	connections int
	userAgent   string
	proxyURL    string
	authToken   string
	headers     []string
)

var KeeperVersion = "dev"

// session holds what every subcommand works with once the root has loaded
// configuration and restored the registry.
type session struct {
	cfg       config.Config
	mgr       *manager.Manager
	metrics   *metrics.Metrics
	logCloser io.Closer
}

var current *session

var rootCmd = &cobra.Command{
	Use:               "keeper",
	Short:             "Keeper is a resumable, parallel HTTP download manager",
	Version:           KeeperVersion,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return teardown()
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		teardown()
		output.PrintError(err.Error())
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file path (default <data-dir>/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Directory holding keeper state (default per-user data dir)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Append JSON logs to this file")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().IntVarP(&connections, "connections", "c", 4, "Maximum parallel chunk connections per download (above 5 enables high-thread-mode)")
	rootCmd.PersistentFlags().StringVarP(&userAgent, "user-agent", "a", utils.ToolUserAgent, "User agent")
	rootCmd.PersistentFlags().StringVarP(&proxyURL, "proxy", "p", "", "HTTP/HTTPS proxy URL (e.g., user:pass@proxy.example.com:8080)")
	rootCmd.PersistentFlags().StringArrayVarP(&headers, "header", "H", []string{}, "Custom headers (like 'X-Api-Key: abc'); can be specified multiple times")
	rootCmd.PersistentFlags().StringVar(&authToken, "token", "", "Bearer token sent with every request")

	rootCmd.AddCommand(newAddCmd())
	rootCmd.AddCommand(newStartCmd())
	rootCmd.AddCommand(newListCmd())
	rootCmd.AddCommand(newCancelCmd())
	rootCmd.AddCommand(newRemoveCmd())
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, required := configPath, configPath != ""
	if path == "" {
		base := dataDir
		if base == "" {
			base = config.GetEnv("KEEPER_DATA_DIR", utils.DataDir())
		}
		path = filepath.Join(base, utils.ConfigFileName)
	}
	cfg, err := config.Load(path, required)
	if err != nil {
		return config.Config{}, err
	}

	flags := cmd.Flags()
	if flags.Changed("data-dir") {
		cfg.DataDir = dataDir
	}
	if debug {
		cfg.Log.Level = "debug"
	}
	if flags.Changed("log-file") {
		cfg.Log.File = logFile
	}
	if flags.Changed("connections") {
		cfg.Engine.MaxParallelChunks = connections
	}
	if flags.Changed("user-agent") {
		cfg.HTTP.UserAgent = userAgent
	}
	if flags.Changed("token") {
		cfg.HTTP.AuthToken = authToken
	}
	if len(headers) > 0 {
		if cfg.HTTP.Headers == nil {
			cfg.HTTP.Headers = make(map[string]string)
		}
		for k, v := range utils.ParseHeaderArgs(headers) {
			cfg.HTTP.Headers[k] = v
		}
	}
	if flags.Changed("proxy") {
		cfg.HTTP.Proxy = proxyURL
	}
	// credentials embedded in the proxy URL are passed separately
	parsedProxy, err := u.Parse(cfg.HTTP.Proxy)
	if err == nil && parsedProxy.User != nil && cfg.HTTP.ProxyUsername == "" {
		cfg.HTTP.ProxyUsername = parsedProxy.User.Username()
		if password, set := parsedProxy.User.Password(); set {
			cfg.HTTP.ProxyPassword = password
		}
		parsedProxy.User = nil
		cfg.HTTP.Proxy = parsedProxy.String()
	}
	return cfg, cfg.Validate()
}

func openStore(ctx context.Context, cfg config.Config) (store.Store, error) {
	if cfg.State.Backend == "s3" {
		return store.NewS3StoreFromProfile(ctx, cfg.State.S3.Profile, cfg.State.S3.Region, cfg.State.S3.Bucket, cfg.State.S3.Key)
	}
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}
	return store.NewFileStore(cfg.StatePath()), nil
}

func setup(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	closer, err := utils.InitLogger(cfg.Log.Level, cfg.Log.File)
	if err != nil {
		return err
	}
	st, err := openStore(cmd.Context(), cfg)
	if err != nil {
		closer.Close()
		return err
	}
	m := metrics.New()
	client := utils.NewKeeperHTTPClient(cfg.HTTPClientConfig())
	mgr := manager.New(cfg.ManagerOptions(), st, client, m)
	if err := mgr.RestoreFromPersistence(cmd.Context()); err != nil {
		// closing the manager here would persist an empty registry
		closer.Close()
		return err
	}
	log.Debug().Str("op", "cmd/root").Str("data_dir", cfg.DataDir).Str("backend", cfg.State.Backend).Msg("keeper ready")
	current = &session{cfg: cfg, mgr: mgr, metrics: m, logCloser: closer}
	return nil
}

func teardown() error {
	if current == nil {
		return nil
	}
	s := current
	current = nil
	err := s.mgr.Close()
	s.logCloser.Close()
	return err
}

// resolveIDs expands id prefixes given on the command line.
func resolveIDs(args []string) ([]string, error) {
	ids := make([]string, 0, len(args))
	for _, arg := range args {
		id, err := current.mgr.Resolve(arg)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
