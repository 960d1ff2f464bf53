package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zjrosen/svcreg/internal/config"
	"github.com/zjrosen/svcreg/internal/log"
	"github.com/zjrosen/svcreg/internal/tracing"
)

var (
	version = "dev"
	cfgFile string
	cfg     config.Config
	cfgErr  error

	logFile   string
	debug     bool
	followLog bool

	// Set up in setup, released in teardown.
	provider    *tracing.Provider
	logCleanup  func()
	stopFollow  context.CancelFunc
	followDone  chan struct{}
	localConfig = filepath.Join(".svcreg", "config.yaml")
)

var rootCmd = &cobra.Command{
	Use:   "svcreg",
	Short: "Typed in-process service registry diagnostics",
	Long: `svcreg exercises the typed in-process service registry.

Producers publish typed services under opaque handles decorated with string
properties; consumers resolve typed references back into values. The stress
command runs that protocol concurrently and verifies its guarantees.`,
	Version:           version,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default: .svcreg/config.yaml, then ~/.config/svcreg/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "",
		"append logs to this file (overrides log.path)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false,
		"log at debug level")
	rootCmd.PersistentFlags().BoolVar(&followLog, "follow-log", false,
		"echo log lines to stderr while the command runs")
}

func setDefaults(v *viper.Viper) {
	defaults := config.Defaults()
	v.SetDefault("log.path", defaults.Log.Path)
	v.SetDefault("log.level", defaults.Log.Level)
	v.SetDefault("tracing.enabled", defaults.Tracing.Enabled)
	v.SetDefault("tracing.exporter", defaults.Tracing.Exporter)
	v.SetDefault("tracing.file_path", defaults.Tracing.FilePath)
	v.SetDefault("tracing.otlp_endpoint", defaults.Tracing.OTLPEndpoint)
	v.SetDefault("tracing.sample_rate", defaults.Tracing.SampleRate)
	v.SetDefault("tracing.service_name", defaults.Tracing.ServiceName)
	v.SetDefault("stress.producers", defaults.Stress.Producers)
	v.SetDefault("stress.consumers", defaults.Stress.Consumers)
	v.SetDefault("stress.ops", defaults.Stress.Ops)
	v.SetDefault("stress.unregister_ratio", defaults.Stress.UnregisterRatio)
}

func initConfig() {
	cfgErr = nil
	setDefaults(viper.GetViper())

	viper.SetEnvPrefix("SVCREG")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		// Config lookup order:
		// 1. .svcreg/config.yaml (current directory)
		// 2. ~/.config/svcreg/config.yaml (user config)
		if _, err := os.Stat(localConfig); err == nil {
			viper.SetConfigFile(localConfig)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(filepath.Join(home, ".config", "svcreg"))
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
	}

	if err := viper.ReadInConfig(); err != nil {
		// Running on defaults alone is fine.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			cfgErr = fmt.Errorf("reading config: %w", err)
			return
		}
	}

	cfg = config.Config{}
	if err := viper.Unmarshal(&cfg); err != nil {
		cfgErr = fmt.Errorf("decoding config: %w", err)
	}
}

// setup validates configuration and starts logging and tracing.
func setup(cmd *cobra.Command, _ []string) error {
	if cfgErr != nil {
		return cfgErr
	}
	if logFile != "" {
		cfg.Log.Path = logFile
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	switch {
	case cfg.Log.Path != "":
		cleanup, err := log.Init(cfg.Log.Path)
		if err != nil {
			return err
		}
		logCleanup = cleanup
	case followLog:
		log.InitWriter(io.Discard)
	}

	level, _ := log.ParseLevel(cfg.Log.Level)
	if debug {
		level = log.LevelDebug
	}
	log.SetMinLevel(level)

	if followLog {
		startFollow(cmd.ErrOrStderr())
	}

	p, err := tracing.NewProvider(cfg.Tracing)
	if err != nil {
		return fmt.Errorf("starting tracing: %w", err)
	}
	provider = p

	log.Debug(log.CatConfig, "Configuration loaded", "file", viper.ConfigFileUsed())
	return nil
}

// teardown flushes traces and closes the log. It is safe to call twice.
func teardown() error {
	var err error
	if provider != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = provider.Shutdown(ctx)
		cancel()
		provider = nil
	}
	if stopFollow != nil {
		stopFollow()
		<-followDone
		stopFollow = nil
	}
	log.Reset()
	if logCleanup != nil {
		logCleanup()
		logCleanup = nil
	}
	return err
}

// startFollow echoes every log line to w until teardown.
func startFollow(w io.Writer) {
	ctx, cancel := context.WithCancel(context.Background())
	events := log.NewListener(ctx)
	if events == nil {
		cancel()
		return
	}

	stopFollow = cancel
	followDone = make(chan struct{})
	go func() {
		defer close(followDone)
		for ev := range events {
			_, _ = io.WriteString(w, ev.Payload)
		}
	}()
}

// Execute runs the root command
func Execute() error {
	err := rootCmd.Execute()
	if tErr := teardown(); err == nil {
		err = tErr
	}
	return err
}

// SetVersion sets the version string (called from main with ldflags)
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}
