package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"feedload/internal/banner"
	"feedload/internal/config"
	"feedload/internal/driver"
	"feedload/internal/storage"
)

// Exit codes.
const (
	exitFailed  = 1
	exitInvalid = 2
)

var (
	cfgFile     string
	logLevel    string
	historyPath string
)

// exitError carries the process exit code for an error.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

// withExitCode maps configuration problems to exitInvalid and everything
// else to exitFailed.
func withExitCode(err error) error {
	if err == nil {
		return nil
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return err
	}
	if errors.Is(err, driver.ErrInvalidConfig) {
		return &exitError{code: exitInvalid, err: err}
	}
	return &exitError{code: exitFailed, err: err}
}

var rootCmd = &cobra.Command{
	Use:   "feedload",
	Short: "feedload - load driver for feed services",
	Long: `
feedload drives a mix of feed reads and user/post writes against a feed
service, per region, and reports latency, error rate and check results.

It also ships a mock feed server to rehearse runs locally.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, err := log.ParseLevel(logLevel)
		if err != nil {
			return &exitError{code: exitInvalid, err: err}
		}
		log.SetLevel(level)
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

		if err := initConfig(); err != nil {
			return &exitError{code: exitInvalid, err: err}
		}
		return nil
	},
}

func Execute() {
	rootCmd.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		fmt.Println(banner.GetString())
		cmd.Usage()
	})

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "❌", err)
		code := exitFailed
		var ee *exitError
		if errors.As(err, &ee) {
			code = ee.code
		}
		os.Exit(code)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.feedload.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&historyPath, "history-db", "", "run history file (default is $HOME/.feedload/history.db)")

	config.SetDefaults(viper.GetViper())

	rootCmd.AddCommand(runCmd, mockCmd, historyCmd, targetsCmd, analyzeCmd)
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
			viper.SetConfigType("yaml")
			viper.SetConfigName(".feedload")
		}
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile == "" && errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("%w: read config: %v", driver.ErrInvalidConfig, err)
	}
	log.WithField("file", viper.ConfigFileUsed()).Debug("using config file")
	return nil
}

func resolveHistoryPath() (string, error) {
	if historyPath != "" {
		return historyPath, nil
	}
	return storage.DefaultPath()
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
