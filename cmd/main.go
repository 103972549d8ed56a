package main

import (
	"context"
	"errors"
	"fmt"
	golog "log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/gtmills/ensuressl/internal/config"
	"github.com/gtmills/ensuressl/internal/output"
	"github.com/gtmills/ensuressl/internal/server"
	"github.com/gtmills/ensuressl/internal/sslkey"
)

// exitInvalid is returned by verify when the file does not check out.
const exitInvalid = 2

type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }

func (e *exitError) Unwrap() error { return e.err }

var log *zap.SugaredLogger

var rootCmd = &cobra.Command{
	Use:   "ensuressl",
	Short: "Keeps a TLS private key and self-signed certificate valid on disk",
	Long: `ensuressl checks that a PEM file holds a private key followed by a
certificate signed by that key, and regenerates both when it does not.

Generated files contain an unencrypted PKCS#8 RSA-2048 key and a
self-signed X.509 certificate valid for ten years.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initLogger()
	},
}

var ensureCmd = &cobra.Command{
	Use:   "ensure",
	Short: "Verify the PEM file and regenerate it if it is missing or invalid",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, m, err := setup()
		if err != nil {
			return err
		}
		if err := m.EnsureKeyPresentAndValid(cfg.Path); err != nil {
			if errors.Is(err, sslkey.ErrInit) {
				log.Fatalw("Crypto library initialization failed", "error", err)
			}
			return err
		}
		log.Infow("Key and certificate are valid", "path", cfg.Path)
		return nil
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check the PEM file without changing it",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, m, err := setup()
		if err != nil {
			return err
		}
		if err := m.VerifyKeyCert(cfg.Path); err != nil {
			if errors.Is(err, sslkey.ErrInit) {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "invalid: %v\n", err)
			return &exitError{code: exitInvalid, err: err}
		}
		fmt.Fprintf(cmd.OutOrStdout(), "valid: %s\n", cfg.Path)
		return nil
	},
}

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Unconditionally replace the PEM file with a new key and certificate",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, m, err := setup()
		if err != nil {
			return err
		}
		return withSpinner(viper.GetBool("progress"), "generating key", func() error {
			return m.GenerateCertificate(cfg.Path)
		})
	},
}

var inspectCmd = &cobra.Command{
	Use:   "inspect [file...]",
	Short: "Describe the key and certificate held in one or more PEM files",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, m, err := setup()
		if err != nil {
			return err
		}
		formatter, err := output.NewFormatter(viper.GetString("format"))
		if err != nil {
			return fmt.Errorf("invalid output format: %w", err)
		}

		paths := args
		if len(paths) == 0 {
			paths = []string{cfg.Path}
		}

		data := output.Data{GeneratedAt: time.Now()}
		for _, p := range paths {
			report, err := m.Inspect(p)
			if err != nil {
				return err
			}
			data.Reports = append(data.Reports, report)
		}

		return formatter.Format(cmd.OutOrStdout(), data)
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Ensure the PEM file and serve HTTPS with it",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, m, err := setup()
		if err != nil {
			return err
		}
		listen := cfg.Server.Listen
		if viper.IsSet("listen") {
			listen = viper.GetString("listen")
		}

		srv, err := server.NewServer(m, cfg.Path, listen)
		if err != nil {
			if errors.Is(err, sslkey.ErrInit) {
				log.Fatalw("Crypto library initialization failed", "error", err)
			}
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		errCh := make(chan error, 1)
		go func() { errCh <- srv.Start() }()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
			log.Info("Shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		}
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringP("config", "c", "", "Path to a YAML config file")
	pf.StringP("path", "p", "", "PEM file holding the key and certificate (default "+config.DefaultPath+")")
	pf.String("log-level", "", "Log level (debug, info, warn, error)")
	viper.BindPFlag("config", pf.Lookup("config"))
	viper.BindPFlag("path", pf.Lookup("path"))
	viper.BindPFlag("log-level", pf.Lookup("log-level"))

	generateCmd.Flags().Bool("progress", true, "Show a spinner while the key is generated")
	viper.BindPFlag("progress", generateCmd.Flags().Lookup("progress"))

	inspectCmd.Flags().StringP("format", "f", "table", "Output format (table, json, csv)")
	viper.BindPFlag("format", inspectCmd.Flags().Lookup("format"))

	serveCmd.Flags().StringP("listen", "l", "", "Address to listen on (default "+config.DefaultListen+")")
	viper.BindPFlag("listen", serveCmd.Flags().Lookup("listen"))

	viper.SetEnvPrefix("ENSURESSL")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	rootCmd.AddCommand(ensureCmd, verifyCmd, generateCmd, inspectCmd, serveCmd)
}

// loadConfig reads the config file if one is given and applies flag and
// environment overrides on top.
func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if path := viper.GetString("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if p := viper.GetString("path"); p != "" {
		cfg.Path = p
	}
	if lvl := viper.GetString("log-level"); lvl != "" {
		cfg.LogLevel = lvl
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setup() (*config.Config, *sslkey.Manager, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	if err := setLogLevel(cfg.LogLevel); err != nil {
		return nil, nil, err
	}

	opts, err := cfg.ManagerOptions()
	if err != nil {
		return nil, nil, err
	}

	lib := sslkey.NewLibrary(sslkey.WithLogger(log))
	return cfg, sslkey.NewManager(lib, opts), nil
}

var logLevel = zap.NewAtomicLevelAt(zapcore.InfoLevel)

func initLogger() error {
	zapCfg := zap.NewDevelopmentConfig()
	zapCfg.Level = logLevel
	zapCfg.DisableStacktrace = true
	logger, err := zapCfg.Build()
	if err != nil {
		return fmt.Errorf("cannot initialize ZAP logger: %w", err)
	}
	log = logger.Sugar()
	return nil
}

func setLogLevel(level string) error {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	logLevel.SetLevel(l)
	return nil
}

// withSpinner runs fn while a spinner ticks on stderr.
func withSpinner(enabled bool, description string, fn func() error) error {
	if !enabled {
		return fn()
	}

	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionClearOnFinish(),
	)

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				bar.Add(1)
			}
		}
	}()

	err := fn()
	close(done)
	bar.Finish()
	return err
}

// exitCode maps a command error to the process exit status.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exitError
	if errors.As(err, &exitErr) {
		return exitErr.code
	}
	return 1
}

func main() {
	err := rootCmd.Execute()
	if log != nil {
		log.Sync()
	}
	code := exitCode(err)
	if code == 0 {
		return
	}

	var exitErr *exitError
	if !errors.As(err, &exitErr) {
		golog.Printf("Error: %v", err)
	}
	os.Exit(code)
}
