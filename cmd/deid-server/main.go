package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/deid/deid/internal/config"
	"github.com/deid/deid/internal/domain/anonymization"
	"github.com/deid/deid/internal/platform/auth"
	"github.com/deid/deid/internal/platform/deid"
	"github.com/deid/deid/internal/platform/fhir"
	"github.com/deid/deid/internal/platform/middleware"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "deid-server",
		Short: "Clinical data de-identification service",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(tabularCmd())
	rootCmd.AddCommand(bundleCmd())
	rootCmd.AddCommand(scanCmd())
	rootCmd.AddCommand(keygenCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the de-identification API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func runServer() error {
	// Logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	// De-identification engine. One engine per process so subjects keep
	// their date offsets across requests.
	engine, err := deid.NewEngine(cfg.EngineConfig(), nil)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build engine")
	}
	logger.Info().
		Str("strategy", string(engine.Config().DateShiftStrategy)).
		Int("k", engine.Config().KAnonymityThreshold).
		Msg("engine ready")

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.BodyLimit(cfg.BodyLimit, "64M"))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", auth.APIKeyHeader},
	}))

	// Auth middleware
	keys := auth.NewAPIKeyManager()
	if cfg.IsDev() {
		e.Use(auth.DevMiddleware())
	} else {
		issuer := auth.NewTokenIssuer(cfg.AuthSecret, 12*time.Hour)
		e.Use(auth.Middleware(issuer, keys))
	}

	// API group
	apiV1 := e.Group("/api/v1")
	apiV1.Use(middleware.RateLimit(middleware.DefaultRateLimitConfig()))

	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": "0.1.0",
		})
	})

	// De-identification endpoints
	svc := anonymization.NewService(engine, logger)
	anonymization.NewHandler(svc).RegisterRoutes(apiV1)

	// API key management
	auth.RegisterKeyRoutes(apiV1, keys)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}

// newEngineFromFlags builds an engine for the one-shot CLI commands.
func newEngineFromFlags(cmd *cobra.Command) (*deid.Engine, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	ec := cfg.EngineConfig()
	if salt, _ := cmd.Flags().GetString("salt"); salt != "" {
		ec.Salt = salt
	}
	if k, _ := cmd.Flags().GetInt("k"); cmd.Flags().Changed("k") {
		ec.KAnonymityThreshold = k
	}
	return deid.NewEngine(ec, nil)
}

func addEngineFlags(cmd *cobra.Command) {
	cmd.Flags().String("salt", "", "hashing salt (defaults to DEID_SALT or a generated value)")
	cmd.Flags().Int("k", 0, "k-anonymity threshold (overrides DEID_K_THRESHOLD)")
	cmd.Flags().StringP("output", "o", "", "output file (defaults to stdout)")
}

func openInput(args []string) (io.ReadCloser, error) {
	if len(args) == 0 || args[0] == "-" {
		return os.Stdin, nil
	}
	return os.Open(args[0])
}

func openOutput(cmd *cobra.Command) (io.WriteCloser, error) {
	path, _ := cmd.Flags().GetString("output")
	if path == "" || path == "-" {
		return os.Stdout, nil
	}
	return os.Create(path)
}

func tabularCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tabular [file.csv]",
		Short: "De-identify a CSV file (reads stdin when no file is given)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := newEngineFromFlags(cmd)
			if err != nil {
				return err
			}

			in, err := openInput(args)
			if err != nil {
				return err
			}
			defer in.Close()

			records, err := csv.NewReader(in).ReadAll()
			if err != nil {
				return fmt.Errorf("read csv: %w", err)
			}
			if len(records) == 0 {
				return fmt.Errorf("empty input")
			}

			rows := make([][]any, 0, len(records)-1)
			for _, rec := range records[1:] {
				row := make([]any, len(rec))
				for i, v := range rec {
					row[i] = v
				}
				rows = append(rows, row)
			}
			ds, err := deid.NewDataset(records[0], rows)
			if err != nil {
				return err
			}

			subjectCol, _ := cmd.Flags().GetString("subject-column")
			out, err := engine.DeidentifyTabular(ds, subjectCol, nil)
			if err != nil {
				return err
			}

			w, err := openOutput(cmd)
			if err != nil {
				return err
			}
			defer w.Close()

			cw := csv.NewWriter(w)
			if err := cw.Write(out.Columns); err != nil {
				return err
			}
			for _, row := range out.Rows {
				rec := make([]string, len(row))
				for i, v := range row {
					rec[i] = fmt.Sprint(v)
				}
				if err := cw.Write(rec); err != nil {
					return err
				}
			}
			cw.Flush()
			return cw.Error()
		},
	}
	addEngineFlags(cmd)
	cmd.Flags().String("subject-column", "", "column holding the subject identifier")
	return cmd
}

func bundleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bundle [file.json]",
		Short: "De-identify a FHIR bundle (reads stdin when no file is given)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := newEngineFromFlags(cmd)
			if err != nil {
				return err
			}

			in, err := openInput(args)
			if err != nil {
				return err
			}
			defer in.Close()

			data, err := io.ReadAll(in)
			if err != nil {
				return err
			}
			bundle, err := fhir.ParseBundle(data)
			if err != nil {
				return err
			}

			out, err := engine.DeidentifyBundle(bundle)
			if err != nil {
				return err
			}

			w, err := openOutput(cmd)
			if err != nil {
				return err
			}
			defer w.Close()

			enc := json.NewEncoder(w)
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
	addEngineFlags(cmd)
	return cmd
}

func scanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan [file.csv]",
		Short: "Report likely PHI columns in a CSV file without modifying it",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := newEngineFromFlags(cmd)
			if err != nil {
				return err
			}

			in, err := openInput(args)
			if err != nil {
				return err
			}
			defer in.Close()

			records, err := csv.NewReader(in).ReadAll()
			if err != nil {
				return fmt.Errorf("read csv: %w", err)
			}
			if len(records) == 0 {
				return fmt.Errorf("empty input")
			}

			rows := make([][]any, 0, len(records)-1)
			for _, rec := range records[1:] {
				row := make([]any, len(rec))
				for i, v := range rec {
					row[i] = v
				}
				rows = append(rows, row)
			}
			ds, err := deid.NewDataset(records[0], rows)
			if err != nil {
				return err
			}

			w, err := openOutput(cmd)
			if err != nil {
				return err
			}
			defer w.Close()

			enc := json.NewEncoder(w)
			enc.SetIndent("", "  ")
			return enc.Encode(engine.ScanReport(ds))
		},
	}
	addEngineFlags(cmd)
	return cmd
}

func keygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate a random API key",
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := auth.NewRawKey()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), raw)
			return nil
		},
	}
}
