package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/kwv/casemap/occmap"
	"github.com/rs/zerolog"
)

const (
	sessionIdleTimeout = 2 * time.Hour
	sessionPruneEvery  = 10 * time.Minute
	shutdownTimeout    = 5 * time.Second
)

// App encapsulates the application state and dependencies
type App struct {
	Config     *occmap.Config
	Logger     zerolog.Logger
	Store      occmap.Store
	Importer   *occmap.Importer
	Sessions   *occmap.SessionRegistry
	MQTTClient *occmap.MQTTClient
	Publisher  *occmap.Publisher

	// CLI flags
	ConfigFile  string
	HTTPAddr    string
	StorageRoot string
	OutputDir   string
	Format      string
	LogLevel    string
	Pretty      bool

	logOut io.Writer
}

// NewApp creates a new App instance
func NewApp() *App {
	return &App{
		ConfigFile: defaultConfigFile,
		OutputDir:  ".",
		Format:     "png",
		Sessions:   occmap.NewSessionRegistry(),
		Logger:     zerolog.Nop(),
		logOut:     os.Stderr,
	}
}

// ApplyOptions applies CLI options to the App instance
func (a *App) ApplyOptions(opts AppOptions) {
	a.ConfigFile = opts.ConfigFile
	a.HTTPAddr = opts.HTTPAddr
	a.StorageRoot = opts.StorageRoot
	a.OutputDir = opts.OutputDir
	a.Format = opts.Format
	a.LogLevel = opts.LogLevel
	a.Pretty = opts.Pretty
}

// loadConfig reads the config file. A missing file at the default path is
// not an error; the service then runs on defaults plus env overrides.
func (a *App) loadConfig() (*occmap.Config, error) {
	path := a.ConfigFile
	if path == "" {
		path = defaultConfigFile
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) && path == defaultConfigFile {
		cfg := occmap.DefaultConfig()
		occmap.ApplyEnvOverrides(cfg)
		return cfg, cfg.Validate()
	}
	return occmap.LoadConfig(path)
}

// setup loads config, applies flag overrides and builds the logger, store and importer
func (a *App) setup() error {
	cfg, err := a.loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if a.StorageRoot != "" {
		cfg.Storage.Root = a.StorageRoot
	}
	if a.HTTPAddr != "" {
		cfg.HTTP.Addr = a.HTTPAddr
	}
	if a.LogLevel != "" {
		cfg.Log.Level = a.LogLevel
	}
	if a.Pretty {
		cfg.Log.Pretty = true
	}
	a.Config = cfg

	out := a.logOut
	if out == nil {
		out = os.Stderr
	}
	a.Logger = occmap.NewLogger(out, cfg.Log.Level, cfg.Log.Pretty)

	if a.Store == nil {
		a.Store = occmap.NewDirStore(cfg.Storage.Root)
	}
	a.Importer = occmap.NewImporter(a.Store, a.Logger, cfg.Contours, cfg.Media.FetchOptions()...)
	if a.Sessions == nil {
		a.Sessions = occmap.NewSessionRegistry()
	}

	a.Logger.Info().
		Str("config", a.ConfigFile).
		Str("storage", cfg.Storage.Root).
		Str("level", cfg.Log.Level).
		Msg("configuration loaded")
	return nil
}

// RunImport imports one case and writes base.png, snapshot.<format>,
// contours.geojson, evidence.geojson and evidence.csv into OutputDir
func (a *App) RunImport(caseID string) error {
	if err := a.setup(); err != nil {
		return err
	}
	ctx := context.Background()

	result, err := a.Importer.Import(ctx, caseID)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(a.OutputDir, 0755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}

	session := occmap.NewSession(result.View(), result.Evidence, occmap.WithEditorConfig(a.Config.Editor))
	outputs, err := renderExports(result, session, a.Format)
	if err != nil {
		return err
	}

	for _, name := range exportOrder(a.Format) {
		path := filepath.Join(a.OutputDir, name)
		if err := os.WriteFile(path, outputs[name], 0644); err != nil {
			return fmt.Errorf("writing %s: %w", path, err)
		}
		a.Logger.Info().Str("case", caseID).Str("file", path).Int("bytes", len(outputs[name])).Msg("export written")
	}

	for _, row := range result.SkippedRows {
		a.Logger.Warn().Str("case", caseID).Int("line", row.Line).Str("column", row.Column).Msg(row.Reason)
	}
	return nil
}

func exportOrder(format string) []string {
	return []string{"base.png", "snapshot." + format, "contours.geojson", "evidence.geojson", "evidence.csv"}
}

// renderExports produces every export file of an imported case, keyed by file name
func renderExports(result *occmap.ImportResult, s *occmap.Session, format string) (map[string][]byte, error) {
	out := map[string][]byte{"base.png": result.BasePNG}

	switch format {
	case "svg":
		var buf bytes.Buffer
		if err := occmap.NewVectorExporter().ExportSVG(&buf, s); err != nil {
			return nil, fmt.Errorf("rendering snapshot: %w", err)
		}
		out["snapshot.svg"] = buf.Bytes()
	default:
		png, err := occmap.ExportSnapshot(s)
		if err != nil {
			return nil, fmt.Errorf("rendering snapshot: %w", err)
		}
		out["snapshot.png"] = png
	}

	height := result.Raster.Height
	contours, err := json.MarshalIndent(occmap.ContoursGeoJSON(result.Map.Contours, result.Meta, height), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding contours: %w", err)
	}
	out["contours.geojson"] = contours

	evidence, err := json.MarshalIndent(occmap.EvidenceGeoJSON(s.Records(), result.Meta, height), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding evidence: %w", err)
	}
	out["evidence.geojson"] = evidence

	var csvBuf bytes.Buffer
	if err := occmap.WriteEvidenceCSV(&csvBuf, s.Records(), result.Meta, height); err != nil {
		return nil, err
	}
	out["evidence.csv"] = csvBuf.Bytes()
	return out, nil
}

// RunService serves the HTTP API until SIGINT or SIGTERM
func (a *App) RunService() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return a.serve(ctx)
}

// serve runs the API and background work until ctx is cancelled
func (a *App) serve(ctx context.Context) error {
	if err := a.setup(); err != nil {
		return err
	}
	ctx, cancelWork := context.WithCancel(ctx)
	defer cancelWork()

	mqttClient, err := occmap.InitMQTT(a.Config, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize MQTT: %w", err)
	}
	if mqttClient != nil {
		a.MQTTClient = mqttClient
		a.Publisher = occmap.NewPublisher(mqttClient.Client(), a.Config.MQTT.PublishPrefix)
		a.Importer.Events = a.Publisher
		a.Logger.Info().Str("prefix", a.Publisher.Prefix()).Msg("MQTT case event publisher initialized")
	}

	handler := newHandler(a.Importer, a.Sessions, a.Config.Editor, a.Logger)
	server := &http.Server{
		Addr:              a.Config.HTTP.Addr,
		Handler:           handler.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info().Str("addr", server.Addr).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	go a.pruneSessions(ctx)

	var serveErr error
	select {
	case <-ctx.Done():
	case err, ok := <-errCh:
		if ok {
			serveErr = fmt.Errorf("HTTP server error: %w", err)
		}
	}

	a.Logger.Info().Msg("shutting down service")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		a.Logger.Warn().Err(err).Msg("HTTP shutdown incomplete")
	}
	if a.MQTTClient != nil {
		a.MQTTClient.Disconnect()
	}
	a.Logger.Info().Msg("service stopped")
	return serveErr
}

func (a *App) pruneSessions(ctx context.Context) {
	ticker := time.NewTicker(sessionPruneEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := a.Sessions.Prune(sessionIdleTimeout); n > 0 {
				a.Logger.Info().Int("closed", n).Msg("pruned idle editor sessions")
			}
		}
	}
}
