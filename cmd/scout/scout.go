package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/fieldline-data/scout.report/internal/api"
	"github.com/fieldline-data/scout.report/internal/config"
	"github.com/fieldline-data/scout.report/internal/device"
	"github.com/fieldline-data/scout.report/internal/fsutil"
	"github.com/fieldline-data/scout.report/internal/render"
	"github.com/fieldline-data/scout.report/internal/scoutdb"
	"github.com/fieldline-data/scout.report/internal/survey"
	"github.com/fieldline-data/scout.report/internal/timeutil"
	"github.com/fieldline-data/scout.report/internal/updates"
	"github.com/fieldline-data/scout.report/internal/uploads"
	"github.com/fieldline-data/scout.report/internal/version"
)

var (
	devMode     = flag.Bool("dev", false, "Run in dev mode")
	listen      = flag.String("listen", ":8080", "HTTP listen address")
	dbFile      = flag.String("db", "scout_data.db", "Path to the SQLite database file")
	configFile  = flag.String("config", "", "Path to scout.yaml (default: search working directory and ~/.config/scout.report)")
	dataDir     = flag.String("data-dir", "scout_data", "Directory for device identity, uploads, backups and reports")
	assetsDir   = flag.String("assets", "assets", "Local directory serving the chart script bundle")
	showVersion = flag.Bool("version", false, "Print version information and exit")
)

// uploadPruneInterval is how often held merge uploads are swept for expiry.
const uploadPruneInterval = time.Hour

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("scout %s (commit %s, built %s)\n", version.Version, version.GitSHA, version.BuildTime)
		return
	}

	// "scout migrate <action>" runs the migration CLI instead of the server.
	if args := flag.Args(); len(args) > 0 && args[0] == "migrate" {
		scoutdb.RunMigrateCommand(args[1:], *dbFile)
		return
	}

	if *listen == "" {
		log.Fatal("Listen address is required")
	}

	if err := os.MkdirAll(*dataDir, 0o755); err != nil {
		log.Fatalf("failed to create data directory: %v", err)
	}

	osFS := fsutil.OSFileSystem{}
	clock := timeutil.RealClock{}

	identity, err := device.NewStore(osFS, *dataDir).Load()
	if err != nil {
		log.Fatalf("failed to load device identity: %v", err)
	}

	var cfg *config.Config
	configPath := *configFile
	if configPath != "" {
		cfg, err = config.Load(configPath)
	} else {
		cfg, err = config.LoadDefault()
		configPath = config.DefaultConfigFile
	}
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	form, surveyPath := loadSurvey(cfg, *dataDir)

	db, err := scoutdb.NewDB(*dbFile)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	uploadStore := uploads.NewStore(osFS, clock, filepath.Join(*dataDir, "uploads"))

	updateManager := updates.NewManager(nil, osFS, clock, updates.Options{
		Repo:    cfg.GetUpdatesRepo(),
		Current: version.Version,
		Dir:     filepath.Join(*dataDir, "updates"),
	})

	// Page templates come from the embedded filesystem in production or from
	// the local source tree in dev for easier iteration without restarting
	// the server.
	var templates api.TemplateProvider
	if *devMode {
		templates = api.NewDirTemplateProvider(filepath.Join("internal", "api", "pages"))
	}

	server, err := api.NewServer(api.Options{
		DB:         db,
		Config:     cfg,
		Survey:     form,
		Identity:   identity,
		ConfigPath: configPath,
		SurveyPath: surveyPath,
		BackupDir:  filepath.Join(*dataDir, "backups"),
		AssetsDir:  *assetsDir,
		Uploads:    uploadStore,
		Updates:    updateManager,
		FS:         osFS,
		Clock:      clock,
		Templates:  templates,
		Reports:    render.NewPNGRenderer(filepath.Join(*dataDir, "reports")),
	})
	if err != nil {
		log.Fatalf("failed to build server: %v", err)
	}

	log.Printf("Device %q (%s) scouting %s %s", cfg.GetDeviceName(), identity.ID, cfg.GetEventName(), cfg.GetEventSeason())

	// Create a context that gets cancelled on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup

	// Sweep expired merge uploads in the background
	wg.Add(1)
	go func() {
		defer wg.Done()
		uploadStore.PruneEvery(ctx, uploadPruneInterval)
	}()

	// Poll the release feed when automatic update checks are enabled
	if cfg.GetUpdatesEnabled() {
		poller := updates.NewPoller(updateManager, clock, cfg.GetCheckInterval())
		wg.Add(1)
		go func() {
			defer wg.Done()
			poller.Run(ctx)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()

		httpServer := &http.Server{
			Addr:    *listen,
			Handler: server,
		}

		// Start server in a goroutine so it doesn't block
		go func() {
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		log.Printf("Scouting server listening on %s", *listen)

		// Wait for context cancellation to shut down server
		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			// Force close the server if graceful shutdown fails
			if err := httpServer.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}

		log.Printf("HTTP server routine stopped")
	}()

	// Wait for all goroutines to finish
	wg.Wait()
	log.Printf("Graceful shutdown complete")
}

// loadSurvey resolves the form schema: a custom survey file named in the
// config when present, otherwise the built-in default. Returns the path
// setup imports should write to.
func loadSurvey(cfg *config.Config, dataDir string) (*survey.Survey, string) {
	surveyPath := cfg.GetSurveyPath()
	if surveyPath != "" {
		data, err := os.ReadFile(surveyPath)
		if err == nil {
			form, perr := survey.Parse(data)
			if perr == nil {
				return form, surveyPath
			}
			err = perr
		}
		log.Printf("failed to load survey from %s: %v (using built-in survey)", surveyPath, err)
	} else {
		surveyPath = filepath.Join(dataDir, "survey.json")
	}

	form, err := survey.DefaultSurvey()
	if err != nil {
		log.Fatalf("failed to load built-in survey: %v", err)
	}
	return form, surveyPath
}
