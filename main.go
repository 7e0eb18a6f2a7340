package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	"github.com/banshee-data/breathing.report/internal/api"
	"github.com/banshee-data/breathing.report/internal/breathing"
	"github.com/banshee-data/breathing.report/internal/config"
	"github.com/banshee-data/breathing.report/internal/db"
	"github.com/banshee-data/breathing.report/internal/fsutil"
	"github.com/banshee-data/breathing.report/internal/storage"
	"github.com/banshee-data/breathing.report/internal/timeutil"
	"github.com/banshee-data/breathing.report/internal/version"
)

var (
	listen      = flag.String("listen", ":8080", "Listen address")
	dbPath      = flag.String("db", "breathing.db", "Path to the SQLite index database")
	artifactDir = flag.String("artifacts", "", "Artifact directory (overrides config)")
	casURL      = flag.String("cas-url", "", "Content store RPC endpoint (overrides config)")
	configPath  = flag.String("config", "", "Path to analysis config JSON")
	devMode     = flag.Bool("dev", false, "Run in dev mode (migrations load from the working tree)")
	debugSQL    = flag.Bool("debug-sql", false, "Mount the tailsql debugging UI under /debug/")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func main() {
	// The migrate subcommand manages the schema and exits; it takes its own
	// flags so "breathing-report migrate -db foo.db up" works.
	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		migrateFlags := flag.NewFlagSet("migrate", flag.ExitOnError)
		migrateDB := migrateFlags.String("db", "breathing.db", "Path to the SQLite index database")
		migrateDev := migrateFlags.Bool("dev", false, "Load migrations from the working tree instead of the embedded copy")
		migrateFlags.Parse(os.Args[2:])
		db.DevMode = *migrateDev
		db.RunMigrateCommand(migrateFlags.Args(), *migrateDB)
		return
	}

	flag.Parse()

	if *showVersion {
		fmt.Println("breathing-report " + version.String())
		return
	}

	if *listen == "" {
		log.Fatal("Listen address is required")
	}

	cfg := config.EmptyAnalysisConfig()
	if *configPath != "" {
		var err error
		cfg, err = config.LoadAnalysisConfig(*configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		log.Printf("loaded analysis config from %s", *configPath)
	}
	if *artifactDir != "" {
		cfg.ArtifactDir = artifactDir
	}
	if *casURL != "" {
		cfg.CASURL = casURL
	}

	db.DevMode = *devMode

	database, err := db.NewDB(*dbPath)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	var cas storage.ContentStore
	if cfg.GetCASEnabled() {
		cas = storage.NewIPFSClient(cfg.GetCASURL(), nil, cfg.GetCASTimeout())
		log.Printf("content store: %s", cfg.GetCASURL())
	} else {
		log.Print("content store disabled; results stay local-only")
	}

	store, err := storage.NewStore(database, fsutil.OSFileSystem{}, cas, cfg, timeutil.RealClock{})
	if err != nil {
		log.Fatalf("Failed to create result store: %v", err)
	}

	analyzer := breathing.NewAnalyzer(cfg)
	reconciler := storage.NewReconciler(store, cfg)

	// Create a wait group for the HTTP server and reconciler routines
	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// run the reconciler routine to retry failed and interrupted pins
	wg.Add(1)
	go func() {
		defer wg.Done()
		reconciler.Start()
		<-ctx.Done()
		reconciler.Stop()
		log.Print("reconciler routine terminated")
	}()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := api.NewServer(store, analyzer, reconciler).ServeMux()

		if *debugSQL {
			database.AttachAdminRoutes(mux, *dbPath)
		}

		server := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(mux),
		}

		// Start server in a goroutine so it doesn't block
		go func() {
			log.Printf("breathing-report %s listening on %s", version.String(), *listen)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		// Wait for context cancellation to shut down server
		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		// Create a shutdown context with a timeout
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			// Force close the server if graceful shutdown fails
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}

		log.Printf("HTTP server routine stopped")
	}()

	// Wait for all goroutines to finish
	wg.Wait()
	log.Printf("Graceful shutdown complete")
}
