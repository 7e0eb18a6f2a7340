// Command index-rebuild recreates missing storage records from the artifact
// directory. The SQLite index is derived data; after a lost or restored
// database the artifacts on disk remain authoritative, and this tool walks
// them and repairs the index in place. Run it with the server stopped.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	_ "modernc.org/sqlite"

	"github.com/banshee-data/breathing.report/internal/config"
	"github.com/banshee-data/breathing.report/internal/db"
	"github.com/banshee-data/breathing.report/internal/storage"
)

func main() {
	var dbPath string
	var artifactDir string
	var configPath string

	flag.StringVar(&dbPath, "db", "breathing.db", "path to the SQLite index database")
	flag.StringVar(&artifactDir, "artifacts", "", "artifact directory (overrides config)")
	flag.StringVar(&configPath, "config", "", "analysis config JSON (optional)")
	flag.Parse()

	cfg := config.EmptyAnalysisConfig()
	if configPath != "" {
		var err error
		cfg, err = config.LoadAnalysisConfig(configPath)
		if err != nil {
			log.Fatalf("load config: %v", err)
		}
	}
	if artifactDir != "" {
		cfg.ArtifactDir = &artifactDir
	}

	database, err := db.NewDB(dbPath)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer database.Close()

	// The content store is never contacted here; it only decides whether
	// repaired records wait as pending for the reconciler or stay unpinned.
	var cas storage.ContentStore
	if cfg.GetCASEnabled() {
		cas = storage.NewIPFSClient(cfg.GetCASURL(), nil, cfg.GetCASTimeout())
	}

	store, err := storage.NewStore(database, nil, cas, cfg, nil)
	if err != nil {
		log.Fatalf("create store: %v", err)
	}

	fmt.Printf("rescanning %s\n", cfg.GetArtifactDir())
	repaired, err := store.RebuildIndex(context.Background())
	if err != nil {
		log.Fatalf("rebuild failed after %d records: %v", repaired, err)
	}

	fmt.Printf("rebuild complete: %d records recreated\n", repaired)
}
