// Command camsolve runs the camera pose solver as an HTTP service: scene
// state in, solved camera poses and exports out, with solve history kept
// in SQLite.
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

	"github.com/matchmove/camsolve/internal/config"
	"github.com/matchmove/camsolve/internal/match"
	"github.com/matchmove/camsolve/internal/matchdb"
	"github.com/matchmove/camsolve/internal/solver"
	"github.com/matchmove/camsolve/internal/version"
)

func main() {
	var (
		listenAddr    = flag.String("listen", "", "HTTP listen address (overrides config)")
		dbPath        = flag.String("db", "", "path to the SQLite history database (overrides config)")
		configPath    = flag.String("config", "", "path to a settings JSON file")
		migrationsDir = flag.String("migrations", "migrations", "path to the migrations directory")
		devMode       = flag.Bool("dev", false, "enable the admin debug console")
	)
	flag.Parse()

	log.Print(version.String())

	settings := &config.Settings{}
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("main: %v", err)
		}
		settings = loaded
	}
	if *listenAddr == "" {
		*listenAddr = settings.GetListen()
	}
	if *dbPath == "" {
		*dbPath = settings.GetDBPath()
	}

	db, err := matchdb.NewDB(*dbPath)
	if err != nil {
		log.Fatalf("main: failed to open database: %v", err)
	}
	defer db.Close()

	if err := db.MigrateUp(*migrationsDir); err != nil {
		// Missing migrations directory is survivable; the base schema is
		// created by NewDB.
		log.Printf("main: migrations skipped: %v", err)
	}

	scene := &match.Scene{Matches: map[string]*match.ImageMatch{}, PixelAspectX: 1, PixelAspectY: 1}
	sol := &solver.Solver{Scene: scene, History: db}
	srv := NewServer(sol, db, settings)

	mux := http.NewServeMux()
	mux.Handle("/api/", http.StripPrefix("/api", srv.ServeMux()))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "ok")
	})
	if *devMode {
		db.AttachAdminRoutes(mux)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup

	// Live-solve ticker. All ticks funnel through the server mutex, so
	// live solves never overlap API-triggered ones.
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(settings.GetLiveSolveTickInterval())
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				srv.TickLive()
			}
		}
	}()

	httpServer := &http.Server{
		Addr:         *listenAddr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Printf("main: listening on %s", *listenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("main: http server error: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Printf("main: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("main: http shutdown error: %v", err)
	}

	wg.Wait()
	os.Exit(0)
}
