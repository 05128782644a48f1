package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/scmmishra/leadtrace/internal/analytics"
	"github.com/scmmishra/leadtrace/internal/attribution"
	"github.com/scmmishra/leadtrace/internal/config"
	"github.com/scmmishra/leadtrace/internal/datacenter"
	"github.com/scmmishra/leadtrace/internal/db"
	"github.com/scmmishra/leadtrace/internal/eventstore"
	"github.com/scmmishra/leadtrace/internal/geo"
	"github.com/scmmishra/leadtrace/internal/handlers"
	"github.com/scmmishra/leadtrace/internal/refdata"
	"github.com/scmmishra/leadtrace/internal/report"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	database, err := db.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer database.Close()

	ref, err := refdata.NewLoader(cfg.RefDataPath)
	if err != nil {
		log.Fatalf("refdata: %v", err)
	}
	stopWatch, err := ref.Watch()
	if err != nil {
		log.Printf("refdata: %v (hot reload disabled)", err)
		stopWatch = func() {}
	}
	defer stopWatch()

	geoReader, err := geo.Open(cfg.GeoIPPath)
	if err != nil {
		log.Printf("geo: %v (geo lookups disabled)", err)
		geoReader, _ = geo.Open("")
	}
	defer geoReader.Close()

	locator, err := geo.NewLocator(geoReader, cfg.GeoCacheSize)
	if err != nil {
		log.Fatalf("geo cache: %v", err)
	}

	var blocker analytics.IPBlocker
	if cfg.BlockDatacenters {
		checker := datacenter.NewChecker(datacenter.DefaultSources, 24*time.Hour)
		defer checker.Shutdown()
		blocker = checker
	}

	collector := analytics.NewCollector(database, blocker, cfg.BufferSize, cfg.FlushInterval)

	var reader eventstore.PageReader = eventstore.SQLReader{DB: database}
	if cfg.EventsDBURL != "" {
		pg, err := eventstore.NewPostgresReader(context.Background(), cfg.EventsDBURL, cfg.EventsPageLimit)
		if err != nil {
			log.Fatalf("events db: %v", err)
		}
		defer pg.Close()
		reader = pg
		log.Printf("eventstore: reading events from postgres")
	}
	events := eventstore.NewClient(reader, cfg.PageSize, cfg.MaxRows)

	resolver := attribution.NewResolver(events, ref)
	service := attribution.NewService(database, resolver, attribution.DBNotifier{DB: database}, cfg.AttributionOverwrite)

	analyticsHandler := &handlers.AnalyticsHandler{
		Builder:  report.NewBuilder(events, ref, locator.Locate),
		Location: cfg.Location,
	}
	attributionHandler := &handlers.AttributionHandler{Service: service, DB: database}
	qrHandler := &handlers.QRHandler{Ref: ref}
	trackHandler := &handlers.TrackHandler{Collector: collector}
	sessionHandler := &handlers.SessionHandler{Password: cfg.Password}

	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Post("/session", sessionHandler.Login)
		r.Delete("/session", sessionHandler.Logout)

		// Authenticated
		r.Group(func(r chi.Router) {
			r.Use(handlers.AuthMiddleware(cfg.Password))
			r.Get("/analytics", analyticsHandler.Report)
			r.Get("/admin/dashboard", analyticsHandler.Dashboard)
			r.Post("/attribution/leads", attributionHandler.Lead)
			r.Get("/attribution/check", attributionHandler.Check)
			r.Post("/bookings/{id}/attribution", attributionHandler.Booking)
			r.Get("/notifications", attributionHandler.Notifications)
			r.Get("/qr", qrHandler.ServeHTTP)
		})
	})

	// Beacon endpoint for the marketing sites
	r.Group(func(r chi.Router) {
		r.Use(handlers.BeaconCORS(ref))
		r.Post("/t", trackHandler.ServeHTTP)
		r.Options("/t", trackHandler.ServeHTTP)
	})

	r.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("leadtrace listening on :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server: %v", err)
		}
	}()

	<-stop
	log.Println("shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("server shutdown: %v", err)
	}

	collector.Shutdown()
	log.Println("goodbye")
}
