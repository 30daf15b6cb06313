package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/mychart-explorer/importer/pkg/cda"
	"github.com/mychart-explorer/importer/pkg/common/config"
	"github.com/mychart-explorer/importer/pkg/common/database"
	"github.com/mychart-explorer/importer/pkg/common/logger"
	"github.com/mychart-explorer/importer/pkg/importer"
)

func main() {
	logger.Init()
	cfg := config.Load()

	db, err := database.Open(cfg)
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to connect to database")
	}
	defer database.Close(db)

	repo := importer.NewRepository(db)
	if err := repo.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("failed to migrate importer tables")
	}

	registry, err := cda.LoadRegistry(cfg.TemplateRegistryPath)
	if err != nil {
		logger.Log.WithError(err).Warn("falling back to built-in section templates")
	}

	svc := importer.NewService(db, registry)
	handler := importer.NewHTTPHandler(svc, cfg.MaxRequestBody)

	router := mux.NewRouter()
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	}).Methods(http.MethodGet)

	api := router.PathPrefix("/api/v1").Subrouter()
	handler.Register(api)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Log.Infof("import service listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Log.WithError(err).Error("graceful shutdown failed")
	}
	logger.Log.Info("import service stopped")
}
