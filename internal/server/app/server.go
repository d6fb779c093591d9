package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"netsparrow/internal/server/api"
	"netsparrow/internal/server/metrics"
	"netsparrow/internal/server/storage"
	"netsparrow/internal/server/storage/duckdb"
	"netsparrow/internal/server/storage/sqlite"
)

type Server struct {
	httpServer *http.Server
	store      storage.Store
}

func openStore(driver, path string) (storage.Store, error) {
	switch driver {
	case "", "duckdb":
		if path == "" {
			path = "./detections.duckdb"
		}
		return duckdb.NewStore(path)
	case "sqlite":
		return sqlite.NewStore(path)
	}
	return nil, fmt.Errorf("不支持的数据库类型：%q", driver)
}

func NewServer(cfg Config) (*Server, error) {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}

	store, err := openStore(cfg.DBDriver, cfg.DBPath)
	if err != nil {
		return nil, err
	}

	return &Server{
		store: store,
		httpServer: &http.Server{
			Addr:              cfg.ListenAddr,
			Handler:           NewRouter(store, cfg),
			ReadHeaderTimeout: 5 * time.Second,
		},
	}, nil
}

func NewRouter(store storage.Store, cfg Config) *gin.Engine {
	m := metrics.New()
	router := gin.New()
	router.Use(gin.Recovery(), m.Middleware())
	router.GET("/metrics", gin.WrapH(m.Handler()))

	h := api.NewHandlers(store, cfg.BlacklistFile, cfg.SettingsFile)
	h.OnInsert = m.Detection
	v1 := router.Group("/api/v1")
	{
		v1.POST("/upload", h.Upload)
		v1.GET("/query", h.Query)
		v1.GET("/blacklist", h.Blacklist)
		v1.GET("/settings", h.Settings)
	}
	return router
}

func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	_ = s.httpServer.Shutdown(ctx)
	return s.store.Close()
}
