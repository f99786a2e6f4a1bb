// Package api serves the operator's read-only view: what has been
// collected, what state each content row is in, and a reader rendering of
// any fetched page. Nothing here mutates; collection and the stage
// pipelines are driven by the worker.
package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/jdholdren/eddy/internal/bronze"
	"github.com/jdholdren/eddy/internal/eddy"
	"github.com/jdholdren/eddy/internal/serverutil"
)

type (
	// Server is the HTTP surface over the repository and the bronze store.
	Server struct {
		*http.Server

		repo  eddy.Repository
		store *bronze.Store

		readerCache *lru.Cache[string, ReaderResp]
	}

	ServerConfig struct {
		Port       int
		CorsHeader string
	}
)

func NewServer(config ServerConfig, repo eddy.Repository, store *bronze.Store) *Server {
	var (
		r        = serverutil.ErrRouter{Router: mux.NewRouter()}
		cache, _ = lru.New[string, ReaderResp](1024)
	)

	srvr := Server{
		repo:        repo,
		store:       store,
		readerCache: cache,
		Server: &http.Server{
			Addr:         fmt.Sprintf(":%d", config.Port),
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 5 * time.Second,
			Handler: handlers.CORS(
				handlers.AllowedOrigins([]string{config.CorsHeader}),
				handlers.AllowedMethods([]string{http.MethodGet, http.MethodOptions}),
				handlers.AllowedHeaders([]string{"content-type"}),
			)(r),
		},
	}

	r.Use(serverutil.AccessLogMiddleware)
	r.HandleFuncE("/api/sources", srvr.getSources).Methods(http.MethodGet)
	r.HandleFuncE("/api/discussions", srvr.getDiscussions).Methods(http.MethodGet)
	r.HandleFuncE("/api/content/{contentID}", srvr.getContent).Methods(http.MethodGet)
	r.HandleFuncE("/api/content/{contentID}/reader", srvr.getReader).Methods(http.MethodGet)

	return &srvr
}
