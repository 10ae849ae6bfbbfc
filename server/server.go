package server

import (
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/warrenmnocos/oauth2/auth"
	"github.com/warrenmnocos/oauth2/clients"
	"github.com/warrenmnocos/oauth2/internal/config"
	"github.com/warrenmnocos/oauth2/token"
)

// Server wires the token lifecycle manager to the HTTP token endpoints.
type Server struct {
	env           string
	mux           *http.ServeMux
	config        config.Config
	tokens        *token.Manager
	clientRepo    clients.Repo
	authenticator auth.Authenticator
}

func New(cfg config.Config, tokens *token.Manager, clientRepo clients.Repo, authenticator auth.Authenticator) *Server {
	s := &Server{
		mux:           http.NewServeMux(),
		config:        cfg,
		tokens:        tokens,
		clientRepo:    clientRepo,
		authenticator: authenticator,
	}
	s.env = cfg.GetEnv()
	s.initRoutes()
	return s
}

func (s *Server) initRoutes() {
	s.mux.HandleFunc("POST "+RouteOAuth2Token, ChainMiddleware(s.Token(), s.LoggingMiddleware, s.MetricsMiddleware(RouteOAuth2Token)))
	s.mux.HandleFunc("POST "+RouteOAuth2Revoke, ChainMiddleware(s.Revoke(), s.LoggingMiddleware, s.MetricsMiddleware(RouteOAuth2Revoke)))
	s.mux.HandleFunc("POST "+RouteOAuth2Introspect, ChainMiddleware(s.Introspect(), s.LoggingMiddleware, s.MetricsMiddleware(RouteOAuth2Introspect)))
	s.mux.Handle("GET "+RouteMetrics, promhttp.Handler())
	s.mux.HandleFunc("GET "+RouteHealth, s.Health())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) Health() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", contentTypeJSON)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"status": "ok",
			"env":    s.env,
		})
	}
}
