// Package server exposes the wallet engine on a loopback HTTP surface: RPC
// dispatch for the browser extension and management endpoints for the local
// approval UI.
package server

import (
	"context"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/lanternwallet/lantern-agent/internal/activity"
	"github.com/lanternwallet/lantern-agent/internal/backend"
	"github.com/lanternwallet/lantern-agent/internal/chains"
	"github.com/lanternwallet/lantern-agent/internal/connect"
	"github.com/lanternwallet/lantern-agent/internal/engine"
	"github.com/lanternwallet/lantern-agent/internal/logging"
)

// AuthOps is the slice of the backend the management endpoints use directly,
// outside the RPC dispatch path.
type AuthOps interface {
	AuthorizationStatuses(ctx context.Context) []backend.AuthorizationStatus
	UpgradeAuthorization(ctx context.Context) (string, error)
	ResetAuthorization(ctx context.Context) (string, error)
	WaitForTransactionConfirmation(ctx context.Context, hash common.Hash) error
}

// NetworkLister reports the configured networks for the UI.
type NetworkLister interface {
	Networks() []chains.Network
}

type Server struct {
	router      *engine.Router
	auth        AuthOps
	networks    NetworkLister
	activity    *activity.Store
	connections *connect.Store
	log         *zap.Logger

	mux              *http.ServeMux
	sessionToken     string
	uiAllowedOrigins map[string]struct{}
	pairing          pairing
}

func New(
	router *engine.Router,
	auth AuthOps,
	networks NetworkLister,
	activityStore *activity.Store,
	connections *connect.Store,
	tokenPath string,
	uiAllowedOrigins []string,
	log *zap.Logger,
) (*Server, error) {
	token, err := loadOrCreateToken(tokenPath)
	if err != nil {
		return nil, err
	}

	s := &Server{
		router:           router,
		auth:             auth,
		networks:         networks,
		activity:         activityStore,
		connections:      connections,
		log:              log.With(logging.Component("server")),
		mux:              http.NewServeMux(),
		sessionToken:     token,
		uiAllowedOrigins: make(map[string]struct{}, len(uiAllowedOrigins)),
	}
	for _, o := range uiAllowedOrigins {
		if o = normalizeOrigin(o); o != "" {
			s.uiAllowedOrigins[o] = struct{}{}
		}
	}

	s.mux.HandleFunc("/healthz", s.withCORS(s.withLoopbackOnly(requireMethod(http.MethodGet, s.handleHealth))))
	s.mux.HandleFunc("/status", s.withCORS(s.withGuards(requireMethod(http.MethodGet, s.handleStatus))))

	// pairing runs before the extension holds a token, loopback guard only
	s.mux.HandleFunc("/agent/extension/pair", s.withLoopbackOnly(requireMethod(http.MethodPost, s.handlePairStart)))
	s.mux.HandleFunc("/pair/exchange", s.withLoopbackOnly(requireMethod(http.MethodPost, s.handlePairExchange)))
	s.mux.HandleFunc("/agent/extension/status", s.withLoopbackOnly(requireMethod(http.MethodGet, s.handlePairStatus)))

	// extension RPC surface
	s.mux.HandleFunc("/wallet/rpc", s.withGuards(requireMethodRPC(http.MethodPost, s.handleRPC)))
	s.mux.HandleFunc("/wallet/rpc/await", s.withGuards(requireMethodRPC(http.MethodGet, s.handleAwait)))

	// approval UI surface
	s.mux.HandleFunc("/wallet/rpc/pending", s.withCORS(s.withGuards(requireMethod(http.MethodGet, s.handlePendingList))))
	s.mux.HandleFunc("/wallet/rpc/complete", s.withCORS(s.withGuards(requireMethodRPC(http.MethodPost, s.handleComplete))))

	// wallet management
	s.mux.HandleFunc("/wallet/activity", s.withCORS(s.withGuards(requireMethod(http.MethodGet, s.handleActivity))))
	s.mux.HandleFunc("/wallet/connections", s.withCORS(s.withGuards(requireMethod(http.MethodGet, s.handleConnections))))
	s.mux.HandleFunc("/wallet/connections/clear", s.withCORS(s.withGuards(requireMethod(http.MethodPost, s.handleConnectionsClear))))
	s.mux.HandleFunc("/wallet/networks", s.withCORS(s.withGuards(requireMethod(http.MethodGet, s.handleNetworks))))
	s.mux.HandleFunc("/wallet/authorization/status", s.withCORS(s.withGuards(requireMethod(http.MethodGet, s.handleAuthorizationStatus))))
	s.mux.HandleFunc("/wallet/authorization/upgrade", s.withCORS(s.withGuards(requireMethod(http.MethodPost, s.handleAuthorizationUpgrade))))
	s.mux.HandleFunc("/wallet/authorization/reset", s.withCORS(s.withGuards(requireMethod(http.MethodPost, s.handleAuthorizationReset))))

	return s, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// SessionToken is exposed so startup can print pairing instructions.
func (s *Server) SessionToken() string {
	return s.sessionToken
}

func (s *Server) withLoopbackOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !isLoopbackRequest(r) {
			writeJSON(w, http.StatusForbidden, map[string]string{"error": "loopback only"})
			return
		}
		next(w, r)
	}
}

// withGuards is the default protection: loopback plus session token.
func (s *Server) withGuards(next http.HandlerFunc) http.HandlerFunc {
	return s.withLoopbackOnly(func(w http.ResponseWriter, r *http.Request) {
		if !tokenMatches(s.sessionToken, r.Header.Get(sessionTokenHeader)) {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid session token"})
			return
		}
		next(w, r)
	})
}

// withCORS admits the local approval UI's origin.
func (s *Server) withCORS(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		origin := normalizeOrigin(r.Header.Get("Origin"))
		if origin != "" {
			if _, ok := s.uiAllowedOrigins[origin]; ok {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Vary", "Origin")
				w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
				if reqHdr := r.Header.Get("Access-Control-Request-Headers"); reqHdr != "" {
					w.Header().Set("Access-Control-Allow-Headers", reqHdr)
				}
				w.Header().Set("Access-Control-Max-Age", "600")
			}
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next(w, r)
	}
}
