package server

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/lanternwallet/lantern-agent/internal/logging"
	"github.com/lanternwallet/lantern-agent/internal/walletrpc"
)

// awaitCeiling bounds how long a single await request may hang. The extension
// re-issues the request if the approval takes longer.
const awaitCeiling = 60 * time.Second

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	networks := s.networks.Networks()
	names := make([]string, 0, len(networks))
	for _, n := range networks {
		names = append(names, n.Name)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"networks":  names,
		"connected": s.connections.Domains(),
	})
}

// handleRPC dispatches one wallet RPC request and returns its immediate
// response, which may be a pending marker.
func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	var req walletrpc.Request
	if err := readJSONBody(r, &req); err != nil {
		writeRPCError(w, http.StatusBadRequest, walletrpc.CodeInvalidRequest, "invalid request body: "+err.Error(), nil)
		return
	}
	if strings.TrimSpace(req.RequestID) == "" {
		writeRPCError(w, http.StatusBadRequest, walletrpc.CodeInvalidRequest, "requestId is required", nil)
		return
	}

	resp := s.router.Dispatch(r.Context(), req)
	writeJSON(w, http.StatusOK, resp)
}

// handleAwait blocks until a parked request completes. The error shape in the
// body mirrors /wallet/rpc so the extension can reuse its response handling.
func (s *Server) handleAwait(w http.ResponseWriter, r *http.Request) {
	requestID := strings.TrimSpace(r.URL.Query().Get("requestId"))
	if requestID == "" {
		writeRPCError(w, http.StatusBadRequest, walletrpc.CodeInvalidRequest, "requestId is required", nil)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), awaitCeiling)
	defer cancel()

	resp := s.router.Await(ctx, requestID)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePendingList(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"pending": s.router.Pending()})
}

// handleComplete applies the user's decision to a parked request.
func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	var conf walletrpc.Confirmation
	if err := readJSONBody(r, &conf); err != nil {
		writeRPCError(w, http.StatusBadRequest, walletrpc.CodeInvalidRequest, "invalid confirmation body: "+err.Error(), nil)
		return
	}
	if strings.TrimSpace(conf.RequestID) == "" {
		writeRPCError(w, http.StatusBadRequest, walletrpc.CodeInvalidRequest, "requestId is required", nil)
		return
	}

	resp := s.router.Complete(r.Context(), conf)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	domain := strings.TrimSpace(r.URL.Query().Get("domain"))
	queryInt := func(name string) (int, bool) {
		raw := r.URL.Query().Get(name)
		if raw == "" {
			return 0, true
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return 0, false
		}
		return n, true
	}
	limit, ok := queryInt("limit")
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
		return
	}
	offset, ok := queryInt("offset")
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid offset"})
		return
	}

	entries, err := s.activity.FetchActivity(domain, limit, offset)
	if err != nil {
		s.log.Error("fetch activity", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "activity unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"activity": entries})
}

func (s *Server) handleConnections(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"connections": s.connections.List()})
}

func (s *Server) handleConnectionsClear(w http.ResponseWriter, _ *http.Request) {
	if err := s.connections.ClearAll(); err != nil {
		s.log.Error("clear connections", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "clear failed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"cleared": true})
}

func (s *Server) handleNetworks(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"networks": s.networks.Networks()})
}

func (s *Server) handleAuthorizationStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"statuses": s.auth.AuthorizationStatuses(r.Context()),
	})
}

// handleAuthorizationUpgrade broadcasts the delegation transaction and waits
// for its receipt before answering, so the UI can show a final state.
func (s *Server) handleAuthorizationUpgrade(w http.ResponseWriter, r *http.Request) {
	s.finishAuthorizationTx(w, r, s.auth.UpgradeAuthorization)
}

func (s *Server) handleAuthorizationReset(w http.ResponseWriter, r *http.Request) {
	s.finishAuthorizationTx(w, r, s.auth.ResetAuthorization)
}

func (s *Server) finishAuthorizationTx(w http.ResponseWriter, r *http.Request, send func(context.Context) (string, error)) {
	hash, err := send(r.Context())
	if err != nil {
		s.log.Error("authorization transaction", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if err := s.auth.WaitForTransactionConfirmation(r.Context(), common.HexToHash(hash)); err != nil {
		s.log.Warn("authorization confirmation", zap.Error(err), logging.TxHash(hash))
		writeJSON(w, http.StatusOK, map[string]any{"txHash": hash, "confirmed": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"txHash": hash, "confirmed": true})
}
