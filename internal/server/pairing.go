package server

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// pairingTTL bounds how long a displayed pairing code stays valid.
const pairingTTL = 60 * time.Second

const pairingCodeLength = 6

// pairing holds one in-flight extension pairing attempt. The code itself is
// never stored, only its hash.
type pairing struct {
	mu        sync.Mutex
	pairID    string
	codeHash  [sha256.Size]byte
	expiresAt time.Time
}

// begin replaces any in-flight attempt with a fresh pair id and code.
func (p *pairing) begin(now time.Time) (pairID, code string, err error) {
	code, err = newPairingCode()
	if err != nil {
		return "", "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pairID = uuid.NewString()
	p.codeHash = sha256.Sum256([]byte(code))
	p.expiresAt = now.Add(pairingTTL)
	return p.pairID, code, nil
}

// redeem consumes the attempt when id and code match and it has not expired.
func (p *pairing) redeem(now time.Time, pairID, code string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pairID == "" || now.After(p.expiresAt) {
		return false
	}
	idOK := subtle.ConstantTimeCompare([]byte(p.pairID), []byte(pairID)) == 1
	hash := sha256.Sum256([]byte(code))
	codeOK := subtle.ConstantTimeCompare(p.codeHash[:], hash[:]) == 1
	if !idOK || !codeOK {
		return false
	}
	// single use
	p.pairID = ""
	return true
}

func newPairingCode() (string, error) {
	const digits = "0123456789"
	var b strings.Builder
	for i := 0; i < pairingCodeLength; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(digits))))
		if err != nil {
			return "", err
		}
		b.WriteByte(digits[n.Int64()])
	}
	return b.String(), nil
}

// handlePairStart begins a pairing attempt. The code is printed on the agent
// side only; the extension learns the pair id and asks the user to type the
// code they see in the agent's terminal.
func (s *Server) handlePairStart(w http.ResponseWriter, _ *http.Request) {
	pairID, code, err := s.pairing.begin(time.Now())
	if err != nil {
		s.log.Error("begin pairing", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "pairing unavailable"})
		return
	}
	s.log.Info("pairing code issued, enter it in the extension",
		zap.String("pairing_code", code), zap.String("pair_id", pairID))
	writeJSON(w, http.StatusOK, map[string]any{
		"pairId":    pairID,
		"expiresIn": int(pairingTTL.Seconds()),
	})
}

// handlePairExchange trades a correct pairing code for the session token.
func (s *Server) handlePairExchange(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PairID string `json:"pairId"`
		Code   string `json:"code"`
	}
	if err := readJSONBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid pairing body"})
		return
	}
	if !s.pairing.redeem(time.Now(), strings.TrimSpace(req.PairID), strings.TrimSpace(req.Code)) {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "pairing failed"})
		return
	}
	s.log.Info("extension paired")
	writeJSON(w, http.StatusOK, map[string]string{"token": s.sessionToken})
}

// handlePairStatus lets the extension check whether its stored token is still
// the one this agent expects.
func (s *Server) handlePairStatus(w http.ResponseWriter, r *http.Request) {
	paired := tokenMatches(s.sessionToken, r.Header.Get(sessionTokenHeader))
	writeJSON(w, http.StatusOK, map[string]bool{"paired": paired})
}
