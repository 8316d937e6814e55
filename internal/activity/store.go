package activity

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/lanternwallet/lantern-agent/internal/logging"
)

// Transaction statuses. A transaction leaves pending exactly once.
const (
	StatusPending   = "pending"
	StatusConfirmed = "confirmed"
	StatusFailed    = "failed"
)

// App identifies the requesting site.
type App struct {
	Domain string
	URI    string
	Scheme string
}

// Transaction is one recorded submission.
type Transaction struct {
	ID         int64  `json:"id"`
	App        App    `json:"-"`
	Domain     string `json:"domain"`
	TxHash     string `json:"txHash"`
	ChainIDHex string `json:"chainId"`
	From       string `json:"from"`
	To         string `json:"to,omitempty"`
	ValueWei   string `json:"value"`
	Method     string `json:"method"`
	Status     string `json:"status"`
	CreatedAt  int64  `json:"createdAtMs"`
}

// Signature is one recorded message signing.
type Signature struct {
	ID             int64  `json:"id"`
	Domain         string `json:"domain"`
	SignatureHash  string `json:"signatureHash"`
	ChainIDHex     string `json:"chainId,omitempty"`
	From           string `json:"from"`
	Method         string `json:"method"`
	MessageContent string `json:"messageContent,omitempty"`
	SignatureHex   string `json:"signatureHex,omitempty"`
	CreatedAt      int64  `json:"createdAtMs"`
}

// Entry is one row of the merged activity feed.
type Entry struct {
	Kind        string       `json:"kind"` // "transaction" or "signature"
	Transaction *Transaction `json:"transaction,omitempty"`
	Signature   *Signature   `json:"signature,omitempty"`
}

// Store persists the activity feed. Recording never fails the calling wallet
// operation: write errors are logged and swallowed.
type Store struct {
	db  *sql.DB
	log *zap.Logger
	now func() time.Time
}

func NewStore(db *sql.DB, log *zap.Logger) *Store {
	return &Store{db: db, log: log.With(logging.Component("activity")), now: time.Now}
}

// HashSignature derives the stable identifier stored for a signature: the
// SHA-256 of its lowercased hex form.
func HashSignature(sigHex string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimPrefix(sigHex, "0x"))))
	return hex.EncodeToString(sum[:])
}

// appID upserts the app row and returns its id.
func (s *Store) appID(app App) (int64, error) {
	var id int64
	err := s.db.QueryRow(
		"SELECT id FROM apps WHERE domain = ? AND uri = ? AND scheme = ?",
		app.Domain, app.URI, app.Scheme,
	).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}

	res, err := s.db.Exec(
		"INSERT INTO apps (domain, uri, scheme, created_at_ms) VALUES (?, ?, ?, ?)",
		app.Domain, app.URI, app.Scheme, s.now().UnixMilli(),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// LogTransaction records a freshly submitted transaction as pending.
func (s *Store) LogTransaction(app App, tx Transaction) {
	appID, err := s.appID(app)
	if err != nil {
		s.log.Warn("record transaction app", zap.Error(err), logging.Domain(app.Domain))
		return
	}
	_, err = s.db.Exec(`
		INSERT INTO transactions (app_id, tx_hash, chain_id_hex, from_address, to_address, value_wei, method, status, created_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tx_hash) DO NOTHING`,
		appID, strings.ToLower(tx.TxHash), tx.ChainIDHex, strings.ToLower(tx.From),
		strings.ToLower(tx.To), tx.ValueWei, tx.Method, StatusPending, s.now().UnixMilli(),
	)
	if err != nil {
		s.log.Warn("record transaction", zap.Error(err), logging.TxHash(tx.TxHash))
	}
}

// LogSignature records a produced signature. Duplicate signatures are ignored.
func (s *Store) LogSignature(app App, sig Signature) {
	appID, err := s.appID(app)
	if err != nil {
		s.log.Warn("record signature app", zap.Error(err), logging.Domain(app.Domain))
		return
	}
	_, err = s.db.Exec(`
		INSERT INTO signatures (app_id, signature_hash, chain_id_hex, from_address, method, message_content, signature_hex, created_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(signature_hash) DO NOTHING`,
		appID, sig.SignatureHash, sig.ChainIDHex, strings.ToLower(sig.From), sig.Method,
		sig.MessageContent, strings.ToLower(sig.SignatureHex), s.now().UnixMilli(),
	)
	if err != nil {
		s.log.Warn("record signature", zap.Error(err), logging.Domain(app.Domain))
	}
}

// MarkStatus moves a pending transaction to its final status. Returns true
// only for the call that actually performed the transition.
func (s *Store) MarkStatus(txHash, status string) (bool, error) {
	res, err := s.db.Exec(
		"UPDATE transactions SET status = ? WHERE tx_hash = ? AND status = ?",
		status, strings.ToLower(txHash), StatusPending,
	)
	if err != nil {
		return false, errors.Wrap(err, "mark transaction status")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// PendingTransactions returns the hashes the poller still needs to resolve,
// oldest first.
func (s *Store) PendingTransactions() ([]Transaction, error) {
	rows, err := s.db.Query(`
		SELECT t.id, a.domain, t.tx_hash, t.chain_id_hex, t.from_address, t.to_address, t.value_wei, t.method, t.status, t.created_at_ms
		FROM transactions t
		JOIN apps a ON a.id = t.app_id
		WHERE t.status = ?
		ORDER BY t.created_at_ms ASC, t.id ASC`, StatusPending)
	if err != nil {
		return nil, errors.Wrap(err, "query pending transactions")
	}
	defer rows.Close()
	return scanTransactions(rows)
}

// FetchActivity returns the merged feed, newest first. A zero limit means no
// limit; a non-empty domain filters to that app. Rows inserted within the same
// millisecond still come back in reverse-insertion order via the id tiebreak.
func (s *Store) FetchActivity(domain string, limit, offset int) ([]Entry, error) {
	query := `
		SELECT 'transaction' AS kind, t.id AS id, a.domain, t.tx_hash, t.chain_id_hex, t.from_address, t.to_address, t.value_wei, t.method, t.status, t.created_at_ms AS created_at_ms
		FROM transactions t JOIN apps a ON a.id = t.app_id
		WHERE (? = '' OR a.domain = ?)
		UNION ALL
		SELECT 'signature', s.id, a.domain, s.signature_hash, s.chain_id_hex, s.from_address, s.message_content, s.signature_hex, s.method, '', s.created_at_ms
		FROM signatures s JOIN apps a ON a.id = s.app_id
		WHERE (? = '' OR a.domain = ?)
		ORDER BY created_at_ms DESC, id DESC`
	args := []any{domain, domain, domain, domain}
	if limit > 0 || offset > 0 {
		// sqlite needs a LIMIT clause to accept OFFSET; -1 means unbounded
		if limit <= 0 {
			limit = -1
		}
		query += " LIMIT ? OFFSET ?"
		args = append(args, limit, offset)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query activity")
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			kind                               string
			id, createdAt                      int64
			domain, c1, c2, c3, c4, c5, c6, c7 string
		)
		if err := rows.Scan(&kind, &id, &domain, &c1, &c2, &c3, &c4, &c5, &c6, &c7, &createdAt); err != nil {
			return nil, errors.Wrap(err, "scan activity row")
		}
		switch kind {
		case "transaction":
			entries = append(entries, Entry{Kind: kind, Transaction: &Transaction{
				ID: id, Domain: domain, TxHash: c1, ChainIDHex: c2, From: c3,
				To: c4, ValueWei: c5, Method: c6, Status: c7, CreatedAt: createdAt,
			}})
		case "signature":
			entries = append(entries, Entry{Kind: kind, Signature: &Signature{
				ID: id, Domain: domain, SignatureHash: c1, ChainIDHex: c2, From: c3,
				MessageContent: c4, SignatureHex: c5, Method: c6, CreatedAt: createdAt,
			}})
		}
	}
	return entries, rows.Err()
}

func scanTransactions(rows *sql.Rows) ([]Transaction, error) {
	var txs []Transaction
	for rows.Next() {
		var tx Transaction
		if err := rows.Scan(&tx.ID, &tx.Domain, &tx.TxHash, &tx.ChainIDHex, &tx.From,
			&tx.To, &tx.ValueWei, &tx.Method, &tx.Status, &tx.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan transaction row")
		}
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}
