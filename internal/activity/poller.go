package activity

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/lanternwallet/lantern-agent/internal/chains"
	"github.com/lanternwallet/lantern-agent/internal/logging"
)

const (
	pollTick = 5 * time.Second

	// at most this many receipt lookups in flight at once
	maxConcurrentChecks = 5
)

// checkInterval widens as a transaction stays pending: every 5s for the first
// minute, every 15s for the next six minutes, every 30s after that.
func checkInterval(attempts int) time.Duration {
	switch {
	case attempts < 12:
		return 5 * time.Second
	case attempts < 36:
		return 15 * time.Second
	default:
		return 30 * time.Second
	}
}

// ChainSource resolves the client for the chain a transaction was sent on, so
// pending rows from different networks each poll their own node.
type ChainSource interface {
	ClientForChainID(ctx context.Context, chainIDHex string) (chains.Client, error)
}

type txState struct {
	attempts  int
	nextCheck time.Time
}

// Poller resolves pending transactions to confirmed or failed by polling
// receipts. Only pending rows are ever polled; finalized rows are never
// touched again.
type Poller struct {
	store  *Store
	source ChainSource
	log    *zap.Logger

	sem *semaphore.Weighted

	mu    sync.Mutex
	state map[string]*txState

	cancel context.CancelFunc
	done   chan struct{}
	wg     sync.WaitGroup
}

func NewPoller(store *Store, source ChainSource, log *zap.Logger) *Poller {
	return &Poller{
		store:  store,
		source: source,
		log:    log.With(logging.Component("activity-poller")),
		sem:    semaphore.NewWeighted(maxConcurrentChecks),
		state:  make(map[string]*txState),
	}
}

// Start launches the polling loop.
func (p *Poller) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})

	go func() {
		defer close(p.done)
		ticker := time.NewTicker(pollTick)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.tick(ctx)
			}
		}
	}()
}

// Stop halts the loop and waits for in-flight receipt checks to finish.
func (p *Poller) Stop() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	<-p.done
	p.wg.Wait()
}

func (p *Poller) tick(ctx context.Context) {
	pending, err := p.store.PendingTransactions()
	if err != nil {
		p.log.Warn("list pending transactions", zap.Error(err))
		return
	}

	now := time.Now()
	due := p.reconcile(pending, now)

	for _, tx := range due {
		if err := p.sem.Acquire(ctx, 1); err != nil {
			return
		}
		p.wg.Add(1)
		go func(tx Transaction) {
			defer p.wg.Done()
			defer p.sem.Release(1)
			p.checkOne(ctx, tx)
		}(tx)
	}
}

// reconcile syncs the in-memory schedule with the pending set and returns the
// transactions due for a check now.
func (p *Poller) reconcile(pending []Transaction, now time.Time) []Transaction {
	p.mu.Lock()
	defer p.mu.Unlock()

	live := make(map[string]bool, len(pending))
	var due []Transaction
	for _, tx := range pending {
		live[tx.TxHash] = true
		st, ok := p.state[tx.TxHash]
		if !ok {
			st = &txState{}
			p.state[tx.TxHash] = st
		}
		if !now.Before(st.nextCheck) {
			st.attempts++
			st.nextCheck = now.Add(checkInterval(st.attempts))
			due = append(due, tx)
		}
	}
	for hash := range p.state {
		if !live[hash] {
			delete(p.state, hash)
		}
	}
	return due
}

func (p *Poller) checkOne(ctx context.Context, tx Transaction) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := p.source.ClientForChainID(ctx, tx.ChainIDHex)
	if err != nil {
		p.log.Debug("resolve chain", zap.Error(err), logging.TxHash(tx.TxHash), logging.ChainID(tx.ChainIDHex))
		return
	}

	receipt, err := client.TransactionReceipt(ctx, common.HexToHash(tx.TxHash))
	if err != nil {
		if err != ethereum.NotFound {
			p.log.Debug("receipt lookup", zap.Error(err), logging.TxHash(tx.TxHash))
		}
		return
	}

	// a mined receipt without a status field counts as success
	status := StatusConfirmed
	if receipt.Status != nil && *receipt.Status == 0 {
		status = StatusFailed
	}

	transitioned, err := p.store.MarkStatus(tx.TxHash, status)
	if err != nil {
		p.log.Warn("mark transaction status", zap.Error(err), logging.TxHash(tx.TxHash))
		return
	}
	if transitioned {
		p.log.Info("transaction finalized",
			logging.TxHash(tx.TxHash), zap.String("status", status))
	}
}
