// Package quota tracks the coin balance, debits coins for metered
// operations, and reconciles against the remote ledger. Pending transaction
// reports live in a durable outbox so a crash between local commit and
// remote report loses nothing.
package quota

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Katie1225/voicevault/internal/db"
	"github.com/Katie1225/voicevault/pkg/models"
)

var (
	// ErrInsufficientFunds is returned by CheckAndReserve when the cost
	// exceeds the cached balance. The operation must not start.
	ErrInsufficientFunds = errors.New("insufficient coins")
	// ErrAlreadyGifted is returned when the one-time bonus was already
	// granted. Granting twice is a correctness bug, not a retry-safe path.
	ErrAlreadyGifted = errors.New("bonus already granted")
)

// outboxBatch bounds how many pending reports one drain pass sends.
const outboxBatch = 50

// RemoteLedger is the narrow contract over the remote ledger service.
type RemoteLedger interface {
	Balance(ctx context.Context, accountID string) (int64, error)
	Report(ctx context.Context, txn models.LedgerTransaction) error
}

// Options tunes a Ledger.
type Options struct {
	AccountID         string
	GiftCoins         int64
	ReconcileInterval time.Duration
}

// Ledger is the quota ledger client. The cached balance is authoritative
// between reconciliations; the remote wins on divergence.
type Ledger struct {
	store  *db.QuotaStore
	remote RemoteLedger // nil means offline: outbox accumulates, reconcile no-ops
	opts   Options

	mu   sync.Mutex
	acct *db.Account
}

// New creates a Ledger and loads (or creates) the persisted account.
func New(ctx context.Context, store *db.QuotaStore, remote RemoteLedger, opts Options) (*Ledger, error) {
	if opts.ReconcileInterval <= 0 {
		opts.ReconcileInterval = 24 * time.Hour
	}
	acct, err := store.GetOrCreateAccount(ctx, opts.AccountID)
	if err != nil {
		return nil, fmt.Errorf("load quota account: %w", err)
	}
	return &Ledger{store: store, remote: remote, opts: opts, acct: acct}, nil
}

// Coins returns the cached balance.
func (l *Ledger) Coins() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.acct.Coins
}

// Gifted reports whether the one-time bonus was granted.
func (l *Ledger) Gifted() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.acct.Gifted
}

// Snapshot returns the account as served to balance queries.
func (l *Ledger) Snapshot() models.QuotaAccount {
	l.mu.Lock()
	defer l.mu.Unlock()
	return models.QuotaAccount{
		ID:     l.acct.ID,
		Coins:  l.acct.Coins,
		Gifted: l.acct.Gifted,
	}
}

// CheckAndReserve verifies the cached balance covers cost. Purely local; it
// never contacts the remote ledger. Must succeed before any billable
// external call begins.
func (l *Ledger) CheckAndReserve(cost int64) error {
	if cost <= 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.acct.Coins < cost {
		return fmt.Errorf("%w: need %d, have %d", ErrInsufficientFunds, cost, l.acct.Coins)
	}
	return nil
}

// Commit debits delta coins after the metered operation verifiably
// succeeded, persists the balance, and queues the transaction for remote
// report. A report failure never rolls back the local balance: the coins
// bought value that was already delivered.
func (l *Ledger) Commit(ctx context.Context, delta int64, reason string) error {
	if delta <= 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.acct.Coins < delta {
		// Reservation should have blocked this; clamp rather than go
		// negative.
		log.Warn().Int64("delta", delta).Int64("coins", l.acct.Coins).Msg("Commit exceeds balance, clamping to zero")
		delta = l.acct.Coins
	}
	l.acct.Coins -= delta
	if err := l.store.SaveAccount(ctx, l.acct); err != nil {
		l.acct.Coins += delta
		return fmt.Errorf("persist balance: %w", err)
	}

	txn := models.LedgerTransaction{
		AccountID: l.acct.ID,
		Action:    models.ActionDebit,
		Value:     delta,
		Note:      reason,
		At:        time.Now(),
	}
	if err := l.store.Enqueue(ctx, txn); err != nil {
		log.Error().Err(err).Msg("Outbox enqueue failed, transaction will not reach remote ledger")
	}
	return nil
}

// GrantBonus applies the one-time coin gift, gated by the persisted flag.
func (l *Ledger) GrantBonus(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.acct.Gifted {
		return ErrAlreadyGifted
	}
	l.acct.Coins += l.opts.GiftCoins
	l.acct.Gifted = true
	if err := l.store.SaveAccount(ctx, l.acct); err != nil {
		l.acct.Coins -= l.opts.GiftCoins
		l.acct.Gifted = false
		return fmt.Errorf("persist gift: %w", err)
	}
	if err := l.store.Enqueue(ctx, models.LedgerTransaction{
		AccountID: l.acct.ID,
		Action:    models.ActionGift,
		Value:     l.opts.GiftCoins,
		Note:      "one-time bonus",
		At:        time.Now(),
	}); err != nil {
		log.Error().Err(err).Msg("Outbox enqueue failed for gift")
	}
	log.Info().Int64("coins", l.acct.Coins).Msg("One-time bonus granted")
	return nil
}

// Reconcile compares local and remote balances, at most once per interval.
// On mismatch the remote is authoritative and overwrites local. Idempotent
// and safe to call redundantly.
func (l *Ledger) Reconcile(ctx context.Context) error {
	if l.remote == nil {
		return nil
	}

	l.mu.Lock()
	last := time.UnixMilli(l.acct.ReconciledAtEpoch)
	accountID := l.acct.ID
	l.mu.Unlock()

	if time.Since(last) < l.opts.ReconcileInterval {
		return nil
	}

	remoteCoins, err := l.remote.Balance(ctx, accountID)
	if err != nil {
		return fmt.Errorf("fetch remote balance: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if remoteCoins != l.acct.Coins {
		log.Warn().
			Int64("local", l.acct.Coins).
			Int64("remote", remoteCoins).
			Msg("Ledger mismatch, remote wins")
		l.acct.Coins = remoteCoins
		if err := l.store.SaveAccount(ctx, l.acct); err != nil {
			return fmt.Errorf("persist reconciled balance: %w", err)
		}
	}
	if err := l.store.TouchReconciled(ctx, l.acct.ID, time.Now()); err != nil {
		return fmt.Errorf("record reconcile time: %w", err)
	}
	l.acct.ReconciledAtEpoch = time.Now().UnixMilli()
	return nil
}

// DrainOutbox reports pending transactions to the remote ledger, oldest
// first. Failures bump the attempt counter and leave the row for the next
// pass.
func (l *Ledger) DrainOutbox(ctx context.Context) {
	if l.remote == nil {
		return
	}
	entries, err := l.store.Pending(ctx, outboxBatch)
	if err != nil {
		log.Error().Err(err).Msg("Outbox read failed")
		return
	}
	for _, e := range entries {
		txn := models.LedgerTransaction{
			AccountID: e.AccountID,
			Action:    e.Action,
			Value:     e.Value,
			Note:      e.Note,
			At:        time.UnixMilli(e.CreatedAtEpoch),
		}
		if err := l.remote.Report(ctx, txn); err != nil {
			log.Warn().Err(err).Int64("entry", e.ID).Int("attempts", e.Attempts+1).Msg("Ledger report failed, keeping in outbox")
			if merr := l.store.MarkAttempt(ctx, e.ID); merr != nil {
				log.Error().Err(merr).Msg("Outbox attempt bump failed")
			}
			continue
		}
		if err := l.store.MarkSent(ctx, e.ID); err != nil {
			log.Error().Err(err).Int64("entry", e.ID).Msg("Outbox removal failed, report may duplicate")
		}
	}
}

// Run drains the outbox and checks reconciliation on an interval until the
// context ends.
func (l *Ledger) Run(ctx context.Context, drainEvery time.Duration) {
	ticker := time.NewTicker(drainEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.DrainOutbox(ctx)
			if err := l.Reconcile(ctx); err != nil {
				log.Warn().Err(err).Msg("Reconcile failed")
			}
		}
	}
}
