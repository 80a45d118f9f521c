package hotelledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/xraph/hotelledger/credit"
	"github.com/xraph/hotelledger/id"
)

// ──────────────────────────────────────────────────
// Credit writes
// ──────────────────────────────────────────────────

// Grant adds amount credits to principalID. A non-empty referenceID makes
// the grant idempotent: when a transaction with that reference exists it is
// returned with created=false and nothing is appended.
func (l *Ledger) Grant(ctx context.Context, principalID string, amount int64, typ credit.TransactionType, referenceID string) (tx *credit.Transaction, created bool, err error) {
	if amount <= 0 {
		return nil, false, fmt.Errorf("%w: grant must be positive, got %d", ErrInvalidAmount, amount)
	}
	if !typ.Valid() || !typ.IsGrant() {
		return nil, false, ValidationError{Field: "type", Message: fmt.Sprintf("%q is not a grant type", typ)}
	}

	return l.appendIdempotent(ctx, &credit.Transaction{
		PrincipalID: principalID,
		Amount:      amount,
		Type:        typ,
		ReferenceID: referenceID,
	})
}

// Consume debits amount credits. The debit is all or nothing: when amount
// exceeds the balance the call fails with ErrInsufficientBalance and the
// ledger is unchanged.
func (l *Ledger) Consume(ctx context.Context, principalID string, amount int64, reason string) (*credit.Transaction, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: consumption must be positive, got %d", ErrInvalidAmount, amount)
	}
	if principalID == "" {
		return nil, Required("principal_id")
	}

	tx := &credit.Transaction{
		ID:          id.NewTransactionID(),
		PrincipalID: principalID,
		Amount:      -amount,
		Type:        credit.TypeConsumption,
		Description: reason,
	}
	if err := l.appendTransaction(ctx, tx); err != nil {
		if errors.Is(err, ErrInsufficientBalance) {
			return nil, l.insufficient(ctx, principalID, amount)
		}
		return nil, err
	}

	l.plugins.EmitCreditsConsumed(ctx, tx)
	return tx, nil
}

// Adjust appends a signed manual correction. Like Grant, a repeated
// referenceID returns the original transaction.
func (l *Ledger) Adjust(ctx context.Context, principalID string, amount int64, referenceID, description string) (*credit.Transaction, bool, error) {
	if amount == 0 {
		return nil, false, fmt.Errorf("%w: adjustment must be non-zero", ErrInvalidAmount)
	}

	tx, created, err := l.appendIdempotent(ctx, &credit.Transaction{
		PrincipalID: principalID,
		Amount:      amount,
		Type:        credit.TypeManualAdjustment,
		ReferenceID: referenceID,
		Description: description,
	})
	if errors.Is(err, ErrInsufficientBalance) {
		return nil, false, l.insufficient(ctx, principalID, -amount)
	}
	return tx, created, err
}

// Refund returns amount credits to principalID.
func (l *Ledger) Refund(ctx context.Context, principalID string, amount int64, referenceID, description string) (*credit.Transaction, bool, error) {
	if amount <= 0 {
		return nil, false, fmt.Errorf("%w: refund must be positive, got %d", ErrInvalidAmount, amount)
	}

	return l.appendIdempotent(ctx, &credit.Transaction{
		PrincipalID: principalID,
		Amount:      amount,
		Type:        credit.TypeRefund,
		ReferenceID: referenceID,
		Description: description,
	})
}

func (l *Ledger) appendIdempotent(ctx context.Context, tx *credit.Transaction) (*credit.Transaction, bool, error) {
	if tx.PrincipalID == "" {
		return nil, false, Required("principal_id")
	}

	if tx.ReferenceID != "" {
		existing, err := l.store.GetTransactionByReference(ctx, tx.ReferenceID)
		switch {
		case err == nil:
			return existing, false, nil
		case !errors.Is(err, ErrTransactionNotFound):
			return nil, false, err
		}
	}

	tx.ID = id.NewTransactionID()
	err := l.appendTransaction(ctx, tx)
	if errors.Is(err, ErrDuplicateReference) {
		// Another request with the same reference won the race.
		existing, getErr := l.store.GetTransactionByReference(ctx, tx.ReferenceID)
		if getErr != nil {
			return nil, false, getErr
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	l.logger.Info("credits appended",
		"principal_id", tx.PrincipalID,
		"type", tx.Type,
		"amount", tx.Amount,
		"balance", tx.BalanceAfter,
		"reference_id", tx.ReferenceID,
	)
	if tx.Amount > 0 {
		l.plugins.EmitCreditsGranted(ctx, tx)
	} else {
		l.plugins.EmitCreditsConsumed(ctx, tx)
	}
	return tx, true, nil
}

func (l *Ledger) appendTransaction(ctx context.Context, tx *credit.Transaction) error {
	return l.retry(ctx, "append_transaction", func() error {
		return l.store.AppendTransaction(ctx, tx)
	}, ErrConcurrentAppend)
}

func (l *Ledger) insufficient(ctx context.Context, principalID string, requested int64) error {
	balance, err := l.BalanceOf(ctx, principalID)
	if err != nil {
		return err
	}
	l.plugins.EmitInsufficientBalance(ctx, principalID, requested, balance)
	return fmt.Errorf("%w: requested %d, balance %d", ErrInsufficientBalance, requested, balance)
}

// ──────────────────────────────────────────────────
// Credit queries
// ──────────────────────────────────────────────────

// BalanceOf returns the current credit balance; a principal without
// history has a zero balance.
func (l *Ledger) BalanceOf(ctx context.Context, principalID string) (int64, error) {
	head, err := l.store.LastTransaction(ctx, principalID)
	if err != nil {
		if errors.Is(err, ErrTransactionNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return head.BalanceAfter, nil
}

// TokensOf returns the balance expressed in tokens.
func (l *Ledger) TokensOf(ctx context.Context, principalID string) (int64, error) {
	balance, err := l.BalanceOf(ctx, principalID)
	if err != nil {
		return 0, err
	}
	return credit.Tokens(balance), nil
}

// HistoryOf lists a principal's transactions. Without opts.Ascending the
// newest transaction comes first.
func (l *Ledger) HistoryOf(ctx context.Context, principalID string, opts credit.ListOpts) ([]*credit.Transaction, error) {
	return l.store.ListTransactions(ctx, principalID, opts)
}

// Transaction returns a ledger transaction by id.
func (l *Ledger) Transaction(ctx context.Context, txID id.TransactionID) (*credit.Transaction, error) {
	return l.store.GetTransaction(ctx, txID)
}

// VerifyBalance replays the full history of principalID and checks it
// against the stored balance.
func (l *Ledger) VerifyBalance(ctx context.Context, principalID string) (int64, error) {
	txs, err := l.store.ListTransactions(ctx, principalID, credit.ListOpts{Ascending: true})
	if err != nil {
		return 0, err
	}

	replayed, ok := credit.Replay(txs)
	if !ok {
		return replayed, fmt.Errorf("%w: history of %s is not continuous", ErrBalanceMismatch, principalID)
	}

	balance, err := l.BalanceOf(ctx, principalID)
	if err != nil {
		return 0, err
	}
	if balance != replayed {
		return replayed, fmt.Errorf("%w: stored %d, replayed %d", ErrBalanceMismatch, balance, replayed)
	}
	return balance, nil
}
