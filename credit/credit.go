// Package credit defines the append-only credit ledger. Every balance change
// is a Transaction; a principal's balance is the BalanceAfter of its
// highest-sequence transaction, and replaying its history in sequence order
// reproduces that value.
package credit

import (
	"context"
	"time"

	"github.com/xraph/hotelledger/id"
)

// TokensPerCredit converts credits to the token unit shown to end users.
const TokensPerCredit int64 = 100

// Tokens converts a credit amount to tokens.
func Tokens(credits int64) int64 { return credits * TokensPerCredit }

type TransactionType string

const (
	TypeSubscriptionInitial   TransactionType = "subscription_initial"
	TypeSubscriptionRenewal   TransactionType = "subscription_renewal"
	TypeSubscriptionUpgrade   TransactionType = "subscription_upgrade"
	TypeSubscriptionDowngrade TransactionType = "subscription_downgrade"
	TypeCreditPurchase        TransactionType = "credit_purchase"
	TypeManualAdjustment      TransactionType = "manual_adjustment"
	TypeConsumption           TransactionType = "consumption"
	TypeRefund                TransactionType = "refund"
)

// Valid reports whether t is a known transaction type.
func (t TransactionType) Valid() bool {
	switch t {
	case TypeSubscriptionInitial, TypeSubscriptionRenewal, TypeSubscriptionUpgrade,
		TypeSubscriptionDowngrade, TypeCreditPurchase, TypeManualAdjustment,
		TypeConsumption, TypeRefund:
		return true
	}
	return false
}

// IsGrant reports whether transactions of this type add credits.
func (t TransactionType) IsGrant() bool {
	return t != TypeConsumption && t != TypeManualAdjustment
}

type Transaction struct {
	ID            id.TransactionID `json:"id"`
	PrincipalID   string           `json:"principal_id"`
	Seq           int64            `json:"seq"`
	Amount        int64            `json:"amount"`
	BalanceBefore int64            `json:"balance_before"`
	BalanceAfter  int64            `json:"balance_after"`
	Type          TransactionType  `json:"type"`
	ReferenceID   string           `json:"reference_id,omitempty"`
	Description   string           `json:"description,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
}

// Replay folds transactions (in Seq order) into a balance and reports the
// first sequence gap or balance discontinuity it finds.
func Replay(txs []*Transaction) (balance int64, ok bool) {
	var expectSeq int64 = 1
	for _, tx := range txs {
		if tx.Seq != expectSeq || tx.BalanceBefore != balance || tx.BalanceBefore+tx.Amount != tx.BalanceAfter {
			return balance, false
		}
		balance = tx.BalanceAfter
		expectSeq++
	}
	return balance, true
}

type Store interface {
	// AppendTransaction assigns Seq, BalanceBefore, BalanceAfter and
	// CreatedAt from the principal's head transaction and persists tx in
	// one conditional write. It fails with ErrDuplicateReference when
	// ReferenceID was already used, ErrInsufficientBalance when the
	// balance would go negative, and ErrConcurrentAppend when another
	// append took the same sequence number.
	AppendTransaction(ctx context.Context, tx *Transaction) error
	GetTransaction(ctx context.Context, txID id.TransactionID) (*Transaction, error)
	GetTransactionByReference(ctx context.Context, referenceID string) (*Transaction, error)
	// LastTransaction returns the head of the principal's chain, or
	// ErrTransactionNotFound when the principal has none.
	LastTransaction(ctx context.Context, principalID string) (*Transaction, error)
	ListTransactions(ctx context.Context, principalID string, opts ListOpts) ([]*Transaction, error)
}

type ListOpts struct {
	Types     []TransactionType
	Since     *time.Time
	Until     *time.Time
	Limit     int
	Offset    int
	Ascending bool
}
