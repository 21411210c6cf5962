package models

import "time"

// QuotaAccount tracks the metered-usage balance for one user identity.
// Coins never go below zero; an operation that costs more than the current
// balance must fail before any billable work starts.
type QuotaAccount struct {
	ID     string `json:"id"`
	Coins  int64  `json:"coins"`
	Gifted bool   `json:"gifted"`
}

// TransactionAction classifies a ledger transaction.
type TransactionAction string

const (
	ActionDebit     TransactionAction = "debit"
	ActionGift      TransactionAction = "gift"
	ActionReconcile TransactionAction = "reconcile"
)

// LedgerTransaction is one balance change awaiting (or past) remote report.
type LedgerTransaction struct {
	AccountID string            `json:"account_id"`
	Action    TransactionAction `json:"action"`
	Value     int64             `json:"value"`
	Note      string            `json:"note,omitempty"`
	At        time.Time         `json:"at"`
}
