package sheets

import (
	"context"

	"billfold/internal/core"
)

// Ports for outbound adapters.
type (
	// LedgerAppender appends one transaction to the external spreadsheet
	// ledger and returns a reference to the written row.
	LedgerAppender interface {
		Append(ctx context.Context, tx core.Transaction) (rowRef string, err error)
	}
)
