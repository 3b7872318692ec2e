package ledgerstore

import (
	"fmt"
	"strings"
)

const (
	nodeTarget       = "target"
	nodeTotalSavings = "total_savings"
	nodeTransactions = "transactions"
)

// Kind identifies which node of a ledger a Path addresses.
type Kind int

const (
	KindLedger Kind = iota
	KindTarget
	KindTotalSavings
	KindTransactions
	KindTransaction
)

func (k Kind) String() string {
	switch k {
	case KindLedger:
		return "ledger"
	case KindTarget:
		return nodeTarget
	case KindTotalSavings:
		return nodeTotalSavings
	case KindTransactions:
		return nodeTransactions
	case KindTransaction:
		return "transaction"
	default:
		return "unknown"
	}
}

// Path addresses a node in the hierarchy
// <root>/<userID>/{target,total_savings,transactions/<id>}.
type Path struct {
	Root          string
	UserID        string
	Kind          Kind
	TransactionID string
}

// LedgerPath returns the path of a user's whole ledger subtree.
func LedgerPath(root, userID string) Path {
	return Path{Root: root, UserID: userID, Kind: KindLedger}
}

func (p Path) Ledger() Path {
	return LedgerPath(p.Root, p.UserID)
}

func (p Path) Target() Path {
	return Path{Root: p.Root, UserID: p.UserID, Kind: KindTarget}
}

func (p Path) TotalSavings() Path {
	return Path{Root: p.Root, UserID: p.UserID, Kind: KindTotalSavings}
}

func (p Path) Transactions() Path {
	return Path{Root: p.Root, UserID: p.UserID, Kind: KindTransactions}
}

func (p Path) Transaction(id string) Path {
	return Path{Root: p.Root, UserID: p.UserID, Kind: KindTransaction, TransactionID: id}
}

// Key identifies the ledger subtree and is what change notifications carry.
func (p Path) Key() string {
	return p.Root + "/" + p.UserID
}

func (p Path) String() string {
	switch p.Kind {
	case KindLedger:
		return p.Key()
	case KindTransaction:
		return p.Key() + "/" + nodeTransactions + "/" + p.TransactionID
	default:
		return p.Key() + "/" + p.Kind.String()
	}
}

func (p Path) validate() error {
	if p.Root == "" || p.UserID == "" {
		return fmt.Errorf("%w: %q", ErrInvalidPath, p.String())
	}
	if strings.Contains(p.UserID, "/") || strings.Contains(p.Root, "/") {
		return fmt.Errorf("%w: %q", ErrInvalidPath, p.String())
	}
	if p.Kind == KindTransaction && (p.TransactionID == "" || strings.Contains(p.TransactionID, "/")) {
		return fmt.Errorf("%w: %q", ErrInvalidPath, p.String())
	}
	return nil
}
