package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// MarketTick is an immutable top-of-book snapshot for a symbol.
type MarketTick struct {
	Timestamp time.Time
	Symbol    string
	AskPrice  decimal.Decimal
	BidPrice  decimal.Decimal
}
