package models

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Account mirrors the balance and position reported on the private stream.
// It is a read-mostly cache for observability; order sizing always queries
// the exchange fresh.
type Account struct {
	symbol    string
	balances  map[string]Balance
	positions map[string]Position

	mux sync.RWMutex
}

func NewAccount(symbol string) *Account {
	return &Account{
		symbol:    symbol,
		balances:  make(map[string]Balance),
		positions: make(map[string]Position),
	}
}

type Balance struct {
	Balance   decimal.Decimal
	UpdatedAt time.Time
}

type Position struct {
	Amount     decimal.Decimal
	EntryPrice decimal.Decimal
	UpdatedAt  time.Time
}

func (a *Account) UpdateBalance(asset string, balance decimal.Decimal, updatedAt time.Time) {
	a.mux.Lock()
	defer a.mux.Unlock()

	a.balances[asset] = Balance{
		Balance:   balance,
		UpdatedAt: updatedAt,
	}
}

func (a *Account) UpdatePosition(
	symbol string,
	amount decimal.Decimal,
	entryPrice decimal.Decimal,
	updatedAt time.Time,
) {
	a.mux.Lock()
	defer a.mux.Unlock()

	a.positions[symbol] = Position{
		Amount:     amount,
		EntryPrice: entryPrice,
		UpdatedAt:  updatedAt,
	}
}

func (a *Account) GetBalance(asset string) Balance {
	a.mux.RLock()
	defer a.mux.RUnlock()

	return a.balances[asset]
}

func (a *Account) GetPosition(symbol string) Position {
	a.mux.RLock()
	defer a.mux.RUnlock()

	return a.positions[symbol]
}
