package ledger

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/shopspring/decimal"

	"gridbot/pkg/models"
)

// GridFill is one executed grid buy, kept for audit in the state file.
type GridFill struct {
	Price    decimal.Decimal `json:"precio"`
	Quantity decimal.Decimal `json:"cantidad"`
}

// State is the persisted ledger record. Field names are kept compatible
// with earlier state files so a restart picks up where it left off.
type State struct {
	GridFills []GridFill      `json:"grids_activados"`
	Quantity  decimal.Decimal `json:"posicion_total"`
	CostBasis decimal.Decimal `json:"costo_total"`
	Fees      decimal.Decimal `json:"fees_total"`
	Fills     []models.Fill   `json:"fills"`
	TPOrders  []string        `json:"tp_orders"`
	SLOrderID string          `json:"sl_order_id"`
}

func defaultState() State {
	return State{
		GridFills: []GridFill{},
		Quantity:  decimal.Zero,
		CostBasis: decimal.Zero,
		Fees:      decimal.Zero,
		Fills:     []models.Fill{},
		TPOrders:  []string{},
	}
}

// Store persists ledger state as a JSON file with atomic replace.
type Store struct {
	path string
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load reads the state file. A missing file yields the default state;
// a corrupt file is an error so the operator can decide.
func (s *Store) Load() (State, error) {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return defaultState(), nil
		}
		return State{}, fmt.Errorf("ledger: failed to read state file %s: %w", s.path, err)
	}

	state := defaultState()
	if err := json.Unmarshal(b, &state); err != nil {
		return State{}, fmt.Errorf("ledger: failed to parse state file %s: %w", s.path, err)
	}
	if state.GridFills == nil {
		state.GridFills = []GridFill{}
	}
	if state.Fills == nil {
		state.Fills = []models.Fill{}
	}
	if state.TPOrders == nil {
		state.TPOrders = []string{}
	}

	return state, nil
}

// Save writes the state to a temp file and renames it into place, so a
// crash mid-write never leaves a torn file.
func (s *Store) Save(state State) error {
	b, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("ledger: failed to marshal state: %w", err)
	}

	dir := filepath.Dir(s.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("ledger: failed to create state dir %s: %w", dir, err)
		}
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return fmt.Errorf("ledger: failed to write state file %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("ledger: failed to replace state file %s: %w", s.path, err)
	}

	return nil
}
