package core

import (
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AccountStore is the persistence collaborator for venue accounts: balances
// and positions snapshot to Pebble as JSON. The matching core never calls it
// mid-operation; the Exchange restores from it at construction and writes
// through Checkpoint.
type AccountStore struct {
	db *pebble.DB
}

// NewAccountStore opens a Pebble database at the given path.
func NewAccountStore(dbPath string) (*AccountStore, error) {
	opts := &pebble.Options{
		Cache:        pebble.NewCache(32 << 20),
		MemTableSize: 16 << 20,
		MaxOpenFiles: 500,
	}
	db, err := pebble.Open(dbPath, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db at %s: %w", dbPath, err)
	}
	return &AccountStore{db: db}, nil
}

// Close closes the database.
func (s *AccountStore) Close() error {
	return s.db.Close()
}

// SaveAccount persists an account snapshot.
func (s *AccountStore) SaveAccount(acc *Account) error {
	data, err := json.Marshal(acc)
	if err != nil {
		return fmt.Errorf("failed to marshal account: %w", err)
	}
	if err := s.db.Set(accountKey(acc.UserID), data, pebble.Sync); err != nil {
		return fmt.Errorf("failed to save account: %w", err)
	}
	return nil
}

// LoadAccount loads an account snapshot. Returns nil when the account does
// not exist.
func (s *AccountStore) LoadAccount(userID uuid.UUID) (*Account, error) {
	data, closer, err := s.db.Get(accountKey(userID))
	if err == pebble.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	defer closer.Close()

	var acc Account
	if err := json.Unmarshal(data, &acc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal account: %w", err)
	}
	normalizeAccount(&acc)
	return &acc, nil
}

// LoadAllAccounts loads every persisted account.
func (s *AccountStore) LoadAllAccounts() ([]*Account, error) {
	prefix := accountPrefix()
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open account iterator: %w", err)
	}
	defer iter.Close()

	var accounts []*Account
	for iter.First(); iter.Valid(); iter.Next() {
		var acc Account
		if err := json.Unmarshal(iter.Value(), &acc); err != nil {
			continue // skip invalid entries
		}
		normalizeAccount(&acc)
		accounts = append(accounts, &acc)
	}
	return accounts, nil
}

// normalizeAccount restores map fields JSON may leave nil.
func normalizeAccount(acc *Account) {
	if acc.Balances == nil {
		acc.Balances = make(map[string]decimal.Decimal)
	}
	if acc.Positions == nil {
		acc.Positions = make(map[string]*Position)
	}
}
