package badger

import (
	"context"
	"errors"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/hrsync/internal/interfaces"
	"github.com/ternarybob/hrsync/internal/models"
)

// CardCache stores employee-card responses keyed by people id
type CardCache struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewCardCache creates a new CardCache instance
func NewCardCache(db *BadgerDB, logger arbor.ILogger) interfaces.CardCache {
	return &CardCache{
		db:     db,
		logger: logger,
	}
}

func cardKey(peopleID string) string {
	return "card:" + peopleID
}

// Get returns the cached card or interfaces.ErrNotFound
func (c *CardCache) Get(ctx context.Context, peopleID string) (*models.EmployeeCard, error) {
	var card models.EmployeeCard
	err := c.db.Store().Get(cardKey(peopleID), &card)
	if errors.Is(err, badgerhold.ErrNotFound) {
		return nil, interfaces.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get employee card: %w", err)
	}
	return &card, nil
}

// Put inserts or replaces a card
func (c *CardCache) Put(ctx context.Context, card *models.EmployeeCard) error {
	if card.PeopleID == "" {
		return fmt.Errorf("employee card has no people id")
	}
	if err := c.db.Store().Upsert(cardKey(card.PeopleID), card); err != nil {
		return fmt.Errorf("failed to save employee card: %w", err)
	}
	return nil
}

// Count returns the number of cached cards
func (c *CardCache) Count(ctx context.Context) (int, error) {
	count, err := c.db.Store().Count(&models.EmployeeCard{}, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to count employee cards: %w", err)
	}
	return int(count), nil
}
