package badger

import (
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/hrsync/internal/common"
	"github.com/ternarybob/hrsync/internal/interfaces"
)

// Manager owns the Badger connection and the stores built on it
type Manager struct {
	db      *BadgerDB
	cards   interfaces.CardCache
	history interfaces.RunHistory
	logger  arbor.ILogger
}

// NewManager creates a new Badger storage manager
func NewManager(logger arbor.ILogger, config *common.BadgerConfig) (*Manager, error) {
	db, err := NewBadgerDB(logger, config)
	if err != nil {
		return nil, err
	}

	logger.Debug().Str("path", config.Path).Msg("Badger storage manager initialized")

	return &Manager{
		db:      db,
		cards:   NewCardCache(db, logger),
		history: NewRunHistory(db, logger),
		logger:  logger,
	}, nil
}

// CardCache returns the employee-card cache
func (m *Manager) CardCache() interfaces.CardCache {
	return m.cards
}

// RunHistory returns the sync run history store
func (m *Manager) RunHistory() interfaces.RunHistory {
	return m.history
}

// Close closes the database connection
func (m *Manager) Close() error {
	return m.db.Close()
}
