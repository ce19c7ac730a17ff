package sync

import (
	"time"

	"github.com/matheus3301/nearby/internal/backend"
	"github.com/matheus3301/nearby/internal/store"
	"go.uber.org/zap"
)

// Checkpoints records when each table was last synced.
type Checkpoints struct {
	db     *store.DB
	logger *zap.Logger
}

// NewCheckpoints creates a checkpoint store.
func NewCheckpoints(db *store.DB, logger *zap.Logger) *Checkpoints {
	return &Checkpoints{db: db, logger: logger}
}

func checkpointKey(table backend.Table) string {
	return "sync." + string(table) + ".at"
}

// Mark stores the current time for table.
func (c *Checkpoints) Mark(table backend.Table) {
	if err := c.db.Set(checkpointKey(table), time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
		c.logger.Warn("failed to store sync checkpoint", zap.String("table", string(table)), zap.Error(err))
	}
}

// Last returns the last mark of table, or the zero time.
func (c *Checkpoints) Last(table backend.Table) time.Time {
	v, ok, err := c.db.Get(checkpointKey(table))
	if err != nil || !ok {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}
	}
	return t
}
