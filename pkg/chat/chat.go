// Package chat removes the chat history of rooms that became empty.
package chat

import (
	"context"
	"database/sql"

	"github.com/giongto35/cloud-meet/pkg/logger"
	_ "github.com/lib/pq"
)

const purgeQuery = "DELETE FROM messages WHERE room_id = $1"

// Purger deletes all chat messages of a room.
type Purger interface {
	Purge(ctx context.Context, roomId string) error
}

// New returns the Postgres purger or a no-op one if there is no DSN.
func New(dsn string, log *logger.Logger) (Purger, error) {
	if dsn == "" {
		return Noop{log: log}, nil
	}
	return NewPostgres(dsn, log)
}

type Postgres struct {
	db  *sql.DB
	log *logger.Logger
}

func NewPostgres(dsn string, log *logger.Logger) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	return &Postgres{db: db, log: log.Extend(log.With().Str(logger.ModuleField, "chat"))}, nil
}

func (p *Postgres) Purge(ctx context.Context, roomId string) error {
	res, err := p.db.ExecContext(ctx, purgeQuery, roomId)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	p.log.Debug().Str("room", roomId).Int64("n", n).Msg("Chat purged")
	return nil
}

func (p *Postgres) Close() error { return p.db.Close() }

type Noop struct{ log *logger.Logger }

func (n Noop) Purge(_ context.Context, roomId string) error {
	if n.log != nil {
		n.log.Debug().Str("room", roomId).Msg("No chat storage, nothing to purge")
	}
	return nil
}
