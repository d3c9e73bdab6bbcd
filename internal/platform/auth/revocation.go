package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

const sweepInterval = 5 * time.Minute

// RevocationStore tracks revoked token ids (JTI claims) in Postgres so a
// logout on one instance is visible to every other instance sharing the
// database. A background sweeper removes entries once the underlying token
// would have expired anyway.
type RevocationStore struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
	done chan struct{}
}

// NewRevocationStore creates the store and starts the background sweeper.
// Call Close on shutdown to stop it.
func NewRevocationStore(pool *pgxpool.Pool, log zerolog.Logger) *RevocationStore {
	s := &RevocationStore{
		pool: pool,
		log:  log.With().Str("component", "revocation").Logger(),
		done: make(chan struct{}),
	}
	go s.sweepLoop()
	return s
}

// Revoke records a token id until its natural expiry. Revoking the same
// token twice is a no-op.
func (s *RevocationStore) Revoke(ctx context.Context, jti string, userID uuid.UUID, expiresAt time.Time) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO revoked_tokens (jti, user_id, expires_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (jti) DO NOTHING`,
		jti, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

// IsRevoked reports whether the token id is on the revocation list and the
// revocation is still in force. Expired entries no longer count: the token
// itself is rejected by expiry checking before this lookup matters.
func (s *RevocationStore) IsRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM revoked_tokens WHERE jti = $1 AND expires_at > now())`,
		jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revocation: %w", err)
	}
	return revoked, nil
}

// Close stops the background sweeper. Safe to call more than once.
func (s *RevocationStore) Close() {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
}

// sweepLoop periodically deletes revocation entries whose tokens have
// passed their natural expiry.
func (s *RevocationStore) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *RevocationStore) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	tag, err := s.pool.Exec(ctx, `DELETE FROM revoked_tokens WHERE expires_at <= now()`)
	if err != nil {
		s.log.Warn().Err(err).Msg("revocation sweep failed")
		return
	}
	if n := tag.RowsAffected(); n > 0 {
		s.log.Debug().Int64("removed", n).Msg("swept expired revocations")
	}
}
