package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/model"
)

// dialect captures the few places where SQLite and Postgres differ.
type dialect struct {
	backend Backend
	// numbered rewrites `?` placeholders as `$1, $2, ...`.
	numbered          bool
	isUniqueViolation func(error) bool
}

// SQL implements Store on top of database/sql. Queries are written with `?`
// placeholders and rebound for the active dialect.
type SQL struct {
	db      *sql.DB
	dialect dialect
	clock   clock.Clock
}

var _ Store = (*SQL)(nil)

func newSQL(db *sql.DB, d dialect, clk clock.Clock) *SQL {
	return &SQL{db: db, dialect: d, clock: clk}
}

// DB exposes the underlying handle for health checks and tests.
func (s *SQL) DB() *sql.DB { return s.db }

func (s *SQL) Backend() Backend { return s.dialect.backend }

func (s *SQL) q(query string) string {
	if !s.dialect.numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func (s *SQL) now() int64 { return s.clock.Now().UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func (s *SQL) CreateUser(ctx context.Context, username, passwordHash string) (model.User, error) {
	now := s.now()
	var id int64
	err := s.db.QueryRowContext(ctx,
		s.q(`INSERT INTO users (username, password_hash, created_at) VALUES (?, ?, ?) RETURNING id`),
		username, passwordHash, now,
	).Scan(&id)
	if err != nil {
		if s.dialect.isUniqueViolation(err) {
			return model.User{}, model.ErrUsernameTaken
		}
		return model.User{}, fmt.Errorf("failed to insert user: %w", err)
	}
	return model.User{
		Identity:     model.Identity{ID: id, Username: username},
		PasswordHash: passwordHash,
		CreatedAt:    fromMillis(now),
	}, nil
}

func (s *SQL) scanUser(row *sql.Row) (model.User, error) {
	var (
		u       model.User
		created int64
	)
	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return model.User{}, model.ErrNotFound
	}
	if err != nil {
		return model.User{}, err
	}
	u.CreatedAt = fromMillis(created)
	return u, nil
}

func (s *SQL) UserByUsername(ctx context.Context, username string) (model.User, error) {
	u, err := s.scanUser(s.db.QueryRowContext(ctx,
		s.q(`SELECT id, username, password_hash, created_at FROM users WHERE username = ?`),
		username,
	))
	if err != nil && !errors.Is(err, model.ErrNotFound) {
		return model.User{}, fmt.Errorf("failed to find user by username: %w", err)
	}
	return u, err
}

func (s *SQL) UserByID(ctx context.Context, id int64) (model.User, error) {
	u, err := s.scanUser(s.db.QueryRowContext(ctx,
		s.q(`SELECT id, username, password_hash, created_at FROM users WHERE id = ?`),
		id,
	))
	if err != nil && !errors.Is(err, model.ErrNotFound) {
		return model.User{}, fmt.Errorf("failed to find user by id: %w", err)
	}
	return u, err
}

func (s *SQL) CreatePending(ctx context.Context, requesterID, targetID int64) (model.Friendship, error) {
	if requesterID == targetID {
		return model.Friendship{}, model.ErrSelfFriendship
	}
	low, high := model.PairKey(requesterID, targetID)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Friendship{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var existing int64
	err = tx.QueryRowContext(ctx,
		s.q(`SELECT id FROM friendships WHERE pair_low = ? AND pair_high = ?`),
		low, high,
	).Scan(&existing)
	switch {
	case err == nil:
		return model.Friendship{}, model.ErrFriendshipExists
	case !errors.Is(err, sql.ErrNoRows):
		return model.Friendship{}, fmt.Errorf("failed to check friendship: %w", err)
	}

	now := s.now()
	var id int64
	err = tx.QueryRowContext(ctx,
		s.q(`INSERT INTO friendships (requester_id, target_id, pair_low, pair_high, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?) RETURNING id`),
		requesterID, targetID, low, high, string(model.FriendshipPending), now,
	).Scan(&id)
	if err != nil {
		if s.dialect.isUniqueViolation(err) {
			return model.Friendship{}, model.ErrFriendshipExists
		}
		return model.Friendship{}, fmt.Errorf("failed to insert friendship: %w", err)
	}
	if err := tx.Commit(); err != nil {
		if s.dialect.isUniqueViolation(err) {
			return model.Friendship{}, model.ErrFriendshipExists
		}
		return model.Friendship{}, fmt.Errorf("failed to commit friendship: %w", err)
	}

	return model.Friendship{
		ID:          id,
		RequesterID: requesterID,
		TargetID:    targetID,
		Status:      model.FriendshipPending,
		CreatedAt:   fromMillis(now),
	}, nil
}

func (s *SQL) ListAccepted(ctx context.Context, userID int64) ([]model.Identity, error) {
	rows, err := s.db.QueryContext(ctx,
		s.q(`SELECT u.id, u.username
		 FROM friendships f
		 JOIN users u ON u.id = CASE WHEN f.requester_id = ? THEN f.target_id ELSE f.requester_id END
		 WHERE f.status = ? AND (f.requester_id = ? OR f.target_id = ?)
		 ORDER BY f.id`),
		userID, string(model.FriendshipAccepted), userID, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list friends: %w", err)
	}
	defer rows.Close()

	out := []model.Identity{}
	for rows.Next() {
		var id model.Identity
		if err := rows.Scan(&id.ID, &id.Username); err != nil {
			return nil, fmt.Errorf("failed to scan friend: %w", err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list friends: %w", err)
	}
	return out, nil
}

func (s *SQL) ListPending(ctx context.Context, userID int64) ([]model.PendingRequest, error) {
	rows, err := s.db.QueryContext(ctx,
		s.q(`SELECT f.id, u.id, u.username
		 FROM friendships f
		 JOIN users u ON u.id = f.requester_id
		 WHERE f.target_id = ? AND f.status = ?
		 ORDER BY f.id`),
		userID, string(model.FriendshipPending),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list friend requests: %w", err)
	}
	defer rows.Close()

	out := []model.PendingRequest{}
	for rows.Next() {
		var p model.PendingRequest
		if err := rows.Scan(&p.ID, &p.Requester.ID, &p.Requester.Username); err != nil {
			return nil, fmt.Errorf("failed to scan friend request: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list friend requests: %w", err)
	}
	return out, nil
}

func (s *SQL) Accept(ctx context.Context, friendshipID, actingID int64) error {
	var targetID int64
	err := s.db.QueryRowContext(ctx,
		s.q(`SELECT target_id FROM friendships WHERE id = ?`),
		friendshipID,
	).Scan(&targetID)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to find friendship: %w", err)
	}
	if targetID != actingID {
		return model.ErrNotRequestTarget
	}

	if _, err := s.db.ExecContext(ctx,
		s.q(`UPDATE friendships SET status = ? WHERE id = ? AND target_id = ?`),
		string(model.FriendshipAccepted), friendshipID, actingID,
	); err != nil {
		return fmt.Errorf("failed to accept friendship: %w", err)
	}
	return nil
}

func (s *SQL) PersistMessage(ctx context.Context, senderID, receiverID int64, content string) (model.Message, error) {
	now := s.now()
	var id int64
	err := s.db.QueryRowContext(ctx,
		s.q(`INSERT INTO messages (sender_id, receiver_id, content, created_at) VALUES (?, ?, ?, ?) RETURNING id`),
		senderID, receiverID, content, now,
	).Scan(&id)
	if err != nil {
		return model.Message{}, fmt.Errorf("failed to insert message: %w", err)
	}
	return model.Message{
		ID:         id,
		SenderID:   senderID,
		ReceiverID: receiverID,
		Content:    content,
		CreatedAt:  fromMillis(now),
	}, nil
}

func (s *SQL) Conversation(ctx context.Context, a, b int64) ([]model.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		s.q(`SELECT id, sender_id, receiver_id, content, created_at
		 FROM messages
		 WHERE (sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)
		 ORDER BY created_at, id`),
		a, b, b, a,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}
	defer rows.Close()

	out := []model.Message{}
	for rows.Next() {
		var (
			m       model.Message
			created int64
		)
		if err := rows.Scan(&m.ID, &m.SenderID, &m.ReceiverID, &m.Content, &created); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		m.CreatedAt = fromMillis(created)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}
	return out, nil
}

func (s *SQL) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQL) Close() error {
	return s.db.Close()
}
