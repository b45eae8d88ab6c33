package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/arogya/internal/domain"
	"github.com/ashureev/arogya/internal/shared"
	"github.com/google/uuid"
)

type dialect struct {
	name string
	// numbered placeholders ($1, $2, ...) instead of ?.
	numbered bool
	// lower is the SQL function that case-folds searchable columns. It
	// must agree with strings.ToLower for non-ASCII text.
	lower string
}

var (
	dialectSQLite   = dialect{name: "sqlite", lower: unicodeLowerFunc}
	dialectPostgres = dialect{name: "postgres", numbered: true, lower: "LOWER"}
)

// rebind rewrites ? placeholders for dialects that use numbered ones.
func (d dialect) rebind(query string) string {
	if !d.numbered {
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

// SQLStore implements Repository over database/sql for SQLite and Postgres.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
	writeMu sync.Mutex // serializes history writes to prevent SQLITE_BUSY
}

func newSQLStore(db *sql.DB, d dialect) *SQLStore {
	return &SQLStore{db: db, dialect: d}
}

// Ping verifies database connectivity.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// ---- remedies ----

const remedyColumns = `id, plant_name, symptoms, herbs, recommendations, precautions`

// escapeLike makes s a literal LIKE needle using \ as the escape character.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// FindByFreeText returns remedies containing text in any searchable column.
func (s *SQLStore) FindByFreeText(ctx context.Context, text string, limit int) ([]domain.Remedy, error) {
	if limit <= 0 {
		return nil, nil
	}
	needle := "%" + escapeLike(strings.ToLower(text)) + "%"
	lower := s.dialect.lower
	query := s.dialect.rebind(`
		SELECT ` + remedyColumns + `
		FROM remedies
		WHERE ` + lower + `(plant_name) LIKE ? ESCAPE '\'
		   OR ` + lower + `(symptoms) LIKE ? ESCAPE '\'
		   OR ` + lower + `(herbs) LIKE ? ESCAPE '\'
		   OR ` + lower + `(recommendations) LIKE ? ESCAPE '\'
		ORDER BY id
		LIMIT ?`)

	rows, err := s.db.QueryContext(ctx, query, needle, needle, needle, needle, limit)
	if err != nil {
		return nil, domain.NewStoreUnavailableError(fmt.Errorf("query remedies: %w", err))
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close remedy rows", "error", closeErr)
		}
	}()

	var out []domain.Remedy
	for rows.Next() {
		r, err := scanRemedy(rows)
		if err != nil {
			return nil, domain.NewStoreUnavailableError(err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.NewStoreUnavailableError(fmt.Errorf("iterate remedies: %w", err))
	}
	return out, nil
}

func scanRemedy(rows *sql.Rows) (domain.Remedy, error) {
	var r domain.Remedy
	var precautions sql.NullString
	if err := rows.Scan(&r.ID, &r.PlantName, &r.Symptoms, &r.Herbs, &r.Recommendations, &precautions); err != nil {
		return r, fmt.Errorf("scan remedy row: %w", err)
	}
	if precautions.Valid {
		r.Precautions = domain.StringPtr(precautions.String)
	}
	return r, nil
}

// InsertRemedies stores remedies in one transaction.
func (s *SQLStore) InsertRemedies(ctx context.Context, remedies []domain.Remedy) (int, error) {
	if len(remedies) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, s.dialect.rebind(`
		INSERT INTO remedies (plant_name, symptoms, herbs, recommendations, precautions)
		VALUES (?, ?, ?, ?, ?)`))
	if err != nil {
		_ = tx.Rollback()
		return 0, fmt.Errorf("prepare remedy insert: %w", err)
	}
	defer stmt.Close()

	for i := range remedies {
		r := &remedies[i]
		if strings.TrimSpace(r.PlantName) == "" {
			_ = tx.Rollback()
			return 0, domain.NewInvalidInputError(fmt.Sprintf("remedy %d has no plant name", i+1))
		}
		var precautions interface{}
		if r.HasPrecautions() {
			precautions = *r.Precautions
		}
		if _, err := stmt.ExecContext(ctx, r.PlantName, r.Symptoms, r.Herbs, r.Recommendations, precautions); err != nil {
			_ = tx.Rollback()
			return 0, fmt.Errorf("insert remedy %q: %w", r.PlantName, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit remedies: %w", err)
	}
	return len(remedies), nil
}

// CountRemedies returns the number of stored remedies.
func (s *SQLStore) CountRemedies(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM remedies`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count remedies: %w", err)
	}
	return n, nil
}

// ---- users ----

// CreateUser inserts a new user.
func (s *SQLStore) CreateUser(ctx context.Context, user *domain.User) error {
	if user == nil {
		return errors.New("nil user")
	}
	existing, err := s.GetUserByEmail(ctx, user.Email)
	if err != nil {
		return err
	}
	if existing != nil {
		return domain.NewAlreadyExistsError("user", user.Email)
	}

	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now()
	}

	_, err = s.db.ExecContext(ctx, s.dialect.rebind(`
		INSERT INTO users (id, email, name, password_hash, is_medical_professional, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`),
		user.ID, domain.NormalizeEmail(user.Email), user.Name, user.PasswordHash,
		user.IsMedicalProfessional, user.CreatedAt.UnixMilli(),
	)
	if err != nil {
		if shared.IsUniqueViolation(err) {
			return domain.NewAlreadyExistsError("user", user.Email)
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// GetUser retrieves a user by ID.
func (s *SQLStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	return s.getUser(ctx, `id = ?`, userID)
}

// GetUserByEmail retrieves a user by email.
func (s *SQLStore) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	return s.getUser(ctx, `email = ?`, domain.NormalizeEmail(email))
}

func (s *SQLStore) getUser(ctx context.Context, where string, arg string) (*domain.User, error) {
	query := s.dialect.rebind(`
		SELECT id, email, name, password_hash, is_medical_professional, created_at
		FROM users WHERE ` + where)

	var u domain.User
	var createdAt int64
	err := s.db.QueryRowContext(ctx, query, arg).Scan(
		&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.IsMedicalProfessional, &createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user row: %w", err)
	}
	u.CreatedAt = time.UnixMilli(createdAt)
	return &u, nil
}

// ---- chat history ----

// Record appends a user/bot exchange to a session, creating it when needed.
// SQLite lock conflicts are retried with exponential backoff.
func (s *SQLStore) Record(ctx context.Context, userID, userMessage, botResponse, sessionID string) (string, error) {
	maxRetries := 3
	baseDelay := 50 * time.Millisecond

	var lastErr error
	for i := 0; i < maxRetries; i++ {
		id, err := s.recordOnce(ctx, userID, userMessage, botResponse, sessionID)
		if err == nil {
			return id, nil
		}
		lastErr = err
		if !shared.IsSQLiteConflictError(err) || i == maxRetries-1 {
			break
		}
		delay := baseDelay * time.Duration(1<<i) // 50ms, 100ms, 200ms
		slog.Debug("Record failed with SQLITE_BUSY, retrying",
			"user_id", userID,
			"attempt", i+1,
			"delay", delay)
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(delay):
		}
	}
	return "", lastErr
}

func (s *SQLStore) recordOnce(ctx context.Context, userID, userMessage, botResponse, sessionID string) (string, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin tx: %w", err)
	}
	rollback := func(err error) (string, error) {
		if rbErr := tx.Rollback(); rbErr != nil {
			slog.Warn("rollback chat history", "error", rbErr)
		}
		return "", err
	}

	now := time.Now()
	var seq int64
	if sessionID == "" {
		sessionID = uuid.NewString()
		_, err := tx.ExecContext(ctx, s.dialect.rebind(`
			INSERT INTO chat_sessions (id, user_id, title, created_at, last_message_at)
			VALUES (?, ?, ?, ?, ?)`),
			sessionID, userID, domain.SessionTitle(userMessage), now.UnixMilli(), now.UnixMilli())
		if err != nil {
			return rollback(fmt.Errorf("insert chat session: %w", err))
		}
	} else {
		var owner string
		err := tx.QueryRowContext(ctx, s.dialect.rebind(
			`SELECT user_id FROM chat_sessions WHERE id = ?`), sessionID).Scan(&owner)
		if errors.Is(err, sql.ErrNoRows) || (err == nil && owner != userID) {
			return rollback(domain.NewNotFoundError("chat session", sessionID))
		}
		if err != nil {
			return rollback(fmt.Errorf("lookup chat session: %w", err))
		}
		if err := tx.QueryRowContext(ctx, s.dialect.rebind(
			`SELECT COALESCE(MAX(seq), 0) FROM chat_messages WHERE session_id = ?`), sessionID).Scan(&seq); err != nil {
			return rollback(fmt.Errorf("read last seq: %w", err))
		}
	}

	insert := s.dialect.rebind(`
		INSERT INTO chat_messages (id, session_id, seq, role, content, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if _, err := tx.ExecContext(ctx, insert,
		uuid.NewString(), sessionID, seq+1, string(domain.RoleUser), userMessage, now.UnixMilli()); err != nil {
		return rollback(fmt.Errorf("insert user message: %w", err))
	}
	if _, err := tx.ExecContext(ctx, insert,
		uuid.NewString(), sessionID, seq+2, string(domain.RoleBot), botResponse, now.UnixMilli()); err != nil {
		return rollback(fmt.Errorf("insert bot message: %w", err))
	}

	if _, err := tx.ExecContext(ctx, s.dialect.rebind(
		`UPDATE chat_sessions SET last_message_at = ? WHERE id = ?`), now.UnixMilli(), sessionID); err != nil {
		return rollback(fmt.Errorf("update last_message_at: %w", err))
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit chat history: %w", err)
	}
	return sessionID, nil
}

// ListSessions returns the user's sessions newest first.
func (s *SQLStore) ListSessions(ctx context.Context, userID string) ([]*domain.ChatSession, error) {
	query := s.dialect.rebind(`
		SELECT s.id, s.title, s.created_at, s.last_message_at,
		       (SELECT m.content FROM chat_messages m WHERE m.session_id = s.id ORDER BY m.seq DESC LIMIT 1),
		       (SELECT m.created_at FROM chat_messages m WHERE m.session_id = s.id ORDER BY m.seq DESC LIMIT 1)
		FROM chat_sessions s
		WHERE s.user_id = ?
		ORDER BY s.created_at DESC, s.id DESC`)

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query chat sessions: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close chat session rows", "error", closeErr)
		}
	}()

	var sessions []*domain.ChatSession
	for rows.Next() {
		sess := &domain.ChatSession{UserID: userID}
		var createdAt, lastAt int64
		var lastMsg sql.NullString
		var lastMsgAt sql.NullInt64
		if err := rows.Scan(&sess.ID, &sess.Title, &createdAt, &lastAt, &lastMsg, &lastMsgAt); err != nil {
			return nil, fmt.Errorf("scan chat session row: %w", err)
		}
		sess.CreatedAt = time.UnixMilli(createdAt)
		sess.LastMessageAt = time.UnixMilli(lastAt)
		if lastMsg.Valid {
			msg := lastMsg.String
			sess.LastMessage = &msg
		}
		if lastMsgAt.Valid {
			ts := time.UnixMilli(lastMsgAt.Int64)
			sess.LastMessageTime = &ts
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chat sessions: %w", err)
	}
	return sessions, nil
}

// SessionMessages returns one session's messages in order.
func (s *SQLStore) SessionMessages(ctx context.Context, userID, sessionID string) ([]*domain.ChatMessage, error) {
	var owner string
	err := s.db.QueryRowContext(ctx, s.dialect.rebind(
		`SELECT user_id FROM chat_sessions WHERE id = ?`), sessionID).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && owner != userID) {
		return nil, domain.NewNotFoundError("chat session", sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("lookup chat session: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(`
		SELECT id, session_id, seq, role, content, created_at
		FROM chat_messages
		WHERE session_id = ?
		ORDER BY seq ASC`), sessionID)
	if err != nil {
		return nil, fmt.Errorf("query chat messages: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close chat message rows", "error", closeErr)
		}
	}()

	var msgs []*domain.ChatMessage
	for rows.Next() {
		var m domain.ChatMessage
		var role string
		var createdAt int64
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Seq, &role, &m.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("scan chat message row: %w", err)
		}
		m.Role = domain.MessageRole(role)
		m.CreatedAt = time.UnixMilli(createdAt)
		msgs = append(msgs, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chat messages: %w", err)
	}
	return msgs, nil
}
