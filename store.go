package novasite

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = sql.ErrNoRows

// timeLayout is fixed-width so created_at sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000Z"

// Store wraps a SQLite database holding form submissions.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) the SQLite database at path, ensures the data
// directory exists, and runs schema migrations.
func NewStore(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// WAL lets the admin inbox read while the relay writes; busy_timeout makes
	// writers wait instead of failing with SQLITE_BUSY.
	if _, err := db.Exec(`
		PRAGMA journal_mode=WAL;
		PRAGMA busy_timeout=5000;
		PRAGMA synchronous=NORMAL;
	`); err != nil {
		db.Close()
		return nil, err
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(4)
	s := &Store{db: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ensureSchema() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS subscribers (
    id TEXT PRIMARY KEY,
    email TEXT NOT NULL UNIQUE,
    name TEXT NOT NULL DEFAULT '',
    source TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS contact_messages (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    email TEXT NOT NULL,
    subject TEXT NOT NULL DEFAULT '',
    message TEXT NOT NULL,
    created_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS collab_inquiries (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL DEFAULT '',
    email TEXT NOT NULL,
    message TEXT NOT NULL DEFAULT '',
    inquiry_type TEXT NOT NULL,
    created_at TEXT NOT NULL
);
`)
	return err
}

// SaveSubmission stores sub in the table for its type and fills in ID and
// CreatedAt when empty. Subscribing an email twice is not an error; the
// original subscription is kept and its record returned.
func (s *Store) SaveSubmission(sub Submission) (Submission, error) {
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now().UTC()
	}
	created := sub.CreatedAt.UTC().Format(timeLayout)

	var err error
	switch sub.Type {
	case TypeSubscriber:
		sub.Email = strings.ToLower(strings.TrimSpace(sub.Email))
		_, err = s.db.Exec(`INSERT INTO subscribers (id, email, name, source, created_at) VALUES (?, ?, ?, ?, ?)
ON CONFLICT(email) DO NOTHING`,
			sub.ID, sub.Email, sub.Name, sub.Source, created)
		if err == nil {
			return s.subscriberByEmail(sub.Email)
		}
	case TypeContact:
		_, err = s.db.Exec(`INSERT INTO contact_messages (id, name, email, subject, message, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
			sub.ID, sub.Name, sub.Email, sub.Subject, sub.Message, created)
	case TypeCollab:
		_, err = s.db.Exec(`INSERT INTO collab_inquiries (id, name, email, message, inquiry_type, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
			sub.ID, sub.Name, sub.Email, sub.Message, sub.InquiryType, created)
	default:
		return Submission{}, fmt.Errorf("unknown submission type %q", sub.Type)
	}
	if err != nil {
		return Submission{}, err
	}
	return sub, nil
}

func (s *Store) subscriberByEmail(email string) (Submission, error) {
	var id, name, source, created string
	err := s.db.QueryRow(`SELECT id, name, source, created_at FROM subscribers WHERE email = ?`, email).
		Scan(&id, &name, &source, &created)
	if err != nil {
		return Submission{}, err
	}
	return Submission{
		ID:        id,
		Type:      TypeSubscriber,
		Email:     email,
		Name:      name,
		Source:    source,
		CreatedAt: parseTime(created),
	}, nil
}

// ListSubmissions returns submissions newest first. An empty typ lists all
// types.
func (s *Store) ListSubmissions(typ SubmissionType) ([]Submission, error) {
	var (
		rows *sql.Rows
		err  error
	)
	const union = `
SELECT id, 'subscriber' AS type, email, name, '' AS subject, '' AS message, source, '' AS inquiry_type, created_at FROM subscribers
UNION ALL
SELECT id, 'contact', email, name, subject, message, '', '', created_at FROM contact_messages
UNION ALL
SELECT id, 'collab', email, name, '', message, '', inquiry_type, created_at FROM collab_inquiries`
	if typ == "" {
		rows, err = s.db.Query(`SELECT * FROM (` + union + `) ORDER BY created_at DESC`)
	} else {
		rows, err = s.db.Query(`SELECT * FROM (`+union+`) WHERE type = ? ORDER BY created_at DESC`, string(typ))
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []Submission
	for rows.Next() {
		var sub Submission
		var typ, created string
		if err := rows.Scan(&sub.ID, &typ, &sub.Email, &sub.Name, &sub.Subject, &sub.Message, &sub.Source, &sub.InquiryType, &created); err != nil {
			return nil, err
		}
		sub.Type = SubmissionType(typ)
		sub.CreatedAt = parseTime(created)
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// CountSubscribers returns the number of newsletter subscribers.
func (s *Store) CountSubscribers() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM subscribers`).Scan(&n)
	return n, err
}

// DeleteSubscriber removes a newsletter subscription by email.
func (s *Store) DeleteSubscriber(email string) error {
	res, err := s.db.Exec(`DELETE FROM subscribers WHERE email = ?`, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// isNotFound reports whether err means the record is missing.
func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
