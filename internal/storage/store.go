// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package storage persists collected posts, collection statistics, and
// error events in SQLite. Post identity is the dedup key: saving an
// already-seen post id overwrites the row instead of duplicating it.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/pdiddy/reddit-collector/pkg/types"
)

// Store manages the collection SQLite database.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens or creates the database at dbPath, creating parent
// directories and the schema as needed.
func Open(dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Store{db: db, logger: logger.With("component", "storage")}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return s, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS posts (
			id TEXT PRIMARY KEY,
			subreddit TEXT NOT NULL,
			title TEXT NOT NULL,
			selftext TEXT,
			url TEXT,
			permalink TEXT,
			created_utc INTEGER NOT NULL,
			author TEXT,
			score INTEGER DEFAULT 0,
			num_comments INTEGER DEFAULT 0,
			upvote_ratio REAL,
			ups INTEGER DEFAULT 0,
			downs INTEGER DEFAULT 0,
			flair TEXT,
			awards TEXT,
			is_self INTEGER DEFAULT 0,
			is_video INTEGER DEFAULT 0,
			relevance_score REAL DEFAULT 0,
			is_relevant INTEGER DEFAULT 0,
			collected_at INTEGER,
			collection_date TEXT,
			collection_batch_id TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_posts_subreddit ON posts(subreddit)`,
		`CREATE INDEX IF NOT EXISTS idx_posts_collection_date ON posts(collection_date)`,
		`CREATE TABLE IF NOT EXISTS collection_stats (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			collection_date TEXT NOT NULL,
			collection_batch_id TEXT NOT NULL,
			subreddit TEXT NOT NULL,
			total_fetched INTEGER DEFAULT 0,
			total_filtered INTEGER DEFAULT 0,
			total_saved INTEGER DEFAULT 0,
			start_time INTEGER,
			end_time INTEGER,
			duration_seconds INTEGER,
			status TEXT,
			error_message TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_stats_batch ON collection_stats(collection_batch_id)`,
		`CREATE TABLE IF NOT EXISTS error_logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			error_type TEXT NOT NULL,
			error_message TEXT NOT NULL,
			subreddit TEXT,
			post_id TEXT,
			collection_batch_id TEXT,
			severity TEXT,
			resolved INTEGER DEFAULT 0,
			created_at INTEGER DEFAULT (unixepoch())
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}
	return nil
}

// TestConnection verifies the database is reachable and the schema exists.
func (s *Store) TestConnection(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("pinging database: %w", err)
	}
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM posts`).Scan(&n); err != nil {
		return fmt.Errorf("probing posts table: %w", err)
	}
	return nil
}

// SavePosts writes posts in a single transaction. Re-saving an id
// replaces the existing row.
func (s *Store) SavePosts(ctx context.Context, posts []types.Post) (int, error) {
	if len(posts) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO posts (
		id, subreddit, title, selftext, url, permalink, created_utc, author,
		score, num_comments, upvote_ratio, ups, downs, flair, awards,
		is_self, is_video, relevance_score, is_relevant,
		collected_at, collection_date, collection_batch_id
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for _, p := range posts {
		awards, err := json.Marshal(p.Awards)
		if err != nil {
			return 0, fmt.Errorf("encoding awards for %s: %w", p.ID, err)
		}
		var ratio any
		if p.UpvoteRatio != nil {
			ratio = *p.UpvoteRatio
		}
		if _, err := stmt.ExecContext(ctx,
			p.ID, p.Subreddit, p.Title, p.SelfText, p.URL, p.Permalink,
			p.CreatedUTC, p.Author, p.Score, p.NumComments, ratio,
			p.Ups, p.Downs, p.Flair, string(awards),
			p.IsSelf, p.IsVideo, p.RelevanceScore, p.IsRelevant,
			p.CollectedAt, p.CollectionDate, p.BatchID,
		); err != nil {
			return 0, fmt.Errorf("inserting post %s: %w", p.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing posts: %w", err)
	}
	s.logger.Debug("posts saved", "count", len(posts))
	return len(posts), nil
}

// PostCount returns the number of stored posts, optionally restricted
// to one subreddit.
func (s *Store) PostCount(ctx context.Context, subreddit string) (int, error) {
	var n int
	var err error
	if subreddit == "" {
		err = s.db.QueryRowContext(ctx, `SELECT count(*) FROM posts`).Scan(&n)
	} else {
		err = s.db.QueryRowContext(ctx,
			`SELECT count(*) FROM posts WHERE subreddit = ?`, subreddit).Scan(&n)
	}
	if err != nil {
		return 0, fmt.Errorf("counting posts: %w", err)
	}
	return n, nil
}

// PostsByDate returns posts collected on the given calendar day,
// newest first.
func (s *Store) PostsByDate(ctx context.Context, date string) ([]types.Post, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT
		id, subreddit, title, selftext, url, permalink, created_utc, author,
		score, num_comments, upvote_ratio, ups, downs, flair, awards,
		is_self, is_video, relevance_score, is_relevant,
		collected_at, collection_date, collection_batch_id
	FROM posts WHERE collection_date = ? ORDER BY created_utc DESC`, date)
	if err != nil {
		return nil, fmt.Errorf("querying posts: %w", err)
	}
	defer rows.Close()

	var posts []types.Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		posts = append(posts, p)
	}
	return posts, rows.Err()
}

func scanPost(rows *sql.Rows) (types.Post, error) {
	var p types.Post
	var ratio sql.NullFloat64
	var awards sql.NullString
	var collectedAt sql.NullInt64
	if err := rows.Scan(
		&p.ID, &p.Subreddit, &p.Title, &p.SelfText, &p.URL, &p.Permalink,
		&p.CreatedUTC, &p.Author, &p.Score, &p.NumComments, &ratio,
		&p.Ups, &p.Downs, &p.Flair, &awards,
		&p.IsSelf, &p.IsVideo, &p.RelevanceScore, &p.IsRelevant,
		&collectedAt, &p.CollectionDate, &p.BatchID,
	); err != nil {
		return types.Post{}, fmt.Errorf("scanning post: %w", err)
	}
	if ratio.Valid {
		v := ratio.Float64
		p.UpvoteRatio = &v
	}
	if awards.Valid && awards.String != "" && awards.String != "null" {
		if err := json.Unmarshal([]byte(awards.String), &p.Awards); err != nil {
			return types.Post{}, fmt.Errorf("decoding awards for %s: %w", p.ID, err)
		}
	}
	p.CollectedAt = collectedAt.Int64
	return p, nil
}

// SaveCollectionStats appends one task outcome record.
func (s *Store) SaveCollectionStats(ctx context.Context, st types.CollectionStats) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO collection_stats (
		collection_date, collection_batch_id, subreddit, total_fetched,
		total_filtered, total_saved, start_time, end_time,
		duration_seconds, status, error_message
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		st.CollectionDate, st.BatchID, st.Subreddit, st.TotalFetched,
		st.TotalFiltered, st.TotalSaved, st.StartTime, st.EndTime,
		st.Duration, st.Status, st.ErrorMessage)
	if err != nil {
		return fmt.Errorf("saving collection stats: %w", err)
	}
	return nil
}

// StatsByBatch returns the outcome records for a batch in insertion order.
func (s *Store) StatsByBatch(ctx context.Context, batchID string) ([]types.CollectionStats, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT
		collection_date, collection_batch_id, subreddit, total_fetched,
		total_filtered, total_saved, start_time, end_time,
		duration_seconds, status, error_message
	FROM collection_stats WHERE collection_batch_id = ? ORDER BY id`, batchID)
	if err != nil {
		return nil, fmt.Errorf("querying collection stats: %w", err)
	}
	defer rows.Close()

	var out []types.CollectionStats
	for rows.Next() {
		var st types.CollectionStats
		var errMsg sql.NullString
		if err := rows.Scan(&st.CollectionDate, &st.BatchID, &st.Subreddit,
			&st.TotalFetched, &st.TotalFiltered, &st.TotalSaved,
			&st.StartTime, &st.EndTime, &st.Duration, &st.Status, &errMsg); err != nil {
			return nil, fmt.Errorf("scanning collection stats: %w", err)
		}
		st.ErrorMessage = errMsg.String
		out = append(out, st)
	}
	return out, rows.Err()
}

// StatsByDate returns the outcome records for one collection day.
func (s *Store) StatsByDate(ctx context.Context, date string) ([]types.CollectionStats, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT
		collection_date, collection_batch_id, subreddit, total_fetched,
		total_filtered, total_saved, start_time, end_time,
		duration_seconds, status, error_message
	FROM collection_stats WHERE collection_date = ? ORDER BY id`, date)
	if err != nil {
		return nil, fmt.Errorf("querying collection stats: %w", err)
	}
	defer rows.Close()

	var out []types.CollectionStats
	for rows.Next() {
		var st types.CollectionStats
		var errMsg sql.NullString
		if err := rows.Scan(&st.CollectionDate, &st.BatchID, &st.Subreddit,
			&st.TotalFetched, &st.TotalFiltered, &st.TotalSaved,
			&st.StartTime, &st.EndTime, &st.Duration, &st.Status, &errMsg); err != nil {
			return nil, fmt.Errorf("scanning collection stats: %w", err)
		}
		st.ErrorMessage = errMsg.String
		out = append(out, st)
	}
	return out, rows.Err()
}

// LogError appends one error event. Logging must never fail a
// collection run, so errors are reported to the caller but carry no
// side effects.
func (s *Store) LogError(ctx context.Context, e types.ErrorLog) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO error_logs (
		error_type, error_message, subreddit, post_id,
		collection_batch_id, severity, resolved, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ErrorType, e.ErrorMessage, e.Subreddit, e.PostID,
		e.BatchID, e.Severity, e.Resolved, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("logging error event: %w", err)
	}
	return nil
}

// RecentErrors returns the newest error events, most recent first.
func (s *Store) RecentErrors(ctx context.Context, limit int) ([]types.ErrorLog, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `SELECT
		error_type, error_message, subreddit, post_id,
		collection_batch_id, severity, resolved
	FROM error_logs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying error log: %w", err)
	}
	defer rows.Close()

	var out []types.ErrorLog
	for rows.Next() {
		var e types.ErrorLog
		var subreddit, postID, batchID, severity sql.NullString
		if err := rows.Scan(&e.ErrorType, &e.ErrorMessage, &subreddit,
			&postID, &batchID, &severity, &e.Resolved); err != nil {
			return nil, fmt.Errorf("scanning error event: %w", err)
		}
		e.Subreddit = subreddit.String
		e.PostID = postID.String
		e.BatchID = batchID.String
		e.Severity = severity.String
		out = append(out, e)
	}
	return out, rows.Err()
}
