// Package history keeps a local SQLite transcript of prompts and replies.
// The database is opened lazily and created on first use. If opening the DB
// or executing queries fails, the package falls back to in-memory storage so
// a broken transcript never blocks a chat.
package history

import (
	"database/sql"
	"os"
	"sync"

	_ "github.com/glebarez/go-sqlite"

	"github.com/revchat/revchat/internal/logger"
)

var (
	mu      sync.Mutex
	entries []Entry // in-memory fallback

	dbOnce  sync.Once
	db      *sql.DB
	initErr error
)

// initDB lazily opens the SQLite database and creates the transcript table
// if it doesn't exist.
func initDB() {
	var err error
	dbPath := os.Getenv("TRANSCRIPT_DB_PATH")
	if dbPath == "" {
		dbPath = "transcript.db"
	}
	db, err = sql.Open("sqlite", "file:"+dbPath+"?_busy_timeout=10000&_fk=1")
	if err != nil {
		initErr = err
		logger.L.Warn("sqlite open failed; using in-memory transcript", "error", err)
		return
	}
	if _, err = db.Exec(`CREATE TABLE IF NOT EXISTS transcript (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        conversation_id TEXT,
        message_id TEXT,
        role TEXT,
        content TEXT,
        model TEXT,
        created_at DATETIME
    );`); err != nil {
		initErr = err
		logger.L.Warn("sqlite table creation failed; using in-memory transcript", "error", err)
		return
	}
	logger.L.Debug("sqlite transcript DB initialized", "path", dbPath)
}

// Save persists an entry to the SQLite database when available and always
// keeps an in-memory copy as fallback.
func Save(e Entry) {
	dbOnce.Do(initDB)

	if initErr == nil && db != nil {
		_, err := db.Exec(`INSERT INTO transcript (conversation_id, message_id, role, content, model, created_at) VALUES (?,?,?,?,?,?);`,
			e.ConversationID, e.MessageID, e.Role, e.Content, e.Model, e.CreatedAt)
		if err != nil {
			logger.L.Error("failed to store transcript entry in sqlite; falling back to memory", "error", err)
		}
	}

	mu.Lock()
	entries = append(entries, e)
	mu.Unlock()
}

// List returns all entries of a conversation in chronological order.
func List(conversationID string) []Entry {
	dbOnce.Do(initDB)
	var out []Entry
	if initErr == nil && db != nil {
		rows, err := db.Query(`SELECT id, conversation_id, message_id, role, content, model, created_at FROM transcript WHERE conversation_id = ? ORDER BY id ASC;`, conversationID)
		if err == nil {
			defer rows.Close()
			for rows.Next() {
				var e Entry
				if err := rows.Scan(&e.ID, &e.ConversationID, &e.MessageID, &e.Role, &e.Content, &e.Model, &e.CreatedAt); err == nil {
					out = append(out, e)
				}
			}
			return out
		}
	}
	mu.Lock()
	for _, e := range entries {
		if e.ConversationID == conversationID {
			out = append(out, e)
		}
	}
	mu.Unlock()
	return out
}
