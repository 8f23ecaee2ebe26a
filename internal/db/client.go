package db

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lokendra-hiteshi/chat-app-web/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

const identityKey = "identity"

// ClientDB handles client-side local persistence.
type ClientDB struct {
	db *sql.DB
}

// NewClientDB opens or creates the client database.
func NewClientDB(path string) (*ClientDB, error) {
	db, err := sql.Open("sqlite3", path+"?_fk=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	cdb := &ClientDB{db: db}
	if err := cdb.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return cdb, nil
}

// Close closes the database connection.
func (c *ClientDB) Close() error {
	return c.db.Close()
}

func (c *ClientDB) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS preferences (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);
	`
	_, err := c.db.Exec(schema)
	return err
}

// GetPreference retrieves a preference value.
func (c *ClientDB) GetPreference(key string) (string, error) {
	var value string
	err := c.db.QueryRow(`SELECT value FROM preferences WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// SetPreference sets a preference value.
func (c *ClientDB) SetPreference(key, value string) error {
	_, err := c.db.Exec(`
		INSERT INTO preferences (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

// LoadIdentity returns the identity persisted by a previous session,
// or nil if none was saved. An unparsable record is treated as absent.
func (c *ClientDB) LoadIdentity() (*models.Identity, error) {
	value, err := c.GetPreference(identityKey)
	if err != nil {
		return nil, err
	}
	if value == "" {
		return nil, nil
	}
	var ident models.Identity
	if err := json.Unmarshal([]byte(value), &ident); err != nil {
		return nil, nil
	}
	return &ident, nil
}

// SaveIdentity persists the identity for future sessions.
func (c *ClientDB) SaveIdentity(ident models.Identity) error {
	data, err := json.Marshal(ident)
	if err != nil {
		return err
	}
	return c.SetPreference(identityKey, string(data))
}
