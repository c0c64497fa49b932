// Package preferences stores each user's console settings: theme,
// which providers are enabled, and whether notifications are on.
package preferences

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/nugget/apiconsole/internal/apperr"
)

// KnownAPIs lists the provider keys every stored record carries.
var KnownAPIs = []string{"weather", "catfacts", "github", "chucknorris", "bored", "custom"}

// Preferences is a user's settings record.
type Preferences struct {
	Theme         string `json:"theme"`
	ActiveAPIs    APISet `json:"activeAPIs"`
	Notifications bool   `json:"notifications"`
}

// APISet maps provider keys to whether they are enabled. Keys in
// KnownAPIs always hold a JSON boolean. Any other key is stored and
// returned as the raw JSON it arrived with and is never interpreted.
type APISet map[string]json.RawMessage

var (
	jsonTrue  = json.RawMessage("true")
	jsonFalse = json.RawMessage("false")
)

// Flags builds an APISet from boolean flags.
func Flags(flags map[string]bool) APISet {
	set := make(APISet, len(flags))
	for k, v := range flags {
		set.Set(k, v)
	}
	return set
}

// Set records key as enabled or disabled.
func (s APISet) Set(key string, enabled bool) {
	if enabled {
		s[key] = jsonTrue
	} else {
		s[key] = jsonFalse
	}
}

// Enabled reports whether key holds the JSON value true.
func (s APISet) Enabled(key string) bool {
	b, ok := boolValue(s[key])
	return ok && b
}

func boolValue(raw json.RawMessage) (value, ok bool) {
	switch string(bytes.TrimSpace(raw)) {
	case "true":
		return true, true
	case "false":
		return false, true
	}
	return false, false
}

// checkKnown rejects a known provider key whose value is not a boolean.
func (s APISet) checkKnown() error {
	for _, k := range KnownAPIs {
		raw, ok := s[k]
		if !ok {
			continue
		}
		if _, ok := boolValue(raw); !ok {
			return fmt.Errorf("activeAPIs.%s is not a boolean", k)
		}
	}
	return nil
}

// Default returns the record served to users who have never saved.
func Default() Preferences {
	active := make(APISet, len(KnownAPIs))
	for _, k := range KnownAPIs {
		active.Set(k, true)
	}
	return Preferences{Theme: "dark", ActiveAPIs: active, Notifications: true}
}

// normalize fills in any known provider key the record lacks, or holds
// as something other than a boolean, as enabled. Unknown keys are
// copied through untouched.
func (p Preferences) normalize() Preferences {
	active := make(APISet, len(p.ActiveAPIs)+len(KnownAPIs))
	for k, v := range p.ActiveAPIs {
		active[k] = v
	}
	for _, k := range KnownAPIs {
		if b, ok := boolValue(active[k]); ok {
			active.Set(k, b)
		} else {
			active.Set(k, true)
		}
	}
	p.ActiveAPIs = active
	return p
}

const invalidFormat = "Invalid preferences format"

// Decode reads a full preferences record from a request body. Every
// field is required: a non-empty theme, an activeAPIs object, and a
// boolean notifications flag. Within activeAPIs only the known provider
// keys must be booleans.
func Decode(r io.Reader) (Preferences, error) {
	var raw struct {
		Theme         *string         `json:"theme"`
		ActiveAPIs    json.RawMessage `json:"activeAPIs"`
		Notifications *bool           `json:"notifications"`
	}
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return Preferences{}, apperr.Validation("preferences.decode", invalidFormat)
	}
	if raw.Theme == nil || *raw.Theme == "" || raw.Notifications == nil {
		return Preferences{}, apperr.Validation("preferences.decode", invalidFormat)
	}

	trimmed := bytes.TrimSpace(raw.ActiveAPIs)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Preferences{}, apperr.Validation("preferences.decode", invalidFormat)
	}
	var active APISet
	if err := json.Unmarshal(trimmed, &active); err != nil {
		return Preferences{}, apperr.Validation("preferences.decode", invalidFormat)
	}
	if err := active.checkKnown(); err != nil {
		return Preferences{}, apperr.Validation("preferences.decode", invalidFormat)
	}

	return Preferences{Theme: *raw.Theme, ActiveAPIs: active, Notifications: *raw.Notifications}, nil
}

// Store persists preferences in SQLite.
type Store struct {
	db *sql.DB
}

// NewStore creates a preferences store, running migrations on first use.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate user preferences: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS user_preferences (
			user_id       TEXT PRIMARY KEY,
			theme         TEXT NOT NULL,
			active_apis   TEXT NOT NULL,
			notifications BOOLEAN NOT NULL,
			updated_at    TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`)
	return err
}

// Get returns userID's preferences, or Default when none are stored.
// The default is not written.
func (s *Store) Get(ctx context.Context, userID string) (Preferences, error) {
	var (
		p      Preferences
		active string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT theme, active_apis, notifications FROM user_preferences WHERE user_id = ?`,
		userID,
	).Scan(&p.Theme, &active, &p.Notifications)
	if errors.Is(err, sql.ErrNoRows) {
		return Default(), nil
	}
	if err != nil {
		return Preferences{}, apperr.Persistence("preferences.get", err)
	}

	if err := json.Unmarshal([]byte(active), &p.ActiveAPIs); err != nil {
		return Preferences{}, apperr.Persistence("preferences.get",
			fmt.Errorf("decode active_apis for %s: %w", userID, err))
	}
	return p.normalize(), nil
}

// Save replaces userID's whole record and returns what was stored.
func (s *Store) Save(ctx context.Context, userID string, p Preferences) (Preferences, error) {
	if p.Theme == "" || p.ActiveAPIs == nil || p.ActiveAPIs.checkKnown() != nil {
		return Preferences{}, apperr.Validation("preferences.save", invalidFormat)
	}
	p = p.normalize()

	active, err := json.Marshal(p.ActiveAPIs)
	if err != nil {
		return Preferences{}, fmt.Errorf("encode active_apis: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO user_preferences
			(user_id, theme, active_apis, notifications, updated_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)`,
		userID, p.Theme, string(active), p.Notifications,
	)
	if err != nil {
		return Preferences{}, apperr.Persistence("preferences.save", err)
	}
	return p, nil
}
