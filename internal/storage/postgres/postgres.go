package postgres

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

// RunRow represents one generation run stored in Postgres.
type RunRow struct {
	RunID         string                   `json:"run_id"`
	Timestamp     time.Time                `json:"ts"`
	Command       string                   `json:"command"`
	SpecHash      string                   `json:"spec_hash"`
	ScenarioCount int                      `json:"scenario_count"`
	OK            bool                     `json:"ok"`
	Artifacts     []string                 `json:"artifacts,omitempty"`
	Events        []map[string]interface{} `json:"events,omitempty"`
}

// Params locates the ledger database. DSN wins over the discrete fields.
type Params struct {
	DSN      string
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// ConnString builds the lib/pq connection string, applying defaults for
// unset fields.
func (p Params) ConnString() string {
	if p.DSN != "" {
		return p.DSN
	}

	host := withDefault(p.Host, "127.0.0.1")
	port := "5432"
	if p.Port > 0 {
		port = fmt.Sprint(p.Port)
	}
	user := withDefault(p.User, "zacus")
	dbname := withDefault(p.DBName, "zacus")
	sslmode := withDefault(p.SSLMode, "disable")

	parts := []string{
		"host=" + quote(host),
		"port=" + port,
		"user=" + quote(user),
	}
	if p.Password != "" {
		parts = append(parts, "password="+quote(p.Password))
	}
	parts = append(parts, "dbname="+quote(dbname), "sslmode="+quote(sslmode))
	return strings.Join(parts, " ")
}

// Redacted is ConnString with any password masked, for logs.
func (p Params) Redacted() string {
	if p.DSN != "" {
		return "dsn=<set>"
	}
	q := p
	if q.Password != "" {
		q.Password = "****"
	}
	return q.ConnString()
}

func withDefault(v, def string) string {
	if v != "" {
		return v
	}
	return def
}

// quote escapes a keyword/value connection parameter.
func quote(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

// Client manages the Postgres connection for the generation ledger.
type Client struct {
	db *sql.DB
}

// New opens the ledger and creates its table.
func New(p Params) (*Client, error) {
	db, err := sql.Open("postgres", p.ConnString())
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	client := &Client{db: db}

	if err := client.createTable(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create storygen_runs table: %w", err)
	}

	return client, nil
}

func (c *Client) createTable() error {
	query := `
		CREATE TABLE IF NOT EXISTS storygen_runs (
			run_id         TEXT PRIMARY KEY,
			ts             TIMESTAMPTZ NOT NULL,
			command        TEXT NOT NULL,
			spec_hash      TEXT,
			scenario_count INTEGER NOT NULL DEFAULT 0,
			ok             BOOLEAN NOT NULL,
			artifacts      JSONB,
			events         JSONB
		);
		CREATE INDEX IF NOT EXISTS idx_storygen_runs_ts ON storygen_runs(ts DESC);
	`
	_, err := c.db.Exec(query)
	return err
}

// Record inserts a run into the ledger.
func (c *Client) Record(run RunRow) error {
	args, err := insertArgs(run)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO storygen_runs (run_id, ts, command, spec_hash, scenario_count, ok, artifacts, events)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err = c.db.Exec(query, args...)
	return err
}

// insertArgs converts a run to the positional INSERT arguments. Empty
// JSON columns are passed as untyped nil so they are stored as NULL.
func insertArgs(run RunRow) ([]interface{}, error) {
	var artifacts, evts interface{}
	if run.Artifacts != nil {
		b, err := json.Marshal(run.Artifacts)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal artifacts: %w", err)
		}
		artifacts = b
	}
	if run.Events != nil {
		b, err := json.Marshal(run.Events)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal events: %w", err)
		}
		evts = b
	}

	var hashPtr *string
	if run.SpecHash != "" {
		hashPtr = &run.SpecHash
	}

	return []interface{}{
		run.RunID, run.Timestamp.UTC(), run.Command, hashPtr,
		run.ScenarioCount, run.OK, artifacts, evts,
	}, nil
}

// Query returns the last N runs in descending order by timestamp.
func (c *Client) Query(limit int) ([]RunRow, error) {
	limit = clampLimit(limit)

	query := `
		SELECT run_id, ts, command, spec_hash, scenario_count, ok, artifacts, events
		FROM storygen_runs
		ORDER BY ts DESC
		LIMIT $1
	`
	rows, err := c.db.Query(query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []RunRow
	for rows.Next() {
		var r RunRow
		var artifactsJSON, eventsJSON []byte
		var hash sql.NullString

		if err := rows.Scan(&r.RunID, &r.Timestamp, &r.Command, &hash, &r.ScenarioCount, &r.OK, &artifactsJSON, &eventsJSON); err != nil {
			return nil, err
		}

		if hash.Valid {
			r.SpecHash = hash.String
		}
		if len(artifactsJSON) > 0 {
			if err := json.Unmarshal(artifactsJSON, &r.Artifacts); err != nil {
				return nil, fmt.Errorf("failed to unmarshal artifacts: %w", err)
			}
		}
		if len(eventsJSON) > 0 {
			if err := json.Unmarshal(eventsJSON, &r.Events); err != nil {
				return nil, fmt.Errorf("failed to unmarshal events: %w", err)
			}
		}

		runs = append(runs, r)
	}

	return runs, rows.Err()
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 20
	}
	if limit > 10000 {
		return 10000
	}
	return limit
}

// Close closes the database connection.
func (c *Client) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}
