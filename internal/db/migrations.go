package db

import (
	"database/sql"
	"fmt"
)

func Migrate(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return err
	}
	return addMissingColumns(db, "bookings", bookingAttributionColumns)
}

// Added after the first release; older databases get them via ALTER TABLE.
var bookingAttributionColumns = [][2]string{
	{"attribution_action", "TEXT"},
	{"attribution_minutes_ago", "INTEGER"},
	{"attribution_neighborhood", "TEXT"},
	{"attribution_click_id", "INTEGER"},
	{"attribution_clicked_at", "DATETIME"},
}

func addMissingColumns(db *sql.DB, table string, columns [][2]string) error {
	rows, err := db.Query(`SELECT name FROM pragma_table_info(?)`, table)
	if err != nil {
		return fmt.Errorf("read %s columns: %w", table, err)
	}
	have := map[string]bool{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return fmt.Errorf("scan %s column: %w", table, err)
		}
		have[name] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, c := range columns {
		if have[c[0]] {
			continue
		}
		if _, err := db.Exec(fmt.Sprintf(`ALTER TABLE %s ADD COLUMN %s %s`, table, c[0], c[1])); err != nil {
			return fmt.Errorf("add %s.%s: %w", table, c[0], err)
		}
	}
	return nil
}

// click_events is append-only. Nullable columns are tolerated on read so
// rows written by older trackers never break a scan.
const schema = `
CREATE TABLE IF NOT EXISTS click_events (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    created_at    DATETIME NOT NULL,
    action        TEXT     NOT NULL,
    domain        TEXT     NOT NULL DEFAULT '',
    referrer      TEXT,
    session_id    TEXT,
    visitor_ip    TEXT,
    device        TEXT,
    page          TEXT,
    time_on_page  INTEGER,
    final_time    INTEGER,
    scroll_depth  INTEGER,
    final_scroll  INTEGER,
    ref_code      TEXT,
    form_step     TEXT
);

CREATE INDEX IF NOT EXISTS idx_click_events_created_at ON click_events(created_at);
CREATE INDEX IF NOT EXISTS idx_click_events_domain_created_at ON click_events(domain, created_at);

CREATE TABLE IF NOT EXISTS clients (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    name        TEXT    NOT NULL DEFAULT '',
    address     TEXT    NOT NULL DEFAULT '',
    created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS bookings (
    id                      INTEGER PRIMARY KEY AUTOINCREMENT,
    client_id               INTEGER NOT NULL,
    created_at              DATETIME NOT NULL,
    attributed_domain       TEXT,
    attribution_confidence  INTEGER,
    attributed_at           DATETIME,
    attribution_action        TEXT,
    attribution_minutes_ago   INTEGER,
    attribution_neighborhood  TEXT,
    attribution_click_id      INTEGER,
    attribution_clicked_at    DATETIME,
    FOREIGN KEY (client_id) REFERENCES clients(id)
);

CREATE INDEX IF NOT EXISTS idx_bookings_client_id ON bookings(client_id);

CREATE TABLE IF NOT EXISTS notifications (
    id          TEXT PRIMARY KEY,
    kind        TEXT NOT NULL,
    message     TEXT NOT NULL,
    created_at  DATETIME NOT NULL
);
`
