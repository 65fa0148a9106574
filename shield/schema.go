package shield

import "database/sql"

// Schema is the maintenance flag table read by MaintenanceMode. It is
// idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS maintenance (
    id      INTEGER PRIMARY KEY CHECK (id = 1),
    active  INTEGER NOT NULL DEFAULT 0,
    message TEXT NOT NULL DEFAULT 'The service is under maintenance. Please try again shortly.'
);

INSERT OR IGNORE INTO maintenance (id, active) VALUES (1, 0);
`

// Init creates the shield tables if they don't exist.
func Init(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}
