package db

const (
	ListKnownGood = `SELECT printer_id FROM known_good_printers ORDER BY position ASC`

	ClearKnownGood = `DELETE FROM known_good_printers`

	InsertKnownGood = `INSERT INTO known_good_printers (position, printer_id) VALUES (?, ?)`
)

const (
	jobColumns = `id, printer_id, name, document_path, document_name, mime_type, copies, submitted_by, state, reason, created_at, updated_at, finished_at`

	InsertJob = `
		INSERT INTO print_jobs (id, printer_id, name, document_path, document_name, mime_type, copies, submitted_by, state, reason, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	GetJobByID = `SELECT ` + jobColumns + ` FROM print_jobs WHERE id = ?`

	UpdateJobState = `
		UPDATE print_jobs SET state = ?, reason = ?, updated_at = ?, finished_at = COALESCE(?, finished_at) WHERE id = ?
	`

	DeleteJobsBefore = `
		DELETE FROM print_jobs WHERE finished_at IS NOT NULL AND finished_at < ?
	`

	ListFinishedDocumentsBefore = `
		SELECT document_path FROM print_jobs WHERE finished_at IS NOT NULL AND finished_at < ?
	`
)

const (
	GetSetting = `SELECT value FROM settings WHERE key = ?`

	SetSetting = `
		INSERT INTO settings (key, value, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP
	`

	DeleteSetting = `DELETE FROM settings WHERE key = ?`
)
