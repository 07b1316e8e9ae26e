package database

// Message queries
const (
	InsertMessageQuery = `
		INSERT INTO messages (
			id, from_user_id, to_user_id, text, message_type, media_url,
			seen, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?)
	`

	messageColumns = `id, from_user_id, to_user_id, text, message_type, media_url, seen, created_at, updated_at`

	SelectTranscriptQuery = `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE (from_user_id = ? AND to_user_id = ?)
		   OR (from_user_id = ? AND to_user_id = ?)
		ORDER BY created_at ASC, seq ASC
	`

	MarkSeenQuery = `
		UPDATE messages
		SET seen = 1, updated_at = ?
		WHERE to_user_id = ? AND from_user_id = ? AND seen = 0
	`

	// One row per sender: the newest message that sender sent to the user.
	SelectRecentConversationsQuery = `
		SELECT ` + messageColumns + `
		FROM messages m
		WHERE m.to_user_id = ?
		  AND m.seq = (
			SELECT m2.seq FROM messages m2
			WHERE m2.to_user_id = m.to_user_id AND m2.from_user_id = m.from_user_id
			ORDER BY m2.created_at DESC, m2.seq DESC
			LIMIT 1
		  )
		ORDER BY m.created_at DESC, m.seq DESC
	`

	CountUnseenQuery = `
		SELECT COUNT(*) FROM messages WHERE to_user_id = ? AND seen = 0
	`
)

// Directory queries
const (
	SelectUserProfileQuery = `
		SELECT id, email, full_name, username, profile_picture
		FROM users
		WHERE id = ?
	`

	UpsertUserProfileQuery = `
		INSERT INTO users (id, email, full_name, username, profile_picture, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			email = excluded.email,
			full_name = excluded.full_name,
			username = excluded.username,
			profile_picture = excluded.profile_picture,
			updated_at = excluded.updated_at
	`

	UsernameTakenQuery = `
		SELECT EXISTS(SELECT 1 FROM users WHERE username = ? AND id != ?)
	`

	DeleteUserProfileQuery = `
		DELETE FROM users WHERE id = ?
	`

	SelectConnectionQuery = `
		SELECT id, from_user_id, to_user_id, status, created_at
		FROM connections
		WHERE id = ?
	`

	UpsertConnectionQuery = `
		INSERT INTO connections (id, from_user_id, to_user_id, status, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET status = excluded.status
	`
)

// Workflow queries
const (
	runColumns = `id, workflow_type, dedupe_key, status, payload, output, error,
		resume_at, locked_until, attempts, created_at, updated_at`

	InsertRunQuery = `
		INSERT INTO workflow_runs (
			id, workflow_type, dedupe_key, status, payload,
			attempts, created_at, updated_at
		) VALUES (?, ?, ?, 'created', ?, 0, ?, ?)
		ON CONFLICT(dedupe_key) DO NOTHING
	`

	SelectRunQuery = `SELECT ` + runColumns + ` FROM workflow_runs WHERE id = ?`

	SelectRunByDedupeKeyQuery = `SELECT ` + runColumns + ` FROM workflow_runs WHERE dedupe_key = ?`

	// A run is due when it is waiting to start, was abandoned mid-execution
	// by a crashed process (lease expired), or its wake time has passed.
	SelectDueRunIDsQuery = `
		SELECT id FROM workflow_runs
		WHERE (locked_until IS NULL OR locked_until <= ?)
		  AND (
			status IN ('created', 'running')
			OR (status = 'suspended' AND resume_at <= ?)
		  )
		ORDER BY COALESCE(resume_at, created_at) ASC
		LIMIT ?
	`

	ClaimRunQuery = `
		UPDATE workflow_runs
		SET status = 'running', locked_until = ?, lock_owner = ?,
			attempts = attempts + 1, updated_at = ?
		WHERE id = ?
		  AND (locked_until IS NULL OR locked_until <= ?)
		  AND (
			status IN ('created', 'running')
			OR (status = 'suspended' AND resume_at <= ?)
		  )
	`

	ExtendLeaseQuery = `
		UPDATE workflow_runs SET locked_until = ?
		WHERE id = ? AND lock_owner = ? AND status = 'running'
	`

	SuspendRunQuery = `
		UPDATE workflow_runs
		SET status = 'suspended', resume_at = ?, locked_until = NULL,
			lock_owner = NULL, updated_at = ?
		WHERE id = ? AND lock_owner = ? AND status = 'running'
	`

	CompleteRunQuery = `
		UPDATE workflow_runs
		SET status = 'completed', output = ?, resume_at = NULL,
			locked_until = NULL, lock_owner = NULL, updated_at = ?
		WHERE id = ? AND lock_owner = ? AND status = 'running'
	`

	FailRunQuery = `
		UPDATE workflow_runs
		SET status = 'failed', error = ?, resume_at = NULL,
			locked_until = NULL, lock_owner = NULL, updated_at = ?
		WHERE id = ? AND lock_owner = ? AND status = 'running'
	`

	ReleaseRunQuery = `
		UPDATE workflow_runs
		SET locked_until = NULL, lock_owner = NULL, updated_at = ?
		WHERE id = ? AND lock_owner = ? AND status = 'running'
	`

	// First write wins; a step record is never overwritten.
	InsertStepQuery = `
		INSERT INTO workflow_steps (run_id, name, output, attempts, completed_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(run_id, name) DO NOTHING
	`

	SelectStepQuery = `
		SELECT run_id, name, output, attempts, completed_at
		FROM workflow_steps
		WHERE run_id = ? AND name = ?
	`

	SelectStepsQuery = `
		SELECT run_id, name, output, attempts, completed_at
		FROM workflow_steps
		WHERE run_id = ?
		ORDER BY completed_at ASC, rowid ASC
	`

	CountRunsByStatusQuery = `
		SELECT status, COUNT(*) FROM workflow_runs GROUP BY status
	`

	DeleteStepsOfFinishedRunsQuery = `
		DELETE FROM workflow_steps WHERE run_id IN (
			SELECT id FROM workflow_runs
			WHERE status IN ('completed', 'failed') AND updated_at < ?
		)
	`

	DeleteFinishedRunsQuery = `
		DELETE FROM workflow_runs
		WHERE status IN ('completed', 'failed') AND updated_at < ?
	`
)
