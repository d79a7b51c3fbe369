package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/calebturner/arbiter/internal/model"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS telemetry (
    id                 INTEGER PRIMARY KEY AUTOINCREMENT,
    ts                 DATETIME NOT NULL,
    resource_id        TEXT NOT NULL,
    resource_type      TEXT NOT NULL,
    cpu_util           REAL NOT NULL,
    mem_util           REAL NOT NULL,
    gpu_util           REAL NOT NULL,
    net_rtt_ms         REAL NOT NULL,
    net_bw_mbps        REAL NOT NULL,
    price_per_hour_usd REAL NOT NULL,
    reliability        REAL NOT NULL,
    power_w            REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_telemetry_resource_ts ON telemetry(resource_id, ts);

CREATE TABLE IF NOT EXISTS jobs (
    id                   TEXT PRIMARY KEY,
    requirements_json    TEXT NOT NULL,
    status               TEXT NOT NULL,
    attempts             INTEGER NOT NULL DEFAULT 0,
    max_attempts         INTEGER NOT NULL,
    internal_errors      INTEGER NOT NULL DEFAULT 0,
    next_run_at          DATETIME,
    worker_id            TEXT,
    chosen_resource_id   TEXT,
    chosen_resource_type TEXT,
    created_at           DATETIME NOT NULL,
    updated_at           DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_jobs_status_created ON jobs(status, created_at);

CREATE TABLE IF NOT EXISTS job_attempts (
    id                   TEXT PRIMARY KEY,
    job_id               TEXT NOT NULL,
    attempt_no           INTEGER NOT NULL,
    resource_id          TEXT NOT NULL,
    resource_type        TEXT NOT NULL,
    status               TEXT NOT NULL,
    predicted_latency_ms REAL NOT NULL,
    predicted_cost_usd   REAL NOT NULL,
    final_score          REAL NOT NULL,
    sla_ok               INTEGER NOT NULL,
    sla_violations_json  TEXT NOT NULL DEFAULT '[]',
    features_json        TEXT,
    actual_latency_ms    REAL,
    actual_cost_usd      REAL,
    output_ref           TEXT,
    error_class          TEXT,
    error_message        TEXT,
    error_trace          TEXT,
    rerouted_from        TEXT,
    rerouted_to          TEXT,
    started_at           DATETIME NOT NULL,
    finished_at          DATETIME,
    UNIQUE(job_id, attempt_no)
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_one_running_attempt
    ON job_attempts(job_id) WHERE status = 'running';

CREATE TABLE IF NOT EXISTS job_events (
    id      INTEGER PRIMARY KEY AUTOINCREMENT,
    ts      DATETIME NOT NULL,
    job_id  TEXT NOT NULL,
    event   TEXT NOT NULL,
    message TEXT
);
CREATE INDEX IF NOT EXISTS idx_job_events_job_ts ON job_events(job_id, ts);

CREATE TABLE IF NOT EXISTS pricing_cache (
    key                TEXT PRIMARY KEY,
    price_per_hour_usd REAL NOT NULL,
    updated_at         DATETIME NOT NULL
)`

// maxRetryBackoff caps the exponential redispatch delay.
const maxRetryBackoff = 60 * time.Second

// Compile-time interface satisfaction check.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the SQLite database at dbPath and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Each pooled connection to :memory: would get its own empty database.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ---- Telemetry ----

// InsertTelemetry appends one telemetry sample. Snapshots always read the
// newest sample per resource, so inserts are last-writer-wins.
func (s *SQLiteStore) InsertTelemetry(ctx context.Context, p *model.TelemetryPoint) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO telemetry (
			ts, resource_id, resource_type, cpu_util, mem_util, gpu_util,
			net_rtt_ms, net_bw_mbps, price_per_hour_usd, reliability, power_w
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.TS, p.ResourceID, p.ResourceType, p.CPUUtil, p.MemUtil, p.GPUUtil,
		p.NetRTTMS, p.NetBWMbps, p.PricePerHourUSD, p.Reliability, p.PowerW,
	)
	if err != nil {
		return fmt.Errorf("insert telemetry: %w", err)
	}
	return nil
}

const telemetryColumns = `ts, resource_id, resource_type, cpu_util, mem_util, gpu_util,
	net_rtt_ms, net_bw_mbps, price_per_hour_usd, reliability, power_w`

func scanTelemetry(row interface{ Scan(...any) error }) (*model.TelemetryPoint, error) {
	p := &model.TelemetryPoint{}
	err := row.Scan(
		&p.TS, &p.ResourceID, &p.ResourceType, &p.CPUUtil, &p.MemUtil, &p.GPUUtil,
		&p.NetRTTMS, &p.NetBWMbps, &p.PricePerHourUSD, &p.Reliability, &p.PowerW,
	)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// LatestTelemetry returns the most recent sample for a resource.
func (s *SQLiteStore) LatestTelemetry(ctx context.Context, resourceID string) (*model.TelemetryPoint, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+telemetryColumns+` FROM telemetry
		WHERE resource_id = ? ORDER BY ts DESC, id DESC LIMIT 1`, resourceID,
	)
	p, err := scanTelemetry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("latest telemetry: %w", err)
	}
	return p, nil
}

// ListResourceSnapshots returns the newest sample per resource, ordered by
// resource type then id for stable output.
func (s *SQLiteStore) ListResourceSnapshots(ctx context.Context, limit int) ([]model.ResourceSnapshot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT t1.ts, t1.resource_id, t1.resource_type, t1.cpu_util, t1.mem_util, t1.gpu_util,
			t1.net_rtt_ms, t1.net_bw_mbps, t1.price_per_hour_usd, t1.reliability, t1.power_w
		FROM telemetry t1
		INNER JOIN (
			SELECT resource_id, MAX(id) AS max_id
			FROM telemetry
			GROUP BY resource_id
		) t2 ON t1.id = t2.max_id
		ORDER BY t1.resource_type, t1.resource_id
		LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var out []model.ResourceSnapshot
	for rows.Next() {
		p, err := scanTelemetry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		out = append(out, model.ResourceSnapshot{
			ResourceID:   p.ResourceID,
			ResourceType: p.ResourceType,
			Last:         *p,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshots: %w", err)
	}
	return out, nil
}

// ---- Jobs ----

// CreateJob inserts a new job in the queued state. Requirements with no SLA
// threshold are rejected up front and never enter the queue.
func (s *SQLiteStore) CreateJob(ctx context.Context, j *model.Job) error {
	if j.Requirements.SLA.Empty() {
		return ErrInvalidRequirements
	}

	reqJSON, err := json.Marshal(j.Requirements)
	if err != nil {
		return fmt.Errorf("marshal requirements: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO jobs (
			id, requirements_json, status, attempts, max_attempts,
			internal_errors, next_run_at, worker_id,
			chosen_resource_id, chosen_resource_type, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID, string(reqJSON), j.Status, j.Attempts, j.MaxAttempts,
		j.InternalErrors, j.NextRunAt, j.WorkerID,
		j.ChosenResourceID, j.ChosenResourceType, j.CreatedAt, j.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

const jobColumns = `id, requirements_json, status, attempts, max_attempts,
	internal_errors, next_run_at, worker_id,
	chosen_resource_id, chosen_resource_type, created_at, updated_at`

func scanJob(row interface{ Scan(...any) error }) (*model.Job, error) {
	j := &model.Job{}
	var reqJSON string
	var nextRunAt sql.NullTime
	var workerID, resID, resType sql.NullString

	err := row.Scan(
		&j.ID, &reqJSON, &j.Status, &j.Attempts, &j.MaxAttempts,
		&j.InternalErrors, &nextRunAt, &workerID,
		&resID, &resType, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(reqJSON), &j.Requirements); err != nil {
		return nil, fmt.Errorf("unmarshal requirements: %w", err)
	}
	if nextRunAt.Valid {
		t := nextRunAt.Time
		j.NextRunAt = &t
	}
	j.WorkerID = workerID.String
	j.ChosenResourceID = resID.String
	j.ChosenResourceType = resType.String
	return j, nil
}

// GetJob retrieves a job by ID.
func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*model.Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

// ListJobs returns a paginated list of jobs ordered by created_at DESC,
// along with the total count.
func (s *SQLiteStore) ListJobs(ctx context.Context, limit, offset int) ([]*model.Job, int, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, 0, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	var total int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM jobs").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count jobs: %w", err)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate jobs: %w", err)
	}
	return jobs, total, nil
}

// CancelJob moves a non-terminal job to cancelled and returns the updated
// record. Terminal jobs yield ErrInvalidTransition.
func (s *SQLiteStore) CancelJob(ctx context.Context, id string) (*model.Job, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, worker_id = NULL, updated_at = ?
		WHERE id = ? AND status IN (?, ?)`,
		model.StatusCancelled, time.Now().UTC(), id, model.StatusQueued, model.StatusRunning,
	)
	if err != nil {
		return nil, fmt.Errorf("cancel job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		if _, err := s.GetJob(ctx, id); errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, ErrInvalidTransition
	}
	return s.GetJob(ctx, id)
}

// ---- Dispatch state machine ----

// ClaimNext atomically claims the oldest claimable job for workerID. The
// claim is a single conditional UPDATE: two racing workers cannot both win
// the same job, because the losing UPDATE matches zero rows. The claimed
// job's attempt counter is incremented; the new value is the attempt_no for
// the attempt the caller will create once routing succeeds.
func (s *SQLiteStore) ClaimNext(ctx context.Context, workerID string) (*model.Job, error) {
	now := time.Now().UTC()

	var id string
	err := s.db.QueryRowContext(ctx,
		`UPDATE jobs SET
			status = 'running', worker_id = ?2, attempts = attempts + 1,
			next_run_at = NULL, updated_at = ?1
		WHERE id = (
			SELECT id FROM jobs WHERE `+claimableCond("?1")+`
			ORDER BY created_at ASC, id ASC LIMIT 1
		) AND `+claimableCond("?1")+`
		RETURNING id`,
		now, workerID,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoJobs
	}
	if err != nil {
		return nil, fmt.Errorf("claim next job: %w", err)
	}

	return s.GetJob(ctx, id)
}

// claimableCond renders the claimable predicate with the given bind
// placeholder for "now".
func claimableCond(now string) string {
	return `(status = 'queued'
		OR (status = 'running'
			AND (worker_id IS NULL OR worker_id = '')
			AND (next_run_at IS NULL OR next_run_at <= ` + now + `)))`
}

// CreateAttempt inserts a running attempt with its frozen predictions and
// records the chosen resource on the job. The partial unique index on
// running attempts makes a second concurrent running attempt for the same
// job a constraint violation rather than silent corruption.
func (s *SQLiteStore) CreateAttempt(ctx context.Context, a *model.Attempt) error {
	violJSON, err := json.Marshal(a.Violations)
	if err != nil {
		return fmt.Errorf("marshal violations: %w", err)
	}
	if a.Violations == nil {
		violJSON = []byte("[]")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO job_attempts (
			id, job_id, attempt_no, resource_id, resource_type, status,
			predicted_latency_ms, predicted_cost_usd, final_score, sla_ok,
			sla_violations_json, features_json, rerouted_from, rerouted_to,
			started_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.JobID, a.AttemptNo, a.ResourceID, a.ResourceType, a.Status,
		a.PredictedLatencyMS, a.PredictedCostUSD, a.FinalScore, boolToInt(a.SLAOK),
		string(violJSON), nullString(a.FeaturesJSON), nullString(a.ReroutedFrom),
		nullString(a.ReroutedTo), a.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("insert attempt: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE jobs SET chosen_resource_id = ?, chosen_resource_type = ?, updated_at = ?
		WHERE id = ?`,
		a.ResourceID, a.ResourceType, time.Now().UTC(), a.JobID,
	)
	if err != nil {
		return fmt.Errorf("record chosen resource: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit attempt: %w", err)
	}
	return nil
}

// ResolveAttempt applies an execution outcome to a running attempt and its
// job. Completed and failed outcomes are terminal for both. A retryable
// outcome marks the attempt retry and, while the budget lasts, unbinds the
// job for redispatch after an exponential backoff; once the budget is
// exhausted (or an internal error has already been retried once) it fails
// the job instead. Resolving a finalized attempt returns ErrAlreadyFinalized.
func (s *SQLiteStore) ResolveAttempt(ctx context.Context, attemptID string, outcome Outcome) (*Resolution, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	a, err := getAttempt(ctx, tx, attemptID)
	if err != nil {
		return nil, err
	}
	if a.Finalized() {
		return nil, ErrAlreadyFinalized
	}

	row := tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, a.JobID)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}

	now := time.Now().UTC()
	res := &Resolution{}

	switch outcome.Kind {
	case OutcomeCompleted:
		_, err = tx.ExecContext(ctx,
			`UPDATE job_attempts SET status = ?, finished_at = ?,
				actual_latency_ms = ?, actual_cost_usd = ?, output_ref = ?
			WHERE id = ?`,
			model.AttemptCompleted, now,
			outcome.ActualLatencyMS, outcome.ActualCostUSD, nullString(outcome.OutputRef),
			attemptID,
		)
		if err != nil {
			return nil, fmt.Errorf("complete attempt: %w", err)
		}
		if err := setJobStatus(ctx, tx, j.ID, model.StatusCompleted, now); err != nil {
			return nil, err
		}
		res.JobStatus = model.StatusCompleted

	case OutcomeFailed:
		if err := failAttempt(ctx, tx, attemptID, outcome, now); err != nil {
			return nil, err
		}
		if err := setJobStatus(ctx, tx, j.ID, model.StatusFailed, now); err != nil {
			return nil, err
		}
		res.JobStatus = model.StatusFailed

	case OutcomeRetryable:
		internal := outcome.ErrorClass == model.ErrClassInternalError
		exhausted := j.Attempts >= j.MaxAttempts || (internal && j.InternalErrors >= 1)

		if exhausted {
			if err := failAttempt(ctx, tx, attemptID, outcome, now); err != nil {
				return nil, err
			}
			if err := setJobStatus(ctx, tx, j.ID, model.StatusFailed, now); err != nil {
				return nil, err
			}
			res.JobStatus = model.StatusFailed
			break
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE job_attempts SET status = ?, finished_at = ?,
				error_class = ?, error_message = ?, error_trace = ?
			WHERE id = ?`,
			model.AttemptRetry, now,
			outcome.ErrorClass, outcome.ErrorMessage, outcome.ErrorTrace,
			attemptID,
		)
		if err != nil {
			return nil, fmt.Errorf("mark attempt retry: %w", err)
		}

		nextRun := now.Add(retryBackoff(j.Attempts))
		internalBump := 0
		if internal {
			internalBump = 1
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE jobs SET worker_id = NULL, next_run_at = ?,
				internal_errors = internal_errors + ?, updated_at = ?
			WHERE id = ?`,
			nextRun, internalBump, now, j.ID,
		)
		if err != nil {
			return nil, fmt.Errorf("requeue job: %w", err)
		}
		res.JobStatus = model.StatusRunning
		res.Retried = true
		res.NextRunAt = nextRun

	default:
		return nil, fmt.Errorf("unknown outcome kind %q", outcome.Kind)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit resolution: %w", err)
	}
	return res, nil
}

// FailJob marks a job failed without an attempt record. Used when routing
// fails before any attempt can be created (e.g. no eligible resources).
func (s *SQLiteStore) FailJob(ctx context.Context, jobID, errorClass, message string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, worker_id = NULL, updated_at = ?
		WHERE id = ? AND status IN (?, ?)`,
		model.StatusFailed, time.Now().UTC(), jobID, model.StatusQueued, model.StatusRunning,
	)
	if err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return s.AddJobEvent(ctx, jobID, model.EventFailed, errorClass+": "+message)
}

// SweepStale recovers work abandoned by dead workers and returns the
// affected job IDs. Running attempts older than the heartbeat deadline are
// resolved as retryable timeouts. Jobs claimed by a worker that died before
// inserting the attempt row (bound worker, no running attempt) are unbound
// and made claimable again, rolling back the pre-incremented attempt counter
// so the next claim reuses the same attempt_no.
func (s *SQLiteStore) SweepStale(ctx context.Context, olderThan time.Duration) ([]string, error) {
	cutoff := time.Now().UTC().Add(-olderThan)

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, job_id FROM job_attempts WHERE status = ? AND started_at < ?`,
		model.AttemptRunning, cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("find stale attempts: %w", err)
	}

	type stale struct{ attemptID, jobID string }
	var found []stale
	for rows.Next() {
		var st stale
		if err := rows.Scan(&st.attemptID, &st.jobID); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan stale attempt: %w", err)
		}
		found = append(found, st)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stale attempts: %w", err)
	}

	var swept []string
	for _, st := range found {
		_, err := s.ResolveAttempt(ctx, st.attemptID, Outcome{
			Kind:         OutcomeRetryable,
			ErrorClass:   model.ErrClassTimeout,
			ErrorMessage: fmt.Sprintf("attempt abandoned: running longer than %s with no live worker", olderThan),
		})
		if errors.Is(err, ErrAlreadyFinalized) {
			continue
		}
		if err != nil {
			return swept, fmt.Errorf("sweep attempt %s: %w", st.attemptID, err)
		}
		swept = append(swept, st.jobID)
	}

	orphans, err := s.db.QueryContext(ctx,
		`UPDATE jobs SET worker_id = NULL, attempts = attempts - 1, updated_at = ?
		WHERE status = 'running'
			AND worker_id IS NOT NULL AND worker_id != ''
			AND updated_at < ?
			AND NOT EXISTS (
				SELECT 1 FROM job_attempts a
				WHERE a.job_id = jobs.id AND a.status = ?
			)
		RETURNING id`,
		time.Now().UTC(), cutoff, model.AttemptRunning,
	)
	if err != nil {
		return swept, fmt.Errorf("recover orphaned claims: %w", err)
	}
	for orphans.Next() {
		var jobID string
		if err := orphans.Scan(&jobID); err != nil {
			orphans.Close()
			return swept, fmt.Errorf("scan orphaned claim: %w", err)
		}
		swept = append(swept, jobID)
	}
	orphans.Close()
	if err := orphans.Err(); err != nil {
		return swept, fmt.Errorf("iterate orphaned claims: %w", err)
	}
	return swept, nil
}

// ---- Attempts and events ----

const attemptColumns = `id, job_id, attempt_no, resource_id, resource_type, status,
	predicted_latency_ms, predicted_cost_usd, final_score, sla_ok,
	sla_violations_json, features_json, actual_latency_ms, actual_cost_usd,
	output_ref, error_class, error_message, error_trace,
	rerouted_from, rerouted_to, started_at, finished_at`

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getAttempt(ctx context.Context, q querier, id string) (*model.Attempt, error) {
	row := q.QueryRowContext(ctx, `SELECT `+attemptColumns+` FROM job_attempts WHERE id = ?`, id)
	a, err := scanAttempt(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get attempt: %w", err)
	}
	return a, nil
}

func scanAttempt(row interface{ Scan(...any) error }) (*model.Attempt, error) {
	a := &model.Attempt{}
	var slaOK int
	var violJSON string
	var features, outputRef, errClass, errMsg, errTrace, rerFrom, rerTo sql.NullString
	var actualLat, actualCost sql.NullFloat64
	var finishedAt sql.NullTime

	err := row.Scan(
		&a.ID, &a.JobID, &a.AttemptNo, &a.ResourceID, &a.ResourceType, &a.Status,
		&a.PredictedLatencyMS, &a.PredictedCostUSD, &a.FinalScore, &slaOK,
		&violJSON, &features, &actualLat, &actualCost,
		&outputRef, &errClass, &errMsg, &errTrace,
		&rerFrom, &rerTo, &a.StartedAt, &finishedAt,
	)
	if err != nil {
		return nil, err
	}

	a.SLAOK = slaOK != 0
	if err := json.Unmarshal([]byte(violJSON), &a.Violations); err != nil {
		return nil, fmt.Errorf("unmarshal violations: %w", err)
	}
	a.FeaturesJSON = features.String
	if actualLat.Valid {
		v := actualLat.Float64
		a.ActualLatencyMS = &v
	}
	if actualCost.Valid {
		v := actualCost.Float64
		a.ActualCostUSD = &v
	}
	if outputRef.Valid {
		v := outputRef.String
		a.OutputRef = &v
	}
	a.ErrorClass = errClass.String
	a.ErrorMessage = errMsg.String
	a.ErrorTrace = errTrace.String
	a.ReroutedFrom = rerFrom.String
	a.ReroutedTo = rerTo.String
	if finishedAt.Valid {
		t := finishedAt.Time
		a.FinishedAt = &t
	}
	return a, nil
}

// GetAttempt retrieves one attempt by ID.
func (s *SQLiteStore) GetAttempt(ctx context.Context, id string) (*model.Attempt, error) {
	return getAttempt(ctx, s.db, id)
}

// ListAttempts returns all attempts for a job ordered by attempt_no.
func (s *SQLiteStore) ListAttempts(ctx context.Context, jobID string) ([]*model.Attempt, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+attemptColumns+` FROM job_attempts WHERE job_id = ? ORDER BY attempt_no ASC`,
		jobID,
	)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	defer rows.Close()

	attempts := []*model.Attempt{}
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		attempts = append(attempts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attempts: %w", err)
	}
	return attempts, nil
}

// AddJobEvent appends one entry to a job's event log.
func (s *SQLiteStore) AddJobEvent(ctx context.Context, jobID, event, message string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO job_events (ts, job_id, event, message) VALUES (?, ?, ?, ?)`,
		time.Now().UTC(), jobID, event, message,
	)
	if err != nil {
		return fmt.Errorf("insert job event: %w", err)
	}
	return nil
}

// ListJobEvents returns a job's event log, newest first.
func (s *SQLiteStore) ListJobEvents(ctx context.Context, jobID string, limit int) ([]model.JobEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, ts, job_id, event, message FROM job_events
		WHERE job_id = ? ORDER BY ts DESC, id DESC LIMIT ?`,
		jobID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list job events: %w", err)
	}
	defer rows.Close()

	events := []model.JobEvent{}
	for rows.Next() {
		var e model.JobEvent
		var msg sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.JobID, &e.Event, &msg); err != nil {
			return nil, fmt.Errorf("scan job event: %w", err)
		}
		e.Message = msg.String
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate job events: %w", err)
	}
	return events, nil
}

// ---- Projections ----

// ListSLAEvents returns attempts dispatched with SLA violations, newest first.
func (s *SQLiteStore) ListSLAEvents(ctx context.Context, limit int) ([]SLAEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, job_id, resource_id, resource_type,
			predicted_latency_ms, predicted_cost_usd, sla_violations_json, started_at
		FROM job_attempts
		WHERE sla_ok = 0
		ORDER BY started_at DESC, id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list sla events: %w", err)
	}
	defer rows.Close()

	events := []SLAEvent{}
	for rows.Next() {
		var e SLAEvent
		var violJSON string
		if err := rows.Scan(&e.AttemptID, &e.JobID, &e.ResourceID, &e.ResourceType,
			&e.PredictedLatencyMS, &e.PredictedCostUSD, &violJSON, &e.StartedAt); err != nil {
			return nil, fmt.Errorf("scan sla event: %w", err)
		}
		if err := json.Unmarshal([]byte(violJSON), &e.Violations); err != nil {
			return nil, fmt.Errorf("unmarshal violations: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sla events: %w", err)
	}
	return events, nil
}

// GetStats computes job counts by status and the mean absolute error of
// latency/cost predictions over completed attempts.
func (s *SQLiteStore) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{CountByStatus: make(map[string]int)}

	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count jobs by status: %w", err)
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		stats.CountByStatus[status] = n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate status counts: %w", err)
	}

	var latMAE, costMAE sql.NullFloat64
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
			AVG(ABS(actual_latency_ms - predicted_latency_ms)),
			AVG(ABS(actual_cost_usd - predicted_cost_usd))
		FROM job_attempts
		WHERE status = ? AND actual_latency_ms IS NOT NULL`,
		model.AttemptCompleted,
	).Scan(&stats.CompletedAttempts, &latMAE, &costMAE)
	if err != nil {
		return nil, fmt.Errorf("prediction accuracy: %w", err)
	}
	stats.LatencyMAEMS = latMAE.Float64
	stats.CostMAEUSD = costMAE.Float64

	return stats, nil
}

// ---- Pricing cache ----

// GetCachedPrice returns the cached hourly price for key, with its
// last-update time.
func (s *SQLiteStore) GetCachedPrice(ctx context.Context, key string) (float64, time.Time, error) {
	var price float64
	var updatedAt time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT price_per_hour_usd, updated_at FROM pricing_cache WHERE key = ?`, key,
	).Scan(&price, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, time.Time{}, ErrNotFound
	}
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("get cached price: %w", err)
	}
	return price, updatedAt, nil
}

// SetCachedPrice upserts the hourly price for key.
func (s *SQLiteStore) SetCachedPrice(ctx context.Context, key string, pricePerHourUSD float64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pricing_cache (key, price_per_hour_usd, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			price_per_hour_usd = excluded.price_per_hour_usd,
			updated_at = excluded.updated_at`,
		key, pricePerHourUSD, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("set cached price: %w", err)
	}
	return nil
}

// ---- helpers ----

func setJobStatus(ctx context.Context, tx *sql.Tx, jobID, status string, now time.Time) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE jobs SET status = ?, worker_id = NULL, next_run_at = NULL, updated_at = ?
		WHERE id = ?`,
		status, now, jobID,
	)
	if err != nil {
		return fmt.Errorf("set job status %s: %w", status, err)
	}
	return nil
}

func failAttempt(ctx context.Context, tx *sql.Tx, attemptID string, outcome Outcome, now time.Time) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE job_attempts SET status = ?, finished_at = ?,
			error_class = ?, error_message = ?, error_trace = ?
		WHERE id = ?`,
		model.AttemptFailed, now,
		outcome.ErrorClass, outcome.ErrorMessage, outcome.ErrorTrace,
		attemptID,
	)
	if err != nil {
		return fmt.Errorf("fail attempt: %w", err)
	}
	return nil
}

// retryBackoff computes the redispatch delay after the nth attempt:
// 2^n seconds capped at maxRetryBackoff.
func retryBackoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	d := time.Duration(1<<uint(attempts)) * time.Second
	if d > maxRetryBackoff {
		return maxRetryBackoff
	}
	return d
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
