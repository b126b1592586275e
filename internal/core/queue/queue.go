package queue

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/archipelago-lobby/lobby/internal/core"
	"github.com/archipelago-lobby/lobby/internal/database/postgres"
)

// Queue is the durable work-queue broker from spec §4.6. Every operation is
// a single database transaction (spec §5's suspension-point list), mirroring
// the teacher's PostgresPool.Begin/Exec usage in
// internal/database/postgres/pool.go.
type Queue struct {
	db       postgres.DatabaseConnection
	logger   *slog.Logger
	tokens   TokenSet
	policies map[QueueName]Policy
	metrics  *Metrics
}

// New builds a Queue against db. tokens authenticates worker calls per
// queue; logger is required context for every transition (spec §7:
// "the queue core never swallows errors silently").
func New(db postgres.DatabaseConnection, tokens TokenSet, logger *slog.Logger, metrics *Metrics) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &Queue{
		db:       db,
		logger:   logger.With("component", "queue"),
		tokens:   tokens,
		policies: make(map[QueueName]Policy),
		metrics:  metrics,
	}
}

// SetPolicy configures the retry/lease policy for queue; queues not
// configured fall back to DefaultPolicy().
func (q *Queue) SetPolicy(queue QueueName, p Policy) {
	q.policies[queue] = p
}

func (q *Queue) policyFor(queue QueueName) Policy {
	if p, ok := q.policies[queue]; ok {
		return p
	}
	return DefaultPolicy()
}

// Submit enqueues payload on queue. If dedupeKey is non-empty and a job
// with the same (queue, dedupe_key) was submitted within the retention
// window, the existing job id is returned and no new job is created
// (spec §4.6 submit, S1).
func (q *Queue) Submit(ctx context.Context, queueName QueueName, payload []byte, dedupeKey string) (uuid.UUID, error) {
	const op = "queue.submit"

	tx, err := q.db.Begin(ctx)
	if err != nil {
		return uuid.Nil, core.NewError(core.KindTransient, op, "begin transaction", err)
	}
	defer tx.Rollback(ctx)

	if dedupeKey != "" {
		var existing uuid.UUID
		row := tx.QueryRow(ctx,
			`SELECT job_id FROM job_dedupe WHERE queue = $1 AND dedupe_key = $2 AND created_at > $3`,
			string(queueName), dedupeKey, time.Now().Add(-dedupeRetention))
		switch err := row.Scan(&existing); {
		case err == nil:
			q.logger.Debug("submit deduped", "queue", queueName, "job_id", existing)
			return existing, nil
		case errors.Is(err, pgx.ErrNoRows):
			// fall through to insert
		default:
			return uuid.Nil, core.NewError(core.KindTransient, op, "dedupe lookup", err)
		}
	}

	policy := q.policyFor(queueName)
	id := uuid.New()
	now := time.Now()

	if _, err := tx.Exec(ctx,
		`INSERT INTO jobs (id, queue, payload, state, attempts, max_attempts, next_visible_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, 0, $5, $6, $6, $6)`,
		id, string(queueName), payload, string(StatePending), policy.MaxAttempts, now); err != nil {
		return uuid.Nil, core.NewError(core.KindTransient, op, "insert job", err)
	}

	if dedupeKey != "" {
		if _, err := tx.Exec(ctx,
			`INSERT INTO job_dedupe (queue, dedupe_key, job_id, created_at) VALUES ($1, $2, $3, $4)`,
			string(queueName), dedupeKey, id, now); err != nil {
			return uuid.Nil, core.NewError(core.KindTransient, op, "insert dedupe row", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return uuid.Nil, core.NewError(core.KindTransient, op, "commit", err)
	}

	q.logger.Info("job submitted", "queue", queueName, "job_id", id)
	return id, nil
}

// dedupeRetention is spec §9's Open Question decision: 24h, the reasonable
// default the spec invites an implementer to pick.
const dedupeRetention = 24 * time.Hour

// Reserve atomically claims the oldest visible Pending job on queueName
// (spec §4.6 reserve). Returns (nil, nil) when no work is available — the
// HTTP layer maps that to 204, per spec §6.
func (q *Queue) Reserve(ctx context.Context, queueName QueueName, workerID, token string, leaseMs int64) (*Job, error) {
	const op = "queue.reserve"

	if !q.tokens.Check(queueName, token) {
		q.metrics.ReservationsTotal.WithLabelValues(string(queueName), "unauthorized").Inc()
		return nil, core.NewError(core.KindUnauthorized, op, "bad queue token", nil)
	}

	tx, err := q.db.Begin(ctx)
	if err != nil {
		return nil, core.NewError(core.KindTransient, op, "begin transaction", err)
	}
	defer tx.Rollback(ctx)

	var id uuid.UUID
	row := tx.QueryRow(ctx,
		`SELECT id FROM jobs
		 WHERE queue = $1 AND state = $2 AND next_visible_at <= $3
		 ORDER BY next_visible_at, created_at
		 LIMIT 1 FOR UPDATE SKIP LOCKED`,
		string(queueName), string(StatePending), time.Now())
	if err := row.Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			q.metrics.ReservationsTotal.WithLabelValues(string(queueName), "empty").Inc()
			return nil, nil
		}
		return nil, core.NewError(core.KindTransient, op, "select candidate", err)
	}

	policy := q.policyFor(queueName)
	now := time.Now()
	lease := now.Add(time.Duration(leaseMs) * time.Millisecond)
	hardDeadline := now.Add(policy.HardTimeout)

	job := &Job{}
	scanRow := tx.QueryRow(ctx,
		`UPDATE jobs SET
		    state = $1,
		    attempts = attempts + 1,
		    lease_deadline = $2,
		    worker_id = $3,
		    hard_timeout_at = COALESCE(hard_timeout_at, $4),
		    updated_at = $5
		 WHERE id = $6
		 RETURNING id, queue, payload, state, attempts, max_attempts, next_visible_at,
		           lease_deadline, worker_id, hard_timeout_at, result, error, created_at, updated_at`,
		string(StateRunning), lease, workerID, hardDeadline, now, id)
	if err := scanJob(scanRow, job); err != nil {
		return nil, core.NewError(core.KindTransient, op, "claim job", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, core.NewError(core.KindTransient, op, "commit", err)
	}

	q.metrics.ReservationsTotal.WithLabelValues(string(queueName), "hit").Inc()
	q.logger.Info("job reserved", "queue", queueName, "job_id", job.ID, "worker_id", workerID, "attempt", job.Attempts)
	return job, nil
}

// Heartbeat extends a worker's lease iff it still owns the job (spec §4.6
// heartbeat). Returns a Conflict-kind error (mapped to 410 Gone by the HTTP
// layer) if the job was cancelled, reclaimed, or completed.
func (q *Queue) Heartbeat(ctx context.Context, jobID uuid.UUID, workerID, token string, leaseMs int64) error {
	const op = "queue.heartbeat"

	queueName, err := q.queueOf(ctx, jobID)
	if err != nil {
		return err
	}
	if !q.tokens.Check(queueName, token) {
		return core.NewError(core.KindUnauthorized, op, "bad queue token", nil)
	}

	tx, err := q.db.Begin(ctx)
	if err != nil {
		return core.NewError(core.KindTransient, op, "begin transaction", err)
	}
	defer tx.Rollback(ctx)

	var state string
	var owner string
	row := tx.QueryRow(ctx, `SELECT state, worker_id FROM jobs WHERE id = $1 FOR UPDATE`, jobID)
	if err := row.Scan(&state, &owner); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return core.NewError(core.KindNotFound, op, "job not found", err)
		}
		return core.NewError(core.KindTransient, op, "load job", err)
	}

	if State(state) != StateRunning || owner != workerID {
		return core.NewError(core.KindConflict, op, "lease no longer owned", nil)
	}

	lease := time.Now().Add(time.Duration(leaseMs) * time.Millisecond)
	if _, err := tx.Exec(ctx, `UPDATE jobs SET lease_deadline = $1, updated_at = $2 WHERE id = $3`,
		lease, time.Now(), jobID); err != nil {
		return core.NewError(core.KindTransient, op, "extend lease", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return core.NewError(core.KindTransient, op, "commit", err)
	}
	return nil
}

// Complete transitions a Running job to Success or Failure iff the worker
// still owns the lease (spec §4.6 complete); a failure with attempts left
// is instead requeued as Pending after backoff. It is idempotent on
// retransmission of the same outcome (P2): a second call with an identical
// outcome after the first already landed returns nil without mutating
// state again.
func (q *Queue) Complete(ctx context.Context, jobID uuid.UUID, workerID, token string, outcome Outcome) error {
	const op = "queue.complete"

	queueName, err := q.queueOf(ctx, jobID)
	if err != nil {
		return err
	}
	if !q.tokens.Check(queueName, token) {
		return core.NewError(core.KindUnauthorized, op, "bad queue token", nil)
	}

	tx, err := q.db.Begin(ctx)
	if err != nil {
		return core.NewError(core.KindTransient, op, "begin transaction", err)
	}
	defer tx.Rollback(ctx)

	var state string
	var owner string
	var attempts, maxAttempts int
	row := tx.QueryRow(ctx,
		`SELECT state, worker_id, attempts, max_attempts FROM jobs WHERE id = $1 FOR UPDATE`, jobID)
	if err := row.Scan(&state, &owner, &attempts, &maxAttempts); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return core.NewError(core.KindNotFound, op, "job not found", err)
		}
		return core.NewError(core.KindTransient, op, "load job", err)
	}

	wantState := StateFailure
	if outcome.Success {
		wantState = StateSuccess
	}

	if State(state).terminal() {
		// Idempotent retransmission (P2): same terminal outcome, no-op.
		if State(state) == wantState {
			q.metrics.CompletionsTotal.WithLabelValues(string(queueName), "idempotent").Inc()
			return nil
		}
		return core.NewError(core.KindConflict, op, "job already in a different terminal state", nil)
	}

	if owner != workerID {
		q.metrics.CompletionsTotal.WithLabelValues(string(queueName), "gone").Inc()
		return core.NewError(core.KindConflict, op, "lease no longer owned", nil)
	}

	now := time.Now()

	if outcome.Success {
		if _, err := tx.Exec(ctx,
			`UPDATE jobs SET state = $1, result = $2, error = NULL, lease_deadline = NULL, updated_at = $3 WHERE id = $4`,
			string(StateSuccess), outcome.Result, now, jobID); err != nil {
			return core.NewError(core.KindTransient, op, "mark success", err)
		}
		q.metrics.CompletionsTotal.WithLabelValues(string(queueName), "success").Inc()
	} else if attempts >= maxAttempts {
		if _, err := tx.Exec(ctx,
			`UPDATE jobs SET state = $1, error = $2, lease_deadline = NULL, updated_at = $3 WHERE id = $4`,
			string(StateFailure), "max attempts", now, jobID); err != nil {
			return core.NewError(core.KindTransient, op, "mark failure", err)
		}
		q.metrics.CompletionsTotal.WithLabelValues(string(queueName), "failure").Inc()
	} else {
		policy := q.policyFor(queueName)
		delay := backoff(attempts, policy)
		q.metrics.BackoffSeconds.WithLabelValues(string(queueName)).Observe(delay.Seconds())
		if _, err := tx.Exec(ctx,
			`UPDATE jobs SET state = $1, error = $2, next_visible_at = $3, lease_deadline = NULL, worker_id = '', updated_at = $4 WHERE id = $5`,
			string(StatePending), outcome.Err, now.Add(delay), now, jobID); err != nil {
			return core.NewError(core.KindTransient, op, "requeue failed job", err)
		}
		q.metrics.CompletionsTotal.WithLabelValues(string(queueName), "retry").Inc()
	}

	if err := tx.Commit(ctx); err != nil {
		return core.NewError(core.KindTransient, op, "commit", err)
	}
	q.logger.Info("job completed", "queue", queueName, "job_id", jobID, "success", outcome.Success, "attempts", attempts)
	return nil
}

// Cancel transitions any non-terminal job to Cancelled (spec §4.6 cancel).
// It is idempotent: cancelling an already-terminal job is a no-op Ok.
func (q *Queue) Cancel(ctx context.Context, jobID uuid.UUID) error {
	const op = "queue.cancel"

	_, err := q.db.Exec(ctx,
		`UPDATE jobs SET state = $1, updated_at = $2 WHERE id = $3 AND state NOT IN ($4, $5, $6, $7)`,
		string(StateCancelled), time.Now(), jobID,
		string(StateSuccess), string(StateFailure), string(StateCancelled), string(StateExpired))
	if err != nil {
		return core.NewError(core.KindTransient, op, "cancel job", err)
	}
	return nil
}

// ExpireSweepResult summarizes one expire_sweep pass for logging/tests.
type ExpireSweepResult struct {
	Requeued int
	Failed   int
	TimedOut int
}

// ExpireSweep is the periodic internal operation from spec §4.6: any
// Running job whose lease has expired is requeued (if attempts remain) or
// failed; any Running job past its hard_timeout is failed regardless of
// heartbeats (spec §5 cancellation/timeouts).
func (q *Queue) ExpireSweep(ctx context.Context) (ExpireSweepResult, error) {
	const op = "queue.expire_sweep"
	var result ExpireSweepResult

	tx, err := q.db.Begin(ctx)
	if err != nil {
		return result, core.NewError(core.KindTransient, op, "begin transaction", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now()

	timedOutRows, err := tx.Query(ctx,
		`SELECT id, queue FROM jobs WHERE state = $1 AND hard_timeout_at < $2 FOR UPDATE SKIP LOCKED`,
		string(StateRunning), now)
	if err != nil {
		return result, core.NewError(core.KindTransient, op, "select timed out", err)
	}
	type idQueue struct {
		id    uuid.UUID
		queue string
	}
	var timedOut []idQueue
	for timedOutRows.Next() {
		var r idQueue
		if err := timedOutRows.Scan(&r.id, &r.queue); err != nil {
			timedOutRows.Close()
			return result, core.NewError(core.KindTransient, op, "scan timed out", err)
		}
		timedOut = append(timedOut, r)
	}
	timedOutRows.Close()

	for _, r := range timedOut {
		if _, err := tx.Exec(ctx,
			`UPDATE jobs SET state = $1, error = $2, lease_deadline = NULL, updated_at = $3 WHERE id = $4`,
			string(StateFailure), "timeout", now, r.id); err != nil {
			return result, core.NewError(core.KindTransient, op, "fail timed out job", err)
		}
		result.TimedOut++
		q.metrics.ExpiredTotal.WithLabelValues(r.queue, "timeout").Inc()
	}

	expiredRows, err := tx.Query(ctx,
		`SELECT id, queue, attempts, max_attempts FROM jobs
		 WHERE state = $1 AND lease_deadline < $2 AND hard_timeout_at >= $2
		 FOR UPDATE SKIP LOCKED`,
		string(StateRunning), now)
	if err != nil {
		return result, core.NewError(core.KindTransient, op, "select expired", err)
	}
	type expiredRow struct {
		id                  uuid.UUID
		queue               string
		attempts, maxAttemp int
	}
	var expired []expiredRow
	for expiredRows.Next() {
		var r expiredRow
		if err := expiredRows.Scan(&r.id, &r.queue, &r.attempts, &r.maxAttemp); err != nil {
			expiredRows.Close()
			return result, core.NewError(core.KindTransient, op, "scan expired", err)
		}
		expired = append(expired, r)
	}
	expiredRows.Close()

	for _, r := range expired {
		if r.attempts < r.maxAttemp {
			policy := q.policyFor(QueueName(r.queue))
			delay := backoff(r.attempts, policy)
			if _, err := tx.Exec(ctx,
				`UPDATE jobs SET state = $1, next_visible_at = $2, lease_deadline = NULL, worker_id = '', updated_at = $3 WHERE id = $4`,
				string(StatePending), now.Add(delay), now, r.id); err != nil {
				return result, core.NewError(core.KindTransient, op, "requeue expired job", err)
			}
			result.Requeued++
			q.metrics.ExpiredTotal.WithLabelValues(r.queue, "requeued").Inc()
		} else {
			if _, err := tx.Exec(ctx,
				`UPDATE jobs SET state = $1, error = $2, lease_deadline = NULL, updated_at = $3 WHERE id = $4`,
				string(StateFailure), "lease expired", now, r.id); err != nil {
				return result, core.NewError(core.KindTransient, op, "fail expired job", err)
			}
			result.Failed++
			q.metrics.ExpiredTotal.WithLabelValues(r.queue, "failed").Inc()
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return result, core.NewError(core.KindTransient, op, "commit", err)
	}

	if result.Requeued+result.Failed+result.TimedOut > 0 {
		q.logger.Info("expire sweep", "requeued", result.Requeued, "failed", result.Failed, "timed_out", result.TimedOut)
	}
	return result, nil
}

// Get returns the current row for jobID (used by status endpoints and tests).
func (q *Queue) Get(ctx context.Context, jobID uuid.UUID) (*Job, error) {
	const op = "queue.get"
	job := &Job{}
	row := q.db.QueryRow(ctx,
		`SELECT id, queue, payload, state, attempts, max_attempts, next_visible_at,
		        lease_deadline, worker_id, hard_timeout_at, result, error, created_at, updated_at
		 FROM jobs WHERE id = $1`, jobID)
	if err := scanJob(row, job); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, core.NewError(core.KindNotFound, op, "job not found", err)
		}
		return nil, core.NewError(core.KindTransient, op, "load job", err)
	}
	return job, nil
}

func (q *Queue) queueOf(ctx context.Context, jobID uuid.UUID) (QueueName, error) {
	var queue string
	row := q.db.QueryRow(ctx, `SELECT queue FROM jobs WHERE id = $1`, jobID)
	if err := row.Scan(&queue); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", core.NewError(core.KindNotFound, "queue.lookup", "job not found", err)
		}
		return "", core.NewError(core.KindTransient, "queue.lookup", "load job queue", err)
	}
	return QueueName(queue), nil
}

func scanJob(row pgx.Row, job *Job) error {
	var queueName, state string
	var workerID *string
	var hardTimeout, leaseDeadline *time.Time
	var result []byte
	var errStr *string

	if err := row.Scan(&job.ID, &queueName, &job.Payload, &state, &job.Attempts, &job.MaxAttempts,
		&job.NextVisibleAt, &leaseDeadline, &workerID, &hardTimeout, &result, &errStr,
		&job.CreatedAt, &job.UpdatedAt); err != nil {
		return err
	}
	job.Queue = QueueName(queueName)
	job.State = State(state)
	job.LeaseDeadline = leaseDeadline
	job.HardTimeoutAt = hardTimeout
	job.Result = result
	if workerID != nil {
		job.WorkerID = *workerID
	}
	if errStr != nil {
		job.Error = *errStr
	}
	return nil
}
