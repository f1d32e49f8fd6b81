package certificates

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// Repository is the persistence contract of the engine. Every mutating
// method commits the certificate change, any counter bump and the audit
// record in a single transaction, so concurrent callers never observe
// partial state and concurrent increments are never lost.
type Repository interface {
	CreateCertificate(ctx context.Context, cert *Certificate, rec *Transaction) error
	GetCertificate(ctx context.Context, id uuid.UUID) (*Certificate, error)
	GetCertificateByCode(ctx context.Context, code string) (*Certificate, error)
	UpdateCertificate(ctx context.Context, cert *Certificate, expected CertificateStatus, rec *Transaction) error
	UpdateStep(ctx context.Context, cert *Certificate, step *ApprovalStep, rec *Transaction) error

	AppendShareToken(ctx context.Context, token *ShareToken, rec *Transaction) error
	DeactivateShareToken(ctx context.Context, tokenID uuid.UUID, rec *Transaction) error
	FindShareToken(ctx context.Context, token string) (*ShareToken, error)
	DeactivateExpiredTokens(ctx context.Context, now time.Time) (int64, error)

	RecordVerification(ctx context.Context, certificateID uuid.UUID, at time.Time, rec *Transaction) error
	RecordTokenAccess(ctx context.Context, tokenID, certificateID uuid.UUID, at time.Time, rec *Transaction) error

	ListTransactions(ctx context.Context, certificateID uuid.UUID) ([]Transaction, error)
	Statistics(ctx context.Context, filter StatisticsFilter) (*Statistics, error)
}

// PostgresRepository implements Repository on Postgres via sqlx.
type PostgresRepository struct {
	db *sqlx.DB
}

// NewRepository creates a Postgres-backed repository.
func NewRepository(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const schema = `
CREATE TABLE IF NOT EXISTS certificates (
	id UUID PRIMARY KEY,
	verification_id TEXT NOT NULL UNIQUE,
	verification_code TEXT NOT NULL UNIQUE,
	issuer_id TEXT NOT NULL,
	issuer_name TEXT NOT NULL DEFAULT '',
	recipient_id TEXT NOT NULL,
	recipient_email TEXT NOT NULL,
	recipient_name TEXT NOT NULL DEFAULT '',
	organization_id TEXT NOT NULL DEFAULT '',
	title TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	certificate_type TEXT NOT NULL,
	course_name TEXT,
	grade TEXT,
	metadata JSONB NOT NULL DEFAULT '{}',
	issued_at TIMESTAMPTZ,
	completed_at TIMESTAMPTZ,
	expires_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	hash TEXT NOT NULL,
	qr_code TEXT NOT NULL,
	status TEXT NOT NULL,
	requires_approval BOOLEAN NOT NULL DEFAULT FALSE,
	current_step_id UUID,
	share_count INTEGER NOT NULL DEFAULT 0,
	verification_count INTEGER NOT NULL DEFAULT 0,
	access_count INTEGER NOT NULL DEFAULT 0,
	last_accessed_at TIMESTAMPTZ,
	is_verified BOOLEAN NOT NULL DEFAULT FALSE,
	is_revoked BOOLEAN NOT NULL DEFAULT FALSE,
	revocation_reason TEXT,
	artifact BYTEA
);

CREATE TABLE IF NOT EXISTS approval_steps (
	id UUID PRIMARY KEY,
	certificate_id UUID NOT NULL REFERENCES certificates(id),
	step_name TEXT NOT NULL,
	step_order INTEGER NOT NULL,
	position INTEGER NOT NULL,
	approver_id TEXT NOT NULL,
	approver_name TEXT NOT NULL DEFAULT '',
	approver_email TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	approved_at TIMESTAMPTZ,
	comments TEXT
);
CREATE INDEX IF NOT EXISTS idx_approval_steps_certificate ON approval_steps(certificate_id);

CREATE TABLE IF NOT EXISTS share_tokens (
	id UUID PRIMARY KEY,
	certificate_id UUID NOT NULL REFERENCES certificates(id),
	token TEXT NOT NULL UNIQUE,
	shared_by TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL,
	password_hash TEXT,
	max_access INTEGER NOT NULL,
	current_access INTEGER NOT NULL DEFAULT 0,
	is_active BOOLEAN NOT NULL DEFAULT TRUE
);
CREATE INDEX IF NOT EXISTS idx_share_tokens_certificate ON share_tokens(certificate_id);

CREATE TABLE IF NOT EXISTS certificate_transactions (
	id UUID PRIMARY KEY,
	certificate_id UUID NOT NULL REFERENCES certificates(id),
	action TEXT NOT NULL,
	performed_by TEXT NOT NULL,
	timestamp TIMESTAMPTZ NOT NULL,
	details JSONB NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_certificate_transactions_certificate ON certificate_transactions(certificate_id);
`

// EnsureSchema creates the engine's tables if they do not exist.
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return &StorageError{Op: "ensure schema", Err: err}
	}
	return nil
}

// withTx runs fn inside a transaction, rolling back on error.
func (r *PostgresRepository) withTx(ctx context.Context, op string, fn func(tx *sqlx.Tx) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return &StorageError{Op: op, Err: err}
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return &StorageError{Op: op, Err: err}
	}
	return nil
}

func insertTransaction(ctx context.Context, tx *sqlx.Tx, rec *Transaction) error {
	if rec == nil {
		return nil
	}
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	_, err := tx.NamedExecContext(ctx, `
		INSERT INTO certificate_transactions (id, certificate_id, action, performed_by, timestamp, details)
		VALUES (:id, :certificate_id, :action, :performed_by, :timestamp, :details)`, rec)
	return err
}

func (r *PostgresRepository) CreateCertificate(ctx context.Context, cert *Certificate, rec *Transaction) error {
	return r.withTx(ctx, "create certificate", func(tx *sqlx.Tx) error {
		_, err := tx.NamedExecContext(ctx, `
			INSERT INTO certificates (
				id, verification_id, verification_code, issuer_id, issuer_name,
				recipient_id, recipient_email, recipient_name, organization_id,
				title, description, certificate_type, course_name, grade, metadata,
				issued_at, completed_at, expires_at, created_at, updated_at,
				hash, qr_code, status, requires_approval, current_step_id,
				share_count, verification_count, access_count, last_accessed_at,
				is_verified, is_revoked, revocation_reason, artifact
			) VALUES (
				:id, :verification_id, :verification_code, :issuer_id, :issuer_name,
				:recipient_id, :recipient_email, :recipient_name, :organization_id,
				:title, :description, :certificate_type, :course_name, :grade, :metadata,
				:issued_at, :completed_at, :expires_at, :created_at, :updated_at,
				:hash, :qr_code, :status, :requires_approval, :current_step_id,
				:share_count, :verification_count, :access_count, :last_accessed_at,
				:is_verified, :is_revoked, :revocation_reason, :artifact
			)`, cert)
		if err != nil {
			return &StorageError{Op: "insert certificate", Err: err}
		}
		for i := range cert.ApprovalSteps {
			if _, err := tx.NamedExecContext(ctx, `
				INSERT INTO approval_steps (
					id, certificate_id, step_name, step_order, position,
					approver_id, approver_name, approver_email, status, approved_at, comments
				) VALUES (
					:id, :certificate_id, :step_name, :step_order, :position,
					:approver_id, :approver_name, :approver_email, :status, :approved_at, :comments
				)`, &cert.ApprovalSteps[i]); err != nil {
				return &StorageError{Op: "insert approval step", Err: err}
			}
		}
		if err := insertTransaction(ctx, tx, rec); err != nil {
			return &StorageError{Op: "append audit record", Err: err}
		}
		return nil
	})
}

func (r *PostgresRepository) GetCertificate(ctx context.Context, id uuid.UUID) (*Certificate, error) {
	return r.loadCertificate(ctx, "SELECT * FROM certificates WHERE id = $1", id)
}

func (r *PostgresRepository) GetCertificateByCode(ctx context.Context, code string) (*Certificate, error) {
	return r.loadCertificate(ctx, "SELECT * FROM certificates WHERE verification_code = $1", code)
}

func (r *PostgresRepository) loadCertificate(ctx context.Context, query string, arg interface{}) (*Certificate, error) {
	var cert Certificate
	err := r.db.GetContext(ctx, &cert, query, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{Resource: "certificate", ID: fmt.Sprint(arg)}
	}
	if err != nil {
		return nil, &StorageError{Op: "get certificate", Err: err}
	}
	if err := r.db.SelectContext(ctx, &cert.ApprovalSteps,
		"SELECT * FROM approval_steps WHERE certificate_id = $1 ORDER BY step_order, position", cert.ID); err != nil {
		return nil, &StorageError{Op: "list approval steps", Err: err}
	}
	if err := r.db.SelectContext(ctx, &cert.ShareTokens,
		"SELECT * FROM share_tokens WHERE certificate_id = $1 ORDER BY created_at", cert.ID); err != nil {
		return nil, &StorageError{Op: "list share tokens", Err: err}
	}
	return &cert, nil
}

// UpdateCertificate persists a status transition conditionally: the write
// only lands while the row still holds the status the caller read and has
// not been revoked since. A transition computed from a stale read yields
// InvalidStateError instead of overwriting a concurrent one.
func (r *PostgresRepository) UpdateCertificate(ctx context.Context, cert *Certificate, expected CertificateStatus, rec *Transaction) error {
	return r.withTx(ctx, "update certificate", func(tx *sqlx.Tx) error {
		arg := struct {
			*Certificate
			ExpectedStatus CertificateStatus `db:"expected_status"`
		}{cert, expected}
		res, err := tx.NamedExecContext(ctx, `
			UPDATE certificates SET
				title = :title,
				description = :description,
				metadata = :metadata,
				issued_at = :issued_at,
				completed_at = :completed_at,
				expires_at = :expires_at,
				updated_at = :updated_at,
				status = :status,
				current_step_id = :current_step_id,
				is_verified = :is_verified,
				is_revoked = :is_revoked,
				revocation_reason = :revocation_reason,
				artifact = :artifact
			WHERE id = :id AND status = :expected_status AND NOT is_revoked`, arg)
		if err != nil {
			return &StorageError{Op: "update certificate", Err: err}
		}
		if n, _ := res.RowsAffected(); n == 0 {
			var current CertificateStatus
			err := tx.GetContext(ctx, &current, "SELECT status FROM certificates WHERE id = $1", cert.ID)
			if errors.Is(err, sql.ErrNoRows) {
				return &NotFoundError{Resource: "certificate", ID: cert.ID.String()}
			}
			if err != nil {
				return &StorageError{Op: "update certificate", Err: err}
			}
			return &InvalidStateError{Operation: "update certificate", Current: current}
		}
		if err := insertTransaction(ctx, tx, rec); err != nil {
			return &StorageError{Op: "append audit record", Err: err}
		}
		return nil
	})
}

// UpdateStep persists one step decision. The certificate row is locked for
// the duration of the transaction and the chain state is recomputed from the
// stored step rows, so two reviewers deciding their steps at the same time
// serialize here and neither decision is lost to a stale snapshot. The
// recomputed status, current step and steps are written back into cert.
func (r *PostgresRepository) UpdateStep(ctx context.Context, cert *Certificate, step *ApprovalStep, rec *Transaction) error {
	return r.withTx(ctx, "update approval step", func(tx *sqlx.Tx) error {
		var current struct {
			Status    CertificateStatus `db:"status"`
			IsRevoked bool              `db:"is_revoked"`
		}
		err := tx.GetContext(ctx, &current,
			"SELECT status, is_revoked FROM certificates WHERE id = $1 FOR UPDATE", cert.ID)
		if errors.Is(err, sql.ErrNoRows) {
			return &NotFoundError{Resource: "certificate", ID: cert.ID.String()}
		}
		if err != nil {
			return &StorageError{Op: "lock certificate", Err: err}
		}
		if current.IsRevoked || current.Status != StatusPending {
			return &InvalidStateError{Operation: "decide step", Current: current.Status}
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE approval_steps SET status = $2, approved_at = $3, comments = $4
			WHERE id = $1 AND status = $5`,
			step.ID, step.Status, step.ApprovedAt, step.Comments, StepPending)
		if err != nil {
			return &StorageError{Op: "update approval step", Err: err}
		}
		if n, _ := res.RowsAffected(); n == 0 {
			var exists bool
			if err := tx.GetContext(ctx, &exists,
				"SELECT TRUE FROM approval_steps WHERE id = $1", step.ID); errors.Is(err, sql.ErrNoRows) {
				return &NotFoundError{Resource: "approval step", ID: step.ID.String()}
			}
			return &InvalidStateError{Operation: "decide already-decided step", Current: current.Status}
		}

		var steps []ApprovalStep
		if err := tx.SelectContext(ctx, &steps,
			"SELECT * FROM approval_steps WHERE certificate_id = $1 ORDER BY step_order, position", cert.ID); err != nil {
			return &StorageError{Op: "list approval steps", Err: err}
		}

		status := StatusPending
		var currentStepID *uuid.UUID
		if step.Status == StepRejected {
			status = StatusRejected
		} else if next := nextPendingStep(steps); next != nil {
			currentStepID = &next.ID
		} else {
			status = StatusApproved
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE certificates SET status = $2, current_step_id = $3, updated_at = $4
			WHERE id = $1`, cert.ID, status, currentStepID, cert.UpdatedAt); err != nil {
			return &StorageError{Op: "update certificate status", Err: err}
		}
		if err := insertTransaction(ctx, tx, rec); err != nil {
			return &StorageError{Op: "append audit record", Err: err}
		}

		cert.Status = status
		cert.CurrentStepID = currentStepID
		cert.ApprovalSteps = steps
		return nil
	})
}

func (r *PostgresRepository) AppendShareToken(ctx context.Context, token *ShareToken, rec *Transaction) error {
	return r.withTx(ctx, "append share token", func(tx *sqlx.Tx) error {
		if _, err := tx.NamedExecContext(ctx, `
			INSERT INTO share_tokens (
				id, certificate_id, token, shared_by, created_at, expires_at,
				password_hash, max_access, current_access, is_active
			) VALUES (
				:id, :certificate_id, :token, :shared_by, :created_at, :expires_at,
				:password_hash, :max_access, :current_access, :is_active
			)`, token); err != nil {
			return &StorageError{Op: "insert share token", Err: err}
		}
		res, err := tx.ExecContext(ctx, `
			UPDATE certificates SET share_count = share_count + 1, updated_at = $2 WHERE id = $1`,
			token.CertificateID, token.CreatedAt)
		if err != nil {
			return &StorageError{Op: "increment share count", Err: err}
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return &NotFoundError{Resource: "certificate", ID: token.CertificateID.String()}
		}
		if err := insertTransaction(ctx, tx, rec); err != nil {
			return &StorageError{Op: "append audit record", Err: err}
		}
		return nil
	})
}

func (r *PostgresRepository) DeactivateShareToken(ctx context.Context, tokenID uuid.UUID, rec *Transaction) error {
	return r.withTx(ctx, "deactivate share token", func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, "UPDATE share_tokens SET is_active = FALSE WHERE id = $1", tokenID)
		if err != nil {
			return &StorageError{Op: "deactivate share token", Err: err}
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return &NotFoundError{Resource: "share token", ID: tokenID.String()}
		}
		if err := insertTransaction(ctx, tx, rec); err != nil {
			return &StorageError{Op: "append audit record", Err: err}
		}
		return nil
	})
}

// FindShareToken resolves a token by exact value; the unique index on the
// token column makes this a point lookup.
func (r *PostgresRepository) FindShareToken(ctx context.Context, token string) (*ShareToken, error) {
	var tok ShareToken
	err := r.db.GetContext(ctx, &tok, "SELECT * FROM share_tokens WHERE token = $1", token)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{Resource: "share token", ID: token}
	}
	if err != nil {
		return nil, &StorageError{Op: "find share token", Err: err}
	}
	return &tok, nil
}

func (r *PostgresRepository) DeactivateExpiredTokens(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		"UPDATE share_tokens SET is_active = FALSE WHERE is_active AND expires_at <= $1", now)
	if err != nil {
		return 0, &StorageError{Op: "deactivate expired tokens", Err: err}
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// RecordVerification bumps the verification counter with a server-side
// increment so simultaneous verifications are all counted.
func (r *PostgresRepository) RecordVerification(ctx context.Context, certificateID uuid.UUID, at time.Time, rec *Transaction) error {
	return r.withTx(ctx, "record verification", func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE certificates SET
				verification_count = verification_count + 1,
				last_accessed_at = $2,
				updated_at = $2
			WHERE id = $1`, certificateID, at)
		if err != nil {
			return &StorageError{Op: "increment verification count", Err: err}
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return &NotFoundError{Resource: "certificate", ID: certificateID.String()}
		}
		if err := insertTransaction(ctx, tx, rec); err != nil {
			return &StorageError{Op: "append audit record", Err: err}
		}
		return nil
	})
}

// RecordTokenAccess consumes one access from a share token. The conditional
// update is the authoritative guard: when two callers race over the last
// remaining access, exactly one update matches and the loser gets
// ErrTokenExhausted with the counter unchanged. A zero-row result is
// classified by re-reading the token, so a deactivation landing between the
// caller's check and the update reports inactive, not exhausted.
func (r *PostgresRepository) RecordTokenAccess(ctx context.Context, tokenID, certificateID uuid.UUID, at time.Time, rec *Transaction) error {
	return r.withTx(ctx, "record token access", func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE share_tokens SET current_access = current_access + 1
			WHERE id = $1 AND is_active AND current_access < max_access`, tokenID)
		if err != nil {
			return &StorageError{Op: "increment token access", Err: err}
		}
		if n, _ := res.RowsAffected(); n == 0 {
			var active bool
			err := tx.GetContext(ctx, &active, "SELECT is_active FROM share_tokens WHERE id = $1", tokenID)
			if errors.Is(err, sql.ErrNoRows) {
				return &NotFoundError{Resource: "share token", ID: tokenID.String()}
			}
			if err != nil {
				return &StorageError{Op: "classify token refusal", Err: err}
			}
			if !active {
				return ErrTokenInactive
			}
			return ErrTokenExhausted
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE certificates SET
				access_count = access_count + 1,
				verification_count = verification_count + 1,
				last_accessed_at = $2,
				updated_at = $2
			WHERE id = $1`, certificateID, at); err != nil {
			return &StorageError{Op: "increment access count", Err: err}
		}
		if err := insertTransaction(ctx, tx, rec); err != nil {
			return &StorageError{Op: "append audit record", Err: err}
		}
		return nil
	})
}

func (r *PostgresRepository) ListTransactions(ctx context.Context, certificateID uuid.UUID) ([]Transaction, error) {
	var recs []Transaction
	err := r.db.SelectContext(ctx, &recs,
		"SELECT * FROM certificate_transactions WHERE certificate_id = $1 ORDER BY timestamp DESC", certificateID)
	if err != nil {
		return nil, &StorageError{Op: "list transactions", Err: err}
	}
	return recs, nil
}

func (r *PostgresRepository) Statistics(ctx context.Context, filter StatisticsFilter) (*Statistics, error) {
	query := `
		SELECT
			COUNT(*) AS total,
			COUNT(*) FILTER (WHERE status = 'draft') AS draft,
			COUNT(*) FILTER (WHERE status = 'pending') AS pending,
			COUNT(*) FILTER (WHERE status = 'approved') AS approved,
			COUNT(*) FILTER (WHERE status = 'rejected') AS rejected,
			COUNT(*) FILTER (WHERE status = 'issued') AS issued,
			COUNT(*) FILTER (WHERE status = 'revoked') AS revoked,
			COALESCE(SUM(verification_count), 0) AS total_verifications,
			COALESCE(SUM(share_count), 0) AS total_shares,
			COALESCE(SUM(access_count), 0) AS total_accesses
		FROM certificates WHERE 1=1`
	var args []interface{}
	argCount := 1
	if filter.IssuerID != nil {
		query += fmt.Sprintf(" AND issuer_id = $%d", argCount)
		args = append(args, *filter.IssuerID)
		argCount++
	}
	if filter.OrganizationID != nil {
		query += fmt.Sprintf(" AND organization_id = $%d", argCount)
		args = append(args, *filter.OrganizationID)
		argCount++
	}

	var stats Statistics
	if err := r.db.GetContext(ctx, &stats, query, args...); err != nil {
		return nil, &StorageError{Op: "aggregate statistics", Err: err}
	}
	return &stats, nil
}
