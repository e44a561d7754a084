package postgres

import (
	"context"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/meshcompute/dispatch/internal/core/domain"
	"github.com/meshcompute/dispatch/internal/core/port"
)

type archiveRepository struct {
	db  *pgxpool.Pool
	qb  squirrel.StatementBuilderType
	log *zap.Logger
}

// NewArchiveRepository creates the postgres repository mirroring completed
// jobs and payment ledger entries for offline reporting. The authoritative
// state stays in the shared store; this archive is write-behind.
func NewArchiveRepository(db *pgxpool.Pool, log *zap.Logger) port.ArchiveRepository {
	return &archiveRepository{
		db:  db,
		qb:  squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
		log: log,
	}
}

func (r *archiveRepository) InsertCompleted(ctx context.Context, job *domain.Job) error {
	query, args, err := r.qb.Insert("completed_jobs").
		Columns("id", "submitter", "node_id", "input_ref", "output_ref", "fee_amount", "status", "created_at", "started_at", "completed_at").
		Values(job.ID, job.Submitter, job.NodeID, job.InputRef, job.OutputRef, job.FeeAmount, job.Status, job.CreatedAt, job.StartedAt, job.CompletedAt).
		Suffix("ON CONFLICT (id) DO NOTHING").
		ToSql()
	if err != nil {
		return err
	}

	if _, err := r.db.Exec(ctx, query, args...); err != nil {
		r.log.Error("Failed to archive completed job", zap.String("job_id", job.ID), zap.Error(err))
		return err
	}
	return nil
}

func (r *archiveRepository) InsertPayment(ctx context.Context, nodeID string, payment domain.PendingPayment) error {
	query, args, err := r.qb.Insert("pending_payments").
		Columns("node_id", "job_id", "amount", "recorded_at").
		Values(nodeID, payment.JobID, payment.Amount, domain.NowMillis()).
		ToSql()
	if err != nil {
		return err
	}

	if _, err := r.db.Exec(ctx, query, args...); err != nil {
		r.log.Error("Failed to record payment", zap.String("node_id", nodeID), zap.String("job_id", payment.JobID), zap.Error(err))
		return err
	}
	return nil
}

// PurgeBefore drops archived jobs older than the retention cutoff.
func (r *archiveRepository) PurgeBefore(ctx context.Context, cutoff int64) (int64, error) {
	query, args, err := r.qb.Delete("completed_jobs").
		Where(squirrel.Lt{"completed_at": cutoff}).
		ToSql()
	if err != nil {
		return 0, err
	}

	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
