package dao

import (
	"context"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/soportek/remotectl/app/relayd/internal/model"
	"github.com/soportek/remotectl/pkg/logger"
)

// pg 唯一约束冲突错误码
const pgUniqueViolation = "23505"

var sessionColumns = []string{
	"id", "ticket_id", "operator_id", "client_id",
	"state", "pairing_code", "end_reason", "created_at", "updated_at",
}

// SessionDAO 会话数据访问对象，基于 PostgreSQL
// 单工单单活跃会话由 remote_sessions 表的部分唯一索引保证（见 migrations）
type SessionDAO struct {
	pool   *pgxpool.Pool
	logger logger.Logger
}

var _ SessionStore = (*SessionDAO)(nil)

// NewSessionDAO 创建会话 DAO
func NewSessionDAO(pool *pgxpool.Pool, l logger.Logger) *SessionDAO {
	return &SessionDAO{
		pool:   pool,
		logger: l.Named("dao.session"),
	}
}

// Create 创建会话
func (d *SessionDAO) Create(ctx context.Context, s *model.Session) error {
	query, args, err := squirrel.
		Insert("remote_sessions").
		Columns(sessionColumns...).
		Values(s.ID, s.TicketID, s.OperatorID, s.ClientID,
			s.State, s.PairingCode, s.EndReason, s.CreatedAt, s.UpdatedAt).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return errors.Wrap(err, "build insert")
	}

	if _, err := d.pool.Exec(ctx, query, args...); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return ErrTicketBusy
		}
		d.logger.Error("failed to create session",
			"session_id", s.ID,
			"ticket_id", s.TicketID,
			"error", err,
		)
		return errors.Wrap(err, "insert session")
	}

	return nil
}

// GetByID 按 ID 查询会话
func (d *SessionDAO) GetByID(ctx context.Context, id string) (*model.Session, error) {
	query, args, err := squirrel.
		Select(sessionColumns...).
		From("remote_sessions").
		Where(squirrel.Eq{"id": id}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "build query")
	}

	return d.queryOne(ctx, query, args...)
}

// FindActiveByTicket 查询工单当前未结束的会话
func (d *SessionDAO) FindActiveByTicket(ctx context.Context, ticketID string) (*model.Session, error) {
	query, args, err := squirrel.
		Select(sessionColumns...).
		From("remote_sessions").
		Where(squirrel.Eq{"ticket_id": ticketID}).
		Where(squirrel.NotEq{"state": model.StateFinished}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "build query")
	}

	return d.queryOne(ctx, query, args...)
}

// Transition 原子 CAS 状态迁移
func (d *SessionDAO) Transition(ctx context.Context, id string, from, to model.State, reason model.EndReason) (*model.Session, error) {
	query, args, err := squirrel.
		Update("remote_sessions").
		Set("state", to).
		Set("end_reason", reason).
		Set("updated_at", time.Now().UTC()).
		Where(squirrel.Eq{"id": id, "state": from}).
		Suffix("RETURNING " + joinColumns()).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "build update")
	}

	s, err := d.queryOne(ctx, query, args...)
	if errors.Is(err, ErrNotFound) {
		// 行存在但状态不符，与行不存在区分开
		if _, getErr := d.GetByID(ctx, id); getErr == nil {
			return nil, ErrStaleState
		}
		return nil, ErrNotFound
	}
	return s, err
}

// Finish 无条件终态写入，对已结束会话幂等
// 条件更新只会命中一次，并发结束时只有赢家得到 true
func (d *SessionDAO) Finish(ctx context.Context, id string, reason model.EndReason) (*model.Session, bool, error) {
	query, args, err := squirrel.
		Update("remote_sessions").
		Set("state", model.StateFinished).
		Set("end_reason", reason).
		Set("updated_at", time.Now().UTC()).
		Where(squirrel.Eq{"id": id}).
		Where(squirrel.NotEq{"state": model.StateFinished}).
		Suffix("RETURNING " + joinColumns()).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, false, errors.Wrap(err, "build update")
	}

	s, err := d.queryOne(ctx, query, args...)
	if errors.Is(err, ErrNotFound) {
		// 已是终态：返回现有记录，保留首次写入的结束原因
		out, getErr := d.GetByID(ctx, id)
		return out, false, getErr
	}
	if err != nil {
		return nil, false, err
	}
	return s, true, nil
}

// Touch 刷新活动时间，已结束的会话不动
func (d *SessionDAO) Touch(ctx context.Context, id string) error {
	query, args, err := squirrel.
		Update("remote_sessions").
		Set("updated_at", time.Now().UTC()).
		Where(squirrel.Eq{"id": id}).
		Where(squirrel.NotEq{"state": model.StateFinished}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return errors.Wrap(err, "build update")
	}

	tag, err := d.pool.Exec(ctx, query, args...)
	if err != nil {
		return errors.Wrap(err, "touch session")
	}
	if tag.RowsAffected() == 0 {
		// 行不存在与已终态区分开
		if _, getErr := d.GetByID(ctx, id); getErr != nil {
			return getErr
		}
	}
	return nil
}

// ListByTicket 工单下全部会话
func (d *SessionDAO) ListByTicket(ctx context.Context, ticketID string) ([]*model.Session, error) {
	query, args, err := squirrel.
		Select(sessionColumns...).
		From("remote_sessions").
		Where(squirrel.Eq{"ticket_id": ticketID}).
		OrderBy("created_at DESC").
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "build query")
	}

	rows, err := d.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query sessions")
	}
	defer rows.Close()

	sessions := make([]*model.Session, 0)
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// ListStaleLive 非终态且更新时间早于 olderThan 的会话
func (d *SessionDAO) ListStaleLive(ctx context.Context, olderThan time.Time) ([]*model.Session, error) {
	query, args, err := squirrel.
		Select(sessionColumns...).
		From("remote_sessions").
		Where(squirrel.NotEq{"state": model.StateFinished}).
		Where(squirrel.Lt{"updated_at": olderThan}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "build query")
	}

	rows, err := d.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query stale sessions")
	}
	defer rows.Close()

	sessions := make([]*model.Session, 0)
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// queryOne 查询单条会话记录
func (d *SessionDAO) queryOne(ctx context.Context, query string, args ...any) (*model.Session, error) {
	rows, err := d.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query session")
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, errors.Wrap(err, "query session")
		}
		return nil, ErrNotFound
	}
	return scanSession(rows)
}

// scanSession 扫描单行
func scanSession(row pgx.Row) (*model.Session, error) {
	var s model.Session
	if err := row.Scan(
		&s.ID,
		&s.TicketID,
		&s.OperatorID,
		&s.ClientID,
		&s.State,
		&s.PairingCode,
		&s.EndReason,
		&s.CreatedAt,
		&s.UpdatedAt,
	); err != nil {
		return nil, errors.Wrap(err, "scan session")
	}
	return &s, nil
}

func joinColumns() string {
	out := sessionColumns[0]
	for _, c := range sessionColumns[1:] {
		out += ", " + c
	}
	return out
}
