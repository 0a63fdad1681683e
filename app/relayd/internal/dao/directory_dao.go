package dao

import (
	"context"

	"github.com/Masterminds/squirrel"
	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/soportek/remotectl/pkg/logger"
)

// DirectoryDAO 票务库只读目录
// users/tickets 表归票务应用所有，这里只做边界查询，不建表
type DirectoryDAO struct {
	pool   *pgxpool.Pool
	logger logger.Logger
}

// NewDirectoryDAO 创建目录 DAO
func NewDirectoryDAO(pool *pgxpool.Pool, l logger.Logger) *DirectoryDAO {
	return &DirectoryDAO{
		pool:   pool,
		logger: l.Named("dao.directory"),
	}
}

// UserRole 查询用户角色
func (d *DirectoryDAO) UserRole(ctx context.Context, userID string) (string, error) {
	query, args, err := squirrel.
		Select("role").
		From("users").
		Where(squirrel.Eq{"id": userID}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return "", errors.Wrap(err, "build query")
	}

	var role string
	if err := d.pool.QueryRow(ctx, query, args...).Scan(&role); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", errors.Wrap(err, "query user role")
	}
	return role, nil
}

// TicketClient 查询工单所属客户
func (d *DirectoryDAO) TicketClient(ctx context.Context, ticketID string) (string, error) {
	query, args, err := squirrel.
		Select("cliente_id").
		From("tickets").
		Where(squirrel.Eq{"id": ticketID}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return "", errors.Wrap(err, "build query")
	}

	var clientID string
	if err := d.pool.QueryRow(ctx, query, args...).Scan(&clientID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", errors.Wrap(err, "query ticket client")
	}
	return clientID, nil
}
