package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/pryv/bridge-thryve/internal/model"
)

// PostgresUserLinkRepo はPostgreSQLを使用したUserLinkリポジトリ。
type PostgresUserLinkRepo struct {
	db *sql.DB
}

// NewPostgresUserLinkRepo はPostgresUserLinkRepoを生成する。
func NewPostgresUserLinkRepo(db *sql.DB) *PostgresUserLinkRepo {
	return &PostgresUserLinkRepo{db: db}
}

// Upsert はUserLinkを作成または更新する。
// pryv_endpointの一意制約を利用したON CONFLICT UPSERTで、
// 部分的なレコード作成が残らないことを保証する。
func (r *PostgresUserLinkRepo) Upsert(ctx context.Context, link *model.UserLink) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO user_links (id, pryv_endpoint, thryve_token, last_sync, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (pryv_endpoint)
		 DO UPDATE SET thryve_token = EXCLUDED.thryve_token, updated_at = EXCLUDED.updated_at`,
		link.ID, link.PryvEndpoint, link.ThryveToken, link.LastSync, link.CreatedAt, link.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert user link: %w", err)
	}
	return nil
}

// FindByPryvEndpoint はPryvエンドポイントでUserLinkを検索する。見つからない場合はnilを返す。
func (r *PostgresUserLinkRepo) FindByPryvEndpoint(ctx context.Context, endpoint string) (*model.UserLink, error) {
	return r.findOne(ctx,
		`SELECT id, pryv_endpoint, thryve_token, last_sync, created_at, updated_at
		 FROM user_links WHERE pryv_endpoint = $1`,
		endpoint,
	)
}

// FindByThryveToken はThryveトークンでUserLinkを検索する。見つからない場合はnilを返す。
func (r *PostgresUserLinkRepo) FindByThryveToken(ctx context.Context, token string) (*model.UserLink, error) {
	return r.findOne(ctx,
		`SELECT id, pryv_endpoint, thryve_token, last_sync, created_at, updated_at
		 FROM user_links WHERE thryve_token = $1`,
		token,
	)
}

// UpdateLastSync は最終同期時刻を前進させる。
// GREATESTにより、並行するパスが古い時刻で上書きしても後退しない。
func (r *PostgresUserLinkRepo) UpdateLastSync(ctx context.Context, id string, syncedAt time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE user_links
		 SET last_sync = GREATEST(COALESCE(last_sync, to_timestamp(0)), $2), updated_at = now()
		 WHERE id = $1`,
		id, syncedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update last sync: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("user link not found: %s", id)
	}
	return nil
}

// ListDueForSync は定期同期の対象となるUserLinkを取得する。
func (r *PostgresUserLinkRepo) ListDueForSync(ctx context.Context, olderThan time.Time) ([]*model.UserLink, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, pryv_endpoint, thryve_token, last_sync, created_at, updated_at
		 FROM user_links
		 WHERE last_sync IS NULL OR last_sync < $1
		 ORDER BY last_sync ASC NULLS FIRST`,
		olderThan,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list user links due for sync: %w", err)
	}
	defer rows.Close()

	var links []*model.UserLink
	for rows.Next() {
		link, err := scanUserLink(rows)
		if err != nil {
			return nil, err
		}
		links = append(links, link)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate user links: %w", err)
	}

	return links, nil
}

// findOne は1件のUserLinkを取得する共通処理。
func (r *PostgresUserLinkRepo) findOne(ctx context.Context, query string, arg any) (*model.UserLink, error) {
	link := &model.UserLink{}
	var lastSync sql.NullTime

	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&link.ID, &link.PryvEndpoint, &link.ThryveToken, &lastSync, &link.CreatedAt, &link.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user link: %w", err)
	}

	if lastSync.Valid {
		t := lastSync.Time
		link.LastSync = &t
	}
	return link, nil
}

// scanUserLink はrows.Scanの共通処理。
func scanUserLink(rows *sql.Rows) (*model.UserLink, error) {
	link := &model.UserLink{}
	var lastSync sql.NullTime

	if err := rows.Scan(
		&link.ID, &link.PryvEndpoint, &link.ThryveToken, &lastSync, &link.CreatedAt, &link.UpdatedAt,
	); err != nil {
		return nil, fmt.Errorf("failed to scan user link: %w", err)
	}

	if lastSync.Valid {
		t := lastSync.Time
		link.LastSync = &t
	}
	return link, nil
}

// compile-time interface check
var _ UserLinkRepository = (*PostgresUserLinkRepo)(nil)
