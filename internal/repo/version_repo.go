package repo

import (
	"context"
	"database/sql"

	"github.com/didi/gendry/builder"

	"github.com/xxxsen/mdraft/internal/model"
	"github.com/xxxsen/mdraft/internal/pkg/dbutil"
	appErr "github.com/xxxsen/mdraft/internal/pkg/errors"
)

var versionFields = []string{"id", "user_id", "document_id", "version", "content", "diff_added", "diff_removed", "prev_version_id", "ctime", "mtime"}

type VersionRepo struct {
	q dbutil.Executor
}

func NewVersionRepo(db *sql.DB) *VersionRepo {
	return &VersionRepo{q: db}
}

func (r *VersionRepo) WithTx(tx *sql.Tx) *VersionRepo {
	return &VersionRepo{q: tx}
}

func (r *VersionRepo) Create(ctx context.Context, version *model.DocumentVersion) error {
	data := map[string]interface{}{
		"id":              version.ID,
		"user_id":         version.UserID,
		"document_id":     version.DocumentID,
		"version":         version.Version,
		"content":         version.Content,
		"diff_added":      version.DiffAdded,
		"diff_removed":    version.DiffRemoved,
		"prev_version_id": version.PrevVersionID,
		"ctime":           version.Ctime,
		"mtime":           version.Mtime,
	}
	sqlStr, args, err := builder.BuildInsert("document_versions", []map[string]interface{}{data})
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	_, err = r.q.ExecContext(ctx, sqlStr, args...)
	if dbutil.IsConflict(err) {
		return appErr.ErrConflict
	}
	return err
}

func (r *VersionRepo) GetLatest(ctx context.Context, userID, docID string) (*model.DocumentVersion, error) {
	where := map[string]interface{}{
		"user_id":     userID,
		"document_id": docID,
		"_orderby":    "version desc",
		"_limit":      []uint{0, 1},
	}
	return r.selectOne(ctx, where)
}

func (r *VersionRepo) GetByVersion(ctx context.Context, userID, docID string, version int) (*model.DocumentVersion, error) {
	where := map[string]interface{}{
		"user_id":     userID,
		"document_id": docID,
		"version":     version,
	}
	return r.selectOne(ctx, where)
}

// List returns every historical version of a lineage in ascending version
// order.
func (r *VersionRepo) List(ctx context.Context, userID, docID string) ([]model.DocumentVersion, error) {
	where := map[string]interface{}{
		"user_id":     userID,
		"document_id": docID,
		"_orderby":    "version asc",
	}
	sqlStr, args, err := builder.BuildSelect("document_versions", where, versionFields)
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	rows, err := r.q.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	versions := make([]model.DocumentVersion, 0)
	for rows.Next() {
		var v model.DocumentVersion
		if err := scanVersion(rows, &v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// DeleteCreatedAfter bulk-removes version rows created after a rollback
// timestamp, the only deletion normal operation allows.
func (r *VersionRepo) DeleteCreatedAfter(ctx context.Context, userID, docID string, ts int64) error {
	sqlStr := `DELETE FROM document_versions WHERE user_id = $1 AND document_id = $2 AND ctime > $3`
	_, err := r.q.ExecContext(ctx, sqlStr, userID, docID, ts)
	return err
}

func (r *VersionRepo) selectOne(ctx context.Context, where map[string]interface{}) (*model.DocumentVersion, error) {
	sqlStr, args, err := builder.BuildSelect("document_versions", where, versionFields)
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	rows, err := r.q.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	if !rows.Next() {
		return nil, appErr.ErrNotFound
	}
	var v model.DocumentVersion
	if err := scanVersion(rows, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func scanVersion(rows *sql.Rows, v *model.DocumentVersion) error {
	return rows.Scan(&v.ID, &v.UserID, &v.DocumentID, &v.Version, &v.Content, &v.DiffAdded, &v.DiffRemoved, &v.PrevVersionID, &v.Ctime, &v.Mtime)
}
