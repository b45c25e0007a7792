package repo

import (
	"context"
	"database/sql"

	"github.com/didi/gendry/builder"

	"github.com/xxxsen/mdraft/internal/model"
	"github.com/xxxsen/mdraft/internal/pkg/dbutil"
	appErr "github.com/xxxsen/mdraft/internal/pkg/errors"
)

const (
	DocumentStateNormal  = 1
	DocumentStateDeleted = 2
)

const (
	documentCurrent = 1
)

var documentFields = []string{"id", "user_id", "title", "content", "chat_id", "is_current", "visibility", "slug", "state", "ctime", "mtime"}

type DocumentRepo struct {
	q dbutil.Executor
}

func NewDocumentRepo(db *sql.DB) *DocumentRepo {
	return &DocumentRepo{q: db}
}

// WithTx returns a copy bound to the transaction so multi-row writes commit
// or roll back together.
func (r *DocumentRepo) WithTx(tx *sql.Tx) *DocumentRepo {
	return &DocumentRepo{q: tx}
}

func (r *DocumentRepo) Create(ctx context.Context, doc *model.Document) error {
	data := map[string]interface{}{
		"id":         doc.ID,
		"user_id":    doc.UserID,
		"title":      doc.Title,
		"content":    doc.Content,
		"chat_id":    doc.ChatID,
		"is_current": doc.IsCurrent,
		"visibility": doc.Visibility,
		"slug":       doc.Slug,
		"state":      doc.State,
		"ctime":      doc.Ctime,
		"mtime":      doc.Mtime,
	}
	sqlStr, args, err := builder.BuildInsert("documents", []map[string]interface{}{data})
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

func (r *DocumentRepo) GetByID(ctx context.Context, userID, docID string) (*model.Document, error) {
	where := map[string]interface{}{
		"id":      docID,
		"user_id": userID,
		"state":   DocumentStateNormal,
	}
	sqlStr, args, err := builder.BuildSelect("documents", where, documentFields)
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
	var doc model.Document
	if err := scanDocument(rows, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (r *DocumentRepo) List(ctx context.Context, userID string, limit, offset uint) ([]model.Document, error) {
	where := map[string]interface{}{
		"user_id":  userID,
		"state":    DocumentStateNormal,
		"_orderby": "mtime desc",
	}
	if limit > 0 {
		where["_limit"] = []uint{offset, limit}
	}
	sqlStr, args, err := builder.BuildSelect("documents", where, documentFields)
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	rows, err := r.q.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	docs := make([]model.Document, 0)
	for rows.Next() {
		var doc model.Document
		if err := scanDocument(rows, &doc); err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// UpdateContent is the fast persistence path: it mutates only the live
// current row. Zero rows affected means the (id, owner, current) triple did
// not match and the caller gets not-found, never a silent write elsewhere.
func (r *DocumentRepo) UpdateContent(ctx context.Context, userID, docID, content string, mtime int64) error {
	where := map[string]interface{}{
		"id":         docID,
		"user_id":    userID,
		"is_current": documentCurrent,
		"state":      DocumentStateNormal,
	}
	update := map[string]interface{}{
		"content": content,
		"mtime":   mtime,
	}
	return r.update(ctx, where, update)
}

func (r *DocumentRepo) UpdateMeta(ctx context.Context, userID, docID, title, visibility, slug string, mtime int64) error {
	where := map[string]interface{}{
		"id":      docID,
		"user_id": userID,
		"state":   DocumentStateNormal,
	}
	update := map[string]interface{}{
		"title": title,
		"mtime": mtime,
	}
	if visibility != "" {
		update["visibility"] = visibility
	}
	if slug != "" {
		update["slug"] = slug
	}
	return r.update(ctx, where, update)
}

func (r *DocumentRepo) Delete(ctx context.Context, userID, docID string, mtime int64) error {
	where := map[string]interface{}{
		"id":      docID,
		"user_id": userID,
		"state":   DocumentStateNormal,
	}
	update := map[string]interface{}{
		"state": DocumentStateDeleted,
		"mtime": mtime,
	}
	return r.update(ctx, where, update)
}

// DeleteCreatedAfter bulk-removes documents created after a rollback
// timestamp. Only used by the rollback path.
func (r *DocumentRepo) DeleteCreatedAfter(ctx context.Context, userID string, ts int64) error {
	sqlStr := `UPDATE documents SET state = $1 WHERE user_id = $2 AND ctime > $3 AND state = $4`
	_, err := r.q.ExecContext(ctx, sqlStr, DocumentStateDeleted, userID, ts, DocumentStateNormal)
	return err
}

func (r *DocumentRepo) update(ctx context.Context, where, update map[string]interface{}) error {
	sqlStr, args, err := builder.BuildUpdate("documents", where, update)
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	result, err := r.q.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return appErr.ErrNotFound
	}
	return nil
}

func scanDocument(rows *sql.Rows, doc *model.Document) error {
	return rows.Scan(&doc.ID, &doc.UserID, &doc.Title, &doc.Content, &doc.ChatID, &doc.IsCurrent, &doc.Visibility, &doc.Slug, &doc.State, &doc.Ctime, &doc.Mtime)
}
