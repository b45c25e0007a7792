package service

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/mdraft/internal/diff"
	"github.com/xxxsen/mdraft/internal/model"
	"github.com/xxxsen/mdraft/internal/pkg/dbutil"
	appErr "github.com/xxxsen/mdraft/internal/pkg/errors"
	"github.com/xxxsen/mdraft/internal/pkg/idutil"
	"github.com/xxxsen/mdraft/internal/pkg/timeutil"
	"github.com/xxxsen/mdraft/internal/repo"
	"github.com/xxxsen/mdraft/internal/richdoc"
)

// ForkCut selects the point in a lineage a fork copies up to. Version is the
// primary, unambiguous selector; Timestamp is a convenience fallback matched
// against version creation times within the configured tolerance.
type ForkCut struct {
	Version   int   `json:"version"`
	Timestamp int64 `json:"timestamp"`
}

type DiffPreview struct {
	Doc     *richdoc.Node `json:"doc"`
	Summary diff.Summary  `json:"summary"`
}

type DocumentService struct {
	db            *sql.DB
	docs          *repo.DocumentRepo
	versions      *repo.VersionRepo
	forkTolerance time.Duration
	previews      *expirable.LRU[string, *DiffPreview]
}

func NewDocumentService(db *sql.DB, docs *repo.DocumentRepo, versions *repo.VersionRepo, forkToleranceMS int) *DocumentService {
	tolerance := time.Duration(forkToleranceMS) * time.Millisecond
	if tolerance <= 0 {
		tolerance = time.Second
	}
	return &DocumentService{
		db:            db,
		docs:          docs,
		versions:      versions,
		forkTolerance: tolerance,
		previews:      expirable.NewLRU[string, *DiffPreview](1024, nil, 10*time.Minute),
	}
}

// Create inserts the document row together with version 1 mirroring its
// initial content. A document must never exist with zero versions, so both
// rows go in one transaction.
func (s *DocumentService) Create(ctx context.Context, userID, title, content string) (*model.Document, error) {
	if userID == "" {
		return nil, appErr.ErrUnauthorized
	}
	now := timeutil.NowUnixMilli()
	doc := &model.Document{
		ID:         idutil.NewID(),
		UserID:     userID,
		Title:      strings.TrimSpace(title),
		Content:    content,
		IsCurrent:  1,
		Visibility: model.VisibilityPrivate,
		State:      repo.DocumentStateNormal,
		Ctime:      now,
		Mtime:      now,
	}
	version := &model.DocumentVersion{
		ID:         idutil.NewID(),
		UserID:     userID,
		DocumentID: doc.ID,
		Version:    1,
		Content:    content,
		Ctime:      now,
		Mtime:      now,
	}
	err := dbutil.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if err := s.docs.WithTx(tx).Create(ctx, doc); err != nil {
			return err
		}
		return s.versions.WithTx(tx).Create(ctx, version)
	})
	if err != nil {
		return nil, err
	}
	logutil.GetLogger(ctx).Info("document created",
		zap.String("doc_id", doc.ID),
		zap.String("user_id", userID),
	)
	return doc, nil
}

func (s *DocumentService) Get(ctx context.Context, userID, docID string) (*model.Document, error) {
	if err := idutil.ValidateDocID(docID); err != nil {
		return nil, err
	}
	return s.docs.GetByID(ctx, userID, docID)
}

func (s *DocumentService) List(ctx context.Context, userID string, limit, offset uint) ([]model.Document, error) {
	return s.docs.List(ctx, userID, limit, offset)
}

// UpdateCurrentContent is the fast persistence path: it mutates the mutable
// head row and nothing else.
func (s *DocumentService) UpdateCurrentContent(ctx context.Context, userID, docID, content string) error {
	if err := idutil.ValidateDocID(docID); err != nil {
		return err
	}
	return s.docs.UpdateContent(ctx, userID, docID, content, timeutil.NowUnixMilli())
}

func (s *DocumentService) UpdateMeta(ctx context.Context, userID, docID, title, visibility, slug string) error {
	if err := idutil.ValidateDocID(docID); err != nil {
		return err
	}
	if visibility != "" && visibility != model.VisibilityPrivate && visibility != model.VisibilityPublic {
		return appErr.ErrInvalid
	}
	return s.docs.UpdateMeta(ctx, userID, docID, strings.TrimSpace(title), visibility, slug, timeutil.NowUnixMilli())
}

// CreateVersionIfChanged appends a history snapshot unless the content is
// identical to the newest existing version; identical content is a no-op so
// the ledger never records empty edits.
func (s *DocumentService) CreateVersionIfChanged(ctx context.Context, userID, docID, content string) (*model.DocumentVersion, error) {
	if err := idutil.ValidateDocID(docID); err != nil {
		return nil, err
	}
	if _, err := s.docs.GetByID(ctx, userID, docID); err != nil {
		return nil, err
	}
	latest, err := s.versions.GetLatest(ctx, userID, docID)
	if err != nil && !appErr.IsNotFound(err) {
		return nil, err
	}
	nextVersion := 1
	prevID := ""
	prevContent := ""
	if latest != nil {
		if latest.Content == content {
			return nil, nil
		}
		nextVersion = latest.Version + 1
		prevID = latest.ID
		prevContent = latest.Content
	}
	summary := diff.Summarize(prevContent, content)
	now := timeutil.NowUnixMilli()
	version := &model.DocumentVersion{
		ID:            idutil.NewID(),
		UserID:        userID,
		DocumentID:    docID,
		Version:       nextVersion,
		Content:       content,
		DiffAdded:     summary.Added,
		DiffRemoved:   summary.Removed,
		PrevVersionID: prevID,
		Ctime:         now,
		Mtime:         now,
	}
	if err := s.versions.Create(ctx, version); err != nil {
		return nil, err
	}
	logutil.GetLogger(ctx).Info("version created",
		zap.String("doc_id", docID),
		zap.Int("version", nextVersion),
		zap.Int("added", summary.Added),
		zap.Int("removed", summary.Removed),
	)
	return version, nil
}

// ListAllVersions returns the unified history view: every snapshot ascending
// plus a synthetic final entry for the live document content, flagged
// current. This is the list version-navigation UIs scrub over.
func (s *DocumentService) ListAllVersions(ctx context.Context, userID, docID string) ([]model.VersionEntry, error) {
	if err := idutil.ValidateDocID(docID); err != nil {
		return nil, err
	}
	doc, err := s.docs.GetByID(ctx, userID, docID)
	if err != nil {
		return nil, err
	}
	versions, err := s.versions.List(ctx, userID, docID)
	if err != nil {
		return nil, err
	}
	entries := make([]model.VersionEntry, 0, len(versions)+1)
	for _, v := range versions {
		entries = append(entries, model.VersionEntry{
			Version:     v.Version,
			Content:     v.Content,
			DiffAdded:   v.DiffAdded,
			DiffRemoved: v.DiffRemoved,
			Ctime:       v.Ctime,
		})
	}
	live := model.VersionEntry{
		Version:   len(versions) + 1,
		Content:   doc.Content,
		Ctime:     doc.Mtime,
		IsCurrent: true,
	}
	if n := len(versions); n > 0 {
		summary := diff.Summarize(versions[n-1].Content, doc.Content)
		live.DiffAdded = summary.Added
		live.DiffRemoved = summary.Removed
	}
	return append(entries, live), nil
}

func (s *DocumentService) GetVersion(ctx context.Context, userID, docID string, version int) (*model.DocumentVersion, error) {
	if err := idutil.ValidateDocID(docID); err != nil {
		return nil, err
	}
	if version <= 0 {
		return nil, appErr.ErrInvalid
	}
	return s.versions.GetByVersion(ctx, userID, docID, version)
}

// DiffPreview renders the selected historical version against the live
// content as an annotated merged document. Results are cached; the cache key
// includes the live mtime so a new edit invalidates stale previews.
func (s *DocumentService) DiffPreview(ctx context.Context, userID, docID string, version int) (*DiffPreview, error) {
	if err := idutil.ValidateDocID(docID); err != nil {
		return nil, err
	}
	doc, err := s.docs.GetByID(ctx, userID, docID)
	if err != nil {
		return nil, err
	}
	key := fmt.Sprintf("%s:%d:%d", docID, version, doc.Mtime)
	if cached, ok := s.previews.Get(key); ok {
		return cached, nil
	}
	selected, err := s.versions.GetByVersion(ctx, userID, docID, version)
	if err != nil {
		return nil, err
	}
	preview := &DiffPreview{
		Doc:     diff.Annotate(selected.Content, doc.Content),
		Summary: diff.Summarize(selected.Content, doc.Content),
	}
	s.previews.Add(key, preview)
	return preview, nil
}

// ForkAt branches a new lineage from the selected cut point: a brand-new
// document id, the version chain copied up to and including the cut, and
// live content set to the cut version's content. The copy is atomic; a
// partially-forked lineage is never visible. The new lineage keeps no
// reference to its source, so edits to either never affect the other.
func (s *DocumentService) ForkAt(ctx context.Context, userID, docID string, cut ForkCut, newTitle string) (*model.Document, error) {
	if err := idutil.ValidateDocID(docID); err != nil {
		return nil, err
	}
	source, err := s.docs.GetByID(ctx, userID, docID)
	if err != nil {
		return nil, err
	}
	versions, err := s.versions.List(ctx, userID, docID)
	if err != nil {
		return nil, err
	}
	cutIdx, err := s.selectCut(versions, cut)
	if err != nil {
		return nil, err
	}

	now := timeutil.NowUnixMilli()
	title := strings.TrimSpace(newTitle)
	if title == "" {
		title = source.Title + " (fork)"
	}
	forked := &model.Document{
		ID:         idutil.NewID(),
		UserID:     userID,
		Title:      title,
		Content:    versions[cutIdx].Content,
		IsCurrent:  1,
		Visibility: model.VisibilityPrivate,
		State:      repo.DocumentStateNormal,
		Ctime:      now,
		Mtime:      now,
	}
	err = dbutil.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if err := s.docs.WithTx(tx).Create(ctx, forked); err != nil {
			return err
		}
		txVersions := s.versions.WithTx(tx)
		prevID := ""
		for i := 0; i <= cutIdx; i++ {
			src := versions[i]
			copied := &model.DocumentVersion{
				ID:            idutil.NewID(),
				UserID:        userID,
				DocumentID:    forked.ID,
				Version:       src.Version,
				Content:       src.Content,
				DiffAdded:     src.DiffAdded,
				DiffRemoved:   src.DiffRemoved,
				PrevVersionID: prevID,
				Ctime:         src.Ctime,
				Mtime:         now,
			}
			if err := txVersions.Create(ctx, copied); err != nil {
				return err
			}
			prevID = copied.ID
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	logutil.GetLogger(ctx).Info("document forked",
		zap.String("source_doc_id", docID),
		zap.String("forked_doc_id", forked.ID),
		zap.Int("versions_copied", cutIdx+1),
	)
	return forked, nil
}

func (s *DocumentService) selectCut(versions []model.DocumentVersion, cut ForkCut) (int, error) {
	if len(versions) == 0 {
		return 0, appErr.ErrForkTargetNotFound
	}
	if cut.Version > 0 {
		for i, v := range versions {
			if v.Version == cut.Version {
				return i, nil
			}
		}
		return 0, appErr.ErrForkTargetNotFound
	}
	if cut.Timestamp > 0 {
		tolerance := s.forkTolerance.Milliseconds()
		best := -1
		var bestDist int64
		for i, v := range versions {
			dist := v.Ctime - cut.Timestamp
			if dist < 0 {
				dist = -dist
			}
			if dist > tolerance {
				continue
			}
			if best < 0 || dist < bestDist {
				best = i
				bestDist = dist
			}
		}
		if best < 0 {
			return 0, appErr.ErrForkTargetNotFound
		}
		return best, nil
	}
	return 0, appErr.ErrInvalid
}

func (s *DocumentService) Delete(ctx context.Context, userID, docID string) error {
	if err := idutil.ValidateDocID(docID); err != nil {
		return err
	}
	return s.docs.Delete(ctx, userID, docID, timeutil.NowUnixMilli())
}

// RollbackAfter bulk-deletes versions (and documents) created after the
// given timestamp, the cleanup path for content created past a rollback
// point.
func (s *DocumentService) RollbackAfter(ctx context.Context, userID, docID string, ts int64) error {
	if err := idutil.ValidateDocID(docID); err != nil {
		return err
	}
	if ts <= 0 {
		return appErr.ErrInvalid
	}
	if _, err := s.docs.GetByID(ctx, userID, docID); err != nil {
		return err
	}
	return dbutil.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if err := s.versions.WithTx(tx).DeleteCreatedAfter(ctx, userID, docID, ts); err != nil {
			return err
		}
		return s.docs.WithTx(tx).DeleteCreatedAfter(ctx, userID, ts)
	})
}
