package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/xxxsen/mdraft/internal/model"
	appErr "github.com/xxxsen/mdraft/internal/pkg/errors"
	"github.com/xxxsen/mdraft/internal/repo"
)

func testService() *DocumentService {
	return &DocumentService{forkTolerance: time.Second}
}

func sampleVersions() []model.DocumentVersion {
	return []model.DocumentVersion{
		{Version: 1, Ctime: 1000},
		{Version: 2, Ctime: 5000},
		{Version: 3, Ctime: 9000},
	}
}

func TestSelectCut_ByVersion(t *testing.T) {
	s := testService()
	idx, err := s.selectCut(sampleVersions(), ForkCut{Version: 2})
	require.NoError(t, err)
	require.Equal(t, 1, idx)

	_, err = s.selectCut(sampleVersions(), ForkCut{Version: 7})
	require.ErrorIs(t, err, appErr.ErrForkTargetNotFound)
}

func TestSelectCut_ByTimestampWithinTolerance(t *testing.T) {
	s := testService()

	// Exact hit.
	idx, err := s.selectCut(sampleVersions(), ForkCut{Timestamp: 5000})
	require.NoError(t, err)
	require.Equal(t, 1, idx)

	// Near miss inside the tolerance picks the closest version.
	idx, err = s.selectCut(sampleVersions(), ForkCut{Timestamp: 5400})
	require.NoError(t, err)
	require.Equal(t, 1, idx)

	// Outside the tolerance nothing matches.
	_, err = s.selectCut(sampleVersions(), ForkCut{Timestamp: 3000})
	require.ErrorIs(t, err, appErr.ErrForkTargetNotFound)
}

func TestSelectCut_VersionBeatsTimestamp(t *testing.T) {
	s := testService()
	idx, err := s.selectCut(sampleVersions(), ForkCut{Version: 3, Timestamp: 1000})
	require.NoError(t, err)
	require.Equal(t, 2, idx)
}

func TestSelectCut_NoSelector(t *testing.T) {
	s := testService()
	_, err := s.selectCut(sampleVersions(), ForkCut{})
	require.ErrorIs(t, err, appErr.ErrInvalid)
}

func TestSelectCut_EmptyLineage(t *testing.T) {
	s := testService()
	_, err := s.selectCut(nil, ForkCut{Version: 1})
	require.ErrorIs(t, err, appErr.ErrForkTargetNotFound)
}

func TestOperations_RejectPlaceholderIDs(t *testing.T) {
	s := testService()
	ctx := context.Background()
	for _, id := range []string{"init", "undefined", "null", "", "not-a-uuid"} {
		_, err := s.Get(ctx, "u1", id)
		require.ErrorIs(t, err, appErr.ErrInvalid, "Get(%q)", id)
		err = s.UpdateCurrentContent(ctx, "u1", id, "content")
		require.ErrorIs(t, err, appErr.ErrInvalid, "UpdateCurrentContent(%q)", id)
		_, err = s.CreateVersionIfChanged(ctx, "u1", id, "content")
		require.ErrorIs(t, err, appErr.ErrInvalid, "CreateVersionIfChanged(%q)", id)
		_, err = s.ForkAt(ctx, "u1", id, ForkCut{Version: 1}, "")
		require.ErrorIs(t, err, appErr.ErrInvalid, "ForkAt(%q)", id)
	}
}

func TestForkAt_RollsBackWhenCopyFailsPartway(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	svc := NewDocumentService(db, repo.NewDocumentRepo(db), repo.NewVersionRepo(db), 1000)
	docID := "11111111-2222-3333-4444-555555555555"

	docCols := []string{"id", "user_id", "title", "content", "chat_id", "is_current", "visibility", "slug", "state", "ctime", "mtime"}
	mock.ExpectQuery("SELECT .+ FROM documents").
		WillReturnRows(sqlmock.NewRows(docCols).
			AddRow(docID, "u1", "source", "v2 content", "", 1, "private", "", 1, int64(1000), int64(2000)))

	verCols := []string{"id", "user_id", "document_id", "version", "content", "diff_added", "diff_removed", "prev_version_id", "ctime", "mtime"}
	mock.ExpectQuery("SELECT .+ FROM document_versions").
		WillReturnRows(sqlmock.NewRows(verCols).
			AddRow("v1", "u1", docID, 1, "v1 content", 0, 0, "", int64(1000), int64(1000)).
			AddRow("v2", "u1", docID, 2, "v2 content", 2, 0, "v1", int64(1500), int64(1500)))

	// The forked document and the first copied version land, then the copy
	// dies mid-lineage. The whole transaction must roll back so no partially
	// forked lineage ever becomes visible.
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO documents").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO document_versions").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO document_versions").WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	_, err = svc.ForkAt(context.Background(), "u1", docID, ForkCut{Version: 2}, "branch")
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRollbackAfter_RequiresTimestamp(t *testing.T) {
	s := testService()
	err := s.RollbackAfter(context.Background(), "u1", "11111111-2222-3333-4444-555555555555", 0)
	require.ErrorIs(t, err, appErr.ErrInvalid)
}

func TestGetVersion_RejectsNonPositive(t *testing.T) {
	s := testService()
	_, err := s.GetVersion(context.Background(), "u1", "11111111-2222-3333-4444-555555555555", 0)
	require.ErrorIs(t, err, appErr.ErrInvalid)
}
