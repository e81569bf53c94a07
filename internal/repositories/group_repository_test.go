package repositories

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/require"
)

var groupRowColumns = []string{"id", "name", "owner_id", "invitation_token", "invitation_enabled", "created_at"}

func tokenRow(groupID uuid.UUID, enabled bool) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "invitation_enabled"}).AddRow(groupID.String(), enabled)
}

func TestCreateGroupAddsOwnerMembership(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewGroupRepo(db)
	groupID, owner := uuid.New(), uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO groups \(name, owner_id, invitation_token\)`).
		WithArgs("book club", owner, "tok").
		WillReturnRows(sqlmock.NewRows(groupRowColumns).AddRow(groupID.String(), "book club", owner.String(), "tok", true, time.Now()))
	mock.ExpectExec(`INSERT INTO group_members \(group_id, user_id, role\) VALUES \(\$1, \$2, 'owner'\)`).
		WithArgs(groupID, owner).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	group, err := repo.CreateGroup(context.Background(), owner, "book club", "tok")
	require.NoError(t, err)
	require.Equal(t, groupID, group.ID)
	require.True(t, group.InvitationEnabled)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateGroupTokenCollision(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewGroupRepo(db)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO groups`).WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectRollback()

	_, err := repo.CreateGroup(context.Background(), uuid.New(), "g", "taken")
	require.ErrorIs(t, err, ErrTokenConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReplaceInvitationToken(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewGroupRepo(db)
	groupID := uuid.New()

	mock.ExpectExec(`UPDATE groups SET invitation_token=\$2 WHERE id=\$1`).
		WithArgs(groupID, "taken").
		WillReturnError(&pq.Error{Code: "23505"})
	require.ErrorIs(t, repo.ReplaceInvitationToken(context.Background(), groupID, "taken"), ErrTokenConflict)

	mock.ExpectExec(`UPDATE groups SET invitation_token=\$2 WHERE id=\$1`).
		WithArgs(groupID, "fresh").
		WillReturnResult(sqlmock.NewResult(0, 0))
	require.ErrorIs(t, repo.ReplaceInvitationToken(context.Background(), groupID, "fresh"), ErrGroupNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJoinViaTokenLocksGroupAndInserts(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewGroupRepo(db)
	groupID, user := uuid.New(), uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, invitation_enabled FROM groups WHERE invitation_token=\$1 FOR SHARE`).
		WithArgs("tok").
		WillReturnRows(tokenRow(groupID, true))
	mock.ExpectExec(`INSERT INTO group_members .* ON CONFLICT \(group_id, user_id\) DO NOTHING`).
		WithArgs(groupID, user).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	joined, err := repo.JoinViaToken(context.Background(), "tok", groupID, user)
	require.NoError(t, err)
	require.True(t, joined)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJoinViaTokenExistingMemberIsNoop(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewGroupRepo(db)
	groupID, user := uuid.New(), uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR SHARE`).WillReturnRows(tokenRow(groupID, true))
	mock.ExpectExec(`INSERT INTO group_members`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	joined, err := repo.JoinViaToken(context.Background(), "tok", groupID, user)
	require.NoError(t, err)
	require.False(t, joined)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJoinViaTokenRejects(t *testing.T) {
	groupID := uuid.New()
	cases := []struct {
		name string
		rows *sqlmock.Rows
		err  error
		want error
	}{
		{name: "unknown token", err: sql.ErrNoRows, want: ErrTokenNotFound},
		{name: "token moved to another group", rows: tokenRow(uuid.New(), true), want: ErrTokenNotFound},
		{name: "invitations disabled", rows: tokenRow(groupID, false), want: ErrInvitationsDisabled},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			db, mock := newMockDB(t)
			repo := NewGroupRepo(db)

			mock.ExpectBegin()
			q := mock.ExpectQuery(`FOR SHARE`).WithArgs("tok")
			if tc.err != nil {
				q.WillReturnError(tc.err)
			} else {
				q.WillReturnRows(tc.rows)
			}
			mock.ExpectRollback()

			joined, err := repo.JoinViaToken(context.Background(), "tok", groupID, uuid.New())
			require.ErrorIs(t, err, tc.want)
			require.False(t, joined)
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestDeleteGroupMissing(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewGroupRepo(db)
	groupID := uuid.New()

	mock.ExpectExec(`DELETE FROM groups WHERE id=\$1`).
		WithArgs(groupID).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.ErrorIs(t, repo.DeleteGroup(context.Background(), groupID), ErrGroupNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMemberRoleWithoutMembership(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewGroupRepo(db)

	mock.ExpectQuery(`SELECT role FROM group_members WHERE group_id=\$1 AND user_id=\$2`).
		WillReturnError(sql.ErrNoRows)

	role, ok, err := repo.MemberRole(context.Background(), uuid.New(), uuid.New())
	require.NoError(t, err)
	require.False(t, ok)
	require.Empty(t, role)
	require.NoError(t, mock.ExpectationsWereMet())
}
