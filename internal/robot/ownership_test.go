package robot

import (
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

func newTestRepo(t *testing.T) (*Repository, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return NewRepository(db), mock
}

func TestRequireOwnershipMissingRobot(t *testing.T) {
	repo, mock := newTestRepo(t)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM robots`)).
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows(robotColumns()))

	handler := RequireOwnership(repo, http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run for a missing robot")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, authedRequest("/robots/start", `{"robotId":"ghost"}`, "u1"))

	require.Equal(t, http.StatusNotFound, rec.Code)
	require.JSONEq(t, `{"error":"robot not found"}`, rec.Body.String())
}

func TestRequireOwnershipWrongOwner(t *testing.T) {
	repo, mock := newTestRepo(t)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM robots`)).
		WithArgs("r1").
		WillReturnRows(robotRow("r1", "u1", StatusOff))

	handler := RequireOwnership(repo, http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run for a non-owner")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, authedRequest("/robots/start", `{"robotId":"r1"}`, "u2"))

	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRequireOwnershipUnownedRobot(t *testing.T) {
	repo, mock := newTestRepo(t)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM robots`)).
		WithArgs("r2").
		WillReturnRows(robotRow("r2", nil, StatusOff))

	handler := RequireOwnership(repo, http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run for an unowned robot")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, authedRequest("/robots/start", `{"robotId":"r2"}`, "u1"))

	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRequireOwnershipNoIdentity(t *testing.T) {
	repo, mock := newTestRepo(t)

	handler := RequireOwnership(repo, http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run without an identity")
	}))

	req := httptest.NewRequest(http.MethodPost, "/robots/start", nil)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRequireOwnershipAttachesRobotAndRestoresBody(t *testing.T) {
	repo, mock := newTestRepo(t)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM robots`)).
		WithArgs("r1").
		WillReturnRows(robotRow("r1", "u1", StatusRoaming))

	var seen Robot
	var body []byte
	handler := RequireOwnership(repo, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		robot, ok := RobotFromContext(r.Context())
		require.True(t, ok)
		seen = robot

		var err error
		body, err = io.ReadAll(r.Body)
		require.NoError(t, err)
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, authedRequest("/robots/rename", `{"robotId":"r1","name":"Skimmer"}`, "u1"))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "r1", seen.RobotID)
	require.Equal(t, StatusRoaming, seen.Status)
	require.JSONEq(t, `{"robotId":"r1","name":"Skimmer"}`, string(body))
}

func TestRequireOwnershipMissingRobotID(t *testing.T) {
	repo, mock := newTestRepo(t)

	handler := RequireOwnership(repo, http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run without a robot id")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, authedRequest("/robots/start", `{}`, "u1"))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.NoError(t, mock.ExpectationsWereMet())
}
