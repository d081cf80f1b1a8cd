package worlddb

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/require"
)

func TestTargetDSN(t *testing.T) {
	t.Parallel()

	target := Target{Host: "db.internal", User: "root", Password: "p@ss:word", Database: "worlds_s9"}
	require.Equal(t, "db.internal:3306", target.Addr())

	cfg, err := mysql.ParseDSN(target.DSN())
	require.NoError(t, err)
	require.Equal(t, "db.internal:3306", cfg.Addr)
	require.Equal(t, "root", cfg.User)
	require.Equal(t, "p@ss:word", cfg.Passwd)
	require.Equal(t, "worlds_s9", cfg.DBName)
	require.Equal(t, Collation, cfg.Collation)

	require.Equal(t, "db.internal:3307", Target{Host: "db.internal:3307"}.Addr())
	require.Empty(t, target.Server().Database)
}

func TestSanitizeDatabaseName(t *testing.T) {
	t.Parallel()

	require.Equal(t, "worlds_s9", SanitizeDatabaseName("worlds_s9"))
	require.Equal(t, "worldss9dropx", SanitizeDatabaseName("worlds-s9`; drop x"))
	require.Equal(t, "", SanitizeDatabaseName("`;-"))
}

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func TestCreateAndDropDatabase(t *testing.T) {
	db, mock := newMock(t)
	ctx := context.Background()

	mock.ExpectQuery("SELECT COUNT(*) FROM INFORMATION_SCHEMA.SCHEMATA WHERE SCHEMA_NAME = ?").
		WithArgs("worlds_s9").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec("CREATE DATABASE IF NOT EXISTS `worlds_s9` CHARACTER SET utf8mb4 COLLATE utf8mb4_unicode_ci").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DROP DATABASE IF EXISTS `worlds_s9`").
		WillReturnResult(sqlmock.NewResult(0, 0))

	exists, err := DatabaseExists(ctx, db, "worlds_s9")
	require.NoError(t, err)
	require.False(t, exists)

	name, err := CreateDatabase(ctx, db, "worlds_s9;")
	require.NoError(t, err)
	require.Equal(t, "worlds_s9", name)

	require.NoError(t, DropDatabase(ctx, db, "worlds_s9"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateDatabaseRejectsEmptyName(t *testing.T) {
	db, _ := newMock(t)
	_, err := CreateDatabase(context.Background(), db, "--")
	require.ErrorIs(t, err, ErrEmptyDatabaseName)
}

func TestImportScript(t *testing.T) {
	db, mock := newMock(t)

	script := "/*!40101 SET NAMES utf8mb4 */;\nINSERT INTO t VALUES ('a;b');\nDELIMITER $$\nCREATE TRIGGER x BEFORE INSERT ON t FOR EACH ROW BEGIN SET NEW.a = 1; END$$\nDELIMITER ;\n"

	mock.ExpectExec("/*!40101 SET NAMES utf8mb4 */").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO t VALUES ('a;b')").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("CREATE TRIGGER x BEFORE INSERT ON t FOR EACH ROW BEGIN SET NEW.a = 1; END").
		WillReturnResult(sqlmock.NewResult(0, 0))

	n, err := ImportScript(context.Background(), db, script)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestImportScriptReportsFailingLine(t *testing.T) {
	db, mock := newMock(t)

	mock.ExpectExec("SELECT 1").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("SELECT broken").WillReturnError(errors.New("syntax error"))

	n, err := ImportScript(context.Background(), db, "SELECT 1;\n\nSELECT broken;\nSELECT 3;")
	require.Error(t, err)
	require.Equal(t, 1, n)
	require.Contains(t, err.Error(), "line 3")
}

func TestOpenerFunc(t *testing.T) {
	db, _ := newMock(t)
	var seen Target
	opener := OpenerFunc(func(ctx context.Context, target Target) (*sql.DB, error) {
		seen = target
		return db, nil
	})

	got, err := opener.Open(context.Background(), Target{Host: "h", Database: "d"})
	require.NoError(t, err)
	require.Same(t, db, got)
	require.Equal(t, "d", seen.Database)
}
