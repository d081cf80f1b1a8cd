package sqlscript

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	sqlassets "github.com/zenGate-Global/palmyra-worlds/database"
)

func sqlOf(stmts []Statement) []string {
	out := make([]string, 0, len(stmts))
	for _, s := range stmts {
		out = append(out, s.SQL)
	}
	return out
}

func TestSplit(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		script string
		expect []string
	}{
		{
			name:   "plain statements",
			script: "CREATE TABLE a (id int);\nSELECT 1;",
			expect: []string{"CREATE TABLE a (id int)", "SELECT 1"},
		},
		{
			name:   "terminator inside single quotes",
			script: "INSERT INTO t VALUES ('a;b');\nSELECT 1;",
			expect: []string{"INSERT INTO t VALUES ('a;b')", "SELECT 1"},
		},
		{
			name:   "doubled quote escape",
			script: "SELECT 'it''s; fine';",
			expect: []string{"SELECT 'it''s; fine'"},
		},
		{
			name:   "backslash escape",
			script: "SELECT 'a\\';b';",
			expect: []string{"SELECT 'a\\';b'"},
		},
		{
			name:   "terminator inside identifiers",
			script: "SELECT `we;ird` FROM \"x;y\";",
			expect: []string{"SELECT `we;ird` FROM \"x;y\""},
		},
		{
			name:   "comments are dropped",
			script: "-- hello; world\nSELECT 1; # trailing; note\n/* block; */ SELECT 2;",
			expect: []string{"SELECT 1", "SELECT 2"},
		},
		{
			name:   "double dash without space is an operator",
			script: "SELECT 5--1;",
			expect: []string{"SELECT 5--1"},
		},
		{
			name:   "executable comments are kept",
			script: "/*!40101 SET NAMES utf8mb4 */;",
			expect: []string{"/*!40101 SET NAMES utf8mb4 */"},
		},
		{
			name:   "routine body without delimiter directive",
			script: "CREATE PROCEDURE p()\nBEGIN\n  IF 1 THEN\n    SELECT 1;\n  END IF;\n  SELECT 2;\nEND;\nSELECT 3;",
			expect: []string{
				"CREATE PROCEDURE p()\nBEGIN\n  IF 1 THEN\n    SELECT 1;\n  END IF;\n  SELECT 2;\nEND",
				"SELECT 3",
			},
		},
		{
			name:   "lowercase delimiter directive",
			script: "delimiter //\nSELECT 1; SELECT 2//\ndelimiter ;\nSELECT 3;",
			expect: []string{"SELECT 1; SELECT 2", "SELECT 3"},
		},
		{
			name:   "empty statements skipped",
			script: ";;  ;\n",
			expect: []string{},
		},
		{
			name:   "missing final terminator",
			script: "SELECT 1;\nSELECT 2",
			expect: []string{"SELECT 1", "SELECT 2"},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			stmts, err := Split(tt.script)
			require.NoError(t, err)
			require.Equal(t, tt.expect, sqlOf(stmts))
		})
	}
}

func TestSplitDelimiterTrigger(t *testing.T) {
	t.Parallel()

	script := strings.Join([]string{
		"DELIMITER $$",
		"CREATE TRIGGER t BEFORE INSERT ON users",
		"FOR EACH ROW",
		"BEGIN",
		"  SET NEW.a = 1;",
		"END$$",
		"DELIMITER ;",
		"SELECT 1;",
	}, "\n")

	stmts, err := Split(script)
	require.NoError(t, err)
	require.Len(t, stmts, 2)

	require.Equal(t, "CREATE TRIGGER t BEFORE INSERT ON users\nFOR EACH ROW\nBEGIN\n  SET NEW.a = 1;\nEND", stmts[0].SQL)
	require.Equal(t, 2, stmts[0].Line)
	require.Equal(t, "SELECT 1", stmts[1].SQL)
	require.Equal(t, 8, stmts[1].Line)
}

func TestSplitUnterminated(t *testing.T) {
	t.Parallel()

	for _, script := range []string{"SELECT 'abc", "SELECT 1 /* open", "/*! SET x = 1"} {
		_, err := Split(script)
		require.ErrorIs(t, err, ErrUnterminated, script)
	}
}

func TestMustSplitPanicsOnBrokenScript(t *testing.T) {
	t.Parallel()

	require.Panics(t, func() { MustSplit("SELECT `x") })
}

func TestSplitEmbeddedWorldSchema(t *testing.T) {
	t.Parallel()

	stmts, err := Split(sqlassets.WorldSchemaSQL)
	require.NoError(t, err)
	require.Len(t, stmts, 6)

	require.Equal(t, 3, stmts[0].Line)
	require.True(t, strings.HasPrefix(stmts[0].SQL, "/*!40101"))
	require.Contains(t, stmts[4].SQL, "schema imported; waiting for installer")
	require.True(t, strings.HasPrefix(stmts[5].SQL, "CREATE TRIGGER"))
	require.True(t, strings.HasSuffix(stmts[5].SQL, "END"))
}
