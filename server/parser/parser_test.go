package parser

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/petreldb/petrel-server/server/common"
)

func TestParseCreateTable(t *testing.T) {
	stmt, err := Parse("CREATE TABLE warehouse (w_id INT, w_name CHAR(10), w_tax FLOAT);")
	require.NoError(t, err)
	ct, ok := stmt.(*CreateTableStmt)
	require.True(t, ok)
	require.Equal(t, "warehouse", ct.Table)
	require.Equal(t, []ColDef{
		{Name: "w_id", Type: common.TypeInt, Len: common.IntLen},
		{Name: "w_name", Type: common.TypeString, Len: 10},
		{Name: "w_tax", Type: common.TypeFloat, Len: common.FloatLen},
	}, ct.Cols)
}

func TestParseIndexStatements(t *testing.T) {
	stmt, err := Parse("create index warehouse(w_id);")
	require.NoError(t, err)
	ci := stmt.(*CreateIndexStmt)
	require.Equal(t, "warehouse", ci.Table)
	require.Equal(t, []string{"w_id"}, ci.Cols)

	stmt, err = Parse("create index warehouse(w_id, w_name);")
	require.NoError(t, err)
	ci = stmt.(*CreateIndexStmt)
	require.Equal(t, []string{"w_id", "w_name"}, ci.Cols)

	stmt, err = Parse("drop index warehouse(w_id, w_name);")
	require.NoError(t, err)
	di := stmt.(*DropIndexStmt)
	require.Equal(t, "warehouse", di.Table)
	require.Equal(t, []string{"w_id", "w_name"}, di.Cols)

	_, err = Parse("create index warehouse();")
	require.ErrorIs(t, err, common.ErrSyntax)
}

func TestParseInsert(t *testing.T) {
	stmt, err := Parse("INSERT INTO t VALUES (1, -2.5, 'ab', 5000000000);")
	require.NoError(t, err)
	ins := stmt.(*InsertStmt)
	require.Equal(t, "t", ins.Table)
	require.Len(t, ins.Values, 4)
	require.Equal(t, common.TypeInt, ins.Values[0].Type)
	require.Equal(t, int32(1), ins.Values[0].IntVal)
	require.Equal(t, common.TypeFloat, ins.Values[1].Type)
	require.Equal(t, common.TypeString, ins.Values[2].Type)
	require.Equal(t, "ab", ins.Values[2].StrVal)
	require.Equal(t, common.TypeBigInt, ins.Values[3].Type)
	require.Equal(t, int64(5000000000), ins.Values[3].BigIntVal)
}

func TestParseSelectFull(t *testing.T) {
	stmt, err := Parse("SELECT t.a, b FROM t, s WHERE t.a >= 10 AND b = s.c ORDER BY a DESC, b LIMIT 5;")
	require.NoError(t, err)
	sel := stmt.(*SelectStmt)
	require.Equal(t, []common.TabCol{{TabName: "t", ColName: "a"}, {ColName: "b"}}, sel.Cols)
	require.Equal(t, []string{"t", "s"}, sel.Tables)
	require.Len(t, sel.Conds, 2)
	require.Equal(t, common.OpGe, sel.Conds[0].Op)
	require.True(t, sel.Conds[0].IsRhsVal)
	require.False(t, sel.Conds[1].IsRhsVal)
	require.Equal(t, common.TabCol{TabName: "s", ColName: "c"}, sel.Conds[1].RhsCol)
	require.Len(t, sel.Orders, 2)
	require.True(t, sel.Orders[0].Desc)
	require.False(t, sel.Orders[1].Desc)
	require.True(t, sel.HasLimit)
	require.Equal(t, 5, sel.Limit)
}

func TestParseSelectStar(t *testing.T) {
	stmt, err := Parse("select * from t")
	require.NoError(t, err)
	sel := stmt.(*SelectStmt)
	require.Empty(t, sel.Cols)
	require.Empty(t, sel.Aggs)
	require.False(t, sel.HasLimit)
}

func TestParseAggregates(t *testing.T) {
	stmt, err := Parse("SELECT COUNT(*) AS n, SUM(a) AS total, MIN(b) FROM t WHERE a > 0;")
	require.NoError(t, err)
	sel := stmt.(*SelectStmt)
	require.Len(t, sel.Aggs, 3)
	require.Equal(t, common.AggFunc{Func: "COUNT*", Alias: "n"}, sel.Aggs[0])
	require.Equal(t, "SUM", sel.Aggs[1].Func)
	require.Equal(t, "total", sel.Aggs[1].Alias)
	require.Equal(t, common.AggFunc{Func: "MIN", Col: common.TabCol{ColName: "b"}}, sel.Aggs[2])
}

func TestParseUpdate(t *testing.T) {
	stmt, err := Parse("UPDATE t SET a = 3, b = 'x' WHERE a <> 1;")
	require.NoError(t, err)
	up := stmt.(*UpdateStmt)
	require.Len(t, up.Sets, 2)
	require.Equal(t, "a", up.Sets[0].Lhs.ColName)
	require.False(t, up.Sets[0].IsIncr)
	require.Equal(t, common.OpNe, up.Conds[0].Op)
}

func TestParseUpdateIncrement(t *testing.T) {
	stmt, err := Parse("UPDATE t SET a = a + 1 WHERE a = 2;")
	require.NoError(t, err)
	up := stmt.(*UpdateStmt)
	require.True(t, up.Sets[0].IsIncr)
	require.Equal(t, int32(1), up.Sets[0].Rhs.IntVal)

	_, err = Parse("UPDATE t SET a = b + 1;")
	require.ErrorIs(t, err, common.ErrSyntax)
}

func TestParseDelete(t *testing.T) {
	stmt, err := Parse("DELETE FROM t WHERE id = 4;")
	require.NoError(t, err)
	del := stmt.(*DeleteStmt)
	require.Equal(t, "t", del.Table)
	require.Len(t, del.Conds, 1)

	stmt, err = Parse("DELETE FROM t;")
	require.NoError(t, err)
	require.Empty(t, stmt.(*DeleteStmt).Conds)
}

func TestParseUtility(t *testing.T) {
	for src, want := range map[string]Stmt{
		"SHOW TABLES;":         &ShowTablesStmt{},
		"show index from t;":   &ShowIndexStmt{Table: "t"},
		"desc t;":              &DescStmt{Table: "t"},
		"BEGIN;":               &TxnBeginStmt{},
		"commit;":              &TxnCommitStmt{},
		"abort;":               &TxnAbortStmt{},
		"ROLLBACK;":            &TxnRollbackStmt{},
		"help":                 &HelpStmt{},
		"exit;":                &ExitStmt{},
		"drop table t;":        &DropTableStmt{Table: "t"},
	} {
		stmt, err := Parse(src)
		require.NoError(t, err, src)
		require.Equal(t, want, stmt, src)
	}
}

func TestParseErrors(t *testing.T) {
	for _, src := range []string{
		"",
		"SELEC * FROM t;",
		"CREATE TABLE t;",
		"CREATE TABLE t (a INT",
		"INSERT INTO t VALUES 1;",
		"SELECT * FROM t WHERE a ! 1;",
		"SELECT * FROM t LIMIT -1;",
		"SELECT SUM(*) FROM t;",
		"INSERT INTO t VALUES ('unterminated);",
		"SELECT * FROM t; garbage",
	} {
		_, err := Parse(src)
		require.ErrorIs(t, err, common.ErrSyntax, src)
	}
}
