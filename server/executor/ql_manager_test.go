package executor

import (
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/petreldb/petrel-server/server/catalog"
	"github.com/petreldb/petrel-server/server/common"
	"github.com/petreldb/petrel-server/server/parser"
	"github.com/petreldb/petrel-server/server/plan"
	"github.com/petreldb/petrel-server/server/storage/bufferpool"
	"github.com/petreldb/petrel-server/server/storage/disk"
	"github.com/petreldb/petrel-server/server/storage/heap"
	"github.com/petreldb/petrel-server/server/storage/index"
	"github.com/petreldb/petrel-server/server/txn"
	"github.com/petreldb/petrel-server/server/wal"
)

type qlHarness struct {
	sm *catalog.SmManager
	tm *txn.TransactionManager
	qm *QlManager
	pl *plan.Planner
}

func newQl(t *testing.T) *qlHarness {
	t.Helper()
	dm := disk.NewDiskManager()
	bpm := bufferpool.NewBufferPoolManager(1024, dm)
	sm := catalog.NewSmManager(dm, bpm, heap.NewRmManager(dm, bpm), index.NewIxManager(dm, bpm))
	dir := filepath.Join(t.TempDir(), "db")
	require.NoError(t, sm.CreateDatabase(dir))
	require.NoError(t, sm.OpenDatabase(dir))

	lf, err := disk.OpenLogFile(filepath.Join(dir, "db.log"))
	require.NoError(t, err)
	t.Cleanup(func() { lf.Close() })
	lm, err := wal.NewLogManager(lf, 0)
	require.NoError(t, err)
	tm := txn.NewTransactionManager(txn.NewLockManager(), lm, sm)

	return &qlHarness{
		sm: sm,
		tm: tm,
		qm: NewQlManager(sm, tm.Lock, lm),
		pl: plan.NewPlanner(sm),
	}
}

// execIn runs one statement inside an existing transaction.
func (h *qlHarness) execIn(t *testing.T, tr *txn.Transaction, sql string) (*ResultSet, error) {
	t.Helper()
	stmt, err := parser.Parse(sql)
	require.NoError(t, err)
	pl, err := h.pl.Plan(stmt)
	if err != nil {
		return nil, err
	}
	return h.qm.Run(pl, tr)
}

// run executes one auto-committed statement.
func (h *qlHarness) run(t *testing.T, sql string) *ResultSet {
	t.Helper()
	tr, err := h.tm.Begin()
	require.NoError(t, err)
	rs, err := h.execIn(t, tr, sql)
	require.NoError(t, err, sql)
	require.NoError(t, h.tm.Commit(tr))
	return rs
}

func (h *qlHarness) runErr(t *testing.T, sql string) error {
	t.Helper()
	tr, err := h.tm.Begin()
	require.NoError(t, err)
	_, err = h.execIn(t, tr, sql)
	require.Error(t, err, sql)
	require.NoError(t, h.tm.Abort(tr))
	return err
}

func TestInsertSelectRoundTrip(t *testing.T) {
	h := newQl(t)
	h.run(t, "CREATE TABLE t (a INT, b CHAR(4));")
	h.run(t, "INSERT INTO t VALUES (1, 'ab');")
	h.run(t, "INSERT INTO t VALUES (2, 'cd');")

	rs := h.run(t, "SELECT a, b FROM t WHERE a >= 1;")
	require.Equal(t, []string{"a", "b"}, rs.Headers)
	require.Equal(t, [][]string{{"1", "ab"}, {"2", "cd"}}, rs.Rows)

	rs = h.run(t, "SELECT * FROM t WHERE b = 'cd';")
	require.Equal(t, [][]string{{"2", "cd"}}, rs.Rows)
}

func TestIndexRangeScan(t *testing.T) {
	h := newQl(t)
	h.run(t, "CREATE TABLE t (a INT, pad CHAR(8));")
	h.run(t, "CREATE INDEX t(a);")
	// Insert out of order so index order differs from heap order.
	for _, k := range []int{9, 3, 7, 1, 5, 8, 2, 6, 4, 10} {
		h.run(t, "INSERT INTO t VALUES ("+strconv.Itoa(k)+", 'x');")
	}

	stmt, err := parser.Parse("SELECT a FROM t WHERE a >= 3 AND a < 8;")
	require.NoError(t, err)
	pl, err := h.pl.Plan(stmt)
	require.NoError(t, err)
	_, isIdx := pl.(*plan.SelectPlan).Root.Child.(*plan.IndexScanNode)
	require.True(t, isIdx)

	tr, err := h.tm.Begin()
	require.NoError(t, err)
	rs, err := h.qm.Run(pl, tr)
	require.NoError(t, err)
	require.NoError(t, h.tm.Commit(tr))
	// Index scans return rows in key order.
	require.Equal(t, [][]string{{"3"}, {"4"}, {"5"}, {"6"}, {"7"}}, rs.Rows)
}

func TestIndexEmptyRange(t *testing.T) {
	h := newQl(t)
	h.run(t, "CREATE TABLE t (a INT);")
	h.run(t, "CREATE INDEX t(a);")
	h.run(t, "INSERT INTO t VALUES (5);")
	rs := h.run(t, "SELECT a FROM t WHERE a > 5 AND a < 5;")
	require.Empty(t, rs.Rows)
	rs = h.run(t, "SELECT a FROM t WHERE a = 5 AND a = 6;")
	require.Empty(t, rs.Rows)
}

func TestCompositeIndexScan(t *testing.T) {
	h := newQl(t)
	h.run(t, "CREATE TABLE t (a INT, b CHAR(2), v INT);")
	h.run(t, "CREATE INDEX t(a, b);")
	for i, b := range []string{"aa", "bb", "aa", "bb"} {
		h.run(t, "INSERT INTO t VALUES ("+strconv.Itoa(i/2)+", '"+b+"', "+strconv.Itoa(i)+");")
	}

	stmt, err := parser.Parse("SELECT v FROM t WHERE a = 1 AND b = 'bb';")
	require.NoError(t, err)
	pl, err := h.pl.Plan(stmt)
	require.NoError(t, err)
	scan, isIdx := pl.(*plan.SelectPlan).Root.Child.(*plan.IndexScanNode)
	require.True(t, isIdx)
	require.Equal(t, []string{"a", "b"}, scan.Index.ColNames())

	tr, err := h.tm.Begin()
	require.NoError(t, err)
	rs, err := h.qm.Run(pl, tr)
	require.NoError(t, err)
	require.NoError(t, h.tm.Commit(tr))
	require.Equal(t, [][]string{{"3"}}, rs.Rows)

	// Binding only the leading column scans the (1, *) range in key order.
	rs = h.run(t, "SELECT v FROM t WHERE a = 1;")
	require.Equal(t, [][]string{{"2"}, {"3"}}, rs.Rows)

	// The composite key is unique as a whole, not per column.
	h.run(t, "INSERT INTO t VALUES (1, 'cc', 9);")
	err = h.runErr(t, "INSERT INTO t VALUES (1, 'cc', 9);")
	require.ErrorIs(t, err, common.ErrUniqueConstraint)
}

func TestUniqueConstraint(t *testing.T) {
	h := newQl(t)
	h.run(t, "CREATE TABLE t (a INT);")
	h.run(t, "CREATE INDEX t(a);")
	h.run(t, "INSERT INTO t VALUES (1);")
	err := h.runErr(t, "INSERT INTO t VALUES (1);")
	require.ErrorIs(t, err, common.ErrUniqueConstraint)

	rs := h.run(t, "SELECT COUNT(*) AS n FROM t;")
	require.Equal(t, [][]string{{"1"}}, rs.Rows)
}

func TestJoin(t *testing.T) {
	h := newQl(t)
	h.run(t, "CREATE TABLE emp (id INT, dept INT);")
	h.run(t, "CREATE TABLE dept (id INT, name CHAR(8));")
	h.run(t, "INSERT INTO emp VALUES (1, 10);")
	h.run(t, "INSERT INTO emp VALUES (2, 20);")
	h.run(t, "INSERT INTO emp VALUES (3, 10);")
	h.run(t, "INSERT INTO dept VALUES (10, 'eng');")
	h.run(t, "INSERT INTO dept VALUES (20, 'ops');")

	rs := h.run(t, "SELECT emp.id, name FROM emp, dept WHERE emp.dept = dept.id ORDER BY emp.id;")
	require.Equal(t, [][]string{{"1", "eng"}, {"2", "ops"}, {"3", "eng"}}, rs.Rows)
}

func TestAggregates(t *testing.T) {
	h := newQl(t)
	h.run(t, "CREATE TABLE t (a INT, f FLOAT);")
	h.run(t, "INSERT INTO t VALUES (1, 0.5);")
	h.run(t, "INSERT INTO t VALUES (2, 1.5);")
	h.run(t, "INSERT INTO t VALUES (3, 2.5);")

	rs := h.run(t, "SELECT COUNT(*) AS n, SUM(a) AS s, MAX(a) AS mx, MIN(a) AS mn FROM t;")
	require.Equal(t, []string{"n", "s", "mx", "mn"}, rs.Headers)
	require.Equal(t, [][]string{{"3", "6", "3", "1"}}, rs.Rows)

	rs = h.run(t, "SELECT SUM(f) FROM t;")
	require.Equal(t, [][]string{{"4.5"}}, rs.Rows)

	// Aggregates over no rows: COUNT is 0, the rest are empty.
	rs = h.run(t, "SELECT COUNT(*) AS n, SUM(a) AS s, MIN(a) AS mn FROM t WHERE a > 100;")
	require.Equal(t, [][]string{{"0", "", ""}}, rs.Rows)
}

func TestSortAndLimit(t *testing.T) {
	h := newQl(t)
	h.run(t, "CREATE TABLE t (a INT, b INT);")
	for i := 1; i <= 5; i++ {
		h.run(t, "INSERT INTO t VALUES ("+strconv.Itoa(i)+", "+strconv.Itoa(i%2)+");")
	}
	rs := h.run(t, "SELECT a FROM t ORDER BY b DESC, a ASC LIMIT 3;")
	require.Equal(t, [][]string{{"1"}, {"3"}, {"5"}}, rs.Rows)
}

func TestUpdateAndDelete(t *testing.T) {
	h := newQl(t)
	h.run(t, "CREATE TABLE t (a INT, b CHAR(4));")
	h.run(t, "INSERT INTO t VALUES (1, 'ab');")
	h.run(t, "INSERT INTO t VALUES (2, 'cd');")

	rs := h.run(t, "UPDATE t SET b = 'zz' WHERE a = 1;")
	require.Equal(t, "1 rows affected", rs.Message)
	rs = h.run(t, "SELECT b FROM t WHERE a = 1;")
	require.Equal(t, [][]string{{"zz"}}, rs.Rows)

	rs = h.run(t, "UPDATE t SET a = a + 10;")
	require.Equal(t, "2 rows affected", rs.Message)
	rs = h.run(t, "SELECT a FROM t ORDER BY a;")
	require.Equal(t, [][]string{{"11"}, {"12"}}, rs.Rows)

	rs = h.run(t, "DELETE FROM t WHERE a = 11;")
	require.Equal(t, "1 rows affected", rs.Message)
	rs = h.run(t, "SELECT COUNT(*) AS n FROM t;")
	require.Equal(t, [][]string{{"1"}}, rs.Rows)
}

func TestUpdateKeepsIndexConsistent(t *testing.T) {
	h := newQl(t)
	h.run(t, "CREATE TABLE t (a INT);")
	h.run(t, "CREATE INDEX t(a);")
	h.run(t, "INSERT INTO t VALUES (1);")
	h.run(t, "INSERT INTO t VALUES (2);")

	h.run(t, "UPDATE t SET a = 5 WHERE a = 1;")
	rs := h.run(t, "SELECT a FROM t WHERE a >= 2;")
	require.Equal(t, [][]string{{"2"}, {"5"}}, rs.Rows)

	// Updating onto an existing key fails and leaves both rows intact.
	err := h.runErr(t, "UPDATE t SET a = 2 WHERE a = 5;")
	require.ErrorIs(t, err, common.ErrUniqueConstraint)
	rs = h.run(t, "SELECT a FROM t ORDER BY a;")
	require.Equal(t, [][]string{{"2"}, {"5"}}, rs.Rows)
}

func TestAbortRollsBackStatement(t *testing.T) {
	h := newQl(t)
	h.run(t, "CREATE TABLE t (a INT, b CHAR(4));")
	h.run(t, "INSERT INTO t VALUES (1, 'ab');")

	tr, err := h.tm.Begin()
	require.NoError(t, err)
	_, err = h.execIn(t, tr, "UPDATE t SET b = 'zz' WHERE a = 1;")
	require.NoError(t, err)
	require.NoError(t, h.tm.Abort(tr))

	rs := h.run(t, "SELECT b FROM t WHERE a = 1;")
	require.Equal(t, [][]string{{"ab"}}, rs.Rows)
}

func TestUtilityStatements(t *testing.T) {
	h := newQl(t)
	h.run(t, "CREATE TABLE zt (a INT, c CHAR(3));")
	h.run(t, "CREATE TABLE at (b INT);")
	h.run(t, "CREATE INDEX zt(a);")

	rs := h.run(t, "SHOW TABLES;")
	require.Equal(t, [][]string{{"at"}, {"zt"}}, rs.Rows)

	rs = h.run(t, "SHOW INDEX FROM zt;")
	require.Equal(t, [][]string{{"zt", "(a)", "unique"}}, rs.Rows)

	rs = h.run(t, "DESC zt;")
	require.Equal(t, [][]string{
		{"a", "INT", "YES"},
		{"c", "CHAR(3)", "NO"},
	}, rs.Rows)

	rs = h.run(t, "HELP;")
	require.NotEmpty(t, rs.Message)
}

func TestBigIntAndDatetime(t *testing.T) {
	h := newQl(t)
	h.run(t, "CREATE TABLE t (a BIGINT, d DATETIME);")
	h.run(t, "INSERT INTO t VALUES (5000000000, '2026-08-06 12:00:00');")
	rs := h.run(t, "SELECT a, d FROM t WHERE d >= '2026-01-01 00:00:00';")
	require.Equal(t, [][]string{{"5000000000", "2026-08-06 12:00:00"}}, rs.Rows)
}
