package executor

import (
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/petreldb/petrel-server/server/catalog"
	"github.com/petreldb/petrel-server/server/common"
	"github.com/petreldb/petrel-server/server/parser"
	"github.com/petreldb/petrel-server/server/plan"
	"github.com/petreldb/petrel-server/server/txn"
	"github.com/petreldb/petrel-server/server/wal"
)

// ResultSet is what a statement hands back to the session: a table, a
// one-line message, or both empty for statements that only change state.
type ResultSet struct {
	Headers []string
	Rows    [][]string
	Message string
}

// QlManager turns plans into executor trees and runs them. DDL and the
// SHOW/DESC utilities operate on the catalog directly.
type QlManager struct {
	Sm   *catalog.SmManager
	Lock *txn.LockManager
	Log  *wal.LogManager
}

func NewQlManager(sm *catalog.SmManager, lock *txn.LockManager, log *wal.LogManager) *QlManager {
	return &QlManager{Sm: sm, Lock: lock, Log: log}
}

func (q *QlManager) Run(pl plan.Plan, tr *txn.Transaction) (*ResultSet, error) {
	ctx := &Context{Sm: q.Sm, Lock: q.Lock, Log: q.Log, Txn: tr}
	switch p := pl.(type) {
	case *plan.SelectPlan:
		return q.runSelect(ctx, p)
	case *plan.InsertPlan:
		n, err := NewInsertExecutor(ctx, p).Exec()
		if err != nil {
			return nil, err
		}
		return affected(n), nil
	case *plan.DeletePlan:
		n, err := NewDeleteExecutor(ctx, p, q.buildNode(ctx, p.Scan)).Exec()
		if err != nil {
			return nil, err
		}
		return affected(n), nil
	case *plan.UpdatePlan:
		n, err := NewUpdateExecutor(ctx, p, q.buildNode(ctx, p.Scan)).Exec()
		if err != nil {
			return nil, err
		}
		return affected(n), nil
	case *plan.DDLPlan:
		return q.runDDL(p.Stmt)
	case *plan.UtilityPlan:
		return q.runUtility(p.Stmt)
	}
	return nil, errors.Wrap(common.ErrInternal, "unknown plan")
}

func affected(n int) *ResultSet {
	return &ResultSet{Message: strconv.Itoa(n) + " rows affected"}
}

func (q *QlManager) buildNode(ctx *Context, node plan.Node) Executor {
	switch n := node.(type) {
	case *plan.SeqScanNode:
		return NewSeqScanExecutor(ctx, n)
	case *plan.IndexScanNode:
		return NewIndexScanExecutor(ctx, n)
	case *plan.JoinNode:
		return NewNestedLoopJoinExecutor(ctx, n,
			q.buildNode(ctx, n.Left), q.buildNode(ctx, n.Right))
	case *plan.SortNode:
		return NewSortExecutor(ctx, n, q.buildNode(ctx, n.Child))
	}
	return nil
}

func (q *QlManager) runSelect(ctx *Context, p *plan.SelectPlan) (*ResultSet, error) {
	proj := NewProjectionExecutor(ctx, p.Root, q.buildNode(ctx, p.Root.Child))
	if err := proj.Open(); err != nil {
		return nil, err
	}
	rs := &ResultSet{Headers: proj.Headers()}
	for {
		row, err := proj.NextRow()
		if err != nil {
			return nil, err
		}
		if row == nil {
			break
		}
		rs.Rows = append(rs.Rows, row)
	}
	return rs, nil
}

// runDDL executes schema changes. They commit on their own: the catalog
// flushes its metadata and files directly, outside the log.
func (q *QlManager) runDDL(stmt parser.Stmt) (*ResultSet, error) {
	switch s := stmt.(type) {
	case *parser.CreateTableStmt:
		cols := make([]catalog.ColMeta, len(s.Cols))
		for i, def := range s.Cols {
			cols[i] = catalog.ColMeta{Name: def.Name, Type: def.Type, Len: def.Len}
		}
		if err := q.Sm.CreateTable(s.Table, cols); err != nil {
			return nil, err
		}
	case *parser.DropTableStmt:
		if err := q.Sm.DropTable(s.Table); err != nil {
			return nil, err
		}
	case *parser.CreateIndexStmt:
		if err := q.Sm.CreateIndex(s.Table, s.Cols); err != nil {
			return nil, err
		}
	case *parser.DropIndexStmt:
		if err := q.Sm.DropIndex(s.Table, s.Cols); err != nil {
			return nil, err
		}
	default:
		return nil, errors.Wrap(common.ErrInternal, "unknown DDL")
	}
	return &ResultSet{Message: "ok"}, nil
}

func (q *QlManager) runUtility(stmt parser.Stmt) (*ResultSet, error) {
	switch s := stmt.(type) {
	case *parser.ShowTablesStmt:
		rs := &ResultSet{Headers: []string{"Tables"}}
		names := make([]string, 0, len(q.Sm.DB.Tabs))
		for name := range q.Sm.DB.Tabs {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			rs.Rows = append(rs.Rows, []string{name})
		}
		return rs, nil
	case *parser.ShowIndexStmt:
		tab, err := q.Sm.Table(s.Table)
		if err != nil {
			return nil, err
		}
		rs := &ResultSet{Headers: []string{"Table", "Columns", "Type"}}
		for _, ix := range tab.Indexes {
			cols := "(" + strings.Join(ix.ColNames(), ",") + ")"
			rs.Rows = append(rs.Rows, []string{tab.Name, cols, "unique"})
		}
		return rs, nil
	case *parser.DescStmt:
		tab, err := q.Sm.Table(s.Table)
		if err != nil {
			return nil, err
		}
		rs := &ResultSet{Headers: []string{"Field", "Type", "Index"}}
		for _, col := range tab.Cols {
			typ := col.Type.String()
			if col.Type == common.TypeString {
				typ = "CHAR(" + strconv.Itoa(col.Len) + ")"
			}
			idx := "NO"
			if col.Indexed {
				idx = "YES"
			}
			rs.Rows = append(rs.Rows, []string{col.Name, typ, idx})
		}
		return rs, nil
	case *parser.HelpStmt:
		return &ResultSet{Message: helpText}, nil
	}
	return nil, errors.Wrap(common.ErrInternal, "unknown utility statement")
}

const helpText = `supported statements:
  CREATE TABLE t (col TYPE, ...);      TYPE: INT BIGINT FLOAT CHAR(n) DATETIME
  DROP TABLE t;
  CREATE INDEX t(col, ...);  DROP INDEX t(col, ...);
  SHOW TABLES;  SHOW INDEX FROM t;  DESC t;
  INSERT INTO t VALUES (...);
  DELETE FROM t [WHERE ...];
  UPDATE t SET col = val [WHERE ...];
  SELECT cols|aggs|* FROM t [, t2] [WHERE ...] [ORDER BY col [DESC]] [LIMIT n];
  BEGIN; COMMIT; ABORT; ROLLBACK;
  load <path> into <table>;
  exit`
