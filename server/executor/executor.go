package executor

import (
	"github.com/pkg/errors"

	"github.com/petreldb/petrel-server/server/catalog"
	"github.com/petreldb/petrel-server/server/common"
	"github.com/petreldb/petrel-server/server/txn"
	"github.com/petreldb/petrel-server/server/wal"
)

// Tuple is one row flowing through an executor tree. Data is the
// concatenated fixed-width column payload described by the executor's
// schema; Rid is meaningful only below a join.
type Tuple struct {
	Data []byte
	Rid  common.Rid
}

// Executor is the volcano iterator. Open (re)starts the stream, Next
// returns the following tuple or nil at the end. Open may be called
// again to rescan.
type Executor interface {
	Schema() []catalog.ColMeta
	Open() error
	Next() (*Tuple, error)
}

// Context carries the per-statement execution state. Txn is nil when the
// statement runs outside a transaction scope that locks and logs (DDL).
type Context struct {
	Sm   *catalog.SmManager
	Lock *txn.LockManager
	Log  *wal.LogManager
	Txn  *txn.Transaction
}

// schemaWidth is the byte length of a tuple of the given schema.
func schemaWidth(schema []catalog.ColMeta) int {
	w := 0
	for _, col := range schema {
		if end := col.Offset + col.Len; end > w {
			w = end
		}
	}
	return w
}

// findCol locates a resolved column reference inside a schema.
func findCol(schema []catalog.ColMeta, tc common.TabCol) (*catalog.ColMeta, error) {
	for i := range schema {
		col := &schema[i]
		if col.Name != tc.ColName {
			continue
		}
		if tc.TabName == "" || col.TabName == tc.TabName {
			return col, nil
		}
	}
	return nil, errors.Wrapf(common.ErrColumnNotFound, "%s.%s", tc.TabName, tc.ColName)
}

// colValue decodes one column out of a tuple payload.
func colValue(col *catalog.ColMeta, data []byte) common.Value {
	return common.DecodeValue(col.Type, data[col.Offset:col.Offset+col.Len])
}

// evalConds evaluates a conjunction against one tuple.
func evalConds(schema []catalog.ColMeta, data []byte, conds []common.Condition) (bool, error) {
	for i := range conds {
		ok, err := evalCond(schema, data, &conds[i])
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func evalCond(schema []catalog.ColMeta, data []byte, cond *common.Condition) (bool, error) {
	lhsCol, err := findCol(schema, cond.LhsCol)
	if err != nil {
		return false, err
	}
	lhs := colValue(lhsCol, data)
	rhs := cond.RhsVal
	if !cond.IsRhsVal {
		rhsCol, err := findCol(schema, cond.RhsCol)
		if err != nil {
			return false, err
		}
		rhs = colValue(rhsCol, data)
	}
	cmp, err := lhs.Compare(rhs)
	if err != nil {
		return false, err
	}
	return common.EvalCompare(cond.Op, cmp), nil
}

// evalJoinCond evaluates a normalized join conjunct over a left and a
// right tuple.
func evalJoinCond(leftSchema []catalog.ColMeta, left []byte,
	rightSchema []catalog.ColMeta, right []byte, cond *common.Condition) (bool, error) {
	lhsCol, err := findCol(leftSchema, cond.LhsCol)
	if err != nil {
		return false, err
	}
	rhsCol, err := findCol(rightSchema, cond.RhsCol)
	if err != nil {
		return false, err
	}
	cmp, err := colValue(lhsCol, left).Compare(colValue(rhsCol, right))
	if err != nil {
		return false, err
	}
	return common.EvalCompare(cond.Op, cmp), nil
}
