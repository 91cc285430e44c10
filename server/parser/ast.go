package parser

import (
	"github.com/petreldb/petrel-server/server/common"
)

// Stmt is the tagged union produced by Parse. The analyzer switches on the
// concrete type.
type Stmt interface {
	stmtNode()
}

// ColDef is one column of a CREATE TABLE.
type ColDef struct {
	Name string
	Type common.ColType
	Len  int // payload bytes; CHAR(n) carries n, the rest their fixed width
}

type CreateTableStmt struct {
	Table string
	Cols  []ColDef
}

type DropTableStmt struct {
	Table string
}

type CreateIndexStmt struct {
	Table string
	Cols  []string
}

type DropIndexStmt struct {
	Table string
	Cols  []string
}

type ShowTablesStmt struct{}

type ShowIndexStmt struct {
	Table string
}

type DescStmt struct {
	Table string
}

type InsertStmt struct {
	Table  string
	Values []common.Value
}

type DeleteStmt struct {
	Table string
	Conds []common.Condition
}

type UpdateStmt struct {
	Table string
	Sets  []common.SetClause
	Conds []common.Condition
}

// OrderBy is one ORDER BY key.
type OrderBy struct {
	Col  common.TabCol
	Desc bool
}

type SelectStmt struct {
	Cols     []common.TabCol  // empty means *
	Aggs     []common.AggFunc // non-empty makes this an aggregate query
	Tables   []string
	Conds    []common.Condition
	Orders   []OrderBy
	Limit    int // -1 when absent
	HasLimit bool
}

type TxnBeginStmt struct{}
type TxnCommitStmt struct{}
type TxnAbortStmt struct{}
type TxnRollbackStmt struct{}

type HelpStmt struct{}
type ExitStmt struct{}

func (*CreateTableStmt) stmtNode() {}
func (*DropTableStmt) stmtNode()   {}
func (*CreateIndexStmt) stmtNode() {}
func (*DropIndexStmt) stmtNode()   {}
func (*ShowTablesStmt) stmtNode()  {}
func (*ShowIndexStmt) stmtNode()   {}
func (*DescStmt) stmtNode()        {}
func (*InsertStmt) stmtNode()      {}
func (*DeleteStmt) stmtNode()      {}
func (*UpdateStmt) stmtNode()      {}
func (*SelectStmt) stmtNode()      {}
func (*TxnBeginStmt) stmtNode()    {}
func (*TxnCommitStmt) stmtNode()   {}
func (*TxnAbortStmt) stmtNode()    {}
func (*TxnRollbackStmt) stmtNode() {}
func (*HelpStmt) stmtNode()        {}
func (*ExitStmt) stmtNode()        {}
