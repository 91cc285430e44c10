package parser

import (
	"strconv"

	"github.com/pkg/errors"

	"github.com/petreldb/petrel-server/server/common"
)

// Parser is a hand-written recursive-descent parser over the lexer's token
// stream. One Parser parses one statement.
type Parser struct {
	lx  *lexer
	cur token
}

// Parse parses a single SQL statement. The trailing semicolon is optional;
// anything after it is an error.
func Parse(src string) (Stmt, error) {
	p := &Parser{lx: newLexer(src)}
	if err := p.advance(); err != nil {
		return nil, err
	}
	stmt, err := p.statement()
	if err != nil {
		return nil, err
	}
	if p.cur.kind == tokSemi {
		if err := p.advance(); err != nil {
			return nil, err
		}
	}
	if p.cur.kind != tokEOF {
		return nil, errors.Wrapf(common.ErrSyntax, "trailing input at %q", p.cur.text)
	}
	return stmt, nil
}

func (p *Parser) advance() error {
	tok, err := p.lx.next()
	if err != nil {
		return err
	}
	p.cur = tok
	return nil
}

func (p *Parser) expectKeyword(kw string) error {
	if p.cur.kind != tokKeyword || p.cur.text != kw {
		return errors.Wrapf(common.ErrSyntax, "expected %s, got %q", kw, p.cur.text)
	}
	return p.advance()
}

func (p *Parser) expect(kind tokenKind, what string) (string, error) {
	if p.cur.kind != kind {
		return "", errors.Wrapf(common.ErrSyntax, "expected %s, got %q", what, p.cur.text)
	}
	text := p.cur.text
	return text, p.advance()
}

func (p *Parser) atKeyword(kw string) bool {
	return p.cur.kind == tokKeyword && p.cur.text == kw
}

func (p *Parser) statement() (Stmt, error) {
	if p.cur.kind != tokKeyword {
		return nil, errors.Wrapf(common.ErrSyntax, "expected statement, got %q", p.cur.text)
	}
	switch p.cur.text {
	case "CREATE":
		return p.create()
	case "DROP":
		return p.drop()
	case "SHOW":
		return p.show()
	case "DESC":
		if err := p.advance(); err != nil {
			return nil, err
		}
		tab, err := p.expect(tokIdent, "table name")
		if err != nil {
			return nil, err
		}
		return &DescStmt{Table: tab}, nil
	case "INSERT":
		return p.insert()
	case "DELETE":
		return p.delete()
	case "UPDATE":
		return p.update()
	case "SELECT":
		return p.selectStmt()
	case "BEGIN":
		return &TxnBeginStmt{}, p.advance()
	case "COMMIT":
		return &TxnCommitStmt{}, p.advance()
	case "ABORT":
		return &TxnAbortStmt{}, p.advance()
	case "ROLLBACK":
		return &TxnRollbackStmt{}, p.advance()
	case "HELP":
		return &HelpStmt{}, p.advance()
	case "EXIT":
		return &ExitStmt{}, p.advance()
	}
	return nil, errors.Wrapf(common.ErrSyntax, "unexpected keyword %s", p.cur.text)
}

func (p *Parser) create() (Stmt, error) {
	if err := p.advance(); err != nil {
		return nil, err
	}
	if p.atKeyword("TABLE") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		return p.createTable()
	}
	if p.atKeyword("INDEX") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		tab, cols, err := p.indexTarget()
		if err != nil {
			return nil, err
		}
		return &CreateIndexStmt{Table: tab, Cols: cols}, nil
	}
	return nil, errors.Wrapf(common.ErrSyntax, "expected TABLE or INDEX, got %q", p.cur.text)
}

func (p *Parser) drop() (Stmt, error) {
	if err := p.advance(); err != nil {
		return nil, err
	}
	if p.atKeyword("TABLE") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		tab, err := p.expect(tokIdent, "table name")
		if err != nil {
			return nil, err
		}
		return &DropTableStmt{Table: tab}, nil
	}
	if p.atKeyword("INDEX") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		tab, cols, err := p.indexTarget()
		if err != nil {
			return nil, err
		}
		return &DropIndexStmt{Table: tab, Cols: cols}, nil
	}
	return nil, errors.Wrapf(common.ErrSyntax, "expected TABLE or INDEX, got %q", p.cur.text)
}

// indexTarget parses "<table> ( <col> [, <col>]... )".
func (p *Parser) indexTarget() (string, []string, error) {
	tab, err := p.expect(tokIdent, "table name")
	if err != nil {
		return "", nil, err
	}
	if _, err := p.expect(tokLParen, "("); err != nil {
		return "", nil, err
	}
	var cols []string
	for {
		col, err := p.expect(tokIdent, "column name")
		if err != nil {
			return "", nil, err
		}
		cols = append(cols, col)
		if p.cur.kind != tokComma {
			break
		}
		if err := p.advance(); err != nil {
			return "", nil, err
		}
	}
	if _, err := p.expect(tokRParen, ")"); err != nil {
		return "", nil, err
	}
	return tab, cols, nil
}

func (p *Parser) createTable() (Stmt, error) {
	tab, err := p.expect(tokIdent, "table name")
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(tokLParen, "("); err != nil {
		return nil, err
	}
	var cols []ColDef
	for {
		name, err := p.expect(tokIdent, "column name")
		if err != nil {
			return nil, err
		}
		def, err := p.colType()
		if err != nil {
			return nil, err
		}
		def.Name = name
		cols = append(cols, def)
		if p.cur.kind == tokComma {
			if err := p.advance(); err != nil {
				return nil, err
			}
			continue
		}
		break
	}
	if _, err := p.expect(tokRParen, ")"); err != nil {
		return nil, err
	}
	return &CreateTableStmt{Table: tab, Cols: cols}, nil
}

func (p *Parser) colType() (ColDef, error) {
	if p.cur.kind != tokKeyword {
		return ColDef{}, errors.Wrapf(common.ErrSyntax, "expected column type, got %q", p.cur.text)
	}
	switch p.cur.text {
	case "INT":
		return ColDef{Type: common.TypeInt, Len: common.IntLen}, p.advance()
	case "BIGINT":
		return ColDef{Type: common.TypeBigInt, Len: common.BigIntLen}, p.advance()
	case "FLOAT":
		return ColDef{Type: common.TypeFloat, Len: common.FloatLen}, p.advance()
	case "DATETIME":
		return ColDef{Type: common.TypeDatetime, Len: common.DatetimeLen}, p.advance()
	case "CHAR":
		if err := p.advance(); err != nil {
			return ColDef{}, err
		}
		if _, err := p.expect(tokLParen, "("); err != nil {
			return ColDef{}, err
		}
		lit, err := p.expect(tokInt, "length")
		if err != nil {
			return ColDef{}, err
		}
		n, err := strconv.Atoi(lit)
		if err != nil || n <= 0 {
			return ColDef{}, errors.Wrapf(common.ErrSyntax, "bad CHAR length %q", lit)
		}
		if _, err := p.expect(tokRParen, ")"); err != nil {
			return ColDef{}, err
		}
		return ColDef{Type: common.TypeString, Len: n}, nil
	}
	return ColDef{}, errors.Wrapf(common.ErrSyntax, "unknown column type %s", p.cur.text)
}

func (p *Parser) show() (Stmt, error) {
	if err := p.advance(); err != nil {
		return nil, err
	}
	if p.atKeyword("TABLES") {
		return &ShowTablesStmt{}, p.advance()
	}
	if p.atKeyword("INDEX") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		if err := p.expectKeyword("FROM"); err != nil {
			return nil, err
		}
		tab, err := p.expect(tokIdent, "table name")
		if err != nil {
			return nil, err
		}
		return &ShowIndexStmt{Table: tab}, nil
	}
	return nil, errors.Wrapf(common.ErrSyntax, "expected TABLES or INDEX, got %q", p.cur.text)
}

func (p *Parser) insert() (Stmt, error) {
	if err := p.advance(); err != nil {
		return nil, err
	}
	if err := p.expectKeyword("INTO"); err != nil {
		return nil, err
	}
	tab, err := p.expect(tokIdent, "table name")
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("VALUES"); err != nil {
		return nil, err
	}
	if _, err := p.expect(tokLParen, "("); err != nil {
		return nil, err
	}
	var vals []common.Value
	for {
		v, err := p.value()
		if err != nil {
			return nil, err
		}
		vals = append(vals, v)
		if p.cur.kind == tokComma {
			if err := p.advance(); err != nil {
				return nil, err
			}
			continue
		}
		break
	}
	if _, err := p.expect(tokRParen, ")"); err != nil {
		return nil, err
	}
	return &InsertStmt{Table: tab, Values: vals}, nil
}

func (p *Parser) delete() (Stmt, error) {
	if err := p.advance(); err != nil {
		return nil, err
	}
	if err := p.expectKeyword("FROM"); err != nil {
		return nil, err
	}
	tab, err := p.expect(tokIdent, "table name")
	if err != nil {
		return nil, err
	}
	conds, err := p.optWhere()
	if err != nil {
		return nil, err
	}
	return &DeleteStmt{Table: tab, Conds: conds}, nil
}

func (p *Parser) update() (Stmt, error) {
	if err := p.advance(); err != nil {
		return nil, err
	}
	tab, err := p.expect(tokIdent, "table name")
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("SET"); err != nil {
		return nil, err
	}
	var sets []common.SetClause
	for {
		sc, err := p.setClause()
		if err != nil {
			return nil, err
		}
		sets = append(sets, sc)
		if p.cur.kind == tokComma {
			if err := p.advance(); err != nil {
				return nil, err
			}
			continue
		}
		break
	}
	conds, err := p.optWhere()
	if err != nil {
		return nil, err
	}
	return &UpdateStmt{Table: tab, Sets: sets, Conds: conds}, nil
}

// setClause parses "col = value" or "col = col + value".
func (p *Parser) setClause() (common.SetClause, error) {
	col, err := p.expect(tokIdent, "column name")
	if err != nil {
		return common.SetClause{}, err
	}
	if p.cur.kind != tokEq {
		return common.SetClause{}, errors.Wrapf(common.ErrSyntax, "expected =, got %q", p.cur.text)
	}
	if err := p.advance(); err != nil {
		return common.SetClause{}, err
	}
	sc := common.SetClause{Lhs: common.TabCol{ColName: col}}
	if p.cur.kind == tokIdent {
		if p.cur.text != col {
			return common.SetClause{}, errors.Wrapf(common.ErrSyntax,
				"self-increment must reference the assigned column, got %q", p.cur.text)
		}
		if err := p.advance(); err != nil {
			return common.SetClause{}, err
		}
		if _, err := p.expect(tokPlus, "+"); err != nil {
			return common.SetClause{}, err
		}
		sc.IsIncr = true
	}
	v, err := p.value()
	if err != nil {
		return common.SetClause{}, err
	}
	sc.Rhs = v
	return sc, nil
}

func (p *Parser) selectStmt() (Stmt, error) {
	if err := p.advance(); err != nil {
		return nil, err
	}
	sel := &SelectStmt{Limit: -1}

	switch {
	case p.cur.kind == tokStar:
		if err := p.advance(); err != nil {
			return nil, err
		}
	case p.isAggKeyword():
		for {
			agg, err := p.aggregate()
			if err != nil {
				return nil, err
			}
			sel.Aggs = append(sel.Aggs, agg)
			if p.cur.kind == tokComma {
				if err := p.advance(); err != nil {
					return nil, err
				}
				continue
			}
			break
		}
	default:
		for {
			tc, err := p.tabCol()
			if err != nil {
				return nil, err
			}
			sel.Cols = append(sel.Cols, tc)
			if p.cur.kind == tokComma {
				if err := p.advance(); err != nil {
					return nil, err
				}
				continue
			}
			break
		}
	}

	if err := p.expectKeyword("FROM"); err != nil {
		return nil, err
	}
	for {
		tab, err := p.expect(tokIdent, "table name")
		if err != nil {
			return nil, err
		}
		sel.Tables = append(sel.Tables, tab)
		if p.cur.kind == tokComma {
			if err := p.advance(); err != nil {
				return nil, err
			}
			continue
		}
		break
	}

	conds, err := p.optWhere()
	if err != nil {
		return nil, err
	}
	sel.Conds = conds

	if p.atKeyword("ORDER") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		if err := p.expectKeyword("BY"); err != nil {
			return nil, err
		}
		for {
			tc, err := p.tabCol()
			if err != nil {
				return nil, err
			}
			ob := OrderBy{Col: tc}
			if p.atKeyword("ASC") {
				if err := p.advance(); err != nil {
					return nil, err
				}
			} else if p.atKeyword("DESC") {
				ob.Desc = true
				if err := p.advance(); err != nil {
					return nil, err
				}
			}
			sel.Orders = append(sel.Orders, ob)
			if p.cur.kind == tokComma {
				if err := p.advance(); err != nil {
					return nil, err
				}
				continue
			}
			break
		}
	}

	if p.atKeyword("LIMIT") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		lit, err := p.expect(tokInt, "limit count")
		if err != nil {
			return nil, err
		}
		n, err := strconv.Atoi(lit)
		if err != nil || n < 0 {
			return nil, errors.Wrapf(common.ErrSyntax, "bad LIMIT %q", lit)
		}
		sel.Limit = n
		sel.HasLimit = true
	}
	return sel, nil
}

func (p *Parser) isAggKeyword() bool {
	if p.cur.kind != tokKeyword {
		return false
	}
	switch p.cur.text {
	case "SUM", "MAX", "MIN", "COUNT":
		return true
	}
	return false
}

func (p *Parser) aggregate() (common.AggFunc, error) {
	fn := p.cur.text
	if err := p.advance(); err != nil {
		return common.AggFunc{}, err
	}
	if _, err := p.expect(tokLParen, "("); err != nil {
		return common.AggFunc{}, err
	}
	agg := common.AggFunc{Func: fn}
	if p.cur.kind == tokStar {
		if fn != "COUNT" {
			return common.AggFunc{}, errors.Wrapf(common.ErrSyntax, "%s(*) is not valid", fn)
		}
		agg.Func = "COUNT*"
		if err := p.advance(); err != nil {
			return common.AggFunc{}, err
		}
	} else {
		tc, err := p.tabCol()
		if err != nil {
			return common.AggFunc{}, err
		}
		agg.Col = tc
	}
	if _, err := p.expect(tokRParen, ")"); err != nil {
		return common.AggFunc{}, err
	}
	if p.atKeyword("AS") {
		if err := p.advance(); err != nil {
			return common.AggFunc{}, err
		}
		alias, err := p.expect(tokIdent, "alias")
		if err != nil {
			return common.AggFunc{}, err
		}
		agg.Alias = alias
	}
	return agg, nil
}

func (p *Parser) optWhere() ([]common.Condition, error) {
	if !p.atKeyword("WHERE") {
		return nil, nil
	}
	if err := p.advance(); err != nil {
		return nil, err
	}
	var conds []common.Condition
	for {
		cond, err := p.condition()
		if err != nil {
			return nil, err
		}
		conds = append(conds, cond)
		if p.atKeyword("AND") {
			if err := p.advance(); err != nil {
				return nil, err
			}
			continue
		}
		break
	}
	return conds, nil
}

func (p *Parser) condition() (common.Condition, error) {
	lhs, err := p.tabCol()
	if err != nil {
		return common.Condition{}, err
	}
	op, err := p.compOp()
	if err != nil {
		return common.Condition{}, err
	}
	cond := common.Condition{LhsCol: lhs, Op: op}
	if p.cur.kind == tokIdent {
		rhs, err := p.tabCol()
		if err != nil {
			return common.Condition{}, err
		}
		cond.RhsCol = rhs
		return cond, nil
	}
	v, err := p.value()
	if err != nil {
		return common.Condition{}, err
	}
	cond.IsRhsVal = true
	cond.RhsVal = v
	return cond, nil
}

func (p *Parser) compOp() (common.CompOp, error) {
	var op common.CompOp
	switch p.cur.kind {
	case tokEq:
		op = common.OpEq
	case tokNe:
		op = common.OpNe
	case tokLt:
		op = common.OpLt
	case tokGt:
		op = common.OpGt
	case tokLe:
		op = common.OpLe
	case tokGe:
		op = common.OpGe
	default:
		return 0, errors.Wrapf(common.ErrSyntax, "expected comparison operator, got %q", p.cur.text)
	}
	return op, p.advance()
}

// tabCol parses "col" or "table.col".
func (p *Parser) tabCol() (common.TabCol, error) {
	first, err := p.expect(tokIdent, "column name")
	if err != nil {
		return common.TabCol{}, err
	}
	if p.cur.kind != tokDot {
		return common.TabCol{ColName: first}, nil
	}
	if err := p.advance(); err != nil {
		return common.TabCol{}, err
	}
	col, err := p.expect(tokIdent, "column name")
	if err != nil {
		return common.TabCol{}, err
	}
	return common.TabCol{TabName: first, ColName: col}, nil
}

// value parses an int, float or string literal. Integers that fit int32
// become INT, wider ones BIGINT.
func (p *Parser) value() (common.Value, error) {
	var v common.Value
	switch p.cur.kind {
	case tokInt:
		n, err := strconv.ParseInt(p.cur.text, 10, 64)
		if err != nil {
			return v, errors.Wrapf(common.ErrSyntax, "bad integer %q", p.cur.text)
		}
		if n >= -(1<<31) && n < 1<<31 {
			v.SetInt(int32(n))
		} else {
			v.SetBigInt(n)
		}
	case tokFloat:
		f, err := strconv.ParseFloat(p.cur.text, 32)
		if err != nil {
			return v, errors.Wrapf(common.ErrSyntax, "bad float %q", p.cur.text)
		}
		v.SetFloat(float32(f))
	case tokString:
		v.SetStr(p.cur.text)
	default:
		return v, errors.Wrapf(common.ErrSyntax, "expected value, got %q", p.cur.text)
	}
	return v, p.advance()
}
