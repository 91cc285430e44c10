package plan

import (
	"github.com/pkg/errors"

	"github.com/petreldb/petrel-server/server/catalog"
	"github.com/petreldb/petrel-server/server/common"
	"github.com/petreldb/petrel-server/server/parser"
)

// The analyzer resolves names against the catalog and type-checks literals
// before the planner shapes the executor tree. It mutates the statement in
// place: unqualified columns gain their table name, literal values are cast
// to the column type where the cast is legal.

type analyzer struct {
	sm *catalog.SmManager
}

// tables loads the metadata for every FROM table, rejecting unknown names.
func (a *analyzer) tables(names []string) ([]*catalog.TabMeta, error) {
	tabs := make([]*catalog.TabMeta, 0, len(names))
	for _, name := range names {
		tab, err := a.sm.Table(name)
		if err != nil {
			return nil, err
		}
		tabs = append(tabs, tab)
	}
	return tabs, nil
}

// resolveCol binds tc to a column of one of tabs. Unqualified names must
// match exactly one table.
func resolveCol(tabs []*catalog.TabMeta, tc *common.TabCol) (*catalog.ColMeta, error) {
	if tc.TabName != "" {
		for _, tab := range tabs {
			if tab.Name != tc.TabName {
				continue
			}
			col, ok := tab.Col(tc.ColName)
			if !ok {
				return nil, errors.Wrapf(common.ErrColumnNotFound, "%s.%s", tc.TabName, tc.ColName)
			}
			return col, nil
		}
		return nil, errors.Wrapf(common.ErrTableNotFound, "%s is not in FROM", tc.TabName)
	}
	var found *catalog.ColMeta
	for _, tab := range tabs {
		col, ok := tab.Col(tc.ColName)
		if !ok {
			continue
		}
		if found != nil {
			return nil, errors.Wrapf(common.ErrAmbiguousColumn, "%s", tc.ColName)
		}
		found = col
	}
	if found == nil {
		return nil, errors.Wrapf(common.ErrColumnNotFound, "%s", tc.ColName)
	}
	tc.TabName = found.TabName
	return found, nil
}

// checkCondition resolves both sides of a conjunct and verifies the operand
// types are comparable. A literal that casts cleanly to the column type is
// cast now so the planner can consider it for an index bound; numeric
// literals of a different width stay as written and widen at evaluation.
func checkCondition(tabs []*catalog.TabMeta, cond *common.Condition) error {
	lhs, err := resolveCol(tabs, &cond.LhsCol)
	if err != nil {
		return err
	}
	if !cond.IsRhsVal {
		rhs, err := resolveCol(tabs, &cond.RhsCol)
		if err != nil {
			return err
		}
		if !comparableTypes(lhs.Type, rhs.Type) {
			return errors.Wrapf(common.ErrIncompatibleType, "%s vs %s", lhs.Type, rhs.Type)
		}
		return nil
	}
	if err := cond.RhsVal.Cast(lhs.Type); err == nil {
		return nil
	}
	if !comparableTypes(lhs.Type, cond.RhsVal.Type) {
		return errors.Wrapf(common.ErrIncompatibleType,
			"column %s is %s, value is %s", cond.LhsCol.ColName, lhs.Type, cond.RhsVal.Type)
	}
	return nil
}

func comparableTypes(a, b common.ColType) bool {
	num := func(t common.ColType) bool {
		return t == common.TypeInt || t == common.TypeBigInt || t == common.TypeFloat
	}
	text := func(t common.ColType) bool {
		return t == common.TypeString || t == common.TypeDatetime
	}
	return (num(a) && num(b)) || (text(a) && text(b))
}

func (a *analyzer) analyzeSelect(sel *parser.SelectStmt) ([]*catalog.TabMeta, error) {
	tabs, err := a.tables(sel.Tables)
	if err != nil {
		return nil, err
	}

	if len(sel.Aggs) > 0 {
		for i := range sel.Aggs {
			agg := &sel.Aggs[i]
			if agg.Func == "COUNT*" {
				continue
			}
			col, err := resolveCol(tabs, &agg.Col)
			if err != nil {
				return nil, err
			}
			if agg.Func == "SUM" && col.Type != common.TypeInt &&
				col.Type != common.TypeBigInt && col.Type != common.TypeFloat {
				return nil, errors.Wrapf(common.ErrIncompatibleType, "SUM over %s column", col.Type)
			}
		}
	} else if len(sel.Cols) == 0 {
		// SELECT * expands to every column of every table, FROM order.
		for _, tab := range tabs {
			for _, col := range tab.Cols {
				sel.Cols = append(sel.Cols, common.TabCol{TabName: tab.Name, ColName: col.Name})
			}
		}
	} else {
		for i := range sel.Cols {
			if _, err := resolveCol(tabs, &sel.Cols[i]); err != nil {
				return nil, err
			}
		}
	}

	for i := range sel.Conds {
		if err := checkCondition(tabs, &sel.Conds[i]); err != nil {
			return nil, err
		}
	}
	for i := range sel.Orders {
		if _, err := resolveCol(tabs, &sel.Orders[i].Col); err != nil {
			return nil, err
		}
	}
	return tabs, nil
}

func (a *analyzer) analyzeInsert(ins *parser.InsertStmt) (*catalog.TabMeta, error) {
	tab, err := a.sm.Table(ins.Table)
	if err != nil {
		return nil, err
	}
	if len(ins.Values) != len(tab.Cols) {
		return nil, errors.Wrapf(common.ErrInvalidValueCount,
			"table %s has %d columns, got %d values", tab.Name, len(tab.Cols), len(ins.Values))
	}
	for i := range ins.Values {
		if err := ins.Values[i].Cast(tab.Cols[i].Type); err != nil {
			return nil, err
		}
	}
	return tab, nil
}

func (a *analyzer) analyzeDelete(del *parser.DeleteStmt) (*catalog.TabMeta, error) {
	tab, err := a.sm.Table(del.Table)
	if err != nil {
		return nil, err
	}
	tabs := []*catalog.TabMeta{tab}
	for i := range del.Conds {
		if err := checkCondition(tabs, &del.Conds[i]); err != nil {
			return nil, err
		}
	}
	return tab, nil
}

func (a *analyzer) analyzeUpdate(up *parser.UpdateStmt) (*catalog.TabMeta, error) {
	tab, err := a.sm.Table(up.Table)
	if err != nil {
		return nil, err
	}
	tabs := []*catalog.TabMeta{tab}
	for i := range up.Sets {
		set := &up.Sets[i]
		col, err := resolveCol(tabs, &set.Lhs)
		if err != nil {
			return nil, err
		}
		if err := set.Rhs.Cast(col.Type); err != nil {
			return nil, err
		}
		if set.IsIncr && col.Type != common.TypeInt &&
			col.Type != common.TypeBigInt && col.Type != common.TypeFloat {
			return nil, errors.Wrapf(common.ErrIncompatibleType, "increment of %s column", col.Type)
		}
	}
	for i := range up.Conds {
		if err := checkCondition(tabs, &up.Conds[i]); err != nil {
			return nil, err
		}
	}
	return tab, nil
}
