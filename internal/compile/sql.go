package compile

import (
	"fmt"
	"sort"
	"strings"

	"relgate/internal/cursor"
	"relgate/internal/dsl"
	"relgate/internal/engine"
	"relgate/internal/schema"
)

// Statement is a compiled, parameterized SQL statement plus the
// timeout the executor must apply. The compiler only builds text; it
// never executes anything.
type Statement struct {
	SQL       string `json:"sql"`
	Params    []any  `json:"params"`
	TimeoutMs int    `json:"timeout_ms"`
}

// Compiler turns a policy decision plus the original request into SQL
// for one dialect. Field and table names reaching this point have been
// schema-checked by the engine; values always travel as parameters.
type Compiler struct {
	dialect string
	schema  *schema.Metadata
}

func New(dialect string, meta *schema.Metadata) (*Compiler, error) {
	switch dialect {
	case "postgres", "sqlite":
	default:
		return nil, fmt.Errorf("unsupported dialect: %s", dialect)
	}
	return &Compiler{dialect: dialect, schema: meta}, nil
}

type paramBuilder struct {
	dialect string
	params  []any
	n       int
}

func (p *paramBuilder) Add(v any) string {
	p.n++
	p.params = append(p.params, v)
	if p.dialect == "postgres" {
		return fmt.Sprintf("$%d", p.n)
	}
	return "?"
}

// BuildSelect compiles a governed query: allowed columns only, injected
// scope filters ahead of user filters, optional keyset cursor expansion,
// order and limit.
func (c *Compiler) BuildSelect(d *engine.Decision, req *dsl.QueryRequest, cursorData *cursor.Data) (Statement, error) {
	model := c.schema.GetModel(d.Model)
	if model == nil {
		return Statement{}, fmt.Errorf("unknown model: %s", d.Model)
	}

	pb := &paramBuilder{dialect: c.dialect}
	columns := strings.Join(d.AllowedFields, ", ")

	where := c.filterClauses(engine.MergeFilters(req.Where, d.InjectedFilters), pb)

	if cursorData != nil && cursorData.Type == cursor.TypeKeyset {
		direction := cursorData.Direction
		groups := cursor.BuildKeysetCondition(cursorData.Values, req.OrderBy, direction)
		if clause := c.keysetClause(groups, pb); clause != "" {
			where = append(where, clause)
		}
	}

	sql := fmt.Sprintf("SELECT %s FROM %s", columns, model.TableName)
	if len(where) > 0 {
		sql += " WHERE " + strings.Join(where, " AND ")
	}

	if len(req.OrderBy) > 0 {
		var orderParts []string
		for _, o := range req.OrderBy {
			dir := "ASC"
			if o.Direction == dsl.DirDesc {
				dir = "DESC"
			}
			orderParts = append(orderParts, fmt.Sprintf("%s %s", o.Field, dir))
		}
		sql += " ORDER BY " + strings.Join(orderParts, ", ")
	}

	sql += fmt.Sprintf(" LIMIT %s", pb.Add(req.Take))

	return Statement{SQL: sql, Params: pb.params, TimeoutMs: d.Budget.StatementTimeoutMs}, nil
}

// BuildCount compiles a COUNT with the same governed filters.
func (c *Compiler) BuildCount(d *engine.Decision, req *dsl.QueryRequest) (Statement, error) {
	model := c.schema.GetModel(d.Model)
	if model == nil {
		return Statement{}, fmt.Errorf("unknown model: %s", d.Model)
	}

	pb := &paramBuilder{dialect: c.dialect}
	where := c.filterClauses(engine.MergeFilters(req.Where, d.InjectedFilters), pb)

	sql := fmt.Sprintf("SELECT COUNT(*) FROM %s", model.TableName)
	if len(where) > 0 {
		sql += " WHERE " + strings.Join(where, " AND ")
	}
	return Statement{SQL: sql, Params: pb.params, TimeoutMs: d.Budget.StatementTimeoutMs}, nil
}

// BuildGet compiles a primary-key lookup with scope filters ANDed in,
// so out-of-scope rows come back empty rather than denied.
func (c *Compiler) BuildGet(d *engine.Decision, req *dsl.GetRequest) (Statement, error) {
	model := c.schema.GetModel(d.Model)
	if model == nil {
		return Statement{}, fmt.Errorf("unknown model: %s", d.Model)
	}

	pb := &paramBuilder{dialect: c.dialect}
	where := []string{fmt.Sprintf("%s = %s", model.PrimaryKey, pb.Add(req.ID))}
	where = append(where, c.filterClauses(d.InjectedFilters, pb)...)

	sql := fmt.Sprintf("SELECT %s FROM %s WHERE %s LIMIT %s",
		strings.Join(d.AllowedFields, ", "), model.TableName,
		strings.Join(where, " AND "), pb.Add(1))
	return Statement{SQL: sql, Params: pb.params, TimeoutMs: d.Budget.StatementTimeoutMs}, nil
}

// BuildAggregate compiles an aggregate with optional grouping.
func (c *Compiler) BuildAggregate(d *engine.Decision, req *dsl.AggregateRequest) (Statement, error) {
	model := c.schema.GetModel(d.Model)
	if model == nil {
		return Statement{}, fmt.Errorf("unknown model: %s", d.Model)
	}

	var expr string
	switch req.Op {
	case dsl.AggCount:
		expr = "COUNT(*)"
	default:
		expr = fmt.Sprintf("%s(%s)", strings.ToUpper(req.Op), req.Field)
	}

	pb := &paramBuilder{dialect: c.dialect}
	where := c.filterClauses(engine.MergeFilters(req.Where, d.InjectedFilters), pb)

	var sql string
	if req.GroupBy != "" {
		sql = fmt.Sprintf("SELECT %s, %s AS value FROM %s", req.GroupBy, expr, model.TableName)
	} else {
		sql = fmt.Sprintf("SELECT %s AS value FROM %s", expr, model.TableName)
	}
	if len(where) > 0 {
		sql += " WHERE " + strings.Join(where, " AND ")
	}
	if req.GroupBy != "" {
		sql += " GROUP BY " + req.GroupBy
	}
	return Statement{SQL: sql, Params: pb.params, TimeoutMs: d.Budget.StatementTimeoutMs}, nil
}

// BuildInsert compiles a create, with the decision's scope data merged
// over the payload so tenant and owner columns cannot be spoofed.
func (c *Compiler) BuildInsert(d *engine.Decision, req *dsl.CreateRequest) (Statement, error) {
	model := c.schema.GetModel(d.Model)
	if model == nil {
		return Statement{}, fmt.Errorf("unknown model: %s", d.Model)
	}

	data := make(map[string]any, len(req.Data)+len(d.ScopeData))
	for k, v := range req.Data {
		data[k] = v
	}
	for k, v := range d.ScopeData {
		data[k] = v
	}

	fields := make([]string, 0, len(data))
	for k := range data {
		fields = append(fields, k)
	}
	sort.Strings(fields)

	pb := &paramBuilder{dialect: c.dialect}
	placeholders := make([]string, len(fields))
	for i, f := range fields {
		placeholders[i] = pb.Add(data[f])
	}

	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		model.TableName, strings.Join(fields, ", "), strings.Join(placeholders, ", "))
	if c.dialect == "postgres" {
		sql += " RETURNING " + strings.Join(d.AllowedFields, ", ")
	}
	return Statement{SQL: sql, Params: pb.params, TimeoutMs: d.Budget.StatementTimeoutMs}, nil
}

// BuildUpdate compiles a single-row update guarded by scope filters.
func (c *Compiler) BuildUpdate(d *engine.Decision, req *dsl.UpdateRequest) (Statement, error) {
	model := c.schema.GetModel(d.Model)
	if model == nil {
		return Statement{}, fmt.Errorf("unknown model: %s", d.Model)
	}

	fields := make([]string, 0, len(req.Data))
	for k := range req.Data {
		fields = append(fields, k)
	}
	sort.Strings(fields)

	pb := &paramBuilder{dialect: c.dialect}
	sets := make([]string, len(fields))
	for i, f := range fields {
		sets[i] = fmt.Sprintf("%s = %s", f, pb.Add(req.Data[f]))
	}

	where := []string{fmt.Sprintf("%s = %s", model.PrimaryKey, pb.Add(req.ID))}
	where = append(where, c.filterClauses(d.InjectedFilters, pb)...)

	sql := fmt.Sprintf("UPDATE %s SET %s WHERE %s",
		model.TableName, strings.Join(sets, ", "), strings.Join(where, " AND "))
	if c.dialect == "postgres" {
		sql += " RETURNING " + strings.Join(d.AllowedFields, ", ")
	}
	return Statement{SQL: sql, Params: pb.params, TimeoutMs: d.Budget.StatementTimeoutMs}, nil
}

// BuildBulkUpdate compiles an update over an explicit id list.
func (c *Compiler) BuildBulkUpdate(d *engine.Decision, req *dsl.BulkUpdateRequest) (Statement, error) {
	model := c.schema.GetModel(d.Model)
	if model == nil {
		return Statement{}, fmt.Errorf("unknown model: %s", d.Model)
	}

	fields := make([]string, 0, len(req.Data))
	for k := range req.Data {
		fields = append(fields, k)
	}
	sort.Strings(fields)

	pb := &paramBuilder{dialect: c.dialect}
	sets := make([]string, len(fields))
	for i, f := range fields {
		sets[i] = fmt.Sprintf("%s = %s", f, pb.Add(req.Data[f]))
	}

	where := []string{c.inClause(model.PrimaryKey, req.IDs, pb)}
	where = append(where, c.filterClauses(d.InjectedFilters, pb)...)

	sql := fmt.Sprintf("UPDATE %s SET %s WHERE %s",
		model.TableName, strings.Join(sets, ", "), strings.Join(where, " AND "))
	return Statement{SQL: sql, Params: pb.params, TimeoutMs: d.Budget.StatementTimeoutMs}, nil
}

// BuildDelete compiles either a soft-delete UPDATE (stamping the soft
// delete column with the call time) or a hard DELETE. The engine has
// already resolved which one the policy permits.
func (c *Compiler) BuildDelete(d *engine.Decision, req *dsl.DeleteRequest, softDeleteField string, now any) (Statement, error) {
	model := c.schema.GetModel(d.Model)
	if model == nil {
		return Statement{}, fmt.Errorf("unknown model: %s", d.Model)
	}

	pb := &paramBuilder{dialect: c.dialect}
	var sql string
	if softDeleteField != "" && !req.Hard {
		set := fmt.Sprintf("%s = %s", softDeleteField, pb.Add(now))
		where := []string{fmt.Sprintf("%s = %s", model.PrimaryKey, pb.Add(req.ID))}
		where = append(where, c.filterClauses(d.InjectedFilters, pb)...)
		sql = fmt.Sprintf("UPDATE %s SET %s WHERE %s", model.TableName, set, strings.Join(where, " AND "))
	} else {
		where := []string{fmt.Sprintf("%s = %s", model.PrimaryKey, pb.Add(req.ID))}
		where = append(where, c.filterClauses(d.InjectedFilters, pb)...)
		sql = fmt.Sprintf("DELETE FROM %s WHERE %s", model.TableName, strings.Join(where, " AND "))
	}
	return Statement{SQL: sql, Params: pb.params, TimeoutMs: d.Budget.StatementTimeoutMs}, nil
}

func (c *Compiler) filterClauses(filters []dsl.FilterClause, pb *paramBuilder) []string {
	clauses := make([]string, 0, len(filters))
	for _, f := range filters {
		clauses = append(clauses, c.filterClause(f, pb))
	}
	return clauses
}

func (c *Compiler) filterClause(f dsl.FilterClause, pb *paramBuilder) string {
	switch f.Op {
	case dsl.OpEq:
		return fmt.Sprintf("%s = %s", f.Field, pb.Add(f.Value))
	case dsl.OpNe:
		return fmt.Sprintf("%s != %s", f.Field, pb.Add(f.Value))
	case dsl.OpLt:
		return fmt.Sprintf("%s < %s", f.Field, pb.Add(f.Value))
	case dsl.OpLte:
		return fmt.Sprintf("%s <= %s", f.Field, pb.Add(f.Value))
	case dsl.OpGt:
		return fmt.Sprintf("%s > %s", f.Field, pb.Add(f.Value))
	case dsl.OpGte:
		return fmt.Sprintf("%s >= %s", f.Field, pb.Add(f.Value))
	case dsl.OpIn:
		return c.inClause(f.Field, f.ListValues(), pb)
	case dsl.OpNotIn:
		return "NOT " + c.inClause(f.Field, f.ListValues(), pb)
	case dsl.OpIsNull:
		return fmt.Sprintf("%s IS NULL", f.Field)
	case dsl.OpContains:
		return fmt.Sprintf("%s LIKE %s", f.Field, pb.Add("%"+stringOperand(f.Value)+"%"))
	case dsl.OpStartsWith:
		return fmt.Sprintf("%s LIKE %s", f.Field, pb.Add(stringOperand(f.Value)+"%"))
	case dsl.OpEndsWith:
		return fmt.Sprintf("%s LIKE %s", f.Field, pb.Add("%"+stringOperand(f.Value)))
	case dsl.OpBetween:
		bounds := f.ListValues()
		if len(bounds) != 2 {
			return "1 = 0"
		}
		return fmt.Sprintf("%s BETWEEN %s AND %s", f.Field, pb.Add(bounds[0]), pb.Add(bounds[1]))
	default:
		// Unknown operators never match anything.
		return "1 = 0"
	}
}

// inClause builds the dialect-specific IN expression: Postgres takes a
// single array parameter, SQLite expands the list.
func (c *Compiler) inClause(field string, values []any, pb *paramBuilder) string {
	if len(values) == 0 {
		return "1 = 0"
	}
	if c.dialect == "postgres" {
		return fmt.Sprintf("%s = ANY(%s)", field, pb.Add(values))
	}
	placeholders := make([]string, len(values))
	for i, v := range values {
		placeholders[i] = pb.Add(v)
	}
	return fmt.Sprintf("%s IN (%s)", field, strings.Join(placeholders, ", "))
}

// keysetClause renders the OR-of-ANDs keyset predicate.
func (c *Compiler) keysetClause(groups [][]dsl.FilterClause, pb *paramBuilder) string {
	if len(groups) == 0 {
		return ""
	}
	parts := make([]string, len(groups))
	for i, group := range groups {
		clauses := c.filterClauses(group, pb)
		parts[i] = "(" + strings.Join(clauses, " AND ") + ")"
	}
	if len(parts) == 1 {
		return parts[0]
	}
	return "(" + strings.Join(parts, " OR ") + ")"
}

func stringOperand(v any) string {
	s, _ := v.(string)
	return s
}
