package engine

import (
	"sort"

	"relgate/internal/cursor"
	"relgate/internal/dsl"
	"relgate/internal/policy"
	"relgate/internal/schema"
)

// Engine evaluates DSL requests against a fixed (policy, schema) pair.
// All validators are pure functions of (request, context) plus that
// state: no I/O, no mutation, safe to share across goroutines.
type Engine struct {
	policy  *policy.Policy
	schema  *schema.Metadata
	scorer  *ComplexityScorer
	cursors *cursor.Encoder
}

// Option configures an Engine.
type Option func(*Engine)

// WithComplexityWeights overrides the default scoring weights.
func WithComplexityWeights(w ComplexityWeights) Option {
	return func(e *Engine) { e.scorer = NewComplexityScorer(w) }
}

// WithCursorEncoder lets the engine verify incoming pagination cursors
// before the compiler expands them.
func WithCursorEncoder(enc *cursor.Encoder) Option {
	return func(e *Engine) { e.cursors = enc }
}

func New(p *policy.Policy, meta *schema.Metadata, opts ...Option) *Engine {
	e := &Engine{
		policy: p,
		schema: meta,
		scorer: NewComplexityScorer(DefaultComplexityWeights()),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ValidateQuery runs the full read pipeline: model access, budget
// resolution, field resolution, include validation, row-scope
// injection, broad-query guard, hard budget enforcement, redaction
// collection, cursor verification.
func (e *Engine) ValidateQuery(req *dsl.QueryRequest, ctx dsl.RunContext) (*Decision, error) {
	if err := req.Normalize(); err != nil {
		return nil, NewValidationError(err.Error(), nil)
	}

	mp, model, err := e.readAccess(req.Model)
	if err != nil {
		return nil, err
	}

	d := &Decision{
		Model:          req.Model,
		Budget:         e.policy.EffectiveBudget(mp),
		RedactionRules: map[string]string{},
	}
	d.note("model %s readable", req.Model)

	if err := e.resolveFields(d, mp, model, req.Select); err != nil {
		return nil, err
	}
	if err := e.checkFilterFields(mp, model, req.Where); err != nil {
		return nil, err
	}
	for i := range req.OrderBy {
		if err := e.checkFilterField(mp, model, req.OrderBy[i].Field); err != nil {
			return nil, err
		}
	}

	if err := e.checkIncludes(d, mp, model, req.Include); err != nil {
		return nil, err
	}

	if err := e.injectScope(d, mp, req.Model, ctx); err != nil {
		return nil, err
	}

	if d.Budget.BroadQueryGuard {
		total := len(d.InjectedFilters) + len(req.Where)
		if total < d.Budget.MinFiltersForBroadQuery {
			return nil, QueryTooBroadError(req.Model, total, d.Budget.MinFiltersForBroadQuery)
		}
		d.note("broad-query guard passed with %d filters", total)
	}

	enforcer := NewBudgetEnforcer(d.Budget, e.scorer)
	if err := enforcer.Enforce(req); err != nil {
		return nil, err
	}
	d.note("budget ok: take=%d score=%d", req.Take, e.scorer.Score(req))

	if req.Cursor != "" {
		if err := e.checkCursor(req); err != nil {
			return nil, err
		}
		d.note("cursor verified")
	}

	e.collectRedactions(d, mp)
	return d, nil
}

// ValidateGet validates a primary-key read. Scope filters still apply:
// a row outside scope surfaces to the executor as an empty result, which
// it must report as NOT_FOUND without distinguishing the two cases.
func (e *Engine) ValidateGet(req *dsl.GetRequest, ctx dsl.RunContext) (*Decision, error) {
	if err := req.Normalize(); err != nil {
		return nil, NewValidationError(err.Error(), nil)
	}

	mp, model, err := e.readAccess(req.Model)
	if err != nil {
		return nil, err
	}

	d := &Decision{
		Model:          req.Model,
		Budget:         e.policy.EffectiveBudget(mp),
		RedactionRules: map[string]string{},
	}
	d.note("model %s readable", req.Model)

	if err := e.resolveFields(d, mp, model, req.Select); err != nil {
		return nil, err
	}
	if err := e.checkIncludes(d, mp, model, req.Include); err != nil {
		return nil, err
	}
	if err := e.injectScope(d, mp, req.Model, ctx); err != nil {
		return nil, err
	}

	e.collectRedactions(d, mp)
	return d, nil
}

// ValidateAggregate checks the aggregate operation and its target field
// against the model's aggregation policy.
func (e *Engine) ValidateAggregate(req *dsl.AggregateRequest, ctx dsl.RunContext) (*Decision, error) {
	if err := req.Normalize(); err != nil {
		return nil, NewValidationError(err.Error(), nil)
	}

	mp, model, err := e.readAccess(req.Model)
	if err != nil {
		return nil, err
	}

	d := &Decision{
		Model:          req.Model,
		Budget:         e.policy.EffectiveBudget(mp),
		RedactionRules: map[string]string{},
	}

	if !mp.AllowsAggregation(req.Op) {
		return nil, NewValidationError(
			"aggregate operation not permitted on this model",
			map[string]any{"model": req.Model, "op": req.Op, "allowed_aggregations": mp.AllowedAggregations},
			"Use one of allowed_aggregations",
		)
	}

	if req.Op != dsl.AggCount {
		if err := e.checkFilterField(mp, model, req.Field); err != nil {
			return nil, err
		}
		if !mp.AggregatableField(req.Field) {
			return nil, FieldNotAllowedError(req.Model, req.Field, mp.AggregatableFields)
		}
		d.AllowedFields = []string{req.Field}
	}
	if req.GroupBy != "" {
		if err := e.checkFilterField(mp, model, req.GroupBy); err != nil {
			return nil, err
		}
	}
	if err := e.checkFilterFields(mp, model, req.Where); err != nil {
		return nil, err
	}

	if err := e.injectScope(d, mp, req.Model, ctx); err != nil {
		return nil, err
	}

	d.note("aggregate %s permitted", req.Op)
	return d, nil
}

// ValidateCreate validates a single-row insert. Scope data is stamped
// onto the decision so tenant and owner columns are set server-side.
func (e *Engine) ValidateCreate(req *dsl.CreateRequest, ctx dsl.RunContext) (*Decision, error) {
	if err := req.Normalize(); err != nil {
		return nil, NewValidationError(err.Error(), nil)
	}

	mp, model, err := e.writeAccess(req.Model, "create", req.Reason)
	if err != nil {
		return nil, err
	}
	if !mp.WritePolicy.AllowCreate {
		return nil, WriteDisabledError(req.Model, "create")
	}

	d := &Decision{
		Model:          req.Model,
		Budget:         e.policy.EffectiveBudget(mp),
		RedactionRules: map[string]string{},
	}

	if err := e.checkWrittenFields(mp, model, req.Model, req.Data); err != nil {
		return nil, err
	}
	if err := e.checkWriteRules(mp, req.Data, ctx, "create"); err != nil {
		return nil, err
	}

	rp := e.policy.EffectiveRowPolicy(mp)
	if data := ScopeData(rp, ctx); data != nil {
		d.ScopeData = data
		d.note("scope data stamped: %d fields", len(data))
	}

	if err := e.resolveFields(d, mp, model, req.Select); err != nil {
		return nil, err
	}
	e.collectRedactions(d, mp)
	d.note("create permitted on %s", req.Model)
	return d, nil
}

// ValidateUpdate validates a single-row update by primary key.
func (e *Engine) ValidateUpdate(req *dsl.UpdateRequest, ctx dsl.RunContext) (*Decision, error) {
	if err := req.Normalize(); err != nil {
		return nil, NewValidationError(err.Error(), nil)
	}

	mp, model, err := e.writeAccess(req.Model, "update", req.Reason)
	if err != nil {
		return nil, err
	}
	if !mp.WritePolicy.AllowUpdate {
		return nil, WriteDisabledError(req.Model, "update")
	}

	d := &Decision{
		Model:          req.Model,
		Budget:         e.policy.EffectiveBudget(mp),
		RedactionRules: map[string]string{},
	}

	if err := e.checkWrittenFields(mp, model, req.Model, req.Data); err != nil {
		return nil, err
	}
	if err := e.checkWriteRules(mp, req.Data, ctx, "update"); err != nil {
		return nil, err
	}
	if err := e.injectScope(d, mp, req.Model, ctx); err != nil {
		return nil, err
	}

	if err := e.resolveFields(d, mp, model, req.Select); err != nil {
		return nil, err
	}
	e.collectRedactions(d, mp)
	d.note("update permitted on %s", req.Model)
	return d, nil
}

// ValidateDelete validates a delete. A hard delete against a policy
// that forces soft delete is rejected rather than silently downgraded.
func (e *Engine) ValidateDelete(req *dsl.DeleteRequest, ctx dsl.RunContext) (*Decision, error) {
	if err := req.Normalize(); err != nil {
		return nil, NewValidationError(err.Error(), nil)
	}

	mp, model, err := e.writeAccess(req.Model, "delete", req.Reason)
	if err != nil {
		return nil, err
	}
	if !mp.WritePolicy.AllowDelete {
		return nil, WriteDisabledError(req.Model, "delete")
	}

	if req.Hard && mp.WritePolicy.SoftDeleteEnabled() {
		return nil, NewValidationError(
			"hard delete conflicts with the model's soft-delete policy",
			map[string]any{"model": req.Model, "hard": true, "soft_delete": true},
			"Retry without hard, or have an operator disable soft_delete for this model",
		)
	}

	d := &Decision{
		Model:          req.Model,
		Budget:         e.policy.EffectiveBudget(mp),
		RedactionRules: map[string]string{},
	}
	if err := e.injectScope(d, mp, req.Model, ctx); err != nil {
		return nil, err
	}
	d.AllowedFields = e.allFields(mp, model)
	d.note("delete permitted on %s (soft=%v)", req.Model, mp.WritePolicy.SoftDeleteEnabled())
	return d, nil
}

// ValidateBulkUpdate validates an update over an explicit id list.
func (e *Engine) ValidateBulkUpdate(req *dsl.BulkUpdateRequest, ctx dsl.RunContext) (*Decision, error) {
	if err := req.Normalize(); err != nil {
		return nil, NewValidationError(err.Error(), nil)
	}

	mp, model, err := e.writeAccess(req.Model, "bulk_update", req.Reason)
	if err != nil {
		return nil, err
	}
	if !mp.WritePolicy.AllowUpdate || !mp.WritePolicy.AllowBulk {
		return nil, WriteDisabledError(req.Model, "bulk_update")
	}

	if maxRows := mp.WritePolicy.EffectiveMaxAffectedRows(); len(req.IDs) > maxRows {
		return nil, MaxAffectedRowsError(maxRows, len(req.IDs))
	}

	d := &Decision{
		Model:          req.Model,
		Budget:         e.policy.EffectiveBudget(mp),
		RedactionRules: map[string]string{},
	}

	if err := e.checkWrittenFields(mp, model, req.Model, req.Data); err != nil {
		return nil, err
	}
	if err := e.checkWriteRules(mp, req.Data, ctx, "bulk_update"); err != nil {
		return nil, err
	}
	if err := e.injectScope(d, mp, req.Model, ctx); err != nil {
		return nil, err
	}

	d.AllowedFields = e.allFields(mp, model)
	e.collectRedactions(d, mp)
	d.note("bulk update permitted on %s for %d ids", req.Model, len(req.IDs))
	return d, nil
}

// readAccess checks the model exists, is allowed and readable.
func (e *Engine) readAccess(name string) (*policy.ModelPolicy, *schema.Model, error) {
	mp := e.policy.GetModel(name)
	if mp == nil || !mp.Allowed || !mp.Readable {
		return nil, nil, ModelNotAllowedError(name, e.policy.AllowedModels())
	}
	model := e.schema.GetModel(name)
	if model == nil {
		return nil, nil, ModelNotAllowedError(name, e.policy.AllowedModels())
	}
	return mp, model, nil
}

// writeAccess checks the root write switch, model writability, the
// write policy, the approval gate and the reason requirement.
func (e *Engine) writeAccess(name, operation, reason string) (*policy.ModelPolicy, *schema.Model, error) {
	mp := e.policy.GetModel(name)
	if mp == nil || !mp.Allowed {
		return nil, nil, ModelNotAllowedError(name, e.policy.AllowedModels())
	}
	model := e.schema.GetModel(name)
	if model == nil {
		return nil, nil, ModelNotAllowedError(name, e.policy.AllowedModels())
	}

	if !e.policy.WritesEnabled || !mp.Writable || !mp.WritePolicy.Enabled {
		return nil, nil, WriteDisabledError(name, operation)
	}
	if mp.WritePolicy.RequireApproval {
		return nil, nil, WriteApprovalRequiredError(name, operation)
	}
	if mp.WritePolicy.RequireReasonEnabled() && reason == "" {
		return nil, nil, NewValidationError(
			"write operations on this model require a reason",
			map[string]any{"model": name, "operation": operation},
			"Provide a short reason for the change and retry",
		)
	}
	return mp, model, nil
}

// resolveFields computes the allowed field set. With an explicit select,
// every requested field must exist and not be denied; without one, the
// allowed set is every schema field minus denied ones. Mask and hash do
// not block selection — they are redaction concerns.
func (e *Engine) resolveFields(d *Decision, mp *policy.ModelPolicy, model *schema.Model, selects []string) error {
	if len(selects) > 0 {
		for _, field := range selects {
			if !model.HasField(field) || e.policy.FieldAction(mp, field) == policy.ActionDeny {
				return FieldNotAllowedError(d.Model, field, e.allFields(mp, model))
			}
		}
		d.AllowedFields = append([]string(nil), selects...)
		d.note("select of %d fields allowed", len(selects))
		return nil
	}

	d.AllowedFields = e.allFields(mp, model)
	d.note("defaulted to %d allowed fields", len(d.AllowedFields))
	return nil
}

// allFields is the schema field list minus policy-denied fields, sorted
// for stable output.
func (e *Engine) allFields(mp *policy.ModelPolicy, model *schema.Model) []string {
	var fields []string
	for name := range model.Fields {
		if e.policy.FieldAction(mp, name) != policy.ActionDeny {
			fields = append(fields, name)
		}
	}
	sort.Strings(fields)
	return fields
}

func (e *Engine) checkFilterFields(mp *policy.ModelPolicy, model *schema.Model, filters []dsl.FilterClause) error {
	for _, f := range filters {
		if err := e.checkFilterField(mp, model, f.Field); err != nil {
			return err
		}
	}
	return nil
}

// checkFilterField rejects filtering or ordering on unknown or denied
// fields: filtering on a denied field would leak its values through
// result membership.
func (e *Engine) checkFilterField(mp *policy.ModelPolicy, model *schema.Model, field string) error {
	if !model.HasField(field) || e.policy.FieldAction(mp, field) == policy.ActionDeny {
		return FieldNotAllowedError(model.Name, field, e.allFields(mp, model))
	}
	return nil
}

// checkIncludes validates the include list length against the budget
// and each relation against schema and relation policy. A relation with
// no explicit policy entry is default-allowed.
func (e *Engine) checkIncludes(d *Decision, mp *policy.ModelPolicy, model *schema.Model, includes []dsl.IncludeClause) error {
	if len(includes) == 0 {
		return nil
	}
	if len(includes) > d.Budget.MaxIncludesDepth {
		return BudgetExceededError("includes", d.Budget.MaxIncludesDepth, len(includes))
	}

	for _, inc := range includes {
		if !model.HasRelation(inc.Relation) {
			return RelationNotAllowedError(d.Model, inc.Relation, e.allowedRelations(mp, model))
		}
		if rp, ok := mp.Relations[inc.Relation]; ok && (rp == nil || !rp.Allowed) {
			return RelationNotAllowedError(d.Model, inc.Relation, e.allowedRelations(mp, model))
		}
		if rp, ok := mp.Relations[inc.Relation]; ok && rp != nil && len(rp.AllowedFields) > 0 {
			for _, sel := range inc.Select {
				if !contains(rp.AllowedFields, sel) {
					return FieldNotAllowedError(inc.Relation, sel, rp.AllowedFields)
				}
			}
		}
	}
	d.note("%d includes allowed", len(includes))
	return nil
}

func (e *Engine) allowedRelations(mp *policy.ModelPolicy, model *schema.Model) []string {
	var names []string
	for name := range model.Relations {
		if rp, ok := mp.Relations[name]; ok && (rp == nil || !rp.Allowed) {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// injectScope resolves the row policy, enforces the tenant-scope
// requirement and appends the derived filters to the decision.
func (e *Engine) injectScope(d *Decision, mp *policy.ModelPolicy, model string, ctx dsl.RunContext) error {
	rp := e.policy.EffectiveRowPolicy(mp)

	needTenant := e.policy.RequireTenantScope ||
		(rp != nil && rp.TenantScopeField != "" && rp.RequireScopeEnabled())
	if needTenant && ctx.Principal.TenantID == "" {
		return TenantScopeRequiredError(model)
	}
	if e.policy.RequireTenantScope && (rp == nil || rp.TenantScopeField == "") {
		return TenantScopeRequiredError(model)
	}

	filters := ScopeFilters(rp, ctx)
	if len(filters) > 0 {
		d.InjectedFilters = append(d.InjectedFilters, filters...)
		for _, f := range filters {
			d.note("injected scope filter %s %s", f.Field, f.Op)
		}
	}
	return nil
}

// checkWrittenFields rejects unknown, denied and readonly fields in a
// write payload.
func (e *Engine) checkWrittenFields(mp *policy.ModelPolicy, model *schema.Model, modelName string, data map[string]any) error {
	for field := range data {
		if !model.HasField(field) || e.policy.FieldAction(mp, field) == policy.ActionDeny {
			return FieldNotAllowedError(modelName, field, e.allFields(mp, model))
		}
		if mp.WritePolicy.IsReadonlyField(field) {
			return NewValidationError(
				"field is readonly",
				map[string]any{"model": modelName, "field": field},
				"Remove the readonly field from data and retry",
			)
		}
	}
	return nil
}

// checkWriteRules runs the policy's expression write rules against the
// payload and principal claims.
func (e *Engine) checkWriteRules(mp *policy.ModelPolicy, data map[string]any, ctx dsl.RunContext, action string) error {
	principal := map[string]any{
		"tenant_id": ctx.Principal.TenantID,
		"user_id":   ctx.Principal.UserID,
		"roles":     ctx.Principal.Roles,
	}
	violations := policy.EvaluateWriteRules(mp, data, principal, action)
	if len(violations) == 0 {
		return nil
	}
	return NewValidationError(
		violations[0].Message,
		map[string]any{"rule": violations[0].Rule, "violations": violations},
		"Adjust the payload so the write rules pass",
	)
}

// checkCursor verifies the incoming cursor decodes and, for keyset
// cursors, that its values correspond to the query's order fields.
func (e *Engine) checkCursor(req *dsl.QueryRequest) error {
	if e.cursors == nil {
		return nil
	}
	data, err := e.cursors.Decode(req.Cursor)
	if err != nil {
		return NewValidationError(
			"invalid pagination cursor",
			map[string]any{"cause": err.Error()},
			"Drop the cursor and restart pagination from the first page",
		)
	}
	if data.Type != cursor.TypeKeyset {
		return nil
	}
	for field := range data.Values {
		found := false
		for _, of := range req.OrderBy {
			if of.Field == field {
				found = true
				break
			}
		}
		if !found {
			return NewValidationError(
				"cursor does not match the query's order fields",
				map[string]any{"cursor_field": field},
				"Keep order_by identical across pages, or drop the cursor",
			)
		}
	}
	return nil
}

// collectRedactions records field -> action for every allowed field
// whose action is not plain allow.
func (e *Engine) collectRedactions(d *Decision, mp *policy.ModelPolicy) {
	for _, field := range d.AllowedFields {
		if action := e.policy.FieldAction(mp, field); action != policy.ActionAllow {
			d.RedactionRules[field] = action
		}
	}
	if len(d.RedactionRules) > 0 {
		d.note("%d redaction rules collected", len(d.RedactionRules))
	}
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
