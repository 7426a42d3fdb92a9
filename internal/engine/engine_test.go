package engine

import (
	"testing"

	"relgate/internal/dsl"
	"relgate/internal/policy"
	"relgate/internal/schema"
)

func boolPtr(b bool) *bool { return &b }

// customerSchema is the shared fixture: a tenant-scoped Customer with a
// secret column and an orders relation.
func customerSchema() *schema.Metadata {
	return &schema.Metadata{
		Models: map[string]*schema.Model{
			"Customer": {
				Name:       "Customer",
				TableName:  "customers",
				PrimaryKey: "id",
				Fields: map[string]*schema.Field{
					"id":        {Name: "id", Type: "string", Primary: true},
					"name":      {Name: "name", Type: "string"},
					"email":     {Name: "email", Type: "string"},
					"password":  {Name: "password", Type: "string"},
					"tenant_id": {Name: "tenant_id", Type: "string", Indexed: true},
					"total":     {Name: "total", Type: "float"},
				},
				Relations: map[string]*schema.Relation{
					"orders": {Name: "orders", Target: "Order", Kind: "many", ForeignKey: "customer_id"},
				},
			},
			"Order": {
				Name:       "Order",
				TableName:  "orders",
				PrimaryKey: "id",
				Fields: map[string]*schema.Field{
					"id":          {Name: "id", Type: "string", Primary: true},
					"customer_id": {Name: "customer_id", Type: "string", Indexed: true},
					"status":      {Name: "status", Type: "string"},
				},
			},
		},
	}
}

func customerPolicy(t *testing.T) *policy.Policy {
	t.Helper()
	pol, err := policy.NewBuilder().
		EnableWrites().
		Model("Customer").
		Writable().
		DenyField("password").
		MaskField("email").
		RowPolicy(policy.RowPolicy{TenantScopeField: "tenant_id"}).
		WritePolicy(policy.WritePolicy{
			Enabled:       true,
			AllowCreate:   true,
			AllowUpdate:   true,
			AllowDelete:   true,
			AllowBulk:     true,
			RequireReason: boolPtr(false),
		}).
		Aggregations("count", "sum").
		AggregatableFields("total").
		Done().
		Build()
	if err != nil {
		t.Fatalf("build policy: %v", err)
	}
	return pol
}

func tenantCtx() dsl.RunContext {
	return dsl.RunContext{Principal: dsl.Principal{TenantID: "t1", UserID: "u1"}}
}

func assertCode(t *testing.T, err error, code string) *PolicyError {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s, got nil", code)
	}
	pe, ok := AsPolicyError(err)
	if !ok {
		t.Fatalf("expected *PolicyError, got %T: %v", err, err)
	}
	if pe.Code != code {
		t.Fatalf("expected code %s, got %s (%s)", code, pe.Code, pe.Message)
	}
	return pe
}

func TestValidateQuery_ExcludesDeniedFieldAndRecordsMask(t *testing.T) {
	eng := New(customerPolicy(t), customerSchema())

	d, err := eng.ValidateQuery(&dsl.QueryRequest{Model: "Customer"}, tenantCtx())
	if err != nil {
		t.Fatalf("validate: %v", err)
	}

	for _, f := range d.AllowedFields {
		if f == "password" {
			t.Fatal("denied field password leaked into allowed fields")
		}
	}
	if !d.FieldAllowed("email") || !d.FieldAllowed("name") || !d.FieldAllowed("id") {
		t.Fatalf("expected id, name, email in allowed fields, got %v", d.AllowedFields)
	}
	if d.RedactionRules["email"] != policy.ActionMask {
		t.Fatalf("expected mask redaction on email, got %v", d.RedactionRules)
	}
	if _, ok := d.RedactionRules["password"]; ok {
		t.Fatal("denied field must not appear in redaction rules")
	}
}

func TestValidateQuery_SelectingDeniedFieldFails(t *testing.T) {
	eng := New(customerPolicy(t), customerSchema())

	_, err := eng.ValidateQuery(&dsl.QueryRequest{
		Model:  "Customer",
		Select: []string{"id", "password"},
	}, tenantCtx())
	pe := assertCode(t, err, CodeFieldNotAllowed)
	if pe.Details["field"] != "password" {
		t.Fatalf("expected field detail password, got %v", pe.Details)
	}
	allowed, _ := pe.Details["allowed_fields"].([]string)
	for _, f := range allowed {
		if f == "password" {
			t.Fatal("allowed_fields in the error must not list the denied field")
		}
	}
}

func TestValidateQuery_FilteringOnDeniedFieldFails(t *testing.T) {
	eng := New(customerPolicy(t), customerSchema())

	_, err := eng.ValidateQuery(&dsl.QueryRequest{
		Model: "Customer",
		Where: []dsl.FilterClause{{Field: "password", Op: dsl.OpEq, Value: "x"}},
	}, tenantCtx())
	assertCode(t, err, CodeFieldNotAllowed)
}

func TestValidateQuery_InjectsTenantFilterExactlyOnce(t *testing.T) {
	eng := New(customerPolicy(t), customerSchema())

	d, err := eng.ValidateQuery(&dsl.QueryRequest{
		Model: "Customer",
		Where: []dsl.FilterClause{{Field: "name", Op: dsl.OpContains, Value: "smith"}},
	}, tenantCtx())
	if err != nil {
		t.Fatalf("validate: %v", err)
	}

	var tenantFilters int
	for _, f := range d.InjectedFilters {
		if f.Field == "tenant_id" {
			tenantFilters++
			if f.Op != dsl.OpEq || f.Value != "t1" {
				t.Fatalf("expected tenant_id eq t1, got %s %s %v", f.Field, f.Op, f.Value)
			}
		}
	}
	if tenantFilters != 1 {
		t.Fatalf("expected exactly one tenant filter, got %d", tenantFilters)
	}
}

func TestValidateQuery_MissingTenantIsRejected(t *testing.T) {
	eng := New(customerPolicy(t), customerSchema())

	_, err := eng.ValidateQuery(&dsl.QueryRequest{Model: "Customer"},
		dsl.RunContext{Principal: dsl.Principal{UserID: "u1"}})
	assertCode(t, err, CodeTenantScopeRequired)
}

func TestValidateQuery_UnknownModel(t *testing.T) {
	eng := New(customerPolicy(t), customerSchema())

	_, err := eng.ValidateQuery(&dsl.QueryRequest{Model: "Invoice"}, tenantCtx())
	pe := assertCode(t, err, CodeModelNotAllowed)
	allowed, _ := pe.Details["allowed_models"].([]string)
	if len(allowed) == 0 {
		t.Fatal("expected allowed_models in error details")
	}
}

func TestValidateQuery_BroadQueryGuard(t *testing.T) {
	pol, err := policy.NewBuilder().
		Model("Order").
		Budget(policy.Budget{
			MaxRows:                 100,
			MaxIncludesDepth:        2,
			MaxSelectFields:         20,
			StatementTimeoutMs:      5000,
			MaxComplexityScore:      200,
			BroadQueryGuard:         true,
			MinFiltersForBroadQuery: 1,
		}).
		Done().
		Build()
	if err != nil {
		t.Fatalf("build policy: %v", err)
	}
	eng := New(pol, customerSchema())

	// No row policy and no user filters: guard trips.
	_, qerr := eng.ValidateQuery(&dsl.QueryRequest{Model: "Order"}, tenantCtx())
	assertCode(t, qerr, CodeQueryTooBroad)

	// A single user filter satisfies the guard.
	if _, err := eng.ValidateQuery(&dsl.QueryRequest{
		Model: "Order",
		Where: []dsl.FilterClause{{Field: "status", Op: dsl.OpEq, Value: "open"}},
	}, tenantCtx()); err != nil {
		t.Fatalf("expected guard pass with one filter: %v", err)
	}
}

func TestValidateQuery_IncludeChecks(t *testing.T) {
	eng := New(customerPolicy(t), customerSchema())

	// Unknown relation
	_, err := eng.ValidateQuery(&dsl.QueryRequest{
		Model:   "Customer",
		Include: []dsl.IncludeClause{{Relation: "invoices"}},
	}, tenantCtx())
	assertCode(t, err, CodeRelationNotAllowed)

	// Known relation with no explicit policy entry is default-allowed
	if _, err := eng.ValidateQuery(&dsl.QueryRequest{
		Model:   "Customer",
		Include: []dsl.IncludeClause{{Relation: "orders"}},
	}, tenantCtx()); err != nil {
		t.Fatalf("expected default-allowed include: %v", err)
	}
}

func TestValidateQuery_ExplicitlyDisallowedRelation(t *testing.T) {
	pol, err := policy.NewBuilder().
		Model("Customer").
		Relation("orders", policy.RelationPolicy{Allowed: false}).
		Done().
		Build()
	if err != nil {
		t.Fatalf("build policy: %v", err)
	}
	eng := New(pol, customerSchema())

	_, qerr := eng.ValidateQuery(&dsl.QueryRequest{
		Model:   "Customer",
		Include: []dsl.IncludeClause{{Relation: "orders"}},
	}, tenantCtx())
	assertCode(t, qerr, CodeRelationNotAllowed)
}

func TestValidateAggregate(t *testing.T) {
	eng := New(customerPolicy(t), customerSchema())

	// count is allowed and needs no field
	if _, err := eng.ValidateAggregate(&dsl.AggregateRequest{
		Model: "Customer", Op: dsl.AggCount,
	}, tenantCtx()); err != nil {
		t.Fatalf("count: %v", err)
	}

	// sum over the aggregatable field passes
	if _, err := eng.ValidateAggregate(&dsl.AggregateRequest{
		Model: "Customer", Op: dsl.AggSum, Field: "total",
	}, tenantCtx()); err != nil {
		t.Fatalf("sum total: %v", err)
	}

	// avg is not in the allowed operations
	_, err := eng.ValidateAggregate(&dsl.AggregateRequest{
		Model: "Customer", Op: dsl.AggAvg, Field: "total",
	}, tenantCtx())
	assertCode(t, err, CodeValidationError)

	// sum over a non-aggregatable field fails
	_, err = eng.ValidateAggregate(&dsl.AggregateRequest{
		Model: "Customer", Op: dsl.AggSum, Field: "name",
	}, tenantCtx())
	assertCode(t, err, CodeFieldNotAllowed)
}

func TestValidateCreate_StampsScopeData(t *testing.T) {
	eng := New(customerPolicy(t), customerSchema())

	d, err := eng.ValidateCreate(&dsl.CreateRequest{
		Model: "Customer",
		Data:  map[string]any{"name": "Ada", "email": "ada@example.com"},
	}, tenantCtx())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if d.ScopeData["tenant_id"] != "t1" {
		t.Fatalf("expected tenant_id stamped into scope data, got %v", d.ScopeData)
	}
}

func TestValidateCreate_DeniedFieldInPayload(t *testing.T) {
	eng := New(customerPolicy(t), customerSchema())

	_, err := eng.ValidateCreate(&dsl.CreateRequest{
		Model: "Customer",
		Data:  map[string]any{"password": "hunter2"},
	}, tenantCtx())
	assertCode(t, err, CodeFieldNotAllowed)
}

func TestValidateCreate_WriteRuleViolation(t *testing.T) {
	pol, err := policy.NewBuilder().
		EnableWrites().
		Model("Customer").
		Writable().
		WritePolicy(policy.WritePolicy{
			Enabled: true, AllowCreate: true, RequireReason: boolPtr(false),
		}).
		WriteRule("total-cap", "record.total > 1000", "total must not exceed 1000").
		Done().
		Build()
	if err != nil {
		t.Fatalf("build policy: %v", err)
	}
	eng := New(pol, customerSchema())

	_, cerr := eng.ValidateCreate(&dsl.CreateRequest{
		Model: "Customer",
		Data:  map[string]any{"total": 5000},
	}, tenantCtx())
	pe := assertCode(t, cerr, CodeValidationError)
	if pe.Message != "total must not exceed 1000" {
		t.Fatalf("expected rule message, got %q", pe.Message)
	}

	// Payload within the cap passes.
	if _, err := eng.ValidateCreate(&dsl.CreateRequest{
		Model: "Customer",
		Data:  map[string]any{"total": 10},
	}, tenantCtx()); err != nil {
		t.Fatalf("expected pass below cap: %v", err)
	}
}

func TestValidateUpdate_ReadonlyField(t *testing.T) {
	pol, err := policy.NewBuilder().
		EnableWrites().
		Model("Customer").
		Writable().
		WritePolicy(policy.WritePolicy{
			Enabled: true, AllowUpdate: true,
			RequireReason:  boolPtr(false),
			ReadonlyFields: []string{"tenant_id"},
		}).
		Done().
		Build()
	if err != nil {
		t.Fatalf("build policy: %v", err)
	}
	eng := New(pol, customerSchema())

	_, uerr := eng.ValidateUpdate(&dsl.UpdateRequest{
		Model: "Customer", ID: "c1",
		Data: map[string]any{"tenant_id": "t2"},
	}, tenantCtx())
	assertCode(t, uerr, CodeValidationError)
}

func TestWriteGates(t *testing.T) {
	// Root writes_enabled off: every write fails regardless of model policy.
	pol, err := policy.NewBuilder().
		Model("Customer").
		Writable().
		WritePolicy(policy.WritePolicy{Enabled: true, AllowCreate: true, RequireReason: boolPtr(false)}).
		Done().
		Build()
	if err != nil {
		t.Fatalf("build policy: %v", err)
	}
	eng := New(pol, customerSchema())
	_, werr := eng.ValidateCreate(&dsl.CreateRequest{
		Model: "Customer", Data: map[string]any{"name": "Ada"},
	}, tenantCtx())
	assertCode(t, werr, CodeWriteDisabled)

	// Approval gate
	pol, err = policy.NewBuilder().
		EnableWrites().
		Model("Customer").
		Writable().
		WritePolicy(policy.WritePolicy{
			Enabled: true, AllowCreate: true,
			RequireApproval: true, RequireReason: boolPtr(false),
		}).
		Done().
		Build()
	if err != nil {
		t.Fatalf("build policy: %v", err)
	}
	eng = New(pol, customerSchema())
	_, werr = eng.ValidateCreate(&dsl.CreateRequest{
		Model: "Customer", Data: map[string]any{"name": "Ada"},
	}, tenantCtx())
	assertCode(t, werr, CodeWriteApprovalRequired)

	// Reason requirement (default true)
	pol, err = policy.NewBuilder().
		EnableWrites().
		Model("Customer").
		Writable().
		WritePolicy(policy.WritePolicy{Enabled: true, AllowCreate: true}).
		Done().
		Build()
	if err != nil {
		t.Fatalf("build policy: %v", err)
	}
	eng = New(pol, customerSchema())
	_, werr = eng.ValidateCreate(&dsl.CreateRequest{
		Model: "Customer", Data: map[string]any{"name": "Ada"},
	}, tenantCtx())
	assertCode(t, werr, CodeValidationError)

	if _, err := eng.ValidateCreate(&dsl.CreateRequest{
		Model: "Customer", Data: map[string]any{"name": "Ada"}, Reason: "onboarding import",
	}, tenantCtx()); err != nil {
		t.Fatalf("expected pass with reason: %v", err)
	}
}

func TestValidateDelete_HardDeleteConflictsWithSoftDeletePolicy(t *testing.T) {
	// soft_delete left unset defaults to true
	eng := New(customerPolicy(t), customerSchema())

	_, err := eng.ValidateDelete(&dsl.DeleteRequest{
		Model: "Customer", ID: "c1", Hard: true,
	}, tenantCtx())
	assertCode(t, err, CodeValidationError)

	// Soft delete passes.
	if _, err := eng.ValidateDelete(&dsl.DeleteRequest{
		Model: "Customer", ID: "c1",
	}, tenantCtx()); err != nil {
		t.Fatalf("soft delete: %v", err)
	}
}

func TestValidateDelete_HardAllowedWhenSoftDeleteDisabled(t *testing.T) {
	pol, err := policy.NewBuilder().
		EnableWrites().
		Model("Customer").
		Writable().
		WritePolicy(policy.WritePolicy{
			Enabled: true, AllowDelete: true,
			SoftDelete:    boolPtr(false),
			RequireReason: boolPtr(false),
		}).
		Done().
		Build()
	if err != nil {
		t.Fatalf("build policy: %v", err)
	}
	eng := New(pol, customerSchema())

	if _, err := eng.ValidateDelete(&dsl.DeleteRequest{
		Model: "Customer", ID: "c1", Hard: true,
	}, tenantCtx()); err != nil {
		t.Fatalf("hard delete with soft_delete=false: %v", err)
	}
}

func TestValidateBulkUpdate_MaxAffectedRows(t *testing.T) {
	eng := New(customerPolicy(t), customerSchema())

	ids := make([]any, 101)
	for i := range ids {
		ids[i] = i
	}
	_, err := eng.ValidateBulkUpdate(&dsl.BulkUpdateRequest{
		Model: "Customer",
		IDs:   ids,
		Data:  map[string]any{"name": "renamed"},
	}, tenantCtx())
	pe := assertCode(t, err, CodeMaxAffectedRowsExceeded)
	if pe.Details["max_rows"] != 100 || pe.Details["affected"] != 101 {
		t.Fatalf("expected limit 100 / affected 101, got %v", pe.Details)
	}

	// 100 ids is exactly at the default limit.
	if _, err := eng.ValidateBulkUpdate(&dsl.BulkUpdateRequest{
		Model: "Customer",
		IDs:   ids[:100],
		Data:  map[string]any{"name": "renamed"},
	}, tenantCtx()); err != nil {
		t.Fatalf("expected pass at limit: %v", err)
	}
}

func TestValidateGet_AppliesScopeAndRedaction(t *testing.T) {
	eng := New(customerPolicy(t), customerSchema())

	d, err := eng.ValidateGet(&dsl.GetRequest{Model: "Customer", ID: "c1"}, tenantCtx())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(d.InjectedFilters) == 0 {
		t.Fatal("expected scope filters on get")
	}
	if d.RedactionRules["email"] != policy.ActionMask {
		t.Fatalf("expected mask rule on email, got %v", d.RedactionRules)
	}
}
