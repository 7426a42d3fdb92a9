package policy

// Builder assembles a Policy programmatically: a mutable draft that is
// validated and frozen by Build. Used by tests and embedders; server
// deployments usually load a YAML document instead.
type Builder struct {
	policy Policy
}

type ModelBuilder struct {
	parent *Builder
	name   string
	mp     *ModelPolicy
}

func NewBuilder() *Builder {
	return &Builder{
		policy: Policy{
			Models:        make(map[string]*ModelPolicy),
			DefaultBudget: DefaultBudget(),
		},
	}
}

func (b *Builder) DefaultBudget(budget Budget) *Builder {
	b.policy.DefaultBudget = budget
	return b
}

func (b *Builder) DefaultRowPolicy(rp RowPolicy) *Builder {
	b.policy.DefaultRowPolicy = &rp
	return b
}

func (b *Builder) DenyPattern(patterns ...string) *Builder {
	b.policy.GlobalDenyPatterns = append(b.policy.GlobalDenyPatterns, patterns...)
	return b
}

func (b *Builder) MaskPattern(patterns ...string) *Builder {
	b.policy.GlobalMaskPatterns = append(b.policy.GlobalMaskPatterns, patterns...)
	return b
}

func (b *Builder) RequireTenantScope() *Builder {
	b.policy.RequireTenantScope = true
	return b
}

func (b *Builder) EnableWrites() *Builder {
	b.policy.WritesEnabled = true
	return b
}

// Model opens a model policy, readable and allowed by default.
func (b *Builder) Model(name string) *ModelBuilder {
	mp := &ModelPolicy{
		Allowed:  true,
		Readable: true,
		Fields:   make(map[string]*FieldPolicy),
	}
	b.policy.Models[name] = mp
	return &ModelBuilder{parent: b, name: name, mp: mp}
}

func (m *ModelBuilder) Writable() *ModelBuilder {
	m.mp.Writable = true
	return m
}

func (m *ModelBuilder) DenyField(names ...string) *ModelBuilder {
	for _, n := range names {
		m.mp.Fields[n] = &FieldPolicy{Action: ActionDeny}
	}
	return m
}

func (m *ModelBuilder) MaskField(name string, pattern ...string) *ModelBuilder {
	fp := &FieldPolicy{Action: ActionMask}
	if len(pattern) > 0 {
		fp.MaskPattern = pattern[0]
	}
	m.mp.Fields[name] = fp
	return m
}

func (m *ModelBuilder) HashField(names ...string) *ModelBuilder {
	for _, n := range names {
		m.mp.Fields[n] = &FieldPolicy{Action: ActionHash}
	}
	return m
}

func (m *ModelBuilder) DefaultFieldAction(action string) *ModelBuilder {
	m.mp.DefaultFieldAction = action
	return m
}

func (m *ModelBuilder) Relation(name string, rp RelationPolicy) *ModelBuilder {
	if m.mp.Relations == nil {
		m.mp.Relations = make(map[string]*RelationPolicy)
	}
	m.mp.Relations[name] = &rp
	return m
}

func (m *ModelBuilder) RowPolicy(rp RowPolicy) *ModelBuilder {
	m.mp.RowPolicy = &rp
	return m
}

func (m *ModelBuilder) WritePolicy(wp WritePolicy) *ModelBuilder {
	m.mp.WritePolicy = wp
	return m
}

func (m *ModelBuilder) Budget(budget Budget) *ModelBuilder {
	m.mp.Budget = &budget
	return m
}

func (m *ModelBuilder) Aggregations(ops ...string) *ModelBuilder {
	m.mp.AllowedAggregations = append(m.mp.AllowedAggregations, ops...)
	return m
}

func (m *ModelBuilder) AggregatableFields(fields ...string) *ModelBuilder {
	m.mp.AggregatableFields = append(m.mp.AggregatableFields, fields...)
	return m
}

func (m *ModelBuilder) WriteRule(name, expression, message string) *ModelBuilder {
	m.mp.WriteRules = append(m.mp.WriteRules, &Rule{
		Name: name, Expression: expression, Message: message,
	})
	return m
}

// Done returns to the policy builder.
func (m *ModelBuilder) Done() *Builder {
	return m.parent
}

// Build validates the draft and returns the frozen policy.
func (b *Builder) Build() (*Policy, error) {
	p := b.policy
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}
