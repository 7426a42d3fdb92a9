package schema

// Metadata is the full introspected schema: one entry per model the
// gateway can see. Produced once at startup and treated as read-only
// for the life of the process.
type Metadata struct {
	Models map[string]*Model `json:"models"`
}

type Model struct {
	Name        string               `json:"name"`
	TableName   string               `json:"table_name"`
	Fields      map[string]*Field    `json:"fields"`
	Relations   map[string]*Relation `json:"relations,omitempty"`
	PrimaryKey  string               `json:"primary_key"`
	PrimaryKeys []string             `json:"primary_keys,omitempty"` // composite keys, when present
}

type Field struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable bool   `json:"nullable,omitempty"`
	Indexed  bool   `json:"indexed,omitempty"`
	Primary  bool   `json:"primary,omitempty"`
}

type Relation struct {
	Name       string `json:"name"`
	Target     string `json:"target"`
	Kind       string `json:"kind"` // one or many
	ForeignKey string `json:"foreign_key,omitempty"`
}

// GetModel returns the model with the given name, or nil.
func (m *Metadata) GetModel(name string) *Model {
	if m == nil {
		return nil
	}
	return m.Models[name]
}

// ModelNames returns all model names.
func (m *Metadata) ModelNames() []string {
	names := make([]string, 0, len(m.Models))
	for name := range m.Models {
		names = append(names, name)
	}
	return names
}

// HasField reports whether the model has a field with the given name.
func (m *Model) HasField(name string) bool {
	_, ok := m.Fields[name]
	return ok
}

// GetField returns the field with the given name, or nil.
func (m *Model) GetField(name string) *Field {
	return m.Fields[name]
}

// FieldNames returns all field names of the model.
func (m *Model) FieldNames() []string {
	names := make([]string, 0, len(m.Fields))
	for name := range m.Fields {
		names = append(names, name)
	}
	return names
}

// HasRelation reports whether the model has a relation with the given name.
func (m *Model) HasRelation(name string) bool {
	_, ok := m.Relations[name]
	return ok
}

// IsIndexed reports whether the named field is indexed or the primary key.
func (m *Model) IsIndexed(name string) bool {
	if name == m.PrimaryKey {
		return true
	}
	f := m.Fields[name]
	return f != nil && f.Indexed
}
