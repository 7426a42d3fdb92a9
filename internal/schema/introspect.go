package schema

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib" // Register pgx as database/sql driver
	_ "modernc.org/sqlite"             // Register sqlite as database/sql driver
)

// Introspector reads catalog metadata from a live database. It never
// issues DDL and never touches user rows; the connection is owned by
// the caller.
type Introspector interface {
	Introspect(ctx context.Context, db *sql.DB) (*Metadata, error)
}

// NewIntrospector returns the introspector for a driver name
// ("postgres" or "sqlite").
func NewIntrospector(driver string) (Introspector, error) {
	switch driver {
	case "postgres", "pgx", "":
		return &postgresIntrospector{}, nil
	case "sqlite":
		return &sqliteIntrospector{}, nil
	default:
		return nil, fmt.Errorf("unsupported driver: %s", driver)
	}
}

type postgresIntrospector struct{}

func (pi *postgresIntrospector) Introspect(ctx context.Context, db *sql.DB) (*Metadata, error) {
	meta := &Metadata{Models: make(map[string]*Model)}

	rows, err := db.QueryContext(ctx,
		`SELECT table_name, column_name, data_type, is_nullable
		 FROM information_schema.columns
		 WHERE table_schema = 'public'
		 ORDER BY table_name, ordinal_position`)
	if err != nil {
		return nil, fmt.Errorf("introspect columns: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var table, column, dataType, nullable string
		if err := rows.Scan(&table, &column, &dataType, &nullable); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		model := meta.Models[table]
		if model == nil {
			model = &Model{
				Name:      table,
				TableName: table,
				Fields:    make(map[string]*Field),
				Relations: make(map[string]*Relation),
			}
			meta.Models[table] = model
		}
		model.Fields[column] = &Field{
			Name:     column,
			Type:     mapPostgresType(dataType),
			Nullable: nullable == "YES",
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate columns: %w", err)
	}

	if err := pi.loadPrimaryKeys(ctx, db, meta); err != nil {
		return nil, err
	}
	if err := pi.loadIndexes(ctx, db, meta); err != nil {
		return nil, err
	}
	if err := pi.loadForeignKeys(ctx, db, meta); err != nil {
		return nil, err
	}
	return meta, nil
}

func (pi *postgresIntrospector) loadPrimaryKeys(ctx context.Context, db *sql.DB, meta *Metadata) error {
	rows, err := db.QueryContext(ctx,
		`SELECT tc.table_name, kcu.column_name
		 FROM information_schema.table_constraints tc
		 JOIN information_schema.key_column_usage kcu
		   ON tc.constraint_name = kcu.constraint_name AND tc.table_schema = kcu.table_schema
		 WHERE tc.constraint_type = 'PRIMARY KEY' AND tc.table_schema = 'public'
		 ORDER BY tc.table_name, kcu.ordinal_position`)
	if err != nil {
		return fmt.Errorf("introspect primary keys: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var table, column string
		if err := rows.Scan(&table, &column); err != nil {
			return fmt.Errorf("scan primary key: %w", err)
		}
		model := meta.Models[table]
		if model == nil {
			continue
		}
		if model.PrimaryKey == "" {
			model.PrimaryKey = column
		}
		model.PrimaryKeys = append(model.PrimaryKeys, column)
		if f := model.Fields[column]; f != nil {
			f.Primary = true
		}
	}
	return rows.Err()
}

func (pi *postgresIntrospector) loadIndexes(ctx context.Context, db *sql.DB, meta *Metadata) error {
	// pg_indexes gives one row per index; the first column of the index
	// definition is enough for selectivity purposes.
	rows, err := db.QueryContext(ctx,
		`SELECT t.relname, a.attname
		 FROM pg_index ix
		 JOIN pg_class t ON t.oid = ix.indrelid
		 JOIN pg_class i ON i.oid = ix.indexrelid
		 JOIN pg_attribute a ON a.attrelid = t.oid AND a.attnum = ANY(ix.indkey)
		 JOIN pg_namespace n ON n.oid = t.relnamespace
		 WHERE n.nspname = 'public'`)
	if err != nil {
		return fmt.Errorf("introspect indexes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var table, column string
		if err := rows.Scan(&table, &column); err != nil {
			return fmt.Errorf("scan index: %w", err)
		}
		if model := meta.Models[table]; model != nil {
			if f := model.Fields[column]; f != nil {
				f.Indexed = true
			}
		}
	}
	return rows.Err()
}

func (pi *postgresIntrospector) loadForeignKeys(ctx context.Context, db *sql.DB, meta *Metadata) error {
	rows, err := db.QueryContext(ctx,
		`SELECT tc.table_name, kcu.column_name, ccu.table_name
		 FROM information_schema.table_constraints tc
		 JOIN information_schema.key_column_usage kcu
		   ON tc.constraint_name = kcu.constraint_name AND tc.table_schema = kcu.table_schema
		 JOIN information_schema.constraint_column_usage ccu
		   ON tc.constraint_name = ccu.constraint_name AND tc.table_schema = ccu.table_schema
		 WHERE tc.constraint_type = 'FOREIGN KEY' AND tc.table_schema = 'public'`)
	if err != nil {
		return fmt.Errorf("introspect foreign keys: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var table, column, target string
		if err := rows.Scan(&table, &column, &target); err != nil {
			return fmt.Errorf("scan foreign key: %w", err)
		}
		addRelationPair(meta, table, column, target)
	}
	return rows.Err()
}

type sqliteIntrospector struct{}

func (si *sqliteIntrospector) Introspect(ctx context.Context, db *sql.DB) (*Metadata, error) {
	meta := &Metadata{Models: make(map[string]*Model)}

	rows, err := db.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%'`)
	if err != nil {
		return nil, fmt.Errorf("introspect tables: %w", err)
	}
	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan table: %w", err)
		}
		tables = append(tables, name)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tables: %w", err)
	}

	for _, table := range tables {
		model := &Model{
			Name:      table,
			TableName: table,
			Fields:    make(map[string]*Field),
			Relations: make(map[string]*Relation),
		}
		if err := si.loadColumns(ctx, db, model); err != nil {
			return nil, err
		}
		if err := si.loadIndexes(ctx, db, model); err != nil {
			return nil, err
		}
		meta.Models[table] = model
	}

	for _, table := range tables {
		if err := si.loadForeignKeys(ctx, db, meta, table); err != nil {
			return nil, err
		}
	}
	return meta, nil
}

func (si *sqliteIntrospector) loadColumns(ctx context.Context, db *sql.DB, model *Model) error {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%q)", model.TableName))
	if err != nil {
		return fmt.Errorf("table_info %s: %w", model.TableName, err)
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, colType string
		var notNull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dflt, &pk); err != nil {
			return fmt.Errorf("scan table_info: %w", err)
		}
		model.Fields[name] = &Field{
			Name:     name,
			Type:     mapSQLiteType(colType),
			Nullable: notNull == 0,
			Primary:  pk > 0,
		}
		if pk > 0 {
			if model.PrimaryKey == "" {
				model.PrimaryKey = name
			}
			model.PrimaryKeys = append(model.PrimaryKeys, name)
		}
	}
	return rows.Err()
}

func (si *sqliteIntrospector) loadIndexes(ctx context.Context, db *sql.DB, model *Model) error {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA index_list(%q)", model.TableName))
	if err != nil {
		return fmt.Errorf("index_list %s: %w", model.TableName, err)
	}
	var indexes []string
	for rows.Next() {
		var seq int
		var name, origin string
		var unique, partial int
		if err := rows.Scan(&seq, &name, &unique, &origin, &partial); err != nil {
			rows.Close()
			return fmt.Errorf("scan index_list: %w", err)
		}
		indexes = append(indexes, name)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, idx := range indexes {
		cols, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA index_info(%q)", idx))
		if err != nil {
			return fmt.Errorf("index_info %s: %w", idx, err)
		}
		for cols.Next() {
			var seqno, cid int
			var name sql.NullString
			if err := cols.Scan(&seqno, &cid, &name); err != nil {
				cols.Close()
				return fmt.Errorf("scan index_info: %w", err)
			}
			if name.Valid {
				if f := model.Fields[name.String]; f != nil {
					f.Indexed = true
				}
			}
		}
		cols.Close()
		if err := cols.Err(); err != nil {
			return err
		}
	}
	return nil
}

func (si *sqliteIntrospector) loadForeignKeys(ctx context.Context, db *sql.DB, meta *Metadata, table string) error {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA foreign_key_list(%q)", table))
	if err != nil {
		return fmt.Errorf("foreign_key_list %s: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, seq int
		var target, from, to, onUpdate, onDelete, match string
		if err := rows.Scan(&id, &seq, &target, &from, &to, &onUpdate, &onDelete, &match); err != nil {
			return fmt.Errorf("scan foreign_key_list: %w", err)
		}
		addRelationPair(meta, table, from, target)
	}
	return rows.Err()
}

// addRelationPair registers both sides of a foreign key: a "one"
// relation on the owning table and a "many" relation on the target.
func addRelationPair(meta *Metadata, table, column, target string) {
	if model := meta.Models[table]; model != nil {
		model.Relations[target] = &Relation{
			Name: target, Target: target, Kind: "one", ForeignKey: column,
		}
	}
	if targetModel := meta.Models[target]; targetModel != nil {
		targetModel.Relations[table] = &Relation{
			Name: table, Target: table, Kind: "many", ForeignKey: column,
		}
	}
}

func mapPostgresType(dataType string) string {
	switch dataType {
	case "integer", "smallint":
		return "int"
	case "bigint":
		return "bigint"
	case "numeric", "double precision", "real":
		return "decimal"
	case "boolean":
		return "boolean"
	case "uuid":
		return "uuid"
	case "timestamp with time zone", "timestamp without time zone":
		return "timestamp"
	case "date":
		return "date"
	case "jsonb", "json":
		return "json"
	default:
		return "string"
	}
}

func mapSQLiteType(colType string) string {
	switch colType {
	case "INTEGER", "INT", "BIGINT":
		return "int"
	case "REAL", "NUMERIC", "DECIMAL":
		return "decimal"
	case "BOOLEAN":
		return "boolean"
	case "TIMESTAMPTZ", "TIMESTAMP", "DATETIME":
		return "timestamp"
	case "DATE":
		return "date"
	case "JSONB", "JSON":
		return "json"
	default:
		return "string"
	}
}
