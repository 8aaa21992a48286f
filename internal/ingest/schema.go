// Package ingest validates uploaded tabular data against named schemas,
// producing either typed rows or a structured, addressable error report.
package ingest

// ColumnType declares how a column's values are coerced.
type ColumnType string

const (
	ColumnString ColumnType = "string"
	ColumnInt    ColumnType = "int"
	ColumnFloat  ColumnType = "float"
)

// Column is one required column of a schema. Min, when set, is the inclusive
// lower bound of the column's numeric domain.
type Column struct {
	Name string
	Type ColumnType
	Min  *float64
}

// Schema describes one accepted upload format: the required columns in
// report order and an optional composite uniqueness key.
type Schema struct {
	Name    string
	Columns []Column
	// Key lists column names forming a composite uniqueness key. A repeated
	// key yields a duplicate error on the second and later occurrences.
	Key []string
}

// Column returns the declared column by name.
func (s Schema) Column(name string) (Column, bool) {
	for _, c := range s.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

func minZero() *float64 {
	zero := 0.0
	return &zero
}

func minOne() *float64 {
	one := 1.0
	return &one
}

// Built-in schemas, keyed by the name the upload endpoint accepts.
var schemas = map[string]Schema{
	"sales_history": {
		Name: "sales_history",
		Columns: []Column{
			{Name: "store_id", Type: ColumnString},
			{Name: "week", Type: ColumnInt, Min: minOne()},
			{Name: "sales_units", Type: ColumnInt, Min: minZero()},
			{Name: "price", Type: ColumnFloat, Min: minZero()},
		},
		Key: []string{"store_id", "week"},
	},
	"store_master": {
		Name: "store_master",
		Columns: []Column{
			{Name: "store_id", Type: ColumnString},
			{Name: "region", Type: ColumnString},
			{Name: "selling_sqft", Type: ColumnInt, Min: minZero()},
		},
		Key: []string{"store_id"},
	},
}

// LookupSchema returns the named schema.
func LookupSchema(name string) (Schema, bool) {
	s, ok := schemas[name]
	return s, ok
}

// SchemaNames returns the names of all registered schemas.
func SchemaNames() []string {
	names := make([]string, 0, len(schemas))
	for name := range schemas {
		names = append(names, name)
	}
	return names
}
