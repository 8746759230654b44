package xlsxtables

import (
	"slices"

	"github.com/ukaji3/xlsxtables-go/pkg/xlsxtables/schema"
	"github.com/ukaji3/xlsxtables-go/pkg/xlsxtables/table"
)

// DataSet is the insertion-ordered collection of tables of a session. Table
// names form one namespace across every request.
type DataSet struct {
	names   []string
	tables  map[string]*table.Table
	errored []*schema.Schema
}

func newDataSet() *DataSet {
	return &DataSet{tables: make(map[string]*table.Table)}
}

// reserve claims name for a table still being built. It reports false when
// the name is taken.
func (d *DataSet) reserve(name string) bool {
	if _, ok := d.tables[name]; ok {
		return false
	}
	d.names = append(d.names, name)
	d.tables[name] = nil
	return true
}

func (d *DataSet) put(t *table.Table) {
	d.tables[t.Name()] = t
}

// Get returns the table called name, or nil.
func (d *DataSet) Get(name string) *table.Table {
	return d.tables[name]
}

// Names lists the table names in declaration order.
func (d *DataSet) Names() []string {
	return slices.Clone(d.names)
}

// Tables lists the tables in declaration order.
func (d *DataSet) Tables() []*table.Table {
	out := make([]*table.Table, 0, len(d.names))
	for _, name := range d.names {
		if t := d.tables[name]; t != nil {
			out = append(out, t)
		}
	}
	return out
}

// Len returns the number of tables.
func (d *DataSet) Len() int {
	return len(d.names)
}

// ErroredSchemas lists the layouts that produced no table, either because
// they are malformed or because their name was already declared.
func (d *DataSet) ErroredSchemas() []*schema.Schema {
	return slices.Clone(d.errored)
}

// Original returns the schema of the table registered under s.Name, or nil
// when no table has that name.
func (d *DataSet) Original(s *schema.Schema) *schema.Schema {
	if t := d.tables[s.Name]; t != nil {
		return t.Schema()
	}
	return nil
}

// IsDuplicate reports whether s lost its name to another layout.
func (d *DataSet) IsDuplicate(s *schema.Schema) bool {
	orig := d.Original(s)
	return orig != nil && orig != s
}
