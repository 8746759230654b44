package binder

import (
	"fmt"
	"maps"
	"reflect"
	"slices"
	"strings"
	"sync"

	"github.com/ukaji3/xlsxtables-go/pkg/xlsxtables/schema"
	"github.com/ukaji3/xlsxtables-go/pkg/xlsxtables/table"
)

// Aliases maps a source path without element indices ("items.price") to the
// name of the member it binds to.
type Aliases map[string]string

// AliasProvider is implemented by target types whose members do not follow
// the field names of the table.
type AliasProvider interface {
	FieldAliases() Aliases
}

var aliasProviderType = reflect.TypeFor[AliasProvider]()

// key renders a in a canonical form usable as part of a cache key.
func (a Aliases) key() string {
	if len(a) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, k := range slices.Sorted(maps.Keys(a)) {
		sb.WriteString(k)
		sb.WriteByte(0)
		sb.WriteString(a[k])
		sb.WriteByte(0)
	}
	return sb.String()
}

// node is one member access of a plan. Leaves read a table field, the
// other nodes hold the containers their children are written into.
type node struct {
	index    []int
	typ      reflect.Type
	elem     int
	slot     int
	source   string
	target   string
	declarer int
	field    int
}

// valueType is the type held by the node: the member type, or its element
// type for element nodes.
func (n *node) valueType() reflect.Type {
	if n.elem < 0 {
		return n.typ
	}
	return n.typ.Elem()
}

type plan struct {
	table   string
	typ     reflect.Type
	root    reflect.Type
	fields  []*schema.Field
	aliases Aliases
	nodes   []node
	slots   int
	err     error

	failures []Warning
	once     sync.Once
	warnings []Warning
}

type planKey struct {
	typ     reflect.Type
	aliases string
}

type slotKey struct {
	declarer int
	member   string
}

// planFor returns the plan of t with the caller aliases extra, cached on tbl.
func planFor(tbl *table.Table, t reflect.Type, extra Aliases) *plan {
	return tbl.Cache().LoadOrStore(planKey{t, extra.key()}, func() any {
		return buildPlan(tbl, t, extra)
	}).(*plan)
}

func buildPlan(tbl *table.Table, t reflect.Type, extra Aliases) *plan {
	aliases := aliasesOf(t)
	if len(extra) > 0 {
		aliases = maps.Clone(aliases)
		if aliases == nil {
			aliases = make(Aliases, len(extra))
		}
		maps.Copy(aliases, extra)
	}
	p := &plan{
		table:   tbl.Name(),
		typ:     t,
		root:    indirect(t),
		fields:  tbl.Schema().NameOrder(),
		aliases: aliases,
	}
	if p.root.Kind() != reflect.Struct {
		p.err = fmt.Errorf("%w: %s", ErrUnsupportedType, t)
		return p
	}

	slots := make(map[slotKey]int)
	prev := 0
	for d := 0; ; d++ {
		start := len(p.nodes)
		seen := make(map[string]bool)
		for _, f := range p.fields {
			if d > f.Depth() {
				continue
			}
			source := f.Path(d)
			if seen[source] {
				continue
			}
			seen[source] = true

			declarer := -1
			owner := p.root
			if d > 0 {
				if declarer = p.findDeclarer(prev, start, source); declarer < 0 {
					continue
				}
				owner = indirect(p.nodes[declarer].valueType())
			}
			name := p.targetName(source, f.Nodes[d].Name)
			sf, cause := resolveMember(owner, name, f, d)
			if cause != "" {
				msg := fmt.Sprintf("Field '%s' not mapped because %s.", f.Name, fmt.Sprintf(cause, name))
				p.failures = append(p.failures, p.warning(declarer, -1, msg))
				continue
			}

			n := node{
				index:    sf.Index,
				typ:      sf.Type,
				elem:     f.Nodes[d].Index,
				slot:     -1,
				source:   source,
				target:   p.targetPath(declarer, sf.Name, f.Nodes[d].Index),
				declarer: declarer,
				field:    -1,
			}
			if d == f.Depth() {
				n.field = f.Index
			}
			if n.elem >= 0 {
				k := slotKey{declarer, sf.Name}
				slot, ok := slots[k]
				if !ok {
					slot = len(slots)
					slots[k] = slot
				}
				n.slot = slot
			}
			p.nodes = append(p.nodes, n)
		}
		if len(p.nodes) == start {
			break
		}
		prev = start
	}
	p.slots = len(slots)
	return p
}

func (p *plan) findDeclarer(from, to int, source string) int {
	for m := from; m < to; m++ {
		if strings.HasPrefix(source, p.nodes[m].source+".") {
			return m
		}
	}
	return -1
}

func (p *plan) targetName(source, segment string) string {
	if name, ok := p.aliases[aliasKey(source)]; ok {
		return name
	}
	return segment
}

func (p *plan) targetPath(declarer int, name string, elem int) string {
	var b strings.Builder
	if declarer >= 0 {
		b.WriteString(p.nodes[declarer].target)
		b.WriteByte('.')
	}
	b.WriteString(name)
	if elem >= 0 {
		fmt.Fprintf(&b, "[%d]", elem)
	}
	return b.String()
}

// warning builds a warning scoped to node i, or to no member when i < 0.
func (p *plan) warning(i, row int, msg string) Warning {
	w := Warning{Table: p.table, Type: p.typ.String(), Row: row, Message: msg}
	if i >= 0 {
		w.Source, w.Target = p.nodes[i].source, p.nodes[i].target
	}
	return w
}

// mappingWarnings checks the alias table against the schema and appends the
// members that could not be planned. It runs once per plan.
func (p *plan) mappingWarnings() []Warning {
	p.once.Do(func() {
		var out []Warning
		sources := make(map[string]bool)
		for _, f := range p.fields {
			var b strings.Builder
			for _, nd := range f.Nodes {
				if b.Len() > 0 {
					b.WriteByte('.')
				}
				b.WriteString(nd.Name)
				sources[b.String()] = true
			}
		}

		keys := make([]string, 0, len(p.aliases))
		for k := range p.aliases {
			keys = append(keys, k)
		}
		slices.SortFunc(keys, compareSourcePath)
		for _, k := range keys {
			if !sources[k] {
				out = append(out, p.warning(-1, -1, fmt.Sprintf("Source '%s' not exist in table.", k)))
			}
		}
		for i, a := range keys {
			for _, b := range keys[i+1:] {
				if parentPath(a) != parentPath(b) || p.aliases[a] != p.aliases[b] {
					continue
				}
				out = append(out, p.warning(-1, -1,
					fmt.Sprintf("Source '%s' and '%s' have same target '%s'.", a, b, p.aliases[a])))
			}
		}
		p.warnings = append(out, p.failures...)
	})
	return slices.Clone(p.warnings)
}

// resolveMember finds the member named name on owner for segment d of f. A
// non-empty cause is a format with one verb for the member name.
func resolveMember(owner reflect.Type, name string, f *schema.Field, d int) (reflect.StructField, string) {
	sf, ok := lookupField(owner, name)
	if !ok {
		return sf, "target '%s' not found"
	}
	if !sf.IsExported() {
		return sf, "target '%s' is not readable"
	}
	vt := sf.Type
	if f.Nodes[d].IsElement() {
		if k := vt.Kind(); k != reflect.Slice && k != reflect.Array {
			return sf, "target '%s' is not a slice or array"
		}
		vt = vt.Elem()
	}
	if d < f.Depth() {
		if indirect(vt).Kind() != reflect.Struct {
			return sf, "target '%s' is not a struct"
		}
		return sf, ""
	}
	if !isLeafType(vt) {
		return sf, "target '%s' is not a value or string type"
	}
	return sf, ""
}

// lookupField tries the xlsx tag, the exact name and then a case-insensitive
// name among exported fields, and finally an exact unexported name.
func lookupField(t reflect.Type, name string) (reflect.StructField, bool) {
	fields := reflect.VisibleFields(t)
	for _, sf := range fields {
		if sf.IsExported() && tagName(sf) == name {
			return sf, true
		}
	}
	for _, sf := range fields {
		if sf.IsExported() && tagName(sf) != "-" && sf.Name == name {
			return sf, true
		}
	}
	for _, sf := range fields {
		if sf.IsExported() && tagName(sf) != "-" && strings.EqualFold(sf.Name, name) {
			return sf, true
		}
	}
	for _, sf := range fields {
		if !sf.IsExported() && sf.Name == name {
			return sf, true
		}
	}
	return reflect.StructField{}, false
}

func tagName(f reflect.StructField) string {
	tag := f.Tag.Get("xlsx")
	if i := strings.IndexByte(tag, ','); i >= 0 {
		tag = tag[:i]
	}
	return strings.TrimSpace(tag)
}

func aliasesOf(t reflect.Type) Aliases {
	base := indirect(t)
	switch {
	case base.Implements(aliasProviderType):
		return reflect.New(base).Elem().Interface().(AliasProvider).FieldAliases()
	case reflect.PointerTo(base).Implements(aliasProviderType):
		return reflect.New(base).Interface().(AliasProvider).FieldAliases()
	}
	return nil
}

// aliasKey drops element indices from a source path.
func aliasKey(source string) string {
	segs := strings.Split(source, ".")
	for i, seg := range segs {
		if j := strings.IndexByte(seg, '['); j >= 0 {
			segs[i] = seg[:j]
		}
	}
	return strings.Join(segs, ".")
}

func parentPath(source string) string {
	if i := strings.LastIndexByte(source, '.'); i >= 0 {
		return source[:i]
	}
	return ""
}

func compareSourcePath(a, b string) int {
	as, bs := strings.Split(a, "."), strings.Split(b, ".")
	for i := range min(len(as), len(bs)) {
		if c := strings.Compare(as[i], bs[i]); c != 0 {
			return c
		}
	}
	return len(as) - len(bs)
}

func indirect(t reflect.Type) reflect.Type {
	if t.Kind() == reflect.Pointer {
		return t.Elem()
	}
	return t
}

// isLeafType reports whether a table value can be stored in t.
func isLeafType(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Pointer:
		e := t.Elem()
		return e.Kind() != reflect.Pointer && isLeafType(e)
	case reflect.Slice, reflect.Array, reflect.Map, reflect.Chan, reflect.Func,
		reflect.UnsafePointer, reflect.Invalid:
		return false
	}
	return true
}
