package binder

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/ukaji3/xlsxtables-go/pkg/xlsxtables/table"
)

// populate binds row onto dst, an addressable value of the plan's type.
//
// The first pass reads every node into a scratch value: containers are
// copied out of their owners (allocated or grown as needed) and leaves are
// read from the table. The second pass walks the nodes backwards and writes
// each value into its owner, so children land in a container before the
// container is stored in its own owner.
func (p *plan) populate(tbl *table.Table, row int, dst reflect.Value, o *options, warnings Warnings) Warnings {
	root := dst
	if root.Kind() == reflect.Pointer {
		if root.IsNil() {
			root.Set(reflect.New(root.Type().Elem()))
		}
		root = root.Elem()
	}

	values := make([]reflect.Value, len(p.nodes))
	containers := make([]reflect.Value, p.slots)
	for i := range p.nodes {
		n := &p.nodes[i]
		owner, ok := p.owner(root, values, n)
		if !ok {
			continue
		}
		if n.elem >= 0 {
			c, msg := container(owner, containers, n)
			if msg != "" {
				warnings = append(warnings, p.warning(i, row, msg))
				continue
			}
			if n.field < 0 {
				values[i] = materialize(c.Index(n.elem))
				continue
			}
		} else if n.field < 0 {
			m := fieldByIndex(owner, n.index)
			if !m.IsValid() {
				warnings = append(warnings, p.warning(i, row, "embedded struct is nil and cannot be allocated"))
				continue
			}
			values[i] = materialize(m)
			continue
		}
		v, err := readCell(tbl, row, n.field, n.valueType())
		if err != nil {
			warnings = append(warnings, p.warning(i, row, err.Error()))
			continue
		}
		values[i] = v
	}

	for i := len(p.nodes) - 1; i >= 0; i-- {
		n := &p.nodes[i]
		if !values[i].IsValid() {
			continue
		}
		owner, ok := p.owner(root, values, n)
		if !ok {
			continue
		}
		m := fieldByIndex(owner, n.index)
		if !m.IsValid() {
			continue
		}
		if n.elem < 0 {
			m.Set(values[i])
			continue
		}
		c := containers[n.slot]
		c.Index(n.elem).Set(values[i])
		m.Set(c)
	}

	if o.validate != nil {
		warnings = p.validate(o.validate, dst.Interface(), row, warnings)
	}
	return warnings
}

// owner returns the struct value node n is a member of.
func (p *plan) owner(root reflect.Value, values []reflect.Value, n *node) (reflect.Value, bool) {
	if n.declarer < 0 {
		return root, true
	}
	v := values[n.declarer]
	if !v.IsValid() {
		return v, false
	}
	if v.Kind() == reflect.Pointer {
		v = v.Elem()
	}
	return v, true
}

// container returns the scratch copy of the slice or array behind element
// node n, growing slices to hold n.elem.
func container(owner reflect.Value, containers []reflect.Value, n *node) (reflect.Value, string) {
	c := containers[n.slot]
	if !c.IsValid() {
		m := fieldByIndex(owner, n.index)
		if !m.IsValid() {
			return c, "embedded struct is nil and cannot be allocated"
		}
		c = reflect.New(m.Type()).Elem()
		if m.Kind() == reflect.Slice {
			c.Set(reflect.MakeSlice(m.Type(), m.Len(), m.Len()))
			reflect.Copy(c, m)
		} else {
			c.Set(m)
		}
	}
	if c.Kind() == reflect.Slice && c.Len() <= n.elem {
		grow := n.elem + 1 - c.Len()
		c.Set(reflect.AppendSlice(c, reflect.MakeSlice(c.Type(), grow, grow)))
	}
	containers[n.slot] = c
	if n.elem >= c.Len() {
		return c, fmt.Sprintf("index %d is out of range (len %d)", n.elem, c.Len())
	}
	return c, ""
}

// materialize copies v into a new addressable value, allocating nil pointers.
func materialize(v reflect.Value) reflect.Value {
	out := reflect.New(v.Type()).Elem()
	out.Set(v)
	if out.Kind() == reflect.Pointer && out.IsNil() {
		out.Set(reflect.New(out.Type().Elem()))
	}
	return out
}

// fieldByIndex is reflect.Value.FieldByIndex allocating nil embedded
// pointers on the way. It returns the zero Value when one cannot be set.
func fieldByIndex(v reflect.Value, index []int) reflect.Value {
	for i, x := range index {
		if i > 0 && v.Kind() == reflect.Pointer {
			if v.IsNil() {
				if !v.CanSet() {
					return reflect.Value{}
				}
				v.Set(reflect.New(v.Type().Elem()))
			}
			v = v.Elem()
		}
		v = v.Field(x)
	}
	return v
}

// readCell reads a table value as t. A nil cell yields the zero Value so
// the member is left untouched.
func readCell(tbl *table.Table, row, col int, t reflect.Type) (reflect.Value, error) {
	raw, err := tbl.Value(row, col)
	if err != nil || raw == nil {
		return reflect.Value{}, err
	}
	target := t
	if t.Kind() == reflect.Pointer {
		target = t.Elem()
	}
	v, err := tbl.ValueAs(row, col, target)
	if err != nil {
		return reflect.Value{}, err
	}
	out := reflect.New(target).Elem()
	if v != nil {
		out.Set(reflect.ValueOf(v))
	}
	if t.Kind() == reflect.Pointer {
		return out.Addr(), nil
	}
	return out, nil
}

func (p *plan) validate(v *validator.Validate, obj any, row int, warnings Warnings) Warnings {
	var verrs validator.ValidationErrors
	if !errors.As(v.Struct(obj), &verrs) {
		return warnings
	}
	for _, fe := range verrs {
		target := fe.StructNamespace()
		if i := strings.IndexByte(target, '.'); i >= 0 {
			target = target[i+1:]
		}
		w := Warning{
			Table:   p.table,
			Type:    p.typ.String(),
			Row:     row,
			Source:  p.sourceOf(target),
			Target:  target,
			Message: fmt.Sprintf("validation failed on the '%s' tag", fe.Tag()),
		}
		warnings = append(warnings, w)
	}
	return warnings
}

// sourceOf returns the source path bound to a target path, or the target
// path itself for members the table does not feed.
func (p *plan) sourceOf(target string) string {
	for i := range p.nodes {
		if p.nodes[i].target == target {
			return p.nodes[i].source
		}
	}
	return target
}
