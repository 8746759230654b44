package binder

import (
	"fmt"
	"strings"
)

// Warning is a non-fatal binding problem. Row is -1 for problems found while
// planning, and Source and Target are empty when no member is involved.
type Warning struct {
	Table   string
	Type    string
	Row     int
	Source  string
	Target  string
	Message string
}

func (w Warning) String() string {
	name := w.Table + "=>" + w.Type
	switch {
	case w.Source == "" && w.Target == "":
		return fmt.Sprintf("%s: %s", name, w.Message)
	case w.Row < 0:
		return fmt.Sprintf("%s(%s=>%s): %s", name, w.Source, w.Target, w.Message)
	}
	return fmt.Sprintf("%s(%d, %s=>%s): %s", name, w.Row, w.Source, w.Target, w.Message)
}

// Warnings renders one warning per line.
type Warnings []Warning

func (ws Warnings) String() string {
	var b strings.Builder
	for _, w := range ws {
		b.WriteString(w.String())
		b.WriteByte('\n')
	}
	return b.String()
}
