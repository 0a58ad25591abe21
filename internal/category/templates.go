package category

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"sync"
)

// literal matches IN lists, quoted strings and numbers.
var literal = regexp.MustCompile(`(?i)(\bIN\s*\([^)]+\)|'(?:[^']|'')*'|\b\d+(?:\.\d+)?\b)`)

const placeholder = "?v"

// Template strips literal values from a statement so that statements
// differing only in their parameters share one shape.
func Template(stmt string) string {
	return strings.Join(strings.Fields(literal.ReplaceAllString(stmt, placeholder)), " ")
}

// Templates assigns stable ids to statement templates in first-seen order.
// It is safe for concurrent use.
type Templates struct {
	mu    sync.Mutex
	ids   map[string]int
	order []string
}

// NewTemplates creates an empty registry.
func NewTemplates() *Templates {
	return &Templates{ids: make(map[string]int)}
}

// ID returns the id of stmt's template, registering it if new.
func (t *Templates) ID(stmt string) int {
	tpl := Template(stmt)

	t.mu.Lock()
	defer t.mu.Unlock()
	if id, ok := t.ids[tpl]; ok {
		return id
	}
	id := len(t.order)
	t.ids[tpl] = id
	t.order = append(t.order, tpl)
	return id
}

// Categorize labels a transaction with the template ids of its statements,
// joined by "-", so that transactions of the same shape share a group.
func (t *Templates) Categorize(statements []string) string {
	if len(statements) == 0 {
		return "empty"
	}
	parts := make([]string, len(statements))
	for i, s := range statements {
		parts[i] = "t" + strconv.Itoa(t.ID(s))
	}
	return strings.Join(parts, "-")
}

// Len returns the number of distinct templates seen.
func (t *Templates) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.order)
}

// Dump writes one "id,template" line per template in id order.
func (t *Templates) Dump(w io.Writer) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	bw := bufio.NewWriter(w)
	for id, tpl := range t.order {
		if _, err := fmt.Fprintf(bw, "t%d,%s\n", id, tpl); err != nil {
			return err
		}
	}
	return bw.Flush()
}
