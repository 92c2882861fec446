package planner

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/grim-sudo/Automation/internal/perception"
)

// MultiplicationTableText renders the table of n from 1 to 10.
func MultiplicationTableText(n int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Multiplication Table of %d\n", n)
	b.WriteString(strings.Repeat("=", 40))
	b.WriteByte('\n')
	for i := 1; i <= 10; i++ {
		fmt.Fprintf(&b, "%d x %d = %d\n", n, i, n*i)
	}
	return b.String()
}

// contentSpec is the content a command asks to write into files.
type contentSpec struct {
	literal string
	table   bool
	number  int // fixed table number, 0 = per item
	depth   int
}

// render resolves the content for one file. itemNumber is used when the
// table number was not given ("multiplication table of each number").
func (c contentSpec) render(itemNumber int) (text string, number int) {
	if !c.table {
		return c.literal, 0
	}
	n := c.number
	if n == 0 {
		n = itemNumber
	}
	return MultiplicationTableText(n), n
}

func parseContent(value string, depth int) contentSpec {
	if rest, ok := strings.CutPrefix(value, perception.MultiplicationTable); ok {
		n, _ := strconv.Atoi(strings.TrimPrefix(rest, ":"))
		return contentSpec{table: true, number: n, depth: depth}
	}
	return contentSpec{literal: value, depth: depth}
}

// trailingNumber returns the digits at the end of a name's stem, as in
// "table7.txt", or 0.
func trailingNumber(name string) int {
	stem := name
	if i := strings.LastIndexByte(stem, '.'); i > 0 {
		stem = stem[:i]
	}
	j := len(stem)
	for j > 0 && stem[j-1] >= '0' && stem[j-1] <= '9' {
		j--
	}
	n, err := strconv.Atoi(stem[j:])
	if err != nil {
		return 0
	}
	return n
}
