// Package symbols holds the embedded symbol lists of each universe.
package symbols

import (
	"bufio"
	_ "embed"
	"fmt"
	"strings"

	"stockfetch/internal/market"
)

var (
	//go:embed ta125.txt
	ta125 string
	//go:embed sp500.txt
	sp500 string
)

var lists = map[string][]string{
	market.TA125.Key: Parse(ta125),
	market.SP500.Key: Parse(sp500),
}

// List returns a copy of the symbol list of universe, in file order.
func List(universe string) ([]string, error) {
	l, ok := lists[strings.ToLower(universe)]
	if !ok {
		return nil, fmt.Errorf("symbols: %w: %q", market.ErrUnknownUniverse, universe)
	}
	return append([]string(nil), l...), nil
}

// Parse reads one symbol per line. Blank lines and lines starting with '#'
// are ignored; later duplicates of a symbol are dropped.
func Parse(text string) []string {
	var out []string
	seen := make(map[string]struct{})
	sc := bufio.NewScanner(strings.NewReader(text))
	for sc.Scan() {
		s := strings.TrimSpace(sc.Text())
		if s == "" || strings.HasPrefix(s, "#") {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// Dedupe returns symbols with blanks and later duplicates removed. It is
// used for lists supplied through configuration.
func Dedupe(symbols []string) []string {
	return Parse(strings.Join(symbols, "\n"))
}
