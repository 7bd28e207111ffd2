package smbdat

import (
	"bufio"
	"fmt"
	"io"
)

// Listing is one line of a catalog listing.
type Listing struct {
	Name   string
	Length uint32
}

// List returns the name and length of every file in catalog order.
// It never touches the filesystem.
func List(c *Catalog) []Listing {
	out := make([]Listing, 0, c.Len())
	for _, e := range c.Entries() {
		out = append(out, Listing{Name: e.Name, Length: e.Length})
	}
	return out
}

// WriteListing writes "<name> <length>" for every file, one per line, in
// catalog order.
func WriteListing(w io.Writer, c *Catalog) error {
	bw := bufio.NewWriter(w)
	for _, l := range List(c) {
		if _, err := fmt.Fprintf(bw, "%s %d\n", l.Name, l.Length); err != nil {
			return err
		}
	}
	return bw.Flush()
}
