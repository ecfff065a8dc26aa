// Package layout computes platform specific sizes, alignments and field
// offsets of resolved structs and unions, and reads and writes the layout
// manifest that records them.
package layout
