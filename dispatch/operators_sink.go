package dispatch

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/fabricdb/qfabric/catalog"
	"github.com/fabricdb/qfabric/column"
	"github.com/fabricdb/qfabric/plan"
)

// resultsDir is where execResult writes its tab-separated output
// files, per spec.md §4.4's Result operator.
const resultsDir = "./results"

// execResult reads every input column named by the item and, if
// WriteFile is set, writes them out as a tab-separated file under
// resultsDir named with a fresh UUID (spec.md §4.4: "writes a TSV file
// per completed plan so a client can retrieve results without holding
// a connection open for the whole execution").
func execResult(cat *catalog.Catalog, item *plan.WorkItem) error {
	p := item.Result
	columns := make([][]string, len(p.Inputs))
	maxLen := 0
	for i, ref := range p.Inputs {
		col, err := resolve(cat, ref)
		if err != nil {
			return err
		}
		rows, err := renderColumn(col)
		if err != nil {
			return err
		}
		columns[i] = rows
		if len(rows) > maxLen {
			maxLen = len(rows)
		}
	}
	if !p.WriteFile {
		return nil
	}
	if err := os.MkdirAll(resultsDir, 0o755); err != nil {
		return fmt.Errorf("dispatch: result: creating %s: %w", resultsDir, err)
	}
	name := fmt.Sprintf("plan-%d-%s.tsv", item.PlanID, uuid.New().String())
	f, err := os.Create(filepath.Join(resultsDir, name))
	if err != nil {
		return fmt.Errorf("dispatch: result: %w", err)
	}
	defer f.Close()

	var b strings.Builder
	for r := 0; r < maxLen; r++ {
		for c, rows := range columns {
			if c > 0 {
				b.WriteByte('\t')
			}
			if r < len(rows) {
				b.WriteString(rows[r])
			}
		}
		b.WriteByte('\n')
	}
	_, err = f.WriteString(b.String())
	return err
}

// renderColumn decodes col as text, using its dictionary for
// StringEncoded columns and plain decimal formatting otherwise.
func renderColumn(col *column.Column) ([]string, error) {
	if col.Type == column.StringEncoded {
		codes, err := readAll[uint64](col)
		if err != nil {
			return nil, err
		}
		dict := col.Dictionary()
		out := make([]string, len(codes))
		for i, code := range codes {
			if dict != nil {
				if s, ok := dict.Lookup(code); ok {
					out[i] = s
					continue
				}
			}
			out[i] = strconv.FormatUint(code, 10)
		}
		return out, nil
	}
	vals, err := readAll[float64](col)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(vals))
	for i, v := range vals {
		out[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	return out, nil
}

// execDataTransfer copies Source's bytes into Destination in
// ChunkBytes-sized pieces, advancing Destination's watermark after
// each copy. This is the grouper's column-staging primitive (spec.md
// §4.8): moving a column from one compute unit's memory into the
// group coordinator's, chunk by chunk, so downstream consumers can
// begin reading before the whole transfer lands.
//
// If cu.FrontEnd has already pre-registered an empty placeholder under
// Destination (spec.md §4.8's "Allocates output Columns for every
// transfer (pre-registered in the catalog under the aliased name)"),
// this reuses that exact Column object rather than replacing the
// catalog entry, so a plan item that resolved the handle before the
// transfer started keeps observing the same column as it fills in.
// Otherwise (e.g. a caller driving the transfer standalone, as in this
// package's own tests) it creates and registers one itself.
func execDataTransfer(cat *catalog.Catalog, item *plan.WorkItem) error {
	p := item.DataTransfer
	src, err := resolve(cat, p.Source)
	if err != nil {
		return err
	}
	src.WaitComplete()

	chunk := p.ChunkBytes
	if chunk <= 0 {
		chunk = 4 << 20
	}

	dst := cat.Get(p.Destination.Table, p.Destination.Column)
	if dst == nil {
		dst = column.New(p.Destination.Column, src.Type)
		if err := cat.Add(p.Destination.Table, p.Destination.Column, dst); err != nil {
			return fmt.Errorf("dispatch: data transfer: registering %s.%s: %w", p.Destination.Table, p.Destination.Column, err)
		}
	}
	if !dst.Allocated() {
		if err := dst.Allocate(src.Elements()); err != nil && err != column.ErrAlreadyAllocated {
			return err
		}
	}
	if d := src.Dictionary(); d != nil && dst.Dictionary() == nil {
		dst.SetDictionary(d)
	}

	total := src.SizeBytes()
	for offset := 0; offset < total; offset += chunk {
		end := offset + chunk
		if end > total {
			end = total
		}
		srcBuf := src.Bytes()
		dst.AppendChunk(offset, srcBuf[offset:end])
	}
	dst.MarkComplete()
	return nil
}
