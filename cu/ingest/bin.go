package ingest

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/fabricdb/qfabric/catalog"
	"github.com/fabricdb/qfabric/column"
)

// LoadBin ingests every table named in root/schema.txt using the "bin"
// basedata format: per-column file root/table/col.bin holding raw
// little-endian values, with string_encoded columns additionally
// carrying root/table/col_dict.tsv (<string>\t<u64 code> per line,
// codes in encoding order).
//
// Grounded on original_source's readDataFile_binary, generalized from
// int/str/bool/date to the full DataType set.
func LoadBin(root string, cat *catalog.Catalog) error {
	schema, err := ParseSchemaFile(filepath.Join(root, "schema.txt"))
	if err != nil {
		return err
	}
	for table, cols := range schema {
		for _, def := range cols {
			if err := loadBinColumn(root, table, def, cat); err != nil {
				return fmt.Errorf("ingest: table %q column %q: %w", table, def.Name, err)
			}
		}
	}
	return nil
}

func loadBinColumn(root, table string, def ColumnDef, cat *catalog.Catalog) error {
	path := filepath.Join(root, table, def.Name+".bin")
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	col := column.New(def.Name, def.Type)
	if err := col.Allocate(elementCount(def.Type, len(data))); err != nil {
		return err
	}
	col.AppendChunk(0, data)
	col.MarkComplete()

	if def.Type == column.StringEncoded {
		if err := loadDictFile(filepath.Join(root, table, def.Name+"_dict.tsv"), col); err != nil {
			return err
		}
	}
	return cat.Add(table, def.Name, col)
}

func elementCount(t column.DataType, byteLen int) int {
	if t == column.Bitmask {
		return byteLen * 8
	}
	width := t.Size()
	if width == 0 {
		return 0
	}
	return byteLen / width
}

// loadDictFile attaches a dictionary built by re-encoding col_dict.tsv
// in file order, verifying each assigned code matches the file's
// recorded code (original_source's "codes must match the order of
// encoding" contract). A missing dict file yields an empty, ready
// dictionary rather than an error, since a string_encoded column with
// no recorded strings is a legitimate (if useless) base column.
func loadDictFile(path string, col *column.Column) error {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		d := column.NewDictionary()
		d.MarkReady()
		col.SetDictionary(d)
		return nil
	}
	if err != nil {
		return fmt.Errorf("opening dictionary %s: %w", path, err)
	}
	defer f.Close()

	dict := column.NewDictionary()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		tab := strings.IndexByte(line, '\t')
		if tab < 0 {
			return fmt.Errorf("malformed dictionary line %q", line)
		}
		s := line[:tab]
		code, err := strconv.ParseUint(strings.TrimSpace(line[tab+1:]), 10, 64)
		if err != nil {
			return fmt.Errorf("parsing dictionary code in %q: %w", line, err)
		}
		if got := dict.Encode(s); got != code {
			return fmt.Errorf("dictionary code mismatch for %q: file says %d, encoder assigned %d", s, code, got)
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	dict.MarkReady()
	col.SetDictionary(dict)
	return nil
}
