// Package ingest implements table ingestion from disk into a
// catalog.Catalog at compute-unit startup (spec.md §6's "Ingested
// table format"): a schema.txt parser plus bin and csv loaders.
//
// Grounded on
// original_source/computeUnit/include/infrastructure/DataReader.hpp's
// readSchemaFile/readDataFile_binary/readDataFile.
package ingest

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/fabricdb/qfabric/column"
)

// ColumnDef names one column of a table as declared in schema.txt.
type ColumnDef struct {
	Name string
	Type column.DataType
}

// Schema maps table name to its ordered column definitions.
type Schema map[string][]ColumnDef

// legacyTypeNames accepts the original's four basic type names
// (int/str/bool/date) so schema files generated against the original
// DataReader.hpp keep working, mapped onto their nearest SPEC_FULL.md
// §4.1 DataType.
var legacyTypeNames = map[string]column.DataType{
	"int":  column.I64,
	"str":  column.StringEncoded,
	"bool": column.U8,
	"date": column.Timestamp,
}

var canonicalTypeNames = map[string]column.DataType{
	"i8": column.I8, "u8": column.U8,
	"i16": column.I16, "u16": column.U16,
	"i32": column.I32, "u32": column.U32,
	"i64": column.I64, "u64": column.U64,
	"f32": column.F32, "f64": column.F64,
	"timestamp":      column.Timestamp,
	"position_list":  column.PositionList,
	"bitmask":        column.Bitmask,
	"string_encoded": column.StringEncoded,
}

func parseType(s string) (column.DataType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if t, ok := canonicalTypeNames[s]; ok {
		return t, nil
	}
	if t, ok := legacyTypeNames[s]; ok {
		return t, nil
	}
	return column.Unknown, fmt.Errorf("ingest: unknown column type %q", s)
}

// ParseSchemaFile reads schema.txt at path: one line per table,
// "tablename: col(type), col(type), ...", blank lines and lines
// starting with '#' or "//" ignored.
func ParseSchemaFile(path string) (Schema, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("ingest: opening schema file: %w", err)
	}
	defer f.Close()

	schema := make(Schema)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "//") {
			continue
		}
		colonIdx := strings.IndexByte(line, ':')
		if colonIdx < 0 {
			return nil, fmt.Errorf("ingest: malformed schema line (missing ':'): %q", line)
		}
		table := strings.TrimSpace(line[:colonIdx])
		rest := strings.ReplaceAll(line[colonIdx+1:], ";", ",")

		var cols []ColumnDef
		for _, part := range strings.Split(rest, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			open := strings.IndexByte(part, '(')
			closeIdx := strings.IndexByte(part, ')')
			if open < 0 || closeIdx < open {
				return nil, fmt.Errorf("ingest: malformed column declaration %q in table %q", part, table)
			}
			name := strings.TrimSpace(part[:open])
			t, err := parseType(part[open+1 : closeIdx])
			if err != nil {
				return nil, fmt.Errorf("ingest: table %q: %w", table, err)
			}
			cols = append(cols, ColumnDef{Name: name, Type: t})
		}
		schema[table] = cols
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("ingest: reading schema file: %w", err)
	}
	return schema, nil
}
