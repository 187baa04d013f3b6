package ingest

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/fabricdb/qfabric/catalog"
	"github.com/fabricdb/qfabric/column"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
}

func TestParseSchemaFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "schema.txt")
	writeFile(t, path, `
# comment
orders: id(u64), amount(f64), label(string_encoded)
// legacy-style table
events: count(int), active(bool), seen(date)
`)

	schema, err := ParseSchemaFile(path)
	if err != nil {
		t.Fatalf("ParseSchemaFile: %v", err)
	}
	orders := schema["orders"]
	if len(orders) != 3 || orders[0].Name != "id" || orders[0].Type != column.U64 ||
		orders[1].Type != column.F64 || orders[2].Type != column.StringEncoded {
		t.Fatalf("orders columns parsed wrong: %+v", orders)
	}
	events := schema["events"]
	if len(events) != 3 || events[0].Type != column.I64 /* legacy "int" */ ||
		events[1].Type != column.U8 /* legacy "bool" */ ||
		events[2].Type != column.Timestamp /* legacy "date" */ {
		t.Fatalf("events columns parsed wrong: %+v", events)
	}
}

func TestParseSchemaFileMalformed(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "schema.txt")
	writeFile(t, path, "orders id(u64)\n")
	if _, err := ParseSchemaFile(path); err == nil {
		t.Fatal("expected an error for a line missing ':'")
	}
}

func TestLoadBinWithDictionary(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "schema.txt"), "t: n(u32), label(string_encoded)\n")

	var nbuf [12]byte // 3 x u32
	binary.LittleEndian.PutUint32(nbuf[0:4], 10)
	binary.LittleEndian.PutUint32(nbuf[4:8], 20)
	binary.LittleEndian.PutUint32(nbuf[8:12], 30)
	writeFile(t, filepath.Join(root, "t", "n.bin"), string(nbuf[:]))

	var lbuf [24]byte // 3 x u64 codes
	binary.LittleEndian.PutUint64(lbuf[0:8], 0)
	binary.LittleEndian.PutUint64(lbuf[8:16], 1)
	binary.LittleEndian.PutUint64(lbuf[16:24], 0)
	writeFile(t, filepath.Join(root, "t", "label.bin"), string(lbuf[:]))
	writeFile(t, filepath.Join(root, "t", "label_dict.tsv"), "red\t0\nblue\t1\n")

	cat := catalog.New()
	if err := LoadBin(root, cat); err != nil {
		t.Fatalf("LoadBin: %v", err)
	}

	n := cat.Get("t", "n")
	if n == nil || n.Elements() != 3 {
		t.Fatalf("column n not loaded correctly: %+v", n)
	}
	label := cat.Get("t", "label")
	if label == nil || label.Elements() != 3 {
		t.Fatalf("column label not loaded correctly: %+v", label)
	}
	dict := label.Dictionary()
	if dict == nil || !dict.IsReady() {
		t.Fatal("label column missing a ready dictionary")
	}
	redCode, redOK := dict.Code("red")
	blueCode, blueOK := dict.Code("blue")
	if !redOK || !blueOK || redCode != 0 || blueCode != 1 {
		t.Fatalf("dictionary codes wrong: red=%d,%v blue=%d,%v", redCode, redOK, blueCode, blueOK)
	}
}

func TestLoadBinDictionaryCodeMismatch(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "schema.txt"), "t: label(string_encoded)\n")
	writeFile(t, filepath.Join(root, "t", "label.bin"), "")
	writeFile(t, filepath.Join(root, "t", "label_dict.tsv"), "red\t5\n")

	cat := catalog.New()
	if err := LoadBin(root, cat); err == nil {
		t.Fatal("expected a dictionary code mismatch error")
	}
}

func TestLoadBinNoDictFile(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "schema.txt"), "t: label(string_encoded)\n")
	writeFile(t, filepath.Join(root, "t", "label.bin"), "")

	cat := catalog.New()
	if err := LoadBin(root, cat); err != nil {
		t.Fatalf("LoadBin: %v", err)
	}
	dict := cat.Get("t", "label").Dictionary()
	if dict == nil || !dict.IsReady() || dict.Len() != 0 {
		t.Fatalf("expected an empty ready dictionary, got %+v", dict)
	}
}

func TestLoadCSV(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "schema.txt"), "t: id(u32), price(f64), label(string_encoded), seen(timestamp)\n")
	writeFile(t, filepath.Join(root, "t.tbl"), ""+
		"1|9.5|red|20240101|\n"+
		"2|3.25|blue|20240102|\n"+
		"# a comment row\n"+
		"3|1.0|red|20240103|\n")

	cat := catalog.New()
	if err := LoadCSV(root, cat); err != nil {
		t.Fatalf("LoadCSV: %v", err)
	}

	id := cat.Get("t", "id")
	if id == nil || id.Elements() != 3 {
		t.Fatalf("id column wrong: %+v", id)
	}
	label := cat.Get("t", "label")
	dict := label.Dictionary()
	if dict == nil || dict.Len() != 2 {
		t.Fatalf("label dictionary wrong: %+v", dict)
	}
	if _, ok := dict.Code("red"); !ok {
		t.Fatal("expected \"red\" to be encoded in the label dictionary")
	}
}

func TestLoadCSVTooFewFields(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "schema.txt"), "t: id(u32), price(f64)\n")
	writeFile(t, filepath.Join(root, "t.tbl"), "1|\n")

	cat := catalog.New()
	if err := LoadCSV(root, cat); err == nil {
		t.Fatal("expected an error for a short row")
	}
}
