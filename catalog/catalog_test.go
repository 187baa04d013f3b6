package catalog

import (
	"sync"
	"testing"

	"github.com/fabricdb/qfabric/column"
)

func TestAddGetRemove(t *testing.T) {
	cat := New()
	col := column.New("a", column.U64)
	if err := cat.Add("t", "a", col); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if got := cat.Get("t", "a"); got != col {
		t.Fatalf("Get returned %v, want the added column", got)
	}
	if got := cat.Get("t", "missing"); got != nil {
		t.Fatalf("Get(missing) = %v, want nil", got)
	}
	if !cat.Remove("t", "a") {
		t.Fatal("Remove should report true for an existing entry")
	}
	if cat.Remove("t", "a") {
		t.Fatal("Remove should report false the second time")
	}
}

func TestAddDuplicateFails(t *testing.T) {
	cat := New()
	cat.Add("t", "a", column.New("a", column.U64))
	err := cat.Add("t", "a", column.New("a", column.U64))
	if err != ErrDuplicate {
		t.Fatalf("Add duplicate = %v, want ErrDuplicate", err)
	}
}

func TestDropTableCount(t *testing.T) {
	cat := New()
	cat.Add("t", "a", column.New("a", column.U64))
	cat.Add("t", "b", column.New("b", column.U64))
	cat.Add("u", "a", column.New("a", column.U64))

	if n := cat.DropTable("t"); n != 2 {
		t.Fatalf("DropTable(t) = %d, want 2", n)
	}
	if cat.Get("u", "a") == nil {
		t.Fatal("DropTable(t) should not affect table u")
	}
}

func TestClear(t *testing.T) {
	cat := New()
	cat.Add("t", "a", column.New("a", column.U64))
	cat.Clear()
	if cat.Get("t", "a") != nil {
		t.Fatal("Clear did not remove entries")
	}
	// registry itself must still be usable afterward.
	if err := cat.Add("t", "a", column.New("a", column.U64)); err != nil {
		t.Fatalf("Add after Clear: %v", err)
	}
}

func TestConcurrentReadersDuringDrop(t *testing.T) {
	cat := New()
	col := column.New("a", column.U64)
	col.Allocate(10)
	cat.Add("t", "a", col)

	handle := cat.Get("t", "a")
	handle.Ref()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		cat.Remove("t", "a")
	}()
	wg.Wait()

	// a reader that already holds the handle keeps seeing consistent data.
	if handle.Elements() != 10 {
		t.Fatal("existing handle became invalid after concurrent Remove")
	}
	handle.Unref()
}
