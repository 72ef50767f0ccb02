package roomkit

import "testing"

func TestHandleTable_ReleaseAfterLastUnit(t *testing.T) {
	tbl := newHandleTable()
	v := HandleValue(7, KindObject, "Thing")

	tbl.received(v)
	tbl.received(v)
	if !tbl.retain(7) {
		t.Fatal("retain on a live entry failed")
	}
	if n := tbl.units(7); n != 3 {
		t.Fatalf("units = %d, want 3", n)
	}

	for i := 0; i < 2; i++ {
		if tbl.release(7) {
			t.Fatalf("release #%d queued a runtime release", i+1)
		}
	}
	if !tbl.release(7) {
		t.Fatal("last release did not queue a runtime release")
	}
	got := tbl.drain()
	if len(got) != 1 || got[0].id != 7 || got[0].n != 2 {
		t.Fatalf("drain = %+v, want one release of 2 received units", got)
	}
	if len(tbl.drain()) != 0 {
		t.Error("drain is not idempotent")
	}
	if tbl.release(7) {
		t.Error("releasing a removed entry queued a release")
	}
	if tbl.retain(7) {
		t.Error("retain on a removed entry succeeded")
	}
}

func TestHandleTable_PrimitivesAndNamespaceUncounted(t *testing.T) {
	tbl := newHandleTable()
	tbl.received(StringValue("x"))
	tbl.received(HandleValue(NamespaceHandle, KindObject))
	if tbl.live() != 0 {
		t.Errorf("live = %d, want 0", tbl.live())
	}
	if !tbl.retain(NamespaceHandle) || tbl.release(NamespaceHandle) {
		t.Error("namespace must always be retainable and never released")
	}
}
