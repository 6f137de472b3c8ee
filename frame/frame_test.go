package frame

import (
	"testing"

	"github.com/jceel/librpc/value"
)

func TestWrapUnwrapRewritesFdIndices(t *testing.T) {
	orig := value.NewArray(
		value.NewString("path"),
		value.NewFd(77),
		value.NewDictionary(map[string]*value.Value{"handle": value.NewFd(78)}),
	)
	env := Envelope{Namespace: "fs", Name: "open", ID: "call-1", Args: orig}

	wf, err := Wrap(env)
	if err != nil {
		t.Fatal(err)
	}
	if len(wf.Fds) != 2 || wf.Fds[0] != 77 || wf.Fds[1] != 78 {
		t.Fatalf("unexpected fd table: %v", wf.Fds)
	}
	// the original tree must be untouched
	if orig.Get(1).Fd() != 77 {
		t.Fatal("Wrap mutated the caller's original Args tree")
	}
	if wf.Args.Get(1).Fd() != 0 {
		t.Fatalf("expected wire index 0 at position 1, got %d", wf.Args.Get(1).Fd())
	}

	received := []int{777, 778} // the dup'd local fds the receiver got out of band
	out, err := Unwrap(wf, received)
	if err != nil {
		t.Fatal(err)
	}
	if out.Args.Get(1).Fd() != 777 {
		t.Fatalf("expected rewritten fd 777, got %d", out.Args.Get(1).Fd())
	}
	if out.Args.Get(2).GetKey("handle").Fd() != 778 {
		t.Fatalf("expected rewritten nested fd 778, got %d", out.Args.Get(2).GetKey("handle").Fd())
	}
}

func TestWrapRejectsTooManyDescriptors(t *testing.T) {
	arr := value.NewArray()
	for i := 0; i < MaxDescriptors+1; i++ {
		arr.Steal(i, value.NewFd(i))
	}
	_, err := Wrap(Envelope{Namespace: "n", Name: "m", ID: "1", Args: arr})
	if err == nil {
		t.Fatal("expected ErrTooManyDescriptors")
	}
}

func TestUnwrapRejectsOutOfRangeIndex(t *testing.T) {
	wf := &WireFrame{
		Envelope: Envelope{Namespace: "n", Name: "m", ID: "1", Args: value.NewFd(5)},
		Fds:      []int{1},
	}
	if _, err := Unwrap(wf, nil); err == nil {
		t.Fatal("expected out-of-range descriptor index error")
	}
}

func TestToValueFromValueRoundTrip(t *testing.T) {
	orig := Envelope{
		Namespace: "calc",
		Name:      "add",
		ID:        "call-42",
		Args:      value.NewArray(value.NewInt64(1), value.NewInt64(2)),
	}
	wf, err := Wrap(orig)
	if err != nil {
		t.Fatal(err)
	}
	v := wf.ToValue()
	back, err := FromValue(v)
	if err != nil {
		t.Fatal(err)
	}
	if back.Namespace != "calc" || back.Name != "add" || back.ID != "call-42" {
		t.Fatalf("unexpected round trip: %+v", back.Envelope)
	}
	if back.Args.Count() != 2 || back.Args.Get(0).Int64() != 1 || back.Args.Get(1).Int64() != 2 {
		t.Fatalf("unexpected args after round trip: %s", value.Describe(back.Args))
	}
}
