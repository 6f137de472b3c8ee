package value

import (
	"strings"
	"testing"
	"time"

	"github.com/bxcodec/faker/v4"
	"github.com/google/go-cmp/cmp"
)

func TestRetainRelease(t *testing.T) {
	v := NewString("hi")
	if v.RefCount() != 1 {
		t.Fatalf("expected refcount 1, got %d", v.RefCount())
	}
	v.Retain()
	if v.RefCount() != 2 {
		t.Fatalf("expected refcount 2, got %d", v.RefCount())
	}
	v.Release()
	if v.RefCount() != 1 {
		t.Fatalf("expected refcount 1 after one release, got %d", v.RefCount())
	}
}

func TestReleaseRecursesIntoContainers(t *testing.T) {
	child := NewInt64(5)
	arr := NewArray(child)
	arr.Release()
	if child.RefCount() != 0 {
		t.Fatalf("expected child refcount 0 after container release, got %d", child.RefCount())
	}
}

func TestCopyIsIndependent(t *testing.T) {
	orig := NewArray(NewString("a"), NewInt64(1))
	cp := Copy(orig)
	if !Equal(orig, cp) {
		t.Fatal("copy should be structurally equal to original")
	}
	cp.Steal(0, NewString("b"))
	if Equal(orig, cp) {
		t.Fatal("mutating the copy should not affect the original")
	}
	if orig.Get(0).Str() != "a" {
		t.Fatal("original was mutated through the copy")
	}
}

func TestEqualAcrossKinds(t *testing.T) {
	cases := []struct {
		a, b  *Value
		equal bool
	}{
		{NewInt64(1), NewInt64(1), true},
		{NewInt64(1), NewInt64(2), false},
		{NewInt64(1), NewUInt64(1), false},
		{NewString("x"), NewString("x"), true},
		{NewBool(true), NewBool(false), false},
		{NewNull(), NewNull(), true},
		{NewArray(NewInt64(1), NewInt64(2)), NewArray(NewInt64(1), NewInt64(2)), true},
		{NewArray(NewInt64(1)), NewArray(NewInt64(1), NewInt64(2)), false},
	}
	for i, c := range cases {
		if got := Equal(c.a, c.b); got != c.equal {
			t.Errorf("case %d: Equal = %v, want %v", i, got, c.equal)
		}
	}
}

func TestHashConsistentWithEqual(t *testing.T) {
	a := NewDictionary(map[string]*Value{"x": NewInt64(1), "y": NewString("z")})
	b := NewDictionary(map[string]*Value{"y": NewString("z"), "x": NewInt64(1)})
	if !Equal(a, b) {
		t.Fatal("dictionaries built in different key order should compare equal")
	}
	if Hash(a) != Hash(b) {
		t.Fatal("equal dictionaries must hash identically regardless of build order")
	}
}

func TestHashRandomizedAgreesWithEqual(t *testing.T) {
	type fixture struct {
		Name  string `faker:"name"`
		Email string `faker:"email"`
		Count int
	}
	for i := 0; i < 20; i++ {
		var f fixture
		if err := faker.FakeData(&f); err != nil {
			t.Fatalf("faker: %v", err)
		}
		a := NewDictionary(map[string]*Value{
			"name":  NewString(f.Name),
			"email": NewString(f.Email),
			"count": NewInt64(int64(f.Count)),
		})
		b := Copy(a)
		if !Equal(a, b) {
			t.Fatalf("copy %d not equal to original", i)
		}
		if Hash(a) != Hash(b) {
			t.Fatalf("copy %d hash diverged from original", i)
		}
	}
}

func TestArraySetPadsWithNull(t *testing.T) {
	v := NewArray()
	v.Steal(3, NewString("late"))
	if v.Count() != 4 {
		t.Fatalf("expected length 4, got %d", v.Count())
	}
	for i := 0; i < 3; i++ {
		if v.Get(i).Kind() != Null {
			t.Fatalf("expected index %d to be padded with Null", i)
		}
	}
	if v.Get(3).Str() != "late" {
		t.Fatal("explicit index value not stored")
	}
}

func TestArrayRemoveBoundsFix(t *testing.T) {
	v := NewArray(NewInt64(0), NewInt64(1), NewInt64(2))
	if v.Remove(3) {
		t.Fatal("Remove(3) should fail on a 3-element array (index < count, not <=)")
	}
	if !v.Remove(1) {
		t.Fatal("Remove(1) should succeed")
	}
	if v.Count() != 2 || v.Get(0).Int64() != 0 || v.Get(1).Int64() != 2 {
		t.Fatalf("unexpected array after remove: %s", Describe(v))
	}
}

func TestDictOps(t *testing.T) {
	v := NewDictionary(nil)
	v.SetKey("a", NewInt64(1))
	if !v.HasKey("a") {
		t.Fatal("expected key a present")
	}
	if v.GetKey("a").Int64() != 1 {
		t.Fatal("unexpected value for key a")
	}
	v.RemoveKey("a")
	if v.HasKey("a") {
		t.Fatal("expected key a removed")
	}
}

func TestApplyArrayBreaksEarly(t *testing.T) {
	v := NewArray(NewInt64(1), NewInt64(2), NewInt64(3))
	var seen []int64
	v.ApplyArray(func(i int, e *Value) bool {
		seen = append(seen, e.Int64())
		return i < 1
	})
	if diff := cmp.Diff([]int64{1, 2}, seen); diff != "" {
		t.Fatalf("ApplyArray early-break mismatch (-want +got):\n%s", diff)
	}
}

func TestPackUnpackSimpleTokens(t *testing.T) {
	v, err := Pack("i", int64(42))
	if err != nil {
		t.Fatal(err)
	}
	if v.Kind() != Int64 || v.Int64() != 42 {
		t.Fatalf("unexpected packed value: %s", Describe(v))
	}
	var out int64
	n, err := Unpack(v, "i", &out)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 || out != 42 {
		t.Fatalf("unpack mismatch: n=%d out=%d", n, out)
	}
}

func TestPackUnpackArrayOfSimpleTokens(t *testing.T) {
	v, err := Pack("[sib]", "hello", int64(7), true)
	if err != nil {
		t.Fatal(err)
	}
	if v.Kind() != Array || v.Count() != 3 {
		t.Fatalf("unexpected array: %s", Describe(v))
	}
	var s string
	var i int64
	var b bool
	n, err := Unpack(v, "[sib]", &s, &i, &b)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 || s != "hello" || i != 7 || !b {
		t.Fatalf("unpack mismatch: n=%d s=%q i=%d b=%v", n, s, i, b)
	}
}

func TestPackUnpackArrayWithExplicitIndex(t *testing.T) {
	v, err := Pack("[i,5:i,i]", int64(1), int64(2), int64(3))
	if err != nil {
		t.Fatal(err)
	}
	if v.Count() != 7 {
		t.Fatalf("expected 7 elements (padded to index 6), got %d: %s", v.Count(), Describe(v))
	}
	if v.Get(0).Int64() != 1 || v.Get(5).Int64() != 2 || v.Get(6).Int64() != 3 {
		t.Fatalf("unexpected array contents: %s", Describe(v))
	}
	for _, i := range []int{1, 2, 3, 4} {
		if v.Get(i).Kind() != Null {
			t.Fatalf("expected index %d padded with null", i)
		}
	}
}

func TestPackUnpackDictNamedAndArgKeys(t *testing.T) {
	v, err := Pack("{s,i,uint:u,b,n}",
		"hello", "world",
		"int", int64(-12345),
		uint64(0x80808080),
		"flag", true,
		"nothing",
	)
	if err != nil {
		t.Fatal(err)
	}
	if v.Kind() != Dictionary {
		t.Fatalf("expected dictionary: %s", Describe(v))
	}
	if v.GetKey("hello").Str() != "world" {
		t.Fatal("expected hello -> world")
	}
	if v.GetKey("int").Int64() != -12345 {
		t.Fatal("expected int -> -12345")
	}
	if v.GetKey("uint").UInt64() != 0x80808080 {
		t.Fatal("expected uint -> 0x80808080")
	}
	if !v.GetKey("flag").Bool() {
		t.Fatal("expected flag -> true")
	}
	if v.GetKey("nothing").Kind() != Null {
		t.Fatal("expected nothing -> null")
	}
}

func TestPackBinaryAndFd(t *testing.T) {
	v, err := Pack("{data:B,handle:f}", []byte("payload"), 9)
	if err != nil {
		t.Fatal(err)
	}
	b, owned := v.GetKey("data").Binary()
	if string(b) != "payload" || !owned {
		t.Fatalf("unexpected binary entry: %q owned=%v", b, owned)
	}
	if v.GetKey("handle").Fd() != 9 {
		t.Fatal("unexpected fd entry")
	}
}

func TestDescribeDoesNotPanicOnEveryKind(t *testing.T) {
	values := []*Value{
		NewNull(), NewBool(true), NewInt64(1), NewUInt64(1), NewDouble(1.5),
		NewDate(time.Now()), NewString("x"), NewBinaryOwned([]byte("y")), NewFd(3),
		NewArray(NewInt64(1)), NewDictionary(map[string]*Value{"k": NewInt64(1)}),
	}
	for _, v := range values {
		out := Describe(v)
		if !strings.Contains(out, v.Kind().String()) {
			t.Fatalf("describe output %q missing kind %q", out, v.Kind().String())
		}
	}
}

func TestMustEqualPanicsOnMismatch(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected MustEqual to panic on mismatch")
		}
	}()
	MustEqual(NewInt64(1), NewInt64(2))
}
