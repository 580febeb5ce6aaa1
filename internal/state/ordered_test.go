package state

import "testing"

func TestObjectKeys_DocumentOrder(t *testing.T) {
	data := []byte(`{"zebra": 1, "apple": {"nested": [1, 2, {"x": true}]}, "mango": "s"}`)

	keys, err := objectKeys(data)
	if err != nil {
		t.Fatalf("objectKeys: %v", err)
	}

	want := []string{"zebra", "apple", "mango"}
	if len(keys) != len(want) {
		t.Fatalf("got %d keys, want %d", len(keys), len(want))
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("keys[%d] = %s, want %s", i, keys[i], want[i])
		}
	}
}

func TestObjectKeys_RejectsDuplicates(t *testing.T) {
	if _, err := objectKeys([]byte(`{"a": 1, "a": 2}`)); err == nil {
		t.Error("duplicate keys should be rejected")
	}
}

func TestObjectKeys_RejectsNonObjects(t *testing.T) {
	for _, in := range []string{`[1,2]`, `"s"`, `42`, `null`} {
		if _, err := objectKeys([]byte(in)); err == nil {
			t.Errorf("objectKeys(%s) should fail", in)
		}
	}
}

func TestObjectKeys_EmptyObject(t *testing.T) {
	keys, err := objectKeys([]byte(`{}`))
	if err != nil {
		t.Fatalf("objectKeys: %v", err)
	}
	if len(keys) != 0 {
		t.Errorf("got %v, want empty", keys)
	}
}
