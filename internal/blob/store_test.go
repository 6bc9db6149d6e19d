package blob

import "testing"

func TestHashContent(t *testing.T) {
	a := HashContent([]byte("hello"))
	b := HashContent([]byte("world"))

	if a == b {
		t.Fatal("distinct payloads hashed to the same key")
	}
	if a != HashContent([]byte("hello")) {
		t.Fatal("hash not deterministic")
	}
	if len(a) != 64 {
		t.Fatalf("key length = %d, want 64", len(a))
	}
	// Known vector for sha256("hello").
	if a != "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824" {
		t.Fatalf("unexpected digest %s", a)
	}
}

func TestHashContentEmpty(t *testing.T) {
	if HashContent(nil) != HashContent([]byte{}) {
		t.Fatal("nil and empty payloads should share a key")
	}
}
