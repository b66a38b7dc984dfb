package types

import "testing"

func TestUidGenerator(t *testing.T) {
	var gen UidGenerator
	key := []byte("0123456789abcdef")
	if err := gen.Init(1, key); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	seen := make(map[Uid]bool)
	for i := 0; i < 100; i++ {
		uid := gen.Get()
		if uid.IsZero() {
			t.Fatal("Generator produced a zero uid")
		}
		if seen[uid] {
			t.Fatalf("Generator produced a duplicate uid %d", uid)
		}
		seen[uid] = true
	}

	str := gen.GetStr()
	if len(str) != uidBase64Unpadded {
		t.Errorf("GetStr length: expected %d, got %d", uidBase64Unpadded, len(str))
	}
	if ParseUid(str).IsZero() {
		t.Error("GetStr must produce a parseable uid")
	}
}

func TestUidGeneratorBadKey(t *testing.T) {
	var gen UidGenerator
	if err := gen.Init(1, []byte("short")); err == nil {
		t.Error("Init with a short key must fail")
	}
}
