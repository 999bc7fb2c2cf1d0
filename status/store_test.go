package status

import "testing"

func TestMarkReadAndUnread(t *testing.T) {
	s := NewStore("0xabc", NewMemoryKV())

	if s.Read("hash-1") != Unread {
		t.Fatal("expected unmarked hash to be Unread")
	}

	if err := s.MarkRead("hash-1"); err != nil {
		t.Fatal(err)
	}
	if s.Read("hash-1") != Read {
		t.Fatal("expected hash to be Read after MarkRead")
	}

	if err := s.MarkUnread("hash-1"); err != nil {
		t.Fatal(err)
	}
	if s.Read("hash-1") != Unread {
		t.Fatal("expected hash to be Unread after MarkUnread")
	}
}

func TestStorePersistsAcrossInstancesOverSameKV(t *testing.T) {
	kv := NewMemoryKV()
	a := NewStore("0xabc", kv)
	if err := a.MarkRead("hash-1"); err != nil {
		t.Fatal(err)
	}

	b := NewStore("0xabc", kv)
	if b.Read("hash-1") != Read {
		t.Fatal("expected a second Store over the same KV to see the mark")
	}
}

func TestFileKVRoundTrip(t *testing.T) {
	dir := t.TempDir()
	kv := NewFileKV(dir + "/status.json")

	if err := kv.Set("k", []byte("v")); err != nil {
		t.Fatal(err)
	}
	got, ok := kv.Get("k")
	if !ok || string(got) != "v" {
		t.Fatalf("expected round trip to succeed, got %q, %v", got, ok)
	}

	kv2 := NewFileKV(dir + "/status.json")
	got2, ok := kv2.Get("k")
	if !ok || string(got2) != "v" {
		t.Fatal("expected a fresh FileKV over the same path to read the persisted value")
	}
}
