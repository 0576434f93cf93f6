package model

import "testing"

func TestRegistryAcquireRelease(t *testing.T) {
	r := NewRegistry()
	s1 := r.Acquire("INBOX")
	s2 := r.Acquire("INBOX")
	if s1 != s2 {
		t.Fatalf("Acquire returned different Storage for the same name")
	}
	r.Release(s1)
	s3 := r.Acquire("INBOX")
	if s3 != s1 {
		t.Fatalf("Storage evicted while a reference was still held")
	}
	r.Release(s3)
	r.Release(s3)
	if _, ok := r.storages["INBOX"]; ok {
		t.Fatalf("Storage not evicted once refcount reached zero")
	}
}

func TestKeywordIndexRegistersOnce(t *testing.T) {
	s := &Storage{ExpungedUIDs: make(map[uint32]bool)}
	i1 := s.KeywordIndex("$Label1")
	i2 := s.KeywordIndex("$Label1")
	if i1 != i2 {
		t.Errorf("KeywordIndex re-registered an existing keyword: %d != %d", i1, i2)
	}
	i3 := s.KeywordIndex("$Label2")
	if i3 == i1 {
		t.Errorf("KeywordIndex assigned the same index to two different keywords")
	}
}

func TestInsertStaticOrder(t *testing.T) {
	s := &Storage{ExpungedUIDs: make(map[uint32]bool)}
	if err := s.InsertStatic(&StaticMeta{UID: 1}); err != nil {
		t.Fatalf("InsertStatic(1): %v", err)
	}
	if err := s.InsertStatic(&StaticMeta{UID: 2}); err != nil {
		t.Fatalf("InsertStatic(2): %v", err)
	}
	if err := s.InsertStatic(&StaticMeta{UID: 2}); err == nil {
		t.Errorf("InsertStatic accepted a non-increasing UID")
	}
	if err := s.InsertStatic(&StaticMeta{UID: 1}); err == nil {
		t.Errorf("InsertStatic accepted an out-of-order UID")
	}
}

func TestStaticByUID(t *testing.T) {
	s := &Storage{ExpungedUIDs: make(map[uint32]bool)}
	for _, uid := range []uint32{1, 3, 5, 9} {
		if err := s.InsertStatic(&StaticMeta{UID: uid}); err != nil {
			t.Fatalf("InsertStatic(%d): %v", uid, err)
		}
	}
	if m := s.StaticByUID(5); m == nil || m.UID != 5 {
		t.Errorf("StaticByUID(5) = %v, want UID 5", m)
	}
	if m := s.StaticByUID(4); m != nil {
		t.Errorf("StaticByUID(4) = %v, want nil", m)
	}
}

func TestSetUIDValidity(t *testing.T) {
	s := &Storage{ExpungedUIDs: make(map[uint32]bool)}
	if err := s.SetUIDValidity(100); err != nil {
		t.Fatalf("first SetUIDValidity: %v", err)
	}
	if err := s.SetUIDValidity(100); err != nil {
		t.Errorf("re-setting the same UIDVALIDITY should not error: %v", err)
	}
	if err := s.SetUIDValidity(200); err == nil {
		t.Errorf("SetUIDValidity silently accepted a changed UIDVALIDITY")
	}
	if s.UIDValidity != 200 {
		t.Errorf("UIDValidity = %d, want 200 even after the error return", s.UIDValidity)
	}
}
