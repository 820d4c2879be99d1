package domain

import "testing"

func strp(s string) *string { return &s }

func TestSegment_Clusters(t *testing.T) {
	s := &Segment{ClusterName: strp(" web-01 , web-02 ")}
	got := s.Clusters()
	want := []string{"web-01", "web-02"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestSegment_Clusters_NilAndEmpty(t *testing.T) {
	var s Segment
	if got := s.Clusters(); got != nil {
		t.Fatalf("expected nil for nil cluster_name, got %v", got)
	}
	s.ClusterName = strp("")
	if got := s.Clusters(); got != nil {
		t.Fatalf("expected nil for empty cluster_name (legacy data), got %v", got)
	}
}

func TestSegment_HasCluster(t *testing.T) {
	s := &Segment{ClusterName: strp("web-01,web-02")}
	if !s.HasCluster("web-01") {
		t.Fatal("expected web-01 present")
	}
	if s.HasCluster("web-03") {
		t.Fatal("did not expect web-03 present")
	}
}

func TestJoinClusters(t *testing.T) {
	if JoinClusters(nil) != nil {
		t.Fatal("expected nil for empty list")
	}
	got := JoinClusters([]string{"a", "b"})
	if got == nil || *got != "a,b" {
		t.Fatalf("got %v", got)
	}
}

func TestSegment_SyncDerivedFields(t *testing.T) {
	s := &Segment{}
	s.SyncDerivedFields()
	if s.Status != StatusAvailable || !s.Released {
		t.Fatalf("expected available/released, got status=%s released=%v", s.Status, s.Released)
	}

	s.ClusterName = strp("web-01")
	s.SyncDerivedFields()
	if s.Status != StatusReserved || s.Released {
		t.Fatalf("expected reserved/!released, got status=%s released=%v", s.Status, s.Released)
	}
}
