package domain

import "testing"

func TestCanonicalCIDR(t *testing.T) {
	canon, ok, err := CanonicalCIDR("192.168.1.0/24")
	if err != nil || !ok || canon != "192.168.1.0/24" {
		t.Fatalf("got canon=%q ok=%v err=%v", canon, ok, err)
	}

	canon, ok, err = CanonicalCIDR("192.168.1.5/24")
	if err != nil || ok || canon != "192.168.1.0/24" {
		t.Fatalf("got canon=%q ok=%v err=%v", canon, ok, err)
	}
}

func TestCanonicalCIDR_Invalid(t *testing.T) {
	if _, _, err := CanonicalCIDR("not-a-cidr"); err == nil {
		t.Fatal("expected error")
	}
}

func TestCIDROverlap(t *testing.T) {
	overlap, err := CIDROverlap("192.168.0.0/23", "192.168.1.0/24")
	if err != nil || !overlap {
		t.Fatalf("expected overlap, got %v err=%v", overlap, err)
	}
	overlap, err = CIDROverlap("192.168.0.0/24", "192.168.1.0/24")
	if err != nil || overlap {
		t.Fatalf("expected no overlap, got %v err=%v", overlap, err)
	}
}

func TestUsableHosts(t *testing.T) {
	n, err := UsableHosts("192.168.1.0/24")
	if err != nil || n != 254 {
		t.Fatalf("got %d err=%v", n, err)
	}
	n, err = UsableHosts("192.168.1.0/31")
	if err != nil || n != 0 {
		t.Fatalf("got %d err=%v", n, err)
	}
}

func TestFirstOctet(t *testing.T) {
	octet, err := FirstOctet("10.20.30.0/24")
	if err != nil || octet != "10" {
		t.Fatalf("got %q err=%v", octet, err)
	}
}
