package trie

import (
	"net"
	"strings"
	"testing"
)

func TestSearchPrefixLongestMatch(t *testing.T) {
	tr := New()
	tr.Insert(strings.Repeat("0", 8), 1.0)
	tr.Insert(strings.Repeat("0", 16), 2.0)

	var v float64
	if !tr.SearchPrefix(strings.Repeat("0", 24), &v) {
		t.Fatal("expected a match")
	}
	if v != 2.0 {
		t.Fatalf("expected longest prefix's value 2.0, got %v", v)
	}
}

func TestSearchPrefixNoMatch(t *testing.T) {
	tr := New()
	tr.Insert(strings.Repeat("1", 8), 1.0)
	if tr.SearchPrefix(strings.Repeat("0", 8), nil) {
		t.Fatal("expected no match")
	}
}

func TestContainsAndMultiplier(t *testing.T) {
	tr := New()
	addr := IPToUint32(net.ParseIP("10.0.0.0"))
	tr.Insert(ToBinaryString(addr)[:8], 42.0)

	inside := IPToUint32(net.ParseIP("10.1.2.3"))
	if !tr.Contains(inside) {
		t.Fatal("expected 10.1.2.3 to match the /8")
	}
	if v, ok := tr.Multiplier(inside); !ok || v != 42.0 {
		t.Fatalf("expected multiplier 42.0, got %v, %v", v, ok)
	}

	outside := IPToUint32(net.ParseIP("11.0.0.1"))
	if tr.Contains(outside) {
		t.Fatal("expected 11.0.0.1 not to match")
	}
}

func TestLoadPrefixFile(t *testing.T) {
	r := strings.NewReader("# comment\n10.0.0.0/8 2\n192.168.1.1\n\n")
	tr, err := LoadPrefixFile(r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !tr.Contains(IPToUint32(net.ParseIP("10.5.5.5"))) {
		t.Fatal("expected 10.5.5.5 to match the /8 entry")
	}
	if !tr.Contains(IPToUint32(net.ParseIP("192.168.1.1"))) {
		t.Fatal("expected exact /32 match")
	}
	if tr.Contains(IPToUint32(net.ParseIP("192.168.1.2"))) {
		t.Fatal("did not expect 192.168.1.2 to match a /32 entry for .1")
	}
}

func TestLoadPrefixFileMalformedLine(t *testing.T) {
	r := strings.NewReader("not-an-ip\n")
	if _, err := LoadPrefixFile(r); err == nil {
		t.Fatal("expected an error for a malformed line")
	}
}

func TestSensitivityToMultiplierMonotonic(t *testing.T) {
	low := sensitivityToMultiplier(0)
	high := sensitivityToMultiplier(10)
	if !(low > high) {
		t.Fatalf("expected multiplier to shrink as sensitivity grows: low=%v high=%v", low, high)
	}
}

func TestUint32RoundTrip(t *testing.T) {
	ip := net.ParseIP("203.0.113.7")
	addr := IPToUint32(ip)
	back := Uint32ToIP(addr)
	if !back.Equal(ip) {
		t.Fatalf("expected round trip to %v, got %v", ip, back)
	}
}
