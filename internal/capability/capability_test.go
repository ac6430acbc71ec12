package capability

import "testing"

func TestParseLampStates(t *testing.T) {
	got := parseLampStates("0:30 1 1:00 0")
	want := []bool{true, false}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("lamp %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestParseErrorStates(t *testing.T) {
	got := parseErrorStates("100200")
	if got["fan"] != "1" {
		t.Errorf("expected fan error, got %v", got)
	}
	if got["cover_open"] != "2" {
		t.Errorf("expected cover_open error, got %v", got)
	}
	if _, ok := got["lamp"]; ok {
		t.Errorf("expected no lamp error, got %v", got)
	}
}

func TestLookupGudeModel(t *testing.T) {
	m, err := LookupGudeModel("Gude 8031-1")
	if err != nil {
		t.Fatalf("LookupGudeModel: %v", err)
	}
	if m.NumFeeds != 8 {
		t.Errorf("NumFeeds = %d, want 8", m.NumFeeds)
	}
	oids := m.PortStateOIDs()
	if len(oids) != 8 {
		t.Fatalf("expected 8 OIDs, got %d", len(oids))
	}
	if oids[0] != gudeBaseOID+".81.1.3.1.2.1.3.1" {
		t.Errorf("unexpected first OID: %s", oids[0])
	}
}

func TestLookupGudeModelUnknown(t *testing.T) {
	if _, err := LookupGudeModel("Gude 9999-9"); err == nil {
		t.Fatal("expected error for unknown model")
	}
}

func TestLookupGudeModelMalformed(t *testing.T) {
	if _, err := LookupGudeModel("bogus"); err == nil {
		t.Fatal("expected error for malformed model string")
	}
}

func TestParseDigestChallenge(t *testing.T) {
	c := parseDigestChallenge(`Digest realm="brightsign", nonce="abc123", qop="auth", opaque="xyz"`)
	if c == nil {
		t.Fatal("expected parsed challenge")
	}
	if c.realm != "brightsign" || c.nonce != "abc123" || c.qop != "auth" || c.opaque != "xyz" {
		t.Errorf("unexpected challenge fields: %+v", c)
	}
}

func TestParseDigestChallengeRejectsNonDigest(t *testing.T) {
	if parseDigestChallenge(`Basic realm="x"`) != nil {
		t.Fatal("expected nil for non-digest scheme")
	}
}

func TestBuildAuthHeaderIncludesQop(t *testing.T) {
	a := NewDigestAdapter("admin", "avm")
	c := &digestChallenge{realm: "brightsign", nonce: "n1", qop: "auth"}
	header, err := a.buildAuthHeader("PUT", "/api/v1/control/reboot", c)
	if err != nil {
		t.Fatalf("buildAuthHeader: %v", err)
	}
	if !contains(header, `username="admin"`) || !contains(header, "qop=auth") {
		t.Errorf("unexpected auth header: %s", header)
	}
}

func contains(s, sub string) bool {
	return len(s) >= len(sub) && (func() bool {
		for i := 0; i+len(sub) <= len(s); i++ {
			if s[i:i+len(sub)] == sub {
				return true
			}
		}
		return false
	})()
}
