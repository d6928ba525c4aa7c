package secret

import (
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func testCodec() *Codec {
	return NewCodec([]byte("test-lookup-key"), bcrypt.MinCost)
}

func TestIssue(t *testing.T) {
	c := testCodec()

	issued, err := c.Issue()
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	if !strings.HasPrefix(issued.Secret, Prefix) {
		t.Errorf("secret = %q, want %q prefix", issued.Secret, Prefix)
	}
	if got, want := len(issued.Secret), len(Prefix)+secretLen; got != want {
		t.Errorf("secret length = %d, want %d", got, want)
	}
	if issued.Preview != issued.Secret[:PreviewLen] {
		t.Errorf("preview = %q, want first %d chars of secret", issued.Preview, PreviewLen)
	}
	if issued.Hash == "" || issued.Hash == issued.Secret {
		t.Error("hash must be set and differ from the secret")
	}
	if issued.Digest != c.LookupDigest(issued.Secret) {
		t.Error("digest does not match LookupDigest of the secret")
	}
}

func TestIssue_SecretsAreUnique(t *testing.T) {
	c := testCodec()
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		issued, err := c.Issue()
		if err != nil {
			t.Fatalf("Issue: %v", err)
		}
		if seen[issued.Secret] {
			t.Fatalf("duplicate secret generated: %q", issued.Secret)
		}
		seen[issued.Secret] = true
	}
}

func TestVerify(t *testing.T) {
	c := testCodec()
	issued, err := c.Issue()
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	if !c.Verify(issued.Secret, issued.Hash) {
		t.Error("correct secret rejected")
	}
	if c.Verify(issued.Secret+"x", issued.Hash) {
		t.Error("tampered secret accepted")
	}
	if c.Verify("", issued.Hash) {
		t.Error("empty secret accepted")
	}
	if c.Verify(issued.Secret, "not-a-bcrypt-hash") {
		t.Error("garbage hash accepted")
	}
}

func TestLookupDigest(t *testing.T) {
	c := testCodec()

	d1 := c.LookupDigest("ko_example")
	d2 := c.LookupDigest("ko_example")
	if d1 != d2 {
		t.Error("digest not deterministic")
	}
	if d1 == c.LookupDigest("ko_other") {
		t.Error("distinct secrets share a digest")
	}

	// A different server key must produce a different index value, or the
	// digest would be forgeable without the key.
	other := NewCodec([]byte("other-key"), bcrypt.MinCost)
	if d1 == other.LookupDigest("ko_example") {
		t.Error("digest independent of lookup key")
	}
}

func TestNewCodec_DefaultCost(t *testing.T) {
	c := NewCodec([]byte("k"), 0)
	if c.cost != bcrypt.DefaultCost {
		t.Errorf("cost = %d, want bcrypt.DefaultCost", c.cost)
	}
}
