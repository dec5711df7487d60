package keys

import (
	"regexp"
	"testing"
	"unicode"
)

func TestBucketKey_Deterministic(t *testing.T) {
	k1 := BucketKey("wx", "55.8_37.6")
	k2 := BucketKey("wx", "55.8_37.6")
	if k1 != k2 {
		t.Fatalf("determinism failed:\n k1=%s\n k2=%s", k1, k2)
	}
	if k1 != "wx:bucket:55.8_37.6" {
		t.Fatalf("unexpected key %q", k1)
	}
}

func TestBucketKey_DefaultNamespaceAndTrim(t *testing.T) {
	if got := BucketKey("  ", " -1.0_2.0 "); got != "wx:bucket:-1.0_2.0" {
		t.Fatalf("got %q", got)
	}
	if got := BucketKey("my app", "x"); got != "my_app:bucket:x" {
		t.Fatalf("namespace not sanitized: %q", got)
	}
}

func TestBucketKey_GlobAndUnicodeSafety(t *testing.T) {
	k := BucketKey("wx", "a*b?[c]:Göteborg")
	for _, r := range k {
		if r > unicode.MaxASCII {
			t.Fatalf("non-ASCII rune leaked into key: %q in %s", r, k)
		}
	}
	if !regexp.MustCompile(`^wx:bucket:[A-Za-z0-9._\-~]+$`).MatchString(k) {
		t.Fatalf("key contains disallowed characters: %s", k)
	}
}

func TestBucketID_RoundTrip(t *testing.T) {
	id, ok := BucketID("wx", BucketKey("wx", "55.8_37.6"))
	if !ok || id != "55.8_37.6" {
		t.Fatalf("round trip got %q ok=%v", id, ok)
	}
	if _, ok := BucketID("wx", "other:bucket:1"); ok {
		t.Fatalf("foreign key accepted")
	}
	if _, ok := BucketID("wx", Prefix("wx")); ok {
		t.Fatalf("empty id accepted")
	}
	if Pattern("wx") != "wx:bucket:*" {
		t.Fatalf("pattern=%q", Pattern("wx"))
	}
}
