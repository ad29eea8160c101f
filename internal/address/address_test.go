package address

import "testing"

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"  Bob@Example.com  ": "bob@example.com",
		"<Carol@X.Org>":       "carol@x.org",
		"dave@y.com":          "dave@y.com",
	}
	for in, want := range cases {
		if got := Normalize(in); got != want {
			t.Errorf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDecode_PlainPassthrough(t *testing.T) {
	if got := Decode("Alice   Smith"); got != "Alice Smith" {
		t.Errorf("Decode collapsed whitespace incorrectly: %q", got)
	}
}

func TestDecode_EncodedWord(t *testing.T) {
	got := Decode("=?UTF-8?B?QmrDtnJu?=")
	if got != "Björn" {
		t.Errorf("Decode(%q) = %q, want %q", "=?UTF-8?B?QmrDtnJu?=", got, "Björn")
	}
}

func TestParseList(t *testing.T) {
	addrs, err := ParseList("Bob <bob@example.com>, \"Carol X\" <Carol@X.ORG>")
	if err != nil {
		t.Fatalf("ParseList: %v", err)
	}
	if len(addrs) != 2 {
		t.Fatalf("got %d addresses, want 2", len(addrs))
	}
	if addrs[0].Addr != "bob@example.com" || addrs[0].Name != "Bob" {
		t.Errorf("addrs[0] = %+v", addrs[0])
	}
	if addrs[1].Addr != "carol@x.org" {
		t.Errorf("addrs[1].Addr = %q, want carol@x.org", addrs[1].Addr)
	}
}
