package pgp

import "testing"

// S2 — keygen roundtrip (§8).
func TestCreateKeypair_EncryptDecryptRoundtrip(t *testing.T) {
	public, private, err := CreateKeypair("alice@example.com")
	if err != nil {
		t.Fatalf("CreateKeypair: %v", err)
	}
	if !IsValidKey(public) {
		t.Fatal("generated public key failed IsValidKey")
	}
	if !IsValidKey(private) {
		t.Fatal("generated private key failed IsValidKey")
	}

	recipients := NewKeyring(Public)
	if err := recipients.Add(public); err != nil {
		t.Fatalf("Add recipient: %v", err)
	}

	ctext, err := PKEncrypt([]byte("hi"), recipients, private, true)
	if err != nil {
		t.Fatalf("PKEncrypt: %v", err)
	}

	keys := NewKeyring(Private)
	if err := keys.Add(private); err != nil {
		t.Fatalf("Add decryption key: %v", err)
	}
	validators := NewKeyring(Public)
	if err := validators.Add(public); err != nil {
		t.Fatalf("Add validator: %v", err)
	}

	plain, validFPs, err := PKDecrypt(ctext, keys, validators, true)
	if err != nil {
		t.Fatalf("PKDecrypt: %v", err)
	}
	if string(plain) != "hi" {
		t.Fatalf("plain = %q, want %q", plain, "hi")
	}
	if len(validFPs) != 1 {
		t.Fatalf("expected one valid signer fingerprint, got %v", validFPs)
	}

	wantFP, err := CalcFingerprintHex(public)
	if err != nil {
		t.Fatalf("CalcFingerprintHex: %v", err)
	}
	if validFPs[0] != wantFP {
		t.Fatalf("signer fingerprint = %q, want %q", validFPs[0], wantFP)
	}
}

// invariant 3: calc_fingerprint(split_key(priv)) == calc_fingerprint(pub).
func TestSplitKey_FingerprintMatches(t *testing.T) {
	public, private, err := CreateKeypair("bob@example.com")
	if err != nil {
		t.Fatalf("CreateKeypair: %v", err)
	}

	split, err := SplitKey(private)
	if err != nil {
		t.Fatalf("SplitKey: %v", err)
	}

	wantFP, err := CalcFingerprintHex(public)
	if err != nil {
		t.Fatalf("CalcFingerprintHex(public): %v", err)
	}
	gotFP, err := CalcFingerprintHex(split)
	if err != nil {
		t.Fatalf("CalcFingerprintHex(split): %v", err)
	}
	if gotFP != wantFP {
		t.Fatalf("split fingerprint = %q, want %q", gotFP, wantFP)
	}
}

func TestSplitKey_RejectsPublicInput(t *testing.T) {
	public, _, err := CreateKeypair("carol@example.com")
	if err != nil {
		t.Fatalf("CreateKeypair: %v", err)
	}
	if _, err := SplitKey(public); err == nil {
		t.Fatal("expected SplitKey to reject a public key input")
	}
}

// invariant 7: is_valid_key never crashes on adversarial input.
func TestIsValidKey_AdversarialInput(t *testing.T) {
	cases := [][]byte{
		nil,
		{},
		{0x00},
		[]byte("not a key at all"),
		make([]byte, 4096),
	}
	for _, data := range cases {
		k := &Key{Kind: Public, Bytes: data}
		if IsValidKey(k) {
			t.Errorf("expected garbage input to be invalid, data=%v", data)
		}
	}
}

func TestPKEncrypt_RejectsEmptyRecipients(t *testing.T) {
	kr := NewKeyring(Public)
	if _, err := PKEncrypt([]byte("x"), kr, nil, true); err == nil {
		t.Fatal("expected error for empty recipient keyring")
	}
}

func TestKeyring_FindByFingerprint(t *testing.T) {
	public, _, err := CreateKeypair("dora@example.com")
	if err != nil {
		t.Fatalf("CreateKeypair: %v", err)
	}
	kr := NewKeyring(Public)
	if err := kr.Add(public); err != nil {
		t.Fatalf("Add: %v", err)
	}
	fp, err := CalcFingerprintHex(public)
	if err != nil {
		t.Fatalf("CalcFingerprintHex: %v", err)
	}
	if _, ok := kr.FindByFingerprint(fp); !ok {
		t.Fatal("expected to find key by fingerprint")
	}
	if _, ok := kr.FindByFingerprint("0000000000000000000000000000000000000000"); ok {
		t.Fatal("did not expect to find a key for an unrelated fingerprint")
	}
}
