package crypto

import "testing"

func TestSignVerifyRoundTrip(t *testing.T) {
	kp, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}

	msg := []byte("transaction digest bytes")
	sig := Sign(kp.Private, msg)

	ok, err := Verify(kp.Public, msg, sig)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !ok {
		t.Fatal("valid signature failed to verify")
	}
}

func TestVerifyRejectsTamperedMessage(t *testing.T) {
	kp, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}

	sig := Sign(kp.Private, []byte("original"))
	ok, err := Verify(kp.Public, []byte("tampered"), sig)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if ok {
		t.Fatal("tampered message verified successfully")
	}
}

func TestVerifyRejectsMalformedSignature(t *testing.T) {
	kp, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	_, err = Verify(kp.Public, []byte("msg"), []byte{0x01, 0x02})
	if err == nil {
		t.Fatal("expected error for malformed signature")
	}
}

func TestAddressFromPubDeterministic(t *testing.T) {
	kp, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	a1, err := AddressFromPub(kp.Public)
	if err != nil {
		t.Fatalf("AddressFromPub: %v", err)
	}
	a2, err := AddressFromPub(kp.Public)
	if err != nil {
		t.Fatalf("AddressFromPub: %v", err)
	}
	if a1 != a2 {
		t.Fatal("address derivation is not deterministic")
	}
	if err := ValidateAddress(a1); err != nil {
		t.Fatalf("derived address failed validation: %v", err)
	}
}

func TestValidateAddressRejectsBadLength(t *testing.T) {
	if err := ValidateAddress("short"); err == nil {
		t.Fatal("expected error for too-short address")
	}
}
