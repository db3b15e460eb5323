package crypto

import (
	"bytes"
	"errors"
	"testing"
)

func TestSealOpen(t *testing.T) {
	box, err := NewBox("secret")
	if err != nil {
		t.Fatalf("NewBox: %v", err)
	}
	cookies := []byte(`[{"name":"fastapiusersauth","value":"abc"}]`)
	out, err := box.Seal(cookies)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if bytes.Contains(out, []byte("fastapiusersauth")) {
		t.Fatalf("cookie name visible in sealed payload: %s", out)
	}
	back, err := box.Open(out)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if string(back) != string(cookies) {
		t.Fatalf("got %q, want %q", back, cookies)
	}

	again, _ := box.Seal(cookies)
	if bytes.Equal(out, again) {
		t.Fatalf("two seals of the same data must differ")
	}
}

func TestEmptySecretDisablesBox(t *testing.T) {
	box, err := NewBox("")
	if err != nil {
		t.Fatalf("NewBox: %v", err)
	}
	if box.Enabled() {
		t.Fatalf("box enabled without a secret")
	}
	out, err := box.Seal([]byte("plain"))
	if err != nil || string(out) != "plain" {
		t.Fatalf("Seal = %q, %v", out, err)
	}
}

func TestOpenRejectsForeignPayloads(t *testing.T) {
	box, _ := NewBox("secret")
	other, _ := NewBox("other")
	out, err := box.Seal([]byte("hello"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if _, err := other.Open(out); !errors.Is(err, ErrBadEnvelope) {
		t.Fatalf("wrong key: got %v", err)
	}
	for _, payload := range []string{`not json`, `{"blob":""}`, `{"v":1,"blob":"AAAA"}`} {
		if _, err := box.Open([]byte(payload)); !errors.Is(err, ErrBadEnvelope) {
			t.Fatalf("Open(%s) = %v, want ErrBadEnvelope", payload, err)
		}
	}
}
