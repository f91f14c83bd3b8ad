package rewrite

import "testing"

func TestLookupCharset(t *testing.T) {
	tests := []struct {
		label string
		want  string
	}{
		{"utf-8", "utf-8"},
		{"UTF8", "utf-8"},
		{" utf-8 ", "utf-8"},
		{"iso-8859-1", "windows-1252"},
		{"latin1", "windows-1252"},
		{"shift_jis", "shift_jis"},
	}

	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			cs, err := LookupCharset(tt.label)
			if err != nil {
				t.Fatal(err)
			}
			if cs.Name() != tt.want {
				t.Errorf("expected %q, got %q", tt.want, cs.Name())
			}
		})
	}
}

func TestLookupCharset_Unknown(t *testing.T) {
	if _, err := LookupCharset("not-a-charset"); err == nil {
		t.Error("expected error for unknown charset")
	}
}

func TestCharset_UTF8Identity(t *testing.T) {
	cs, err := LookupCharset("utf-8")
	if err != nil {
		t.Fatal(err)
	}

	in := []byte("ok \xff")
	out, err := cs.Decode(in)
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != string(in) {
		t.Errorf("expected bytes unchanged, got %q", out)
	}
}

func TestCharset_RoundTrip(t *testing.T) {
	cs, err := LookupCharset("shift_jis")
	if err != nil {
		t.Fatal(err)
	}

	encoded, err := cs.Encode([]byte("日本語"))
	if err != nil {
		t.Fatal(err)
	}
	if string(encoded) == "日本語" {
		t.Fatal("expected transcoded bytes")
	}

	decoded, err := cs.Decode(encoded)
	if err != nil {
		t.Fatal(err)
	}
	if string(decoded) != "日本語" {
		t.Errorf("expected round trip, got %q", decoded)
	}
}

func TestCharset_EncodeUnrepresentable(t *testing.T) {
	cs, err := LookupCharset("iso-8859-1")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := cs.Encode([]byte("日")); err == nil {
		t.Error("expected error for a character outside the charset")
	}
}

func TestLookupCharset_RejectsReplacement(t *testing.T) {
	for _, label := range []string{"replacement", "iso-2022-kr", "hz-gb-2312"} {
		if _, err := LookupCharset(label); err == nil {
			t.Errorf("%s: expected lossy charset to be rejected", label)
		}
	}
}
