package masker

import (
	"strings"
	"testing"
)

func TestMaskUnmaskRoundTrip(t *testing.T) {
	m := New()

	cases := []string{
		"summarize findings for auditor john.doe@acme.com in the PPJB area",
		"contact Bapak Ahmad Subarjo at +6281234567890 about NIK 3171234567890001",
		"no sensitive content here, just findings from 2024",
		"",
	}

	for _, q := range cases {
		res := m.Mask(q)
		got := m.Unmask(res.MaskedText, res.Tokens)
		if got != q {
			t.Fatalf("round trip failed:\n  in:     %q\n  masked: %q\n  out:    %q", q, res.MaskedText, got)
		}
	}
}

func TestMaskReplacesAllKinds(t *testing.T) {
	m := New()

	res := m.Mask("auditor Ibu Siti Rahayu (siti@pln.co.id, 081234567890) reviewed id 1234567890123456")

	if strings.Contains(res.MaskedText, "siti@pln.co.id") {
		t.Errorf("email leaked: %q", res.MaskedText)
	}
	if strings.Contains(res.MaskedText, "081234567890") {
		t.Errorf("phone leaked: %q", res.MaskedText)
	}
	if strings.Contains(res.MaskedText, "1234567890123456") {
		t.Errorf("id leaked: %q", res.MaskedText)
	}
	if strings.Contains(res.MaskedText, "Siti Rahayu") {
		t.Errorf("name leaked: %q", res.MaskedText)
	}

	kinds := make(map[Kind]bool)
	for _, tok := range res.Tokens {
		kinds[tok.Kind] = true
	}
	for _, k := range []Kind{KindEmail, KindPhone, KindID, KindName} {
		if !kinds[k] {
			t.Errorf("expected a %s token, got %v", k, res.Tokens)
		}
	}
}

func TestMaskIdempotent(t *testing.T) {
	m := New()

	q := "email john.doe@acme.com and phone 081234567890, again john.doe@acme.com"
	first := m.Mask(q)
	second := m.Mask(first.MaskedText)

	if second.MaskedText != first.MaskedText {
		t.Fatalf("second mask changed text:\n  first:  %q\n  second: %q", first.MaskedText, second.MaskedText)
	}
	if len(second.Tokens) != 0 {
		t.Fatalf("second mask produced tokens: %v", second.Tokens)
	}
}

func TestMaskIdenticalSubstringsShareToken(t *testing.T) {
	m := New()

	res := m.Mask("send to john.doe@acme.com; cc john.doe@acme.com")

	var emailTokens []string
	for _, tok := range res.Tokens {
		if tok.Kind == KindEmail {
			emailTokens = append(emailTokens, tok.Token)
		}
	}
	if len(emailTokens) != 1 {
		t.Fatalf("expected exactly 1 email token for identical substrings, got %v", emailTokens)
	}
	if got := strings.Count(res.MaskedText, emailTokens[0]); got != 2 {
		t.Fatalf("expected token %s to appear twice, got %d in %q", emailTokens[0], got, res.MaskedText)
	}
}

func TestUnmaskLeavesUnknownPlaceholders(t *testing.T) {
	m := New()

	res := m.Mask("mail john.doe@acme.com")
	text := res.MaskedText + " and untouched [EMAIL_99]"
	got := m.Unmask(text, res.Tokens)

	if !strings.Contains(got, "john.doe@acme.com") {
		t.Errorf("known token not restored: %q", got)
	}
	if !strings.Contains(got, "[EMAIL_99]") {
		t.Errorf("unknown placeholder was altered: %q", got)
	}
}

func TestContainsSensitive(t *testing.T) {
	m := New()

	if !m.ContainsSensitive("reach me at jane@corp.id") {
		t.Error("email not detected")
	}
	if m.ContainsSensitive("critical findings 2024") {
		t.Error("false positive on plain query")
	}
	if m.ContainsSensitive("[EMAIL_1] already masked") {
		t.Error("placeholder counted as sensitive")
	}
}
