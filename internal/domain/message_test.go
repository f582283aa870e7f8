package domain

import "testing"

func TestNormalizePhone(t *testing.T) {
	cases := map[string]string{
		"5511999999999@c.us":           "5511999999999",
		"5511999999999@s.whatsapp.net": "5511999999999",
		"+55 (11) 99999-9999":          "5511999999999",
		"@c.us":                        "",
		"":                             "",
	}
	for in, want := range cases {
		if got := NormalizePhone(in); got != want {
			t.Errorf("NormalizePhone(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestIsGroupAddress(t *testing.T) {
	if !IsGroupAddress("120363025246125486@g.us") {
		t.Error("group address not detected")
	}
	if IsGroupAddress("5511999999999@c.us") {
		t.Error("direct chat flagged as group")
	}
}

func TestSessionKey(t *testing.T) {
	if got := SessionKey(NormalizePhone("5511999999999@c.us")); got != "whatsapp_5511999999999" {
		t.Errorf("unexpected session key %q", got)
	}
}

func TestAgentResult(t *testing.T) {
	ok := PlainText("oi")
	if !ok.OK() || ok.Kind.String() != "plain_text" {
		t.Errorf("unexpected plain text result %+v", ok)
	}
	fail := Failure("timeout")
	if fail.OK() || fail.Reason != "timeout" || fail.Kind.String() != "failure" {
		t.Errorf("unexpected failure result %+v", fail)
	}
	var zero AgentResult
	if zero.OK() || zero.Kind.String() != "unknown" {
		t.Errorf("zero result must not count as a reply")
	}
}
