package page

import (
	"bytes"
	"strings"
	"testing"
)

func TestClickDisablesIcon(t *testing.T) {
	p := New("https://crm.test", []string{"0101234567", " ", "0201234567"}, nil)

	if got := len(p.IconElements()); got != 2 {
		t.Fatalf("icons = %d, want 2", got)
	}

	number, err := p.Click("0101234567")
	if err != nil {
		t.Fatalf("Click error: %v", err)
	}
	if number != "0101234567" || !p.Icons()[0].Disabled() {
		t.Fatal("expected clicked icon to be disabled")
	}
	if _, err := p.Click("0101234567"); err == nil {
		t.Fatal("expected error clicking a disabled icon")
	}
	if _, err := p.Click("0301234567"); err == nil {
		t.Fatal("expected error for unknown number")
	}

	for _, element := range p.IconElements() {
		element.SetDisabled(false)
	}
	if p.Icons()[0].Disabled() {
		t.Fatal("expected icon re-enabled through its element")
	}
}

func TestCallStatusLifecycle(t *testing.T) {
	var out bytes.Buffer
	p := New("https://crm.test", nil, &out)

	p.UpdateCallStatus("ignored")
	if err := p.ShowCallStatus("0101234567", "dialing"); err != nil {
		t.Fatalf("ShowCallStatus error: %v", err)
	}
	p.UpdateCallStatus("connected")
	p.UpdateCallStatus("connected")

	status, ok := p.Status()
	if !ok || status.Status != "connected" {
		t.Fatalf("status = %#v, %v", status, ok)
	}

	p.RemoveCallStatus()
	p.RemoveCallStatus()
	if _, ok := p.Status(); ok {
		t.Fatal("expected dialog removed")
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	want := []string{"[call] 0101234567: dialing", "[call] 0101234567: connected", "[call] closed"}
	if len(lines) != len(want) {
		t.Fatalf("output = %q", out.String())
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Fatalf("line %d = %q, want %q", i, lines[i], want[i])
		}
	}

	if err := p.ShowCallStatus("", "dialing"); err == nil {
		t.Fatal("expected error without b number")
	}
}
