package i18n

import (
	"testing"

	"golang.org/x/text/language"
)

func TestNewMatchesLanguage(t *testing.T) {
	tests := []struct {
		lang string
		want language.Tag
	}{
		{lang: "", want: language.English},
		{lang: "en-US", want: language.English},
		{lang: "nl-BE", want: language.Dutch},
		{lang: "fr", want: language.English},
	}

	for _, tt := range tests {
		catalog, err := New(tt.lang, nil)
		if err != nil {
			t.Fatalf("New(%q) error: %v", tt.lang, err)
		}
		if got := catalog.Language(); got != tt.want {
			t.Fatalf("New(%q) language = %v, want %v", tt.lang, got, tt.want)
		}
	}
}

func TestTranslate(t *testing.T) {
	nl, err := New("nl", nil)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	if got := nl.Translate("contextMenuLabel"); got != "Bel geselecteerd nummer" {
		t.Fatalf("contextMenuLabel = %q", got)
	}
	if got := nl.Translate("noSuchKey"); got != "noSuchKey" {
		t.Fatalf("missing key = %q, want key itself", got)
	}
	if got := nl.Title("layerQueues"); got != "Wachtrijen" {
		t.Fatalf("Title(layerQueues) = %q, want Wachtrijen", got)
	}
}

func TestNewRejectsInvalidLanguage(t *testing.T) {
	if _, err := New("not a language!", nil); err == nil {
		t.Fatal("expected parse error")
	}
}
