// Package i18n looks up display strings from the embedded locale catalogs.
package i18n

import (
	"embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

//go:embed locales/*.json
var locales embed.FS

// Supported lists the catalog languages. The first one is the fallback.
var Supported = []language.Tag{language.English, language.Dutch}

// Catalog translates keys for one language.
type Catalog struct {
	tag      language.Tag
	messages map[string]string
	fallback map[string]string
	title    cases.Caser
	log      *slog.Logger
}

// New loads the catalog best matching lang, e.g. "nl-BE" selects Dutch. An
// empty lang selects English.
func New(lang string, log *slog.Logger) (*Catalog, error) {
	if log == nil {
		log = slog.Default()
	}

	requested := language.English
	if strings.TrimSpace(lang) != "" {
		parsed, err := language.Parse(lang)
		if err != nil {
			return nil, fmt.Errorf("parse language %q: %w", lang, err)
		}
		requested = parsed
	}

	_, index, _ := language.NewMatcher(Supported).Match(requested)
	tag := Supported[index]

	messages, err := load(tag)
	if err != nil {
		return nil, err
	}
	fallback := messages
	if tag != Supported[0] {
		if fallback, err = load(Supported[0]); err != nil {
			return nil, err
		}
	}

	return &Catalog{
		tag:      tag,
		messages: messages,
		fallback: fallback,
		title:    cases.Title(tag),
		log:      log.With("component", "i18n", "language", tag.String()),
	}, nil
}

func load(tag language.Tag) (map[string]string, error) {
	base, _ := tag.Base()
	data, err := locales.ReadFile(path.Join("locales", base.String()+".json"))
	if err != nil {
		return nil, fmt.Errorf("read locale %s: %w", base, err)
	}

	var messages map[string]string
	if err := json.Unmarshal(data, &messages); err != nil {
		return nil, fmt.Errorf("parse locale %s: %w", base, err)
	}

	return messages, nil
}

// Language returns the selected catalog language.
func (c *Catalog) Language() language.Tag {
	return c.tag
}

// Translate returns the display string for key. Keys missing from the
// selected language fall back to English, then to the key itself.
func (c *Catalog) Translate(key string) string {
	if message, ok := c.messages[key]; ok {
		return message
	}
	if message, ok := c.fallback[key]; ok {
		return message
	}

	c.log.Debug("Missing translation", "key", key)
	return key
}

// Title is Translate with the result title-cased for the catalog language.
func (c *Catalog) Title(key string) string {
	return c.title.String(c.Translate(key))
}
