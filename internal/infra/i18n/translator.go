package i18n

import (
	"embed"
	"fmt"
	"io/fs"
	"path"

	"gopkg.in/yaml.v3"
)

// DefaultLanguage backs every missing key.
const DefaultLanguage = "en"

//go:embed locales
var LocalesFS embed.FS

// Translator renders operator-facing messages in one language.
type Translator struct {
	lang         string
	translations map[string]string
	fallback     map[string]string
}

// NewTranslator loads locales/<lang>.yaml from fsys, with English underneath.
func NewTranslator(fsys fs.FS, lang string) (*Translator, error) {
	if lang == "" {
		lang = DefaultLanguage
	}
	fallback, err := load(fsys, DefaultLanguage)
	if err != nil {
		return nil, err
	}
	t := &Translator{lang: lang, translations: fallback, fallback: fallback}
	if lang != DefaultLanguage {
		if t.translations, err = load(fsys, lang); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// MustDefault returns the embedded English translator.
func MustDefault() *Translator {
	t, err := NewTranslator(LocalesFS, DefaultLanguage)
	if err != nil {
		panic(err)
	}
	return t
}

func load(fsys fs.FS, lang string) (map[string]string, error) {
	p := path.Join("locales", lang+".yaml")
	data, err := fs.ReadFile(fsys, p)
	if err != nil {
		return nil, fmt.Errorf("read translation file %s: %w", p, err)
	}
	return newTranslations(data)
}

func newTranslations(data []byte) (map[string]string, error) {
	var m map[string]string
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse translation file: %w", err)
	}
	return m, nil
}

func (t *Translator) Lang() string { return t.lang }

// T formats key with args. Unknown keys come back verbatim.
func (t *Translator) T(key string, args ...interface{}) string {
	format, ok := t.translations[key]
	if !ok {
		if format, ok = t.fallback[key]; !ok {
			return key
		}
	}
	if len(args) > 0 {
		return fmt.Sprintf(format, args...)
	}
	return format
}
