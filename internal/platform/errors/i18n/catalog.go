// Package i18n renders user-facing error messages for a locale.
package i18n

import (
	"bytes"
	"strconv"
	"sync"
	"text/template"

	i18ncatalog "github.com/louisbranch/fundraising.space/internal/platform/i18n/catalog"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Code is an error code. It mirrors errors.Code, which imports this package.
type Code = string

// Catalog renders the error messages of one locale. Templates see the error
// metadata and an amount function that groups minor-unit integers the way
// the locale writes them.
type Catalog struct {
	locale    string
	raw       map[Code]string
	templates map[Code]*template.Template
	printer   *message.Printer
}

// catalogs caches built catalogs by requested and resolved locale.
var catalogs sync.Map

// GetCatalog returns the catalog for locale, falling back through the
// embedded locales to en-US.
func GetCatalog(locale string) *Catalog {
	if c, ok := catalogs.Load(locale); ok {
		return c.(*Catalog)
	}
	resolved, messages := i18ncatalog.Default().NamespaceMessagesWithFallback(locale, "errors")
	c, _ := catalogs.LoadOrStore(resolved, NewCatalog(resolved, messages))
	catalogs.LoadOrStore(locale, c)
	return c.(*Catalog)
}

// NewCatalog parses messages for locale. A template that does not parse is
// rendered verbatim.
func NewCatalog(locale string, messages map[Code]string) *Catalog {
	tag, err := language.Parse(locale)
	if err != nil {
		tag = language.AmericanEnglish
	}
	c := &Catalog{
		locale:    locale,
		raw:       make(map[Code]string, len(messages)),
		templates: make(map[Code]*template.Template, len(messages)),
		printer:   message.NewPrinter(tag),
	}
	funcs := template.FuncMap{"amount": c.amount}
	for code, text := range messages {
		c.raw[code] = text
		if t, err := template.New(code).Funcs(funcs).Parse(text); err == nil {
			c.templates[code] = t
		}
	}
	return c
}

func (c *Catalog) Locale() string {
	return c.locale
}

// Format renders the message for code, or returns code when the locale has
// no message for it.
func (c *Catalog) Format(code Code, metadata map[string]string) string {
	raw, ok := c.raw[code]
	if !ok {
		return code
	}
	t, ok := c.templates[code]
	if !ok {
		return raw
	}
	if metadata == nil {
		metadata = map[string]string{}
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, metadata); err != nil {
		return raw
	}
	return buf.String()
}

func (c *Catalog) amount(raw string) string {
	value, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return raw
	}
	return c.printer.Sprintf("%d", value)
}
