package repositorycache

import (
	"reflect"
	"strings"
	"unicode"

	"github.com/jinzhu/inflection"
)

// regionNameFor derives the default region name for T: the pluralised
// snake_case name of the element type, e.g. *Product -> "products".
func regionNameFor[T any]() string {
	t := reflect.TypeOf((*T)(nil)).Elem()
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	name := toSnake(t.Name())
	if name == "" {
		return "records"
	}
	return inflection.Plural(name)
}

// toSnake lower-cases s and joins its words with underscores. Words break at
// lower-to-upper and letter-to-digit changes, before the last capital of an
// acronym ("HTTPRequest" is http_request) and at any punctuation, so reflected
// names such as "*pkg.User" or "Page[Item]" never leak key separators.
func toSnake(s string) string {
	return strings.ToLower(strings.Join(splitWords(s), "_"))
}

func splitWords(s string) []string {
	runes := []rune(s)
	var (
		words []string
		start = -1
	)
	flush := func(end int) {
		if start >= 0 && end > start {
			words = append(words, string(runes[start:end]))
		}
		start = -1
	}

	for i, r := range runes {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			flush(i)
			continue
		}
		if start >= 0 {
			prev := runes[i-1]
			switch {
			case unicode.IsUpper(r) && (unicode.IsLower(prev) || unicode.IsDigit(prev)):
				flush(i)
			case unicode.IsUpper(r) && unicode.IsUpper(prev) && i+1 < len(runes) && unicode.IsLower(runes[i+1]):
				flush(i)
			case unicode.IsDigit(r) && !unicode.IsDigit(prev):
				flush(i)
			}
		}
		if start < 0 {
			start = i
		}
	}
	flush(len(runes))
	return words
}
