// Package templates fills bracketed placeholders such as [firstName] from entry data.
// A placeholder with no matching field is left in the output as written.
package templates

import (
	"regexp"
	"strings"

	"CampaignMailer/internal/models"
)

var placeholder = regexp.MustCompile(`\[([^\[\]]+)\]`)

// Fill replaces each [key] in text. Keys match exactly first, then case-insensitively,
// ignoring surrounding spaces.
func Fill(text string, data map[string]string) string {
	if len(data) == 0 {
		return text
	}

	folded := make(map[string]string, len(data))
	for k, v := range data {
		folded[strings.ToLower(strings.TrimSpace(k))] = v
	}

	return placeholder.ReplaceAllStringFunc(text, func(token string) string {
		key := token[1 : len(token)-1]
		if v, ok := data[key]; ok {
			return v
		}
		if v, ok := folded[strings.ToLower(strings.TrimSpace(key))]; ok {
			return v
		}
		return token
	})
}

// Render fills the template's subject and body.
func Render(t *models.Template, data map[string]string) (subject, body string) {
	return Fill(t.Subject, data), Fill(t.Body, data)
}
