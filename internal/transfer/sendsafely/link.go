package sendsafely

import (
	"github.com/sendgrab/sendgrab/internal/links"
)

// ParseLink splits a package link into its package code and key code. It
// shares its grammar with link extraction, so any link that extraction
// accepts parses here too.
func ParseLink(link string) (packageCode, keyCode string, err error) {
	return links.Parse(link)
}
