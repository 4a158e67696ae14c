package sendsafely

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sendgrab/sendgrab/internal/failure"
)

func TestParseLink(t *testing.T) {
	tests := []struct {
		link        string
		packageCode string
		keyCode     string
	}{
		{"https://svc.example.com/pkg#abc123", "pkg", "abc123"},
		{"https://acme.sendsafely.com/receive/?thread=T1&packageCode=PC1#keyCode=KC1", "PC1", "KC1"},
		{"https://acme.sendsafely.com/receive/?packageCode=PC1#keyCode=KC1&x=y", "PC1", "KC1"},
		{"https://acme.sendsafely.com/p/PC2/#KC2", "PC2", "KC2"},
	}

	for _, tt := range tests {
		t.Run(tt.link, func(t *testing.T) {
			pc, kc, err := ParseLink(tt.link)
			require.NoError(t, err)
			assert.Equal(t, tt.packageCode, pc)
			assert.Equal(t, tt.keyCode, kc)
		})
	}
}

func TestParseLink_Invalid(t *testing.T) {
	for _, link := range []string{
		"",
		"not a link",
		"https://acme.sendsafely.com/receive/?packageCode=PC1",
		"https://acme.sendsafely.com/receive/#keyCode=KC1",
		"https://acme.sendsafely.com/#KC1",
		"https://acme.sendsafely.com/receive/?packageCode=PC1#thread=T1",
	} {
		t.Run(link, func(t *testing.T) {
			_, _, err := ParseLink(link)
			require.Error(t, err)
			assert.Equal(t, failure.LinkParse, failure.KindOf(err))
			assert.ErrorIs(t, err, failure.ErrInvalidLink)
		})
	}
}

func TestParseLink_ErrorDoesNotLeakKeyCode(t *testing.T) {
	for _, link := range []string{
		"https://svc.example.com/pkg#a=secret",
		"https://svc.example.com/receive/#keyCode=secret",
		"https://svc.example.com/#secret",
	} {
		t.Run(link, func(t *testing.T) {
			_, _, err := ParseLink(link)
			require.Error(t, err)
			assert.NotContains(t, err.Error(), "secret")
			assert.Contains(t, err.Error(), "#redacted")
		})
	}
}
