// Package crypto holds the package-level cryptography of the transfer service:
// the download checksum and the OpenPGP symmetric envelope around file parts.
package crypto

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/openpgp"        //nolint:staticcheck // the service encrypts parts with OpenPGP symmetric messages
	"golang.org/x/crypto/openpgp/packet" //nolint:staticcheck // see above
	"golang.org/x/crypto/pbkdf2"
)

const (
	// Checksum derivation parameters
	checksumIterations = 1024
	checksumLength     = 32
)

var (
	ErrMissingKey       = errors.New("missing key code")
	ErrDecryptionFailed = errors.New("decryption failed")
)

// Checksum proves knowledge of the key code without sending it: the service
// compares it against the value computed when the package was created.
func Checksum(keyCode, packageCode string) string {
	key := pbkdf2.Key([]byte(keyCode), []byte(packageCode), checksumIterations, checksumLength, sha256.New)
	return hex.EncodeToString(key)
}

// Passphrase combines the server secret and the key code from the link.
func Passphrase(serverSecret, keyCode string) ([]byte, error) {
	if keyCode == "" {
		return nil, ErrMissingKey
	}
	return []byte(serverSecret + keyCode), nil
}

// Decrypt reads one symmetrically encrypted OpenPGP message from r and writes
// the plaintext to w. The integrity check is enforced by reading to EOF.
func Decrypt(w io.Writer, r io.Reader, passphrase []byte) (int64, error) {
	tried := false
	prompt := func(_ []openpgp.Key, symmetric bool) ([]byte, error) {
		if !symmetric || tried {
			return nil, ErrDecryptionFailed
		}
		tried = true
		return passphrase, nil
	}

	md, err := openpgp.ReadMessage(r, openpgp.EntityList{}, prompt, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}

	n, err := io.Copy(w, md.UnverifiedBody)
	if err != nil {
		return n, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	return n, nil
}

// Encrypt produces the envelope Decrypt accepts. The service does this on
// upload; sendgrab only needs it to build fixtures.
func Encrypt(plaintext, passphrase []byte) ([]byte, error) {
	var buf bytes.Buffer
	wc, err := openpgp.SymmetricallyEncrypt(&buf, passphrase, &openpgp.FileHints{IsBinary: true}, &packet.Config{
		DefaultCipher: packet.CipherAES256,
	})
	if err != nil {
		return nil, err
	}
	if _, err := wc.Write(plaintext); err != nil {
		return nil, err
	}
	if err := wc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
