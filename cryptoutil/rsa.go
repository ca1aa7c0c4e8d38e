// Package cryptoutil implements the crypto port of spec.md §6: RSA
// with PKCS#1 v1.5 padding, used to encrypt the host's random
// challenge with the guest's public key and decrypt it again with the
// matching private key. It is deliberately built on the standard
// library's crypto/rsa and crypto/rand: no library in the retrieval
// pack offers anything beyond what crypto/rsa already provides for
// PKCS#1 v1.5 encrypt/decrypt, and reaching for one would just be an
// extra dependency wrapping the same stdlib call (see DESIGN.md).
package cryptoutil

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"

	"github.com/jython234/osp/oerrors"
)

// Port is the crypto capability the handshake consumes: public-key
// encryption of the host's random challenge, and private-key
// decryption of the resulting ciphertext.
type Port interface {
	Encrypt(pub *rsa.PublicKey, plaintext []byte) ([]byte, error)
	Decrypt(priv *rsa.PrivateKey, ciphertext []byte) ([]byte, error)
}

// RSAPort implements Port with PKCS#1 v1.5 padding.
type RSAPort struct{}

// NewRSAPort returns the standard RSA PKCS#1 v1.5 implementation.
func NewRSAPort() RSAPort { return RSAPort{} }

// Encrypt encrypts plaintext for pub using PKCS#1 v1.5 padding.
func (RSAPort) Encrypt(pub *rsa.PublicKey, plaintext []byte) ([]byte, error) {
	ciphertext, err := rsa.EncryptPKCS1v15(rand.Reader, pub, plaintext)
	if err != nil {
		return nil, oerrors.Wrap(oerrors.KindAuth, err, "rsa encrypt")
	}
	return ciphertext, nil
}

// Decrypt decrypts ciphertext with priv using PKCS#1 v1.5 padding.
func (RSAPort) Decrypt(priv *rsa.PrivateKey, ciphertext []byte) ([]byte, error) {
	plaintext, err := rsa.DecryptPKCS1v15(rand.Reader, priv, ciphertext)
	if err != nil {
		return nil, oerrors.Wrap(oerrors.KindAuth, err, "rsa decrypt")
	}
	return plaintext, nil
}

// ErrNoPEMBlock is returned by ParsePublicKey when the TXT record
// bytes contain no PEM block.
var ErrNoPEMBlock = oerrors.New(oerrors.KindAuth, "no PEM block found in public key record")

// ParsePublicKey decodes a PEM-encoded RSA public key, the form a
// guest's DNS TXT record is expected to carry (spec.md §4.5 step 2).
func ParsePublicKey(pemBytes []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, ErrNoPEMBlock
	}

	if pub, err := x509.ParsePKCS1PublicKey(block.Bytes); err == nil {
		return pub, nil
	}

	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, oerrors.Wrap(oerrors.KindAuth, err, "parse public key")
	}
	pub, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, oerrors.New(oerrors.KindAuth, "public key is not RSA")
	}
	return pub, nil
}

// ParsePrivateKey decodes a PEM-encoded RSA private key. This is the
// one piece of parsing the core performs on an already-read byte
// blob; spec.md §1 keeps reading the key from a file path itself out
// of scope, as an external collaborator's job.
func ParsePrivateKey(pemBytes []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, ErrNoPEMBlock
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}

	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, oerrors.Wrap(oerrors.KindAuth, err, "parse private key")
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, oerrors.New(oerrors.KindAuth, "private key is not RSA")
	}
	return key, nil
}

// EncodePublicKeyPEM renders pub as a PEM-encoded PKCS#1 public key,
// the form published in a guest's _osp.<hostname> TXT record.
func EncodePublicKeyPEM(pub *rsa.PublicKey) []byte {
	block := &pem.Block{
		Type:  "RSA PUBLIC KEY",
		Bytes: x509.MarshalPKCS1PublicKey(pub),
	}
	return pem.EncodeToMemory(block)
}
