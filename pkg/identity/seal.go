package identity

import (
	"bytes"
	"fmt"
	"io"

	"filippo.io/age"
)

// sealer encrypts values at rest with an age passphrase.
type sealer struct {
	recipient *age.ScryptRecipient
	identity  *age.ScryptIdentity
}

func newSealer(passphrase string) (*sealer, error) {
	r, err := age.NewScryptRecipient(passphrase)
	if err != nil {
		return nil, fmt.Errorf("scrypt recipient: %w", err)
	}
	id, err := age.NewScryptIdentity(passphrase)
	if err != nil {
		return nil, fmt.Errorf("scrypt identity: %w", err)
	}
	return &sealer{recipient: r, identity: id}, nil
}

func (s *sealer) seal(plain []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, s.recipient)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(plain); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (s *sealer) open(sealed []byte) ([]byte, error) {
	r, err := age.Decrypt(bytes.NewReader(sealed), s.identity)
	if err != nil {
		return nil, err
	}
	return io.ReadAll(r)
}
