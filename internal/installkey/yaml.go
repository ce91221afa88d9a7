package installkey

import (
	"encoding/base64"
	"fmt"
)

// wireKey is the YAML form of a Key. The private key is stored as the raw
// base64-encoded P-256 scalar, matching what the mobile app persists.
type wireKey struct {
	Secret         string `yaml:"secret"`
	PrivateKey     string `yaml:"private_key"`
	InstallationID string `yaml:"installation_id"`
}

func (k Key) MarshalYAML() (any, error) {
	return wireKey{
		Secret:         base64.StdEncoding.EncodeToString(k.Secret),
		PrivateKey:     base64.StdEncoding.EncodeToString(k.PrivateKey.D.Bytes()),
		InstallationID: k.InstallationID,
	}, nil
}

func (k *Key) UnmarshalYAML(unmarshal func(any) error) error {
	var w wireKey
	if err := unmarshal(&w); err != nil {
		return err
	}

	secret, err := base64.StdEncoding.DecodeString(w.Secret)
	if err != nil {
		return fmt.Errorf("installkey: decode secret: %w", err)
	}
	if len(secret) != secretSize {
		return ErrBadSecret
	}

	scalar, err := base64.StdEncoding.DecodeString(w.PrivateKey)
	if err != nil {
		return fmt.Errorf("installkey: decode private key: %w", err)
	}
	priv, err := privateFromScalar(scalar)
	if err != nil {
		return err
	}

	k.Secret = secret
	k.PrivateKey = priv
	k.InstallationID = w.InstallationID
	return nil
}
