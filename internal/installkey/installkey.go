// Package installkey implements the vendor's app-installation identity: a
// P-256 keypair plus a derived 32-byte secret, registered once with the
// cloud and used to sign every subsequent API request.
package installkey

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/google/uuid"
)

const secretSize = 32

var ErrBadSecret = errors.New("installkey: secret must be 32 bytes")

// Key is the per-installation identity. It is generated locally on first
// login and persisted alongside the account credentials.
type Key struct {
	Secret         []byte
	PrivateKey     *ecdsa.PrivateKey
	InstallationID string
}

// Generate creates a fresh installation key with a random UUID identity.
// The secret is derived from the identity and public key so the server can
// reproduce the binding during registration.
func Generate() (*Key, error) {
	return generate(uuid.NewString())
}

func generate(installationID string) (*Key, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("installkey: generate private key: %w", err)
	}

	pubB64 := base64.StdEncoding.EncodeToString(publicPoint(priv))

	instHash := sha256.Sum256([]byte(installationID))
	instHashB64 := base64.StdEncoding.EncodeToString(instHash[:])

	// The secret binds the installation id to the public key:
	// sha256(installation_id.pub_b64.sha256(installation_id)_b64)
	triple := installationID + "." + pubB64 + "." + instHashB64
	secret := sha256.Sum256([]byte(triple))

	return &Key{
		Secret:         secret[:],
		PrivateKey:     priv,
		InstallationID: installationID,
	}, nil
}

// PublicKeyB64 returns the uncompressed P-256 public point, base64-encoded,
// as expected by the registration endpoint.
func (k *Key) PublicKeyB64() string {
	return base64.StdEncoding.EncodeToString(publicPoint(k.PrivateKey))
}

// BaseString is the registration proof input:
// installation_id.sha256(public_point)_b64.
func (k *Key) BaseString() string {
	sum := sha256.Sum256(publicPoint(k.PrivateKey))
	return k.InstallationID + "." + base64.StdEncoding.EncodeToString(sum[:])
}

// Proof runs the vendor's custom proof algorithm over base using the
// 32-byte secret: each input byte is XORed into the work buffer at a
// position derived from its value, rotated left by a neighbouring byte's
// low bits, and the final buffer is hashed.
func (k *Key) Proof(base string) (string, error) {
	return proof(base, k.Secret)
}

func proof(base string, secret []byte) (string, error) {
	if len(secret) != secretSize {
		return "", ErrBadSecret
	}

	work := make([]byte, secretSize)
	copy(work, secret)

	for _, b := range []byte(base) {
		idx := int(b) % secretSize
		shift := work[(idx+1)%secretSize] & 7

		x := b ^ work[idx]
		if shift != 0 {
			x = x<<shift | x>>(8-shift)
		}
		work[idx] = x
	}

	sum := sha256.Sum256(work)
	return base64.StdEncoding.EncodeToString(sum[:]), nil
}

// SignedHeaders produces the per-request headers the API requires from a
// registered installation: identity, timestamp, nonce, and an ECDSA
// signature over installation_id.nonce.timestamp.proof.
func (k *Key) SignedHeaders(now time.Time) (map[string]string, error) {
	nonce := uuid.NewString()
	timestamp := strconv.FormatInt(now.UnixMilli(), 10)

	proofInput := k.InstallationID + "." + nonce + "." + timestamp
	p, err := proof(proofInput, k.Secret)
	if err != nil {
		return nil, err
	}

	payload := proofInput + "." + p
	digest := sha256.Sum256([]byte(payload))
	sig, err := ecdsa.SignASN1(rand.Reader, k.PrivateKey, digest[:])
	if err != nil {
		return nil, fmt.Errorf("installkey: sign request: %w", err)
	}

	return map[string]string{
		"X-App-Installation-Id": k.InstallationID,
		"X-Timestamp":           timestamp,
		"X-Nonce":               nonce,
		"X-Request-Signature":   base64.StdEncoding.EncodeToString(sig),
	}, nil
}

func publicPoint(priv *ecdsa.PrivateKey) []byte {
	return elliptic.Marshal(elliptic.P256(), priv.PublicKey.X, priv.PublicKey.Y)
}

func privateFromScalar(d []byte) (*ecdsa.PrivateKey, error) {
	curve := elliptic.P256()
	k := new(big.Int).SetBytes(d)
	if k.Sign() <= 0 || k.Cmp(curve.Params().N) >= 0 {
		return nil, errors.New("installkey: private scalar out of range")
	}

	priv := &ecdsa.PrivateKey{D: k}
	priv.Curve = curve
	priv.X, priv.Y = curve.ScalarBaseMult(d)
	return priv, nil
}
