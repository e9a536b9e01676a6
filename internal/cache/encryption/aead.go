package encryption

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/tink-crypto/tink-go-awskms/v3/integration/awskms"
	"github.com/tink-crypto/tink-go/v2/aead"
	"github.com/tink-crypto/tink-go/v2/insecurecleartextkeyset"
	"github.com/tink-crypto/tink-go/v2/keyset"
	"github.com/tink-crypto/tink-go/v2/tink"
)

// KeysetSource loads the keyset protecting cached credentials. Sources are
// called once at startup and again on every refresh.
type KeysetSource func(ctx context.Context) (*keyset.Handle, error)

// FileKeyset reads a cleartext JSON keyset from disk. Intended for local
// development and tests, where no KMS is available.
func FileKeyset(path string) KeysetSource {
	return func(_ context.Context) (*keyset.Handle, error) {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading keyset file: %w", err)
		}

		handle, err := insecurecleartextkeyset.Read(keyset.NewJSONReader(bytes.NewReader(data)))
		if err != nil {
			return nil, fmt.Errorf("parsing keyset file %q: %w", path, err)
		}
		return handle, nil
	}
}

// SecretsManagerKeyset reads a keyset stored in AWS Secrets Manager that is
// encrypted with an AWS KMS key. KMS is only used while loading; encryption
// itself is local.
//
// keysetURI format: aws-secretsmanager://secret-name
// kmsEnvelopeKeyURI format: aws-kms://arn:aws:kms:region:account:key/key-id
func SecretsManagerKeyset(keysetURI, kmsEnvelopeKeyURI string) KeysetSource {
	return func(ctx context.Context) (*keyset.Handle, error) {
		secretName, err := secretName(keysetURI)
		if err != nil {
			return nil, err
		}

		keyID, err := kmsKeyID(kmsEnvelopeKeyURI)
		if err != nil {
			return nil, err
		}

		kmsAEAD, err := awskms.NewAEADWithContext(ctx, keyID)
		if err != nil {
			return nil, fmt.Errorf("creating KMS AEAD: %w", err)
		}

		cfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("loading AWS config: %w", err)
		}

		result, err := secretsmanager.NewFromConfig(cfg).GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
			SecretId: &secretName,
		})
		if err != nil {
			return nil, fmt.Errorf("getting secret %q: %w", secretName, err)
		}
		if result.SecretString == nil {
			return nil, fmt.Errorf("secret %q has no string value", secretName)
		}

		reader := keyset.NewJSONReader(strings.NewReader(*result.SecretString))
		handle, err := keyset.ReadWithContext(ctx, reader, kmsAEAD, nil)
		if err != nil {
			return nil, fmt.Errorf("decrypting keyset: %w", err)
		}
		return handle, nil
	}
}

func secretName(uri string) (string, error) {
	const prefix = "aws-secretsmanager://"
	name, ok := strings.CutPrefix(uri, prefix)
	if !ok {
		return "", fmt.Errorf("invalid secrets manager URI %q: must start with %s", uri, prefix)
	}
	if name == "" {
		return "", fmt.Errorf("invalid secrets manager URI %q: secret name is empty", uri)
	}
	return name, nil
}

// kmsKeyID strips the scheme from a key URI: the KMS client adds it back.
func kmsKeyID(uri string) (string, error) {
	const prefix = "aws-kms://"
	keyID, ok := strings.CutPrefix(uri, prefix)
	if !ok {
		return "", fmt.Errorf("invalid KMS key URI %q: must start with %s", uri, prefix)
	}
	if keyID == "" {
		return "", fmt.Errorf("invalid KMS key URI %q: key ARN is empty", uri)
	}
	return keyID, nil
}

// NewAEAD builds and validates the AEAD primitive for a keyset.
func NewAEAD(handle *keyset.Handle) (tink.AEAD, error) {
	if handle == nil {
		return nil, errors.New("keyset handle is nil")
	}

	primitive, err := aead.New(handle)
	if err != nil {
		return nil, fmt.Errorf("creating AEAD primitive: %w", err)
	}

	if err := Validate(primitive); err != nil {
		return nil, fmt.Errorf("validating AEAD: %w", err)
	}
	return primitive, nil
}

// Validate performs an encryption round trip so that misconfiguration fails at
// startup instead of on the first cached credential.
func Validate(a tink.AEAD) error {
	plaintext := []byte("weixin-bridge-credential-check")
	aad := []byte("validation")

	ciphertext, err := a.Encrypt(plaintext, aad)
	if err != nil {
		return fmt.Errorf("validation encrypt failed: %w", err)
	}

	decrypted, err := a.Decrypt(ciphertext, aad)
	if err != nil {
		return fmt.Errorf("validation decrypt failed: %w", err)
	}

	if !bytes.Equal(plaintext, decrypted) {
		return errors.New("validation round-trip failed: plaintext mismatch")
	}
	return nil
}

// NewTestAEAD creates an AEAD over a throwaway keyset. Only use in tests: keys
// are not persisted or protected.
func NewTestAEAD() (tink.AEAD, error) {
	handle, err := keyset.NewHandle(aead.AES256GCMKeyTemplate())
	if err != nil {
		return nil, fmt.Errorf("creating test keyset handle: %w", err)
	}
	return NewAEAD(handle)
}
