package encryption

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/kms/types"

	"shop-auth/internal/config"
)

var (
	ErrEncryptionFailed = errors.New("encryption failed")
	ErrDecryptionFailed = errors.New("decryption failed")
)

// EncryptedData is the envelope stored alongside the identity record:
// the AES-GCM ciphertext plus the KMS-wrapped data key that produced it.
type EncryptedData struct {
	Ciphertext   []byte `json:"ct"`
	EncryptedDEK []byte `json:"dek"`
	KeyID        string `json:"kid"`
}

// EncryptionManager performs envelope encryption of sensitive fields
// (the clear-text phone number at rest). With KMS disabled it falls back
// to a process-local master key, which is enough for development: auth
// flows look identities up by phone hash and never need the plaintext.
type EncryptionManager struct {
	kmsClient *kms.Client
	config    *config.Config
	localKey  []byte
}

func NewEncryptionManager(cfg *config.Config, kmsClient *kms.Client) *EncryptionManager {
	em := &EncryptionManager{
		kmsClient: kmsClient,
		config:    cfg,
	}
	if !cfg.KMS.Enabled {
		em.localKey = make([]byte, 32)
		if _, err := rand.Read(em.localKey); err != nil {
			panic("failed to generate local encryption key: " + err.Error())
		}
	}
	return em
}

// EncryptField encrypts a sensitive value and returns the serialized envelope.
func (em *EncryptionManager) EncryptField(ctx context.Context, plaintext string) ([]byte, string, error) {
	dek, wrapped, keyID, err := em.dataKey(ctx)
	if err != nil {
		return nil, "", err
	}

	block, err := aes.NewCipher(dek)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}

	envelope := EncryptedData{
		Ciphertext:   gcm.Seal(nonce, nonce, []byte(plaintext), nil),
		EncryptedDEK: wrapped,
		KeyID:        keyID,
	}

	blob, err := json.Marshal(envelope)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	return blob, keyID, nil
}

// DecryptField reverses EncryptField.
func (em *EncryptionManager) DecryptField(ctx context.Context, blob []byte) (string, error) {
	var envelope EncryptedData
	if err := json.Unmarshal(blob, &envelope); err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}

	dek, err := em.unwrapKey(ctx, envelope.EncryptedDEK)
	if err != nil {
		return "", err
	}

	block, err := aes.NewCipher(dek)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}

	if len(envelope.Ciphertext) < gcm.NonceSize() {
		return "", ErrDecryptionFailed
	}
	nonce := envelope.Ciphertext[:gcm.NonceSize()]
	plaintext, err := gcm.Open(nil, nonce, envelope.Ciphertext[gcm.NonceSize():], nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	return string(plaintext), nil
}

func (em *EncryptionManager) dataKey(ctx context.Context) (plaintext, wrapped []byte, keyID string, err error) {
	if !em.config.KMS.Enabled {
		dek := make([]byte, 32)
		if _, err := rand.Read(dek); err != nil {
			return nil, nil, "", fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
		}
		wrapped, err := em.localWrap(dek)
		if err != nil {
			return nil, nil, "", err
		}
		return dek, wrapped, "local", nil
	}

	out, err := em.kmsClient.GenerateDataKey(ctx, &kms.GenerateDataKeyInput{
		KeyId:   aws.String(em.config.KMS.KeyID),
		KeySpec: types.DataKeySpecAes256,
	})
	if err != nil {
		return nil, nil, "", fmt.Errorf("failed to generate data key: %w", err)
	}
	return out.Plaintext, out.CiphertextBlob, em.config.KMS.KeyID, nil
}

func (em *EncryptionManager) unwrapKey(ctx context.Context, wrapped []byte) ([]byte, error) {
	if !em.config.KMS.Enabled {
		return em.localUnwrap(wrapped)
	}

	out, err := em.kmsClient.Decrypt(ctx, &kms.DecryptInput{
		CiphertextBlob: wrapped,
		KeyId:          aws.String(em.config.KMS.KeyID),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt data key: %w", err)
	}
	return out.Plaintext, nil
}

func (em *EncryptionManager) localWrap(dek []byte) ([]byte, error) {
	block, err := aes.NewCipher(em.localKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	return gcm.Seal(nonce, nonce, dek, nil), nil
}

func (em *EncryptionManager) localUnwrap(wrapped []byte) ([]byte, error) {
	block, err := aes.NewCipher(em.localKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	if len(wrapped) < gcm.NonceSize() {
		return nil, ErrDecryptionFailed
	}
	dek, err := gcm.Open(nil, wrapped[:gcm.NonceSize()], wrapped[gcm.NonceSize():], nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	return dek, nil
}
