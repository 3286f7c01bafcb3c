package signer

import (
	"context"
	encasn1 "encoding/asn1"
	"fmt"
	"math/big"
	"sync"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/kms"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/cryptobyte"
	"golang.org/x/crypto/cryptobyte/asn1"

	"github.com/socialrecovery/recovery-node/recoveryNode/config"
)

var (
	secp256k1N     = crypto.S256().Params().N
	secp256k1HalfN = new(big.Int).Rsh(secp256k1N, 1)
)

// KMSAPI is the part of the AWS KMS client used for signing.
type KMSAPI interface {
	GetPublicKeyWithContext(ctx aws.Context, input *kms.GetPublicKeyInput, opts ...request.Option) (*kms.GetPublicKeyOutput, error)
	SignWithContext(ctx aws.Context, input *kms.SignInput, opts ...request.Option) (*kms.SignOutput, error)
}

// KMSSigner signs with an asymmetric ECC_SECG_P256K1 key held in AWS KMS.
type KMSSigner struct {
	id     string
	keyID  string
	client KMSAPI
	logger zerolog.Logger

	mu      sync.Mutex
	address *ethcommon.Address
}

// NewKMSSignerFromConfig creates a KMS client with static credentials.
func NewKMSSignerFromConfig(id string, cfg config.AWSKMSConfig, logger zerolog.Logger) (*KMSSigner, error) {
	sess, err := session.NewSession(&aws.Config{
		Region:      aws.String(cfg.Region),
		Credentials: credentials.NewStaticCredentials(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}
	return NewKMSSigner(id, cfg.KeyID, kms.New(sess), logger), nil
}

// NewKMSSigner wraps an existing KMS client.
func NewKMSSigner(id, keyID string, client KMSAPI, logger zerolog.Logger) *KMSSigner {
	return &KMSSigner{
		id:     id,
		keyID:  keyID,
		client: client,
		logger: logger.With().Str("component", "kms_signer").Str("signer", id).Logger(),
	}
}

func (s *KMSSigner) ID() string { return s.id }

// Address derives the Ethereum address from the KMS public key and caches it.
func (s *KMSSigner) Address(ctx context.Context) (ethcommon.Address, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.address != nil {
		return *s.address, nil
	}

	out, err := s.client.GetPublicKeyWithContext(ctx, &kms.GetPublicKeyInput{KeyId: aws.String(s.keyID)})
	if err != nil {
		return ethcommon.Address{}, fmt.Errorf("failed to fetch public key: %w", err)
	}
	pubBytes, err := parseSubjectPublicKey(out.PublicKey)
	if err != nil {
		return ethcommon.Address{}, err
	}
	pub, err := crypto.UnmarshalPubkey(pubBytes)
	if err != nil {
		return ethcommon.Address{}, fmt.Errorf("invalid secp256k1 public key: %w", err)
	}

	addr := crypto.PubkeyToAddress(*pub)
	s.address = &addr
	s.logger.Info().Str("address", addr.Hex()).Msg("resolved KMS signer address")
	return addr, nil
}

// Sign asks KMS for a DER signature and converts it to the 65-byte Ethereum form.
func (s *KMSSigner) Sign(ctx context.Context, digest []byte) ([]byte, error) {
	if len(digest) != 32 {
		return nil, fmt.Errorf("digest must be 32 bytes, got %d", len(digest))
	}
	addr, err := s.Address(ctx)
	if err != nil {
		return nil, err
	}

	out, err := s.client.SignWithContext(ctx, &kms.SignInput{
		KeyId:            aws.String(s.keyID),
		Message:          digest,
		MessageType:      aws.String(kms.MessageTypeDigest),
		SigningAlgorithm: aws.String(kms.SigningAlgorithmSpecEcdsaSha256),
	})
	if err != nil {
		return nil, fmt.Errorf("KMS sign failed: %w", err)
	}

	r, sValue, err := parseDERSignature(out.Signature)
	if err != nil {
		return nil, err
	}
	if sValue.Cmp(secp256k1HalfN) > 0 {
		sValue = new(big.Int).Sub(secp256k1N, sValue)
	}

	sig := make([]byte, crypto.SignatureLength)
	r.FillBytes(sig[0:32])
	sValue.FillBytes(sig[32:64])

	for v := byte(0); v < 2; v++ {
		sig[crypto.RecoveryIDOffset] = v
		pub, err := crypto.SigToPub(digest, sig)
		if err == nil && crypto.PubkeyToAddress(*pub) == addr {
			sig[crypto.RecoveryIDOffset] = v + 27
			return sig, nil
		}
	}
	return nil, fmt.Errorf("KMS signature does not recover to %s", addr.Hex())
}

// HealthCheck verifies the key is reachable.
func (s *KMSSigner) HealthCheck(ctx context.Context) error {
	_, err := s.client.GetPublicKeyWithContext(ctx, &kms.GetPublicKeyInput{KeyId: aws.String(s.keyID)})
	if err != nil {
		return fmt.Errorf("KMS key %s unavailable: %w", s.keyID, err)
	}
	return nil
}

// parseSubjectPublicKey extracts the uncompressed point from a DER SubjectPublicKeyInfo.
func parseSubjectPublicKey(der []byte) ([]byte, error) {
	input := cryptobyte.String(der)
	var spki, algorithm cryptobyte.String
	var bits encasn1.BitString
	if !input.ReadASN1(&spki, asn1.SEQUENCE) ||
		!spki.ReadASN1(&algorithm, asn1.SEQUENCE) ||
		!spki.ReadASN1BitString(&bits) {
		return nil, fmt.Errorf("malformed SubjectPublicKeyInfo")
	}
	return bits.RightAlign(), nil
}

// parseDERSignature decodes an ASN.1 ECDSA-Sig-Value.
func parseDERSignature(der []byte) (*big.Int, *big.Int, error) {
	input := cryptobyte.String(der)
	var inner cryptobyte.String
	r, s := new(big.Int), new(big.Int)
	if !input.ReadASN1(&inner, asn1.SEQUENCE) ||
		!inner.ReadASN1Integer(r) ||
		!inner.ReadASN1Integer(s) ||
		!inner.Empty() {
		return nil, nil, fmt.Errorf("malformed DER signature")
	}
	return r, s, nil
}
