package github

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/kms/types"
	"github.com/golang-jwt/jwt/v4"
)

// KMSClient defines the AWS API surface required for KMS signing.
type KMSClient interface {
	Sign(ctx context.Context, in *kms.SignInput, optFns ...func(*kms.Options)) (*kms.SignOutput, error)
}

// kmsSigningKey is the key passed to kmsSigningMethod.Sign. It carries the
// KMS client and key ARN in place of private key material.
type kmsSigningKey struct {
	ctx    context.Context
	client KMSClient
	arn    string
}

// kmsSigningMethod is an RS256 jwt.SigningMethod whose signatures are
// produced by AWS KMS.
type kmsSigningMethod struct{}

func (kmsSigningMethod) Alg() string {
	return jwt.SigningMethodRS256.Alg()
}

func (kmsSigningMethod) Verify(string, string, any) error {
	return errors.New("kms signing method cannot verify signatures")
}

func (kmsSigningMethod) Sign(signingString string, key any) (string, error) {
	k, ok := key.(kmsSigningKey)
	if !ok {
		return "", fmt.Errorf("kms signing method requires kmsSigningKey, got %T", key)
	}

	hash := sha256.Sum256([]byte(signingString))
	out, err := k.client.Sign(k.ctx, &kms.SignInput{
		KeyId:            aws.String(k.arn),
		Message:          hash[:],
		MessageType:      types.MessageTypeDigest,
		SigningAlgorithm: types.SigningAlgorithmSpecRsassaPkcs1V15Sha256,
	})
	if err != nil {
		return "", fmt.Errorf("KMS signing failed: %w", err)
	}

	return jwt.EncodeSegment(out.Signature), nil
}

// KMSSigner signs GitHub App JWTs with an asymmetric KMS key. It implements
// ghinstallation.Signer.
type KMSSigner struct {
	key kmsSigningKey
}

// NewAWSKMSSigner creates a KMSSigner using the default AWS configuration
// chain. ctx bounds every signing request made by the signer.
func NewAWSKMSSigner(ctx context.Context, arn string) (*KMSSigner, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("could not load AWS configuration: %w", err)
	}

	return NewKMSSigner(ctx, kms.NewFromConfig(cfg), arn), nil
}

// NewKMSSigner creates a KMSSigner using client.
func NewKMSSigner(ctx context.Context, client KMSClient, arn string) *KMSSigner {
	return &KMSSigner{
		key: kmsSigningKey{
			ctx:    ctx,
			client: client,
			arn:    arn,
		},
	}
}

func (s *KMSSigner) Sign(claims jwt.Claims) (string, error) {
	return jwt.NewWithClaims(kmsSigningMethod{}, claims).SignedString(s.key)
}
