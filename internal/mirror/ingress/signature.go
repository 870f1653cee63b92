package ingress

import (
	"context"
	"crypto"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"sync"

	"github.com/dmitrijs2005/s3mirror/internal/common"
	"github.com/dmitrijs2005/s3mirror/internal/netx"
)

// defaultCertHostPattern restricts SigningCertURL to the expected provider
// domains.
const defaultCertHostPattern = `^sns\.[a-z0-9\-]+\.amazonaws\.com(\.cn)?$`

const maxCertBytes = 64 << 10

// Validator checks push-message signatures against the certificate the
// envelope references. Fetched certificates are cached per URL.
type Validator struct {
	client      *http.Client
	hostPattern *regexp.Regexp

	mu    sync.Mutex
	certs map[string]*x509.Certificate
}

// NewValidator builds a validator. An empty hostPattern selects the default
// provider domains; client may be nil.
func NewValidator(client *http.Client, hostPattern string) (*Validator, error) {
	if hostPattern == "" {
		hostPattern = defaultCertHostPattern
	}
	re, err := regexp.Compile(hostPattern)
	if err != nil {
		return nil, fmt.Errorf("compile cert host pattern: %w", err)
	}
	return &Validator{
		client:      client,
		hostPattern: re,
		certs:       make(map[string]*x509.Certificate),
	}, nil
}

// Validate verifies the envelope signature. Every failure path returns an
// error wrapping common.ErrInvalidSignature so the caller can answer with a
// single status.
func (v *Validator) Validate(ctx context.Context, env *Envelope) error {
	cert, err := v.certificate(ctx, env.SigningCertURL)
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrInvalidSignature, err)
	}

	sig, err := base64.StdEncoding.DecodeString(env.Signature)
	if err != nil {
		return fmt.Errorf("%w: decode signature: %v", common.ErrInvalidSignature, err)
	}

	pub, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return fmt.Errorf("%w: signing cert does not carry an RSA key", common.ErrInvalidSignature)
	}

	// SignatureVersion 1 signs with SHA1, version 2 with SHA256. The
	// verification is done directly against the public key: x509's
	// CheckSignature refuses SHA1 outright on current toolchains.
	payload := []byte(env.stringToSign())
	var verifyErr error
	if env.SignatureVersion == "2" {
		digest := sha256.Sum256(payload)
		verifyErr = rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest[:], sig)
	} else {
		digest := sha1.Sum(payload)
		verifyErr = rsa.VerifyPKCS1v15(pub, crypto.SHA1, digest[:], sig)
	}
	if verifyErr != nil {
		return fmt.Errorf("%w: %v", common.ErrInvalidSignature, verifyErr)
	}
	return nil
}

func (v *Validator) certificate(ctx context.Context, certURL string) (*x509.Certificate, error) {
	if err := v.checkCertURL(certURL); err != nil {
		return nil, err
	}

	v.mu.Lock()
	cached, ok := v.certs[certURL]
	v.mu.Unlock()
	if ok {
		return cached, nil
	}

	raw, err := netx.FetchURL(ctx, v.client, certURL, maxCertBytes)
	if err != nil {
		return nil, fmt.Errorf("fetch signing cert: %w", err)
	}

	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("signing cert at %s is not PEM", certURL)
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse signing cert: %w", err)
	}

	v.mu.Lock()
	v.certs[certURL] = cert
	v.mu.Unlock()

	return cert, nil
}

func (v *Validator) checkCertURL(certURL string) error {
	u, err := url.Parse(certURL)
	if err != nil {
		return fmt.Errorf("parse signing cert url: %w", err)
	}
	if u.Scheme != "https" {
		return fmt.Errorf("signing cert url %s is not https", certURL)
	}
	if !v.hostPattern.MatchString(u.Hostname()) {
		return fmt.Errorf("signing cert host %q not allowed", u.Hostname())
	}
	return nil
}
