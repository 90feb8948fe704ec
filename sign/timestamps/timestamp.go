// Package timestamps provides RFC 3161 timestamp support: requesting tokens
// from a time-stamping authority and verifying the tokens afterwards.
package timestamps

import (
	"bytes"
	"context"
	"crypto"
	"crypto/rand"
	"crypto/x509"
	"encoding/asn1"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/georgepadayatti/goasic/sign/cms"

	// Registers SHA3 digests with crypto.Hash.
	_ "golang.org/x/crypto/sha3"
)

// OIDs for timestamp structures
var (
	OIDTSTInfo = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 1, 4}
)

// Common errors
var (
	ErrTimestampFailed   = errors.New("timestamp request failed")
	ErrTimestampRejected = errors.New("timestamp request rejected")
	ErrInvalidTimestamp  = errors.New("invalid timestamp")
	ErrTimestampMismatch = errors.New("timestamp message imprint mismatch")
	ErrNonceMismatch     = errors.New("timestamp nonce mismatch")
)

// AlgorithmIdentifier represents an algorithm with parameters.
type AlgorithmIdentifier struct {
	Algorithm  asn1.ObjectIdentifier
	Parameters asn1.RawValue `asn1:"optional"`
}

// MessageImprint represents the hash of the data to timestamp.
type MessageImprint struct {
	HashAlgorithm AlgorithmIdentifier
	HashedMessage []byte
}

// TimeStampReq represents a timestamp request (RFC 3161).
type TimeStampReq struct {
	Version        int
	MessageImprint MessageImprint
	ReqPolicy      asn1.ObjectIdentifier `asn1:"optional"`
	Nonce          *big.Int              `asn1:"optional"`
	CertReq        bool                  `asn1:"optional,default:false"`
	Extensions     []Extension           `asn1:"optional,implicit,tag:0"`
}

// TimeStampResp represents a timestamp response (RFC 3161).
type TimeStampResp struct {
	Status         PKIStatusInfo
	TimeStampToken asn1.RawValue `asn1:"optional"`
}

// PKIStatusInfo represents the status of a PKI operation.
type PKIStatusInfo struct {
	Status       int
	StatusString []string       `asn1:"optional"`
	FailInfo     asn1.BitString `asn1:"optional"`
}

// TSTInfo represents the timestamp token info.
type TSTInfo struct {
	Version        int
	Policy         asn1.ObjectIdentifier
	MessageImprint MessageImprint
	SerialNumber   *big.Int
	GenTime        time.Time     `asn1:"generalized"`
	Accuracy       Accuracy      `asn1:"optional"`
	Ordering       bool          `asn1:"optional,default:false"`
	Nonce          *big.Int      `asn1:"optional"`
	TSA            asn1.RawValue `asn1:"optional,explicit,tag:0"`
	Extensions     []Extension   `asn1:"optional,implicit,tag:1"`
}

// Accuracy represents timestamp accuracy.
type Accuracy struct {
	Seconds int `asn1:"optional"`
	Millis  int `asn1:"optional,implicit,tag:0"`
	Micros  int `asn1:"optional,implicit,tag:1"`
}

// Extension represents an X.509 extension.
type Extension struct {
	ExtnID    asn1.ObjectIdentifier
	Critical  bool `asn1:"optional,default:false"`
	ExtnValue []byte
}

// TSPSource obtains timestamp tokens for a precomputed digest.
type TSPSource interface {
	GetTimeStampResponse(ctx context.Context, digestAlgorithm crypto.Hash, digest []byte) (*TimestampToken, error)
}

// TSPSourceFunc adapts a function to TSPSource.
type TSPSourceFunc func(ctx context.Context, digestAlgorithm crypto.Hash, digest []byte) (*TimestampToken, error)

// GetTimeStampResponse implements TSPSource.
func (f TSPSourceFunc) GetTimeStampResponse(ctx context.Context, digestAlgorithm crypto.Hash, digest []byte) (*TimestampToken, error) {
	return f(ctx, digestAlgorithm, digest)
}

// TimestampRequestOptions configures a timestamp request.
type TimestampRequestOptions struct {
	Policy       asn1.ObjectIdentifier
	IncludeNonce bool
	RequestCerts bool
}

// DefaultTimestampRequestOptions returns default options.
func DefaultTimestampRequestOptions() *TimestampRequestOptions {
	return &TimestampRequestOptions{
		IncludeNonce: true,
		RequestCerts: true,
	}
}

// HTTPTimestamper implements TSPSource against an RFC 3161 HTTP endpoint.
type HTTPTimestamper struct {
	URL        string
	HTTPClient *http.Client
	Username   string
	Password   string
	UserAgent  string
	Options    *TimestampRequestOptions
	Logger     *slog.Logger
}

// NewHTTPTimestamper creates a new HTTP timestamper.
func NewHTTPTimestamper(url string) *HTTPTimestamper {
	return &HTTPTimestamper{
		URL: url,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		Options: DefaultTimestampRequestOptions(),
	}
}

// SetCredentials sets authentication credentials.
func (t *HTTPTimestamper) SetCredentials(username, password string) {
	t.Username = username
	t.Password = password
}

// GetTimeStampResponse implements TSPSource.
func (t *HTTPTimestamper) GetTimeStampResponse(ctx context.Context, digestAlgorithm crypto.Hash, digest []byte) (*TimestampToken, error) {
	opts := t.Options
	if opts == nil {
		opts = DefaultTimestampRequestOptions()
	}
	req, nonce, err := CreateTimestampRequest(digestAlgorithm, digest, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	logger := t.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.DebugContext(ctx, "requesting timestamp", "url", t.URL, "digest_algorithm", digestAlgorithm.String())

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.URL, bytes.NewReader(req))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTimestampFailed, err)
	}
	httpReq.Header.Set("Content-Type", "application/timestamp-query")
	if t.UserAgent != "" {
		httpReq.Header.Set("User-Agent", t.UserAgent)
	}
	if t.Username != "" {
		httpReq.SetBasicAuth(t.Username, t.Password)
	}

	client := t.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTimestampFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: HTTP %d", ErrTimestampFailed, resp.StatusCode)
	}

	respData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTimestampFailed, err)
	}

	tokenBytes, err := ParseTimestampResponse(respData, digest, nonce)
	if err != nil {
		return nil, err
	}
	return ParseTimestampToken(tokenBytes)
}

// CreateTimestampRequest creates a DER-encoded timestamp request for digest.
// The returned nonce is nil when none was requested.
func CreateTimestampRequest(digestAlgorithm crypto.Hash, digest []byte, opts *TimestampRequestOptions) ([]byte, *big.Int, error) {
	oid, err := cms.OIDFromHash(digestAlgorithm)
	if err != nil {
		return nil, nil, err
	}
	if len(digest) != digestAlgorithm.Size() {
		return nil, nil, fmt.Errorf("digest length %d does not match %v", len(digest), digestAlgorithm)
	}

	req := TimeStampReq{
		Version: 1,
		MessageImprint: MessageImprint{
			HashAlgorithm: AlgorithmIdentifier{
				Algorithm:  oid,
				Parameters: asn1.RawValue{Tag: 5}, // NULL
			},
			HashedMessage: digest,
		},
		CertReq: opts.RequestCerts,
	}

	if len(opts.Policy) > 0 {
		req.ReqPolicy = opts.Policy
	}

	if opts.IncludeNonce {
		nonce, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 64))
		if err != nil {
			return nil, nil, err
		}
		req.Nonce = nonce
	}

	data, err := asn1.Marshal(req)
	return data, req.Nonce, err
}

// ParseTimestampResponse parses a timestamp response and checks it against
// the requested digest and nonce. It returns the encoded token.
func ParseTimestampResponse(respData []byte, digest []byte, nonce *big.Int) ([]byte, error) {
	var resp TimeStampResp
	if _, err := asn1.Unmarshal(respData, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTimestamp, err)
	}

	// 0 = granted, 1 = grantedWithMods
	if resp.Status.Status != 0 && resp.Status.Status != 1 {
		return nil, fmt.Errorf("%w: status %d", ErrTimestampRejected, resp.Status.Status)
	}

	tstInfo, err := ExtractTSTInfo(resp.TimeStampToken.FullBytes)
	if err != nil {
		return nil, err
	}

	if !bytes.Equal(tstInfo.MessageImprint.HashedMessage, digest) {
		return nil, ErrTimestampMismatch
	}
	if nonce != nil && tstInfo.Nonce != nil && nonce.Cmp(tstInfo.Nonce) != 0 {
		return nil, ErrNonceMismatch
	}

	return resp.TimeStampToken.FullBytes, nil
}

// ExtractTSTInfo extracts the TSTInfo from a timestamp token.
func ExtractTSTInfo(tokenData []byte) (*TSTInfo, error) {
	sd, err := cms.ParseSignedData(tokenData)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTimestamp, err)
	}
	if !sd.EncapContentInfo.EContentType.Equal(OIDTSTInfo) {
		return nil, fmt.Errorf("%w: unexpected content type %v", ErrInvalidTimestamp, sd.EncapContentInfo.EContentType)
	}
	content, err := sd.Content()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTimestamp, err)
	}

	var tstInfo TSTInfo
	if _, err := asn1.Unmarshal(content, &tstInfo); err != nil {
		return nil, fmt.Errorf("failed to parse TSTInfo: %w", err)
	}

	return &tstInfo, nil
}

// TimestampToken represents a parsed timestamp token.
type TimestampToken struct {
	Raw          []byte
	TSTInfo      *TSTInfo
	Certificates []*x509.Certificate
	SignerCert   *x509.Certificate
}

// ParseTimestampToken parses a timestamp token. The signer certificate is
// resolved from the embedded certificates when present.
func ParseTimestampToken(data []byte) (*TimestampToken, error) {
	tstInfo, err := ExtractTSTInfo(data)
	if err != nil {
		return nil, err
	}

	token := &TimestampToken{
		Raw:     bytes.Clone(data),
		TSTInfo: tstInfo,
	}

	sd, err := cms.ParseSignedData(data)
	if err != nil {
		return nil, err
	}
	token.Certificates = sd.ParsedCertificates()
	if si, err := sd.FirstSignerInfo(); err == nil {
		token.SignerCert, _ = sd.SignerCertificate(si)
	}

	return token, nil
}

// GenTime returns the generation time of the token.
func (t *TimestampToken) GenTime() time.Time {
	return t.TSTInfo.GenTime
}

// DigestAlgorithm returns the message imprint digest algorithm.
func (t *TimestampToken) DigestAlgorithm() (crypto.Hash, error) {
	return cms.HashFromOID(t.TSTInfo.MessageImprint.HashAlgorithm.Algorithm)
}

// VerifySignature checks the CMS signature of the token.
func (t *TimestampToken) VerifySignature() error {
	signer, err := cms.VerifySignedData(t.Raw)
	if err != nil {
		return err
	}
	if t.SignerCert == nil {
		t.SignerCert = signer
	}
	return nil
}

// VerifyImprint checks that the token covers data.
func (t *TimestampToken) VerifyImprint(data []byte) error {
	hashAlg, err := t.DigestAlgorithm()
	if err != nil {
		return err
	}
	h := hashAlg.New()
	h.Write(data)
	if !bytes.Equal(t.TSTInfo.MessageImprint.HashedMessage, h.Sum(nil)) {
		return ErrTimestampMismatch
	}
	return nil
}

// Digest hashes data with alg.
func Digest(alg crypto.Hash, data []byte) []byte {
	h := alg.New()
	h.Write(data)
	return h.Sum(nil)
}

// Timestamp hashes data with alg and requests a token for it from source.
func Timestamp(ctx context.Context, source TSPSource, alg crypto.Hash, data []byte) (*TimestampToken, error) {
	token, err := source.GetTimeStampResponse(ctx, alg, Digest(alg, data))
	if err != nil {
		return nil, err
	}
	if err := token.VerifyImprint(data); err != nil {
		return nil, err
	}
	return token, nil
}
