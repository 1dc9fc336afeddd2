// Package oauth1 signs outbound provider requests with OAuth 1.0a HMAC-SHA1.
package oauth1

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrMissingCredentials is returned when a consumer or token credential is empty.
var ErrMissingCredentials = errors.New("oauth1: missing consumer or token credentials")

const (
	signatureMethod = "HMAC-SHA1"
	version         = "1.0"
)

// Credentials bundles the application and user key pairs used to sign a request.
type Credentials struct {
	ConsumerKey    string
	ConsumerSecret string
	Token          string
	TokenSecret    string
}

func (c Credentials) validate() error {
	if c.ConsumerKey == "" || c.ConsumerSecret == "" || c.Token == "" {
		return ErrMissingCredentials
	}
	return nil
}

// Clock returns the current time.
type Clock func() time.Time

// NonceSource returns a fresh nonce for every signature.
type NonceSource func() string

// Option configures a Signer.
type Option func(*Signer)

// WithClock overrides the timestamp source.
func WithClock(clock Clock) Option {
	return func(s *Signer) {
		s.now = clock
	}
}

// WithNonceSource overrides the nonce generator.
func WithNonceSource(nonce NonceSource) Option {
	return func(s *Signer) {
		s.nonce = nonce
	}
}

// Signer builds OAuth 1.0a Authorization header values.
type Signer struct {
	now   Clock
	nonce NonceSource
}

// NewSigner constructs a Signer using wall-clock time and random nonces unless overridden.
func NewSigner(opts ...Option) *Signer {
	s := &Signer{
		now:   time.Now,
		nonce: randomNonce,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// randomNonce yields 32 hex characters.
func randomNonce() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Sign returns the Authorization header value for method and rawURL. Query
// parameters embedded in rawURL are merged with query before signing.
func (s *Signer) Sign(method, rawURL string, query url.Values, creds Credentials) (string, error) {
	if err := creds.validate(); err != nil {
		return "", err
	}

	baseURL, params, err := splitURL(rawURL, query)
	if err != nil {
		return "", err
	}

	oauthParams := [][2]string{
		{"oauth_consumer_key", creds.ConsumerKey},
		{"oauth_token", creds.Token},
		{"oauth_signature_method", signatureMethod},
		{"oauth_timestamp", strconv.FormatInt(s.now().Unix(), 10)},
		{"oauth_nonce", s.nonce()},
		{"oauth_version", version},
	}
	params = append(params, oauthParams...)

	base := baseString(method, baseURL, params)
	signature := sign(base, creds.ConsumerSecret, creds.TokenSecret)
	oauthParams = append(oauthParams, [2]string{"oauth_signature", signature})

	parts := make([]string, 0, len(oauthParams))
	for _, p := range oauthParams {
		parts = append(parts, p[0]+`="`+PercentEncode(p[1])+`"`)
	}
	return "OAuth " + strings.Join(parts, ", "), nil
}

// SignRequest sets the Authorization header of req.
func (s *Signer) SignRequest(req *http.Request, creds Credentials) error {
	header, err := s.Sign(req.Method, req.URL.String(), nil, creds)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", header)
	return nil
}

func splitURL(rawURL string, query url.Values) (string, [][2]string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", nil, err
	}

	params := make([][2]string, 0, len(query)+8)
	for key, values := range u.Query() {
		for _, v := range values {
			params = append(params, [2]string{key, v})
		}
	}
	for key, values := range query {
		for _, v := range values {
			params = append(params, [2]string{key, v})
		}
	}

	base := url.URL{
		Scheme: strings.ToLower(u.Scheme),
		Host:   strings.ToLower(u.Host),
		Path:   u.EscapedPath(),
	}
	if base.Path == "" {
		base.Path = "/"
	}
	return base.Scheme + "://" + base.Host + base.Path, params, nil
}

// baseString builds METHOD&enc(url)&enc(sorted params).
func baseString(method, baseURL string, params [][2]string) string {
	encoded := make([][2]string, len(params))
	for i, p := range params {
		encoded[i] = [2]string{PercentEncode(p[0]), PercentEncode(p[1])}
	}
	sort.Slice(encoded, func(i, j int) bool {
		if encoded[i][0] == encoded[j][0] {
			return encoded[i][1] < encoded[j][1]
		}
		return encoded[i][0] < encoded[j][0]
	})

	pairs := make([]string, len(encoded))
	for i, p := range encoded {
		pairs[i] = p[0] + "=" + p[1]
	}

	return strings.ToUpper(method) + "&" + PercentEncode(baseURL) + "&" + PercentEncode(strings.Join(pairs, "&"))
}

func sign(base, consumerSecret, tokenSecret string) string {
	key := PercentEncode(consumerSecret) + "&" + PercentEncode(tokenSecret)
	mac := hmac.New(sha1.New, []byte(key))
	mac.Write([]byte(base))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// PercentEncode applies RFC 3986 encoding: only unreserved characters pass through.
func PercentEncode(s string) string {
	const hex = "0123456789ABCDEF"
	var b strings.Builder
	b.Grow(len(s) * 3)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isUnreserved(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(hex[c>>4])
		b.WriteByte(hex[c&0x0F])
	}
	return b.String()
}

func isUnreserved(c byte) bool {
	switch {
	case 'A' <= c && c <= 'Z', 'a' <= c && c <= 'z', '0' <= c && c <= '9':
		return true
	case c == '-', c == '.', c == '_', c == '~':
		return true
	}
	return false
}
