package tokens

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func TestNewCodec(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		secret    []byte
		wantErr   bool
		wantIsErr error
	}{
		{name: "valid", secret: testSecret},
		{name: "short-secret", secret: []byte("too-short"), wantErr: true, wantIsErr: ErrInvalidParameter},
		{name: "nil-secret", secret: nil, wantErr: true, wantIsErr: ErrInvalidParameter},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := NewCodec(tt.secret)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantIsErr)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, got)
		})
	}
}

func TestCodec_RoundTrip(t *testing.T) {
	t.Parallel()
	c, err := NewCodec(testSecret)
	require.NoError(t, err)

	tests := []struct {
		name    string
		payload []string
	}{
		{name: "identity-and-redirect", payload: []string{"mailto:a@example.com", "/home"}},
		{name: "single", payload: []string{"https://alice.example"}},
		{name: "empty-payload", payload: nil},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			tok, err := c.Issue(tt.payload, time.Minute)
			require.NoError(t, err)
			require.NotEmpty(t, tok)
			// must be embeddable in a query parameter as-is
			assert.NotContains(t, tok, "&")
			assert.NotContains(t, tok, "=")
			assert.NotContains(t, tok, " ")

			got, err := c.Verify(tok)
			require.NoError(t, err)
			assert.Equal(t, tt.payload, got)
		})
	}
}

func TestCodec_IssueInvalidTTL(t *testing.T) {
	t.Parallel()
	c, err := NewCodec(testSecret)
	require.NoError(t, err)
	_, err = c.Issue([]string{"x"}, 0)
	assert.ErrorIs(t, err, ErrInvalidParameter)
	_, err = c.Issue([]string{"x"}, -time.Second)
	assert.ErrorIs(t, err, ErrInvalidParameter)
}

func TestCodec_Expiry(t *testing.T) {
	t.Parallel()
	now := time.Now()
	c, err := NewCodec(testSecret, WithCodecClock(func() time.Time { return now }))
	require.NoError(t, err)

	tok, err := c.Issue([]string{"mailto:a@example.com", "/home"}, 15*time.Minute)
	require.NoError(t, err)

	_, err = c.Verify(tok)
	require.NoError(t, err)

	now = now.Add(16 * time.Minute)
	_, err = c.Verify(tok)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestCodec_TamperEveryByte(t *testing.T) {
	t.Parallel()
	c, err := NewCodec(testSecret)
	require.NoError(t, err)
	tok, err := c.Issue([]string{"mailto:a@example.com", "/home"}, time.Minute)
	require.NoError(t, err)

	for i := range tok {
		mutated := tok[:i] + "#" + tok[i+1:]
		got, err := c.Verify(mutated)
		require.Errorf(t, err, "byte %d: mutated token verified", i)
		assert.Nil(t, got)
		assert.Truef(t, errors.Is(err, ErrTokenMalformed) || errors.Is(err, ErrTokenTampered),
			"byte %d: want malformed or tampered, got %v", i, err)
	}
}

func TestCodec_TamperedPayload(t *testing.T) {
	t.Parallel()
	c, err := NewCodec(testSecret)
	require.NoError(t, err)
	tok, err := c.Issue([]string{"mailto:a@example.com", "/home"}, time.Minute)
	require.NoError(t, err)

	// swap a character in the middle of the claims segment
	parts := strings.Split(tok, ".")
	require.Len(t, parts, 3)
	body := []byte(parts[1])
	mid := len(body) / 2
	if body[mid] == 'A' {
		body[mid] = 'Q'
	} else {
		body[mid] = 'A'
	}
	mutated := parts[0] + "." + string(body) + "." + parts[2]

	_, err = c.Verify(mutated)
	require.Error(t, err)
	assert.Truef(t, errors.Is(err, ErrTokenTampered) || errors.Is(err, ErrTokenMalformed),
		"want tampered or malformed, got %v", err)
}

func TestCodec_WrongSecret(t *testing.T) {
	t.Parallel()
	issuer, err := NewCodec(testSecret)
	require.NoError(t, err)
	verifier, err := NewCodec([]byte("fedcba9876543210fedcba9876543210"))
	require.NoError(t, err)

	tok, err := issuer.Issue([]string{"mailto:a@example.com"}, time.Minute)
	require.NoError(t, err)

	_, err = verifier.Verify(tok)
	assert.ErrorIs(t, err, ErrTokenTampered)
}

func TestCodec_Malformed(t *testing.T) {
	t.Parallel()
	c, err := NewCodec(testSecret)
	require.NoError(t, err)
	tests := []struct {
		name  string
		token string
	}{
		{name: "empty", token: ""},
		{name: "garbage", token: "not-a-token"},
		{name: "two-segments", token: "aaaa.bbbb"},
		{name: "whitespace", token: "   "},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := c.Verify(tt.token)
			assert.ErrorIs(t, err, ErrTokenMalformed)
		})
	}
}

func TestCodec_NonceUnique(t *testing.T) {
	t.Parallel()
	c, err := NewCodec(testSecret)
	require.NoError(t, err)
	a, err := c.Issue([]string{"x"}, time.Minute)
	require.NoError(t, err)
	b, err := c.Issue([]string{"x"}, time.Minute)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}
