package authl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalizeIdentity(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{name: "bare-email", in: "user@example.com", want: "mailto:user@example.com"},
		{name: "email-case-folded", in: "User@Example.COM", want: "mailto:user@example.com"},
		{name: "mailto", in: "mailto:User@example.com", want: "mailto:user@example.com"},
		{name: "mailto-scheme-case-folded", in: "MAILTO:User@Example.com", want: "mailto:user@example.com"},
		{name: "webfinger-handle", in: "@alice@mastodon.example", want: "acct:alice@mastodon.example"},
		{name: "webfinger-domain-folded", in: "@alice@Mastodon.Example", want: "acct:alice@mastodon.example"},
		{name: "acct-passthrough", in: "acct:alice@mastodon.example", want: "acct:alice@mastodon.example"},
		{name: "acct-domain-folded", in: "acct:alice@Mastodon.Example", want: "acct:alice@mastodon.example"},
		{name: "schemeless-host", in: "example.com", want: "https://example.com"},
		{name: "schemeless-trailing-slash", in: "example.com/", want: "https://example.com"},
		{name: "https-trailing-slash", in: "https://example.com/", want: "https://example.com"},
		{name: "host-case-folded", in: "https://Example.COM", want: "https://example.com"},
		{name: "path-preserved", in: "https://example.com/~alice/", want: "https://example.com/~alice/"},
		{name: "profile-path", in: "mastodon.example/@alice", want: "https://mastodon.example/@alice"},
		{name: "test-scheme", in: "test:Alice", want: "test:Alice"},
		{name: "whitespace-trimmed", in: "  example.com  ", want: "https://example.com"},
		{name: "empty", in: "", wantErr: true},
		{name: "blank", in: "   ", wantErr: true},
		{name: "bare-scheme", in: "mailto:", wantErr: true},
		{name: "no-host", in: "https://", wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := CanonicalizeIdentity(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidIdentity)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCanonicalizeIdentity_Pure(t *testing.T) {
	t.Parallel()
	// repeated calls with the same input must agree, and canonical output
	// must be a fixed point: re-canonicalizing must never wrap another
	// scheme around an already-canonical identity
	for _, in := range []string{"Example.com/", "user@example.com", "@alice@mastodon.example", "test:Alice"} {
		first, err := CanonicalizeIdentity(in)
		require.NoError(t, err)
		second, err := CanonicalizeIdentity(in)
		require.NoError(t, err)
		assert.Equal(t, first, second, "input %q", in)

		again, err := CanonicalizeIdentity(first)
		require.NoError(t, err)
		assert.Equal(t, first, again, "input %q", in)
	}
}

func TestIsWebIdentity(t *testing.T) {
	t.Parallel()
	assert.True(t, isWebIdentity("https://example.com"))
	assert.True(t, isWebIdentity("http://example.com/~alice"))
	assert.False(t, isWebIdentity("mailto:a@example.com"))
	assert.False(t, isWebIdentity("acct:a@example.com"))
	assert.False(t, isWebIdentity("test:alice"))
	assert.False(t, isWebIdentity("https://"))
}
