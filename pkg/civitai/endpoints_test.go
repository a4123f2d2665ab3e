package civitai

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestImagesURL(t *testing.T) {
	raw := ImagesURL("https://civitai.com/", "alice", "", DefaultQuery())
	u, err := url.Parse(raw)
	require.NoError(t, err)

	assert.Equal(t, "civitai.com", u.Host)
	assert.Equal(t, ImagesEndpoint, u.Path)
	q := u.Query()
	assert.Equal(t, "alice", q.Get("username"))
	assert.Equal(t, "100", q.Get("limit"))
	assert.False(t, q.Has("cursor"))

	raw = ImagesURL("https://civitai.com", "alice", "12|34", Query{Limit: 1000})
	u, err = url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "12|34", u.Query().Get("cursor"))
	assert.Equal(t, "200", u.Query().Get("limit"))
	assert.False(t, u.Query().Has("nsfw"))
}

func TestIsValidUsername(t *testing.T) {
	for _, ok := range []string{"alice", "Bob_99", "some.one", "dash-name"} {
		assert.True(t, IsValidUsername(ok), ok)
	}
	for _, bad := range []string{"", "has space", "slash/name", "émile"} {
		assert.False(t, IsValidUsername(bad), bad)
	}
}

func TestSanitizeUsername(t *testing.T) {
	tests := map[string]string{
		"alice":                          "alice",
		"  @alice/ ":                     "alice",
		"https://civitai.com/user/alice": "alice",
		"https://civitai.com/user/alice/images?x=1": "alice",
		"https://civitai.com/models/123":            "",
		"":                                          "",
	}
	for in, want := range tests {
		assert.Equal(t, want, SanitizeUsername(in), "input %q", in)
	}
}
