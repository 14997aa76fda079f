package wire

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseConnectionHeaderAbsent(t *testing.T) {
	h := http.Header{}
	got := ParseConnectionHeader(h)
	require.False(t, got.Present)
	require.False(t, got.KeepAlive)
}

func TestParseConnectionHeaderKeepAlive(t *testing.T) {
	h := http.Header{"Connection": []string{"keep-alive"}}
	got := ParseConnectionHeader(h)
	require.True(t, got.Present)
	require.True(t, got.KeepAlive)
}

func TestParseConnectionHeaderClose(t *testing.T) {
	h := http.Header{"Connection": []string{"close"}}
	got := ParseConnectionHeader(h)
	require.True(t, got.Present)
	require.False(t, got.KeepAlive)
}

func TestParseConnectionHeaderCaseInsensitiveWithOWS(t *testing.T) {
	h := http.Header{"Connection": []string{"Upgrade, Keep-Alive"}}
	got := ParseConnectionHeader(h)
	require.True(t, got.Present)
	require.True(t, got.KeepAlive)
}

func TestParseConnectionHeaderMultipleValues(t *testing.T) {
	h := http.Header{"Connection": []string{"foo", "keep-alive"}}
	got := ParseConnectionHeader(h)
	require.True(t, got.Present)
	require.True(t, got.KeepAlive)
}
