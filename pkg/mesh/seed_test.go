package mesh

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSeed(t *testing.T) {
	testCases := []struct {
		in       string
		wantMAC  string
		wantAddr string
	}{
		{"aa:bb:cc:dd:ee:ff@127.0.0.1:41744", "aa:bb:cc:dd:ee:ff", "127.0.0.1:41744"},
		{"aa:bb:cc:dd:ee:ff@[::1]:41744", "aa:bb:cc:dd:ee:ff", "[::1]:41744"},
		{"aa:bb:cc:dd:ee:ff@::1:41744", "aa:bb:cc:dd:ee:ff", "[::1]:41744"},
		{"aa:bb:cc:dd:ee:ff@[127.0.0.1]:41744", "aa:bb:cc:dd:ee:ff", "127.0.0.1:41744"},
		{"aa:bb:cc:dd:ee:ff@vpn.example.net:1234", "aa:bb:cc:dd:ee:ff", "vpn.example.net:1234"},
	}
	for _, tc := range testCases {
		seed, err := ParseSeed(tc.in)
		require.NoError(t, err, "ParseSeed(%q)", tc.in)
		assert.Equal(t, tc.wantMAC, seed.MAC.String(), "ParseSeed(%q)", tc.in)
		assert.Equal(t, tc.wantAddr, seed.Addr, "ParseSeed(%q)", tc.in)
	}
}

func TestParseSeedErrors(t *testing.T) {
	bad := []string{
		"",
		"127.0.0.1:41744",                  // no MAC
		"nonsense@127.0.0.1:41744",         // bad MAC
		"aa:bb:cc:dd:ee:ff@127.0.0.1",      // no port
		"aa:bb:cc:dd:ee:ff@",               // empty address
		"aa:bb:cc:dd:ee:ff@:41744",         // empty host
		"aa:bb:cc:dd:ee:ff@127.0.0.1:",     // empty port
	}
	for _, in := range bad {
		_, err := ParseSeed(in)
		assert.Error(t, err, "ParseSeed(%q) should fail", in)
	}
}
