package pseudonym

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte(strings.Repeat("s", 32))

func TestEncryptDecryptRoundTrip(t *testing.T) {
	c, err := NewCipher(testSecret, "session-1")
	require.NoError(t, err)

	for _, plain := range []string{"Budi Santoso", "3171234567890001", "Rp 1.500.000", ""} {
		ct, err := c.Encrypt(plain)
		require.NoError(t, err)
		got, err := c.Decrypt(ct)
		require.NoError(t, err)
		assert.Equal(t, plain, got)
	}
}

func TestCiphertextsDifferPerCall(t *testing.T) {
	c, err := NewCipher(testSecret, "session-1")
	require.NoError(t, err)

	a, err := c.Encrypt("Budi Santoso")
	require.NoError(t, err)
	b, err := c.Encrypt("Budi Santoso")
	require.NoError(t, err)

	// Fresh IV per encryption: same plaintext, different ciphertext.
	assert.NotEqual(t, a, b)
}

func TestCrossSessionKeyIsolation(t *testing.T) {
	c1, err := NewCipher(testSecret, "session-1")
	require.NoError(t, err)
	c2, err := NewCipher(testSecret, "session-2")
	require.NoError(t, err)

	ct, err := c1.Encrypt("Budi Santoso")
	require.NoError(t, err)

	// s2's key material cannot decrypt s1's row.
	_, err = c2.Decrypt(ct)
	assert.Error(t, err)

	// Lookup hashes differ per session too.
	assert.NotEqual(t, c1.LookupHash("Budi Santoso"), c2.LookupHash("Budi Santoso"))
}

func TestLookupHashDeterministicWithinSession(t *testing.T) {
	c, err := NewCipher(testSecret, "session-1")
	require.NoError(t, err)

	assert.Equal(t, c.LookupHash("Budi"), c.LookupHash("Budi"))
	assert.NotEqual(t, c.LookupHash("Budi"), c.LookupHash("Siti"))
}

func TestShortSecretRejected(t *testing.T) {
	_, err := NewCipher([]byte("short"), "s")
	assert.Error(t, err)
}

func TestAlphaSeq(t *testing.T) {
	cases := map[int]string{
		1: "A", 2: "B", 26: "Z", 27: "AA", 28: "AB", 52: "AZ", 53: "BA", 703: "AAA",
	}
	for n, want := range cases {
		assert.Equal(t, want, alphaSeq(n), "alphaSeq(%d)", n)
	}
}

func TestPseudonymFormats(t *testing.T) {
	assert.Equal(t, "Person_A", pseudonymFor(KindPerson, 1))
	assert.Equal(t, "Person_AA", pseudonymFor(KindPerson, 27))
	assert.Equal(t, "ID_001", pseudonymFor(KindID, 1))
	assert.Equal(t, "ID_012", pseudonymFor(KindID, 12))
	assert.Equal(t, "Amount_003", pseudonymFor(KindAmount, 3))
}
