package staging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestName_RoundTrip(t *testing.T) {
	n := Name{
		Hostname:    "ingest-01",
		Stream:      "app-logs",
		Minute:      28481040,
		CustomParts: []string{"us-east", "prod"},
		Fingerprint: 123456789,
		ULID:        "01J8Z6K6X6Z6Z6Z6Z6Z6Z6Z6Z6",
	}

	back, err := ParseName(n.String())
	require.NoError(t, err)
	assert.Equal(t, n, back)
}

func TestName_RoundTripNoCustomParts(t *testing.T) {
	n := Name{
		Hostname:    "host",
		Stream:      "events",
		Minute:      1,
		Fingerprint: 9,
		ULID:        "01J8Z6K6X6Z6Z6Z6Z6Z6Z6Z6Z6",
	}
	back, err := ParseName(n.String())
	require.NoError(t, err)
	assert.Nil(t, back.CustomParts)
}

func TestParseName_RejectsMissingExtension(t *testing.T) {
	_, err := ParseName("host.stream.1.-.2.ulid")
	assert.Error(t, err)
}

func TestParseName_RejectsWrongFieldCount(t *testing.T) {
	_, err := ParseName("host.stream.1.part")
	assert.Error(t, err)
}

func TestSanitizePartValue(t *testing.T) {
	assert.Equal(t, "us-east", sanitizePartValue("us-east"))
	assert.Equal(t, "us-east-1", sanitizePartValue("us.east.1"))
	assert.Equal(t, "_", sanitizePartValue(""))
}
