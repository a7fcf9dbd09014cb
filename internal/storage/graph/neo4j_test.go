package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeLinkTypeAcceptsIdentifiers(t *testing.T) {
	label, err := sanitizeLinkType("REFERENCES")
	assert.NoError(t, err)
	assert.Equal(t, "REFERENCES", label)
}

func TestSanitizeLinkTypeRejectsInjection(t *testing.T) {
	cases := []string{
		"REFERENCES]->(n) DETACH DELETE n //",
		"has space",
		"",
		"123_STARTS_NUMERIC",
	}
	for _, c := range cases {
		_, err := sanitizeLinkType(c)
		assert.Error(t, err, "expected %q to be rejected", c)
	}
}

func TestAdapterReportsUnavailableWithoutConnectivity(t *testing.T) {
	a := &Adapter{}
	assert.False(t, a.Available())
}
