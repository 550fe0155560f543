package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskEmail(t *testing.T) {
	cases := map[string]string{
		"":                    "",
		"ab":                  "***",
		"operator":            "o…r",
		" Alice@Example.com ": "a…@e….com",
		"a@b.io":              "a@b.io",
	}
	for in, want := range cases {
		assert.Equal(t, want, MaskEmail(in), in)
	}
}

func TestMaskEmails(t *testing.T) {
	assert.Equal(t, "o…@e….com,s…@e….org", MaskEmails([]string{"ops@example.com", "", "sec@example.org"}))
}
