package reconciliation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeKey(t *testing.T) {
	tests := map[string]string{
		"Main Checking":     "mainchecking",
		"  main-checking! ": "mainchecking",
		"Visa (4242)":       "visa4242",
		"Épargne Été":       "épargneété",
		"現金":                "現金",
		"---":               "",
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizeKey(in), in)
	}
}
