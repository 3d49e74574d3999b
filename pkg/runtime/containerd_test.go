package runtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseContainerID(t *testing.T) {
	cases := []struct {
		name   string
		input  string
		wantID string
		wantOK bool
	}{
		{"valid hex id", "containerd://abc123def456", "abc123def456", true},
		{"empty id", "containerd://", "", false},
		{"missing prefix", "docker://abc123", "", false},
		{"plain id", "abc123", "", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			id, ok := ParseContainerID(tc.input)
			assert.Equal(t, tc.wantOK, ok)
			if tc.wantOK {
				assert.Equal(t, tc.wantID, id)
			}
		})
	}
}
