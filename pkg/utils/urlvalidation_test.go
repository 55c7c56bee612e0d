package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateServiceURL(t *testing.T) {
	tests := []struct {
		url     string
		wantErr bool
	}{
		{url: "https://api.knowpay.example"},
		{url: "https://api.knowpay.example/api/v1"},
		{url: "http://localhost:8080"},
		{url: "http://127.0.0.1:8080"},
		{url: "http://[::1]:8080"},
		{url: "http://api.knowpay.example", wantErr: true},
		{url: "http://localhost.attacker.example", wantErr: true},
		{url: "http://127.0.0.1.nip.io", wantErr: true},
		{url: "ftp://api.knowpay.example", wantErr: true},
		{url: "api.knowpay.example", wantErr: true},
		{url: "https://", wantErr: true},
		{url: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			err := ValidateServiceURL(tt.url)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
