package media

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateMediaURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"cdn https", "https://ik.imagekit.io/pingup/messages/a.png?tr=q-auto", false},
		{"public ip", "http://203.0.113.10/a.png", false},
		{"ftp scheme", "ftp://cdn.example.com/a.png", true},
		{"javascript", "javascript:alert(1)", true},
		{"no host", "https:///a.png", true},
		{"localhost", "http://localhost:9000/a.png", true},
		{"loopback ip", "http://127.0.0.1/a.png", true},
		{"private ip", "http://10.1.2.3/a.png", true},
		{"link local metadata", "http://169.254.169.254/latest/meta-data", true},
		{"ipv6 loopback", "http://[::1]/a.png", true},
		{"container name", "http://storage:8080/a.png", true},
		{"unparseable", "http://%zz", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateMediaURL(tt.url)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
