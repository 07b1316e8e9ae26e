package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateFilePath(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		wantErr bool
		errMsg  string
	}{
		{name: "relative path", path: "data/pingup.db"},
		{name: "absolute path", path: "/var/lib/pingup/pingup.db"},
		{name: "dotted file name", path: "data/..pingup.db"},
		{name: "empty path", path: "", wantErr: true, errMsg: "cannot be empty"},
		{name: "traversal", path: "../../../etc/passwd", wantErr: true, errMsg: "directory traversal"},
		{name: "traversal in the middle", path: "data/../../etc/passwd", wantErr: true, errMsg: "directory traversal"},
		{name: "nul byte", path: "data/pingup.db\x00.txt", wantErr: true, errMsg: "NUL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateFilePath(tt.path)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestValidateFilePathWithBase(t *testing.T) {
	base := t.TempDir()

	assert.NoError(t, ValidateFilePathWithBase("uploads/a.png", base))
	assert.Error(t, ValidateFilePathWithBase("/etc/passwd", base))
	assert.Error(t, ValidateFilePathWithBase("../outside", base))
}
