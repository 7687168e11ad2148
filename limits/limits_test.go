package limits

import (
	"errors"
	"strings"
	"testing"
)

// TestValidateMetadataSize tests the manifest size validation function
func TestValidateMetadataSize(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		wantErr error
	}{
		{"zero is valid", 0, nil},
		{"small size valid", 1024, nil},
		{"exactly at limit", MaxMetadataSize, nil},
		{"one over limit", MaxMetadataSize + 1, ErrMetadataTooLarge},
		{"negative size", -1, ErrMetadataTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateMetadataSize(tt.size)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("ValidateMetadataSize(%d) = %v, want nil", tt.size, err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateMetadataSize(%d) = %v, want %v", tt.size, err, tt.wantErr)
			}
		})
	}
}

// TestValidateChunkSize tests the chunk size validation function
func TestValidateChunkSize(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		wantErr error
	}{
		{"default chunk valid", DefaultChunkSize, nil},
		{"minimum chunk valid", MinChunkSize, nil},
		{"maximum chunk valid", MaxChunkSize, nil},
		{"below minimum", MinChunkSize - 1, ErrChunkSizeOutOfRange},
		{"above maximum", MaxChunkSize + 1, ErrChunkSizeOutOfRange},
		{"zero", 0, ErrChunkSizeOutOfRange},
		{"negative", -4096, ErrChunkSizeOutOfRange},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateChunkSize(tt.size)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("ValidateChunkSize(%d) = %v, want nil", tt.size, err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateChunkSize(%d) = %v, want %v", tt.size, err, tt.wantErr)
			}
		})
	}
}

// TestValidateConcurrency tests the worker pool size validation function
func TestValidateConcurrency(t *testing.T) {
	tests := []struct {
		name    string
		workers int
		wantErr error
	}{
		{"one worker valid", 1, nil},
		{"typical pool valid", 4, nil},
		{"maximum valid", MaxConcurrentTransfers, nil},
		{"zero workers", 0, ErrConcurrencyOutOfRange},
		{"negative workers", -2, ErrConcurrencyOutOfRange},
		{"above maximum", MaxConcurrentTransfers + 1, ErrConcurrencyOutOfRange},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateConcurrency(tt.workers)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("ValidateConcurrency(%d) = %v, want nil", tt.workers, err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateConcurrency(%d) = %v, want %v", tt.workers, err, tt.wantErr)
			}
		})
	}
}

// TestValidateFileName tests the file name length validation function
func TestValidateFileName(t *testing.T) {
	tests := []struct {
		name     string
		fileName string
		wantErr  error
	}{
		{"empty name valid", "", nil},
		{"short name valid", "report.pdf", nil},
		{"exactly at limit", strings.Repeat("a", MaxFileNameLength), nil},
		{"one over limit", strings.Repeat("a", MaxFileNameLength+1), ErrNameTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateFileName(tt.fileName)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("ValidateFileName() = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateFileName() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}
