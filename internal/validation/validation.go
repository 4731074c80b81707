package validation

import (
	"errors"
	"strings"
)

// MaxDatasetNameLen bounds dataset names accepted on the wire.
const MaxDatasetNameLen = 64

// ErrDatasetEmpty is returned when the name is empty or whitespace-only after trim.
var ErrDatasetEmpty = errors.New("dataset name is required")

// ErrDatasetTooLong is returned when the name exceeds MaxDatasetNameLen.
var ErrDatasetTooLong = errors.New("dataset name too long")

// ErrDatasetInvalidChars is returned when the name contains disallowed characters.
var ErrDatasetInvalidChars = errors.New("dataset name contains invalid characters")

// ValidateDatasetName trims and lower-cases input and restricts it to ASCII
// letters, digits, hyphen and underscore. Whether the dataset exists is left
// to the service layer.
func ValidateDatasetName(input string) (string, error) {
	s := strings.TrimSpace(input)
	if s == "" {
		return "", ErrDatasetEmpty
	}
	if len(s) > MaxDatasetNameLen {
		return "", ErrDatasetTooLong
	}
	for i := 0; i < len(s); i++ {
		if !isAllowedNameByte(s[i]) {
			return "", ErrDatasetInvalidChars
		}
	}
	return strings.ToLower(s), nil
}

func isAllowedNameByte(b byte) bool {
	switch {
	case b >= 'a' && b <= 'z', b >= 'A' && b <= 'Z', b >= '0' && b <= '9':
		return true
	case b == '-' || b == '_':
		return true
	}
	return false
}
