package shortener

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

const (
	MinCodeLength = 6
	MaxCodeLength = 8
)

var codePattern = regexp.MustCompile(`^[A-Za-z0-9]{6,8}$`)

// ValidCode reports whether s has the shape of a short code.
func ValidCode(s string) bool {
	return codePattern.MatchString(s)
}

// ValidateCode returns ErrInvalidArgument when code is not 6-8 alphanumeric characters.
func ValidateCode(code Code) error {
	if !ValidCode(string(code)) {
		return fmt.Errorf("%w: code must be %d-%d alphanumeric characters",
			ErrInvalidArgument, MinCodeLength, MaxCodeLength)
	}

	return nil
}

// ValidateDestination returns ErrInvalidArgument unless raw is an absolute
// http(s) URL with a host.
func ValidateDestination(raw string) error {
	if raw == "" {
		return fmt.Errorf("%w: url is required", ErrInvalidArgument)
	}

	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return fmt.Errorf("%w: url must be an absolute URL", ErrInvalidArgument)
	}

	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return nil
	default:
		return fmt.Errorf("%w: url scheme %q is not supported", ErrInvalidArgument, u.Scheme)
	}
}

// ValidateNew checks both halves of a create request.
func ValidateNew(code Code, destination string) error {
	if err := ValidateCode(code); err != nil {
		return err
	}

	return ValidateDestination(destination)
}
