package handler

import (
	"encoding/base64"
	"errors"
	"fmt"
)

var errInvalidCursor = errors.New("invalid cursor")

// Job ids are listed in ascending order; a cursor holds the last id of the
// previous page.

func DecodeJobCursor(cursorStr string) (string, error) {
	if cursorStr == "" {
		return "", nil
	}

	decoded, err := base64.RawURLEncoding.DecodeString(cursorStr)
	if err != nil || len(decoded) == 0 {
		return "", fmt.Errorf("%w: %q", errInvalidCursor, cursorStr)
	}
	return string(decoded), nil
}

func EncodeJobCursor(lastID string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(lastID))
}
