package conversations

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidCursor is returned when a cursor cannot be decoded or
// its signature does not verify.
var ErrInvalidCursor = errors.New("invalid cursor")

// Cursor is the opaque pagination token: the sort position of the
// last item of the previous page plus the total captured when the
// listing began.
type Cursor struct {
	UpdatedAt string `json:"u"`
	ID        string `json:"i"`
	Total     int    `json:"t,omitempty"`
}

func (l *Lister) encodeCursor(c Cursor) string {
	data, _ := json.Marshal(c)

	l.cursorMu.RLock()
	mac := hmac.New(sha256.New, l.cursorSecret)
	l.cursorMu.RUnlock()

	mac.Write(data)
	sig := mac.Sum(nil)
	return base64.RawURLEncoding.EncodeToString(data) + "." +
		base64.RawURLEncoding.EncodeToString(sig)
}

func (l *Lister) decodeCursor(s string) (Cursor, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 2 {
		return Cursor{}, fmt.Errorf("%w: bad format", ErrInvalidCursor)
	}

	data, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	sig, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}

	l.cursorMu.RLock()
	mac := hmac.New(sha256.New, l.cursorSecret)
	l.cursorMu.RUnlock()

	mac.Write(data)
	if !hmac.Equal(sig, mac.Sum(nil)) {
		return Cursor{}, fmt.Errorf("%w: signature mismatch", ErrInvalidCursor)
	}

	var c Cursor
	if err := json.Unmarshal(data, &c); err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	return c, nil
}
