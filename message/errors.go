package message

import "errors"

// ErrShortBuffer is returned by FromBytes when the input is smaller than
// sizeof(Message).
var ErrShortBuffer = errors.New("message: buffer too small")
