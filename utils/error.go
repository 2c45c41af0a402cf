package utils

import "errors"

var ErrorRecordNotFound = errors.New("record not found")

// ErrorLockNotObtained maps to HTTP 409 at the handler layer.
var ErrorLockNotObtained = errors.New("could not obtain lock")
