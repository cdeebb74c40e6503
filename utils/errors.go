package utils

import "errors"

// PermError is an error that a rerun will not fix, such as bad configuration.
type PermError string

func (e PermError) Error() string {
	return string(e)
}

func (e PermError) IsPermanent() bool {
	return true
}

// IsPermanent reports whether any error in err's chain is a PermError.
func IsPermanent(err error) bool {
	var pe PermError
	return errors.As(err, &pe)
}
