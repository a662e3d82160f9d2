package cmd

import "errors"

// migrationRequiredError marks a bootstrap failure caused by missing
// schema, distinct from an ordinary fatal config error: main.go maps it
// to exit code 2 instead of 1.
type migrationRequiredError struct {
	err error
}

func (e *migrationRequiredError) Error() string { return e.err.Error() }
func (e *migrationRequiredError) Unwrap() error { return e.err }

// IsMigrationRequired reports whether err (or anything it wraps) is a
// migration-required failure.
func IsMigrationRequired(err error) bool {
	var m *migrationRequiredError
	return errors.As(err, &m)
}
