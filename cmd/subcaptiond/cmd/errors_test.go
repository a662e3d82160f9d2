package cmd

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsMigrationRequired(t *testing.T) {
	migErr := &migrationRequiredError{err: errors.New("tables missing")}
	if !IsMigrationRequired(migErr) {
		t.Error("expected migrationRequiredError to be detected")
	}
	if !IsMigrationRequired(fmt.Errorf("wrapped: %w", migErr)) {
		t.Error("expected wrapped migrationRequiredError to be detected")
	}
	if IsMigrationRequired(errors.New("some other fatal error")) {
		t.Error("expected ordinary error not to be detected as migration-required")
	}
}
