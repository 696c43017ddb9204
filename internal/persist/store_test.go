package persist

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestOpenRejectsMalformedDSN covers the parse-before-connect path without
// requiring a live Postgres instance. The package has no connection-level
// tests; those would need a real database.
func TestOpenRejectsMalformedDSN(t *testing.T) {
	_, err := Open(context.Background(), Config{DSN: "not a valid dsn://::"})
	assert.Error(t, err)
}
