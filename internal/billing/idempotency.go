package billing

import "github.com/oklog/ulid/v2"

// NewIdempotencyKey returns a key to reuse across every provisioning attempt
// for one account, including later backfills.
func NewIdempotencyKey() string {
	return "signup_" + ulid.Make().String()
}
