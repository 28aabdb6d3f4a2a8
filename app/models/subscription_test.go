package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPlaceholderIDs(t *testing.T) {
	cus := PlaceholderCustomerID(7)
	sub := PlaceholderSubscriptionID(7)

	assert.True(t, len(cus) > len("cus_local_"))
	assert.Contains(t, cus, "cus_local_")
	assert.Contains(t, sub, "sub_local_")

	// Stable per user, distinct across users and kinds.
	assert.Equal(t, cus, PlaceholderCustomerID(7))
	assert.NotEqual(t, cus, PlaceholderCustomerID(8))
	assert.NotEqual(t, cus[len("cus_local_"):], sub[len("sub_local_"):])
}

func TestHasActivePeriod(t *testing.T) {
	now := time.Now()
	future := now.Add(time.Hour)
	past := now.Add(-time.Hour)

	s := &Subscription{}
	assert.False(t, s.HasActivePeriod(now))

	s.CurrentPeriodEnd = &future
	assert.True(t, s.HasActivePeriod(now))

	s.CurrentPeriodEnd = &past
	assert.False(t, s.HasActivePeriod(now))

	// Boundary is exclusive.
	s.CurrentPeriodEnd = &now
	assert.False(t, s.HasActivePeriod(now))
}
