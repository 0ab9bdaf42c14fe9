package generation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int {
	return &v
}

func TestTimeoutPolicy_Resolve(t *testing.T) {
	policy := TimeoutPolicy{}

	t.Run("nil falls back to the capability default", func(t *testing.T) {
		timeout, err := policy.Resolve(nil, 60*time.Second)
		require.NoError(t, err)
		assert.Equal(t, 60*time.Second, timeout)
	})

	t.Run("tiny capability default is floored", func(t *testing.T) {
		timeout, err := policy.Resolve(nil, 0)
		require.NoError(t, err)
		assert.Equal(t, 100*time.Millisecond, timeout)
	})

	t.Run("zero and negative are rejected", func(t *testing.T) {
		_, err := policy.Resolve(intPtr(0), time.Minute)
		assert.ErrorIs(t, err, ErrInvalidTimeout)

		_, err = policy.Resolve(intPtr(-5000), time.Minute)
		assert.ErrorIs(t, err, ErrInvalidTimeout)
	})

	t.Run("legacy sentinel is replaced with the default override", func(t *testing.T) {
		timeout, err := policy.Resolve(intPtr(120000), time.Minute)
		require.NoError(t, err)
		assert.Equal(t, DefaultOverrideTimeout, timeout)
	})

	t.Run("legacy sentinel honors a configured override", func(t *testing.T) {
		configured := TimeoutPolicy{Override: 10 * time.Minute}
		timeout, err := configured.Resolve(intPtr(120000), time.Minute)
		require.NoError(t, err)
		assert.Equal(t, 10*time.Minute, timeout)
	})

	t.Run("values adjacent to the sentinel are literal", func(t *testing.T) {
		timeout, err := policy.Resolve(intPtr(119999), time.Minute)
		require.NoError(t, err)
		assert.Equal(t, 119999*time.Millisecond, timeout)

		timeout, err = policy.Resolve(intPtr(120001), time.Minute)
		require.NoError(t, err)
		assert.Equal(t, 120001*time.Millisecond, timeout)
	})

	t.Run("ordinary values are honored literally", func(t *testing.T) {
		timeout, err := policy.Resolve(intPtr(45000), time.Minute)
		require.NoError(t, err)
		assert.Equal(t, 45*time.Second, timeout)
	})
}
