package cnst

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRedisClusterTypeConstants(t *testing.T) {
	assert.Equal(t, "sentinel", RedisClusterTypeSentinel)
	assert.Equal(t, "cluster", RedisClusterTypeCluster)
	assert.Equal(t, "single", RedisClusterTypeSingle)
}
