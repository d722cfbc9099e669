package rwconn

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGetAttrs(t *testing.T) {
	assert := require.New(t)

	tcs := []struct {
		query    string
		expected attributes
	}{
		{
			query:    "SELECT 1",
			expected: attributes{},
		},
		{
			query: `
			-- @cache-ttl 30
			-- @cache-max-rows 10
			SELECT name, pages FROM books WHERE pages > ?
			`,
			expected: attributes{ttl: 30 * time.Second, maxRows: 10},
		},
		{
			query:    "/* @cache-skip */ SELECT now()",
			expected: attributes{skip: true},
		},
		{
			query:    "-- @cache-ttl 0\n-- @cache-max-rows x\nSELECT 1",
			expected: attributes{},
		},
		{
			query:    "-- @cache-ttlx 5\nSELECT 1",
			expected: attributes{},
		},
		{
			query:    "-- @cache-ttl\t15 @cache-skip\nSELECT 1",
			expected: attributes{ttl: 15 * time.Second, skip: true},
		},
	}

	for _, tc := range tcs {
		assert.Equal(tc.expected, getAttrs(tc.query), tc.query)
	}
}
