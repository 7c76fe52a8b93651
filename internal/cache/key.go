// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package cache

import (
	"fmt"
	"strings"
)

// Key builds the cache key for a candidate pool. The detailed-analysis flag
// is not part of it.
func Key(queryText, model string, count int) string {
	q := strings.Join(strings.Fields(strings.ToLower(queryText)), " ")
	return fmt.Sprintf("%s|%d|%s", model, count, q)
}
