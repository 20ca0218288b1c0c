package rules

import (
	"time"

	"github.com/tobert/sshwarpd/pkg/models"
)

// cacheTTL is the lifetime of a room's cached enabled-rule list before it is
// reloaded from the store.
const cacheTTL = 60 * time.Second

type roomRulesCache struct {
	rules    []*models.Rule
	loadedAt time.Time
}

func (c *roomRulesCache) stale(now time.Time) bool {
	return c == nil || now.Sub(c.loadedAt) >= cacheTTL
}
