package ingestion

import (
	"strings"

	"EqaLedger/internal/event"
)

// Authorizer decides admin rights at the edge. The core only trusts the
// Authorized flag an admin event carries.
type Authorizer struct {
	admins map[string]struct{}
}

func NewAuthorizer(addresses []string) *Authorizer {
	admins := make(map[string]struct{}, len(addresses))
	for _, a := range addresses {
		if a = strings.TrimSpace(a); a != "" {
			admins[a] = struct{}{}
		}
	}
	return &Authorizer{admins: admins}
}

func (a *Authorizer) IsAdmin(sender string) bool {
	_, ok := a.admins[sender]
	return ok
}

// Authorize overwrites the flag on admin events; whatever the sender
// claimed is discarded. Other events are left alone.
func (a *Authorizer) Authorize(evt event.Event) {
	admin, ok := evt.(event.AdminEvent)
	if !ok {
		return
	}
	admin.SetAuthorized(a.IsAdmin(admin.AdminSender()))
}
