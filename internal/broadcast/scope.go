package broadcast

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/sitechfromgeorgia/georgian-distribution-system-sub010/internal/domain"
)

type scopeKind int

const (
	scopeSession scopeKind = iota
	scopeOrder
	scopeRole
	scopeFirehose
)

// Scope selects which events a subscription receives. Session scopes
// see the cart events of one session, order scopes the transitions of
// one order, role scopes see order transitions for their region
// (admins see everything). The firehose receives every event.
type Scope struct {
	kind   scopeKind
	id     string
	role   domain.Role
	region string
}

func ForSession(id uuid.UUID) Scope {
	return Scope{kind: scopeSession, id: id.String()}
}

func ForOrder(id uuid.UUID) Scope {
	return Scope{kind: scopeOrder, id: id.String()}
}

// ForRole subscribes a role to order transitions. An empty region
// matches all regions.
func ForRole(role domain.Role, region string) Scope {
	return Scope{kind: scopeRole, role: role, region: region}
}

func Firehose() Scope {
	return Scope{kind: scopeFirehose}
}

func (s Scope) String() string {
	switch s.kind {
	case scopeSession:
		return "session:" + s.id
	case scopeOrder:
		return "order:" + s.id
	case scopeRole:
		if s.region == "" {
			return "role:" + string(s.role)
		}
		return fmt.Sprintf("role:%s:%s", s.role, s.region)
	default:
		return "firehose"
	}
}

// Matches reports whether the event is visible in this scope.
func (s Scope) Matches(evt domain.Event) bool {
	switch s.kind {
	case scopeFirehose:
		return true
	case scopeSession:
		switch evt.(type) {
		case domain.ItemAdded, domain.ItemUpdated, domain.ItemRemoved, domain.CartCleared:
			return evt.ScopeKey() == s.id
		}
		return false
	case scopeOrder:
		if _, ok := evt.(domain.OrderStatusChanged); !ok {
			return false
		}
		return evt.ScopeKey() == s.id
	case scopeRole:
		if s.role == domain.RoleAdmin {
			return true
		}
		changed, ok := evt.(domain.OrderStatusChanged)
		if !ok {
			return false
		}
		return s.region == "" || changed.Region == s.region
	}
	return false
}
