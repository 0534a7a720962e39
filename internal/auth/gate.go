package auth

import (
	"context"
	"net/http"

	"github.com/amara-dev/backend-soko/internal/common"
)

// Command names an operation that mutates commerce state. Transport handlers
// and background jobs both authorize by command name, never by route.
type Command string

const (
	CommandCreateOrder     Command = "order.create_from_cart"
	CommandApplyCoupon     Command = "cart.apply_coupon"
	CommandCancelOrder     Command = "order.cancel"
	CommandInitiatePayment Command = "payment.initiate"
	CommandVerifyPayment   Command = "payment.verify"
	CommandRefundPayment   Command = "payment.refund"
	CommandAdjustInventory Command = "inventory.adjust"
	CommandBrowseOrders    Command = "order.browse_all"
	CommandManageCoupons   Command = "coupon.manage"
	CommandManageEndpoints Command = "notify.manage_endpoints"
)

// Capability is the privilege a command demands.
type Capability string

const (
	CapShop            Capability = "shop"
	CapOperateStore    Capability = "operate_store"
	CapResolveDisputes Capability = "resolve_disputes"
)

// commandCapability declares, in one place, what each command requires.
// Commands absent from the table are denied outright.
var commandCapability = map[Command]Capability{
	CommandCreateOrder:     CapShop,
	CommandApplyCoupon:     CapShop,
	CommandCancelOrder:     CapShop,
	CommandInitiatePayment: CapShop,
	CommandVerifyPayment:   CapShop,
	CommandRefundPayment:   CapResolveDisputes,
	CommandAdjustInventory: CapOperateStore,
	CommandBrowseOrders:    CapOperateStore,
	CommandManageCoupons:   CapOperateStore,
	CommandManageEndpoints: CapOperateStore,
}

// capabilityFloor maps each capability to the least role that holds it.
var capabilityFloor = map[Capability]Role{
	CapShop:            RoleCustomer,
	CapOperateStore:    RoleMerchant,
	CapResolveDisputes: RoleSupport,
}

// Actor is the authenticated caller as seen by the authorization gate.
type Actor struct {
	UserID string
	Role   Role
}

// ActorFromContext recovers the actor attached by the Authenticate middleware.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	id, ok := common.UserID(ctx)
	if !ok {
		return Actor{}, false
	}
	roleName, ok := common.RoleName(ctx)
	if !ok {
		return Actor{}, false
	}
	role, err := ParseRole(roleName)
	if err != nil {
		return Actor{}, false
	}
	return Actor{UserID: id, Role: role}, true
}

// Authorize is the single gate every command passes through before it
// executes. It fails closed: unknown commands, unknown capabilities and
// unknown roles are all denials.
func Authorize(actor Actor, cmd Command) error {
	capability, ok := commandCapability[cmd]
	if !ok {
		return common.NewAppError("FORBIDDEN", "unknown command", http.StatusForbidden, nil)
	}
	floor, ok := capabilityFloor[capability]
	if !ok {
		return common.NewAppError("FORBIDDEN", "capability has no role floor", http.StatusForbidden, nil)
	}
	if !actor.Role.AtLeast(floor) {
		return common.NewAppError("FORBIDDEN", "insufficient role for "+string(cmd), http.StatusForbidden, nil)
	}
	return nil
}

// AuthorizeContext authorizes the actor on the request context.
func AuthorizeContext(ctx context.Context, cmd Command) (Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return Actor{}, common.NewAppError("UNAUTHORIZED", "authentication required", http.StatusUnauthorized, nil)
	}
	if err := Authorize(actor, cmd); err != nil {
		return Actor{}, err
	}
	return actor, nil
}
