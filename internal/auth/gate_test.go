package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/amara-dev/backend-soko/internal/common"
)

func TestRoleOrdering(t *testing.T) {
	ordered := []Role{RoleCustomer, RoleMerchant, RoleSupport, RoleSuperAdmin}
	for i, lower := range ordered {
		for j, higher := range ordered {
			want := i >= j
			if got := lower.AtLeast(higher); got != want {
				t.Errorf("%s.AtLeast(%s) = %v, want %v", lower, higher, got, want)
			}
		}
	}
}

func TestUnknownRoleNeverQualifies(t *testing.T) {
	if Role("root").AtLeast(RoleCustomer) {
		t.Fatal("unknown role compared as sufficient")
	}
	if RoleSuperAdmin.AtLeast(Role("root")) {
		t.Fatal("unknown floor compared as satisfied")
	}
}

func TestParseRole(t *testing.T) {
	role, err := ParseRole("  Merchant ")
	if err != nil {
		t.Fatalf("ParseRole: %v", err)
	}
	if role != RoleMerchant {
		t.Fatalf("role = %s, want %s", role, RoleMerchant)
	}
	if _, err := ParseRole("admin"); err == nil {
		t.Fatal("expected error for role outside the closed set")
	}
}

func TestAuthorizeCommandTable(t *testing.T) {
	cases := []struct {
		role    Role
		cmd     Command
		allowed bool
	}{
		{RoleCustomer, CommandCreateOrder, true},
		{RoleCustomer, CommandInitiatePayment, true},
		{RoleCustomer, CommandAdjustInventory, false},
		{RoleCustomer, CommandRefundPayment, false},
		{RoleMerchant, CommandAdjustInventory, true},
		{RoleMerchant, CommandManageCoupons, true},
		{RoleMerchant, CommandRefundPayment, false},
		{RoleSupport, CommandRefundPayment, true},
		{RoleSupport, CommandAdjustInventory, true},
		{RoleSuperAdmin, CommandRefundPayment, true},
		{RoleSuperAdmin, CommandAdjustInventory, true},
	}
	for _, tc := range cases {
		err := Authorize(Actor{UserID: "u1", Role: tc.role}, tc.cmd)
		if tc.allowed && err != nil {
			t.Errorf("%s on %s: unexpected denial: %v", tc.role, tc.cmd, err)
		}
		if !tc.allowed && err == nil {
			t.Errorf("%s on %s: expected denial", tc.role, tc.cmd)
		}
	}
}

func TestAuthorizeUnknownCommandFailsClosed(t *testing.T) {
	err := Authorize(Actor{UserID: "u1", Role: RoleSuperAdmin}, Command("order.delete_everything"))
	if err == nil {
		t.Fatal("expected denial for command outside the table")
	}
	var appErr *common.AppError
	if !errors.As(err, &appErr) || appErr.Code != "FORBIDDEN" {
		t.Fatalf("err = %v, want FORBIDDEN AppError", err)
	}
}

func TestAuthorizeContext(t *testing.T) {
	ctx := common.WithUserID(context.Background(), "u1")
	ctx = common.WithRole(ctx, string(RoleSupport))

	actor, err := AuthorizeContext(ctx, CommandRefundPayment)
	if err != nil {
		t.Fatalf("AuthorizeContext: %v", err)
	}
	if actor.UserID != "u1" || actor.Role != RoleSupport {
		t.Fatalf("actor = %+v", actor)
	}

	if _, err := AuthorizeContext(context.Background(), CommandRefundPayment); err == nil {
		t.Fatal("expected unauthorized for anonymous context")
	}
}
