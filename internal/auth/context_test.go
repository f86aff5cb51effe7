package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPrincipalRoundTripsThroughContext(t *testing.T) {
	p := &Principal{UserID: "alice", Roles: NewRoleSet(RoleTrainer)}
	ctx := WithPrincipal(context.Background(), p)

	got := PrincipalFromContext(ctx)
	require.Same(t, p, got)
}

func TestPrincipalFromContextAbsentReturnsNil(t *testing.T) {
	require.Nil(t, PrincipalFromContext(context.Background()))
}
