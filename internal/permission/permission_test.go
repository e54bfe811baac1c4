package permission

import "testing"

func TestRoleHierarchy(t *testing.T) {
	roles := []Role{RoleSpectator, RolePlayer, RoleTrustedPlayer, RoleCoDM, RoleOwner}
	for i, lo := range roles {
		for j, hi := range roles {
			want := i <= j
			if got := AtLeast(hi, lo); got != want {
				t.Errorf("AtLeast(%s, %s) = %v, want %v", hi, lo, got, want)
			}
		}
	}
}

func TestSpectatorHasNoPermissions(t *testing.T) {
	if len(PermissionsFor(RoleSpectator)) != 0 {
		t.Fatalf("spectator should have the empty permission set, got %v", PermissionsFor(RoleSpectator))
	}
}

func TestOwnerHasEverything(t *testing.T) {
	owner := PermissionsFor(RoleOwner)
	for _, p := range AllPermissions {
		if !owner[p] {
			t.Errorf("owner missing permission %s", p)
		}
	}
}

func TestRoleSetsAreMonotonicallyIncreasing(t *testing.T) {
	chain := []Role{RoleSpectator, RolePlayer, RoleTrustedPlayer, RoleCoDM, RoleOwner}
	for i := 1; i < len(chain); i++ {
		lower := PermissionsFor(chain[i-1])
		higher := PermissionsFor(chain[i])
		for p := range lower {
			if !higher[p] {
				t.Errorf("%s has %s but %s (stronger) does not", chain[i-1], p, chain[i])
			}
		}
	}
}

func TestDiffOwnerToPlayerLosesAdminPermissions(t *testing.T) {
	gained, lost := Diff(RoleOwner, RolePlayer)
	if len(gained) != 0 {
		t.Errorf("expected no gained permissions demoting owner->player, got %v", gained)
	}
	lostSet := set(lost...)
	for _, p := range []Permission{ChangeRoles, DeleteSession, KickPlayers} {
		if !lostSet[p] {
			t.Errorf("expected %s among lost permissions, got %v", p, lost)
		}
	}
}

func TestDiffPlayerToCoDMGainsExpectedSet(t *testing.T) {
	gained, lost := Diff(RolePlayer, RoleCoDM)
	if len(lost) != 0 {
		t.Errorf("expected no lost permissions promoting player->co_dm, got %v", lost)
	}
	gainedSet := set(gained...)
	for _, p := range []Permission{CreateTokens, InvitePlayers, KickPlayers, ViewDMLayer} {
		if !gainedSet[p] {
			t.Errorf("expected %s among gained permissions, got %v", p, gained)
		}
	}
}

func TestEffectiveIncludesCustomGrants(t *testing.T) {
	eff := Effective(RolePlayer, []Permission{KickPlayers})
	if !eff[KickPlayers] {
		t.Fatal("expected custom grant to be present in effective set")
	}
	if !eff[ModifyOwnTokens] {
		t.Fatal("expected role permission to still be present in effective set")
	}
}

func TestValidRole(t *testing.T) {
	if ValidRole("legendary") {
		t.Fatal("unknown role should not validate")
	}
	if !ValidRole(RoleCoDM) {
		t.Fatal("co_dm should validate")
	}
}
