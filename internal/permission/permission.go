// Package permission implements the fixed role/permission model: a closed
// enumeration of permission strings and a role -> permission-set table,
// ported line for line from the upstream permissions model this server's
// session semantics were distilled from.
package permission

// Permission is one atomic unit of authorization.
type Permission string

const (
	CreateTokens       Permission = "create_tokens"
	DeleteTokens       Permission = "delete_tokens"
	ModifyOwnTokens    Permission = "modify_own_tokens"
	ModifyAllTokens    Permission = "modify_all_tokens"
	ViewDMLayer        Permission = "view_dm_layer"
	ModifyDMLayer      Permission = "modify_dm_layer"
	ViewFogOfWar       Permission = "view_fog_of_war"
	ModifyFogOfWar     Permission = "modify_fog_of_war"
	UploadAssets       Permission = "upload_assets"
	DeleteAssets       Permission = "delete_assets"
	ManageAssets       Permission = "manage_assets"
	UseDrawingTools    Permission = "use_drawing_tools"
	UseMeasurementTools Permission = "use_measurement_tools"
	DeleteDrawings     Permission = "delete_drawings"
	ModifyTurnOrder    Permission = "modify_turn_order"
	RollDicePublic     Permission = "roll_dice_public"
	RollDicePrivate    Permission = "roll_dice_private"
	ViewPrivateRolls   Permission = "view_private_rolls"
	InvitePlayers      Permission = "invite_players"
	KickPlayers        Permission = "kick_players"
	BanPlayers         Permission = "ban_players"
	ChangeRoles        Permission = "change_roles"
	ModifySession      Permission = "modify_session"
	DeleteSession      Permission = "delete_session"
	CreateCharacters   Permission = "create_characters"
	EditOwnCharacters  Permission = "edit_own_characters"
	EditAllCharacters  Permission = "edit_all_characters"
	DeleteCharacters   Permission = "delete_characters"
)

// AllPermissions enumerates every permission in the closed set.
var AllPermissions = []Permission{
	CreateTokens, DeleteTokens, ModifyOwnTokens, ModifyAllTokens,
	ViewDMLayer, ModifyDMLayer, ViewFogOfWar, ModifyFogOfWar,
	UploadAssets, DeleteAssets, ManageAssets,
	UseDrawingTools, UseMeasurementTools, DeleteDrawings,
	ModifyTurnOrder, RollDicePublic, RollDicePrivate, ViewPrivateRolls,
	InvitePlayers, KickPlayers, BanPlayers, ChangeRoles,
	ModifySession, DeleteSession,
	CreateCharacters, EditOwnCharacters, EditAllCharacters, DeleteCharacters,
}

// Role is a named bundle of permissions assigned per (user, session).
type Role string

const (
	RoleSpectator      Role = "spectator"
	RolePlayer         Role = "player"
	RoleTrustedPlayer  Role = "trusted_player"
	RoleCoDM           Role = "co_dm"
	RoleOwner          Role = "owner"
)

// rank gives the hierarchy ordering used for comparative checks
// (spectator < player < trusted_player < co_dm < owner).
var rank = map[Role]int{
	RoleSpectator:     0,
	RolePlayer:        1,
	RoleTrustedPlayer: 2,
	RoleCoDM:          3,
	RoleOwner:         4,
}

// ValidRole reports whether r is one of the five fixed roles.
func ValidRole(r Role) bool {
	_, ok := rank[r]
	return ok
}

// AtLeast reports whether role r meets or exceeds the strength of min.
func AtLeast(r, min Role) bool {
	return rank[r] >= rank[min]
}

// Rank returns a role's position in the hierarchy, for callers that need to
// compare two roles directly rather than against a fixed threshold (e.g.
// "does this invitation's role outrank the member's current one?").
func Rank(r Role) int {
	return rank[r]
}

func set(perms ...Permission) map[Permission]bool {
	m := make(map[Permission]bool, len(perms))
	for _, p := range perms {
		m[p] = true
	}
	return m
}

func union(base map[Permission]bool, extra ...Permission) map[Permission]bool {
	m := make(map[Permission]bool, len(base)+len(extra))
	for p := range base {
		m[p] = true
	}
	for _, p := range extra {
		m[p] = true
	}
	return m
}

var (
	spectatorPerms     = set()
	playerPerms        = union(spectatorPerms,
		ModifyOwnTokens, UseDrawingTools, UseMeasurementTools,
		RollDicePublic, RollDicePrivate, CreateCharacters, EditOwnCharacters,
	)
	trustedPlayerPerms = union(playerPerms, UploadAssets, DeleteDrawings)
	coDMPerms          = union(trustedPlayerPerms,
		CreateTokens, DeleteTokens, ModifyAllTokens,
		ViewDMLayer, ModifyDMLayer, ViewFogOfWar, ModifyFogOfWar,
		DeleteAssets, ManageAssets, ModifyTurnOrder, ViewPrivateRolls,
		InvitePlayers, KickPlayers, EditAllCharacters,
	)
	ownerPerms = union(coDMPerms,
		BanPlayers, ChangeRoles, ModifySession, DeleteSession, DeleteCharacters,
	)
)

// rolePermissions maps each role to its fixed permission set.
var rolePermissions = map[Role]map[Permission]bool{
	RoleSpectator:     spectatorPerms,
	RolePlayer:        playerPerms,
	RoleTrustedPlayer: trustedPlayerPerms,
	RoleCoDM:          coDMPerms,
	RoleOwner:         ownerPerms,
}

// PermissionsFor returns the permission set granted by role r. The
// returned set must not be mutated by callers.
func PermissionsFor(r Role) map[Permission]bool {
	if m, ok := rolePermissions[r]; ok {
		return m
	}
	return map[Permission]bool{}
}

// Has reports whether role r includes permission p.
func Has(r Role, p Permission) bool {
	return rolePermissions[r][p]
}

// Effective computes a user's effective permission set: the role's fixed
// set unioned with any active custom grants.
func Effective(r Role, customGrants []Permission) map[Permission]bool {
	return union(PermissionsFor(r), customGrants...)
}

// Diff computes gained/lost permission sets for a role transition, used to
// populate role-change audit entries and broadcasts.
func Diff(from, to Role) (gained, lost []Permission) {
	fromSet := PermissionsFor(from)
	toSet := PermissionsFor(to)
	for p := range toSet {
		if !fromSet[p] {
			gained = append(gained, p)
		}
	}
	for p := range fromSet {
		if !toSet[p] {
			lost = append(lost, p)
		}
	}
	return gained, lost
}
