package repository

// Namespaces de claves del Store.
const (
	NSGrants    = "grants"
	NSTokens    = "tokens"
	NSCiba      = "ciba"
	NSClients   = "clients"
	NSKeys      = "keys"
	NSJTI       = "jti"
	NSCodes     = "codes"
	NSDevice    = "device"
	NSUserCodes = "usercodes"
	NSTickets   = "tickets"
	NSRate      = "rl"
)

// Atributos indexables.
const (
	AttrGrantID  = "grant_id"
	AttrClientID = "client_id"
	AttrKind     = "kind"
	AttrStatus   = "status"
	AttrMintedBy = "minted_by"
	AttrState    = "state"
)

// Key arma una clave "<ns>/<id>".
func Key(ns, id string) string { return ns + "/" + id }
