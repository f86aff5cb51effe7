// Package auth implements the Auth Gate: a mode-switched credential
// validator and role enforcer sitting in front of every core operation.
//
// The JWT signing/validation shape is grounded directly on the teacher's
// internal/server/handlers_auth.go (signJWT/validateJWT via
// github.com/golang-jwt/jwt/v5); the OAuth exchange flows that surrounded
// it there have no analogue here; the modes and role table are entirely
// new, so the surrounding Gate/Principal/RoleSet machinery is new code
// built to hold them.
package auth

import (
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/makr-code/loraforge/internal/common"
	"github.com/makr-code/loraforge/internal/domain"
)

// Mode selects how the Gate authenticates a request.
type Mode string

const (
	ModeProduction  Mode = "production"
	ModeDevelopment Mode = "development"
	ModeDebug       Mode = "debug"
	ModeTesting     Mode = "testing"
)

func (m Mode) Valid() bool {
	switch m {
	case ModeProduction, ModeDevelopment, ModeDebug, ModeTesting:
		return true
	default:
		return false
	}
}

// Role is one of the four capabilities the role model defines.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleTrainer Role = "trainer"
	RoleAnalyst Role = "analyst"
	RoleViewer  Role = "viewer"
)

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleTrainer, RoleAnalyst, RoleViewer:
		return true
	default:
		return false
	}
}

// RoleSet is an unordered collection of roles a principal holds.
type RoleSet map[Role]struct{}

// NewRoleSet builds a RoleSet from a role list, silently dropping any
// entry that isn't one of the four recognised roles.
func NewRoleSet(roles ...Role) RoleSet {
	s := make(RoleSet, len(roles))
	for _, r := range roles {
		if r.Valid() {
			s[r] = struct{}{}
		}
	}
	return s
}

func (s RoleSet) Has(r Role) bool {
	_, ok := s[r]
	return ok
}

// HasAny reports whether the set contains at least one of roles.
func (s RoleSet) HasAny(roles ...Role) bool {
	for _, r := range roles {
		if s.Has(r) {
			return true
		}
	}
	return false
}

// Principal is the authenticated (or synthetic) identity a request runs
// as once it has passed through the Gate.
type Principal struct {
	UserID string
	Roles  RoleSet
}

func (p *Principal) HasAny(roles ...Role) bool {
	if p == nil {
		return false
	}
	return p.Roles.HasAny(roles...)
}

// Operation names one of the capability-gated entry points into the core.
// Cancel is split by the job's trainer kind because the role table grants
// cancel-by-kind, not a blanket "cancel" capability.
type Operation string

const (
	OpSubmitTraining   Operation = "submit-training"
	OpSubmitDataset    Operation = "submit-dataset"
	OpCancelTraining   Operation = "cancel-training"
	OpCancelDataset    Operation = "cancel-dataset"
	OpReadJobs         Operation = "read-jobs"
	OpHealth           Operation = "health"
)

// operationRoles is the minimum-capability table: a principal needs at
// least one of the listed roles to perform the operation, independent of
// job ownership (ownership is layered on top for Cancel by the caller,
// via AuthorizeCancel).
var operationRoles = map[Operation][]Role{
	OpSubmitTraining: {RoleTrainer, RoleAdmin},
	OpSubmitDataset:  {RoleAnalyst, RoleTrainer, RoleAdmin},
	OpCancelTraining: {RoleTrainer, RoleAdmin},
	OpCancelDataset:  {RoleAnalyst, RoleTrainer, RoleAdmin},
	OpReadJobs:       {RoleViewer, RoleAnalyst, RoleTrainer, RoleAdmin},
	OpHealth:         nil, // open to anyone, including unauthenticated callers
}

// CancelOperation maps a trainer kind to the Cancel operation whose
// kind-capability gates it.
func CancelOperation(kind domain.TrainerKind) Operation {
	switch kind {
	case domain.TrainerDatasetAssembly:
		return OpCancelDataset
	default:
		return OpCancelTraining
	}
}

// SubmitOperation maps a trainer kind to the Submit operation whose
// kind-capability gates it, mirroring CancelOperation.
func SubmitOperation(kind domain.TrainerKind) Operation {
	switch kind {
	case domain.TrainerDatasetAssembly:
		return OpSubmitDataset
	default:
		return OpSubmitTraining
	}
}

// Config configures a Gate. JWTSecret and TokenExpiry are only consulted
// in production/development mode. DebugRoles seeds the synthetic
// principal in debug mode; it defaults to admin+trainer if empty.
type Config struct {
	Mode        Mode
	JWTSecret   string
	TokenExpiry time.Duration
	DebugRoles  []Role
}

func (c Config) debugRoles() []Role {
	if len(c.DebugRoles) > 0 {
		return c.DebugRoles
	}
	return []Role{RoleAdmin, RoleTrainer}
}

// Gate is the stateless, concurrency-safe credential validator. One Gate
// is constructed per running service and shared across all requests.
type Gate struct {
	config Config
	logger *common.Logger
}

func New(config Config, logger *common.Logger) *Gate {
	return &Gate{config: config, logger: logger}
}

// Authenticate extracts and validates a Principal from r according to the
// Gate's mode. It never checks role sufficiency — that is Authorize's job
// — so a caller always gets back a Principal (possibly with an empty
// RoleSet) unless the credential itself is missing or invalid in a mode
// that requires one.
func (g *Gate) Authenticate(r *http.Request) (*Principal, error) {
	switch g.config.Mode {
	case ModeDebug:
		return &Principal{UserID: "mock-principal", Roles: NewRoleSet(g.config.debugRoles()...)}, nil

	case ModeTesting:
		roles := parseRoleHeader(r.Header.Get("X-Debug-Roles"))
		userID := r.Header.Get("X-Debug-User")
		if userID == "" {
			userID = "test-principal"
		}
		return &Principal{UserID: userID, Roles: NewRoleSet(roles...)}, nil

	case ModeDevelopment:
		token := bearerToken(r)
		if token == "" {
			return &Principal{Roles: RoleSet{}}, nil
		}
		return g.authenticateToken(token)

	case ModeProduction:
		token := bearerToken(r)
		if token == "" {
			return nil, domain.NewError(domain.ErrKindUnauthenticated, "missing bearer credential")
		}
		return g.authenticateToken(token)

	default:
		return nil, domain.NewError(domain.ErrKindInvalidConfig, "unrecognised auth mode")
	}
}

// Authorize rejects principal unless it holds at least one of op's
// minimum roles. A nil or empty role requirement (Health) always passes.
func (g *Gate) Authorize(principal *Principal, op Operation) error {
	required, ok := operationRoles[op]
	if !ok || len(required) == 0 {
		return nil
	}
	if !principal.HasAny(required...) {
		return domain.NewError(domain.ErrKindAuthInsufficient, "insufficient role for "+string(op))
	}
	return nil
}

// AuthorizeCancel applies the role table's "owner ∪ admin, plus the job's
// kind-capability" rule: an admin or the job's own submitter may cancel
// it, but only if the principal also carries the minimum role for that
// trainer kind's Cancel operation.
func (g *Gate) AuthorizeCancel(principal *Principal, kind domain.TrainerKind, submittedBy string) error {
	if err := g.Authorize(principal, CancelOperation(kind)); err != nil {
		return err
	}
	if principal.HasAny(RoleAdmin) {
		return nil
	}
	if principal != nil && submittedBy != "" && principal.UserID == submittedBy {
		return nil
	}
	return domain.NewError(domain.ErrKindAuthInsufficient, "only the submitter or an admin may cancel this job")
}

// SignToken issues a JWT for principal, for use by whatever identity
// provider integration sits upstream of the Gate in production (not part
// of the Gate's own request path, but shares its secret and expiry).
func (g *Gate) SignToken(userID string, roles RoleSet) (string, error) {
	now := time.Now()
	roleList := make([]string, 0, len(roles))
	for r := range roles {
		roleList = append(roleList, string(r))
	}
	claims := jwt.MapClaims{
		"sub":   userID,
		"roles": roleList,
		"iss":   "loraforge",
		"iat":   now.Unix(),
		"exp":   now.Add(g.tokenExpiry()).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(g.config.JWTSecret))
}

func (g *Gate) tokenExpiry() time.Duration {
	if g.config.TokenExpiry > 0 {
		return g.config.TokenExpiry
	}
	return time.Hour
}

func (g *Gate) authenticateToken(tokenString string) (*Principal, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, domain.NewError(domain.ErrKindUnauthenticated, "unexpected signing method")
		}
		return []byte(g.config.JWTSecret), nil
	})
	if err != nil {
		return nil, domain.WrapError(domain.ErrKindUnauthenticated, "invalid or expired credential", err)
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, domain.NewError(domain.ErrKindUnauthenticated, "credential missing subject")
	}

	var roles []Role
	if raw, ok := claims["roles"].([]interface{}); ok {
		for _, v := range raw {
			if s, ok := v.(string); ok {
				roles = append(roles, Role(s))
			}
		}
	}
	return &Principal{UserID: sub, Roles: NewRoleSet(roles...)}, nil
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(header, "Bearer ")
}

func parseRoleHeader(header string) []Role {
	if header == "" {
		return nil
	}
	parts := strings.Split(header, ",")
	roles := make([]Role, 0, len(parts))
	for _, p := range parts {
		roles = append(roles, Role(strings.TrimSpace(p)))
	}
	return roles
}
