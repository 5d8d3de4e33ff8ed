package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"

	"github.com/aman-churiwal/gatekeeper/internal/audit"
	"github.com/aman-churiwal/gatekeeper/internal/identity"
	"github.com/aman-churiwal/gatekeeper/internal/ratelimit"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrAuthorizationDenied = errors.New("admin authorization denied")
	ErrInvalidIdentity     = errors.New("identity cannot perform admin operations")
)

// DeniedMessage is returned for every authorization failure so callers
// cannot tell a bad key from a bad address.
const DeniedMessage = "Access denied"

type UnblockResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Cleared int64  `json:"cleared"`
}

type AdminPolicy struct {
	// Production requires the admin key and an allow-listed identity.
	// Otherwise either one is enough.
	Production bool
	// AdminKey is compared in constant time. Values starting with "$2" are
	// treated as bcrypt hashes.
	AdminKey  string
	AllowList []string
}

// UnblockService guards admin operations and clears blocked rate limit entries.
type UnblockService struct {
	store      ratelimit.EntryStore
	log        *audit.Log
	escalator  *audit.Escalator
	production bool
	adminKey   string
	allowList  map[string]struct{}
	logger     *zap.Logger
}

func NewUnblockService(store ratelimit.EntryStore, log *audit.Log, escalator *audit.Escalator, policy AdminPolicy, logger *zap.Logger) *UnblockService {
	if logger == nil {
		logger = zap.NewNop()
	}

	allowList := make(map[string]struct{}, len(policy.AllowList))
	for _, entry := range policy.AllowList {
		if id := identity.Normalize(entry); id != "" {
			allowList[id] = struct{}{}
		}
	}

	return &UnblockService{
		store:      store,
		log:        log,
		escalator:  escalator,
		production: policy.Production,
		adminKey:   strings.TrimSpace(policy.AdminKey),
		allowList:  allowList,
		logger:     logger,
	}
}

// Authorize checks ident and adminKey against the admin policy.
func (s *UnblockService) Authorize(ident, adminKey string) error {
	if identity.Reserved(ident) {
		return ErrInvalidIdentity
	}

	_, listed := s.allowList[identity.Normalize(ident)]
	keyOK := s.keyMatches(adminKey)

	if s.production {
		if keyOK && listed {
			return nil
		}
		return ErrAuthorizationDenied
	}

	if listed || keyOK {
		return nil
	}
	return ErrAuthorizationDenied
}

// ClearBlocks unblocks every blocked entry. Counts are kept.
func (s *UnblockService) ClearBlocks(ctx context.Context, ident, adminKey string) (UnblockResult, error) {
	if err := s.Authorize(ident, adminKey); err != nil {
		s.denied(ctx, ident, audit.ActionClearBlocks, "clear rate limit blocks")
		return UnblockResult{Success: false, Message: DeniedMessage}, err
	}

	cleared, err := s.store.ClearBlocks(ctx)
	if err != nil {
		s.logger.Error("failed to clear rate limit blocks", zap.Error(err))
		s.record(ctx, ident, audit.ActionClearBlocks, "store failure", false)
		return UnblockResult{Success: false, Message: "Failed to clear blocks"}, fmt.Errorf("%w: %v", ratelimit.ErrStoreUnavailable, err)
	}

	details := fmt.Sprintf("cleared %d blocked entries", cleared)
	if s.escalator != nil {
		s.escalator.LogSecurityEvent(ctx, audit.SeverityMedium, ident, audit.EventBlocksCleared, details)
	}
	s.record(ctx, ident, audit.ActionClearBlocks, details, true)

	return UnblockResult{
		Success: true,
		Message: fmt.Sprintf("Cleared %d blocked entries", cleared),
		Cleared: cleared,
	}, nil
}

func (s *UnblockService) CountBlocked(ctx context.Context) (int64, error) {
	return s.store.CountBlocked(ctx)
}

// AuthorizeAuditQuery applies the admin policy to an audit log read and
// records denials the same way ClearBlocks does.
func (s *UnblockService) AuthorizeAuditQuery(ctx context.Context, ident, adminKey string) error {
	if err := s.Authorize(ident, adminKey); err != nil {
		s.denied(ctx, ident, audit.ActionAuditQuery, "query audit logs")
		return err
	}
	return nil
}

func (s *UnblockService) denied(ctx context.Context, ident, action, attempted string) {
	if s.escalator != nil {
		s.escalator.LogSecurityEvent(ctx, audit.SeverityCritical, ident, audit.EventUnauthorizedAdmin, attempted)
	}
	s.record(ctx, ident, action, "denied", false)
}

func (s *UnblockService) record(ctx context.Context, ident, action, details string, success bool) {
	if s.log != nil {
		s.log.Record(ctx, ident, action, details, success)
	}
}

func (s *UnblockService) keyMatches(provided string) bool {
	provided = strings.TrimSpace(provided)
	if s.adminKey == "" || provided == "" {
		return false
	}

	if strings.HasPrefix(s.adminKey, "$2") {
		return bcrypt.CompareHashAndPassword([]byte(s.adminKey), []byte(provided)) == nil
	}

	return subtle.ConstantTimeCompare([]byte(s.adminKey), []byte(provided)) == 1
}
