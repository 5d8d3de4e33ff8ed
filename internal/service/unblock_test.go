package service

import (
	"context"
	"testing"

	"github.com/aman-churiwal/gatekeeper/internal/audit"
	"github.com/aman-churiwal/gatekeeper/internal/identity"
	"github.com/aman-churiwal/gatekeeper/internal/models"
	"github.com/aman-churiwal/gatekeeper/internal/ratelimit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const testAdminKey = "s3cret-admin-key"

type unblockFixture struct {
	svc   *UnblockService
	store *ratelimit.MemoryStore
	log   *audit.Log
}

func newUnblockFixture(t *testing.T, policy AdminPolicy) *unblockFixture {
	t.Helper()

	codec, err := identity.NewCodec("unblock-secret")
	require.NoError(t, err)

	store := ratelimit.NewMemoryStore()
	log := audit.NewLog(audit.NewMemoryStore(), codec, nil)
	esc := audit.NewEscalator(log, codec, audit.EscalatorOptions{})

	for i, blocked := range []bool{true, true, false} {
		key := ratelimit.EntryKey{IdentityHash: codec.Hash("203.0.113.7"), Endpoint: []string{"/a", "/b", "/c"}[i]}
		require.NoError(t, store.Update(context.Background(), key, func(*models.RateLimitEntry) (*models.RateLimitEntry, error) {
			return &models.RateLimitEntry{Count: 12, Blocked: blocked}, nil
		}))
	}

	return &unblockFixture{
		svc:   NewUnblockService(store, log, esc, policy, nil),
		store: store,
		log:   log,
	}
}

func (f *unblockFixture) actions(t *testing.T, action string) int {
	t.Helper()
	page, err := f.log.Query(context.Background(), audit.Query{Action: action})
	require.NoError(t, err)
	return len(page.Entries)
}

func TestClearBlocks_ProductionRequiresKeyAndAllowList(t *testing.T) {
	policy := AdminPolicy{Production: true, AdminKey: testAdminKey, AllowList: []string{"10.0.0.5"}}

	tests := []struct {
		name    string
		ident   string
		key     string
		wantErr error
	}{
		{"key and listed", "10.0.0.5", testAdminKey, nil},
		{"listed with port form", "10.0.0.5:8080", testAdminKey, nil},
		{"correct key but not listed", "203.0.113.9", testAdminKey, ErrAuthorizationDenied},
		{"listed but wrong key", "10.0.0.5", "nope", ErrAuthorizationDenied},
		{"listed without key", "10.0.0.5", "", ErrAuthorizationDenied},
		{"unknown identity", identity.Unknown, testAdminKey, ErrInvalidIdentity},
		{"system identity", identity.System, testAdminKey, ErrInvalidIdentity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newUnblockFixture(t, policy)

			res, err := f.svc.ClearBlocks(context.Background(), tt.ident, tt.key)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.False(t, res.Success)
				assert.Equal(t, DeniedMessage, res.Message)
				assert.Equal(t, 1, f.actions(t, "SECURITY_CRITICAL"))

				n, _ := f.store.CountBlocked(context.Background())
				assert.Equal(t, int64(2), n)
				return
			}

			require.NoError(t, err)
			assert.True(t, res.Success)
			assert.Equal(t, int64(2), res.Cleared)
		})
	}
}

func TestClearBlocks_DevelopmentAcceptsEither(t *testing.T) {
	policy := AdminPolicy{Production: false, AdminKey: testAdminKey, AllowList: []string{"127.0.0.1"}}

	f := newUnblockFixture(t, policy)
	res, err := f.svc.ClearBlocks(context.Background(), "203.0.113.9", testAdminKey)
	require.NoError(t, err, "correct key from an unlisted address")
	assert.True(t, res.Success)

	f = newUnblockFixture(t, policy)
	_, err = f.svc.ClearBlocks(context.Background(), identity.Localhost, "")
	require.NoError(t, err, "loopback forms normalize to the listed entry")

	f = newUnblockFixture(t, policy)
	_, err = f.svc.ClearBlocks(context.Background(), "203.0.113.9", "wrong")
	assert.ErrorIs(t, err, ErrAuthorizationDenied)
}

func TestClearBlocks_SuccessKeepsCountsAndAudits(t *testing.T) {
	f := newUnblockFixture(t, AdminPolicy{AllowList: []string{"10.0.0.5"}})

	res, err := f.svc.ClearBlocks(context.Background(), "10.0.0.5", "")
	require.NoError(t, err)
	assert.Equal(t, "Cleared 2 blocked entries", res.Message)

	n, _ := f.store.CountBlocked(context.Background())
	assert.Zero(t, n)

	codec, _ := identity.NewCodec("unblock-secret")
	entry, _ := f.store.Get(context.Background(), ratelimit.EntryKey{IdentityHash: codec.Hash("203.0.113.7"), Endpoint: "/a"})
	assert.Equal(t, 12, entry.Count)

	assert.Equal(t, 1, f.actions(t, "SECURITY_MEDIUM"))

	page, _ := f.log.Query(context.Background(), audit.Query{Action: audit.ActionClearBlocks})
	require.Len(t, page.Entries, 1)
	assert.True(t, page.Entries[0].Success)
	assert.Contains(t, page.Entries[0].Details, "cleared 2")
}

func TestAuthorize_BcryptAdminKey(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte(testAdminKey), bcrypt.MinCost)
	require.NoError(t, err)

	svc := NewUnblockService(ratelimit.NewMemoryStore(), nil, nil, AdminPolicy{
		Production: true,
		AdminKey:   string(hash),
		AllowList:  []string{"10.0.0.5"},
	}, nil)

	assert.NoError(t, svc.Authorize("10.0.0.5", testAdminKey))
	assert.ErrorIs(t, svc.Authorize("10.0.0.5", string(hash)), ErrAuthorizationDenied)
}

func TestAuthorize_NoKeyConfiguredInProduction(t *testing.T) {
	svc := NewUnblockService(ratelimit.NewMemoryStore(), nil, nil, AdminPolicy{
		Production: true,
		AllowList:  []string{"10.0.0.5"},
	}, nil)

	assert.ErrorIs(t, svc.Authorize("10.0.0.5", ""), ErrAuthorizationDenied)
}

func TestAuthorizeAuditQuery_RecordsDenial(t *testing.T) {
	f := newUnblockFixture(t, AdminPolicy{Production: true, AdminKey: testAdminKey, AllowList: []string{"10.0.0.5"}})

	assert.NoError(t, f.svc.AuthorizeAuditQuery(context.Background(), "10.0.0.5", testAdminKey))
	assert.ErrorIs(t, f.svc.AuthorizeAuditQuery(context.Background(), identity.System, testAdminKey), ErrInvalidIdentity)
	assert.Equal(t, 1, f.actions(t, audit.ActionAuditQuery))
}
