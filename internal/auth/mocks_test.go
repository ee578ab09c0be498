package auth

import (
	"context"

	"github.com/hitoshi/calbridge/internal/model"
)

// function-fieldスタイルのモック。設定していないメソッドが呼ばれたら
// ゼロ値が返る（必要ならテスト側でpanicさせる）。

type mockUserRepo struct {
	findByIDFunc           func(ctx context.Context, id string) (*model.User, error)
	findByEmailFunc        func(ctx context.Context, email string) (*model.User, error)
	createWithIdentityFunc func(ctx context.Context, user *model.User, identity *model.Identity) error
	deleteByIDFunc         func(ctx context.Context, id string) error

	createWithIdentityCalls int
}

func (m *mockUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	if m.findByIDFunc == nil {
		return nil, nil
	}
	return m.findByIDFunc(ctx, id)
}

func (m *mockUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	if m.findByEmailFunc == nil {
		return nil, nil
	}
	return m.findByEmailFunc(ctx, email)
}

func (m *mockUserRepo) CreateWithIdentity(ctx context.Context, user *model.User, identity *model.Identity) error {
	m.createWithIdentityCalls++
	if m.createWithIdentityFunc == nil {
		return nil
	}
	return m.createWithIdentityFunc(ctx, user, identity)
}

func (m *mockUserRepo) DeleteByID(ctx context.Context, id string) error {
	if m.deleteByIDFunc == nil {
		return nil
	}
	return m.deleteByIDFunc(ctx, id)
}

type mockIdentityRepo struct {
	findByProviderFunc       func(ctx context.Context, provider, providerUserID string) (*model.Identity, error)
	findByUserIDProviderFunc func(ctx context.Context, userID, provider string) (*model.Identity, error)
	createFunc               func(ctx context.Context, identity *model.Identity) error
	updateProfileFunc        func(ctx context.Context, identityID string, profile model.Profile) error

	createCalls        int
	updateProfileCalls int
}

func (m *mockIdentityRepo) FindByProviderAndProviderUserID(ctx context.Context, provider, providerUserID string) (*model.Identity, error) {
	if m.findByProviderFunc == nil {
		return nil, nil
	}
	return m.findByProviderFunc(ctx, provider, providerUserID)
}

func (m *mockIdentityRepo) FindByUserIDAndProvider(ctx context.Context, userID, provider string) (*model.Identity, error) {
	if m.findByUserIDProviderFunc == nil {
		return nil, nil
	}
	return m.findByUserIDProviderFunc(ctx, userID, provider)
}

func (m *mockIdentityRepo) Create(ctx context.Context, identity *model.Identity) error {
	m.createCalls++
	if m.createFunc == nil {
		return nil
	}
	return m.createFunc(ctx, identity)
}

func (m *mockIdentityRepo) UpdateProfile(ctx context.Context, identityID string, profile model.Profile) error {
	m.updateProfileCalls++
	if m.updateProfileFunc == nil {
		return nil
	}
	return m.updateProfileFunc(ctx, identityID, profile)
}

type mockTokenRepo struct {
	upsertFunc           func(ctx context.Context, rec *model.TokenRecord) error
	findByIdentityIDFunc func(ctx context.Context, identityID string) (*model.TokenRecord, error)

	upsertCalls int
	lastUpsert  *model.TokenRecord
}

func (m *mockTokenRepo) Upsert(ctx context.Context, rec *model.TokenRecord) error {
	m.upsertCalls++
	m.lastUpsert = rec
	if m.upsertFunc == nil {
		return nil
	}
	return m.upsertFunc(ctx, rec)
}

func (m *mockTokenRepo) FindByIdentityID(ctx context.Context, identityID string) (*model.TokenRecord, error) {
	if m.findByIdentityIDFunc == nil {
		return nil, nil
	}
	return m.findByIdentityIDFunc(ctx, identityID)
}

type mockSessionRepo struct {
	createFunc       func(ctx context.Context, session *model.Session) error
	findByIDFunc     func(ctx context.Context, id string) (*model.Session, error)
	deleteByIDFunc   func(ctx context.Context, id string) error
	deleteByUserFunc func(ctx context.Context, userID string) error

	createCalls int
	deleteCalls int
}

func (m *mockSessionRepo) Create(ctx context.Context, session *model.Session) error {
	m.createCalls++
	if m.createFunc == nil {
		return nil
	}
	return m.createFunc(ctx, session)
}

func (m *mockSessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	if m.findByIDFunc == nil {
		return nil, nil
	}
	return m.findByIDFunc(ctx, id)
}

func (m *mockSessionRepo) DeleteByID(ctx context.Context, id string) error {
	m.deleteCalls++
	if m.deleteByIDFunc == nil {
		return nil
	}
	return m.deleteByIDFunc(ctx, id)
}

func (m *mockSessionRepo) DeleteByUserID(ctx context.Context, userID string) error {
	if m.deleteByUserFunc == nil {
		return nil
	}
	return m.deleteByUserFunc(ctx, userID)
}

type mockOAuthProvider struct {
	exchangeCodeFunc func(ctx context.Context, code string) (*TokenGrant, error)
	refreshFunc      func(ctx context.Context, refreshToken string) (*TokenGrant, error)
	verifyFunc       func(ctx context.Context, idToken string) *IdentityClaims
	introspectFunc   func(ctx context.Context, accessToken string) bool

	exchangeCalls   int
	refreshCalls    int
	verifyCalls     int
	introspectCalls int
}

func (m *mockOAuthProvider) ExchangeCode(ctx context.Context, code string) (*TokenGrant, error) {
	m.exchangeCalls++
	if m.exchangeCodeFunc == nil {
		return nil, nil
	}
	return m.exchangeCodeFunc(ctx, code)
}

func (m *mockOAuthProvider) Refresh(ctx context.Context, refreshToken string) (*TokenGrant, error) {
	m.refreshCalls++
	if m.refreshFunc == nil {
		return nil, nil
	}
	return m.refreshFunc(ctx, refreshToken)
}

func (m *mockOAuthProvider) VerifyIDToken(ctx context.Context, idToken string) *IdentityClaims {
	m.verifyCalls++
	if m.verifyFunc == nil {
		return nil
	}
	return m.verifyFunc(ctx, idToken)
}

func (m *mockOAuthProvider) IntrospectAccessToken(ctx context.Context, accessToken string) bool {
	m.introspectCalls++
	if m.introspectFunc == nil {
		return false
	}
	return m.introspectFunc(ctx, accessToken)
}

type mockResolver struct {
	resolveFunc func(ctx context.Context, claims *IdentityClaims) (*model.User, *model.Identity, bool, error)

	resolveCalls int
}

func (m *mockResolver) Resolve(ctx context.Context, claims *IdentityClaims) (*model.User, *model.Identity, bool, error) {
	m.resolveCalls++
	if m.resolveFunc == nil {
		return nil, nil, false, nil
	}
	return m.resolveFunc(ctx, claims)
}
