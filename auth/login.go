package auth

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/mededge/pulse/catalog"
	"github.com/mededge/pulse/fault"
	"github.com/mededge/pulse/kv"
)

// LoginRequest is the strategy-dispatched login body.
type LoginRequest struct {
	LoginType string `json:"login_type" validate:"required,oneof=account sms dingtalk"`
	Username  string `json:"username,omitempty"`
	Password  string `json:"password,omitempty"`
	Phone     string `json:"phone,omitempty"`
	Code      string `json:"code,omitempty"`
}

// TokenData is the issued credential of a login or refresh.
type TokenData struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// UserInfo is the profile returned alongside a fresh token.
type UserInfo struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Phone    string `json:"phone"`
	Nickname string `json:"nickname"`
}

// LoginResponse is the login payload.
type LoginResponse struct {
	Token TokenData `json:"token"`
	User  UserInfo  `json:"user"`
}

// UserStore is the account surface of the catalog consumed by login.
type UserStore interface {
	UserByID(ctx context.Context, id int64) (*catalog.User, error)
	UserByUsername(ctx context.Context, username string) (*catalog.User, error)
	UserByPhone(ctx context.Context, phone string) (*catalog.User, error)
	CreateUser(ctx context.Context, u *catalog.User) error
	TouchLastLogin(ctx context.Context, userID int64) error
	BindingByOpenID(ctx context.Context, platform, openID string) (*catalog.ThirdPartyBinding, error)
	CreateBinding(ctx context.Context, b *catalog.ThirdPartyBinding) error
}

// Strategy authenticates one login type.
type Strategy interface {
	Login(ctx context.Context, req LoginRequest) (*catalog.User, error)
}

// Service dispatches logins across strategies and issues tokens.
type Service struct {
	users      UserStore
	tokens     *Tokens
	strategies map[string]Strategy
}

// NewService wires the built-in strategies. A nil exchanger disables
// third-party login.
func NewService(users UserStore, store kv.Store, tokens *Tokens, exchanger Exchanger) *Service {
	var s = &Service{users: users, tokens: tokens}
	s.strategies = map[string]Strategy{
		"account": &accountStrategy{users: users},
		"sms":     &smsStrategy{users: users, store: store},
	}
	if exchanger != nil {
		s.strategies["dingtalk"] = &dingtalkStrategy{users: users, exchanger: exchanger}
	}
	return s
}

// Login authenticates per the request's login type, rejects disabled
// accounts, stamps the login time, and returns the issued token.
func (s *Service) Login(ctx context.Context, req LoginRequest) (*LoginResponse, error) {
	var strategy, ok = s.strategies[req.LoginType]
	if !ok {
		return nil, fault.Business(400, fmt.Sprintf("unsupported login type: %s", req.LoginType))
	}

	user, err := strategy.Login(ctx, req)
	if err != nil {
		logins.WithLabelValues(req.LoginType, "denied").Inc()
		return nil, err
	}
	if user.UserStatus == catalog.UserStatusDisabled {
		logins.WithLabelValues(req.LoginType, "denied").Inc()
		return nil, fault.Business(400, "this account has been disabled")
	}

	if err = s.users.TouchLastLogin(ctx, user.ID); err != nil {
		// Login proceeds; the stamp is bookkeeping.
		log.WithFields(log.Fields{"user": user.ID, "err": err}).Warn("failed to stamp last login")
	}

	token, err := s.tokens.Issue(Identity{UserID: user.ID, Username: user.Username, Scope: "user"})
	if err != nil {
		return nil, err
	}

	logins.WithLabelValues(req.LoginType, "granted").Inc()
	return &LoginResponse{
		Token: TokenData{AccessToken: token, TokenType: "bearer"},
		User: UserInfo{
			ID:       user.ID,
			Username: user.Username,
			Phone:    user.Phone,
			Nickname: user.Nickname,
		},
	}, nil
}

// Refresh re-issues a still-valid token.
func (s *Service) Refresh(_ context.Context, refreshToken string) (*TokenData, error) {
	var token, err = s.tokens.Refresh(refreshToken)
	if err != nil {
		return nil, err
	}
	return &TokenData{AccessToken: token, TokenType: "bearer"}, nil
}

// errBadCredentials deliberately doesn't say which of the name or
// password was wrong.
var errBadCredentials = fault.Business(400, "incorrect username or password")

// accountStrategy authenticates by account name and password. The name
// may be a username or a phone number.
type accountStrategy struct{ users UserStore }

func (s *accountStrategy) Login(ctx context.Context, req LoginRequest) (*catalog.User, error) {
	if req.Username == "" || req.Password == "" {
		return nil, fault.Business(400, "username and password are required")
	}

	var user, err = s.users.UserByUsername(ctx, req.Username)
	if errors.Is(err, catalog.ErrNotFound) {
		user, err = s.users.UserByPhone(ctx, req.Username)
	}
	if errors.Is(err, catalog.ErrNotFound) {
		return nil, errBadCredentials
	} else if err != nil {
		return nil, err
	}

	if bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)) != nil {
		return nil, errBadCredentials
	}
	return user, nil
}

// smsCodeKey is where the SMS sender parked the one-time login code.
func smsCodeKey(phone string) string { return "sms_code:" + phone }

// smsStrategy authenticates by phone number and a one-time SMS code.
type smsStrategy struct {
	users UserStore
	store kv.Store
}

func (s *smsStrategy) Login(ctx context.Context, req LoginRequest) (*catalog.User, error) {
	if req.Phone == "" || req.Code == "" {
		return nil, fault.Business(400, "phone and verification code are required")
	}

	var code, err = s.store.Get(ctx, smsCodeKey(req.Phone))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, fault.Business(400, "verification code is wrong or expired")
	} else if err != nil {
		return nil, err
	}
	if code != req.Code {
		return nil, fault.Business(400, "verification code is wrong or expired")
	}
	// Codes are single-use.
	if err = s.store.Del(ctx, smsCodeKey(req.Phone)); err != nil {
		return nil, err
	}

	user, err := s.users.UserByPhone(ctx, req.Phone)
	if errors.Is(err, catalog.ErrNotFound) {
		return nil, fault.Business(400, "this phone number is not registered")
	} else if err != nil {
		return nil, err
	}
	return user, nil
}

const dingtalkPlatform = "dingtalk"

// dingtalkStrategy authenticates through the DingTalk OAuth flow. A
// first-time identity is matched to an existing account by phone, or
// registered fresh, and its binding recorded either way.
type dingtalkStrategy struct {
	users     UserStore
	exchanger Exchanger
}

func (s *dingtalkStrategy) Login(ctx context.Context, req LoginRequest) (*catalog.User, error) {
	if req.Code == "" {
		return nil, fault.Business(400, "authorization code is required")
	}

	var profile, err = s.exchanger.Exchange(ctx, req.Code)
	if err != nil {
		log.WithField("err", err).Warn("third-party code exchange failed")
		return nil, fault.Business(400, "dingtalk login failed")
	}
	if profile.Phone == "" {
		return nil, fault.Business(400, "the provider returned no phone number; check its permission configuration")
	}

	// A known binding resolves directly to its account.
	binding, err := s.users.BindingByOpenID(ctx, dingtalkPlatform, profile.OpenID)
	if err == nil {
		return s.users.UserByID(ctx, binding.UserID)
	} else if !errors.Is(err, catalog.ErrNotFound) {
		return nil, err
	}

	user, err := s.users.UserByPhone(ctx, profile.Phone)
	if errors.Is(err, catalog.ErrNotFound) {
		user = &catalog.User{
			Username:   registrationName(profile),
			Phone:      profile.Phone,
			Nickname:   profile.Nickname,
			UserStatus: catalog.UserStatusNormal,
		}
		if err = s.users.CreateUser(ctx, user); err != nil {
			return nil, err
		}
		log.WithFields(log.Fields{"user": user.ID, "platform": dingtalkPlatform}).
			Info("registered user from third-party login")
	} else if err != nil {
		return nil, err
	}

	if err = s.users.CreateBinding(ctx, &catalog.ThirdPartyBinding{
		UserID:   user.ID,
		Platform: dingtalkPlatform,
		OpenID:   profile.OpenID,
		UnionID:  profile.UnionID,
	}); err != nil {
		return nil, err
	}
	return user, nil
}

// registrationName derives an account name for a provider profile
// without one.
func registrationName(profile *Profile) string {
	if profile.Nickname != "" {
		return profile.Nickname
	}
	var id = profile.OpenID
	if len(id) > 6 {
		id = id[len(id)-6:]
	}
	return "ding_" + id
}
