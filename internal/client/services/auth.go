// Package services contains application services for the gophsync client.
// This file defines the authentication service: online/offline login,
// register, token refresh, and the credentials handed to sync sessions.
package services

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"sync"

	"github.com/dmitrijs2005/gophsync/internal/client/encryption"
	"github.com/dmitrijs2005/gophsync/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/gophsync/internal/client/syncer"
	"github.com/dmitrijs2005/gophsync/internal/client/transport"
	"github.com/dmitrijs2005/gophsync/internal/common"
	"github.com/dmitrijs2005/gophsync/internal/cryptox"
	"github.com/dmitrijs2005/gophsync/internal/dbx"
)

// ErrLocalDataNotAvailable means no account was ever logged in online on
// this device.
var ErrLocalDataNotAvailable = errors.New("local data unavailable")

// Client is the part of the remote API the auth service needs.
type Client interface {
	Register(ctx context.Context, username string, salt, verifier []byte) error
	GetSalt(ctx context.Context, username string) ([]byte, error)
	Login(ctx context.Context, username string, verifier []byte) (*transport.Tokens, error)
	RefreshToken(ctx context.Context, refreshToken string) (*transport.Tokens, error)
	Ping(ctx context.Context) error
	DeleteAll(ctx context.Context, accessToken string) (string, error)
	Close() error
}

// AuthService keeps the unlocked master key and the session tokens in
// memory. It implements syncer.AuthProvider.
type AuthService struct {
	client Client
	writer *dbx.Writer

	mu        sync.Mutex
	masterKey []byte
	tokens    transport.Tokens
}

var _ syncer.AuthProvider = (*AuthService)(nil)

func NewAuthService(client Client, writer *dbx.Writer) *AuthService {
	return &AuthService{client: client, writer: writer}
}

func (a *AuthService) metadataRepo() metadata.Repository {
	return metadata.NewSQLiteRepository(a.writer.DB())
}

// OfflineLogin derives a master key from (password, salt) stored locally and
// verifies it against the cached verifier.
func (a *AuthService) OfflineLogin(ctx context.Context, username string, password []byte) error {
	repo := a.metadataRepo()

	savedUsername, err := repo.Get(ctx, metadata.KeyUsername)
	if err != nil {
		return err
	}
	if savedUsername == nil {
		return ErrLocalDataNotAvailable
	}
	if string(savedUsername) != username {
		return common.ErrorUnauthorized
	}

	salt, err := repo.Get(ctx, metadata.KeySalt)
	if err != nil {
		return err
	}
	verifier, err := repo.Get(ctx, metadata.KeyVerifier)
	if err != nil {
		return err
	}
	if salt == nil || verifier == nil {
		return ErrLocalDataNotAvailable
	}

	key := cryptox.DeriveMasterKey(password, salt)
	if subtle.ConstantTimeCompare(verifier, cryptox.MakeVerifier(key)) == 0 {
		return common.ErrorUnauthorized
	}

	a.mu.Lock()
	a.masterKey = key
	a.mu.Unlock()
	return nil
}

// OnlineLogin authenticates against the server and caches what offline
// login and token refresh need.
func (a *AuthService) OnlineLogin(ctx context.Context, username string, password []byte) error {
	salt, err := a.client.GetSalt(ctx, username)
	if err != nil {
		return fmt.Errorf("get salt error: %w", err)
	}

	key := cryptox.DeriveMasterKey(password, salt)
	verifier := cryptox.MakeVerifier(key)

	tokens, err := a.client.Login(ctx, username, verifier)
	if err != nil {
		return fmt.Errorf("login error: %w", err)
	}

	err = a.writer.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		repo := metadata.NewSQLiteRepository(tx)
		for k, v := range map[string][]byte{
			metadata.KeyUsername:     []byte(username),
			metadata.KeySalt:         salt,
			metadata.KeyVerifier:     verifier,
			metadata.KeyRefreshToken: []byte(tokens.RefreshToken),
		} {
			if err := repo.Set(ctx, k, v); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("offline data saving error: %w", err)
	}

	a.mu.Lock()
	a.masterKey = key
	a.tokens = *tokens
	a.mu.Unlock()
	return nil
}

// Register creates a new account on the server. The password never leaves
// the device; only the salt and the verifier do.
func (a *AuthService) Register(ctx context.Context, username string, password []byte) error {
	salt := common.GenerateRandByteArray(32)
	key := cryptox.DeriveMasterKey(password, salt)
	defer common.WipeByteArray(key)

	return a.client.Register(ctx, username, salt, cryptox.MakeVerifier(key))
}

func (a *AuthService) Ping(ctx context.Context) error {
	return a.client.Ping(ctx)
}

func (a *AuthService) Close() error {
	return a.client.Close()
}

// Logout forgets the master key, the tokens and the cached account data.
func (a *AuthService) Logout(ctx context.Context) error {
	a.mu.Lock()
	common.WipeByteArray(a.masterKey)
	a.masterKey = nil
	a.tokens = transport.Tokens{}
	a.mu.Unlock()

	return a.writer.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		repo := metadata.NewSQLiteRepository(tx)
		for _, k := range []string{metadata.KeyUsername, metadata.KeySalt, metadata.KeyVerifier, metadata.KeyRefreshToken} {
			if err := repo.Delete(ctx, k); err != nil {
				return err
			}
		}
		return nil
	})
}

// DeleteAll wipes the account's server data. It returns the archive link
// when the server keeps one.
func (a *AuthService) DeleteAll(ctx context.Context) (string, error) {
	cred, err := a.Credentials(ctx)
	if err != nil {
		return "", err
	}
	url, err := a.client.DeleteAll(ctx, cred.Token)
	if errors.Is(err, common.ErrTokenExpired) || errors.Is(err, common.ErrorUnauthorized) {
		if cred, err = a.Refresh(ctx); err != nil {
			return "", err
		}
		url, err = a.client.DeleteAll(ctx, cred.Token)
	}
	return url, err
}

// Credentials returns the current access token and the collection keys.
// Without an access token (offline login) it refreshes first.
func (a *AuthService) Credentials(ctx context.Context) (*syncer.Credentials, error) {
	a.mu.Lock()
	key, token := a.masterKey, a.tokens.AccessToken
	a.mu.Unlock()

	if key == nil {
		return nil, fmt.Errorf("%w: not logged in", common.ErrorUnauthorized)
	}
	if token == "" {
		return a.Refresh(ctx)
	}
	return &syncer.Credentials{Token: token, Keys: keyBundle{master: key}}, nil
}

// Refresh rotates the refresh token and obtains a new access token.
func (a *AuthService) Refresh(ctx context.Context) (*syncer.Credentials, error) {
	a.mu.Lock()
	key, refresh := a.masterKey, a.tokens.RefreshToken
	a.mu.Unlock()

	if key == nil {
		return nil, fmt.Errorf("%w: not logged in", common.ErrorUnauthorized)
	}
	if refresh == "" {
		saved, err := a.metadataRepo().Get(ctx, metadata.KeyRefreshToken)
		if err != nil {
			return nil, err
		}
		if saved == nil {
			return nil, fmt.Errorf("%w: no refresh token", common.ErrorUnauthorized)
		}
		refresh = string(saved)
	}

	tokens, err := a.client.RefreshToken(ctx, refresh)
	if err != nil {
		return nil, fmt.Errorf("refresh error: %w", err)
	}
	if err := a.metadataRepo().Set(ctx, metadata.KeyRefreshToken, []byte(tokens.RefreshToken)); err != nil {
		return nil, err
	}

	a.mu.Lock()
	a.tokens = *tokens
	a.mu.Unlock()
	return &syncer.Credentials{Token: tokens.AccessToken, Keys: keyBundle{master: key}}, nil
}

// keyBundle derives one key per collection from the master key, so the
// server never sees two collections sealed under the same key.
type keyBundle struct {
	master []byte
}

func (k keyBundle) ProviderFor(collection string) (encryption.Provider, error) {
	sub, err := cryptox.DeriveSubkey(k.master, "collection:"+collection)
	if err != nil {
		return nil, err
	}
	return cryptox.NewCipher(sub)
}
