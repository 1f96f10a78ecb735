package idp

import (
	"context"
	"fmt"
	"slices"

	"github.com/aetherfit/aetherfit-front/internal/config"
)

// Authenticators is the set of configured upstream sign-in methods. It is
// built once and shared by every client instance.
type Authenticators struct {
	password  PasswordSigner
	federated map[string]Federated
}

// NewAuthenticatorSet builds a set from already constructed authenticators.
func NewAuthenticatorSet(password PasswordSigner, federated ...Federated) *Authenticators {
	a := &Authenticators{password: password, federated: make(map[string]Federated)}
	for _, f := range federated {
		a.federated[f.Kind()] = f
	}
	return a
}

// NewAuthenticators creates the authenticators named in the identity config.
func NewAuthenticators(ctx context.Context, cfg config.IdentityConfig) (*Authenticators, error) {
	var password PasswordSigner
	if p := cfg.Password; p != nil {
		var opts []PasswordOption
		if p.RefreshEndpoint != "" {
			opts = append(opts, WithRefreshEndpoint(p.RefreshEndpoint))
		}
		password = NewPasswordAuthenticator(p.Endpoint, string(p.APIKey), opts...)
	}

	var federated []Federated
	for _, f := range cfg.Federated {
		provider, err := newFederated(ctx, f)
		if err != nil {
			return nil, fmt.Errorf("creating %s authenticator: %w", f.Provider, err)
		}
		federated = append(federated, provider)
	}
	return NewAuthenticatorSet(password, federated...), nil
}

func newFederated(ctx context.Context, cfg config.FederatedIdentityConfig) (Federated, error) {
	switch cfg.Provider {
	case config.FederatedGoogle:
		return NewGoogleAuthenticator(cfg.ClientID, string(cfg.ClientSecret), cfg.RedirectURI, cfg.AllowedDomains), nil
	case config.FederatedGitHub:
		return NewGitHubAuthenticator(cfg.ClientID, string(cfg.ClientSecret), cfg.RedirectURI, cfg.AllowedDomains, cfg.AllowedOrgs), nil
	case config.FederatedOIDC:
		return NewOIDCAuthenticator(ctx, OIDCConfig{
			DiscoveryURL:     cfg.DiscoveryURL,
			AuthorizationURL: cfg.AuthorizationURL,
			TokenURL:         cfg.TokenURL,
			UserInfoURL:      cfg.UserInfoURL,
			ClientID:         cfg.ClientID,
			ClientSecret:     string(cfg.ClientSecret),
			RedirectURI:      cfg.RedirectURI,
			Scopes:           cfg.Scopes,
			AllowedDomains:   cfg.AllowedDomains,
		})
	default:
		return nil, fmt.Errorf("unknown provider type: %s", cfg.Provider)
	}
}

// Password returns the password authenticator, or nil when disabled.
func (a *Authenticators) Password() PasswordSigner {
	return a.password
}

// Federated returns the federated authenticator for kind.
func (a *Authenticators) Federated(kind string) (Federated, bool) {
	f, ok := a.federated[kind]
	return f, ok
}

// FederatedKinds lists the configured federated providers in stable order.
func (a *Authenticators) FederatedKinds() []string {
	kinds := make([]string, 0, len(a.federated))
	for k := range a.federated {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)
	return kinds
}
