package tenant

import (
	"encoding/json"
	"encoding/pem"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/microsoft"
)

// ProviderType names an identity provider variant.
type ProviderType string

const (
	ProviderAzureAD ProviderType = "azure_ad"
	ProviderAuth0   ProviderType = "auth0"
	ProviderSAML    ProviderType = "saml"
	ProviderLocal   ProviderType = "local"
)

// ProviderConfig is the identity provider configuration of a tenant. The set
// of implementations is closed: AzureADConfig, Auth0Config, SAMLConfig and
// LocalConfig. The authorization core never interprets them; they are handed
// to the login collaborator as-is.
type ProviderConfig interface {
	Type() ProviderType
	Validate() error
	providerConfig()
}

// AzureADConfig configures Microsoft Entra ID (Azure AD) sign-in.
type AzureADConfig struct {
	TenantID     string   `json:"tenant_id"`
	ClientID     string   `json:"client_id"`
	ClientSecret string   `json:"client_secret,omitempty"`
	Scopes       []string `json:"scopes,omitempty"`
}

func (AzureADConfig) Type() ProviderType { return ProviderAzureAD }
func (AzureADConfig) providerConfig()    {}

// Validate requires the tenant and client ids.
func (c AzureADConfig) Validate() error {
	return requireFields(ProviderAzureAD, map[string]string{
		"tenant_id": c.TenantID,
		"client_id": c.ClientID,
	})
}

// OAuth2Config builds the client configuration for the external handshake.
func (c AzureADConfig) OAuth2Config(redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		Endpoint:     microsoft.AzureADEndpoint(c.TenantID),
		RedirectURL:  redirectURL,
		Scopes:       withDefaultScopes(c.Scopes),
	}
}

// Auth0Config configures Auth0 sign-in.
type Auth0Config struct {
	Domain       string   `json:"domain"`
	ClientID     string   `json:"client_id"`
	ClientSecret string   `json:"client_secret,omitempty"`
	Audience     string   `json:"audience,omitempty"`
	Scopes       []string `json:"scopes,omitempty"`
}

func (Auth0Config) Type() ProviderType { return ProviderAuth0 }
func (Auth0Config) providerConfig()    {}

// Validate requires the domain and client id.
func (c Auth0Config) Validate() error {
	if err := requireFields(ProviderAuth0, map[string]string{
		"domain":    c.Domain,
		"client_id": c.ClientID,
	}); err != nil {
		return err
	}
	if strings.Contains(c.Domain, "/") {
		return fmt.Errorf("%w: auth0 domain must be a host name", ErrInvalidProviderConfig)
	}
	return nil
}

// OAuth2Config builds the OAuth2 client configuration for redirectURL.
func (c Auth0Config) OAuth2Config(redirectURL string) *oauth2.Config {
	base := "https://" + c.Domain
	return &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:  base + "/authorize",
			TokenURL: base + "/oauth/token",
		},
		RedirectURL: redirectURL,
		Scopes:      withDefaultScopes(c.Scopes),
	}
}

// SAMLConfig configures a SAML 2.0 identity provider.
type SAMLConfig struct {
	EntityID       string `json:"entity_id"`
	SSOURL         string `json:"sso_url"`
	Certificate    string `json:"certificate"`
	GroupAttribute string `json:"group_attribute,omitempty"`
}

func (SAMLConfig) Type() ProviderType { return ProviderSAML }
func (SAMLConfig) providerConfig()    {}

// Validate requires the metadata URL and entity id.
func (c SAMLConfig) Validate() error {
	if err := requireFields(ProviderSAML, map[string]string{
		"entity_id":   c.EntityID,
		"sso_url":     c.SSOURL,
		"certificate": c.Certificate,
	}); err != nil {
		return err
	}
	if u, err := url.Parse(c.SSOURL); err != nil || u.Scheme != "https" {
		return fmt.Errorf("%w: saml sso_url must be an https url", ErrInvalidProviderConfig)
	}
	if block, _ := pem.Decode([]byte(c.Certificate)); block == nil || block.Type != "CERTIFICATE" {
		return fmt.Errorf("%w: saml certificate must be PEM encoded", ErrInvalidProviderConfig)
	}
	return nil
}

// LocalConfig configures built-in email and password sign-in.
type LocalConfig struct {
	AllowSignup       bool `json:"allow_signup"`
	PasswordMinLength int  `json:"password_min_length"`
}

func (LocalConfig) Type() ProviderType { return ProviderLocal }
func (LocalConfig) providerConfig()    {}

func (c LocalConfig) Validate() error {
	if c.PasswordMinLength != 0 && c.PasswordMinLength < 8 {
		return fmt.Errorf("%w: password_min_length must be at least 8", ErrInvalidProviderConfig)
	}
	return nil
}

type providerEnvelope struct {
	Type   ProviderType    `json:"type"`
	Config json.RawMessage `json:"config"`
}

// MarshalProviderConfig encodes a config into its tagged envelope.
func MarshalProviderConfig(cfg ProviderConfig) ([]byte, error) {
	if cfg == nil {
		cfg = LocalConfig{}
	}
	raw, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	return json.Marshal(providerEnvelope{Type: cfg.Type(), Config: raw})
}

// UnmarshalProviderConfig decodes and validates a tagged envelope. Empty
// input yields LocalConfig.
func UnmarshalProviderConfig(data []byte) (ProviderConfig, error) {
	if len(data) == 0 || string(data) == "null" {
		return LocalConfig{}, nil
	}

	var env providerEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProviderConfig, err)
	}

	switch env.Type {
	case ProviderAzureAD:
		return decodeVariant[AzureADConfig](env.Config)
	case ProviderAuth0:
		return decodeVariant[Auth0Config](env.Config)
	case ProviderSAML:
		return decodeVariant[SAMLConfig](env.Config)
	case ProviderLocal:
		return decodeVariant[LocalConfig](env.Config)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownProviderType, env.Type)
}

func decodeVariant[T ProviderConfig](raw json.RawMessage) (ProviderConfig, error) {
	var v T
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidProviderConfig, err)
		}
	}
	if err := v.Validate(); err != nil {
		return nil, err
	}
	return v, nil
}

func requireFields(p ProviderType, fields map[string]string) error {
	for name, value := range fields {
		if strings.TrimSpace(value) == "" {
			return fmt.Errorf("%w: %s requires %s", ErrInvalidProviderConfig, p, name)
		}
	}
	return nil
}

func withDefaultScopes(scopes []string) []string {
	if len(scopes) > 0 {
		return scopes
	}
	return []string{"openid", "profile", "email"}
}
