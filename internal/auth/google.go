package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/sakif/job-tracker-web/internal/model"
	"github.com/sakif/job-tracker-web/internal/params"
	"github.com/sakif/job-tracker-web/internal/resolver"
)

var _ resolver.Provider = (*GoogleProvider)(nil)

// errTokenRejected is returned by userInfo or tokenInfo when Google refuses
// the access token. For a direct lookup that just means nobody is signed in.
var errTokenRejected = errors.New("auth: access token rejected")

// errForeignToken means the access token is valid but was issued to another
// OAuth client, so it says nothing about who signed in here.
var errForeignToken = errors.New("auth: access token was issued to another client")

// googleTokenInfo is the portion of Google's tokeninfo response we check.
type googleTokenInfo struct {
	Aud string `json:"aud"`
	Azp string `json:"azp"`
	Sub string `json:"sub"`
}

// googleUserInfo is the portion of Google's userinfo response we use.
// The v2 endpoint reports the subject as "id"; OIDC-style responses use "sub".
type googleUserInfo struct {
	ID            string `json:"id"`
	Sub           string `json:"sub"`
	Email         string `json:"email"`
	VerifiedEmail bool   `json:"verified_email"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
}

// GoogleProvider is Google OAuth 2.0 as the resolver sees it.
//
// Session covers the authorization code flow: a code on the callback is
// checked against the signed state and exchanged server-side. CurrentUser
// covers an access token handed back in the URL fragment.
type GoogleProvider struct {
	config       oauth2.Config
	userInfoURL  string
	tokenInfoURL string
	states       *StateTokens
	httpClient  *http.Client
}

// GoogleOption configures a GoogleProvider.
type GoogleOption func(*GoogleProvider)

// WithEndpoint replaces Google's authorization and token endpoints.
func WithEndpoint(ep oauth2.Endpoint) GoogleOption {
	return func(p *GoogleProvider) { p.config.Endpoint = ep }
}

// WithUserInfoURL replaces Google's userinfo endpoint.
func WithUserInfoURL(u string) GoogleOption {
	return func(p *GoogleProvider) { p.userInfoURL = u }
}

// WithTokenInfoURL replaces Google's tokeninfo endpoint.
func WithTokenInfoURL(u string) GoogleOption {
	return func(p *GoogleProvider) { p.tokenInfoURL = u }
}

// WithHTTPClient sets the client used for the token exchange and userinfo.
func WithHTTPClient(c *http.Client) GoogleOption {
	return func(p *GoogleProvider) { p.httpClient = c }
}

// NewGoogleProvider creates a GoogleProvider. redirectURL must match the
// authorized redirect URI registered in the Google Cloud console, e.g.
// "http://localhost:3000/auth/callback".
func NewGoogleProvider(clientID, clientSecret, redirectURL string, states *StateTokens, opts ...GoogleOption) *GoogleProvider {
	p := &GoogleProvider{
		config: oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       []string{"openid", "profile", "email"},
			Endpoint:     google.Endpoint,
		},
		userInfoURL:  "https://www.googleapis.com/oauth2/v2/userinfo",
		tokenInfoURL: "https://oauth2.googleapis.com/tokeninfo",
		states:       states,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *GoogleProvider) Name() model.Provider {
	return model.ProviderGoogle
}

// AuthURL returns the consent-screen URL for a login bound to nonce.
func (p *GoogleProvider) AuthURL(nonce string) (string, error) {
	state, err := p.states.Generate(nonce)
	if err != nil {
		return "", err
	}
	return p.config.AuthCodeURL(state,
		oauth2.AccessTypeOnline,
		oauth2.SetAuthURLParam("prompt", "select_account"),
	), nil
}

// Session completes the code flow. No code on the callback means there is
// no session to pick up, which is not an error.
func (p *GoogleProvider) Session(ctx context.Context, req resolver.Request) (*model.Identity, error) {
	code := req.Params.Merged.Get(params.KeyCode)
	if code == "" {
		return nil, nil
	}

	if err := p.states.Validate(req.Params.Merged.Get(params.KeyState), req.Nonce); err != nil {
		return nil, err
	}

	ctx = p.clientContext(ctx)
	token, err := p.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("auth: exchanging OAuth code: %w", err)
	}

	id, err := p.userInfo(ctx, token)
	if err != nil {
		return nil, err
	}
	return id, nil
}

// CurrentUser looks the user up with an access token from the URL, if any.
//
// The token is only trusted when the URL's state was issued to this browser
// and Google confirms the token belongs to our client id. Without both, a
// token minted for any other app, or one planted by another site, would
// sign its holder in. A token Google rejects counts as nobody signed in.
func (p *GoogleProvider) CurrentUser(ctx context.Context, req resolver.Request) (*model.Identity, error) {
	accessToken := req.Params.Merged.Get(params.KeyAccessToken)
	if accessToken == "" {
		return nil, nil
	}

	if err := p.states.Validate(req.Params.Merged.Get(params.KeyState), req.Nonce); err != nil {
		return nil, err
	}

	ctx = p.clientContext(ctx)
	info, err := p.tokenInfo(ctx, accessToken)
	if errors.Is(err, errTokenRejected) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	token := &oauth2.Token{AccessToken: accessToken, TokenType: req.Params.Merged.Get("token_type")}
	id, err := p.userInfo(ctx, token)
	if errors.Is(err, errTokenRejected) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if info.Sub != "" && info.Sub != id.ID {
		return nil, fmt.Errorf("auth: tokeninfo subject %s does not match userinfo id %s", info.Sub, id.ID)
	}
	return id, nil
}

// tokenInfo asks Google who the access token was issued to and checks it
// was us.
func (p *GoogleProvider) tokenInfo(ctx context.Context, accessToken string) (*googleTokenInfo, error) {
	endpoint := p.tokenInfoURL + "?" + url.Values{"access_token": {accessToken}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("auth: building tokeninfo request: %w", err)
	}

	client := http.DefaultClient
	if p.httpClient != nil {
		client = p.httpClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("auth: calling Google tokeninfo: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnauthorized:
		return nil, errTokenRejected
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("auth: Google tokeninfo returned status %d", resp.StatusCode)
	}

	var info googleTokenInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("auth: decoding Google tokeninfo: %w", err)
	}
	if p.config.ClientID == "" || (info.Aud != p.config.ClientID && info.Azp != p.config.ClientID) {
		return nil, errForeignToken
	}
	return &info, nil
}

func (p *GoogleProvider) clientContext(ctx context.Context) context.Context {
	if p.httpClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
}

func (p *GoogleProvider) userInfo(ctx context.Context, token *oauth2.Token) (*model.Identity, error) {
	client := p.config.Client(ctx, token)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("auth: building userinfo request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("auth: calling Google userinfo: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, errTokenRejected
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("auth: Google userinfo returned status %d", resp.StatusCode)
	}

	var info googleUserInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("auth: decoding Google userinfo: %w", err)
	}

	id := info.ID
	if id == "" {
		id = info.Sub
	}
	if id == "" || info.Email == "" {
		return nil, errors.New("auth: Google returned a user without id or email")
	}

	return &model.Identity{
		ID:       id,
		Email:    info.Email,
		FullName: info.Name,
		Provider: model.ProviderGoogle,
	}, nil
}
