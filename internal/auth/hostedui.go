package auth

import (
	"net/url"
	"strings"

	"golang.org/x/oauth2"

	"github.com/nugget/apiconsole/internal/config"
)

// HostedURLs are the external login, logout, and signup pages.
type HostedURLs struct {
	LoginURL  string `json:"loginUrl"`
	LogoutURL string `json:"logoutUrl"`
	SignupURL string `json:"signupUrl"`
}

var hostedScopes = []string{"email", "openid", "profile"}

// HostedUI builds the hosted-UI page URLs for an authorization-code
// flow that returns to <redirect_base>/callback.
func HostedUI(cfg config.HostedUIConfig) HostedURLs {
	domain := strings.TrimRight(cfg.Domain, "/")
	base := strings.TrimRight(cfg.RedirectBase, "/")

	page := func(path string) string {
		oc := &oauth2.Config{
			ClientID:    cfg.ClientID,
			RedirectURL: base + "/callback",
			Scopes:      hostedScopes,
			Endpoint:    oauth2.Endpoint{AuthURL: domain + path},
		}
		return oc.AuthCodeURL("")
	}

	logout := url.Values{}
	logout.Set("client_id", cfg.ClientID)
	logout.Set("logout_uri", base)

	return HostedURLs{
		LoginURL:  page("/login"),
		LogoutURL: domain + "/logout?" + logout.Encode(),
		SignupURL: page("/signup"),
	}
}
