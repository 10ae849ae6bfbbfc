package server

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/warrenmnocos/oauth2/auth"
	"github.com/warrenmnocos/oauth2/clients"
	srverrors "github.com/warrenmnocos/oauth2/internal/errors"
	"github.com/warrenmnocos/oauth2/internal/metrics"
	"github.com/warrenmnocos/oauth2/oauth2"
	"github.com/warrenmnocos/oauth2/token"
)

const contentTypeJSON = "application/json; charset=utf-8"

// Token handles the OAuth2 token endpoint for the password,
// client_credentials and refresh_token grants.
func (s *Server) Token() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			writeJSONError(w, oauth2.ErrorInvalidRequest, "Failed to parse form data", http.StatusBadRequest)
			return
		}

		tokenReq := oauth2.TokenRequest{
			GrantType:    oauth2.GrantType(r.FormValue("grant_type")),
			ClientID:     r.FormValue("client_id"),
			ClientSecret: r.FormValue("client_secret"),
			Username:     r.FormValue("username"),
			Password:     r.FormValue("password"),
			RefreshToken: r.FormValue("refresh_token"),
			Scope:        r.FormValue("scope"),
		}

		client, ok := s.authenticateClient(w, tokenReq)
		if !ok {
			return
		}

		var (
			accessToken *token.AccessToken
			err         error
		)

		switch tokenReq.GrantType {
		case oauth2.PasswordGrant:
			accessToken, err = s.passwordGrant(r, client, tokenReq)
		case oauth2.ClientCredentialsGrant:
			accessToken, err = s.clientCredentialsGrant(r, client, tokenReq)
		case oauth2.RefreshTokenGrant:
			if tokenReq.RefreshToken == "" {
				writeJSONError(w, oauth2.ErrorInvalidRequest, "refresh_token parameter is required", http.StatusBadRequest)
				return
			}
			accessToken, err = s.tokens.RefreshAccessToken(r.Context(), tokenReq.RefreshToken, tokenReq)
		default:
			writeJSONError(w, oauth2.ErrorUnsupportedGrantType, "Unsupported grant type", http.StatusBadRequest)
			return
		}

		if err != nil {
			writeTokenError(w, err)
			return
		}

		w.Header().Set("Content-Type", contentTypeJSON)
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Pragma", "no-cache")
		_ = json.NewEncoder(w).Encode(token.Response(accessToken, time.Now()))
	}
}

// Revoke handles RFC 7009 token revocation. Per the RFC the endpoint
// responds 200 whether or not the token was found.
func (s *Server) Revoke() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			writeJSONError(w, oauth2.ErrorInvalidRequest, "Failed to parse form data", http.StatusBadRequest)
			return
		}

		tokenValue := r.FormValue("token")
		if tokenValue == "" {
			writeJSONError(w, oauth2.ErrorInvalidRequest, "token parameter is required", http.StatusBadRequest)
			return
		}

		found, err := s.tokens.RevokeToken(r.Context(), tokenValue)
		if err != nil {
			writeTokenError(w, err)
			return
		}
		if !found {
			log.Debug().Msg("revocation requested for unknown token")
		}

		w.WriteHeader(http.StatusOK)
	}
}

// Introspect reports the state of an access token (RFC 7662 shape).
func (s *Server) Introspect() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			writeJSONError(w, oauth2.ErrorInvalidRequest, "Failed to parse form data", http.StatusBadRequest)
			return
		}

		tokenValue := r.FormValue("token")
		if tokenValue == "" {
			writeJSONError(w, oauth2.ErrorInvalidRequest, "token parameter is required", http.StatusBadRequest)
			return
		}

		resp := map[string]any{"active": false}

		accessToken, err := s.tokens.ReadAccessToken(r.Context(), tokenValue)
		if err != nil {
			writeTokenError(w, err)
			return
		}
		if accessToken != nil && !accessToken.Expired(time.Now()) {
			resp["active"] = true
			resp["token_type"] = accessToken.TokenType
			resp["scope"] = token.JoinScopes(accessToken.Scope)
			resp["exp"] = accessToken.Expiration.Unix()

			if authentication, err := s.tokens.LoadAuthentication(r.Context(), tokenValue); err == nil {
				resp["client_id"] = authentication.ClientID
				if authentication.Principal != "" {
					resp["sub"] = authentication.Principal
				}
			}
		}

		w.Header().Set("Content-Type", contentTypeJSON)
		_ = json.NewEncoder(w).Encode(resp)
	}
}

func (s *Server) passwordGrant(r *http.Request, client *clients.Client, tokenReq oauth2.TokenRequest) (*token.AccessToken, error) {
	principal, err := s.authenticator.Validate(r.Context(), auth.Credentials{
		Username: tokenReq.Username,
		Password: tokenReq.Password,
	})
	if err != nil {
		return nil, err
	}

	if err := client.ValidateScopes(tokenReq.Scope); err != nil {
		return nil, srverrors.ErrInvalidScope
	}

	return s.tokens.CreateAccessToken(r.Context(), &token.Authentication{
		ClientID:  client.ID,
		Principal: principal.ID,
		Scope:     clients.SplitScopes(tokenReq.Scope),
		GrantType: string(oauth2.PasswordGrant),
	})
}

func (s *Server) clientCredentialsGrant(r *http.Request, client *clients.Client, tokenReq oauth2.TokenRequest) (*token.AccessToken, error) {
	if err := client.ValidateScopes(tokenReq.Scope); err != nil {
		return nil, srverrors.ErrInvalidScope
	}

	return s.tokens.CreateAccessToken(r.Context(), &token.Authentication{
		ClientID:  client.ID,
		Scope:     clients.SplitScopes(tokenReq.Scope),
		GrantType: string(oauth2.ClientCredentialsGrant),
	})
}

// authenticateClient looks up the client registration and checks its secret.
// It writes the error response itself and reports success via ok.
func (s *Server) authenticateClient(w http.ResponseWriter, tokenReq oauth2.TokenRequest) (*clients.Client, bool) {
	if tokenReq.ClientID == "" {
		writeJSONError(w, oauth2.ErrorInvalidRequest, "client_id parameter is required", http.StatusBadRequest)
		return nil, false
	}

	client, err := s.clientRepo.Get(tokenReq.ClientID)
	if err != nil || client == nil {
		writeJSONError(w, oauth2.ErrorInvalidClient, "Unknown client", http.StatusUnauthorized)
		return nil, false
	}

	if client.Secret != "" {
		if subtle.ConstantTimeCompare([]byte(client.Secret), []byte(tokenReq.ClientSecret)) != 1 {
			writeJSONError(w, oauth2.ErrorInvalidClient, "Client authentication failed", http.StatusUnauthorized)
			return nil, false
		}
	}

	if !client.AllowsGrantType(string(tokenReq.GrantType)) {
		writeJSONError(w, oauth2.ErrorInvalidGrant, "Grant type not allowed for client", http.StatusBadRequest)
		return nil, false
	}

	return client, true
}

// writeTokenError maps the internal error taxonomy onto RFC 6749 responses.
func writeTokenError(w http.ResponseWriter, err error) {
	code, description, status := classifyTokenError(err)
	metrics.TokenErrors.WithLabelValues(code).Inc()
	writeJSONError(w, code, description, status)
}

func classifyTokenError(err error) (code, description string, status int) {
	switch {
	case errors.Is(err, srverrors.ErrInvalidGrant):
		return oauth2.ErrorInvalidGrant, "Invalid grant", http.StatusBadRequest
	case errors.Is(err, srverrors.ErrInvalidToken):
		return oauth2.ErrorInvalidToken, "Invalid token", http.StatusUnauthorized
	case errors.Is(err, srverrors.ErrInvalidScope):
		return oauth2.ErrorInvalidScope, "Requested scope exceeds client grant", http.StatusBadRequest
	case errors.Is(err, srverrors.ErrInvalidCredentials),
		errors.Is(err, srverrors.ErrUserBlocked),
		errors.Is(err, srverrors.ErrUserNotVerified):
		return oauth2.ErrorInvalidGrant, "Authentication failed", http.StatusBadRequest
	case errors.Is(err, srverrors.ErrClientNotFound):
		return oauth2.ErrorInvalidClient, "Unknown client", http.StatusUnauthorized
	case errors.Is(err, srverrors.ErrStoreUnavailable):
		log.Error().Err(err).Msg("token store unavailable")
		return oauth2.ErrorServerError, "Temporary server error", http.StatusServiceUnavailable
	default:
		log.Error().Err(err).Msg("token request failed")
		return oauth2.ErrorServerError, "Internal server error", http.StatusInternalServerError
	}
}

func writeJSONError(w http.ResponseWriter, code, description string, status int) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(oauth2.ErrorResponse{
		Code:        code,
		Description: description,
	})
}
