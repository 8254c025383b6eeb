package apexunitlib

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"github.com/openshift/apex-test-runner/pkg/results"
)

const (
	DefaultLoginURL = "https://login.salesforce.com"
	tokenPath       = "/services/oauth2/token"
)

// PasswordCredentials are the inputs of the OAuth 2 username-password flow.
type PasswordCredentials struct {
	LoginURL     string
	ClientID     string
	ClientSecret string
	Username     string
	Password     string
}

// Session is the outcome of a successful login.
type Session struct {
	Tokens oauth2.TokenSource
	// InstanceURL is the org URL reported by the token endpoint, if any.
	InstanceURL string
	// AccessToken is exposed so that it can be censored from logs.
	AccessToken string
}

// Login runs the username-password flow once. Tokens obtained this way carry no
// refresh token, so the returned source is static for the rest of the run.
func Login(ctx context.Context, httpClient *http.Client, credentials PasswordCredentials) (*Session, error) {
	loginURL := strings.TrimSuffix(credentials.LoginURL, "/")
	if loginURL == "" {
		loginURL = DefaultLoginURL
	}
	config := &oauth2.Config{
		ClientID:     credentials.ClientID,
		ClientSecret: credentials.ClientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL:  loginURL + tokenPath,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
	if httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, httpClient)
	}

	logrus.WithFields(logrus.Fields{"login-url": loginURL, "username": credentials.Username}).Info("Logging in to the org.")
	token, err := config.PasswordCredentialsToken(ctx, credentials.Username, credentials.Password)
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.Response != nil && retrieveErr.Response.StatusCode < http.StatusInternalServerError {
			return nil, results.ForReason(results.ReasonConfiguration).WithError(err).Errorf("the org rejected the credentials for %s: %s", credentials.Username, describeRetrieveError(retrieveErr))
		}
		return nil, results.ForReason(results.ReasonTransport).WithError(err).Errorf("could not reach the token endpoint %s: %v", loginURL+tokenPath, err)
	}

	session := &Session{
		Tokens:      oauth2.StaticTokenSource(token),
		AccessToken: token.AccessToken,
	}
	if instanceURL, ok := token.Extra("instance_url").(string); ok {
		session.InstanceURL = instanceURL
	}
	return session, nil
}

func describeRetrieveError(err *oauth2.RetrieveError) string {
	if err.ErrorCode != "" {
		if err.ErrorDescription != "" {
			return fmt.Sprintf("%s: %s", err.ErrorCode, err.ErrorDescription)
		}
		return err.ErrorCode
	}
	return fmt.Sprintf("http %d", err.Response.StatusCode)
}

// StaticToken wraps an already obtained access token, e.g. from a session id file.
func StaticToken(accessToken string) oauth2.TokenSource {
	return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"})
}
