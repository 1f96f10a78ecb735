package apiclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/aetherfit/aetherfit-front/internal/apperr"
	"github.com/aetherfit/aetherfit-front/internal/ioutil"
	"github.com/aetherfit/aetherfit-front/internal/log"
	"github.com/aetherfit/aetherfit-front/internal/metrics"
	"github.com/aetherfit/aetherfit-front/internal/navigate"
	"github.com/aetherfit/aetherfit-front/internal/notify"
)

const (
	sessionExpiredMessage = "Your session has expired. Please sign in again."
	forbiddenMessage      = "You do not have permission to do that."
)

// RequestInterceptor adjusts an outgoing request. An error aborts the call.
type RequestInterceptor func(ctx context.Context, req *http.Request) error

// ResponseInterceptor inspects a response. An error rejects the call, and
// the interceptor is then responsible for closing the body.
type ResponseInterceptor func(ctx context.Context, req *http.Request, resp *http.Response) error

// install registers the client's interceptors. Later calls do nothing.
func (c *Client) install() {
	c.installOnce.Do(func() {
		c.requestInterceptors = append(c.requestInterceptors, c.authorize)
		c.responseInterceptors = append(c.responseInterceptors, c.classify)
	})
}

// authorize attaches the token as it is in storage right now.
func (c *Client) authorize(ctx context.Context, req *http.Request) error {
	if c.tokens == nil {
		return nil
	}
	token, ok, err := c.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("reading access token: %w", err)
	}
	if ok {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return nil
}

// classify maps the response status onto the error taxonomy and performs
// the central 401 and 403 handling.
func (c *Client) classify(ctx context.Context, req *http.Request, resp *http.Response) error {
	status := resp.StatusCode
	if status >= 200 && status < 300 {
		return nil
	}

	switch status {
	case http.StatusUnauthorized:
		ioutil.Drain(resp.Body)
		log.LogWarnWithFields("apiclient", "Backend rejected session", map[string]any{
			"method": req.Method,
			"path":   req.URL.Path,
		})
		if c.session != nil {
			c.session.Expire(context.WithoutCancel(ctx))
		}
		notify.FromContext(ctx, c.notifier).Notify(notify.LevelError, sessionExpiredMessage)
		navigate.FromContext(ctx, c.navigator).Redirect(c.cfg.SignInRoute)
		return &apperr.UnauthorizedError{Method: req.Method, Path: req.URL.Path}

	case http.StatusForbidden:
		ioutil.Drain(resp.Body)
		log.LogInfoWithFields("apiclient", "Backend denied access", map[string]any{
			"method": req.Method,
			"path":   req.URL.Path,
		})
		notify.FromContext(ctx, c.notifier).Notify(notify.LevelWarning, forbiddenMessage)
		navigate.FromContext(ctx, c.navigator).Redirect(c.cfg.HomeRoute)
		return &apperr.ForbiddenError{Method: req.Method, Path: req.URL.Path}
	}

	body := ioutil.ReadLimited(resp.Body, c.cfg.MaxErrorBody)
	ioutil.Drain(resp.Body)
	return &apperr.RequestError{Status: status, Body: body}
}

func networkError(req *http.Request, err error) error {
	return &apperr.NetworkError{Op: req.Method + " " + req.URL.Path, Err: err}
}

func outcomeOf(err error) string {
	var unauthorized *apperr.UnauthorizedError
	var forbidden *apperr.ForbiddenError
	switch {
	case errors.As(err, &unauthorized):
		return metrics.OutcomeUnauthorized
	case errors.As(err, &forbidden):
		return metrics.OutcomeForbidden
	}
	return metrics.OutcomeRequestError
}
