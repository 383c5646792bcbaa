package anydo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/aioue/any.down/internal/transport"
)

const codeAttempts = 3

// requestedExperiments is part of the login payload the web client sends.
// The server keys behavior off it, so it is reproduced verbatim.
var requestedExperiments = []string{
	"AI_FEATURES",
	"MAC_IN_REVIEW",
	"WEB_LOCALIZED_PRICING_FEB23",
	"WEB_OB_AI_MAR_24",
	"WEB_PREMIUM_TRIAL",
	"WEB_CALENDAR_QUOTA",
}

// loginAttempt is the transient credential state for one Login call. It is
// never persisted; it dies with the call on success, exhaustion, or
// cancellation.
type loginAttempt struct {
	email     string
	password  string
	clientID  string
	remaining int
}

type loginPayload struct {
	Platform             string          `json:"platform"`
	Referrer             string          `json:"referrer"`
	RequestedExperiments []string        `json:"requested_experiments"`
	CreatePredefined     map[string]bool `json:"create_predefined_data"`
	ClientID             string          `json:"client_id"`
	Locale               string          `json:"locale"`
	Email                string          `json:"email"`
	Password             string          `json:"password"`
	Code                 string          `json:"code,omitempty"`
}

func (a *loginAttempt) payload(code string) loginPayload {
	return loginPayload{
		Platform:             "web",
		Referrer:             "",
		RequestedExperiments: requestedExperiments,
		CreatePredefined:     map[string]bool{"lists": true, "label": true},
		ClientID:             a.clientID,
		Locale:               "en",
		Email:                a.email,
		// The service authenticates the whole (email, password, code)
		// triple on every verification, so the password rides along each
		// time.
		Password: a.password,
		Code:     code,
	}
}

// Login drives the credential flow: existence check, one-time-code
// dispatch, then up to three code verifications supplied by prompter. On
// success the client is Authenticated, the profile fetched, the timezone
// updated, and the session persisted. Terminal failures return *AuthError.
//
// Login is not reentrant; a call while a previous one is verifying returns
// ErrLoginInProgress.
func (c *Client) Login(ctx context.Context, email, password string, prompter CodePrompter) error {
	c.mu.Lock()
	if c.state == StateCodeTriggered || c.state == StateCodeVerifying {
		c.mu.Unlock()
		return &AuthError{State: c.state, Err: ErrLoginInProgress}
	}
	if c.state == StateAuthenticated {
		c.mu.Unlock()
		return nil
	}
	c.state = StateCredentialsPending
	c.mu.Unlock()

	attempt := &loginAttempt{
		email:     email,
		password:  password,
		clientID:  c.clientID,
		remaining: codeAttempts,
	}

	err := c.runLogin(ctx, attempt, prompter)

	c.mu.Lock()
	if err != nil {
		c.state = StateUnauthenticated
	}
	c.mu.Unlock()
	return err
}

func (c *Client) runLogin(ctx context.Context, attempt *loginAttempt, prompter CodePrompter) error {
	if err := c.checkEmail(ctx, attempt.email); err != nil {
		return err
	}

	if err := c.triggerCode(ctx, attempt); err != nil {
		return err
	}
	c.setState(StateCodeTriggered)

	for attempt.remaining > 0 {
		attempt.remaining--
		c.setState(StateCodeVerifying)

		code, err := prompter.RequestCode(ctx)
		if err != nil {
			// Cancellation aborts immediately; the transient attempt is
			// discarded and nothing partial persists.
			return &AuthError{State: StateCodeVerifying, Err: err}
		}
		if !validCode(code) {
			c.logger.Info("code rejected locally", "reason", "must be 6 digits")
			continue
		}

		ok, err := c.verifyCode(ctx, attempt, code)
		if err != nil {
			return err
		}
		if ok {
			return c.completeLogin(ctx)
		}
		c.logger.Info("code rejected by server", "attempts_left", attempt.remaining)
	}

	return &AuthError{State: StateCodeVerifying, Err: ErrCodeExhausted}
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func validCode(code string) bool {
	if len(code) != 6 {
		return false
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// checkEmail is a best-effort existence probe. Only an explicit "no such
// account" answer is terminal; any other failure (non-200, bad body,
// transport error) continues the flow.
func (c *Client) checkEmail(ctx context.Context, email string) error {
	payload, err := json.Marshal(map[string]string{"email": email})
	if err != nil {
		return fmt.Errorf("marshaling email check: %w", err)
	}

	resp, err := c.http.Do(ctx, http.MethodPost, c.endpoint("/check_email"), &transport.Options{Body: payload})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		c.logger.Info("email check failed, continuing", "error", err)
		return nil
	}
	if resp.StatusCode != http.StatusOK {
		c.logger.Info("email check inconclusive, continuing", "status", resp.StatusCode)
		return nil
	}

	var answer struct {
		UserExists bool `json:"user_exists"`
	}
	if err := json.Unmarshal(resp.Body, &answer); err != nil {
		c.logger.Info("email check unparseable, continuing", "error", err)
		return nil
	}
	if !answer.UserExists {
		return &AuthError{State: StateCredentialsPending, Err: ErrAccountNotFound}
	}
	return nil
}

// triggerCode asks the service to dispatch the one-time code. A non-200
// here is tolerated: the code may already be queued.
func (c *Client) triggerCode(ctx context.Context, attempt *loginAttempt) error {
	body, err := json.Marshal(attempt.payload(""))
	if err != nil {
		return fmt.Errorf("marshaling code trigger: %w", err)
	}

	resp, err := c.http.Do(ctx, http.MethodPost, c.endpoint("/login-2fa"), &transport.Options{Body: body})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return &AuthError{State: StateCredentialsPending, Err: fmt.Errorf("triggering code dispatch: %w", err)}
	}
	if resp.StatusCode != http.StatusOK {
		c.logger.Info("code trigger returned non-200, continuing", "status", resp.StatusCode)
	}
	return nil
}

// verifyCode submits one (email, password, code) triple. Returns (true, nil)
// on success with the token installed, (false, nil) on a rejected code, and
// an error only for aborts.
func (c *Client) verifyCode(ctx context.Context, attempt *loginAttempt, code string) (bool, error) {
	body, err := json.Marshal(attempt.payload(code))
	if err != nil {
		return false, fmt.Errorf("marshaling code verification: %w", err)
	}

	resp, err := c.http.Do(ctx, http.MethodPost, c.endpoint("/login-2fa-code"), &transport.Options{Body: body})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return false, err
		}
		c.logger.Info("code verification request failed", "error", err)
		return false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return false, nil
	}

	token := extractToken(resp)
	if token == "" {
		c.logger.Info("verification succeeded but no auth token found")
		return false, nil
	}

	c.mu.Lock()
	c.sess.AuthToken = token
	c.mu.Unlock()
	c.http.SetHeader(authTokenHeader, token)
	return true, nil
}

// extractToken pulls the auth token from the response body, falling back to
// the response header when the body cannot be parsed.
func extractToken(resp *transport.Response) string {
	var answer struct {
		AuthToken string `json:"auth_token"`
	}
	if err := json.Unmarshal(resp.Body, &answer); err == nil && answer.AuthToken != "" {
		return answer.AuthToken
	}
	return resp.Header.Get(authTokenHeader)
}

// completeLogin runs the post-verification handshake: profile fetch,
// timezone update, persistence.
func (c *Client) completeLogin(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = StateAuthenticated

	if _, err := c.fetchProfileLocked(ctx); err != nil {
		// Authenticated regardless; the profile can be fetched later.
		c.logger.Warn("profile fetch after login failed", "error", err)
	}
	c.updateTimezoneLocked(ctx)
	c.persist()
	c.logger.Info("login complete", "email", c.profileEmail())
	return nil
}

// Logout discards the session everywhere: memory, transport, disk.
func (c *Client) Logout() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidate()
	c.state = StateUnauthenticated
}
