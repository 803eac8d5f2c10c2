package slack

import (
	"fmt"
	"io"
	"net/http"

	goslack "github.com/slack-go/slack"
)

// VerifySignature validates an inbound Slack request against its
// X-Slack-Signature/X-Slack-Request-Timestamp headers using the app's
// signing secret, returning the raw body for the caller to parse. Replaces
// the body reader on r so downstream handlers can still read it.
func VerifySignature(r *http.Request, signingSecret string) ([]byte, error) {
	verifier, err := goslack.NewSecretsVerifier(r.Header, signingSecret)
	if err != nil {
		return nil, fmt.Errorf("build slack signature verifier: %w", err)
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, fmt.Errorf("read webhook body: %w", err)
	}
	_ = r.Body.Close()

	if _, err := verifier.Write(body); err != nil {
		return nil, fmt.Errorf("hash webhook body: %w", err)
	}
	if err := verifier.Ensure(); err != nil {
		return nil, fmt.Errorf("verify slack signature: %w", err)
	}
	return body, nil
}
