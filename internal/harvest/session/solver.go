package session

import (
	"context"
	"fmt"
	"net/http/cookiejar"
	"net/url"
	"time"

	"hemnet-harvester/lib/telemetry"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	browser "github.com/EDDYCJY/fake-useragent"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("harvest/session")

// CloudflareSolver drives a controlled resty client through the source's
// challenge. The bypass transport answers the passive fingerprinting layer;
// whatever clearance cookies come back get captured into the token together
// with the user agent they were issued for.
type CloudflareSolver struct {
	BaseURL string
	Timeout time.Duration
}

func (s CloudflareSolver) Solve(ctx context.Context) (Token, error) {
	ctx, span := tracer.Start(ctx, "solver:Solve")
	defer span.End()

	timeout := s.Timeout
	if timeout <= 0 {
		timeout = time.Second * 30
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	base, err := url.Parse(s.BaseURL)
	if err != nil {
		return Token{}, err
	}

	userAgent := browser.Chrome()

	client := resty.New()
	jar, err := cookiejar.New(nil)
	if err != nil {
		return Token{}, err
	}
	client.SetCookieJar(jar)
	client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)
	client.SetHeader("user-agent", userAgent)
	client.SetRedirectPolicy(resty.DomainCheckRedirectPolicy(base.Hostname()))
	client.SetTimeout(timeout)
	telemetry.InstrumentResty(client, "harvest/session/http")

	res, err := client.R().
		SetContext(ctx).
		Get(s.BaseURL)
	if err != nil {
		span.SetStatus(codes.Error, "challenge request failed")
		return Token{}, err
	}
	if IsChallengeResponse(res.StatusCode(), res.Body()) {
		span.SetStatus(codes.Error, "challenge not cleared")
		return Token{}, fmt.Errorf("challenge not cleared, status %d", res.StatusCode())
	}

	tok := Token{
		UserAgent:  userAgent,
		CapturedAt: time.Now(),
	}
	for _, c := range jar.Cookies(base) {
		tok.Cookies = append(tok.Cookies, Cookie{
			Name:    c.Name,
			Value:   c.Value,
			Domain:  c.Domain,
			Path:    c.Path,
			Expires: c.Expires,
		})
	}
	return tok, nil
}
