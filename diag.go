package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// DiagReport is the masked, renderable outcome of a full matrix sweep.
type DiagReport struct {
	UserID    string
	EgressIP  string
	Primary   *CredentialBundle
	Legacy    *CredentialBundle
	Results   []AttemptResult
	Probes    []ShardProbe
	Hints     []string
	EncKeySet bool
}

// RunDiagnostics executes every matrix cell without stopping at the first
// success, then explains what it saw. Meant for operators chasing "why does
// reauth fail for this user"; everything in the report is safe to paste.
func (c *StoreClient) RunDiagnostics(ctx context.Context, userID string) (*DiagReport, error) {
	report := &DiagReport{UserID: userID, EncKeySet: GetCookieEncKey() != ""}

	primary, legacy, err := c.loadBundles(ctx, userID)
	if err != nil {
		return nil, err
	}
	report.Primary = primary
	report.Legacy = legacy

	if ip, err := fetchPublicIP(ctx, c.endpoints.IPEchoURL); err == nil {
		report.EgressIP = maskIP(ip)
	} else {
		c.logger.Log("egress ip check failed: %v", err)
	}

	var winner *AuthSession
	for _, spec := range buildAttempts(primary, legacy) {
		if ctx.Err() != nil {
			break
		}
		result := c.runAttempt(ctx, spec)
		report.Results = append(report.Results, result)

		if winner == nil && result.Succeeded() {
			winner = &AuthSession{
				Session: result.session,
				Tokens:  *result.Tokens,
				Spec:    spec,
				Variant: result.Variant,
			}
		}
	}

	if winner != nil {
		if creds, err := c.probeCredentials(ctx, winner); err == nil {
			report.Probes = c.probeShards(ctx, winner.Session, creds)
		} else {
			c.logger.Log("shard probe skipped: %v", err)
		}
	}

	report.Hints = diagnoseHints(report)
	return report, nil
}

// probeCredentials assembles just enough pipeline material to probe shards.
func (c *StoreClient) probeCredentials(ctx context.Context, auth *AuthSession) (pdCredentials, error) {
	entitlements, err := c.fetchEntitlements(ctx, auth)
	if err != nil {
		return pdCredentials{}, err
	}
	puuid, err := c.resolveIdentity(ctx, auth)
	if err != nil {
		return pdCredentials{}, err
	}
	version, err := c.clientVersion(ctx)
	if err != nil {
		return pdCredentials{}, err
	}
	return pdCredentials{
		puuid:        puuid,
		access:       auth.Tokens.AccessToken,
		entitlements: entitlements,
		version:      version,
	}, nil
}

// diagnoseHints turns a sweep into remediation suggestions. Pure over the
// report so it can be tested without any network.
func diagnoseHints(report *DiagReport) []string {
	var hints []string

	if len(report.Results) == 0 {
		hints = append(hints, "no usable bundle found in any store; capture cookies first")
		if !report.EncKeySet {
			hints = append(hints, "COOKIE_ENC_KEY is not configured; the database store cannot decrypt bundles")
		}
		return hints
	}

	var anyOK, fullOK, ssidOK, storedOK, defaultOK bool
	allChallenged := true
	for i := range report.Results {
		r := &report.Results[i]
		if !r.Challenged() {
			allChallenged = false
		}
		if !r.Succeeded() {
			continue
		}
		anyOK = true
		if r.Spec.Scope == CookieScopeFull {
			fullOK = true
		} else {
			ssidOK = true
		}
		if r.Spec.Agent == AgentStored {
			storedOK = true
		} else {
			defaultOK = true
		}
	}

	switch {
	case !anyOK && allChallenged:
		hints = append(hints, "every attempt hit a bot challenge; switch the egress network path and retry")
	case !anyOK:
		hints = append(hints, "no attempt succeeded; the ssid cookie is dead, sign in again and re-capture")
	default:
		if ssidOK && !fullOK {
			hints = append(hints, "ssid-only attempts pass while full-bundle ones fail; the secondary cookies are stale, re-capture them")
		}
		if storedOK && !defaultOK {
			hints = append(hints, "only the stored user agent works; keep presenting the captured agent for this user")
		}
	}

	if !report.EncKeySet {
		hints = append(hints, "COOKIE_ENC_KEY is not configured; the database store cannot decrypt bundles")
	}
	return hints
}

// Render formats the report for a terminal. Secrets stay masked; raw tokens
// and cookie values never appear here.
func (r *DiagReport) Render() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "reauth diagnostics for user %s\n", r.UserID)
	if r.EgressIP != "" {
		fmt.Fprintf(&sb, "egress ip: %s\n", r.EgressIP)
	}
	fmt.Fprintf(&sb, "db bundle:   %s\n", r.Primary.Summary())
	fmt.Fprintf(&sb, "file bundle: %s\n", r.Legacy.Summary())
	sb.WriteByte('\n')

	if len(r.Results) == 0 {
		sb.WriteString("no attempts were runnable\n")
	}
	for i := range r.Results {
		res := &r.Results[i]
		fmt.Fprintf(&sb, "%-24s POST=%-8s GET=%-8s ok=%-5t", res.Spec.Label(),
			renderCodes(res, func(o VariantOutcome) int { return o.PostStatus }),
			renderCodes(res, func(o VariantOutcome) int { return o.GetStatus }),
			res.Succeeded())
		if res.Challenged() {
			sb.WriteString(" CHALLENGE")
		}
		if res.Succeeded() {
			fmt.Fprintf(&sb, " variant=%s", res.Variant)
		}
		if res.Err != nil {
			fmt.Fprintf(&sb, " err=%v", res.Err)
		}
		sb.WriteByte('\n')
	}

	if len(r.Probes) > 0 {
		sb.WriteString("\nshard probe:")
		for _, probe := range r.Probes {
			fmt.Fprintf(&sb, " %s=%s", probe.Shard, renderCode(probe.Status))
		}
		sb.WriteByte('\n')
	}

	if len(r.Hints) > 0 {
		sb.WriteString("\nhints:\n")
		for _, hint := range r.Hints {
			fmt.Fprintf(&sb, "  - %s\n", hint)
		}
	}
	return sb.String()
}

// renderCodes joins per-variant status codes, e.g. "403/302".
func renderCodes(res *AttemptResult, pick func(VariantOutcome) int) string {
	if len(res.Outcomes) == 0 {
		return "-"
	}
	parts := make([]string, 0, len(res.Outcomes))
	for _, o := range res.Outcomes {
		parts = append(parts, renderCode(pick(o)))
	}
	return strings.Join(parts, "/")
}

func renderCode(code int) string {
	if code == statusNone {
		return "ERR"
	}
	return strconv.Itoa(code)
}
