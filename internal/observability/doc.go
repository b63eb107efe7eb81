// Package observability records the agentq event journal (JSON Lines),
// derives queue metrics from it and evaluates queue-health alerts that can be
// posted to Slack.
package observability
