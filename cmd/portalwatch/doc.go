// Package main hosts the portal watcher service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes health, metrics, job submission and tenant
//     management endpoints. Manual jobs are persisted via the JobStore and enqueued on the
//     priority lane; the resume endpoint clears a tenant's automatic suspension.
//   - Scheduler & queue: a cron-driven sweep enqueues one background job per automated tenant
//     whose check interval has elapsed. Jobs flow through a two-lane queue (Redis when
//     configured, in-memory otherwise) where the manual lane always drains first, into a fixed
//     worker pool sized by config.Scrape.Workers. Failed jobs are re-enqueued with a fixed
//     delay until their retry budget runs out.
//   - Scrape pipeline: each job drives a headless Chromedp session against the portal: login
//     with CAPTCHA probing and a two-provider solver fallback chain, then extraction of the
//     quizzes, assignments, absences and course registration pages via goquery. Page-level
//     failures are recorded on the snapshot without failing the whole run.
//   - Diff & notify: the new snapshot is compared against the tenant's previous one by
//     per-category identity keys; new items, first-run summaries, errors, suspensions and
//     deadline reminders are rendered per channel (SES email, Telegram MarkdownV2, Discord
//     webhook) and deduplicated inside a trailing window before delivery.
//   - Failure handling: errors are classified into actionable categories; consecutive
//     countable failures suspend a tenant's automation at a configured threshold, and a
//     successful run or a manual resume re-enables it.
//   - Configuration & plumbing: Viper populates config from env/files; zap provides structured
//     logging; Prometheus collectors are exported via /metrics. Stores run on Postgres when a
//     DSN is configured and in memory otherwise.
//
// Run locally: go run ./cmd/portalwatch -config config.yaml (or rely solely on
// PORTALWATCH_* env overrides). The process reacts to SIGTERM for graceful drain of workers,
// scheduler and HTTP server.
package main
