// Package main hosts the booklist entrypoint.
//
// Architecture overview:
//   - Production line: internal/pipeline.Controller owns one run at a time. Discovery (internal/trends) fills at
//     most two slots from the user's book plus trending titles not yet archived. internal/content generates both
//     posts concurrently and all-or-nothing through the shared retry budget in internal/fetch. internal/render then
//     captures each post's cards one at a time on a headless Chrome surface, and internal/export packages the day's
//     folders into a single zip delivered to the configured blob store (local/GCS/memory).
//   - Archive: completed books are appended to internal/archive (memory, SQLite or Postgres), scoped by app and user
//     id. Discovery skips archived books; deleting an entry makes a book eligible again.
//   - Surfaces: `serve` exposes the HTTP API (runs, live state over WebSocket, archive, settings, downloads,
//     /metrics) and optionally a cron schedule; `run` executes one cycle in the foreground, optionally under the
//     Bubble Tea dashboard; `key` and `archive` manage the stored API key and the archive.
//   - Plumbing: Viper loads config from file and BOOKLIST_* variables; zap carries structured logs; Prometheus
//     collects HTTP, generation and run metrics; OpenTelemetry spans cover each pipeline stage; completion notices
//     go to Pub/Sub when a topic is configured.
//
// Quick checklist:
//   - Store a key: booklist key set <api-key> (or set BOOKLIST_GENAI_API_KEY).
//   - One run: booklist run --book "Atomic Habits" --tui
//   - Service: booklist serve --config booklist.toml (honours PORT; SIGTERM drains in-flight requests).
package main
