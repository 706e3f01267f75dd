// cmd/preflight/main.go
package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	failed := false
	fail := func(msg string) {
		fmt.Fprintln(os.Stderr, "✖", msg)
		failed = true
	}
	warn := func(msg string) { fmt.Fprintln(os.Stderr, "⚠", msg) }
	ok := func(msg string) { fmt.Println("✔", msg) }
	env := func(k string) string { return strings.TrimSpace(os.Getenv(k)) }

	if env("VAPID_PUBLIC_KEY") == "" || env("VAPID_PRIVATE_KEY") == "" {
		fail("VAPID_PUBLIC_KEY / VAPID_PRIVATE_KEY missing (push routes will 500). Generate with: cli vapid-keys")
	} else {
		ok("VAPID keys present")
	}
	if s := env("VAPID_SUBJECT"); s != "" && !strings.HasPrefix(s, "mailto:") && !strings.HasPrefix(s, "https:") {
		warn("VAPID_SUBJECT should be a mailto: or https: URL")
	}

	if env("CRON_SECRET") == "" {
		fail("CRON_SECRET is empty (dispatch and broadcast routes would be open).")
	} else {
		ok("CRON_SECRET present")
	}

	backend := strings.ToLower(env("STORE_BACKEND"))
	switch {
	case backend == "memory":
		warn("STORE_BACKEND=memory; subscriptions and dedupe claims are lost on restart.")
	case backend == "redis" || (backend == "" && env("REDIS_URL") != ""):
		if env("REDIS_URL") == "" {
			fail("STORE_BACKEND=redis but REDIS_URL is empty.")
		} else {
			ok("store: redis")
		}
	case backend == "postgres" || (backend == "" && env("DATABASE_URL") != ""):
		if env("DATABASE_URL") == "" {
			fail("STORE_BACKEND=postgres but DATABASE_URL is empty.")
		} else {
			ok("store: postgres")
		}
	case backend == "":
		warn("no REDIS_URL or DATABASE_URL; API will use the in-memory store.")
	default:
		fail("unknown STORE_BACKEND=" + backend)
	}

	if tz := env("DEDUPE_TIMEZONE"); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			fail("DEDUPE_TIMEZONE=" + tz + " is not a valid IANA zone.")
		} else {
			ok("DEDUPE_TIMEZONE=" + tz)
		}
	}

	if env("RESEND_API_KEY") == "" && env("SES_ENABLED") != "true" {
		warn("no mail provider configured; /api/send-alert will 500.")
	} else if env("FROM_EMAIL") == "" {
		fail("FROM_EMAIL is empty but a mail provider is configured.")
	}

	if env("SLACK_WEBHOOK_URL") == "" {
		warn("SLACK_WEBHOOK_URL empty; dispatch run summaries are only logged.")
	}

	if allowed := env("ALLOWED_ORIGINS"); allowed == "" {
		warn("ALLOWED_ORIGINS empty; CORS allows every origin.")
	} else {
		ok("ALLOWED_ORIGINS=" + allowed)
	}

	if failed {
		os.Exit(1)
	}
	ok("preflight passed")
}
