package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

type lookupFunc func(key string) (string, bool)

// loadFromEnv overrides cfg from environment variables. Unset or empty
// variables leave the current value alone.
func loadFromEnv(cfg *Config, lookup lookupFunc) error {
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}
	str := func(key string, dst *string) {
		if v, ok := get(key); ok {
			*dst = v
		}
	}
	dur := func(key string, dst *Duration) error {
		v, ok := get(key)
		if !ok {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
		dst.Duration = d
		return nil
	}
	num := func(key string, dst *int) error {
		v, ok := get(key)
		if !ok {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
		*dst = n
		return nil
	}

	if v, ok := get("DEBUG"); ok {
		if dbg, err := strconv.ParseBool(v); err == nil {
			cfg.Debug = dbg
		}
	}
	str("LOG_FORMAT", &cfg.LogFormat)
	str("PORT", &cfg.Port)

	str("STORAGE_DRIVER", &cfg.Storage.Driver)
	str("SQLITE_PATH", &cfg.Storage.SQLitePath)
	str("STORAGE_CONNECTION_STRING", &cfg.Storage.ConnectionString)
	str("CHANGE_EVENTS_QUEUE", &cfg.Storage.ExportQueue)
	str("USERS_TABLE", &cfg.Storage.Tables.Users)
	str("TASKS_TABLE", &cfg.Storage.Tables.Tasks)
	str("NOTES_TABLE", &cfg.Storage.Tables.Notes)
	str("LABELS_TABLE", &cfg.Storage.Tables.Labels)
	str("WORKFLOWS_TABLE", &cfg.Storage.Tables.Workflows)
	str("FILTERS_TABLE", &cfg.Storage.Tables.Filters)

	str("REDIS_CONNECTION_STRING", &cfg.Redis.ConnectionString)
	str("REDIS_EVENTS_CHANNEL", &cfg.Redis.Channel)

	str("AUTH0_DOMAIN", &cfg.Auth.Domain)
	str("AUTH0_AUDIENCE", &cfg.Auth.Audience)
	str("LOCAL_AUTH_MODE", &cfg.Auth.LocalMode)
	str("LOCAL_AUTH_SHARED_SECRET", &cfg.Auth.SharedSecret)
	// Older deployments use the Auth0 test switch with its own secret.
	if v, ok := get("AUTH0_TEST_MODE"); ok && v == "1" && cfg.Auth.LocalMode == "" {
		cfg.Auth.LocalMode = "hs256"
		str("TEST_JWT_SECRET", &cfg.Auth.SharedSecret)
	}

	str("BODY_LIMIT", &cfg.HTTP.BodyLimit)
	if v, ok := get("CORS_ALLOW_ORIGINS"); ok {
		cfg.HTTP.AllowOrigins = splitList(v)
	}

	for key, dst := range map[string]*Duration{
		"LABEL_CACHE_TTL":    &cfg.Redis.LabelCacheTTL,
		"DEDUPER_TTL":        &cfg.Redis.DeduperTTL,
		"JWKS_CACHE_TTL":     &cfg.Auth.JWKSCacheTTL,
		"HEARTBEAT_INTERVAL": &cfg.Stream.HeartbeatInterval,
	} {
		if err := dur(key, dst); err != nil {
			return err
		}
	}
	if err := num("STREAM_BUFFER_SIZE", &cfg.Stream.BufferSize); err != nil {
		return err
	}
	return num("STREAM_OUTBOX_SIZE", &cfg.Stream.OutboxSize)
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
