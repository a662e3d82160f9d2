package cmd

import (
	"strings"

	"frameworks/pkg/config"
)

// appConfig holds every environment-derived tunable subcaptiond's
// subcommands need, gathered once in bootstrap so serve/worker/clean
// share identical wiring.
type appConfig struct {
	Port     string
	Workers  int
	CleanCron string

	DatabaseURL string

	RedisAddrs    []string
	RedisPassword string

	JWTSecret string

	BlobBucket    string
	BlobRegion    string
	BlobEndpoint  string
	BlobAccessKey string
	BlobSecretKey string

	FreeMinutesLimit float64
	MaxUploadBytes   int64

	FFmpegPath  string
	FFprobePath string

	TranscribeEndpoint string
	TranscribeAPIKey   string

	TranslateEndpoint string
	TranslateAPIKey   string
	TranslateModel    string
	TranslateRPH      int
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// loadAppConfig reads the process environment. Required values use
// config.RequireEnv, which exits the process with a fatal log line if
// unset — that is subcaptiond's exit-code-1 "fatal config error" path.
func loadAppConfig() appConfig {
	return appConfig{
		Port:      config.GetEnv("PORT", "8080"),
		Workers:   config.GetEnvInt("WORKERS", 4),
		CleanCron: config.GetEnv("CLEAN_CRON", "0 * * * *"),

		DatabaseURL: config.RequireEnv("DATABASE_URL"),

		RedisAddrs:    splitCSV(config.GetEnv("REDIS_ADDRS", "localhost:6379")),
		RedisPassword: config.GetEnv("REDIS_PASSWORD", ""),

		JWTSecret: config.RequireEnv("JWT_SECRET"),

		BlobBucket:    config.RequireEnv("BLOB_BUCKET"),
		BlobRegion:    config.GetEnv("BLOB_REGION", "us-east-1"),
		BlobEndpoint:  config.GetEnv("BLOB_ENDPOINT", ""),
		BlobAccessKey: config.GetEnv("BLOB_ACCESS_KEY", ""),
		BlobSecretKey: config.GetEnv("BLOB_SECRET_KEY", ""),

		FreeMinutesLimit: float64(config.GetEnvInt("FREE_MINUTES_LIMIT", 20)),
		MaxUploadBytes:   int64(config.GetEnvInt("MAX_UPLOAD_BYTES", 2<<30)),

		FFmpegPath:  config.GetEnv("FFMPEG_PATH", "ffmpeg"),
		FFprobePath: config.GetEnv("FFPROBE_PATH", "ffprobe"),

		TranscribeEndpoint: config.RequireEnv("TRANSCRIBE_ENDPOINT"),
		TranscribeAPIKey:   config.GetEnv("TRANSCRIBE_API_KEY", ""),

		TranslateEndpoint: config.GetEnv("TRANSLATE_ENDPOINT", "https://api.openai.com/v1/chat/completions"),
		TranslateAPIKey:   config.GetEnv("TRANSLATE_API_KEY", ""),
		TranslateModel:    config.GetEnv("TRANSLATE_MODEL", "gpt-5-mini"),
		TranslateRPH:      config.GetEnvInt("TRANSLATE_REQUESTS_PER_HOUR", 3000),
	}
}
