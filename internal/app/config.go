package app

import (
	"strings"
	"time"

	"github.com/harborpoint/advisory-backend/internal/pkg/envutil"
	"github.com/harborpoint/advisory-backend/internal/platform/logger"
)

type Config struct {
	Port          string
	JWTSecretKey  string
	AllowOrigins  []string
	MediaRoot     string
	ScoringMap    string
	ShutdownGrace time.Duration
}

func LoadConfig(log *logger.Logger) Config {
	port := envutil.GetEnv("PORT", "8080", log)
	jwtSecretKey := envutil.GetEnv("JWT_SECRET_KEY", "defaultsecret", log)
	mediaRoot := envutil.GetEnv("MEDIA_ROOT", "./media", log)
	scoringMap := envutil.GetEnv("SCORING_MAP", "", log)
	graceSeconds := envutil.GetEnvAsInt("SHUTDOWN_GRACE_SECONDS", 30, log)

	var origins []string
	for _, o := range strings.Split(envutil.GetEnv("CORS_ALLOW_ORIGINS", "http://localhost:3000", log), ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}

	return Config{
		Port:          port,
		JWTSecretKey:  jwtSecretKey,
		AllowOrigins:  origins,
		MediaRoot:     mediaRoot,
		ScoringMap:    scoringMap,
		ShutdownGrace: time.Duration(graceSeconds) * time.Second,
	}
}
