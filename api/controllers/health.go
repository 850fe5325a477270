package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/recargas-app/recargas-backend/api/responses"
	"github.com/recargas-app/recargas-backend/pkg/config"
	"github.com/recargas-app/recargas-backend/pkg/db"
	pkgerrors "github.com/recargas-app/recargas-backend/pkg/errors"
	"github.com/recargas-app/recargas-backend/pkg/logger"
	"github.com/recargas-app/recargas-backend/pkg/redis"
)

const readinessTimeout = 5 * time.Second

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Recargas-Env", cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// HealthReady reports readiness only when every wired dependency answers a ping.
func HealthReady(cfg *config.Config, logg *logger.Logger, dbPinger db.Pinger, redisPinger redis.Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		defer cancel()

		w.Header().Set("X-Recargas-Env", cfg.App.Env)

		checks := map[string]string{}
		ready := true

		check := func(name string, ping func(context.Context) error) {
			if err := ping(ctx); err != nil {
				if logg != nil {
					logg.Error(ctx, name+" readiness check failed", err)
				}
				checks[name] = "down"
				ready = false
				return
			}
			checks[name] = "up"
		}

		if dbPinger != nil {
			check("db", dbPinger.Ping)
		}
		if redisPinger != nil {
			check("redis", redisPinger.Ping)
		}

		if !ready {
			err := pkgerrors.New(pkgerrors.CodeDependency, "dependency not ready").WithDetails(checks)
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"status": "ready", "checks": checks})
	}
}
