package main

import (
	"context"
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinical-scheduling/internal/appointment"
	"github.com/hackgods/clinical-scheduling/internal/audit"
	"github.com/hackgods/clinical-scheduling/internal/config"
	"github.com/hackgods/clinical-scheduling/internal/db"
	"github.com/hackgods/clinical-scheduling/internal/logging"
)

var reasons = []string{
	"Annual checkup",
	"Follow-up visit",
	"Vaccination",
	"Lab results review",
	"Prescription renewal",
	"Skin consultation",
	"Blood pressure check",
	"Physiotherapy session",
}

type seedPlan struct {
	tenants      int
	clinicians   int
	patients     int
	perClinician int
	days         int
}

func main() {
	cfg, err := config.Load()
	logger := logging.New(cfg.LogLevel, cfg.Env)
	if err != nil {
		logger.Fatal().Err(err).Msg("config load error")
	}
	if cfg.StorageDriver != config.StorageDriverPostgres {
		logger.Fatal().Str("storage", cfg.StorageDriver).Msg("seed requires STORAGE_DRIVER=postgres")
	}

	plan := seedPlan{
		tenants:      envInt("SEED_TENANTS", 3),
		clinicians:   envInt("SEED_CLINICIANS", 10),
		patients:     envInt("SEED_PATIENTS", 200),
		perClinician: envInt("SEED_APPOINTMENTS_PER_CLINICIAN", 40),
		days:         envInt("SEED_DAYS", 14),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	pool, err := db.ConnectPostgres(ctx, cfg)
	cancel()
	if err != nil {
		logger.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	auditor := audit.NewAuditor(audit.NewPgStore(pool), logger, nil, audit.Options{
		BufferSize:   cfg.AuditBufferSize,
		WriteTimeout: cfg.AuditWriteTimeout,
	})
	svc := appointment.NewService(appointment.NewPgRepository(pool), auditor, cfg, logger)

	gofakeit.Seed(time.Now().UnixNano())

	for t := 0; t < plan.tenants; t++ {
		tenantID := uuid.New()
		created, rejected, err := seedTenant(context.Background(), logger, svc, tenantID, plan)
		if err != nil {
			logger.Fatal().Err(err).Str("tenant_id", tenantID.String()).Msg("seed tenant")
		}
		logger.Info().
			Str("tenant_id", tenantID.String()).
			Int("created", created).
			Int("overlaps_rejected", rejected).
			Msg("tenant seeded")
	}

	closeCtx, cancelClose := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancelClose()
	if err := auditor.Close(closeCtx); err != nil {
		logger.Warn().Err(err).Msg("audit queue not fully drained")
	}

	logger.Info().Msg("seed complete")
}

// seedTenant books random visits during working hours. Overlapping picks are
// expected and counted, not treated as failures.
func seedTenant(ctx context.Context, logger zerolog.Logger, svc *appointment.Service, tenantID uuid.UUID, plan seedPlan) (int, int, error) {
	actorID := uuid.New()
	clinicians := newIDs(plan.clinicians)
	patients := newIDs(plan.patients)
	day0 := time.Now().UTC().Truncate(24 * time.Hour).Add(24 * time.Hour)

	var created, rejected int
	for _, clinicianID := range clinicians {
		for i := 0; i < plan.perClinician; i++ {
			start := day0.
				Add(time.Duration(gofakeit.Number(0, plan.days-1)) * 24 * time.Hour).
				Add(time.Duration(gofakeit.Number(8*4, 17*4)) * 15 * time.Minute)
			length := time.Duration(gofakeit.RandomInt([]int{15, 30, 45, 60})) * time.Minute
			reason := gofakeit.RandomString(reasons)
			location := "Room " + strconv.Itoa(gofakeit.Number(1, 12))

			_, err := svc.CreateAppointment(ctx, tenantID, actorID, appointment.CreateInput{
				PatientID:   patients[gofakeit.Number(0, len(patients)-1)],
				ClinicianID: clinicianID,
				StartsAt:    start,
				EndsAt:      start.Add(length),
				Location:    &location,
				Reason:      &reason,
			})
			switch {
			case err == nil:
				created++
			case errors.Is(err, appointment.ErrOverlap):
				rejected++
			default:
				return created, rejected, err
			}
		}
		logger.Debug().Str("clinician_id", clinicianID.String()).Int("created", created).Msg("clinician seeded")
	}

	return created, rejected, nil
}

func newIDs(n int) []uuid.UUID {
	if n < 1 {
		n = 1
	}
	ids := make([]uuid.UUID, n)
	for i := range ids {
		ids[i] = uuid.New()
	}
	return ids
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}
